package telemetry

// Config configures where span data for the signalling core is exported to.
type Config struct {
	// The URL to the Jaeger instance. Ignored when OTLP.Host is set.
	JaegerURL string `yaml:"jaegerUrl"`
	// OTLP/HTTP exporter settings, preferred over Jaeger when both are set.
	OTLP OTLP `yaml:"otlp"`
	// The package name to use for the telemetry (service.name resource attribute).
	Package string `yaml:"package"`
	// ID of the service instance (e.g. the device ID of this client).
	ID string `yaml:"id"`
}

// OTLP is the configuration for the OTLP/HTTP span exporter.
type OTLP struct {
	// Host (and optional port) of the OTLP collector, without scheme or path.
	Host string `yaml:"host"`
	// Whether to use TLS when talking to the collector.
	Secure bool `yaml:"secure"`
}
