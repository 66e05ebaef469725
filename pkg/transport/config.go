package transport

import "maunium.net/go/mautrix/id"

// Config configures the Matrix client connection this device's transport
// rides on, generalized from the teacher's signaling.Config (a single
// fixed SFU-wide account) to any device's own homeserver session.
type Config struct {
	// UserID is this device's Matrix ID.
	UserID id.UserID `yaml:"userId"`
	// HomeserverURL is the homeserver this device talks to.
	HomeserverURL string `yaml:"homeserverUrl"`
	// AccessToken authenticates the Matrix SDK client.
	AccessToken string `yaml:"accessToken"`
}
