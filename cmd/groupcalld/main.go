/*
Copyright 2022 The Matrix.org Foundation C.I.C.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/matrix-org/groupcall/pkg/config"
	"github.com/matrix-org/groupcall/pkg/groupcall"
	"github.com/matrix-org/groupcall/pkg/member"
	"github.com/matrix-org/groupcall/pkg/profiling"
	"github.com/matrix-org/groupcall/pkg/registry"
	"github.com/matrix-org/groupcall/pkg/signalling"
	"github.com/matrix-org/groupcall/pkg/telemetry"
	"github.com/matrix-org/groupcall/pkg/transport"
	"github.com/matrix-org/groupcall/pkg/webrtcengine"
	"github.com/sirupsen/logrus"
)

func main() {
	// Parse command line flags.
	var (
		configFilePath = flag.String("config", "config.yaml", "configuration file path")
		cpuProfile     = flag.String("cpuProfile", "", "write CPU profile to `file`")
		memProfile     = flag.String("memProfile", "", "write memory profile to `file`")
	)
	flag.Parse()

	// Initialize logging subsystem (formatting, global logging framework etc).
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})

	// Define functions that are called before exiting.
	// This is useful to stop the profiler if it's enabled.
	deferredFunctions := []func(){}
	if *cpuProfile != "" {
		deferredFunctions = append(deferredFunctions, profiling.InitCPUProfiling(cpuProfile))
	}
	if *memProfile != "" {
		deferredFunctions = append(deferredFunctions, profiling.InitMemoryProfiling(memProfile))
	}

	// Handle signal interruptions.
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		for _, function := range deferredFunctions {
			function()
		}
		os.Exit(0)
	}()

	// Load the config file from the environment variable or path.
	cfg, err := config.LoadConfig(*configFilePath)
	if err != nil {
		logrus.WithError(err).Fatal("could not load config")
		return
	}

	switch cfg.LogLevel {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	case "fatal":
		logrus.SetLevel(logrus.FatalLevel)
	case "panic":
		logrus.SetLevel(logrus.PanicLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	if cfg.Telemetry != nil {
		if _, err := telemetry.SetupTelemetry(*cfg.Telemetry); err != nil {
			logrus.WithError(err).Warn("failed to set up telemetry, continuing without it")
		}
	}

	client, err := transport.Connect(cfg.Matrix)
	if err != nil {
		logrus.WithError(err).Fatal("could not connect to homeserver")
		return
	}

	engineFactory, err := webrtcengine.NewFactory(webrtcengine.Config{PublicIP: cfg.WebRTC.PublicIP})
	if err != nil {
		logrus.WithError(err).Fatal("could not initialize webrtc engine")
		return
	}
	newEngine := func() (webrtcengine.Engine, error) { return engineFactory.New() }

	homeserver := transport.New(client, transport.PassthroughEncrypter{}, logrus.NewEntry(logrus.StandardLogger()))

	own := member.Identity{
		UserID:    client.UserID,
		DeviceID:  client.DeviceID,
		SessionID: signalling.NewSessionID(),
	}

	reg := registry.New(
		own,
		homeserver,
		newEngine,
		logrus.NewEntry(logrus.StandardLogger()),
		groupcall.WithRPCTimeout(cfg.Runtime.RPCTimeout()),
		groupcall.WithMaxRetries(cfg.Runtime.MaxRetries),
		groupcall.WithICETimeout(cfg.Runtime.ICETimeout()),
	)

	dispatcher := transport.NewDispatcher(client, reg, logrus.NewEntry(logrus.StandardLogger()))

	// Start the Matrix sync loop. This call blocks until the sync fails.
	if err := dispatcher.Run(); err != nil {
		logrus.WithError(err).Fatal("sync failed")
	}
}
