package transport

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"maunium.net/go/mautrix"
)

// Connect authenticates against the homeserver and verifies the access
// token actually belongs to config.UserID, the same sanity check the
// teacher's signaling.NewMatrixClient performs — generalized to return an
// error instead of calling logrus.Fatal, since this is a library used by
// more than one binary's main.
func Connect(config Config) (*mautrix.Client, error) {
	client, err := mautrix.NewClient(config.HomeserverURL, config.UserID, config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("transport: create client: %w", err)
	}

	whoami, err := client.Whoami()
	if err != nil {
		return nil, fmt.Errorf("transport: whoami: %w", err)
	}
	if whoami.UserID != config.UserID {
		return nil, fmt.Errorf("transport: access token belongs to %s, not %s", whoami.UserID, config.UserID)
	}

	client.DeviceID = whoami.DeviceID
	logrus.WithField("device_id", whoami.DeviceID).Info("connected to homeserver")

	return client, nil
}
