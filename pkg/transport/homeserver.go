package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matrix-org/groupcall/pkg/groupcall"
	"github.com/matrix-org/groupcall/pkg/signalling"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// sendAttempts bounds the attempts a single RPC gets, the first try
// included (spec §7: "retries with backoff up to 3 attempts").
const sendAttempts = 3

// Homeserver implements groupcall.Homeserver (and, via its SendToDevice
// method alone, member.Transport) against a real Matrix homeserver using
// maunium.net/go/mautrix. It generalizes the teacher's
// signaling.MatrixForConference from a fixed `sfu` session_id and
// hand-written per-event-type methods (SendSDPAnswer, SendHangup, ...)
// into the generic (event type, content) pair pkg/signalling already
// knows how to encode, since this device plays every role a leg can take
// rather than always being the answering SFU focus.
type Homeserver struct {
	client    *mautrix.Client
	logger    *logrus.Entry
	encrypter Encrypter
}

// New wraps an already-connected mautrix.Client (see Connect). encrypter
// may be nil, in which case PassthroughEncrypter is used.
func New(client *mautrix.Client, encrypter Encrypter, logger *logrus.Entry) *Homeserver {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if encrypter == nil {
		encrypter = PassthroughEncrypter{}
	}
	return &Homeserver{client: client, encrypter: encrypter, logger: logger}
}

func (h *Homeserver) SendState(ctx context.Context, roomID signalling.RoomID, eventType signalling.EventType, stateKey string, content any) error {
	return h.withRetry(ctx, "send_state", func() error {
		_, err := h.client.SendStateEvent(id.RoomID(roomID), event.Type{Type: string(eventType), Class: event.StateEventType}, stateKey, content)
		return err
	})
}

// SendToDevice encrypts content via the injected Encrypter (spec §6's
// suspension point (c)) before handing it to the homeserver. To-device
// messages carry no room_id (Matrix's to-device transport has no room
// context), so the Encrypter is invoked with an empty RoomID; it exists
// for the signalling interface this package exposes, not because any
// current Encrypter implementation needs one.
func (h *Homeserver) SendToDevice(ctx context.Context, userID signalling.UserID, deviceID signalling.DeviceID, eventType signalling.EventType, content any) error {
	encrypted, err := h.encrypter.Encrypt(ctx, "", userID, deviceID, content)
	if err != nil {
		return fmt.Errorf("transport: encrypt to-device message: %w", err)
	}

	return h.withRetry(ctx, "send_to_device", func() error {
		req := &mautrix.ReqSendToDevice{
			Messages: map[id.UserID]map[id.DeviceID]*event.Content{
				id.UserID(userID): {
					id.DeviceID(deviceID): {Parsed: encrypted.Payload},
				},
			},
		}
		_, err := h.client.SendToDevice(event.Type{Type: string(eventType), Class: event.ToDeviceEventType}, req)
		return err
	})
}

// QueryTURNSettings asks the homeserver for the client's recommended TURN
// servers. Acquiring and refreshing the actual credentials behind them is
// explicitly out of scope (spec's Non-goals name "TURN credential
// acquisition"); this just forwards whatever the homeserver hands back.
func (h *Homeserver) QueryTURNSettings(ctx context.Context) (groupcall.TURNSettings, error) {
	var resp *mautrix.RespTurnServer
	err := h.withRetry(ctx, "query_turn_settings", func() error {
		var rpcErr error
		resp, rpcErr = h.client.TurnServer()
		return rpcErr
	})
	if err != nil {
		return groupcall.TURNSettings{}, fmt.Errorf("transport: query turn settings: %w", err)
	}

	servers := make([]webrtc.ICEServer, 0, len(resp.URIs))
	for _, uri := range resp.URIs {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{uri},
			Username:   resp.Username,
			Credential: resp.Password,
		})
	}
	return groupcall.TURNSettings{ICEServers: servers}, nil
}

func (h *Homeserver) withRetry(ctx context.Context, op string, fn func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(newRPCBackoff(), sendAttempts-1), ctx)
	err := backoff.RetryNotify(fn, b, func(err error, delay time.Duration) {
		h.logger.WithError(err).WithField("op", op).WithField("retry_in", delay).Warn("homeserver RPC failed, retrying")
	})
	return err
}

func newRPCBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0
	return b
}
