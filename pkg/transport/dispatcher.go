package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/matrix-org/groupcall/pkg/registry"
	"github.com/matrix-org/groupcall/pkg/signalling"
	"github.com/sirupsen/logrus"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
)

// pruneInterval is how often Run sweeps the registry for GroupCalls whose
// grace window has elapsed. It has no particular relationship to the
// grace window itself beyond being comfortably shorter than it.
const pruneInterval = 10 * time.Second

// Dispatcher wires a mautrix sync loop into a CallRegistry, generalizing
// the teacher's MatrixClient.RunSyncing + pkg/routing.Router.
// handleMatrixEvent: the teacher's router only ever saw to-device traffic
// (the SFU never joins a call itself, so it has no use for `m.call`/
// `m.call.member` state), so this widens the same catch-all OnEvent
// dispatch to also recognize the two state event kinds.
type Dispatcher struct {
	client   *mautrix.Client
	registry *registry.CallRegistry
	logger   *logrus.Entry
}

// NewDispatcher builds a Dispatcher over an already-connected client
// (see Connect) and a CallRegistry it will feed.
func NewDispatcher(client *mautrix.Client, reg *registry.CallRegistry, logger *logrus.Entry) *Dispatcher {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{client: client, registry: reg, logger: logger}
}

// Run installs the event handler and blocks in the sync loop until it
// fails or is stopped via the underlying client's StopSync.
func (d *Dispatcher) Run() error {
	syncer, ok := d.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("transport: syncer is not the default syncer")
	}

	syncer.ParseEventContent = true
	syncer.OnEvent(d.handleEvent)

	stop := make(chan struct{})
	defer close(stop)
	go d.prunePeriodically(stop)

	if err := d.client.Sync(); err != nil {
		return fmt.Errorf("transport: sync: %w", err)
	}
	return nil
}

func (d *Dispatcher) prunePeriodically(stop <-chan struct{}) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			d.registry.Prune(now)
		}
	}
}

func (d *Dispatcher) handleEvent(_ mautrix.EventSource, evt *event.Event) {
	switch {
	case evt.Type.Class == event.StateEventType && evt.Type.Type == string(signalling.EventConference):
		d.handleConferenceState(evt)
	case evt.Type.Class == event.StateEventType && evt.Type.Type == string(signalling.EventMember):
		d.handleMemberState(evt)
	case evt.Type.Class == event.ToDeviceEventType:
		d.handleToDevice(evt)
	}
}

func (d *Dispatcher) handleConferenceState(evt *event.Event) {
	body, err := json.Marshal(evt.Content.Raw)
	if err != nil {
		d.logger.WithError(err).Warn("failed to re-marshal m.call state event content")
		return
	}
	content, err := signalling.DecodeConference(body)
	if err != nil {
		d.logger.WithError(err).Warn("failed to decode m.call state event")
		return
	}

	confID := evt.GetStateKey()
	d.registry.ObserveConferenceState(signalling.RoomID(evt.RoomID), confID, content)
}

func (d *Dispatcher) handleMemberState(evt *event.Event) {
	body, err := json.Marshal(evt.Content.Raw)
	if err != nil {
		d.logger.WithError(err).Warn("failed to re-marshal m.call.member state event content")
		return
	}
	content, err := signalling.DecodeMember(body)
	if err != nil {
		d.logger.WithError(err).Warn("failed to decode m.call.member state event")
		return
	}

	userID := signalling.UserID(evt.GetStateKey())
	d.registry.ObserveMemberState(signalling.RoomID(evt.RoomID), userID, content, evt.Timestamp)
}

func (d *Dispatcher) handleToDevice(evt *event.Event) {
	eventType := signalling.EventType(evt.Type.Type)

	body, err := json.Marshal(evt.Content.Raw)
	if err != nil {
		d.logger.WithError(err).Warn("failed to re-marshal to-device event content")
		return
	}

	content, err := signalling.DecodeTolerant(eventType, body)
	if err != nil {
		d.logger.WithError(err).WithField("type", evt.Type.Type).Warn("failed to decode to-device event")
		return
	}
	if _, unknown := content.(*signalling.UnknownContent); unknown {
		d.logger.WithField("type", evt.Type.Type).Debug("ignoring to-device event of unrecognized type")
		return
	}

	env, ok := signalling.EnvelopeOf(content)
	if !ok {
		return
	}

	deviceID := env.DeviceID
	d.registry.HandleDeviceMessage(content, signalling.UserID(evt.Sender), deviceID)
}
