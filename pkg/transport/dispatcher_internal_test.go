package transport

import (
	"context"
	"testing"

	"github.com/matrix-org/groupcall/pkg/groupcall"
	"github.com/matrix-org/groupcall/pkg/internal/fakewebrtc"
	"github.com/matrix-org/groupcall/pkg/internal/faketransport"
	"github.com/matrix-org/groupcall/pkg/member"
	"github.com/matrix-org/groupcall/pkg/registry"
	"github.com/matrix-org/groupcall/pkg/signalling"
	"github.com/matrix-org/groupcall/pkg/webrtcengine"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

func newFakeEngine() (webrtcengine.Engine, error) { return &fakewebrtc.Engine{}, nil }

func stateKey(s string) *string { return &s }

// newTestDispatcher builds a Dispatcher directly over a CallRegistry,
// bypassing NewDispatcher's mautrix.Client requirement: handleEvent and
// its helpers never touch d.client, only d.registry and d.logger, so this
// exercises the actual routing logic without a real homeserver connection.
func newTestDispatcher() (*Dispatcher, *registry.CallRegistry) {
	own := member.Identity{UserID: "@me:example.org", DeviceID: "A1", SessionID: "ownSess"}
	reg := registry.New(own, faketransport.New(), newFakeEngine, nil)
	return &Dispatcher{registry: reg, logger: logrus.NewEntry(logrus.New())}, reg
}

func TestHandleEventRoutesConferenceStateToRegistry(t *testing.T) {
	d, reg := newTestDispatcher()

	evt := &event.Event{
		Type:     event.Type{Type: string(signalling.EventConference), Class: event.StateEventType},
		RoomID:   id.RoomID("!room:example.org"),
		Sender:   id.UserID("@alice:example.org"),
		StateKey: stateKey("conf-1"),
		Content: event.Content{Raw: map[string]interface{}{
			"m.intent": "m.room",
			"m.type":   "m.video",
		}},
	}

	d.handleEvent(0, evt)

	call := reg.GroupCall(signalling.RoomID("!room:example.org"), "conf-1")
	require.NotNil(t, call)
}

func TestHandleEventSkipsUnrelatedStateEvents(t *testing.T) {
	d, reg := newTestDispatcher()

	evt := &event.Event{
		Type:     event.Type{Type: "m.room.name", Class: event.StateEventType},
		RoomID:   id.RoomID("!room:example.org"),
		StateKey: stateKey(""),
		Content:  event.Content{Raw: map[string]interface{}{"name": "hello"}},
	}

	d.handleEvent(0, evt)

	assert.Equal(t, 0, reg.Count())
}

func TestHandleEventRoutesMemberStateAndToDeviceMessageByConfID(t *testing.T) {
	d, reg := newTestDispatcher()
	roomID := signalling.RoomID("!room:example.org")

	confEvt := &event.Event{
		Type:     event.Type{Type: string(signalling.EventConference), Class: event.StateEventType},
		RoomID:   id.RoomID(roomID),
		StateKey: stateKey("conf-1"),
		Content: event.Content{Raw: map[string]interface{}{
			"m.intent": "m.room",
			"m.type":   "m.video",
		}},
	}
	d.handleEvent(0, confEvt)
	call := reg.GroupCall(roomID, "conf-1")
	require.NotNil(t, call)
	require.NoError(t, call.Join(context.Background(), groupcall.LocalMedia{}))

	memberEvt := &event.Event{
		Type:      event.Type{Type: string(signalling.EventMember), Class: event.StateEventType},
		RoomID:    id.RoomID(roomID),
		StateKey:  stateKey("@bob:example.org"),
		Timestamp: 10,
		Content: event.Content{Raw: map[string]interface{}{
			"m.calls": []interface{}{
				map[string]interface{}{
					"m.call_id": "conf-1",
					"m.devices": []interface{}{
						map[string]interface{}{"device_id": "B1", "session_id": "bobSess"},
					},
				},
			},
		}},
	}
	d.handleEvent(0, memberEvt)
	require.Equal(t, 1, call.MemberCount())

	inviteEvt := &event.Event{
		Type:   event.Type{Type: string(signalling.EventInvite), Class: event.ToDeviceEventType},
		Sender: id.UserID("@bob:example.org"),
		Content: event.Content{Raw: map[string]interface{}{
			"call_id":           "call-1",
			"conf_id":           "conf-1",
			"party_id":          "party-1",
			"device_id":         "B1",
			"sender_session_id": "bobSess",
			"dest_session_id":   "ownSess",
			"seq":               float64(1),
			"offer":             map[string]interface{}{"type": "offer", "sdp": "v=0"},
		}},
	}
	d.handleEvent(0, inviteEvt)

	m := call.Members()["@bob:example.org|B1"]
	require.NotNil(t, m)
	assert.NotNil(t, m.PeerCall())
}

func TestHandleEventDropsUnknownToDeviceEventType(t *testing.T) {
	d, reg := newTestDispatcher()

	evt := &event.Event{
		Type:   event.Type{Type: "m.some.unrelated.type", Class: event.ToDeviceEventType},
		Sender: id.UserID("@bob:example.org"),
		Content: event.Content{Raw: map[string]interface{}{
			"foo": "bar",
		}},
	}

	assert.NotPanics(t, func() { d.handleEvent(0, evt) })
	assert.Equal(t, 0, reg.Count())
}
