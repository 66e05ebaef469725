// Package faketransport provides an in-memory stand-in for the homeserver
// transport (pkg/transport.Homeserver), shared by pkg/member,
// pkg/groupcall and pkg/registry tests so none of them need a real
// maunium.net/go/mautrix client.
package faketransport

import (
	"context"
	"sync"

	"github.com/matrix-org/groupcall/pkg/groupcall"
	"github.com/matrix-org/groupcall/pkg/signalling"
)

// StateEvent records one SendState call.
type StateEvent struct {
	RoomID    signalling.RoomID
	EventType signalling.EventType
	StateKey  string
	Content   any
}

// ToDeviceMessage records one SendToDevice call.
type ToDeviceMessage struct {
	UserID    signalling.UserID
	DeviceID  signalling.DeviceID
	EventType signalling.EventType
	Content   any
}

// Transport is a mutex-guarded fake implementing the Homeserver interfaces
// of pkg/member, pkg/groupcall and pkg/registry.
type Transport struct {
	mu sync.Mutex

	StateEvents []StateEvent
	ToDevice    []ToDeviceMessage

	// TURNSettings is returned verbatim by QueryTURNSettings.
	TURNSettings groupcall.TURNSettings

	// SendStateErr/SendToDeviceErr/QueryTURNErr let tests inject failures.
	SendStateErr    error
	SendToDeviceErr error
	QueryTURNErr    error
}

func New() *Transport {
	return &Transport{}
}

func (t *Transport) SendState(ctx context.Context, roomID signalling.RoomID, eventType signalling.EventType, stateKey string, content any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendStateErr != nil {
		return t.SendStateErr
	}
	t.StateEvents = append(t.StateEvents, StateEvent{roomID, eventType, stateKey, content})
	return nil
}

func (t *Transport) SendToDevice(ctx context.Context, userID signalling.UserID, deviceID signalling.DeviceID, eventType signalling.EventType, content any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.SendToDeviceErr != nil {
		return t.SendToDeviceErr
	}
	t.ToDevice = append(t.ToDevice, ToDeviceMessage{userID, deviceID, eventType, content})
	return nil
}

func (t *Transport) QueryTURNSettings(ctx context.Context) (groupcall.TURNSettings, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.QueryTURNErr != nil {
		return groupcall.TURNSettings{}, t.QueryTURNErr
	}
	return t.TURNSettings, nil
}

// LastStateEvent returns the most recently recorded SendState call.
func (t *Transport) LastStateEvent() StateEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.StateEvents[len(t.StateEvents)-1]
}

// LastToDevice returns the most recently recorded SendToDevice call.
func (t *Transport) LastToDevice() ToDeviceMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ToDevice[len(t.ToDevice)-1]
}

func (t *Transport) StateEventCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.StateEvents)
}

func (t *Transport) ToDeviceCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ToDevice)
}
