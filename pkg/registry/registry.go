// Package registry implements CallRegistry (spec §4.E): the top-level
// dispatcher that owns every GroupCall in every room this device has
// synced, fans inbound room-state and to-device events out to the right
// one, and creates a GroupCall the first time its conference is observed —
// directly generalized from the teacher's Router, which kept a flat
// map[string]*conferenceStage keyed by conference_id and created a new
// conference the first time an invite named one it didn't know about.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/matrix-org/groupcall/pkg/groupcall"
	"github.com/matrix-org/groupcall/pkg/member"
	"github.com/matrix-org/groupcall/pkg/signalling"
	"github.com/sirupsen/logrus"
)

// graceWindow is how long a terminated GroupCall's entry is kept around
// purely so late-arriving to-device messages for it can be found and
// dropped quietly, instead of logged as referencing an unknown conference
// (spec §4.E).
const graceWindow = 30 * time.Second

// entry wraps one tracked GroupCall with the bookkeeping the Registry
// needs that doesn't belong on GroupCall itself.
type entry struct {
	call         *groupcall.GroupCall
	terminatedAt time.Time // zero while the conference is still live
}

func (e *entry) graced() bool {
	return !e.terminatedAt.IsZero()
}

func (e *entry) expired(now time.Time) bool {
	return !e.terminatedAt.IsZero() && now.Sub(e.terminatedAt) > graceWindow
}

// CallRegistry is the single top-level owner of every GroupCall this
// device is party to, across every room (spec §4.E).
type CallRegistry struct {
	mu sync.Mutex

	logger *logrus.Entry
	clock  func() time.Time

	own        member.Identity
	homeserver groupcall.Homeserver
	newEngine  groupcall.EngineFactory

	// OnGroupCall, if set, is invoked with every GroupCall the Registry
	// creates. The Registry supplies each GroupCall's groupcall.Callbacks
	// itself and sets only OnTerminated, so OnStateChange is not delivered
	// to an owning layer through this hook.
	OnGroupCall func(call *groupcall.GroupCall)

	// conferences indexes every tracked GroupCall by (room_id,
	// conference_id), the natural key for inbound room-state events.
	conferences map[signalling.RoomID]map[string]*entry

	// byConfID is a flat index of the same entries keyed by conference_id
	// alone. To-device messages never carry a room_id (Matrix's to-device
	// transport has no room context), so routing one can only use the
	// conf_id it carries in its envelope (spec §4.E: "it looks up the
	// referenced conf_id and forwards").
	byConfID map[string]*entry

	// callOpts is forwarded to every groupcall.New call, so the Registry's
	// owner (cmd/groupcalld, via pkg/config's runtime knobs) can tune every
	// GroupCall's RPC deadline from one place.
	callOpts []groupcall.Option
}

// New constructs an empty CallRegistry for own, the local device's
// identity shared by every GroupCall it creates. callOpts, if given, is
// forwarded to every groupcall.New call this Registry makes (e.g.
// groupcall.WithRPCTimeout sourced from pkg/config's runtime knobs).
func New(own member.Identity, homeserver groupcall.Homeserver, newEngine groupcall.EngineFactory, logger *logrus.Entry, callOpts ...groupcall.Option) *CallRegistry {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &CallRegistry{
		logger:      logger,
		clock:       time.Now,
		own:         own,
		homeserver:  homeserver,
		newEngine:   newEngine,
		conferences: make(map[signalling.RoomID]map[string]*entry),
		byConfID:    make(map[string]*entry),
		callOpts:    callOpts,
	}
}

// SetClock overrides the wall clock used to stamp grace-window expiry, for
// deterministic tests.
func (r *CallRegistry) SetClock(clock func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = clock
}

// GroupCall returns the tracked GroupCall for (roomID, confID), or nil if
// none exists (including one that has aged out of its grace window).
func (r *CallRegistry) GroupCall(roomID signalling.RoomID, confID string) *groupcall.GroupCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.lookupLocked(roomID, confID)
	if e == nil {
		return nil
	}
	return e.call
}

func (r *CallRegistry) lookupLocked(roomID signalling.RoomID, confID string) *entry {
	room, ok := r.conferences[roomID]
	if !ok {
		return nil
	}
	return room[confID]
}

// ObserveConferenceState applies an inbound `m.call` state event, creating
// the GroupCall on first observation of its conference_id (the Registry's
// analogue of the teacher's "only an Invite may create a conference" rule,
// adapted to state-keyed conference events rather than to-device invites).
func (r *CallRegistry) ObserveConferenceState(roomID signalling.RoomID, confID string, content *signalling.ConferenceContent) *groupcall.GroupCall {
	r.mu.Lock()

	e := r.lookupLocked(roomID, confID)
	if e == nil {
		call := r.newGroupCallLocked(roomID, confID)
		e = &entry{call: call}
		r.storeLocked(roomID, confID, e)
	}
	call := e.call
	r.mu.Unlock()

	call.ObserveConferenceState(content)
	return call
}

// Create starts a locally initiated conference, registering it with the
// Registry before transmitting its initial state event.
func (r *CallRegistry) Create(ctx context.Context, roomID signalling.RoomID, confID string, intent signalling.Intent, callType signalling.CallType, name string) (*groupcall.GroupCall, error) {
	r.mu.Lock()
	call := r.newGroupCallLocked(roomID, confID)
	r.storeLocked(roomID, confID, &entry{call: call})
	r.mu.Unlock()

	if err := call.Create(ctx, intent, callType, name); err != nil {
		return nil, err
	}
	return call, nil
}

func (r *CallRegistry) newGroupCallLocked(roomID signalling.RoomID, confID string) *groupcall.GroupCall {
	callbacks := groupcall.Callbacks{
		OnTerminated: func() { r.markTerminated(roomID, confID) },
	}
	call := groupcall.New(roomID, confID, r.own, r.homeserver, r.newEngine, callbacks, r.logger, r.callOpts...)
	if r.OnGroupCall != nil {
		r.OnGroupCall(call)
	}
	return call
}

func (r *CallRegistry) storeLocked(roomID signalling.RoomID, confID string, e *entry) {
	room, ok := r.conferences[roomID]
	if !ok {
		room = make(map[string]*entry)
		r.conferences[roomID] = room
	}
	room[confID] = e
	r.byConfID[confID] = e
}

// markTerminated starts a tracked GroupCall's grace window, invoked via
// its OnTerminated callback once it has confirmed it has no local
// resources left to hold the conference open for.
func (r *CallRegistry) markTerminated(roomID signalling.RoomID, confID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.lookupLocked(roomID, confID); e != nil {
		e.terminatedAt = r.clock()
	}
}

// ObserveMemberState fans one user's `m.call.member` state event out to
// every conference it references in this room (spec §4.E: "a single
// membership event must be fanned out to every GroupCall it names").
// Conferences it references that the Registry has never seen a conference
// state event for are skipped and logged, since a membership event alone
// never creates a GroupCall.
func (r *CallRegistry) ObserveMemberState(roomID signalling.RoomID, userID signalling.UserID, content *signalling.MemberContent, eventTS int64) {
	for _, callEntry := range content.Calls {
		r.mu.Lock()
		e := r.lookupLocked(roomID, callEntry.ConfID)
		r.mu.Unlock()

		if e == nil {
			r.logger.WithFields(logrus.Fields{
				"room_id": string(roomID),
				"conf_id": callEntry.ConfID,
				"user_id": string(userID),
			}).Debug("ignoring membership for a conference we have not observed a state event for")
			continue
		}

		e.call.UpdateMembership(userID, callEntry.Devices, eventTS)
	}
}

// HandleDeviceMessage routes one inbound to-device message to the
// GroupCall named by its conf_id, or drops it quietly if that conference
// is unknown or has aged out of its grace window (spec §4.E). To-device
// messages carry no room_id, so this dispatch is keyed by conf_id alone.
func (r *CallRegistry) HandleDeviceMessage(content any, userID signalling.UserID, deviceID signalling.DeviceID) {
	env, ok := signalling.EnvelopeOf(content)
	if !ok {
		r.logger.Warn("dropping to-device message of unrecognized type")
		return
	}

	r.mu.Lock()
	e := r.byConfID[env.ConfID]
	now := r.clock()
	var graced bool
	if e != nil {
		graced = e.graced()
	}
	r.mu.Unlock()

	if e == nil {
		r.logger.WithField("conf_id", env.ConfID).Debug("dropping to-device message for an unknown conference")
		return
	}

	if graced {
		r.logger.WithFields(logrus.Fields{"conf_id": env.ConfID, "age": now.String()}).
			Debug("dropping to-device message for a conference already in its grace window")
		return
	}

	e.call.HandleDeviceMessage(content, userID, deviceID)
}

// Prune drops every tracked GroupCall whose grace window has elapsed.
// pkg/transport's Dispatcher calls this periodically from a ticker
// goroutine started by Dispatcher.Run; the Registry
// never schedules its own timer, consistent with spec §5's preference for
// an explicitly driven cooperative task over hidden background
// goroutines.
func (r *CallRegistry) Prune(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID, room := range r.conferences {
		for confID, e := range room {
			if e.expired(now) {
				delete(room, confID)
				delete(r.byConfID, confID)
			}
		}
		if len(room) == 0 {
			delete(r.conferences, roomID)
		}
	}
}

// Count reports the number of tracked GroupCalls, including ones in their
// grace window, across every room. For tests and diagnostics.
func (r *CallRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byConfID)
}
