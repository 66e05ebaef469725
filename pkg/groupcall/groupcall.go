package groupcall

import (
	"context"
	"sync"
	"time"

	"github.com/matrix-org/groupcall/pkg/member"
	"github.com/matrix-org/groupcall/pkg/signalling"
	"github.com/matrix-org/groupcall/pkg/telemetry"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// bufferCap bounds the per-MemberKey buffer of to-device messages that
// arrived before their sender's Member exists (spec §4.D: "implementations
// must cap per-key buffer size (recommended: 64 messages) and drop the
// oldest beyond the cap, logging the drop").
const bufferCap = 64

type bufferedMessage struct {
	content any
	env     signalling.Envelope
}

// GroupCall owns the conference lifecycle and the Map<MemberKey, Member>
// for one conference in one room (spec §4.D).
type GroupCall struct {
	mu sync.Mutex

	logger     *logrus.Entry
	clock      Clock
	rpcTimeout time.Duration
	memberOpts []member.Option

	roomID signalling.RoomID
	confID string
	own    member.Identity

	intent     signalling.Intent
	callType   signalling.CallType
	name       string
	terminated bool

	state State

	members  map[signalling.MemberKey]*member.Member
	buffered map[signalling.MemberKey][]bufferedMessage

	localMedia     LocalMedia
	localMute      MuteSettings
	turnSettings   TURNSettings
	ownDeviceIndex int
	ownEventTS     int64

	homeserver Homeserver
	newEngine  EngineFactory
	callbacks  Callbacks
}

// Option configures optional GroupCall behaviour.
type Option func(*GroupCall)

// WithClock overrides the wall clock, for deterministic tests.
func WithClock(clock Clock) Option {
	return func(g *GroupCall) { g.clock = clock }
}

// WithRPCTimeout overrides the per-call homeserver RPC deadline (default
// defaultRPCTimeout), sourced from pkg/config's runtime.rpcTimeoutSeconds.
func WithRPCTimeout(d time.Duration) Option {
	return func(g *GroupCall) { g.rpcTimeout = d }
}

// WithMaxRetries overrides the retry bound every Member this GroupCall
// creates is given (default member.MaxRetries), sourced from pkg/config's
// runtime.maxRetries.
func WithMaxRetries(n int) Option {
	return func(g *GroupCall) { g.memberOpts = append(g.memberOpts, member.WithMaxRetries(n)) }
}

// WithICETimeout overrides the ICE connectivity deadline every PeerCall leg
// this GroupCall's Members create is given (default
// peercall.DefaultICETimeout), sourced from pkg/config's
// runtime.iceTimeoutSeconds.
func WithICETimeout(d time.Duration) Option {
	return func(g *GroupCall) { g.memberOpts = append(g.memberOpts, member.WithICETimeout(d)) }
}

// New constructs a GroupCall in the Fledgling state. For a call discovered
// via an existing conference state event, callers call
// ObserveConferenceState right after construction, which moves it to
// Created.
func New(roomID signalling.RoomID, confID string, own member.Identity, homeserver Homeserver, newEngine EngineFactory, callbacks Callbacks, logger *logrus.Entry, opts ...Option) *GroupCall {
	g := &GroupCall{
		logger:     newLogger(confID, logger),
		clock:      time.Now,
		rpcTimeout: defaultRPCTimeout,
		roomID:     roomID,
		confID:     confID,
		own:        own,
		state:      Fledgling,
		members:    make(map[signalling.MemberKey]*member.Member),
		buffered:   make(map[signalling.MemberKey][]bufferedMessage),
		homeserver: homeserver,
		newEngine:  newEngine,
		callbacks:  callbacks,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ConfID reports this GroupCall's conference_id.
func (g *GroupCall) ConfID() string { return g.confID }

// State reports the current lifecycle state.
func (g *GroupCall) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Terminated reports whether the conference state event carries
// m.terminated = true.
func (g *GroupCall) Terminated() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.terminated
}

// MemberCount reports the number of tracked Members, for tests and
// diagnostics.
func (g *GroupCall) MemberCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// Members returns a snapshot of the tracked Members keyed by their
// MemberKey's string form, for tests and diagnostics.
func (g *GroupCall) Members() map[string]*member.Member {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]*member.Member, len(g.members))
	for key, m := range g.members {
		out[key.String()] = m
	}
	return out
}

func (g *GroupCall) setState(newState State) {
	if g.state == newState {
		return
	}
	old := g.state
	g.state = newState
	if g.callbacks.OnStateChange != nil {
		g.callbacks.OnStateChange(old, newState)
	}
}

// Create transmits the initial conference state event and transitions
// Fledgling → Creating → Created (spec §4.D). Valid only from Fledgling.
func (g *GroupCall) Create(ctx context.Context, intent signalling.Intent, callType signalling.CallType, name string) error {
	t := telemetry.NewTelemetry(ctx, "groupcall.create", attribute.String("conf_id", g.confID))
	defer t.End()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != Fledgling {
		t.Fail(ErrInvalidState)
		return ErrInvalidState
	}

	g.intent = intent
	g.callType = callType
	g.name = name
	g.setState(Creating)

	content := &signalling.ConferenceContent{Intent: intent, Type: callType, Name: name}

	rpcCtx, cancel := context.WithTimeout(ctx, g.rpcTimeout)
	defer cancel()
	if err := g.homeserver.SendState(rpcCtx, g.roomID, signalling.EventConference, g.confID, content); err != nil {
		g.setState(Fledgling)
		t.Fail(err)
		return err
	}

	g.setState(Created)
	return nil
}

// ObserveConferenceState applies an inbound `m.call` state event, creating
// this GroupCall's notion of intent/type/name/terminated from room state
// rather than a local Create() call (the Registry's "first observation of
// a conference state event" path, spec §3's Lifecycle note).
func (g *GroupCall) ObserveConferenceState(content *signalling.ConferenceContent) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.intent = content.Intent
	g.callType = content.Type
	g.name = content.Name
	g.terminated = content.Terminated

	if g.state == Fledgling {
		g.setState(Created)
	}

	if g.terminated && !g.state.HasJoined() && len(g.members) == 0 {
		if g.callbacks.OnTerminated != nil {
			g.callbacks.OnTerminated()
		}
	}
}

// Join writes the own m.call.member state event, requests TURN settings,
// and calls connect() on every existing Member (spec §4.D). Valid only
// from Created. The transition to Joined itself happens when the own
// membership event is observed back via sync (ObserveOwnMembership).
func (g *GroupCall) Join(ctx context.Context, media LocalMedia) error {
	t := telemetry.NewTelemetry(ctx, "groupcall.join", attribute.String("conf_id", g.confID))
	defer t.End()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != Created {
		t.Fail(ErrInvalidState)
		return ErrInvalidState
	}

	g.localMedia = media
	g.setState(Joining)

	rpcCtx, cancel := context.WithTimeout(ctx, g.rpcTimeout)
	defer cancel()

	turn, err := g.homeserver.QueryTURNSettings(rpcCtx)
	if err != nil {
		g.logger.WithError(err).Warn("failed to query TURN settings, continuing without them")
	} else {
		g.turnSettings = turn
	}

	if err := g.sendOwnMembershipLocked(rpcCtx); err != nil {
		g.setState(Created)
		t.Fail(err)
		return err
	}

	for _, m := range g.members {
		if err := m.Connect(ctx, media.toPeerCallMedia()); err != nil {
			g.logger.WithError(err).Warn("failed to connect to existing member on join")
		}
	}

	return nil
}

// sendOwnMembershipLocked sends this device's own m.call.member state
// event. Real membership-event composition (merging with other conferences
// this user is a member of in the room) belongs to pkg/transport/registry
// wiring; here we send the single-conference view, which the Homeserver
// is responsible for merging with any existing state content.
func (g *GroupCall) sendOwnMembershipLocked(ctx context.Context) error {
	content := &signalling.MemberContent{
		Calls: []signalling.CallsEntry{{
			ConfID: g.confID,
			Devices: []signalling.DeviceEntry{{
				DeviceID:  g.own.DeviceID,
				SessionID: g.own.SessionID,
			}},
		}},
	}
	return g.homeserver.SendState(ctx, g.roomID, signalling.EventMember, string(g.own.UserID), content)
}

// ObserveOwnMembership transitions Joining → Joined once the own
// membership event round-trips back via sync, per spec §4.D's join()
// contract and the membership reconciliation rule's "own (user_id,
// device_id)" clause.
func (g *GroupCall) ObserveOwnMembership(deviceIndex int, eventTS int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ownDeviceIndex = deviceIndex
	g.ownEventTS = eventTS

	if g.state == Joining {
		g.setState(Joined)
	}
}

// Leave removes this device from the member state event, marks the
// conference terminated if intent is Ring and no other members remain,
// and disposes every Member (spec §4.D). Valid only while hasJoined.
func (g *GroupCall) Leave(ctx context.Context) error {
	t := telemetry.NewTelemetry(ctx, "groupcall.leave", attribute.String("conf_id", g.confID))
	defer t.End()

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.state.HasJoined() {
		t.Fail(ErrInvalidState)
		return ErrInvalidState
	}

	rpcCtx, cancel := context.WithTimeout(ctx, g.rpcTimeout)
	defer cancel()

	content := &signalling.MemberContent{}
	if err := g.homeserver.SendState(rpcCtx, g.roomID, signalling.EventMember, string(g.own.UserID), content); err != nil {
		g.logger.WithError(err).Warn("failed to clear own membership on leave")
	}

	if g.intent == signalling.IntentRing && len(g.members) == 0 {
		g.terminated = true
		conf := &signalling.ConferenceContent{Intent: g.intent, Type: g.callType, Name: g.name, Terminated: true}
		if err := g.homeserver.SendState(rpcCtx, g.roomID, signalling.EventConference, g.confID, conf); err != nil {
			g.logger.WithError(err).Warn("failed to mark conference terminated on leave")
		}
	}

	for key, m := range g.members {
		m.Dispose()
		delete(g.members, key)
	}
	g.buffered = make(map[signalling.MemberKey][]bufferedMessage)

	g.setState(Created)

	if g.terminated && g.callbacks.OnTerminated != nil {
		g.callbacks.OnTerminated()
	}

	return nil
}

// SetMedia fans the new local media out to every Member's set_media (spec
// §4.D). Only GroupCall may replace local_media (spec §5's shared-resource
// rule).
func (g *GroupCall) SetMedia(ctx context.Context, media LocalMedia) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.state.HasJoined() {
		return ErrInvalidState
	}

	g.localMedia = media
	for _, m := range g.members {
		if err := m.SetMedia(ctx, media.toPeerCallMedia()); err != nil {
			g.logger.WithError(err).Warn("failed to propagate media to member")
		}
	}
	return nil
}

// SetMuted updates local mute state, fanning out to every Member only if
// it actually changed (spec §4.D).
func (g *GroupCall) SetMuted(ctx context.Context, settings MuteSettings) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.state.HasJoined() {
		return ErrInvalidState
	}

	if settings == g.localMute {
		return nil
	}
	g.localMute = settings
	g.localMedia.AudioMuted = settings.AudioMuted
	g.localMedia.VideoMuted = settings.VideoMuted

	for _, m := range g.members {
		if err := m.SetMedia(ctx, g.localMedia.toPeerCallMedia()); err != nil {
			g.logger.WithError(err).Warn("failed to propagate mute state to member")
		}
	}
	return nil
}

// TURNSettings returns the cached TURN settings obtained at join time.
func (g *GroupCall) TURNSettings() TURNSettings {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.turnSettings
}
