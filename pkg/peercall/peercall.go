package peercall

import (
	"context"
	"sync"
	"time"

	"github.com/matrix-org/groupcall/pkg/common"
	"github.com/matrix-org/groupcall/pkg/signalling"
	"github.com/matrix-org/groupcall/pkg/webrtcengine"
	"github.com/sirupsen/logrus"
)

// DefaultICETimeout bounds the Connecting state, per spec §5's recommended
// 30s ICE connectivity timeout.
const DefaultICETimeout = 30 * time.Second

// PeerCall is the state machine for one leg: own device to exactly one
// remote device, as spec'd in §4.B. It wraps a webrtcengine.Engine and
// never talks to the homeserver or crypto layers directly.
type PeerCall struct {
	mu sync.Mutex

	logger     *logrus.Entry
	engine     webrtcengine.Engine
	clock      func() time.Time
	iceTimeout time.Duration
	iceWatchdog *common.WatchdogChannel

	callID          string
	opponentPartyID string
	ownPartyID      string

	direction Direction
	state     State
	// polite is true when this side is the *receiver* under the initial
	// initiator-selection rule (spec §4.C) — the Perfect-Negotiation
	// polite role, which rolls back on collision instead of ignoring it.
	polite bool

	localMediaSet     bool
	remoteSDPApplied  bool
	hangupReason      signalling.HangupReason
	lastSDPMetadata   signalling.SDPStreamMetadata
	lastInboundSeq    uint32
	pendingCandidates []signalling.Candidate // awaiting remote description (outbound side)
	bufferedCandidates []signalling.Candidate // received before we can apply them

	callbacks Callbacks
}

// Option customizes a PeerCall at construction, primarily for tests.
type Option func(*PeerCall)

// WithClock overrides the wall clock, used in tests that need determinism.
func WithClock(clock func() time.Time) Option {
	return func(p *PeerCall) { p.clock = clock }
}

// WithICETimeout overrides how long the Connecting state may persist before
// this leg is failed (default DefaultICETimeout), sourced from pkg/config's
// runtime.iceTimeoutSeconds.
func WithICETimeout(d time.Duration) Option {
	return func(p *PeerCall) { p.iceTimeout = d }
}

// NewOutgoing creates a PeerCall that will, once Call is invoked, send the
// initial Invite. polite must be computed by the caller (Member) from the
// initiator-selection rule in spec §4.C.
func NewOutgoing(callID, ownPartyID string, polite bool, engine webrtcengine.Engine, callbacks Callbacks, logger *logrus.Entry, opts ...Option) *PeerCall {
	p := newPeerCall(callID, ownPartyID, Outgoing, polite, engine, callbacks, logger)
	for _, opt := range opts {
		opt(p)
	}
	p.wireEngine()
	return p
}

// NewIncoming creates a PeerCall from a just-received Invite, transitioning
// directly to Ringing (spec §4.B's Incoming branch of the diagram).
func NewIncoming(invite *signalling.InviteContent, ownPartyID string, polite bool, engine webrtcengine.Engine, callbacks Callbacks, logger *logrus.Entry, opts ...Option) *PeerCall {
	p := newPeerCall(invite.CallID, ownPartyID, Incoming, polite, engine, callbacks, logger)
	for _, opt := range opts {
		opt(p)
	}
	p.wireEngine()

	p.opponentPartyID = invite.PartyID
	p.setState(Ringing)
	if err := p.engine.SetRemoteDescription(context.Background(), webrtcengine.SessionDescription{
		Type: webrtcengine.SDPTypeOffer, SDP: invite.Offer.SDP,
	}); err != nil {
		p.logger.WithError(err).Error("failed to apply incoming offer")
		p.endLocked(signalling.HangupUnknownError)
		return p
	}
	p.remoteSDPApplied = true
	p.lastSDPMetadata = invite.SDPStreamMetadata
	p.flushBufferedCandidatesLocked()

	return p
}

func newPeerCall(callID, ownPartyID string, direction Direction, polite bool, engine webrtcengine.Engine, callbacks Callbacks, logger *logrus.Entry) *PeerCall {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &PeerCall{
		logger:     logger.WithField("call_id", callID).WithField("direction", direction.String()),
		engine:     engine,
		clock:      time.Now,
		iceTimeout: DefaultICETimeout,
		callID:     callID,
		ownPartyID: ownPartyID,
		direction:  direction,
		state:      Fledgling,
		polite:     polite,
		callbacks:  callbacks,
	}
}

func (p *PeerCall) wireEngine() {
	p.engine.OnICECandidate(func(candidate *webrtcengine.ICECandidate) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.onLocalICECandidateLocked(candidate)
	})
	p.engine.OnNegotiationNeeded(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.onNegotiationNeededLocked()
	})
	p.engine.OnConnectionStateChange(func(state webrtcengine.ConnectionState) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.onConnectionStateChangeLocked(state)
	})
}

// CallID returns this leg's identity, stable until Ended per invariant 2.
func (p *PeerCall) CallID() string {
	return p.callID
}

// State returns the current state, safe to call from any goroutine.
func (p *PeerCall) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Direction reports whether this leg is Outgoing or Incoming.
func (p *PeerCall) Direction() Direction {
	return p.direction
}

// HangupReason reports the reason this leg ended, meaningful once
// State() == Ended.
func (p *PeerCall) HangupReason() signalling.HangupReason {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hangupReason
}

// Call installs local media and begins negotiation. Only valid from
// Fledgling on an Outgoing leg; repeated invocation is a no-op (spec §4.B).
func (p *PeerCall) Call(ctx context.Context, media Media) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.direction != Outgoing {
		return ErrInvalidTransition
	}
	if p.state != Fledgling {
		return nil // idempotent per spec
	}

	if err := p.engine.SetLocalMedia(toEngineMedia(media)); err != nil {
		return err
	}
	p.localMediaSet = true
	p.setState(CreateOffer)

	return p.negotiateLocked(ctx)
}

// Answer installs local media, produces an SDP answer and sends it,
// transitioning CreateAnswer -> Connecting. Only valid from Ringing.
func (p *PeerCall) Answer(ctx context.Context, media Media) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Ringing {
		return ErrInvalidTransition
	}

	if err := p.engine.SetLocalMedia(toEngineMedia(media)); err != nil {
		return err
	}
	p.localMediaSet = true
	p.setState(CreateAnswer)

	answer, err := p.engine.CreateAnswer(ctx)
	if err != nil {
		p.failLocked(err)
		return err
	}
	if err := p.engine.SetLocalDescription(ctx, answer); err != nil {
		p.failLocked(err)
		return err
	}

	p.callbacks.send(OutboundMessage{
		Type: signalling.EventAnswer,
		Content: &signalling.AnswerContent{
			Envelope: signalling.Envelope{CallID: p.callID, PartyID: p.ownPartyID},
			Answer:   signalling.SDP{Type: "answer", SDP: answer.SDP},
		},
	})

	p.setState(Connecting)
	p.startICEWatchdogLocked()
	p.flushPendingOutboundCandidatesLocked()

	return nil
}

// SetMedia replaces local tracks. In Connecting or Connected it always
// starts a renegotiation round via the same path as onNegotiationNeeded;
// it does not compare against the previous media, so a mute-only change
// renegotiates as well.
func (p *PeerCall) SetMedia(ctx context.Context, media Media) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Ended {
		return ErrInvalidTransition
	}

	if err := p.engine.SetLocalMedia(toEngineMedia(media)); err != nil {
		return err
	}

	if p.state == Connected || p.state == Connecting {
		return p.negotiateLocked(ctx)
	}
	return nil
}

// Hangup is valid in any non-Ended state; emits Hangup(reason) and disposes
// the engine.
func (p *PeerCall) Hangup(reason signalling.HangupReason) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Ended {
		return ErrInvalidTransition
	}

	p.callbacks.send(OutboundMessage{
		Type: signalling.EventHangup,
		Content: &signalling.HangupContent{
			Envelope: signalling.Envelope{CallID: p.callID, PartyID: p.ownPartyID},
			Reason:   reason,
		},
	})
	p.endLocked(reason)
	return nil
}

// Close is a local-only termination: no Hangup is emitted, used when the
// peer is already known to be gone.
func (p *PeerCall) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Ended {
		return
	}
	p.endLocked(signalling.HangupUserHangup)
}

func (p *PeerCall) endLocked(reason signalling.HangupReason) {
	old := p.state
	p.state = Ended
	p.hangupReason = reason
	p.stopICEWatchdogLocked()
	if p.engine != nil {
		if err := p.engine.Close(); err != nil {
			p.logger.WithError(err).Warn("error closing webrtc engine")
		}
	}
	p.callbacks.stateChange(old, Ended)
	p.callbacks.ended(reason)
}

// startICEWatchdogLocked bounds the Connecting state to iceTimeout (spec
// §5's recommended 30s ICE connectivity timeout), failing the leg if the
// engine never reports StateConnected in time.
func (p *PeerCall) startICEWatchdogLocked() {
	p.stopICEWatchdogLocked()
	watchdog := &common.WatchdogConfig{
		Timeout: p.iceTimeout,
		OnTimeout: func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.state == Connecting {
				p.logger.WithField("timeout", p.iceTimeout).Warn("ice connectivity timed out")
				p.endLocked(signalling.HangupICETimeout)
			}
		},
	}
	p.iceWatchdog = watchdog.Start()
}

func (p *PeerCall) stopICEWatchdogLocked() {
	if p.iceWatchdog != nil {
		p.iceWatchdog.Close()
		p.iceWatchdog = nil
	}
}

func (p *PeerCall) failLocked(err error) {
	p.logger.WithError(err).Error("fatal webrtc engine error")
	p.endLocked(signalling.HangupUnknownError)
}

func (p *PeerCall) setState(newState State) {
	old := p.state
	p.state = newState
	p.callbacks.stateChange(old, newState)
}

func toEngineMedia(m Media) webrtcengine.MediaDescriptor {
	return webrtcengine.MediaDescriptor{AudioMuted: m.AudioMuted, VideoMuted: m.VideoMuted, TrackIDs: m.TrackIDs}
}
