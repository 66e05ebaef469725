// Package member implements Member (spec §4.C): the owner of at most one
// PeerCall per remote (user_id, device_id), responsible for initiator
// selection, retry policy, and stamping the outbound signalling envelope
// with conference/session identifiers before handing messages to the
// homeserver transport.
package member

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matrix-org/groupcall/pkg/peercall"
	"github.com/matrix-org/groupcall/pkg/signalling"
	"github.com/matrix-org/groupcall/pkg/webrtcengine"
	"github.com/sirupsen/logrus"
)

// MaxRetries is the default bound on PeerCall retries per spec §4.C/P7: at
// most 3 retries without an intervening session_id change. Overridable per
// Member via WithMaxRetries (pkg/config's runtime.maxRetries).
const MaxRetries = 3

// Option configures optional Member behaviour.
type Option func(*Member)

// WithMaxRetries overrides the retry bound (default MaxRetries).
func WithMaxRetries(n int) Option {
	return func(m *Member) { m.maxRetries = n }
}

// WithICETimeout overrides the ICE connectivity deadline every PeerCall
// this Member creates is given (default peercall.DefaultICETimeout).
func WithICETimeout(d time.Duration) Option {
	return func(m *Member) { m.peerCallOpts = append(m.peerCallOpts, peercall.WithICETimeout(d)) }
}

// Key identifies a Member within a GroupCall.
type Key = signalling.MemberKey

// Identity is this device's own (user_id, device_id, session_id), needed
// by Member to compute initiator selection and stamp outbound envelopes.
type Identity struct {
	UserID    signalling.UserID
	DeviceID  signalling.DeviceID
	SessionID signalling.SessionID
}

// EngineFactory builds a fresh webrtcengine.Engine for one PeerCall leg,
// one per connect()/retry attempt (a pion PeerConnection cannot be reused
// across legs).
type EngineFactory func() (webrtcengine.Engine, error)

// Transport is the subset of the external homeserver/encrypter
// collaborators (spec §6) that Member needs to emit a stamped envelope.
type Transport interface {
	SendToDevice(ctx context.Context, userID signalling.UserID, deviceID signalling.DeviceID, eventType signalling.EventType, content any) error
}

// Callbacks are Member's upward references to its owning GroupCall.
type Callbacks struct {
	// OnRemoved fires once Member gives up permanently: either a
	// non-retryable hangup or MaxRetries exhausted.
	OnRemoved func(reason signalling.HangupReason)

	// ScheduleRetry arranges for retry to be invoked after delay, under the
	// owning GroupCall's mutex (spec §5's cooperative scheduling model:
	// Member computes the backoff duration, but only the owning GroupCall
	// decides when the retry runs).
	ScheduleRetry func(delay time.Duration, retry func())
}

// Member owns the single active PeerCall for one remote device.
type Member struct {
	logger *logrus.Entry

	own    Identity
	remote Key

	sessionID     signalling.SessionID
	deviceIndex   int
	eventTS       int64
	retryCount    int
	maxRetries    int
	localMedia    peercall.Media
	confID        string
	joined        bool

	peerCall *peercall.PeerCall

	transport    Transport
	newEngine    EngineFactory
	callbacks    Callbacks
	retryBackoff backoff.BackOff
	peerCallOpts []peercall.Option
}

// New constructs a Member for remote in the conference identified by
// confID, not yet connected (call Connect to start).
func New(own Identity, remote Key, confID string, sessionID signalling.SessionID, deviceIndex int, eventTS int64, transport Transport, newEngine EngineFactory, callbacks Callbacks, logger *logrus.Entry, opts ...Option) *Member {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	m := &Member{
		logger:       logger.WithField("user_id", string(remote.UserID)).WithField("device_id", string(remote.DeviceID)),
		own:          own,
		remote:       remote,
		confID:       confID,
		sessionID:    sessionID,
		deviceIndex:  deviceIndex,
		eventTS:      eventTS,
		transport:    transport,
		newEngine:    newEngine,
		callbacks:    callbacks,
		retryBackoff: newRetryBackoff(),
		maxRetries:   MaxRetries,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func newRetryBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// SessionID reports this Member's current remote session_id.
func (m *Member) SessionID() signalling.SessionID { return m.sessionID }

// DeviceIndex reports the remote's position in the membership list,
// carried for observability per SPEC_FULL §11 — it plays no role in
// initiator selection.
func (m *Member) DeviceIndex() int { return m.deviceIndex }

// RetryCount reports the number of retry attempts since the last
// session_id change (property P7: never exceeds MaxRetries).
func (m *Member) RetryCount() int { return m.retryCount }

// PeerCall returns the currently owned leg, or nil if none exists.
func (m *Member) PeerCall() *peercall.PeerCall { return m.peerCall }

// UpdateCallInfo refreshes device_index/event_timestamp in place, used by
// GroupCall's reconciliation step when the session_id hasn't changed.
func (m *Member) UpdateCallInfo(deviceIndex int, eventTS int64) {
	m.deviceIndex = deviceIndex
	m.eventTS = eventTS
}

// isInitiator implements spec §4.C's deterministic rule: this side
// initiates iff the remote (user_id, device_id) is lexicographically less
// than ours.
func (m *Member) isInitiator() bool {
	if m.remote.UserID == m.own.UserID {
		return m.remote.DeviceID < m.own.DeviceID
	}
	return m.remote.UserID < m.own.UserID
}

// isPolite implements the Perfect-Negotiation role: the polite side is the
// *receiver* under the initiator-selection rule, i.e. the inverse of
// isInitiator.
func (m *Member) isPolite() bool {
	return !m.isInitiator()
}

// Connect creates and drives this Member's PeerCall: as Outgoing if this
// side is the initiator, awaiting an Invite otherwise. It is a no-op if a
// non-Ended PeerCall already exists (invariant 1).
func (m *Member) Connect(ctx context.Context, media peercall.Media) error {
	m.localMedia = media

	if m.peerCall != nil && m.peerCall.State() != peercall.Ended {
		return nil
	}

	if !m.isInitiator() {
		// We wait for the remote's Invite; PeerCall is created lazily in
		// HandleSignalling when it arrives.
		return nil
	}

	engine, err := m.newEngine()
	if err != nil {
		return err
	}

	callID := signalling.NewCallID()
	m.peerCall = peercall.NewOutgoing(callID, string(m.own.DeviceID), m.isPolite(), engine, m.peerCallCallbacks(), m.logger, m.peerCallOpts...)

	return m.peerCall.Call(ctx, media)
}

func (m *Member) peerCallCallbacks() peercall.Callbacks {
	return peercall.Callbacks{
		OnSend: func(msg peercall.OutboundMessage) {
			m.sendStamped(msg)
		},
		OnEnded: func(reason signalling.HangupReason) {
			m.onPeerCallEnded(reason)
		},
		OnGlareLost: func(invite *signalling.InviteContent) {
			m.adoptIncoming(invite)
		},
	}
}

// sendStamped implements spec §4.C's outbound envelope contract: every
// outbound message is stamped with conf_id/own_device_id/party_id/session
// ids before being handed to the transport.
func (m *Member) sendStamped(msg peercall.OutboundMessage) {
	stampEnvelope(msg.Content, m.confID, m.own.DeviceID, m.own.SessionID, m.sessionID)

	if err := m.transport.SendToDevice(context.Background(), m.remote.UserID, m.remote.DeviceID, msg.Type, msg.Content); err != nil {
		m.logger.WithError(err).Warn("failed to send signalling message")
	}
}

func (m *Member) onPeerCallEnded(reason signalling.HangupReason) {
	if !reason.Retryable() {
		m.peerCall = nil
		if m.callbacks.OnRemoved != nil {
			m.callbacks.OnRemoved(reason)
		}
		return
	}

	m.peerCall = nil
	if m.retryCount >= m.maxRetries {
		m.logger.WithField("retry_count", m.retryCount).Warn("giving up after max retries")
		if m.callbacks.OnRemoved != nil {
			m.callbacks.OnRemoved(reason)
		}
		return
	}
	m.retryCount++

	delay := m.retryBackoff.NextBackOff()
	m.logger.WithField("retry_count", m.retryCount).WithField("delay", delay).Info("retrying peer call")

	retry := func() {
		if err := m.Connect(context.Background(), m.localMedia); err != nil {
			m.logger.WithError(err).Warn("retry attempt failed to start")
		}
	}
	if m.callbacks.ScheduleRetry != nil {
		m.callbacks.ScheduleRetry(delay, retry)
	} else {
		retry()
	}
}

// adoptIncoming replaces a glare-losing outgoing leg with a fresh Incoming
// PeerCall built from the winning Invite (spec §4.B's glare resolution).
func (m *Member) adoptIncoming(invite *signalling.InviteContent) {
	engine, err := m.newEngine()
	if err != nil {
		m.logger.WithError(err).Error("failed to create engine for glare-won incoming leg")
		return
	}
	m.peerCall = peercall.NewIncoming(invite, string(m.own.DeviceID), m.isPolite(), engine, m.peerCallCallbacks(), m.logger, m.peerCallOpts...)
}

// ResetRetries clears retry_count and restarts the retry backoff. GroupCall
// does not call it on a session_id change; it replaces the Member instead,
// and the new Member starts from zero.
func (m *Member) ResetRetries() {
	m.retryCount = 0
	m.retryBackoff = newRetryBackoff()
}

// HandleSignalling routes one inbound to-device message to this Member's
// PeerCall, applying the session filter (spec §4.C's Inbound filter) and
// lazily creating an Incoming PeerCall on first Invite.
func (m *Member) HandleSignalling(env signalling.Envelope, content any) error {
	if env.DestSessionID != "" && env.DestSessionID != m.own.SessionID {
		m.logger.WithField("dest_session_id", env.DestSessionID).Debug("dropping message for a previous session incarnation")
		return nil
	}

	if invite, ok := content.(*signalling.InviteContent); ok && (m.peerCall == nil || m.peerCall.State() == peercall.Ended) {
		engine, err := m.newEngine()
		if err != nil {
			return err
		}
		m.peerCall = peercall.NewIncoming(invite, string(m.own.DeviceID), m.isPolite(), engine, m.peerCallCallbacks(), m.logger, m.peerCallOpts...)
		return nil
	}

	if m.peerCall == nil {
		return nil
	}
	return m.peerCall.HandleIncoming(content)
}

// SetMedia fans the new local media into the owned PeerCall, if any.
func (m *Member) SetMedia(ctx context.Context, media peercall.Media) error {
	m.localMedia = media
	if m.peerCall == nil {
		return nil
	}
	return m.peerCall.SetMedia(ctx, media)
}

// Dispose tears down the owned PeerCall without emitting a Hangup (used
// when the Member itself is being removed, e.g. on leave() or session
// rotation) — invariant 6.
func (m *Member) Dispose() {
	if m.peerCall != nil {
		m.peerCall.Close()
		m.peerCall = nil
	}
}

func stampEnvelope(content any, confID string, ownDeviceID signalling.DeviceID, senderSessionID, destSessionID signalling.SessionID) {
	switch msg := content.(type) {
	case *signalling.InviteContent:
		stamp(&msg.Envelope, confID, ownDeviceID, senderSessionID, destSessionID)
	case *signalling.AnswerContent:
		stamp(&msg.Envelope, confID, ownDeviceID, senderSessionID, destSessionID)
	case *signalling.CandidatesContent:
		stamp(&msg.Envelope, confID, ownDeviceID, senderSessionID, destSessionID)
	case *signalling.HangupContent:
		stamp(&msg.Envelope, confID, ownDeviceID, senderSessionID, destSessionID)
	case *signalling.RejectContent:
		stamp(&msg.Envelope, confID, ownDeviceID, senderSessionID, destSessionID)
	case *signalling.NegotiateContent:
		stamp(&msg.Envelope, confID, ownDeviceID, senderSessionID, destSessionID)
	case *signalling.SDPStreamMetadataChangedContent:
		stamp(&msg.Envelope, confID, ownDeviceID, senderSessionID, destSessionID)
	}
}

func stamp(env *signalling.Envelope, confID string, ownDeviceID signalling.DeviceID, senderSessionID, destSessionID signalling.SessionID) {
	env.ConfID = confID
	env.DeviceID = ownDeviceID
	env.PartyID = string(ownDeviceID)
	env.SenderSessionID = senderSessionID
	env.DestSessionID = destSessionID
}
