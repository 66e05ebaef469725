// Package peercall implements the per-leg WebRTC handshake state machine:
// one PeerCall per (own device, remote device) pair, driving the injected
// webrtcengine.Engine through Perfect Negotiation and converting its events
// into outbound signalling messages. It has no knowledge of Matrix rooms,
// membership, or retry policy — that is Member's job (pkg/member).
package peercall

import (
	"errors"

	"github.com/matrix-org/groupcall/pkg/signalling"
)

// State is one node of the PeerCall state machine (spec §4.B).
type State int

const (
	Fledgling State = iota
	CreateOffer
	InviteSent
	CreateAnswer
	Ringing
	Connecting
	Connected
	Ended
)

func (s State) String() string {
	switch s {
	case Fledgling:
		return "Fledgling"
	case CreateOffer:
		return "CreateOffer"
	case InviteSent:
		return "InviteSent"
	case CreateAnswer:
		return "CreateAnswer"
	case Ringing:
		return "Ringing"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Ended:
		return "Ended"
	default:
		return "Unknown"
	}
}

// Direction is Outgoing (this side initiated) or Incoming (the remote did).
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

func (d Direction) String() string {
	if d == Outgoing {
		return "Outgoing"
	}
	return "Incoming"
}

var (
	// ErrInvalidTransition is returned by an operation that is not valid in
	// the PeerCall's current state, per the contract in spec §4.B.
	ErrInvalidTransition = errors.New("peercall: operation not valid in current state")

	// ErrWebRTCFatal wraps an unrecoverable error reported by the engine.
	ErrWebRTCFatal = errors.New("peercall: fatal webrtc engine error")

	// ErrGlareLost names the glare-loss outcome. It is not returned or
	// recorded by PeerCall: a leg that loses glare ends with HangupReplaced.
	ErrGlareLost = errors.New("peercall: lost glare resolution")
)

// Media describes what this leg should publish locally; propagated in from
// GroupCall/Member's notion of local media without this package depending
// on the media representation itself.
type Media struct {
	AudioMuted bool
	VideoMuted bool
	TrackIDs   []string
}

// OutboundMessage is one signalling payload PeerCall wants sent to the
// remote device. Member stamps the envelope's conf_id/session ids (the
// fields it owns, per spec §4.C) and forwards it to the homeserver
// transport; PeerCall only fills in the fields it is itself responsible
// for (call_id, party_id, and the variant's own payload).
type OutboundMessage struct {
	Type    signalling.EventType
	Content any
}

// Callbacks are the upward references a PeerCall uses to notify its owning
// Member, expressed as plain function values rather than an owning handle —
// the design note in spec §9 on breaking the PeerCall↔Member↔GroupCall
// reference cycle.
type Callbacks struct {
	OnSend        func(OutboundMessage)
	OnStateChange func(old, new State)
	OnEnded       func(reason signalling.HangupReason)

	// OnGlareLost fires when this leg loses glare resolution against a
	// concurrently received Invite (spec §4.B's Glare resolution clause).
	// The owning Member is expected to construct a fresh Incoming PeerCall
	// from the supplied Invite to replace this one.
	OnGlareLost func(invite *signalling.InviteContent)
}

func (c Callbacks) send(msg OutboundMessage) {
	if c.OnSend != nil {
		c.OnSend(msg)
	}
}

func (c Callbacks) stateChange(old, new State) {
	if old != new && c.OnStateChange != nil {
		c.OnStateChange(old, new)
	}
}

func (c Callbacks) ended(reason signalling.HangupReason) {
	if c.OnEnded != nil {
		c.OnEnded(reason)
	}
}

func (c Callbacks) glareLost(invite *signalling.InviteContent) {
	if c.OnGlareLost != nil {
		c.OnGlareLost(invite)
	}
}
