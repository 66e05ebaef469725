// Package webrtcengine is the seam between the group-call signalling core
// and the actual WebRTC peer connection. PeerCall drives an Engine through
// offer/answer/ICE and is driven back through its callbacks; it never talks
// to pion/webrtc/v3 directly, so it can be tested against a fake.
package webrtcengine

import "context"

// SessionDescriptionType distinguishes an offer from an answer, the subset
// of webrtc.SDPType this core needs to reason about.
type SessionDescriptionType string

const (
	SDPTypeOffer  SessionDescriptionType = "offer"
	SDPTypeAnswer SessionDescriptionType = "answer"
)

// SessionDescription is the opaque SDP payload passed across the engine
// seam; the core never parses its body, only its Type.
type SessionDescription struct {
	Type SessionDescriptionType
	SDP  string
}

// ICECandidate mirrors the wire candidate shape (pkg/signalling.Candidate)
// on the engine side of the seam.
type ICECandidate struct {
	Candidate     string
	SDPMid        string
	SDPMLineIndex int
}

// ConnectionState is a restricted view of the engine's ICE/connection
// state, the only values PeerCall's state machine reacts to.
type ConnectionState int

const (
	StateNew ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

// MediaDescriptor names the local tracks a PeerCall wants published on a
// leg; the engine's concrete media representation stays on its side of the
// seam so this core has no codec/media dependency of its own.
type MediaDescriptor struct {
	AudioMuted bool
	VideoMuted bool
	TrackIDs   []string
}

// Engine is one WebRTC peer connection, injected per PeerCall leg.
// Implementations may invoke the On* callbacks from any goroutine; PeerCall
// takes its own mutex inside every callback it registers, so a callback must
// not be invoked synchronously from within an Engine method PeerCall is
// calling (PeerCall holds that mutex during such calls).
type Engine interface {
	SetLocalMedia(media MediaDescriptor) error

	CreateOffer(ctx context.Context) (SessionDescription, error)
	CreateAnswer(ctx context.Context) (SessionDescription, error)
	SetLocalDescription(ctx context.Context, desc SessionDescription) error
	SetRemoteDescription(ctx context.Context, desc SessionDescription) error
	AddICECandidate(ctx context.Context, candidate ICECandidate) error

	Close() error

	OnNegotiationNeeded(func())
	OnConnectionStateChange(func(ConnectionState))

	// OnICECandidate registers the callback invoked once per gathered local
	// candidate, and once more with nil to signal end-of-gathering.
	OnICECandidate(func(*ICECandidate))
}
