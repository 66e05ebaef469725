// Package fakewebrtc is an in-memory webrtcengine.Engine test double, used
// to drive pkg/peercall's state machine deterministically without a real
// pion PeerConnection.
package fakewebrtc

import (
	"context"
	"sync"

	"github.com/matrix-org/groupcall/pkg/webrtcengine"
)

// Engine is a scriptable fake satisfying webrtcengine.Engine. Zero value is
// ready to use.
type Engine struct {
	mu sync.Mutex

	LocalMedia webrtcengine.MediaDescriptor

	OffersCreated  int
	AnswersCreated int
	LocalDescs     []webrtcengine.SessionDescription
	RemoteDescs    []webrtcengine.SessionDescription
	Candidates     []webrtcengine.ICECandidate
	Closed         bool

	onNegotiationNeeded func()
	onStateChange       func(webrtcengine.ConnectionState)
	onCandidate         func(*webrtcengine.ICECandidate)

	// NextOfferSDP/NextAnswerSDP let a test control the SDP body returned
	// by CreateOffer/CreateAnswer; defaults to a fixed placeholder.
	NextOfferSDP  string
	NextAnswerSDP string
}

func (e *Engine) SetLocalMedia(media webrtcengine.MediaDescriptor) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.LocalMedia = media
	return nil
}

func (e *Engine) CreateOffer(ctx context.Context) (webrtcengine.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.OffersCreated++
	sdp := e.NextOfferSDP
	if sdp == "" {
		sdp = "fake-offer-sdp"
	}
	return webrtcengine.SessionDescription{Type: webrtcengine.SDPTypeOffer, SDP: sdp}, nil
}

func (e *Engine) CreateAnswer(ctx context.Context) (webrtcengine.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.AnswersCreated++
	sdp := e.NextAnswerSDP
	if sdp == "" {
		sdp = "fake-answer-sdp"
	}
	return webrtcengine.SessionDescription{Type: webrtcengine.SDPTypeAnswer, SDP: sdp}, nil
}

func (e *Engine) SetLocalDescription(ctx context.Context, desc webrtcengine.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.LocalDescs = append(e.LocalDescs, desc)
	return nil
}

func (e *Engine) SetRemoteDescription(ctx context.Context, desc webrtcengine.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.RemoteDescs = append(e.RemoteDescs, desc)
	return nil
}

func (e *Engine) AddICECandidate(ctx context.Context, candidate webrtcengine.ICECandidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Candidates = append(e.Candidates, candidate)
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Closed = true
	return nil
}

func (e *Engine) OnNegotiationNeeded(cb func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onNegotiationNeeded = cb
}

func (e *Engine) OnConnectionStateChange(cb func(webrtcengine.ConnectionState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStateChange = cb
}

func (e *Engine) OnICECandidate(cb func(*webrtcengine.ICECandidate)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCandidate = cb
}

// FireNegotiationNeeded lets a test simulate the engine requesting
// renegotiation.
func (e *Engine) FireNegotiationNeeded() {
	e.mu.Lock()
	cb := e.onNegotiationNeeded
	e.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// FireConnectionStateChange lets a test simulate an ICE/connection state
// transition.
func (e *Engine) FireConnectionStateChange(state webrtcengine.ConnectionState) {
	e.mu.Lock()
	cb := e.onStateChange
	e.mu.Unlock()
	if cb != nil {
		cb(state)
	}
}

// FireICECandidate lets a test simulate the engine gathering (or finishing
// gathering, via nil) a local candidate.
func (e *Engine) FireICECandidate(candidate *webrtcengine.ICECandidate) {
	e.mu.Lock()
	cb := e.onCandidate
	e.mu.Unlock()
	if cb != nil {
		cb(candidate)
	}
}
