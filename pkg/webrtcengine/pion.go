package webrtcengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
)

// Config mirrors the teacher's webrtc_ext.Config: the knobs needed to build
// a pion API instance shared by every leg.
type Config struct {
	PublicIP   string
	ICEServers []webrtc.ICEServer
}

// Factory builds pion-backed Engines sharing one configured webrtc.API,
// the same "build the API once, spin up PeerConnections from it" shape as
// the teacher's webrtc_ext.PeerConnectionFactory.
type Factory struct {
	api    *webrtc.API
	config Config
}

func NewFactory(config Config) (*Factory, error) {
	api, err := createWebRTCAPI(config)
	if err != nil {
		return nil, err
	}
	return &Factory{api: api, config: config}, nil
}

func createWebRTCAPI(config Config) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register default codecs: %w", err)
	}

	settingsEngine := webrtc.SettingEngine{}
	if config.PublicIP != "" {
		settingsEngine.SetNAT1To1IPs([]string{config.PublicIP}, webrtc.ICECandidateTypeHost)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to set default interceptors: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(settingsEngine),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}

// New creates one pion PeerConnection and wraps it as an Engine.
func (f *Factory) New() (*PionEngine, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: f.config.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	e := &PionEngine{pc: pc}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		e.candidateMutex.Lock()
		cb := e.onCandidate
		e.candidateMutex.Unlock()
		if cb == nil {
			return
		}
		if candidate == nil {
			cb(nil)
			return
		}
		init := candidate.ToJSON()
		cb(&ICECandidate{Candidate: init.Candidate, SDPMid: derefString(init.SDPMid), SDPMLineIndex: derefUint16(init.SDPMLineIndex)})
	})

	pc.OnNegotiationNeeded(func() {
		e.negotiationMutex.Lock()
		cb := e.onNegotiationNeeded
		e.negotiationMutex.Unlock()
		if cb != nil {
			cb()
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.stateMutex.Lock()
		cb := e.onStateChange
		e.stateMutex.Unlock()
		if cb == nil {
			return
		}
		cb(convertConnectionState(state))
	})

	return e, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefUint16(v *uint16) int {
	if v == nil {
		return 0
	}
	return int(*v)
}

func convertConnectionState(state webrtc.PeerConnectionState) ConnectionState {
	switch state {
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	case webrtc.PeerConnectionStateClosed:
		return StateClosed
	default:
		return StateNew
	}
}

// PionEngine is the production Engine backed by a pion/webrtc/v3
// PeerConnection, grounded on the teacher's pkg/peer.Peer callback wiring
// generalized from an SFU-side answerer to a symmetric offer/answer leg.
type PionEngine struct {
	pc *webrtc.PeerConnection

	candidateMutex sync.Mutex
	onCandidate    func(*ICECandidate)

	negotiationMutex    sync.Mutex
	onNegotiationNeeded func()

	stateMutex    sync.Mutex
	onStateChange func(ConnectionState)
}

func (e *PionEngine) SetLocalMedia(media MediaDescriptor) error {
	// Track publication is a media-plane concern external to this core
	// (spec Non-goals); local mute state is tracked by the caller and
	// applied to already-added tracks via pion's RTPSender, not here.
	return nil
}

func (e *PionEngine) CreateOffer(ctx context.Context) (SessionDescription, error) {
	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	return SessionDescription{Type: SDPTypeOffer, SDP: offer.SDP}, nil
}

func (e *PionEngine) CreateAnswer(ctx context.Context) (SessionDescription, error) {
	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	return SessionDescription{Type: SDPTypeAnswer, SDP: answer.SDP}, nil
}

func (e *PionEngine) SetLocalDescription(ctx context.Context, desc SessionDescription) error {
	if err := e.pc.SetLocalDescription(toPionDescription(desc)); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}
	return nil
}

func (e *PionEngine) SetRemoteDescription(ctx context.Context, desc SessionDescription) error {
	if err := e.pc.SetRemoteDescription(toPionDescription(desc)); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

func (e *PionEngine) AddICECandidate(ctx context.Context, candidate ICECandidate) error {
	mid := candidate.SDPMid
	idx := uint16(candidate.SDPMLineIndex)
	init := webrtc.ICECandidateInit{Candidate: candidate.Candidate, SDPMid: &mid, SDPMLineIndex: &idx}
	if err := e.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

func (e *PionEngine) Close() error {
	return e.pc.Close()
}

func (e *PionEngine) OnNegotiationNeeded(cb func()) {
	e.negotiationMutex.Lock()
	defer e.negotiationMutex.Unlock()
	e.onNegotiationNeeded = cb
}

func (e *PionEngine) OnConnectionStateChange(cb func(ConnectionState)) {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()
	e.onStateChange = cb
}

func (e *PionEngine) OnICECandidate(cb func(*ICECandidate)) {
	e.candidateMutex.Lock()
	defer e.candidateMutex.Unlock()
	e.onCandidate = cb
}

func toPionDescription(desc SessionDescription) webrtc.SessionDescription {
	t := webrtc.SDPTypeOffer
	if desc.Type == SDPTypeAnswer {
		t = webrtc.SDPTypeAnswer
	}
	return webrtc.SessionDescription{Type: t, SDP: desc.SDP}
}
