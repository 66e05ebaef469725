package peercall

import (
	"context"

	"github.com/matrix-org/groupcall/pkg/signalling"
	"github.com/matrix-org/groupcall/pkg/webrtcengine"
)

// negotiateLocked drives one CreateOffer -> SetLocalDescription -> emit
// round, either as the initial Invite (state == CreateOffer) or as a
// mid-call Negotiate (state == Connecting/Connected), per spec §4.B's
// Renegotiation clause. Caller holds p.mu.
func (p *PeerCall) negotiateLocked(ctx context.Context) error {
	offer, err := p.engine.CreateOffer(ctx)
	if err != nil {
		p.failLocked(err)
		return err
	}
	if err := p.engine.SetLocalDescription(ctx, offer); err != nil {
		p.failLocked(err)
		return err
	}

	switch p.state {
	case CreateOffer:
		p.callbacks.send(OutboundMessage{
			Type: signalling.EventInvite,
			Content: &signalling.InviteContent{
				Envelope: signalling.Envelope{CallID: p.callID, PartyID: p.ownPartyID},
				Offer:    signalling.SDP{Type: "offer", SDP: offer.SDP},
			},
		})
		p.setState(InviteSent)
	case Connecting, Connected:
		p.callbacks.send(OutboundMessage{
			Type: signalling.EventNegotiate,
			Content: &signalling.NegotiateContent{
				Envelope:    signalling.Envelope{CallID: p.callID, PartyID: p.ownPartyID},
				Description: signalling.SDP{Type: "offer", SDP: offer.SDP},
			},
		})
	}

	return nil
}

// onNegotiationNeededLocked reacts to the engine requesting renegotiation
// (e.g. a later local track change it detected itself). The impolite side
// simply renegotiates; the polite side does the same here since Perfect
// Negotiation's rollback behaviour is needed only when a *collision* occurs
// (an inbound offer arrives while we're mid-negotiation), handled in
// dispatch.go's Negotiate case instead.
func (p *PeerCall) onNegotiationNeededLocked() {
	if p.state != Connecting && p.state != Connected {
		return
	}
	if err := p.negotiateLocked(context.Background()); err != nil {
		p.logger.WithError(err).Warn("renegotiation failed")
	}
}

func (p *PeerCall) onLocalICECandidateLocked(candidate *webrtcengine.ICECandidate) {
	wireCandidate := signalling.EndOfCandidates
	if candidate != nil {
		wireCandidate = signalling.Candidate{
			Candidate:     candidate.Candidate,
			SDPMid:        candidate.SDPMid,
			SDPMLineIndex: candidate.SDPMLineIndex,
		}
	}

	if !p.canSendOutboundCandidatesLocked() {
		p.pendingCandidates = append(p.pendingCandidates, wireCandidate)
		return
	}

	p.sendCandidatesLocked([]signalling.Candidate{wireCandidate})
}

// canSendOutboundCandidatesLocked reports whether the remote description
// has been applied yet (Outgoing: after Answer; Incoming: the offer is
// applied at construction, so immediately true). Before that, locally
// gathered candidates are queued in pendingCandidates (spec §4.B).
func (p *PeerCall) canSendOutboundCandidatesLocked() bool {
	return p.remoteSDPApplied
}

func (p *PeerCall) flushPendingOutboundCandidatesLocked() {
	if len(p.pendingCandidates) == 0 {
		return
	}
	batch := p.pendingCandidates
	p.pendingCandidates = nil
	p.sendCandidatesLocked(batch)
}

func (p *PeerCall) sendCandidatesLocked(candidates []signalling.Candidate) {
	p.callbacks.send(OutboundMessage{
		Type: signalling.EventCandidates,
		Content: &signalling.CandidatesContent{
			Envelope:   signalling.Envelope{CallID: p.callID, PartyID: p.ownPartyID},
			Candidates: candidates,
		},
	})
}

// flushBufferedCandidatesLocked applies remote candidates received before
// the remote description could be set, in arrival order, per spec §4.B's
// "Buffer" dispatch-table action and property P6.
func (p *PeerCall) flushBufferedCandidatesLocked() {
	if len(p.bufferedCandidates) == 0 {
		return
	}
	buffered := p.bufferedCandidates
	p.bufferedCandidates = nil
	for _, candidate := range buffered {
		p.applyRemoteCandidateLocked(candidate)
	}
}

func (p *PeerCall) applyRemoteCandidateLocked(candidate signalling.Candidate) {
	if candidate == signalling.EndOfCandidates {
		return
	}
	if err := p.engine.AddICECandidate(context.Background(), webrtcengine.ICECandidate{
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	}); err != nil {
		p.logger.WithError(err).Warn("failed to add remote ICE candidate")
	}
}

func (p *PeerCall) onConnectionStateChangeLocked(state webrtcengine.ConnectionState) {
	switch state {
	case webrtcengine.StateConnected:
		if p.state == Connecting {
			p.stopICEWatchdogLocked()
			p.setState(Connected)
		}
	case webrtcengine.StateFailed:
		if p.state != Ended {
			p.failLocked(ErrWebRTCFatal)
		}
	}
}
