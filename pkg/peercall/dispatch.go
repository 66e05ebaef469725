package peercall

import (
	"context"

	"github.com/matrix-org/groupcall/pkg/signalling"
	"github.com/matrix-org/groupcall/pkg/webrtcengine"
)

// HandleIncoming dispatches one to-device signalling message per the
// per-state table in spec §4.B. It is accepted in any state; invalid
// combinations are no-ops (dropped, not errors), matching "ignore" in the
// table and the "invalid payload: log, ignore, do not transition" failure
// semantics.
func (p *PeerCall) HandleIncoming(content any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if env, ok := signalling.EnvelopeOf(content); ok && p.isDuplicateLocked(env) {
		return nil
	}

	switch msg := content.(type) {
	case *signalling.InviteContent:
		return p.handleInviteLocked(msg)
	case *signalling.AnswerContent:
		return p.handleAnswerLocked(msg)
	case *signalling.CandidatesContent:
		return p.handleCandidatesLocked(msg)
	case *signalling.NegotiateContent:
		return p.handleNegotiateLocked(msg)
	case *signalling.HangupContent:
		p.handleTerminalLocked(msg.Reason)
		return nil
	case *signalling.RejectContent:
		p.handleTerminalLocked(msg.Reason)
		return nil
	case *signalling.SDPStreamMetadataChangedContent:
		p.handleSDPMetadataLocked(msg.SDPStreamMetadata)
		return nil
	default:
		p.logger.Warn("dropping signalling message of unhandled type")
		return nil
	}
}

// handleInviteLocked implements the Invite column: a fresh Ringing
// transition from Fledgling (not expected in practice — NewIncoming covers
// that path — kept for symmetry/tests), and glare resolution everywhere
// this side already has an outgoing leg in flight.
func (p *PeerCall) handleInviteLocked(invite *signalling.InviteContent) error {
	switch p.state {
	case Fledgling:
		p.opponentPartyID = invite.PartyID
		p.setState(Ringing)
		return nil
	case CreateOffer, InviteSent, Ringing:
		return p.resolveGlareLocked(invite)
	default:
		return nil // Connecting, Connected, Ended: ignore
	}
}

// resolveGlareLocked implements spec §4.B's glare rule: lexicographically
// lower call_id wins. The losing side ends this leg as Replaced and asks
// its owner (via OnGlareLost) to treat the winning Invite as a fresh
// Incoming leg.
func (p *PeerCall) resolveGlareLocked(invite *signalling.InviteContent) error {
	if invite.CallID == p.callID {
		return nil // re-delivery of our own invite, not glare
	}
	if invite.CallID < p.callID {
		// We lose: our outgoing leg is replaced by the incoming one.
		p.endLocked(signalling.HangupReplaced)
		p.callbacks.glareLost(invite)
		return nil
	}
	// We win: keep our outgoing leg, ignore their Invite.
	return nil
}

func (p *PeerCall) handleAnswerLocked(answer *signalling.AnswerContent) error {
	if p.state != InviteSent {
		return nil
	}

	p.opponentPartyID = answer.PartyID
	if err := p.engine.SetRemoteDescription(context.Background(), webrtcengine.SessionDescription{Type: webrtcengine.SDPTypeAnswer, SDP: answer.Answer.SDP}); err != nil {
		p.failLocked(err)
		return err
	}

	p.remoteSDPApplied = true
	p.lastSDPMetadata = answer.SDPStreamMetadata
	p.setState(Connecting)
	p.startICEWatchdogLocked()
	p.flushPendingOutboundCandidatesLocked()
	p.flushBufferedCandidatesLocked()

	return nil
}

func (p *PeerCall) handleCandidatesLocked(msg *signalling.CandidatesContent) error {
	if p.state == Ended {
		return nil
	}

	canApply := p.remoteSDPApplied
	for _, candidate := range msg.Candidates {
		if canApply {
			p.applyRemoteCandidateLocked(candidate)
		} else {
			p.bufferedCandidates = append(p.bufferedCandidates, candidate)
		}
	}
	return nil
}

func (p *PeerCall) handleNegotiateLocked(msg *signalling.NegotiateContent) error {
	if p.state != Connecting && p.state != Connected {
		return nil
	}

	// Perfect Negotiation collision handling: the polite side accepts an
	// incoming offer unconditionally (rolling back any local offer in
	// flight); the impolite side would ignore a colliding offer, but since
	// this core drives exactly one SDP O/A round at a time per leg we have
	// no concurrent local offer to collide with by the time we reach here.

	if err := p.engine.SetRemoteDescription(context.Background(), webrtcengine.SessionDescription{Type: webrtcengine.SDPTypeOffer, SDP: msg.Description.SDP}); err != nil {
		p.failLocked(err)
		return err
	}
	p.lastSDPMetadata = msg.SDPStreamMetadata

	answer, err := p.engine.CreateAnswer(context.Background())
	if err != nil {
		p.failLocked(err)
		return err
	}
	if err := p.engine.SetLocalDescription(context.Background(), answer); err != nil {
		p.failLocked(err)
		return err
	}

	p.callbacks.send(OutboundMessage{
		Type: signalling.EventNegotiate,
		Content: &signalling.NegotiateContent{
			Envelope:    signalling.Envelope{CallID: p.callID, PartyID: p.ownPartyID},
			Description: signalling.SDP{Type: "answer", SDP: answer.SDP},
		},
	})

	return nil
}

func (p *PeerCall) handleTerminalLocked(reason signalling.HangupReason) {
	if p.state == Ended {
		return
	}
	p.endLocked(reason)
}

func (p *PeerCall) handleSDPMetadataLocked(metadata signalling.SDPStreamMetadata) {
	switch p.state {
	case Ringing, CreateOffer, InviteSent, Connecting, Connected:
		p.lastSDPMetadata = metadata
	}
}

// SDPStreamMetadata returns the most recently received stream metadata for
// this leg; nothing else in this module reads or acts on it.
func (p *PeerCall) SDPStreamMetadata() signalling.SDPStreamMetadata {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSDPMetadata
}

// isDuplicateLocked implements the per-(call_id) monotonic seq rule. A
// zero Seq means the sender didn't set one (common in tests and for the
// very first message on a leg) and is never treated as a duplicate.
func (p *PeerCall) isDuplicateLocked(env signalling.Envelope) bool {
	if env.Seq == 0 {
		return false
	}
	if env.Seq <= p.lastInboundSeq {
		return true
	}
	p.lastInboundSeq = env.Seq
	return false
}

