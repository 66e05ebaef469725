package peercall_test

import (
	"context"
	"testing"

	"github.com/matrix-org/groupcall/pkg/internal/fakewebrtc"
	"github.com/matrix-org/groupcall/pkg/peercall"
	"github.com/matrix-org/groupcall/pkg/signalling"
	"github.com/matrix-org/groupcall/pkg/webrtcengine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCallbacks() (*peercall.Callbacks, *[]peercall.OutboundMessage, *[]signalling.HangupReason) {
	sent := &[]peercall.OutboundMessage{}
	ended := &[]signalling.HangupReason{}
	cb := &peercall.Callbacks{
		OnSend:  func(m peercall.OutboundMessage) { *sent = append(*sent, m) },
		OnEnded: func(r signalling.HangupReason) { *ended = append(*ended, r) },
	}
	return cb, sent, ended
}

func TestOutgoingCallReachesConnected(t *testing.T) {
	engine := &fakewebrtc.Engine{}
	cb, sent, _ := newTestCallbacks()

	call := peercall.NewOutgoing("c1", "own-device", false, engine, *cb, nil)
	require.Equal(t, peercall.Fledgling, call.State())

	require.NoError(t, call.Call(context.Background(), peercall.Media{}))
	assert.Equal(t, peercall.InviteSent, call.State())
	require.Len(t, *sent, 1)
	assert.Equal(t, signalling.EventInvite, (*sent)[0].Type)

	require.NoError(t, call.HandleIncoming(&signalling.AnswerContent{
		Envelope: signalling.Envelope{CallID: "c1"},
		Answer:   signalling.SDP{Type: "answer", SDP: "v=0"},
	}))
	assert.Equal(t, peercall.Connecting, call.State())

	engine.FireConnectionStateChange(webrtcengine.StateConnected)
	assert.Equal(t, peercall.Connected, call.State())
}

func TestIncomingInviteThenAnswerReachesConnecting(t *testing.T) {
	engine := &fakewebrtc.Engine{}
	cb, sent, _ := newTestCallbacks()

	invite := &signalling.InviteContent{
		Envelope: signalling.Envelope{CallID: "c1", PartyID: "remote-device"},
		Offer:    signalling.SDP{Type: "offer", SDP: "v=0"},
	}
	call := peercall.NewIncoming(invite, "own-device", true, engine, *cb, nil)
	require.Equal(t, peercall.Ringing, call.State())

	require.NoError(t, call.Answer(context.Background(), peercall.Media{}))
	assert.Equal(t, peercall.Connecting, call.State())
	require.Len(t, *sent, 1)
	assert.Equal(t, signalling.EventAnswer, (*sent)[0].Type)
}

func TestEarlyCandidateBufferedThenFlushedOnAnswer(t *testing.T) {
	engine := &fakewebrtc.Engine{}
	cb, _, _ := newTestCallbacks()

	call := peercall.NewOutgoing("c1", "own-device", false, engine, *cb, nil)
	require.NoError(t, call.Call(context.Background(), peercall.Media{}))

	require.NoError(t, call.HandleIncoming(&signalling.CandidatesContent{
		Envelope:   signalling.Envelope{CallID: "c1"},
		Candidates: []signalling.Candidate{{Candidate: "cand1"}},
	}))
	assert.Empty(t, engine.Candidates, "candidate must be buffered, not yet applied")

	require.NoError(t, call.HandleIncoming(&signalling.AnswerContent{
		Envelope: signalling.Envelope{CallID: "c1"},
		Answer:   signalling.SDP{Type: "answer", SDP: "v=0"},
	}))
	require.Len(t, engine.Candidates, 1)
	assert.Equal(t, "cand1", engine.Candidates[0].Candidate)
}

func TestRetryableHangupIsRetryable(t *testing.T) {
	engine := &fakewebrtc.Engine{}
	cb, _, ended := newTestCallbacks()

	call := peercall.NewOutgoing("c1", "own-device", false, engine, *cb, nil)
	require.NoError(t, call.Call(context.Background(), peercall.Media{}))

	require.NoError(t, call.HandleIncoming(&signalling.HangupContent{
		Envelope: signalling.Envelope{CallID: "c1"},
		Reason:   signalling.HangupICEFailed,
	}))

	assert.Equal(t, peercall.Ended, call.State())
	require.Len(t, *ended, 1)
	assert.True(t, (*ended)[0].Retryable())
}

func TestNonRetryableHangupIsNotRetryable(t *testing.T) {
	engine := &fakewebrtc.Engine{}
	cb, _, ended := newTestCallbacks()

	call := peercall.NewOutgoing("c1", "own-device", false, engine, *cb, nil)
	require.NoError(t, call.Call(context.Background(), peercall.Media{}))

	require.NoError(t, call.HandleIncoming(&signalling.HangupContent{
		Envelope: signalling.Envelope{CallID: "c1"},
		Reason:   signalling.HangupUserHangup,
	}))

	assert.Equal(t, peercall.Ended, call.State())
	require.Len(t, *ended, 1)
	assert.False(t, (*ended)[0].Retryable())
}

func TestGlareLowerCallIDWins(t *testing.T) {
	engine := &fakewebrtc.Engine{}
	var lost *signalling.InviteContent
	cb, _, ended := newTestCallbacks()
	cb.OnGlareLost = func(invite *signalling.InviteContent) { lost = invite }

	// Our outgoing call_id is "c_b" (greater), so a concurrent incoming
	// Invite with the lower call_id "c_a" should win.
	call := peercall.NewOutgoing("c_b", "own-device", false, engine, *cb, nil)
	require.NoError(t, call.Call(context.Background(), peercall.Media{}))
	require.Equal(t, peercall.InviteSent, call.State())

	require.NoError(t, call.HandleIncoming(&signalling.InviteContent{
		Envelope: signalling.Envelope{CallID: "c_a", PartyID: "remote-device"},
		Offer:    signalling.SDP{Type: "offer", SDP: "v=0"},
	}))

	assert.Equal(t, peercall.Ended, call.State())
	require.Len(t, *ended, 1)
	assert.Equal(t, signalling.HangupReplaced, (*ended)[0])
	require.NotNil(t, lost)
	assert.Equal(t, "c_a", lost.CallID)
}

func TestGlareHigherCallIDLosesIgnoresIncomingInvite(t *testing.T) {
	engine := &fakewebrtc.Engine{}
	cb, _, ended := newTestCallbacks()

	// Our outgoing call_id "c_a" is lower, so we win and ignore the
	// concurrent incoming Invite carrying the higher call_id "c_b".
	call := peercall.NewOutgoing("c_a", "own-device", false, engine, *cb, nil)
	require.NoError(t, call.Call(context.Background(), peercall.Media{}))

	require.NoError(t, call.HandleIncoming(&signalling.InviteContent{
		Envelope: signalling.Envelope{CallID: "c_b", PartyID: "remote-device"},
		Offer:    signalling.SDP{Type: "offer", SDP: "v=0"},
	}))

	assert.Equal(t, peercall.InviteSent, call.State())
	assert.Empty(t, *ended)
}

func TestDuplicateSeqIgnored(t *testing.T) {
	engine := &fakewebrtc.Engine{}
	cb, _, ended := newTestCallbacks()

	call := peercall.NewOutgoing("c1", "own-device", false, engine, *cb, nil)
	require.NoError(t, call.Call(context.Background(), peercall.Media{}))

	hangup := &signalling.HangupContent{
		Envelope: signalling.Envelope{CallID: "c1", Seq: 5},
		Reason:   signalling.HangupUserHangup,
	}
	require.NoError(t, call.HandleIncoming(hangup))
	require.Len(t, *ended, 1)

	// A re-delivery with a duplicate seq must not be processed twice; the
	// seq check drops it before the state-based dispatch is reached.
	require.NoError(t, call.HandleIncoming(hangup))
	require.Len(t, *ended, 1)
}
