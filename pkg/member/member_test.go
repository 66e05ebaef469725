package member_test

import (
	"context"
	"testing"
	"time"

	"github.com/matrix-org/groupcall/pkg/internal/fakewebrtc"
	"github.com/matrix-org/groupcall/pkg/internal/faketransport"
	"github.com/matrix-org/groupcall/pkg/member"
	"github.com/matrix-org/groupcall/pkg/peercall"
	"github.com/matrix-org/groupcall/pkg/signalling"
	"github.com/matrix-org/groupcall/pkg/webrtcengine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeEngine() (webrtcengine.Engine, error) {
	return &fakewebrtc.Engine{}, nil
}

type fakeTransport = faketransport.Transport

func TestInitiatorSelectionSameUserGreaterDeviceWins(t *testing.T) {
	own := member.Identity{UserID: "@a", DeviceID: "D2", SessionID: "ownSess"}
	remote := member.Key{UserID: "@a", DeviceID: "D1"}
	transport := &fakeTransport{}

	m := member.New(own, remote, "conf1", "remoteSess", 0, 0, transport,
		newFakeEngine,
		member.Callbacks{}, nil)

	require.NoError(t, m.Connect(context.Background(), peercall.Media{}))
	require.NotNil(t, m.PeerCall())
	assert.Equal(t, peercall.Outgoing, m.PeerCall().Direction())

	require.Equal(t, 1, transport.ToDeviceCount())
	assert.Equal(t, signalling.EventInvite, transport.LastToDevice().EventType)
}

func TestInitiatorSelectionLowerDeviceWaitsForInvite(t *testing.T) {
	own := member.Identity{UserID: "@a", DeviceID: "D1", SessionID: "ownSess"}
	remote := member.Key{UserID: "@a", DeviceID: "D2"}
	transport := &fakeTransport{}

	m := member.New(own, remote, "conf1", "remoteSess", 0, 0, transport,
		newFakeEngine,
		member.Callbacks{}, nil)

	require.NoError(t, m.Connect(context.Background(), peercall.Media{}))
	assert.Nil(t, m.PeerCall())
	assert.Equal(t, 0, transport.ToDeviceCount())
}

func TestHandleSignallingCreatesIncomingPeerCallOnInvite(t *testing.T) {
	own := member.Identity{UserID: "@a", DeviceID: "D1", SessionID: "ownSess"}
	remote := member.Key{UserID: "@a", DeviceID: "D2"}
	transport := &fakeTransport{}

	m := member.New(own, remote, "conf1", "remoteSess", 0, 0, transport,
		newFakeEngine,
		member.Callbacks{}, nil)

	env := signalling.Envelope{CallID: "c1", DestSessionID: "ownSess"}
	invite := &signalling.InviteContent{Envelope: env, Offer: signalling.SDP{Type: "offer", SDP: "v=0"}}

	require.NoError(t, m.HandleSignalling(env, invite))
	require.NotNil(t, m.PeerCall())
	assert.Equal(t, peercall.Ringing, m.PeerCall().State())
}

func TestHandleSignallingDropsWrongDestSession(t *testing.T) {
	own := member.Identity{UserID: "@a", DeviceID: "D1", SessionID: "ownSess"}
	remote := member.Key{UserID: "@a", DeviceID: "D2"}
	transport := &fakeTransport{}

	m := member.New(own, remote, "conf1", "remoteSess", 0, 0, transport,
		newFakeEngine,
		member.Callbacks{}, nil)

	env := signalling.Envelope{CallID: "c1", DestSessionID: "someOldSession"}
	invite := &signalling.InviteContent{Envelope: env, Offer: signalling.SDP{Type: "offer", SDP: "v=0"}}

	require.NoError(t, m.HandleSignalling(env, invite))
	assert.Nil(t, m.PeerCall())
}

func TestRetryScheduledOnRetryableHangup(t *testing.T) {
	own := member.Identity{UserID: "@a", DeviceID: "D2", SessionID: "ownSess"}
	remote := member.Key{UserID: "@a", DeviceID: "D1"}
	transport := &fakeTransport{}

	scheduled := make(chan func(), 1)
	m := member.New(own, remote, "conf1", "remoteSess", 0, 0, transport,
		newFakeEngine,
		member.Callbacks{
			ScheduleRetry: func(delay time.Duration, retry func()) { scheduled <- retry },
		}, nil)

	require.NoError(t, m.Connect(context.Background(), peercall.Media{}))
	pc := m.PeerCall()
	require.NotNil(t, pc)

	require.NoError(t, pc.HandleIncoming(&signalling.HangupContent{
		Envelope: signalling.Envelope{CallID: pc.CallID()},
		Reason:   signalling.HangupICEFailed,
	}))

	assert.Equal(t, 1, m.RetryCount())

	select {
	case retry := <-scheduled:
		retry()
	case <-time.After(time.Second):
		t.Fatal("retry was not scheduled")
	}
	assert.NotNil(t, m.PeerCall())
}

func TestRetryGivesUpAfterMaxRetries(t *testing.T) {
	own := member.Identity{UserID: "@a", DeviceID: "D2", SessionID: "ownSess"}
	remote := member.Key{UserID: "@a", DeviceID: "D1"}
	transport := &fakeTransport{}

	removed := make(chan signalling.HangupReason, 1)
	m := member.New(own, remote, "conf1", "remoteSess", 0, 0, transport,
		newFakeEngine,
		member.Callbacks{
			ScheduleRetry: func(delay time.Duration, retry func()) { retry() },
			OnRemoved:     func(reason signalling.HangupReason) { removed <- reason },
		}, nil)

	for i := 0; i < member.MaxRetries+1; i++ {
		require.NoError(t, m.Connect(context.Background(), peercall.Media{}))
		pc := m.PeerCall()
		require.NotNil(t, pc)
		require.NoError(t, pc.HandleIncoming(&signalling.HangupContent{
			Envelope: signalling.Envelope{CallID: pc.CallID()},
			Reason:   signalling.HangupICEFailed,
		}))
	}

	select {
	case <-removed:
	case <-time.After(time.Second):
		t.Fatal("OnRemoved was not called after exhausting retries")
	}
}

func TestNonRetryableHangupRemovesImmediately(t *testing.T) {
	own := member.Identity{UserID: "@a", DeviceID: "D2", SessionID: "ownSess"}
	remote := member.Key{UserID: "@a", DeviceID: "D1"}
	transport := &fakeTransport{}

	removed := make(chan signalling.HangupReason, 1)
	m := member.New(own, remote, "conf1", "remoteSess", 0, 0, transport,
		newFakeEngine,
		member.Callbacks{OnRemoved: func(reason signalling.HangupReason) { removed <- reason }}, nil)

	require.NoError(t, m.Connect(context.Background(), peercall.Media{}))
	pc := m.PeerCall()
	require.NoError(t, pc.HandleIncoming(&signalling.HangupContent{
		Envelope: signalling.Envelope{CallID: pc.CallID()},
		Reason:   signalling.HangupUserHangup,
	}))

	select {
	case reason := <-removed:
		assert.Equal(t, signalling.HangupUserHangup, reason)
	case <-time.After(time.Second):
		t.Fatal("OnRemoved was not called")
	}
	assert.Equal(t, 0, m.RetryCount())
}

func TestResetRetriesClearsCounter(t *testing.T) {
	own := member.Identity{UserID: "@a", DeviceID: "D2", SessionID: "ownSess"}
	remote := member.Key{UserID: "@a", DeviceID: "D1"}
	transport := &fakeTransport{}

	m := member.New(own, remote, "conf1", "remoteSess", 0, 0, transport,
		newFakeEngine,
		member.Callbacks{ScheduleRetry: func(delay time.Duration, retry func()) {}}, nil)

	require.NoError(t, m.Connect(context.Background(), peercall.Media{}))
	pc := m.PeerCall()
	require.NoError(t, pc.HandleIncoming(&signalling.HangupContent{
		Envelope: signalling.Envelope{CallID: pc.CallID()},
		Reason:   signalling.HangupICEFailed,
	}))
	require.Equal(t, 1, m.RetryCount())

	m.ResetRetries()
	assert.Equal(t, 0, m.RetryCount())
}
