package groupcall_test

import (
	"context"
	"testing"
	"time"

	"github.com/matrix-org/groupcall/pkg/groupcall"
	"github.com/matrix-org/groupcall/pkg/internal/fakewebrtc"
	"github.com/matrix-org/groupcall/pkg/internal/faketransport"
	"github.com/matrix-org/groupcall/pkg/member"
	"github.com/matrix-org/groupcall/pkg/signalling"
	"github.com/matrix-org/groupcall/pkg/webrtcengine"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeEngine() (webrtcengine.Engine, error) {
	return &fakewebrtc.Engine{}, nil
}

func newTestGroupCall(t *testing.T, transport *faketransport.Transport) *groupcall.GroupCall {
	t.Helper()
	own := member.Identity{UserID: "@me:example.org", DeviceID: "OWN", SessionID: "ownSess"}
	return groupcall.New("!room:example.org", "conf1", own, transport, newFakeEngine, groupcall.Callbacks{}, nil)
}

func TestCreateTransitionsFledglingToCreated(t *testing.T) {
	transport := faketransport.New()
	g := newTestGroupCall(t, transport)

	require.NoError(t, g.Create(context.Background(), signalling.IntentRoom, signalling.CallTypeVideo, "standup"))
	assert.Equal(t, groupcall.Created, g.State())
	require.Equal(t, 1, transport.StateEventCount())
	assert.Equal(t, signalling.EventConference, transport.LastStateEvent().EventType)
}

func TestCreateInvalidFromNonFledgling(t *testing.T) {
	transport := faketransport.New()
	g := newTestGroupCall(t, transport)
	require.NoError(t, g.Create(context.Background(), signalling.IntentRoom, signalling.CallTypeVideo, ""))

	err := g.Create(context.Background(), signalling.IntentRoom, signalling.CallTypeVideo, "")
	assert.ErrorIs(t, err, groupcall.ErrInvalidState)
}

func TestJoinSendsOwnMembershipAndQueriesTURN(t *testing.T) {
	transport := faketransport.New()
	transport.TURNSettings = groupcall.TURNSettings{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"turn:turn.example.org"}}},
	}
	g := newTestGroupCall(t, transport)
	require.NoError(t, g.Create(context.Background(), signalling.IntentRoom, signalling.CallTypeVideo, ""))

	require.NoError(t, g.Join(context.Background(), groupcall.LocalMedia{}))
	assert.Equal(t, groupcall.Joining, g.State())
	assert.Equal(t, transport.TURNSettings, g.TURNSettings())

	require.Equal(t, 2, transport.StateEventCount())
	assert.Equal(t, signalling.EventMember, transport.LastStateEvent().EventType)

	g.ObserveOwnMembership(0, 100)
	assert.Equal(t, groupcall.Joined, g.State())
}

func TestUpdateMembershipCreatesMemberAndConnectsWhenJoined(t *testing.T) {
	transport := faketransport.New()
	g := newTestGroupCall(t, transport)
	require.NoError(t, g.Create(context.Background(), signalling.IntentRoom, signalling.CallTypeVideo, ""))
	require.NoError(t, g.Join(context.Background(), groupcall.LocalMedia{}))
	g.ObserveOwnMembership(0, 1)

	g.UpdateMembership("@bob:example.org", []signalling.DeviceEntry{
		{DeviceID: "AAAAAAA", SessionID: "bobSess"},
	}, 10)

	assert.Equal(t, 1, g.MemberCount())
	// The user IDs differ and "@me:example.org" sorts after "@bob:example.org",
	// so we are the initiator and should have sent an Invite immediately.
	require.Equal(t, 1, transport.ToDeviceCount())
	assert.Equal(t, signalling.EventInvite, transport.LastToDevice().EventType)
}

func TestUpdateMembershipRemovesAbsentDevices(t *testing.T) {
	transport := faketransport.New()
	g := newTestGroupCall(t, transport)
	require.NoError(t, g.Create(context.Background(), signalling.IntentRoom, signalling.CallTypeVideo, ""))
	require.NoError(t, g.Join(context.Background(), groupcall.LocalMedia{}))
	g.ObserveOwnMembership(0, 1)

	g.UpdateMembership("@bob:example.org", []signalling.DeviceEntry{{DeviceID: "B1", SessionID: "s1"}}, 10)
	require.Equal(t, 1, g.MemberCount())

	g.UpdateMembership("@bob:example.org", []signalling.DeviceEntry{}, 11)
	assert.Equal(t, 0, g.MemberCount())
}

func TestUpdateMembershipSessionChangeReplacesMember(t *testing.T) {
	transport := faketransport.New()
	g := newTestGroupCall(t, transport)
	require.NoError(t, g.Create(context.Background(), signalling.IntentRoom, signalling.CallTypeVideo, ""))
	require.NoError(t, g.Join(context.Background(), groupcall.LocalMedia{}))
	g.ObserveOwnMembership(0, 1)

	g.UpdateMembership("@bob:example.org", []signalling.DeviceEntry{{DeviceID: "B1", SessionID: "s1"}}, 10)
	require.Equal(t, 1, g.MemberCount())

	g.UpdateMembership("@bob:example.org", []signalling.DeviceEntry{{DeviceID: "B1", SessionID: "s2"}}, 20)
	assert.Equal(t, 1, g.MemberCount(), "replaced, not duplicated")
}

func TestHandleDeviceMessageBuffersUntilMembershipArrives(t *testing.T) {
	transport := faketransport.New()
	g := newTestGroupCall(t, transport)
	require.NoError(t, g.Create(context.Background(), signalling.IntentRoom, signalling.CallTypeVideo, ""))
	require.NoError(t, g.Join(context.Background(), groupcall.LocalMedia{}))
	g.ObserveOwnMembership(0, 1)

	invite := &signalling.InviteContent{
		Envelope: signalling.Envelope{CallID: "c1", SenderSessionID: "bobSess"},
		Offer:    signalling.SDP{Type: "offer", SDP: "v=0"},
	}

	// Arrives before Bob's membership is known; bobSess doesn't match any
	// existing Member, so it must be buffered, not dropped.
	g.HandleDeviceMessage(invite, "@bob:example.org", "B1")
	assert.Equal(t, 0, g.MemberCount())

	g.UpdateMembership("@bob:example.org", []signalling.DeviceEntry{{DeviceID: "B1", SessionID: "bobSess"}}, 10)

	require.Equal(t, 1, g.MemberCount())
	member := g.Members()["@bob:example.org|B1"]
	require.NotNil(t, member)
	assert.NotNil(t, member.PeerCall(), "buffered invite should have been drained into the new member")
}

func TestLeaveDisposesAllMembers(t *testing.T) {
	transport := faketransport.New()
	g := newTestGroupCall(t, transport)
	require.NoError(t, g.Create(context.Background(), signalling.IntentRoom, signalling.CallTypeVideo, ""))
	require.NoError(t, g.Join(context.Background(), groupcall.LocalMedia{}))
	g.ObserveOwnMembership(0, 1)

	g.UpdateMembership("@bob:example.org", []signalling.DeviceEntry{{DeviceID: "B1", SessionID: "s1"}}, 10)
	require.Equal(t, 1, g.MemberCount())

	require.NoError(t, g.Leave(context.Background()))
	assert.Equal(t, 0, g.MemberCount())
	assert.Equal(t, groupcall.Created, g.State())
}

func TestLeaveWithRingIntentAndNoMembersTerminatesConference(t *testing.T) {
	transport := faketransport.New()
	g := newTestGroupCall(t, transport)
	require.NoError(t, g.Create(context.Background(), signalling.IntentRing, signalling.CallTypeVideo, ""))
	require.NoError(t, g.Join(context.Background(), groupcall.LocalMedia{}))
	g.ObserveOwnMembership(0, 1)

	require.NoError(t, g.Leave(context.Background()))
	assert.True(t, g.Terminated())
}

func TestScheduleRetryInvokesOnOwnTimer(t *testing.T) {
	transport := faketransport.New()
	g := newTestGroupCall(t, transport)
	require.NoError(t, g.Create(context.Background(), signalling.IntentRoom, signalling.CallTypeVideo, ""))
	require.NoError(t, g.Join(context.Background(), groupcall.LocalMedia{}))
	g.ObserveOwnMembership(0, 1)

	g.UpdateMembership("@bob:example.org", []signalling.DeviceEntry{{DeviceID: "B1", SessionID: "s1"}}, 10)
	m := g.Members()["@bob:example.org|B1"]
	require.NotNil(t, m)
	pc := m.PeerCall()
	require.NotNil(t, pc)

	require.NoError(t, pc.HandleIncoming(&signalling.HangupContent{
		Envelope: signalling.Envelope{CallID: pc.CallID()},
		Reason:   signalling.HangupICEFailed,
	}))

	require.Eventually(t, func() bool {
		m := g.Members()["@bob:example.org|B1"]
		return m != nil && m.PeerCall() != nil
	}, time.Second, 10*time.Millisecond)
}
