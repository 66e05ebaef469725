package signalling_test

import (
	"errors"
	"testing"

	"github.com/matrix-org/groupcall/pkg/signalling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInviteRoundTrip(t *testing.T) {
	original := &signalling.InviteContent{
		Envelope: signalling.Envelope{
			CallID:          "call1",
			ConfID:          "conf1",
			PartyID:         "party1",
			DeviceID:        "DEVICE",
			SenderSessionID: "sessA",
			DestSessionID:   "sessB",
			Seq:             3,
		},
		Offer:    signalling.SDP{Type: "offer", SDP: "v=0..."},
		Lifetime: 60000,
	}

	body, err := signalling.Encode(original)
	require.NoError(t, err)

	decoded, err := signalling.Decode(signalling.EventInvite, body)
	require.NoError(t, err)

	invite, ok := decoded.(*signalling.InviteContent)
	require.True(t, ok)
	assert.Equal(t, original, invite)
}

func TestDecodeUnknownEventType(t *testing.T) {
	_, err := signalling.Decode("m.call.future_thing", []byte(`{}`))
	assert.ErrorIs(t, err, signalling.ErrMalformedEvent)
	assert.ErrorIs(t, err, signalling.ErrUnknownEventType)
}

func TestDecodeTolerantUnknownEventType(t *testing.T) {
	body := []byte(`{"call_id":"c1","conf_id":"f1","device_id":"D","seq":7}`)
	content, err := signalling.DecodeTolerant("m.call.future_thing", body)
	require.NoError(t, err)

	unknown, ok := content.(*signalling.UnknownContent)
	require.True(t, ok)
	assert.Equal(t, signalling.EventType("m.call.future_thing"), unknown.Type)

	env := unknown.Envelope()
	assert.Equal(t, "c1", env.CallID)
	assert.Equal(t, "f1", env.ConfID)
	assert.Equal(t, signalling.DeviceID("D"), env.DeviceID)
	assert.EqualValues(t, 7, env.Seq)
}

func TestDecodeMalformedBody(t *testing.T) {
	_, err := signalling.Decode(signalling.EventHangup, []byte(`not json`))
	assert.ErrorIs(t, err, signalling.ErrMalformedEvent)
	assert.False(t, errors.Is(err, signalling.ErrUnknownEventType))
}

func TestHangupReasonRetryable(t *testing.T) {
	assert.False(t, signalling.HangupUserHangup.Retryable())
	assert.False(t, signalling.HangupAnsweredElsewhere.Retryable())
	assert.False(t, signalling.HangupReplaced.Retryable())
	assert.False(t, signalling.HangupUserBusy.Retryable())
	assert.False(t, signalling.HangupTransferred.Retryable())
	assert.False(t, signalling.HangupNewSession.Retryable())

	assert.True(t, signalling.HangupICEFailed.Retryable())
	assert.True(t, signalling.HangupICETimeout.Retryable())
	assert.True(t, signalling.HangupInviteTimeout.Retryable())
	assert.True(t, signalling.HangupUserMediaFailed.Retryable())
	assert.True(t, signalling.HangupUnknownError.Retryable())
}

func TestMemberContentDevicesFor(t *testing.T) {
	content := signalling.MemberContent{
		Calls: []signalling.CallsEntry{
			{ConfID: "confA", Devices: []signalling.DeviceEntry{{DeviceID: "d1"}}},
			{ConfID: "confB", Devices: []signalling.DeviceEntry{{DeviceID: "d2"}}},
		},
	}

	assert.Equal(t, []signalling.DeviceEntry{{DeviceID: "d1"}}, content.DevicesFor("confA"))
	assert.Nil(t, content.DevicesFor("confC"))
}
