package signalling

// EventType names the nine event kinds this codec understands; the two
// state event kinds and the seven to-device signalling message kinds.
type EventType string

const (
	EventConference               EventType = "m.call"
	EventMember                   EventType = "m.call.member"
	EventInvite                   EventType = "m.call.invite"
	EventAnswer                   EventType = "m.call.answer"
	EventCandidates               EventType = "m.call.candidates"
	EventHangup                   EventType = "m.call.hangup"
	EventReject                   EventType = "m.call.reject"
	EventNegotiate                EventType = "m.call.negotiate"
	EventSDPStreamMetadataChanged EventType = "m.call.sdp_stream_metadata_changed"
)

// Envelope carries the fields common to every to-device signalling message,
// per §4.A. Every outbound message is stamped with the *current*
// (conf_id, own_device_id, own_session_id, dest_session_id) by the Member
// layer before transmission (invariant 4).
type Envelope struct {
	CallID          string    `json:"call_id"`
	ConfID          string    `json:"conf_id"`
	PartyID         string    `json:"party_id"`
	DeviceID        DeviceID  `json:"device_id"`
	SenderSessionID SessionID `json:"sender_session_id"`
	DestSessionID   SessionID `json:"dest_session_id"`
	Seq             uint32    `json:"seq"`
}

// SDP is the opaque session description payload carried by Invite, Answer
// and Negotiate messages. The core never interprets the SDP blob itself.
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// InviteContent is `m.call.invite`: offers a new leg.
type InviteContent struct {
	Envelope
	Offer             SDP               `json:"offer"`
	Lifetime          int               `json:"lifetime,omitempty"`
	SDPStreamMetadata SDPStreamMetadata `json:"org.matrix.msc3077.sdp_stream_metadata,omitempty"`
}

// AnswerContent is `m.call.answer`: accepts an Invite.
type AnswerContent struct {
	Envelope
	Answer            SDP               `json:"answer"`
	SDPStreamMetadata SDPStreamMetadata `json:"org.matrix.msc3077.sdp_stream_metadata,omitempty"`
}

// CandidatesContent is `m.call.candidates`: one or more ICE candidates, or a
// single EndOfCandidates sentinel marking the end of gathering.
type CandidatesContent struct {
	Envelope
	Candidates []Candidate `json:"candidates"`
}

// HangupContent is `m.call.hangup`: terminal, reason-carrying.
type HangupContent struct {
	Envelope
	Reason HangupReason `json:"reason,omitempty"`
}

// RejectContent is `m.call.reject`: the callee declines before answering.
type RejectContent struct {
	Envelope
	Reason HangupReason `json:"reason,omitempty"`
}

// NegotiateContent is `m.call.negotiate`: a renegotiation offer/answer sent
// over an already-connected leg (Perfect Negotiation, §4.B).
type NegotiateContent struct {
	Envelope
	Description       SDP               `json:"description"`
	SDPStreamMetadata SDPStreamMetadata `json:"org.matrix.msc3077.sdp_stream_metadata,omitempty"`
}

// SDPStreamMetadataChangedContent is `m.call.sdp_stream_metadata_changed`:
// informs the peer that stream metadata (mute state, purpose) changed
// without a renegotiation.
type SDPStreamMetadataChangedContent struct {
	Envelope
	SDPStreamMetadata SDPStreamMetadata `json:"org.matrix.msc3077.sdp_stream_metadata"`
}

// UnknownContent is returned for any to-device event type this codec does
// not recognise, preserving the raw bytes for forward compatibility.
type UnknownContent struct {
	Type EventType
	Raw  []byte
}
