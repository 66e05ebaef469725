package signalling

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedEvent is returned by Decode when the event's JSON body cannot
// be unmarshalled into the content type its Type implies.
var ErrMalformedEvent = errors.New("signalling: malformed event content")

// ErrUnknownEventType is wrapped into ErrMalformedEvent's chain by Decode
// when asked to decode a type this codec has no content struct for; callers
// that want to tolerate unknown types should use DecodeTolerant instead.
var ErrUnknownEventType = errors.New("signalling: unknown event type")

// Decode parses the to-device message body for the given event type into
// its corresponding content struct, returned as `any`. The caller type
// switches on the concrete type to continue. Unrecognised types return
// ErrUnknownEventType wrapped in ErrMalformedEvent.
func Decode(t EventType, body []byte) (any, error) {
	var content any
	switch t {
	case EventInvite:
		content = &InviteContent{}
	case EventAnswer:
		content = &AnswerContent{}
	case EventCandidates:
		content = &CandidatesContent{}
	case EventHangup:
		content = &HangupContent{}
	case EventReject:
		content = &RejectContent{}
	case EventNegotiate:
		content = &NegotiateContent{}
	case EventSDPStreamMetadataChanged:
		content = &SDPStreamMetadataChangedContent{}
	default:
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedEvent, t, ErrUnknownEventType)
	}

	if err := json.Unmarshal(body, content); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedEvent, t, err)
	}
	return content, nil
}

// DecodeTolerant behaves like Decode, but returns an *UnknownContent instead
// of an error for event types this codec does not recognise, so a caller
// routing a stream of mixed to-device traffic can skip what it doesn't
// understand rather than failing the whole batch.
func DecodeTolerant(t EventType, body []byte) (any, error) {
	content, err := Decode(t, body)
	if errors.Is(err, ErrUnknownEventType) {
		raw := make([]byte, len(body))
		copy(raw, body)
		return &UnknownContent{Type: t, Raw: raw}, nil
	}
	return content, err
}

// Encode marshals a signalling content struct back into its wire form.
func Encode(content any) ([]byte, error) {
	body, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %w", ErrMalformedEvent, err)
	}
	return body, nil
}

// DecodeConference parses an `m.call` state event's content.
func DecodeConference(body []byte) (*ConferenceContent, error) {
	var content ConferenceContent
	if err := json.Unmarshal(body, &content); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedEvent, EventConference, err)
	}
	return &content, nil
}

// DecodeMember parses an `m.call.member` state event's content.
func DecodeMember(body []byte) (*MemberContent, error) {
	var content MemberContent
	if err := json.Unmarshal(body, &content); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedEvent, EventMember, err)
	}
	return &content, nil
}
