package signalling

// EnvelopeOf extracts the common Envelope out of any to-device content
// struct. Shared by pkg/peercall (seq-dedup) and pkg/groupcall (to-device
// routing and buffering), so the type switch over the wire schema lives in
// one place.
func EnvelopeOf(content any) (Envelope, bool) {
	switch msg := content.(type) {
	case *InviteContent:
		return msg.Envelope, true
	case *AnswerContent:
		return msg.Envelope, true
	case *CandidatesContent:
		return msg.Envelope, true
	case *NegotiateContent:
		return msg.Envelope, true
	case *HangupContent:
		return msg.Envelope, true
	case *RejectContent:
		return msg.Envelope, true
	case *SDPStreamMetadataChangedContent:
		return msg.Envelope, true
	default:
		return Envelope{}, false
	}
}
