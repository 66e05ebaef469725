package signalling

import "github.com/tidwall/gjson"

// Envelope extracts the common envelope fields out of an UnknownContent's
// raw body without knowing its full schema, using gjson, so the call_id,
// conf_id and device_id of a newly introduced message type (behind an
// unstable MSC prefix, say) can be read. pkg/transport's Dispatcher drops
// unknown content without routing it.
func (u *UnknownContent) Envelope() Envelope {
	r := gjson.ParseBytes(u.Raw)
	return Envelope{
		CallID:          r.Get("call_id").String(),
		ConfID:          r.Get("conf_id").String(),
		PartyID:         r.Get("party_id").String(),
		DeviceID:        DeviceID(r.Get("device_id").String()),
		SenderSessionID: SessionID(r.Get("sender_session_id").String()),
		DestSessionID:   SessionID(r.Get("dest_session_id").String()),
		Seq:             uint32(r.Get("seq").Uint()),
	}
}
