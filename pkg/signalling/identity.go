// Package signalling implements the wire schema for MSC3401-style group
// calls: the conference and member room-state events, and the per-leg
// to-device signalling messages (invite, answer, candidates, hangup,
// reject, negotiate, SDP stream metadata). It is a pure parser/serializer
// with no transport or state-machine concerns of its own.
package signalling

import "maunium.net/go/mautrix/id"

// UserID, DeviceID and SessionID are the identity types threaded through
// every package in this module, the same types the Matrix client SDK uses.
type (
	UserID    = id.UserID
	DeviceID  = id.DeviceID
	SessionID = id.SessionID
	RoomID    = id.RoomID
)

// MemberKey uniquely identifies a participating device within a conference.
type MemberKey struct {
	UserID   UserID
	DeviceID DeviceID
}

func (k MemberKey) String() string {
	return string(k.UserID) + "|" + string(k.DeviceID)
}
