package signalling

import "github.com/google/uuid"

// NewCallID mints a fresh opaque call_id for a locally initiated PeerCall
// leg (spec §3: "call_id (opaque string, generated by the initiator)").
func NewCallID() string {
	return uuid.NewString()
}

// NewSessionID mints a fresh opaque session_id for a new join, whose
// change signals to remote peers that this client has restarted (spec
// GLOSSARY: "Session id").
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}
