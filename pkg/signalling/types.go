package signalling

// Intent is the `m.intent` field of a conference (`m.call`) state event.
type Intent string

const (
	IntentRing   Intent = "m.ring"
	IntentPrompt Intent = "m.prompt"
	IntentRoom   Intent = "m.room"
)

// CallType is the `m.type` field of a conference state event.
type CallType string

const (
	CallTypeVoice CallType = "m.voice"
	CallTypeVideo CallType = "m.video"
)

// HangupReason enumerates the reasons a leg can be torn down, carried in
// `m.call.hangup`/`m.call.reject` content and echoed in PeerCall state.
type HangupReason string

const (
	HangupUserHangup        HangupReason = "user_hangup"
	HangupAnsweredElsewhere HangupReason = "answered_elsewhere"
	HangupReplaced          HangupReason = "replaced"
	HangupUserBusy          HangupReason = "user_busy"
	HangupTransferred       HangupReason = "transferred"
	HangupNewSession        HangupReason = "new_session"
	HangupInviteTimeout     HangupReason = "invite_timeout"
	HangupICEFailed         HangupReason = "ice_failed"
	HangupICETimeout        HangupReason = "ice_timeout"
	HangupUserMediaFailed   HangupReason = "user_media_failed"
	HangupUnknownError      HangupReason = "unknown_error"
)

// Retryable reports whether a PeerCall ending with this reason should be
// retried by the owning Member, per §4.B's failure semantics.
func (r HangupReason) Retryable() bool {
	switch r {
	case HangupUserHangup, HangupAnsweredElsewhere, HangupReplaced,
		HangupUserBusy, HangupTransferred, HangupNewSession:
		return false
	default:
		return true
	}
}

// ConferenceContent is the content of the `m.call` conference state event,
// state-keyed by conference_id.
type ConferenceContent struct {
	Intent     Intent   `json:"m.intent"`
	Type       CallType `json:"m.type"`
	Name       string   `json:"m.name,omitempty"`
	Terminated bool     `json:"m.terminated,omitempty"`
}

// Feed describes one published media feed of a device within a conference.
type Feed struct {
	Purpose string `json:"purpose"`
}

// DeviceEntry is one device's participation in a single `m.calls[]` entry of
// an `m.call.member` event.
type DeviceEntry struct {
	DeviceID  DeviceID  `json:"device_id"`
	SessionID SessionID `json:"session_id"`
	Feeds     []Feed    `json:"feeds,omitempty"`
}

// CallsEntry is one conference a user participates in, as carried in the
// `m.calls` array of their `m.call.member` state event. A user can be a
// member of multiple conferences in the same room simultaneously.
type CallsEntry struct {
	ConfID  string        `json:"m.call_id"`
	Devices []DeviceEntry `json:"m.devices"`
}

// MemberContent is the content of the `m.call.member` state event,
// state-keyed by user_id.
type MemberContent struct {
	Calls []CallsEntry `json:"m.calls"`
}

// DevicesFor returns the device list for the given conference, or nil if the
// member event does not reference that conference at all.
func (m MemberContent) DevicesFor(confID string) []DeviceEntry {
	for _, entry := range m.Calls {
		if entry.ConfID == confID {
			return entry.Devices
		}
	}
	return nil
}

// SDPStreamMetadataTrack describes one track within a stream's metadata.
type SDPStreamMetadataTrack struct {
	Kind   string `json:"kind,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// SDPStreamMetadataEntry is the per-stream metadata carried alongside SDP.
type SDPStreamMetadataEntry struct {
	Purpose    string                            `json:"purpose"`
	AudioMuted bool                              `json:"audio_muted,omitempty"`
	VideoMuted bool                              `json:"video_muted,omitempty"`
	Tracks     map[string]SDPStreamMetadataTrack `json:"tracks,omitempty"`
}

// SDPStreamMetadata maps stream ID to its metadata entry.
type SDPStreamMetadata map[string]SDPStreamMetadataEntry

// Candidate is a single ICE candidate as carried on the wire. An empty
// Candidate with no SDPMid/SDPMLineIndex is the end-of-gathering sentinel.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex int    `json:"sdpMLineIndex,omitempty"`
}

// EndOfCandidates is the sentinel sent once ICE gathering has finished.
var EndOfCandidates = Candidate{}
