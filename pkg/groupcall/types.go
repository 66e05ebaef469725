// Package groupcall implements GroupCall (spec §4.D): the conference
// lifecycle and the Map<MemberKey, Member> for one conference in one room.
// The three asynchronous event sources the spec calls out — inbound
// room-state, inbound to-device messages, and local intents — all funnel
// through GroupCall's own mutex rather than a dedicated cooperative task,
// generalizing the teacher's single-consumer processMessages select loop to
// plain mutex-guarded methods driven directly by pkg/registry's dispatch.
package groupcall

import (
	"context"
	"errors"
	"time"

	"github.com/matrix-org/groupcall/pkg/member"
	"github.com/matrix-org/groupcall/pkg/peercall"
	"github.com/matrix-org/groupcall/pkg/signalling"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

// State is one node of the GroupCall lifecycle (spec §3): Fledgling →
// Creating → Created → Joining → Joined, with Joined → Created on
// disconnect.
type State int

const (
	Fledgling State = iota
	Creating
	Created
	Joining
	Joined
)

func (s State) String() string {
	switch s {
	case Fledgling:
		return "Fledgling"
	case Creating:
		return "Creating"
	case Created:
		return "Created"
	case Joining:
		return "Joining"
	case Joined:
		return "Joined"
	default:
		return "Unknown"
	}
}

// HasJoined implements invariant 5: hasJoined ⇔ state ∈ {Joining, Joined}.
func (s State) HasJoined() bool {
	return s == Joining || s == Joined
}

var (
	// ErrInvalidState is returned by an operation that requires a lifecycle
	// state other than the one GroupCall is currently in.
	ErrInvalidState = errors.New("groupcall: operation not valid in current state")

	// ErrAlreadyDisposed is not returned by any GroupCall method: Leave
	// returns the GroupCall to Created, from which it can be joined again.
	ErrAlreadyDisposed = errors.New("groupcall: already left/disposed")
)

// LocalMedia is the local participant's published media state, shared
// read-only with every Member (spec §5's "Shared resources"); only
// GroupCall may replace it, via SetMedia.
type LocalMedia struct {
	AudioMuted bool
	VideoMuted bool
	TrackIDs   []string
}

func (m LocalMedia) toPeerCallMedia() peercall.Media {
	return peercall.Media{AudioMuted: m.AudioMuted, VideoMuted: m.VideoMuted, TrackIDs: m.TrackIDs}
}

// MuteSettings is the argument to SetMuted.
type MuteSettings struct {
	AudioMuted bool
	VideoMuted bool
}

// TURNSettings is the cached result of QueryTURNSettings, observable per
// spec §5 ("TURN settings are observable and cached per join").
type TURNSettings struct {
	ICEServers []webrtc.ICEServer
}

// Homeserver is the subset of the injected homeserver transport (spec §6)
// GroupCall needs: state-event and to-device sends, plus TURN settings.
// It is structurally satisfied by anything implementing member.Transport
// for the SendToDevice leg, so a single concrete transport.Homeserver
// implementation can serve both this package and pkg/member.
type Homeserver interface {
	SendState(ctx context.Context, roomID signalling.RoomID, eventType signalling.EventType, stateKey string, content any) error
	SendToDevice(ctx context.Context, userID signalling.UserID, deviceID signalling.DeviceID, eventType signalling.EventType, content any) error
	QueryTURNSettings(ctx context.Context) (TURNSettings, error)
}

// EngineFactory is threaded straight down to every Member (pkg/member),
// one fresh webrtcengine.Engine per PeerCall leg.
type EngineFactory = member.EngineFactory

// Callbacks are GroupCall's upward references to whatever embeds it (the
// Registry, or a UI layer), expressed as plain function values per spec
// §9's "ownership tree with weak back-references" note.
type Callbacks struct {
	// OnStateChange fires whenever the GroupCall's own lifecycle state
	// changes.
	OnStateChange func(old, new State)

	// OnTerminated fires once the conference is marked terminated in
	// room state and no local resources remain, signalling to the owning
	// Registry that this GroupCall can be dropped after the grace window.
	OnTerminated func()
}

// Clock lets tests substitute a deterministic wall clock; defaults to
// time.Now.
type Clock = func() time.Time

// defaultRPCTimeout is the context deadline spec §5 recommends for
// homeserver RPCs (10s); overridable per-GroupCall via WithRPCTimeout
// (pkg/config's runtime.rpcTimeoutSeconds, wired in cmd/groupcalld). ICE
// connectivity's 30s deadline is its own knob, WithICETimeout, enforced by
// a watchdog inside pkg/peercall (pkg/common.WatchdogConfig).
const defaultRPCTimeout = 10 * time.Second

func newLogger(confID string, logger *logrus.Entry) *logrus.Entry {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return logger.WithField("conf_id", confID)
}
