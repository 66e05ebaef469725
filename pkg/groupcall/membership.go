package groupcall

import (
	"context"
	"time"

	"github.com/matrix-org/groupcall/pkg/member"
	"github.com/matrix-org/groupcall/pkg/signalling"
)

// UpdateMembership applies one user's device list from an inbound
// `m.call.member` state event: the reconciliation step of spec §4.D.
func (g *GroupCall) UpdateMembership(userID signalling.UserID, devices []signalling.DeviceEntry, eventTS int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	seen := make(map[signalling.DeviceID]bool, len(devices))

	for i, d := range devices {
		seen[d.DeviceID] = true

		if userID == g.own.UserID && d.DeviceID == g.own.DeviceID {
			g.ownDeviceIndex = i
			g.ownEventTS = eventTS
			if g.state == Joining {
				g.setState(Joined)
			}
			continue
		}

		key := signalling.MemberKey{UserID: userID, DeviceID: d.DeviceID}
		existing, ok := g.members[key]

		switch {
		case !ok:
			g.createMemberLocked(key, d.SessionID, i, eventTS)
		case existing.SessionID() != d.SessionID:
			existing.Dispose()
			delete(g.members, key)
			g.createMemberLocked(key, d.SessionID, i, eventTS)
		default:
			existing.UpdateCallInfo(i, eventTS)
		}
	}

	for key, m := range g.members {
		if key.UserID == userID && !seen[key.DeviceID] {
			m.Dispose()
			delete(g.members, key)
		}
	}

	if userID == g.own.UserID && !seen[g.own.DeviceID] && g.state.HasJoined() {
		g.logger.Info("own device absent from own membership event, treating as local disconnect")
		for key, m := range g.members {
			m.Dispose()
			delete(g.members, key)
		}
		g.setState(Created)
	}
}

// createMemberLocked constructs a new Member for key, drains any buffered
// to-device messages whose sender_session_id matches, and connects it
// immediately if this GroupCall is already joined.
func (g *GroupCall) createMemberLocked(key signalling.MemberKey, sessionID signalling.SessionID, deviceIndex int, eventTS int64) {
	m := member.New(g.own, key, g.confID, sessionID, deviceIndex, eventTS, g.homeserver, g.newEngine, g.memberCallbacks(key), g.logger, g.memberOpts...)
	g.members[key] = m
	g.drainBufferedLocked(key, m)

	if g.state.HasJoined() {
		if err := m.Connect(context.Background(), g.localMedia.toPeerCallMedia()); err != nil {
			g.logger.WithError(err).WithField("member", key.String()).Warn("failed to connect to newly reconciled member")
		}
	}
}

func (g *GroupCall) memberCallbacks(key signalling.MemberKey) member.Callbacks {
	return member.Callbacks{
		OnRemoved: func(reason signalling.HangupReason) {
			g.logger.WithField("member", key.String()).WithField("reason", string(reason)).Info("member's peer call was permanently removed")
		},
		ScheduleRetry: func(delay time.Duration, retry func()) {
			g.scheduleRetry(delay, retry)
		},
	}
}

// HandleDeviceMessage routes one inbound to-device message to the Member
// identified by (user_id, device_id), buffering it if no such Member
// exists yet or its session_id doesn't match (spec §4.D's "To-device
// routing and buffering").
func (g *GroupCall) HandleDeviceMessage(content any, userID signalling.UserID, deviceID signalling.DeviceID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	env, ok := signalling.EnvelopeOf(content)
	if !ok {
		g.logger.Warn("dropping to-device message of unrecognized type")
		return
	}

	key := signalling.MemberKey{UserID: userID, DeviceID: deviceID}

	if m, exists := g.members[key]; exists && env.SenderSessionID == m.SessionID() {
		if err := m.HandleSignalling(env, content); err != nil {
			g.logger.WithError(err).WithField("member", key.String()).Warn("member failed to handle signalling message")
		}
		return
	}

	g.bufferLocked(key, bufferedMessage{content: content, env: env})
}

func (g *GroupCall) bufferLocked(key signalling.MemberKey, msg bufferedMessage) {
	queue := g.buffered[key]
	if len(queue) >= bufferCap {
		g.logger.WithField("member", key.String()).Warn("buffered message queue full, dropping oldest")
		queue = queue[1:]
	}
	g.buffered[key] = append(queue, msg)
}

func (g *GroupCall) drainBufferedLocked(key signalling.MemberKey, m *member.Member) {
	queue, ok := g.buffered[key]
	if !ok {
		return
	}

	remaining := queue[:0:0]
	for _, bm := range queue {
		if bm.env.SenderSessionID == m.SessionID() {
			if err := m.HandleSignalling(bm.env, bm.content); err != nil {
				g.logger.WithError(err).WithField("member", key.String()).Warn("member failed to handle drained signalling message")
			}
		} else {
			remaining = append(remaining, bm)
		}
	}

	if len(remaining) == 0 {
		delete(g.buffered, key)
	} else {
		g.buffered[key] = remaining
	}
}
