package groupcall

import "time"

// scheduleRetry arranges for retry to run after delay, per spec §9's note
// that only the owning GroupCall may re-enter its own state machine's
// timeline — the timer goroutine takes g.mu before invoking retry, so a
// retry is serialized with every other GroupCall method.
func (g *GroupCall) scheduleRetry(delay time.Duration, retry func()) {
	time.AfterFunc(delay, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		retry()
	})
}
