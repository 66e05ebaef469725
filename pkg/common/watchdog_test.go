package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testWatchdog(t *testing.T, onTimeout func()) *WatchdogChannel {
	t.Helper()
	w := (&WatchdogConfig{Timeout: 20 * time.Millisecond, OnTimeout: onTimeout}).Start()
	t.Cleanup(w.Close)
	return w
}

func TestWatchdogFiresOnTimeout(t *testing.T) {
	fired := make(chan struct{}, 1)
	w := testWatchdog(t, func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("OnTimeout was not called")
	}

	w.Close()
}

func TestWatchdogNotifyResetsTimeout(t *testing.T) {
	fired := make(chan struct{}, 1)
	w := testWatchdog(t, func() { fired <- struct{}{} })

	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		assert.True(t, w.Notify())
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-fired:
		t.Fatal("OnTimeout fired despite continuous progress")
	default:
	}
}

func TestWatchdogNotifyAfterCloseReturnsFalse(t *testing.T) {
	w := testWatchdog(t, func() {})
	w.Close()
	assert.False(t, w.Notify())
}
