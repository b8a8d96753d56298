package dom

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestEventLoopMicrotasks(t *testing.T) {
	loop := NewEventLoop(zaptest.NewLogger(t))
	defer loop.Close()

	var order []string
	loop.Do(func() {
		loop.QueueMicrotask(func() {
			order = append(order, "micro-1")
			loop.QueueMicrotask(func() { order = append(order, "micro-nested") })
		})
		loop.QueueMicrotask(func() { order = append(order, "micro-2") })
		order = append(order, "task")
	})
	assert.Equal(t, []string{"task", "micro-1", "micro-2", "micro-nested"}, order)
}

func TestEventLoopMicrotaskPanicIsContained(t *testing.T) {
	loop := NewEventLoop(zaptest.NewLogger(t))
	defer loop.Close()

	ran := false
	loop.Do(func() {
		loop.QueueMicrotask(func() { panic("boom") })
		loop.QueueMicrotask(func() { ran = true })
	})
	assert.True(t, ran, "microtasks after a panicking one still run")
}

func TestEventLoopTimers(t *testing.T) {
	defer goleak.VerifyNone(t)
	loop := NewEventLoop(zaptest.NewLogger(t))
	defer loop.Close()

	t.Run("Fires", func(t *testing.T) {
		done := make(chan struct{})
		loop.SetTimeout(5*time.Millisecond, func() { close(done) })
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timer never fired")
		}
	})

	t.Run("ClearTimeout From Inside A Task", func(t *testing.T) {
		var fired atomic.Bool
		var id int
		loop.Do(func() {
			id = loop.SetTimeout(time.Millisecond, func() { fired.Store(true) })
			// Hold the task past the deadline so the timer goroutine is queued.
			time.Sleep(10 * time.Millisecond)
			loop.ClearTimeout(id)
		})
		time.Sleep(20 * time.Millisecond)
		assert.False(t, fired.Load())
		assert.Equal(t, 0, loop.PendingTimers())
	})

	t.Run("Closed Loop Rejects Timers", func(t *testing.T) {
		other := NewEventLoop(nil)
		other.SetTimeout(time.Hour, func() {})
		require.Equal(t, 1, other.PendingTimers())
		other.Close()
		assert.Equal(t, 0, other.PendingTimers())
		assert.Equal(t, 0, other.SetTimeout(time.Millisecond, func() {}))
	})
}

func TestEventLoopAnimationFrames(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("Hidden Tabs Defer Frames", func(t *testing.T) {
		loop := NewEventLoop(zaptest.NewLogger(t))
		defer loop.Close()

		var ran atomic.Bool
		loop.SetHidden(true)
		require.True(t, loop.RequestAnimationFrame(func() { ran.Store(true) }))
		time.Sleep(3 * DefaultFrameInterval)
		assert.False(t, ran.Load(), "frames must not run while hidden")

		loop.SetHidden(false)
		assert.Eventually(t, ran.Load, time.Second, 5*time.Millisecond)
	})

	t.Run("Unsupported", func(t *testing.T) {
		loop := NewEventLoop(zaptest.NewLogger(t))
		defer loop.Close()
		loop.SetAnimationFramesSupported(false)
		assert.False(t, loop.RequestAnimationFrame(func() {}))
	})
}
