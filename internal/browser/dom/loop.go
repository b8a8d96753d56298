// internal/browser/dom/loop.go
package dom

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultFrameInterval is the animation frame cadence of a visible tab.
const DefaultFrameInterval = 16 * time.Millisecond

// EventLoop runs script tasks for a tab one at a time. A task holds the loop
// for its whole duration, then the microtask queue (MutationObserver
// delivery) drains before the next task starts. Timers and animation frame
// callbacks are tasks too.
//
// Do must not be called from inside a task.
type EventLoop struct {
	mu         sync.Mutex
	microtasks []func()
	logger     *zap.Logger

	timerMu        sync.Mutex
	timers         map[int]*time.Timer
	nextTimer      int
	closed         bool
	hidden         bool
	framesDisabled bool
	pendingFrames  []func()
	frameInterval  time.Duration
}

// NewEventLoop creates an idle loop.
func NewEventLoop(logger *zap.Logger) *EventLoop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventLoop{
		logger:        logger.Named("event_loop"),
		timers:        make(map[int]*time.Timer),
		frameInterval: DefaultFrameInterval,
	}
}

// Do runs task as one loop task and drains microtasks before returning.
func (l *EventLoop) Do(task func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	defer l.drainMicrotasks()
	task()
}

// QueueMicrotask schedules fn to run at the end of the current task.
func (l *EventLoop) QueueMicrotask(fn func()) {
	l.microtasks = append(l.microtasks, fn)
}

func (l *EventLoop) drainMicrotasks() {
	for len(l.microtasks) > 0 {
		fn := l.microtasks[0]
		l.microtasks = l.microtasks[1:]
		l.safely("microtask", fn)
	}
}

// safely runs callbacks that have no caller to report a panic to.
func (l *EventLoop) safely(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Callback panicked.", zap.String("kind", kind), zap.Any("panic", r))
		}
	}()
	fn()
}

// SetTimeout schedules fn as a task after d and returns a handle for
// ClearTimeout. A closed loop returns 0 and never runs fn.
func (l *EventLoop) SetTimeout(d time.Duration, fn func()) int {
	l.timerMu.Lock()
	defer l.timerMu.Unlock()
	if l.closed {
		return 0
	}
	l.nextTimer++
	id := l.nextTimer
	// The entry is registered before the timer can fire.
	l.timers[id] = time.AfterFunc(d, func() {
		l.Do(func() {
			l.timerMu.Lock()
			_, live := l.timers[id]
			delete(l.timers, id)
			l.timerMu.Unlock()
			if live {
				l.safely("timer", fn)
			}
		})
	})
	return id
}

// ClearTimeout cancels a pending timer. Clearing from inside a task also
// prevents a timer that already fired but has not run yet.
func (l *EventLoop) ClearTimeout(id int) {
	l.timerMu.Lock()
	defer l.timerMu.Unlock()
	if t, ok := l.timers[id]; ok {
		t.Stop()
		delete(l.timers, id)
	}
}

// RequestAnimationFrame schedules fn for the next frame. It returns false
// when the realm has no animation frame support. Hidden tabs accept the
// request but do not run frames until they become visible again.
func (l *EventLoop) RequestAnimationFrame(fn func()) bool {
	l.timerMu.Lock()
	if l.framesDisabled || l.closed {
		l.timerMu.Unlock()
		return false
	}
	if l.hidden {
		l.pendingFrames = append(l.pendingFrames, fn)
		l.timerMu.Unlock()
		return true
	}
	interval := l.frameInterval
	l.timerMu.Unlock()
	l.SetTimeout(interval, fn)
	return true
}

// SetHidden toggles background throttling of animation frames.
func (l *EventLoop) SetHidden(hidden bool) {
	l.timerMu.Lock()
	l.hidden = hidden
	var flush []func()
	if !hidden {
		flush = l.pendingFrames
		l.pendingFrames = nil
	}
	interval := l.frameInterval
	l.timerMu.Unlock()
	for _, fn := range flush {
		l.SetTimeout(interval, fn)
	}
}

// SetAnimationFramesSupported enables or removes requestAnimationFrame.
func (l *EventLoop) SetAnimationFramesSupported(supported bool) {
	l.timerMu.Lock()
	l.framesDisabled = !supported
	l.timerMu.Unlock()
}

// PendingTimers reports scheduled timers that have not run.
func (l *EventLoop) PendingTimers() int {
	l.timerMu.Lock()
	defer l.timerMu.Unlock()
	return len(l.timers)
}

// Close stops every pending timer and rejects new ones.
func (l *EventLoop) Close() {
	l.timerMu.Lock()
	defer l.timerMu.Unlock()
	l.closed = true
	for id, t := range l.timers {
		t.Stop()
		delete(l.timers, id)
	}
	l.pendingFrames = nil
}
