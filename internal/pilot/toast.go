// internal/pilot/toast.go
package pilot

import (
	"fmt"
	"sync"
	"time"
)

// DefaultToastMinTrying is how long a "trying" toast stays up before the
// outcome may replace it.
const DefaultToastMinTrying = 500 * time.Millisecond

// ToastKind is the phase a toast shows.
type ToastKind string

const (
	ToastTrying  ToastKind = "trying"
	ToastSuccess ToastKind = "success"
	ToastError   ToastKind = "error"
)

// Toast is one on-page notice about a pilot action.
type Toast struct {
	TabID  int       `json:"tab_id"`
	Kind   ToastKind `json:"kind"`
	Text   string    `json:"text"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Toaster sequences the two-phase action toast.
type Toaster struct {
	minTrying time.Duration
	show      func(Toast)
	now       func() time.Time
}

// NewToaster creates a toaster that hands each toast to show. show may be
// called from a timer goroutine.
func NewToaster(minTrying time.Duration, show func(Toast)) *Toaster {
	if minTrying <= 0 {
		minTrying = DefaultToastMinTrying
	}
	return &Toaster{minTrying: minTrying, show: show, now: time.Now}
}

// ToastSequence is one action's toast pair.
type ToastSequence struct {
	t      *Toaster
	tabID  int
	reason string
	shown  time.Time

	once sync.Once
	done chan struct{}
}

// Begin shows the "trying" toast for reason.
func (t *Toaster) Begin(tabID int, reason string) *ToastSequence {
	s := &ToastSequence{t: t, tabID: tabID, reason: reason, shown: t.now(), done: make(chan struct{})}
	t.show(Toast{TabID: tabID, Kind: ToastTrying, Text: reason, At: s.shown})
	return s
}

// Finish schedules the outcome toast. It never appears earlier than the
// minimum trying duration after Begin. Only the first call has an effect.
func (s *ToastSequence) Finish(success bool, detail string) {
	s.once.Do(func() {
		kind := ToastSuccess
		if !success {
			kind = ToastError
		}
		toast := Toast{TabID: s.tabID, Kind: kind, Text: s.reason, Detail: detail}
		wait := s.t.minTrying - s.t.now().Sub(s.shown)
		if wait <= 0 {
			s.emit(toast)
			return
		}
		time.AfterFunc(wait, func() { s.emit(toast) })
	})
}

func (s *ToastSequence) emit(toast Toast) {
	toast.At = s.t.now()
	s.t.show(toast)
	close(s.done)
}

// Done is closed once the outcome toast has been shown.
func (s *ToastSequence) Done() <-chan struct{} { return s.done }

// outcomeDetail is the text shown under a failed action.
func outcomeDetail(kind, message string) string {
	if message == "" {
		return kind
	}
	return fmt.Sprintf("%s: %s", kind, message)
}
