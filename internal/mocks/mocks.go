// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
)

// -- Dispatcher Mock --

// MockDispatcher mocks pilot.Dispatcher.
type MockDispatcher struct {
	mock.Mock
}

// Dispatch returns the configured ActionResult. A context that is already
// done short-circuits into an execution_error result, matching the real
// dispatcher.
func (m *MockDispatcher) Dispatch(ctx context.Context, tabID int, params schemas.DOMActionParams) schemas.ActionResult {
	select {
	case <-ctx.Done():
		return schemas.Fail(params.EffectiveAction(), params.Selector, schemas.ErrExecution, ctx.Err().Error())
	default:
	}
	args := m.Called(ctx, tabID, params)
	return args.Get(0).(schemas.ActionResult)
}

// -- Toast Recorder --

// ToastRecorder collects values handed to a show callback.
type ToastRecorder[T any] struct {
	mu     sync.Mutex
	shown  []T
	notify chan struct{}
}

// NewToastRecorder creates an empty recorder.
func NewToastRecorder[T any]() *ToastRecorder[T] {
	return &ToastRecorder[T]{notify: make(chan struct{}, 64)}
}

// Show records v.
func (r *ToastRecorder[T]) Show(v T) {
	r.mu.Lock()
	r.shown = append(r.shown, v)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Shown returns a copy of everything recorded so far.
func (r *ToastRecorder[T]) Shown() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.shown...)
}

// Notify receives after each Show.
func (r *ToastRecorder[T]) Notify() <-chan struct{} { return r.notify }
