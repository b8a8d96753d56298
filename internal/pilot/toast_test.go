package pilot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scalpel-pilot/internal/mocks"
)

func TestToastSequence(t *testing.T) {
	const minTrying = 60 * time.Millisecond

	t.Run("Outcome Waits For Minimum", func(t *testing.T) {
		rec := mocks.NewToastRecorder[Toast]()
		toaster := NewToaster(minTrying, rec.Show)

		seq := toaster.Begin(3, "Posting the draft")
		shown := rec.Shown()
		require.Len(t, shown, 1)
		assert.Equal(t, ToastTrying, shown[0].Kind)
		assert.Equal(t, "Posting the draft", shown[0].Text)
		assert.Equal(t, 3, shown[0].TabID)

		seq.Finish(true, "")
		seq.Finish(false, "ignored")
		assert.Len(t, rec.Shown(), 1, "the outcome is held back")

		select {
		case <-seq.Done():
		case <-time.After(time.Second):
			t.Fatal("outcome toast never shown")
		}
		shown = rec.Shown()
		require.Len(t, shown, 2)
		assert.Equal(t, ToastSuccess, shown[1].Kind)
		assert.GreaterOrEqual(t, shown[1].At.Sub(shown[0].At), minTrying)
	})

	t.Run("Late Outcome Shows Immediately", func(t *testing.T) {
		rec := mocks.NewToastRecorder[Toast]()
		toaster := NewToaster(minTrying, rec.Show)
		base := time.Now()
		toaster.now = func() time.Time { return base }
		seq := toaster.Begin(1, "Closing dialog")

		toaster.now = func() time.Time { return base.Add(time.Second) }
		seq.Finish(false, outcomeDetail("dialog_not_found", "No open dialog"))

		shown := rec.Shown()
		require.Len(t, shown, 2)
		assert.Equal(t, ToastError, shown[1].Kind)
		assert.Equal(t, "dialog_not_found: No open dialog", shown[1].Detail)
	})

	t.Run("Default Minimum", func(t *testing.T) {
		toaster := NewToaster(0, func(Toast) {})
		assert.Equal(t, DefaultToastMinTrying, toaster.minTrying)
	})
}
