package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRequestTracker(t *testing.T) {
	t.Run("tracks and assigns an ID", func(t *testing.T) {
		tracker := NewInMemoryRequestTracker()
		req := &PendingRequest{MessageID: "popup-1-1", Action: "TRANSLATE", Timeout: time.Second}

		require.NoError(t, tracker.Track(req))
		assert.NotEmpty(t, req.ID)

		got, err := tracker.Get("popup-1-1")
		require.NoError(t, err)
		assert.Equal(t, RequestStatusCreated, got.Status)
		assert.Equal(t, "TRANSLATE", got.Action)
	})

	t.Run("rejects invalid and duplicate requests", func(t *testing.T) {
		tracker := NewInMemoryRequestTracker()

		assert.Error(t, tracker.Track(nil))
		assert.Error(t, tracker.Track(&PendingRequest{}))

		require.NoError(t, tracker.Track(&PendingRequest{MessageID: "m"}))
		assert.Error(t, tracker.Track(&PendingRequest{MessageID: "m"}))
	})

	t.Run("get returns a copy", func(t *testing.T) {
		tracker := NewInMemoryRequestTracker()
		require.NoError(t, tracker.Track(&PendingRequest{MessageID: "m"}))

		got, err := tracker.Get("m")
		require.NoError(t, err)
		got.Status = RequestStatusResolved

		again, err := tracker.Get("m")
		require.NoError(t, err)
		assert.Equal(t, RequestStatusCreated, again.Status)
	})

	t.Run("updates status", func(t *testing.T) {
		tracker := NewInMemoryRequestTracker()
		require.NoError(t, tracker.Track(&PendingRequest{MessageID: "m"}))

		require.NoError(t, tracker.UpdateStatus("m", RequestStatusSent))
		got, _ := tracker.Get("m")
		assert.Equal(t, RequestStatusSent, got.Status)

		assert.Error(t, tracker.UpdateStatus("missing", RequestStatusSent))
	})

	t.Run("finishes exactly once", func(t *testing.T) {
		tracker := NewInMemoryRequestTracker()
		require.NoError(t, tracker.Track(&PendingRequest{MessageID: "a"}))
		require.NoError(t, tracker.Track(&PendingRequest{MessageID: "b"}))
		require.NoError(t, tracker.Track(&PendingRequest{MessageID: "c"}))

		assert.False(t, tracker.Finish("a", RequestStatusSent))
		assert.True(t, tracker.Finish("a", RequestStatusResolved))
		assert.False(t, tracker.Finish("a", RequestStatusRejected))
		assert.True(t, tracker.Finish("b", RequestStatusTimedOut))

		assert.Len(t, tracker.Pending(), 1)
		assert.Equal(t, TrackerStats{Pending: 1, Resolved: 1, TimedOut: 1}, tracker.Stats())

		_, err := tracker.Get("a")
		assert.Error(t, err)
	})
}

func TestRequestStatusIsTerminal(t *testing.T) {
	assert.False(t, RequestStatusCreated.IsTerminal())
	assert.False(t, RequestStatusSent.IsTerminal())
	assert.True(t, RequestStatusResolved.IsTerminal())
	assert.True(t, RequestStatusRejected.IsTerminal())
	assert.True(t, RequestStatusTimedOut.IsTerminal())
}
