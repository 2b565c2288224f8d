package cmd

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPruneChangesTrimsOlderThanRetention(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	retention := 20 * time.Millisecond
	cutoffs := make(chan time.Time, 16)
	var calls atomic.Int64
	prune := func(_ context.Context, cutoff time.Time) (int64, error) {
		cutoffs <- cutoff
		if calls.Add(1) == 1 {
			return 0, errors.New("database is locked")
		}
		return 3, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pruneChanges(ctx, retention, prune, func() time.Time { return now }, slog.New(slog.DiscardHandler))
	}()

	assert.Equal(t, now.Add(-retention), receiveUpdate(t, cutoffs))
	assert.Equal(t, now.Add(-retention), receiveUpdate(t, cutoffs), "a failed prune keeps the loop running")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "prune loop did not stop")
	}
}

func TestMaintainWithoutChangeLogIsNoop(t *testing.T) {
	t.Parallel()

	a := &app{}
	assert.NotPanics(t, func() { a.maintain(context.Background()) })
}
