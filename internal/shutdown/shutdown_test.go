package shutdown

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doughall/cmdsched/internal/logging"
)

func TestCoordinator_LIFO(t *testing.T) {
	c := NewCoordinator(logging.Discard())

	var order []string
	for _, name := range []string{"history", "watcher", "runner"} {
		c.Register(name, Func(func(context.Context) error {
			order = append(order, name)
			return nil
		}))
	}
	require.Equal(t, 3, c.ComponentCount())

	require.NoError(t, c.Shutdown(context.Background()))
	assert.Equal(t, []string{"runner", "watcher", "history"}, order)
}

func TestCoordinator_ContinuesAfterFailure(t *testing.T) {
	c := NewCoordinator(logging.Discard())
	boom := errors.New("boom")

	closed := false
	c.Register("history", Func(func(context.Context) error {
		closed = true
		return nil
	}))
	c.Register("runner", Func(func(context.Context) error { return boom }))

	err := c.Shutdown(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failed to shutdown runner")
	assert.True(t, closed, "later components must still be shut down")
}

func TestCoordinator_Deadline(t *testing.T) {
	c := NewCoordinator(logging.Discard())

	reached := false
	c.Register("history", Func(func(context.Context) error {
		reached = true
		return nil
	}))
	c.Register("runner", Func(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "shutdown deadline exceeded at component history")
	assert.False(t, reached)
}

func TestCoordinator_LogsWithComponent(t *testing.T) {
	var buf bytes.Buffer
	c := NewCoordinator(logging.NewLogger(&buf, "debug", logging.FormatJSON))

	require.NoError(t, c.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"component":"shutdown"`)
}
