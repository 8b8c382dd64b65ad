package queue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJobEncoding(t *testing.T) {
	t.Parallel()

	job := NewJob("task_0123456789abcdef", 30*time.Minute)
	data, err := job.Encode()
	require.NoError(t, err)

	decoded, err := DecodeJob(data)
	require.NoError(t, err)
	assert.Equal(t, job.TaskID, decoded.TaskID)
	assert.Equal(t, job.Timeout, decoded.Timeout)
	assert.True(t, job.EnqueuedAt.Equal(decoded.EnqueuedAt))

	_, err = Job{}.Encode()
	assert.ErrorIs(t, err, ErrInvalidJob)
	_, err = DecodeJob([]byte("not json"))
	assert.ErrorIs(t, err, ErrInvalidJob)
	_, err = DecodeJob([]byte(`{"timeout":1}`))
	assert.ErrorIs(t, err, ErrInvalidJob)
}

func TestMemoryQueue(t *testing.T) {
	t.Parallel()

	t.Run("fifo delivery", func(t *testing.T) {
		t.Parallel()
		q := NewMemoryQueue(4, testLogger())
		ctx := context.Background()
		require.NoError(t, q.Enqueue(ctx, NewJob("task_a", 0)))
		require.NoError(t, q.Enqueue(ctx, NewJob("task_b", 0)))
		assert.Equal(t, 2, q.Len())

		d, err := q.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, "task_a", d.Job().TaskID)
		require.NoError(t, d.Ack(ctx))

		d, err = q.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, "task_b", d.Job().TaskID)
	})

	t.Run("full", func(t *testing.T) {
		t.Parallel()
		q := NewMemoryQueue(1, testLogger())
		require.NoError(t, q.Enqueue(context.Background(), NewJob("task_a", 0)))
		assert.ErrorIs(t, q.Enqueue(context.Background(), NewJob("task_b", 0)), ErrQueueFull)
	})

	t.Run("reject with requeue", func(t *testing.T) {
		t.Parallel()
		q := NewMemoryQueue(2, testLogger())
		ctx := context.Background()
		require.NoError(t, q.Enqueue(ctx, NewJob("task_a", 0)))

		d, err := q.Receive(ctx)
		require.NoError(t, err)
		require.NoError(t, d.Reject(ctx, true))
		assert.Equal(t, 1, q.Len())

		d, err = q.Receive(ctx)
		require.NoError(t, err)
		require.NoError(t, d.Reject(ctx, false))
		assert.Equal(t, 0, q.Len())
	})

	t.Run("receive honours context", func(t *testing.T) {
		t.Parallel()
		q := NewMemoryQueue(1, testLogger())
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := q.Receive(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("closed", func(t *testing.T) {
		t.Parallel()
		q := NewMemoryQueue(2, testLogger())
		require.NoError(t, q.Enqueue(context.Background(), NewJob("task_a", 0)))
		q.Close()
		q.Close()

		assert.ErrorIs(t, q.Enqueue(context.Background(), NewJob("task_b", 0)), ErrQueueClosed)
		d, err := q.Receive(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "task_a", d.Job().TaskID)
		_, err = q.Receive(context.Background())
		assert.ErrorIs(t, err, ErrQueueClosed)
	})
}
