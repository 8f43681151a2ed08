package jobstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueFIFO(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	for _, id := range []string{"one", "two", "three"} {
		job, err := NewJob(id, "test", map[string]string{"id": id})
		require.NoError(t, err)
		require.NoError(t, q.Enqueue(ctx, "q", job, 0))
	}

	for _, want := range []string{"one", "two", "three"} {
		job, err := q.Dequeue(ctx, "q", 100*time.Millisecond)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, want, job.ID)
	}
}

func TestMemoryQueueDeduplicatesJobIDs(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	job, err := NewJob("dup", "test", nil)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, "q", job, 0))
	require.NoError(t, q.Enqueue(ctx, "q", job, 0))

	assert.Equal(t, 1, q.Len("q"))
}

func TestMemoryQueueHonorsDelay(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	job, err := NewJob("later", "test", nil)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, "q", job, 50*time.Millisecond))

	// not due yet
	got, err := q.Dequeue(ctx, "q", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got)

	// due after the delay elapses
	got, err = q.Dequeue(ctx, "q", 200*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "later", got.ID)
}

func TestJobPayloadRoundTrip(t *testing.T) {
	type payload struct {
		RunID   string `json:"run_id"`
		StepKey string `json:"step_key"`
	}

	job, err := NewJob("id-1", "workflow.step", payload{RunID: "r", StepKey: "s"})
	require.NoError(t, err)

	var out payload
	require.NoError(t, job.Decode(&out))
	assert.Equal(t, payload{RunID: "r", StepKey: "s"}, out)
}

func TestMemoryQueueTimeoutReturnsNil(t *testing.T) {
	q := NewMemoryQueue()
	job, err := q.Dequeue(context.Background(), "empty", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)
}
