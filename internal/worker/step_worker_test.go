package worker

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awaregh/platform/internal/engine"
	"github.com/awaregh/platform/internal/engine/completion"
	"github.com/awaregh/platform/internal/jobstore"
	"github.com/awaregh/platform/internal/repository/memory"
	"github.com/awaregh/platform/pkg/models"
)

func newWorker(t *testing.T) (*StepWorker, *memory.Store, *jobstore.MemoryQueue) {
	t.Helper()
	logger := hclog.NewNullLogger()
	store := memory.NewStore()
	queue := jobstore.NewMemoryQueue()
	executor := engine.NewExecutor(completion.NewMock(), nil, logger)
	eng := engine.New(store, queue, nil, executor, logger, engine.Config{})
	w := NewStepWorker(eng, queue, store, logger, StepWorkerConfig{Concurrency: 2})
	return w, store, queue
}

func seedRun(t *testing.T, store *memory.Store, runStatus models.RunStatus, stepStatus models.StepStatus) engine.StepJob {
	t.Helper()
	run := &models.Run{
		ID: "run-1", TenantID: "tenant-1", WorkflowID: "wf-1",
		Status: runStatus, StartedAt: time.Now().UTC(),
	}
	step := &models.Step{
		ID: "step-1", RunID: run.ID, StepKey: "a",
		Type: models.NodeTransform, Status: stepStatus,
	}
	require.NoError(t, store.CreateRun(context.Background(), run, []*models.Step{step}))
	return engine.StepJob{RunID: run.ID, TenantID: run.TenantID, StepKey: step.StepKey}
}

func TestGateAllowsLiveWork(t *testing.T) {
	w, store, _ := newWorker(t)
	job := seedRun(t, store, models.RunStatusRunning, models.StepStatusPending)

	ok, err := w.gate(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGateDropsTerminalSteps(t *testing.T) {
	for _, status := range []models.StepStatus{
		models.StepStatusCompleted,
		models.StepStatusSkipped,
		models.StepStatusFailed,
	} {
		t.Run(string(status), func(t *testing.T) {
			w, store, _ := newWorker(t)
			job := seedRun(t, store, models.RunStatusRunning, status)

			ok, err := w.gate(context.Background(), job)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestGateDropsTerminalRuns(t *testing.T) {
	for _, status := range []models.RunStatus{
		models.RunStatusCancelled,
		models.RunStatusFailed,
		models.RunStatusCompleted,
	} {
		t.Run(string(status), func(t *testing.T) {
			w, store, _ := newWorker(t)
			job := seedRun(t, store, status, models.StepStatusPending)

			ok, err := w.gate(context.Background(), job)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestGateDropsUnknownRun(t *testing.T) {
	w, _, _ := newWorker(t)
	ok, err := w.gate(context.Background(), engine.StepJob{RunID: "ghost", StepKey: "a"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWorkerDrainsQueueAndStopsOnCancel(t *testing.T) {
	w, store, queue := newWorker(t)
	job := seedRun(t, store, models.RunStatusRunning, models.StepStatusPending)

	// the queued step has no workflow behind it, so execution errors and
	// is logged; the worker must keep running regardless
	queued, err := jobstore.NewJob("run-1:a:0", "workflow.step", job)
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(context.Background(), jobstore.StepQueue, queued, 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return queue.Len(jobstore.StepQueue) == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}
