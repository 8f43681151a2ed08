package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awaregh/platform/internal/engine/completion"
	"github.com/awaregh/platform/internal/jobstore"
	"github.com/awaregh/platform/internal/repository"
	"github.com/awaregh/platform/internal/repository/memory"
	"github.com/awaregh/platform/pkg/models"
)

// recordQueue captures enqueued jobs with their delays so tests can drain
// the queue synchronously and assert the retry schedule.
type recordQueue struct {
	mu   sync.Mutex
	jobs []recordedJob
}

type recordedJob struct {
	job   *jobstore.Job
	delay time.Duration
}

func (q *recordQueue) Enqueue(_ context.Context, _ string, job *jobstore.Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, recordedJob{job: job, delay: delay})
	return nil
}

func (q *recordQueue) Dequeue(context.Context, string, time.Duration) (*jobstore.Job, error) {
	return nil, nil
}

func (q *recordQueue) Close() error { return nil }

func (q *recordQueue) pop() (*jobstore.Job, time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, 0, false
	}
	next := q.jobs[0]
	q.jobs = q.jobs[1:]
	return next.job, next.delay, true
}

type failingCompletion struct {
	calls int
}

func (f *failingCompletion) Complete(context.Context, completion.Request) (*completion.Response, error) {
	f.calls++
	return nil, errors.New("completion service unavailable")
}

type fixture struct {
	t      *testing.T
	store  *memory.Store
	queue  *recordQueue
	engine *Engine
}

func newFixture(t *testing.T, completions completion.Client, cfg Config) *fixture {
	t.Helper()
	store := memory.NewStore()
	queue := &recordQueue{}
	logger := hclog.NewNullLogger()
	if completions == nil {
		completions = completion.NewMock()
	}
	executor := NewExecutor(completions, nil, logger)
	eng := New(store, queue, nil, executor, logger, cfg)
	return &fixture{t: t, store: store, queue: queue, engine: eng}
}

func (f *fixture) createWorkflow(def models.WorkflowDefinition) *models.Workflow {
	f.t.Helper()
	wf := &models.Workflow{
		ID:         "wf-1",
		TenantID:   "tenant-1",
		Name:       "test workflow",
		Version:    1,
		Definition: def,
		IsActive:   true,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(f.t, f.store.CreateWorkflow(context.Background(), wf))
	return wf
}

// drain executes queued step jobs until the queue is empty, ignoring
// enqueue delays.
func (f *fixture) drain() {
	f.t.Helper()
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		job, _, ok := f.queue.pop()
		if !ok {
			return
		}
		var step StepJob
		require.NoError(f.t, job.Decode(&step))
		require.NoError(f.t, f.engine.ExecuteStep(ctx, step))
	}
	f.t.Fatal("queue did not drain")
}

func transformNode(id string, next ...string) models.Node {
	return models.Node{
		ID:     id,
		Type:   models.NodeTransform,
		Config: models.TransformConfig{Template: map[string]any{"node": id, "x": "{{input.x}}"}},
		Next:   next,
	}
}

func linearDefinition() models.WorkflowDefinition {
	return models.WorkflowDefinition{
		Metadata:   models.DefinitionMetadata{Name: "linear", Version: 1},
		Entrypoint: "a",
		Nodes: map[string]models.Node{
			"a": transformNode("a", "b"),
			"b": transformNode("b", "c"),
			"c": transformNode("c"),
		},
		Edges: []models.Edge{{From: "a", To: "b"}, {From: "b", To: "c"}},
	}
}

func TestLinearWorkflowCompletes(t *testing.T) {
	f := newFixture(t, nil, Config{})
	wf := f.createWorkflow(linearDefinition())
	ctx := context.Background()

	run, err := f.engine.StartRun(ctx, wf.TenantID, wf.ID, map[string]any{"x": float64(1)})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run.Status)

	f.drain()

	final, steps, err := f.engine.ObserveRun(ctx, wf.TenantID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, final.Status)
	require.NotNil(t, final.CompletedAt)
	assert.Equal(t, "c", final.Output["node"])

	require.Len(t, steps, 3)
	for _, step := range steps {
		assert.Equal(t, models.StepStatusCompleted, step.Status, "step %s", step.StepKey)
	}

	// a before b before c
	byKey := map[string]*models.Step{}
	for _, s := range steps {
		byKey[s.StepKey] = s
	}
	assert.False(t, byKey["b"].CompletedAt.Before(*byKey["a"].CompletedAt))
	assert.False(t, byKey["c"].CompletedAt.Before(*byKey["b"].CompletedAt))

	events, _, err := f.store.ListEvents(ctx, run.ID, time.Time{}, pageAll())
	require.NoError(t, err)
	counts := map[models.EventType]int{}
	for _, ev := range events {
		counts[ev.Type]++
	}
	assert.Equal(t, 1, counts[models.EventRunStarted])
	assert.Equal(t, 3, counts[models.EventStepStarted])
	assert.Equal(t, 3, counts[models.EventStepCompleted])
	assert.Equal(t, 1, counts[models.EventRunCompleted])

	// events respect happens-before when sorted by persisted timestamp
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Timestamp.Before(events[i-1].Timestamp))
	}
}

func TestConditionSelectsTrueBranchOnly(t *testing.T) {
	f := newFixture(t, nil, Config{})
	wf := f.createWorkflow(models.WorkflowDefinition{
		Metadata:   models.DefinitionMetadata{Name: "branch", Version: 1},
		Entrypoint: "check",
		Nodes: map[string]models.Node{
			"check": {
				ID:   "check",
				Type: models.NodeCondition,
				Config: models.ConditionConfig{
					Expression:  "input.value > 10",
					TrueBranch:  "hi",
					FalseBranch: "lo",
				},
			},
			"hi": transformNode("hi"),
			"lo": transformNode("lo"),
		},
	})
	ctx := context.Background()

	run, err := f.engine.StartRun(ctx, wf.TenantID, wf.ID, map[string]any{"value": float64(20)})
	require.NoError(t, err)
	f.drain()

	final, steps, err := f.engine.ObserveRun(ctx, wf.TenantID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, final.Status)

	byKey := map[string]*models.Step{}
	for _, s := range steps {
		byKey[s.StepKey] = s
	}
	assert.Equal(t, models.StepStatusCompleted, byKey["check"].Status)
	assert.Equal(t, models.StepStatusCompleted, byKey["hi"].Status)
	// the untaken branch is never enqueued; it is skipped at completion
	assert.Equal(t, models.StepStatusSkipped, byKey["lo"].Status)

	assert.Equal(t, true, byKey["check"].Output["conditionResult"])
	assert.Equal(t, "hi", byKey["check"].Output["selectedBranch"])
}

func TestRetryScheduleThenRunFails(t *testing.T) {
	completions := &failingCompletion{}
	f := newFixture(t, completions, Config{})
	wf := f.createWorkflow(models.WorkflowDefinition{
		Metadata:   models.DefinitionMetadata{Name: "retry", Version: 1},
		Entrypoint: "ask",
		Nodes: map[string]models.Node{
			"ask": {
				ID:     "ask",
				Type:   models.NodeAICompletion,
				Config: models.AICompletionConfig{UserPromptTemplate: "hello"},
			},
		},
	})
	ctx := context.Background()

	run, err := f.engine.StartRun(ctx, wf.TenantID, wf.ID, nil)
	require.NoError(t, err)

	var delays []time.Duration
	for {
		job, delay, ok := f.queue.pop()
		if !ok {
			break
		}
		delays = append(delays, delay)
		var step StepJob
		require.NoError(t, job.Decode(&step))
		require.NoError(t, f.engine.ExecuteStep(ctx, step))
	}

	// initial attempt plus three retries, backed off 1s, 2s, 4s
	assert.Equal(t, 4, completions.calls)
	require.Len(t, delays, 4)
	assert.Equal(t, time.Duration(0), delays[0])
	assert.Equal(t, 1*time.Second, delays[1])
	assert.Equal(t, 2*time.Second, delays[2])
	assert.Equal(t, 4*time.Second, delays[3])

	final, steps, err := f.engine.ObserveRun(ctx, wf.TenantID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, final.Status)
	assert.Contains(t, final.Error, "completion service unavailable")
	assert.Equal(t, models.StepStatusFailed, steps[0].Status)
	assert.Equal(t, 4, steps[0].RetryCount)
}

func TestParallelBranchesBothExecute(t *testing.T) {
	f := newFixture(t, nil, Config{})
	wf := f.createWorkflow(models.WorkflowDefinition{
		Metadata:   models.DefinitionMetadata{Name: "fanout", Version: 1},
		Entrypoint: "start",
		Nodes: map[string]models.Node{
			"start": transformNode("start", "left", "right"),
			"left":  transformNode("left", "join"),
			"right": transformNode("right", "join"),
			"join":  transformNode("join"),
		},
	})
	ctx := context.Background()

	run, err := f.engine.StartRun(ctx, wf.TenantID, wf.ID, nil)
	require.NoError(t, err)
	f.drain()

	final, steps, err := f.engine.ObserveRun(ctx, wf.TenantID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, final.Status)
	for _, step := range steps {
		assert.Equal(t, models.StepStatusCompleted, step.Status, "step %s", step.StepKey)
	}
}

func TestDelaySuspendsByReenqueueing(t *testing.T) {
	f := newFixture(t, nil, Config{})
	wf := f.createWorkflow(models.WorkflowDefinition{
		Metadata:   models.DefinitionMetadata{Name: "delayed", Version: 1},
		Entrypoint: "wait",
		Nodes: map[string]models.Node{
			"wait": {
				ID:     "wait",
				Type:   models.NodeDelay,
				Config: models.DelayConfig{DelayMs: 10_000},
			},
		},
	})
	ctx := context.Background()

	run, err := f.engine.StartRun(ctx, wf.TenantID, wf.ID, nil)
	require.NoError(t, err)

	// first delivery suspends: the step stays RUNNING and a resume job is
	// parked with the configured delay
	job, delay, ok := f.queue.pop()
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), delay)
	var stepJob StepJob
	require.NoError(t, job.Decode(&stepJob))
	require.NoError(t, f.engine.ExecuteStep(ctx, stepJob))

	step, err := f.store.GetStep(ctx, run.ID, "wait")
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusRunning, step.Status)

	resume, delay, ok := f.queue.pop()
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, delay)

	var resumeJob StepJob
	require.NoError(t, resume.Decode(&resumeJob))
	assert.True(t, resumeJob.Resume)
	require.NoError(t, f.engine.ExecuteStep(ctx, resumeJob))

	final, _, err := f.engine.ObserveRun(ctx, wf.TenantID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, final.Status)
	assert.Equal(t, true, final.Output["delayed"])
	assert.Equal(t, int64(10_000), toInt64(t, final.Output["delayMs"]))
}

func TestDelayClampedAtMaximum(t *testing.T) {
	assert.Equal(t, int64(30_000), clampDelay(45_000))
	assert.Equal(t, int64(12_000), clampDelay(12_000))
	assert.Equal(t, int64(0), clampDelay(-5))
}

func TestCancelMidRunSkipsDelayedStep(t *testing.T) {
	f := newFixture(t, nil, Config{})
	wf := f.createWorkflow(models.WorkflowDefinition{
		Metadata:   models.DefinitionMetadata{Name: "cancel", Version: 1},
		Entrypoint: "wait",
		Nodes: map[string]models.Node{
			"wait": {
				ID:     "wait",
				Type:   models.NodeDelay,
				Config: models.DelayConfig{DelayMs: 10_000},
				Next:   []string{"after"},
			},
			"after": transformNode("after"),
		},
		Edges: []models.Edge{{From: "wait", To: "after"}},
	})
	ctx := context.Background()

	run, err := f.engine.StartRun(ctx, wf.TenantID, wf.ID, nil)
	require.NoError(t, err)

	// deliver the first job so the delay step suspends
	job, _, ok := f.queue.pop()
	require.True(t, ok)
	var stepJob StepJob
	require.NoError(t, job.Decode(&stepJob))
	require.NoError(t, f.engine.ExecuteStep(ctx, stepJob))

	cancelled, err := f.engine.CancelRun(ctx, wf.TenantID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, cancelled.Status)

	// the parked resume job arrives after cancellation and is dropped
	f.drain()

	final, steps, err := f.engine.ObserveRun(ctx, wf.TenantID, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, final.Status)
	for _, step := range steps {
		assert.Equal(t, models.StepStatusSkipped, step.Status, "step %s", step.StepKey)
	}

	events, _, err := f.store.ListEvents(ctx, run.ID, time.Time{}, pageAll())
	require.NoError(t, err)
	var sawCancelled bool
	for _, ev := range events {
		if ev.Type == models.EventRunCancelled {
			sawCancelled = true
		}
	}
	assert.True(t, sawCancelled)
}

func TestExecuteStepIdempotentForTerminalSteps(t *testing.T) {
	f := newFixture(t, nil, Config{})
	wf := f.createWorkflow(linearDefinition())
	ctx := context.Background()

	run, err := f.engine.StartRun(ctx, wf.TenantID, wf.ID, nil)
	require.NoError(t, err)
	f.drain()

	events, _, err := f.store.ListEvents(ctx, run.ID, time.Time{}, pageAll())
	require.NoError(t, err)
	before := len(events)

	// duplicate delivery of an already-completed step is a no-op
	require.NoError(t, f.engine.ExecuteStep(ctx, StepJob{RunID: run.ID, TenantID: wf.TenantID, StepKey: "a"}))

	events, _, err = f.store.ListEvents(ctx, run.ID, time.Time{}, pageAll())
	require.NoError(t, err)
	assert.Equal(t, before, len(events))
}

func TestStartRunRejectsInvalidDefinition(t *testing.T) {
	f := newFixture(t, nil, Config{})
	def := linearDefinition()
	def.Entrypoint = "missing"
	wf := &models.Workflow{
		ID: "wf-bad", TenantID: "tenant-1", Name: "bad", Version: 1,
		Definition: def, IsActive: true,
	}
	require.NoError(t, f.store.CreateWorkflow(context.Background(), wf))

	_, err := f.engine.StartRun(context.Background(), "tenant-1", "wf-bad", nil)
	assert.True(t, models.IsValidationError(err))
}

func pageAll() repository.PageRequest {
	return repository.PageRequest{Page: 1, Limit: 100}
}

func toInt64(t *testing.T, v any) int64 {
	t.Helper()
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	default:
		t.Fatalf("unexpected numeric type %T", v)
		return 0
	}
}
