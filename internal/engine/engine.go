// Package engine executes workflow DAGs. The engine never blocks on long
// tasks: it enqueues step jobs into the shared job store and returns;
// workers drain the queue and call back into ExecuteStep.
package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/awaregh/platform/internal/jobstore"
	"github.com/awaregh/platform/internal/repository"
	"github.com/awaregh/platform/pkg/models"
)

// Broadcaster pushes persisted events to live subscribers. Events are
// always persisted before Broadcast is called.
type Broadcaster interface {
	Broadcast(tenantID string, event *models.Event)
}

// NopBroadcaster drops events; worker processes without a push bus use it.
type NopBroadcaster struct{}

func (NopBroadcaster) Broadcast(string, *models.Event) {}

// StepJob is the queue payload for one step execution attempt.
type StepJob struct {
	RunID    string `json:"run_id"`
	TenantID string `json:"tenant_id"`
	StepKey  string `json:"step_key"`
	Attempt  int    `json:"attempt"`
	Resume   bool   `json:"resume,omitempty"`
}

const stepJobKind = "workflow.step"

type Config struct {
	MaxRetries  int
	BaseDelay   time.Duration
	StepTimeout time.Duration
	// Env is the non-secret configuration exposed to templates as env.*.
	Env map[string]any
}

func (c Config) withDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = time.Second
	}
	if c.StepTimeout == 0 {
		c.StepTimeout = 5 * time.Minute
	}
	return c
}

type Engine struct {
	store    repository.Store
	queue    jobstore.Queue
	bus      Broadcaster
	executor *Executor
	logger   hclog.Logger
	cfg      Config
	now      func() time.Time
}

func New(store repository.Store, queue jobstore.Queue, bus Broadcaster, executor *Executor, logger hclog.Logger, cfg Config) *Engine {
	if bus == nil {
		bus = NopBroadcaster{}
	}
	return &Engine{
		store:    store,
		queue:    queue,
		bus:      bus,
		executor: executor,
		logger:   logger.Named("engine"),
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// SetClock overrides the engine's time source. Tests use it for stable
// timestamps.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// StartRun validates the workflow, creates the run with its full step set,
// transitions it to RUNNING, and enqueues the entrypoint.
func (e *Engine) StartRun(ctx context.Context, tenantID, workflowID string, input map[string]any) (*models.Run, error) {
	wf, err := e.store.GetWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		return nil, err
	}
	if !wf.IsActive {
		return nil, models.ErrNotFound
	}
	if err := ValidateDefinition(&wf.Definition); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	run := &models.Run{
		ID:              uuid.New().String(),
		TenantID:        tenantID,
		WorkflowID:      workflowID,
		WorkflowVersion: wf.Version,
		Status:          models.RunStatusPending,
		Input:           input,
		StartedAt:       now,
	}

	steps := make([]*models.Step, 0, len(wf.Definition.Nodes))
	for key, node := range wf.Definition.Nodes {
		steps = append(steps, &models.Step{
			ID:      uuid.New().String(),
			RunID:   run.ID,
			StepKey: key,
			Type:    node.Type,
			Status:  models.StepStatusPending,
		})
	}

	if err := e.store.CreateRun(ctx, run, steps); err != nil {
		return nil, err
	}

	run.Status = models.RunStatusRunning
	if err := e.store.UpdateRun(ctx, run); err != nil {
		return nil, err
	}
	e.emit(ctx, run, &models.Event{
		RunID: run.ID,
		Type:  models.EventRunStarted,
		Payload: map[string]any{
			"workflow_id": workflowID,
			"entrypoint":  wf.Definition.Entrypoint,
		},
	})

	if err := e.enqueueStep(ctx, run, wf.Definition.Entrypoint, 0, 0); err != nil {
		return nil, fmt.Errorf("failed to enqueue entrypoint: %w", err)
	}

	e.logger.Debug("run started", "run_id", run.ID, "workflow_id", workflowID)
	return run, nil
}

// ExecuteStep performs one attempt of one step. Workers call it after the
// idempotency gate; duplicate deliveries for terminal steps are dropped
// here as well.
func (e *Engine) ExecuteStep(ctx context.Context, job StepJob) error {
	run, err := e.store.GetRunByID(ctx, job.RunID)
	if err != nil {
		if models.IsNotFound(err) {
			return nil
		}
		return err
	}
	if run.Status.Terminal() {
		return nil
	}

	step, err := e.store.GetStep(ctx, job.RunID, job.StepKey)
	if err != nil {
		return err
	}
	if step.Status.Terminal() {
		return nil
	}

	wf, err := e.store.GetWorkflow(ctx, run.TenantID, run.WorkflowID)
	if err != nil {
		return err
	}
	node, ok := wf.Definition.Nodes[job.StepKey]
	if !ok {
		return e.failRun(ctx, run, step, fmt.Sprintf("step %q is not part of the workflow definition", job.StepKey))
	}

	if step.Status == models.StepStatusPending {
		now := e.now().UTC()
		step.Status = models.StepStatusRunning
		step.StartedAt = &now
		if err := e.store.UpdateStep(ctx, step); err != nil {
			return err
		}
		run.CurrentStepKey = step.StepKey
		if err := e.store.UpdateRun(ctx, run); err != nil {
			return err
		}
		e.emit(ctx, run, &models.Event{
			RunID:   run.ID,
			StepID:  step.ID,
			StepKey: step.StepKey,
			Type:    models.EventStepStarted,
			Payload: map[string]any{"type": string(step.Type), "attempt": step.RetryCount},
		})
	}

	// DELAY suspends by re-enqueueing; no worker thread sleeps through it.
	if cfg, isDelay := node.Config.(models.DelayConfig); isDelay && !job.Resume {
		delay := time.Duration(clampDelay(cfg.DelayMs)) * time.Millisecond
		resume := StepJob{RunID: run.ID, TenantID: run.TenantID, StepKey: step.StepKey, Attempt: step.RetryCount, Resume: true}
		return e.enqueue(ctx, resume, delay)
	}

	allSteps, err := e.store.ListSteps(ctx, run.ID)
	if err != nil {
		return err
	}
	sc := NewStepContext(run.Input, allSteps, e.cfg.Env, e.now)

	execCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	defer cancel()

	output, execErr := e.executor.Execute(execCtx, node, sc)
	if execErr != nil {
		return e.HandleStepError(ctx, run, wf, step, execErr)
	}
	return e.HandleStepComplete(ctx, run, wf, step, node, output)
}

// HandleStepComplete persists the step result, emits step.completed, and
// enqueues the step's successors. When the run has nothing left to do it
// is finished.
func (e *Engine) HandleStepComplete(ctx context.Context, run *models.Run, wf *models.Workflow, step *models.Step, node models.Node, output map[string]any) error {
	now := e.now().UTC()
	step.Status = models.StepStatusCompleted
	step.Output = output
	step.Error = ""
	step.CompletedAt = &now
	if err := e.store.UpdateStep(ctx, step); err != nil {
		return err
	}
	e.emit(ctx, run, &models.Event{
		RunID:   run.ID,
		StepID:  step.ID,
		StepKey: step.StepKey,
		Type:    models.EventStepCompleted,
		Payload: map[string]any{"output": output},
	})

	successors, err := e.selectSuccessors(node, output, &wf.Definition)
	if err != nil {
		return e.failRun(ctx, run, step, err.Error())
	}

	enqueued := 0
	for _, next := range successors {
		nextStep, err := e.store.GetStep(ctx, run.ID, next)
		if err != nil {
			return err
		}
		if nextStep.Status != models.StepStatusPending {
			continue
		}
		if err := e.enqueueStep(ctx, run, next, nextStep.RetryCount, 0); err != nil {
			return err
		}
		enqueued++
	}

	if enqueued == 0 {
		return e.maybeFinishRun(ctx, run, step.Output)
	}
	return nil
}

// selectSuccessors applies the edge-selection rule: CONDITION follows its
// selected branch alone; everything else follows node.next.
func (e *Engine) selectSuccessors(node models.Node, output map[string]any, def *models.WorkflowDefinition) ([]string, error) {
	if _, isCondition := node.Config.(models.ConditionConfig); isCondition {
		branch, _ := output["selectedBranch"].(string)
		if branch == "" {
			return nil, nil
		}
		if _, ok := def.Nodes[branch]; !ok {
			return nil, fmt.Errorf("condition selected unknown branch %q", branch)
		}
		return []string{branch}, nil
	}
	return node.Next, nil
}

// maybeFinishRun completes the run when no step is running and no pending
// step is still reachable from a completed predecessor. Unreached pending
// steps are skipped.
func (e *Engine) maybeFinishRun(ctx context.Context, run *models.Run, lastOutput map[string]any) error {
	// re-read: a parallel branch may have finished the run already
	current, err := e.store.GetRunByID(ctx, run.ID)
	if err != nil {
		return err
	}
	if current.Status.Terminal() {
		return nil
	}

	steps, err := e.store.ListSteps(ctx, run.ID)
	if err != nil {
		return err
	}
	wf, err := e.store.GetWorkflow(ctx, run.TenantID, run.WorkflowID)
	if err != nil {
		return err
	}

	byKey := make(map[string]*models.Step, len(steps))
	for _, s := range steps {
		byKey[s.StepKey] = s
	}
	for _, s := range steps {
		if s.Status == models.StepStatusRunning {
			return nil
		}
	}
	// a pending step is still live when some completed step selects it
	for _, s := range steps {
		if s.Status != models.StepStatusCompleted {
			continue
		}
		node := wf.Definition.Nodes[s.StepKey]
		succ, err := e.selectSuccessors(node, s.Output, &wf.Definition)
		if err != nil {
			continue
		}
		for _, key := range succ {
			if next, ok := byKey[key]; ok && next.Status == models.StepStatusPending {
				return nil
			}
		}
	}

	if _, err := e.store.SkipPendingSteps(ctx, run.ID); err != nil {
		return err
	}

	now := e.now().UTC()
	current.Status = models.RunStatusCompleted
	current.Output = lastOutput
	current.CurrentStepKey = ""
	current.CompletedAt = &now
	if err := e.store.UpdateRun(ctx, current); err != nil {
		return err
	}
	e.emit(ctx, current, &models.Event{
		RunID:   current.ID,
		Type:    models.EventRunCompleted,
		Payload: map[string]any{"output": lastOutput},
	})
	e.logger.Debug("run completed", "run_id", current.ID)
	return nil
}

// HandleStepError applies the retry policy: exponential backoff while
// attempts remain, otherwise the step and the run fail.
func (e *Engine) HandleStepError(ctx context.Context, run *models.Run, wf *models.Workflow, step *models.Step, execErr error) error {
	step.Error = execErr.Error()
	step.RetryCount++

	if step.RetryCount <= e.cfg.MaxRetries {
		step.Status = models.StepStatusPending
		if err := e.store.UpdateStep(ctx, step); err != nil {
			return err
		}
		delay := time.Duration(math.Pow(2, float64(step.RetryCount-1))) * e.cfg.BaseDelay
		e.logger.Warn("step failed, scheduling retry",
			"run_id", run.ID, "step", step.StepKey,
			"attempt", step.RetryCount, "delay", delay, "error", execErr)
		return e.enqueueStep(ctx, run, step.StepKey, step.RetryCount, delay)
	}

	now := e.now().UTC()
	step.Status = models.StepStatusFailed
	step.CompletedAt = &now
	if err := e.store.UpdateStep(ctx, step); err != nil {
		return err
	}
	e.emit(ctx, run, &models.Event{
		RunID:   run.ID,
		StepID:  step.ID,
		StepKey: step.StepKey,
		Type:    models.EventStepFailed,
		Payload: map[string]any{"error": step.Error, "attempts": step.RetryCount},
	})
	return e.failRun(ctx, run, step, step.Error)
}

func (e *Engine) failRun(ctx context.Context, run *models.Run, step *models.Step, reason string) error {
	if _, err := e.store.SkipPendingSteps(ctx, run.ID); err != nil {
		return err
	}

	now := e.now().UTC()
	run.Status = models.RunStatusFailed
	run.Error = reason
	run.CompletedAt = &now
	if err := e.store.UpdateRun(ctx, run); err != nil {
		return err
	}
	e.emit(ctx, run, &models.Event{
		RunID:   run.ID,
		Type:    models.EventRunFailed,
		Payload: map[string]any{"error": reason, "step_key": step.StepKey},
	})
	e.logger.Info("run failed", "run_id", run.ID, "step", step.StepKey, "error", reason)
	return nil
}

// CancelRun transitions the run to CANCELLED and skips its live steps in
// one transaction. In-flight workers drop the run at their idempotency
// gate.
func (e *Engine) CancelRun(ctx context.Context, tenantID, runID string) (*models.Run, error) {
	run, err := e.store.CancelRun(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}
	e.emit(ctx, run, &models.Event{
		RunID: run.ID,
		Type:  models.EventRunCancelled,
	})
	return run, nil
}

// ObserveRun returns the run with its steps.
func (e *Engine) ObserveRun(ctx context.Context, tenantID, runID string) (*models.Run, []*models.Step, error) {
	run, err := e.store.GetRun(ctx, tenantID, runID)
	if err != nil {
		return nil, nil, err
	}
	steps, err := e.store.ListSteps(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	return run, steps, nil
}

func (e *Engine) enqueueStep(ctx context.Context, run *models.Run, stepKey string, attempt int, delay time.Duration) error {
	job := StepJob{RunID: run.ID, TenantID: run.TenantID, StepKey: stepKey, Attempt: attempt}
	return e.enqueue(ctx, job, delay)
}

func (e *Engine) enqueue(ctx context.Context, job StepJob, delay time.Duration) error {
	id := models.StepIdempotencyKey(job.RunID, job.StepKey, job.Attempt)
	if job.Resume {
		id += ":resume"
	}
	queued, err := jobstore.NewJob(id, stepJobKind, job)
	if err != nil {
		return err
	}
	return e.queue.Enqueue(ctx, jobstore.StepQueue, queued, delay)
}

// emit persists the event, then broadcasts it. Broadcast failures never
// affect the state transition that produced the event.
func (e *Engine) emit(ctx context.Context, run *models.Run, event *models.Event) {
	event.ID = uuid.New().String()
	event.Timestamp = e.now().UTC()
	if err := e.store.AppendEvent(ctx, event); err != nil {
		e.logger.Error("failed to append event", "run_id", event.RunID, "type", event.Type, "error", err)
		return
	}
	e.bus.Broadcast(run.TenantID, event)
}
