// Package worker contains the queue-draining worker pools for both
// services. Delivery from the job store is at least once; the idempotency
// gates here make processing effectively once.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/time/rate"

	"github.com/awaregh/platform/internal/engine"
	"github.com/awaregh/platform/internal/jobstore"
	"github.com/awaregh/platform/internal/repository"
	"github.com/awaregh/platform/pkg/models"
)

type StepWorkerConfig struct {
	Concurrency int
	// StepsPerSecond feeds the token bucket smoothing burst load on
	// downstream services.
	StepsPerSecond float64
}

func (c StepWorkerConfig) withDefaults() StepWorkerConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
	if c.StepsPerSecond <= 0 {
		c.StepsPerSecond = 50
	}
	return c
}

// StepWorker drains the step queue and dispatches to the engine.
type StepWorker struct {
	engine  *engine.Engine
	queue   jobstore.Queue
	store   repository.RunStore
	limiter *rate.Limiter
	logger  hclog.Logger
	cfg     StepWorkerConfig

	wg sync.WaitGroup
}

func NewStepWorker(eng *engine.Engine, queue jobstore.Queue, store repository.RunStore, logger hclog.Logger, cfg StepWorkerConfig) *StepWorker {
	cfg = cfg.withDefaults()
	return &StepWorker{
		engine:  eng,
		queue:   queue,
		store:   store,
		limiter: rate.NewLimiter(rate.Limit(cfg.StepsPerSecond), cfg.Concurrency),
		logger:  logger.Named("step-worker"),
		cfg:     cfg,
	}
}

// Run starts the worker goroutines and blocks until ctx is cancelled and
// in-flight steps have drained.
func (w *StepWorker) Run(ctx context.Context) {
	w.logger.Info("step worker starting", "concurrency", w.cfg.Concurrency)
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.loop(ctx)
		}()
	}
	w.wg.Wait()
	w.logger.Info("step worker drained")
}

func (w *StepWorker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.queue.Dequeue(ctx, jobstore.StepQueue, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("dequeue failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		// in-flight steps run to completion during shutdown drain
		w.process(context.WithoutCancel(ctx), job)
	}
}

func (w *StepWorker) process(ctx context.Context, job *jobstore.Job) {
	var step engine.StepJob
	if err := job.Decode(&step); err != nil {
		w.logger.Error("dropping malformed step job", "job_id", job.ID, "error", err)
		return
	}

	ok, err := w.gate(ctx, step)
	if err != nil {
		w.logger.Error("idempotency gate failed", "job_id", job.ID, "error", err)
		return
	}
	if !ok {
		w.logger.Trace("dropping duplicate or stale step job", "job_id", job.ID)
		return
	}

	if err := w.engine.ExecuteStep(ctx, step); err != nil {
		w.logger.Error("step execution errored", "run_id", step.RunID, "step", step.StepKey, "error", err)
	}
}

// gate drops jobs for steps already past PENDING/RUNNING and for runs that
// have reached a terminal state.
func (w *StepWorker) gate(ctx context.Context, job engine.StepJob) (bool, error) {
	run, err := w.store.GetRunByID(ctx, job.RunID)
	if err != nil {
		if models.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if run.Status.Terminal() {
		return false, nil
	}

	step, err := w.store.GetStep(ctx, job.RunID, job.StepKey)
	if err != nil {
		if models.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if step.Status == models.StepStatusCompleted || step.Status == models.StepStatusSkipped || step.Status == models.StepStatusFailed {
		return false, nil
	}
	return true, nil
}
