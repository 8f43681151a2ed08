package worker

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/awaregh/platform/internal/builder"
	"github.com/awaregh/platform/internal/jobstore"
)

type BuildWorkerConfig struct {
	Concurrency int
}

func (c BuildWorkerConfig) withDefaults() BuildWorkerConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	return c
}

// BuildWorker drains the build queue and dispatches to the build engine.
type BuildWorker struct {
	service *builder.Service
	queue   jobstore.Queue
	logger  hclog.Logger
	cfg     BuildWorkerConfig

	wg sync.WaitGroup
}

func NewBuildWorker(service *builder.Service, queue jobstore.Queue, logger hclog.Logger, cfg BuildWorkerConfig) *BuildWorker {
	return &BuildWorker{
		service: service,
		queue:   queue,
		logger:  logger.Named("build-worker"),
		cfg:     cfg.withDefaults(),
	}
}

// Run starts the worker goroutines and blocks until ctx is cancelled and
// in-flight builds have drained.
func (w *BuildWorker) Run(ctx context.Context) {
	w.logger.Info("build worker starting", "concurrency", w.cfg.Concurrency)
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.loop(ctx)
		}()
	}
	w.wg.Wait()
	w.logger.Info("build worker drained")
}

func (w *BuildWorker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.queue.Dequeue(ctx, jobstore.BuildQueue, 5*time.Second)
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

		var payload builder.BuildJobPayload
		if err := job.Decode(&payload); err != nil {
			w.logger.Error("dropping malformed build job", "job_id", job.ID, "error", err)
			continue
		}
		// in-flight builds run to completion during shutdown drain
		if err := w.service.ExecuteBuild(context.WithoutCancel(ctx), payload.BuildJobID); err != nil {
			w.logger.Error("build execution errored", "build_job_id", payload.BuildJobID, "error", err)
		}
	}
}
