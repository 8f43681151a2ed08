package engine

import (
	"time"

	"github.com/awaregh/platform/pkg/models"
)

// StepContext is the read-only view a node executor receives. Steps holds
// an entry per completed predecessor only.
type StepContext struct {
	Input map[string]any
	Steps map[string]StepResult
	Env   map[string]any

	now func() time.Time
}

type StepResult struct {
	Output map[string]any    `json:"output"`
	Status models.StepStatus `json:"status"`
}

// NewStepContext assembles the context from the run input and the run's
// completed steps.
func NewStepContext(input map[string]any, steps []*models.Step, env map[string]any, now func() time.Time) *StepContext {
	completed := make(map[string]StepResult)
	for _, s := range steps {
		if s.Status == models.StepStatusCompleted {
			completed[s.StepKey] = StepResult{Output: s.Output, Status: s.Status}
		}
	}
	if now == nil {
		now = time.Now
	}
	return &StepContext{Input: input, Steps: completed, Env: env, now: now}
}

// stepsValue exposes Steps to the expression evaluator as plain maps.
func (c *StepContext) stepsValue() any {
	out := make(map[string]any, len(c.Steps))
	for k, r := range c.Steps {
		out[k] = map[string]any{
			"output": r.Output,
			"status": string(r.Status),
		}
	}
	return out
}
