// Package jobstore provides the durable job queue both worker planes drain.
// Jobs are delivered at least once; the workers' idempotency gates convert
// that to effectively-once persistence.
package jobstore

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

// Job is one unit of queued work. ID carries the idempotency key so the
// store can deduplicate redundant enqueues natively.
type Job struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NewJob serializes payload into a Job.
func NewJob(id, kind string, payload any) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Job{ID: id, Kind: kind, Payload: raw, EnqueuedAt: time.Now().UTC()}, nil
}

// Decode unmarshals the payload into out.
func (j *Job) Decode(out any) error {
	return json.Unmarshal(j.Payload, out)
}

// Queue is the store abstraction. Enqueue with a zero delay makes the job
// immediately claimable; a positive delay parks it until due.
type Queue interface {
	Enqueue(ctx context.Context, queue string, job *Job, delay time.Duration) error
	// Dequeue blocks up to timeout for the next due job. A nil job with a
	// nil error means the timeout elapsed.
	Dequeue(ctx context.Context, queue string, timeout time.Duration) (*Job, error)
	Close() error
}

// Queue names shared between API and worker planes.
const (
	StepQueue  = "jobs:steps"
	BuildQueue = "jobs:builds"
)
