package stage

import (
	"context"

	"speecheval/internal/queue"
)

// Handler describes the contract the workflow manager needs from each stage.
//
// Execute runs against a job the manager has already locked. A handler that
// succeeds must persist its own stage transition through the store using
// the job's lock token, so a worker that lost its lease cannot advance the job.
type Handler interface {
	Prepare(context.Context, *queue.Job) error
	Execute(context.Context, *queue.Job) error
	HealthCheck(context.Context) Health
}

// Health is a stage's answer to HealthCheck. Detail explains why a stage
// is not ready, e.g. a missing ASR key.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

func Healthy(name string) Health { return Health{Name: name, Ready: true} }

func Unhealthy(name, detail string) Health {
	return Health{Name: name, Detail: detail}
}
