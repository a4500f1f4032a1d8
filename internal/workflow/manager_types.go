package workflow

import (
	"context"

	"speecheval/internal/queue"
	"speecheval/internal/stage"
)

// StageSet bundles the concrete stage handlers the manager orchestrates.
type StageSet struct {
	Transcriber stage.Handler
	Scorer      stage.Handler
}

type pipelineStage struct {
	name            string
	handler         stage.Handler
	startStage      queue.Stage
	processingStage queue.Stage
}

// Observer is told about job state changes the manager makes or observes,
// such as status events on the message bus or metrics counters.
type Observer interface {
	JobChanged(ctx context.Context, job *queue.Job)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, job *queue.Job)

// JobChanged calls f.
func (f ObserverFunc) JobChanged(ctx context.Context, job *queue.Job) {
	f(ctx, job)
}
