package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"speecheval/internal/config"
	"speecheval/internal/notifications"
	"speecheval/internal/queue"
	"speecheval/internal/stage"
	"speecheval/internal/testsupport"
	"speecheval/internal/workflow"
)

type stubStage struct {
	name    string
	mu      sync.Mutex
	calls   int
	execute func(ctx context.Context, job *queue.Job) error
	health  stage.Health
}

func newStubStage(name string, execute func(ctx context.Context, job *queue.Job) error) *stubStage {
	return &stubStage{name: name, execute: execute, health: stage.Healthy(name)}
}

func (s *stubStage) Prepare(context.Context, *queue.Job) error { return nil }

func (s *stubStage) Execute(ctx context.Context, job *queue.Job) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.execute == nil {
		return nil
	}
	return s.execute(ctx, job)
}

func (s *stubStage) HealthCheck(context.Context) stage.Health { return s.health }

func (s *stubStage) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) Events() []notifications.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifications.Event(nil), n.events...)
}

type recordingObserver struct {
	mu       sync.Mutex
	statuses []queue.Status
}

func (o *recordingObserver) JobChanged(_ context.Context, job *queue.Job) {
	o.mu.Lock()
	o.statuses = append(o.statuses, job.Status)
	o.mu.Unlock()
}

func (o *recordingObserver) Statuses() []queue.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]queue.Status(nil), o.statuses...)
}

// transcribeStub stores a fixed transcript the way the real stage does.
func transcribeStub(store *queue.Store) func(ctx context.Context, job *queue.Job) error {
	return func(ctx context.Context, job *queue.Job) error {
		return store.CompleteTranscription(ctx, job.ID, job.LockToken,
			`{"p1q1":{"segment_key":"p1q1","final_text":"I live near the coast","confidence_tier":"high"}}`)
	}
}

// scoreStub stores a fixed result the way the real stage does.
func scoreStub(store *queue.Store) func(ctx context.Context, job *queue.Job) error {
	return func(ctx context.Context, job *queue.Job) error {
		_, err := store.CompleteEvaluation(ctx, job.ID, job.LockToken, queue.Result{
			JobID:       job.ID,
			OverallBand: 6.5,
			Payload:     `{"overall_band":6.5}`,
		})
		return err
	}
}

type harness struct {
	cfg      *config.Config
	store    *queue.Store
	queue    *workflow.LocalQueue
	notifier *recordingNotifier
	observer *recordingObserver
	manager  *workflow.Manager
}

func newHarness(t *testing.T, set func(store *queue.Store) workflow.StageSet, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Workflow.HeartbeatInterval = 1
	cfg.Workflow.HeartbeatTimeout = 60
	cfg.Workflow.LockTTL = 120
	cfg.Workflow.Workers = 1
	store := testsupport.MustOpenStore(t, cfg)
	h := &harness{
		cfg:      cfg,
		store:    store,
		queue:    workflow.NewLocalQueue(16),
		notifier: &recordingNotifier{},
		observer: &recordingObserver{},
	}
	h.manager = workflow.NewManager(cfg, store, nil,
		workflow.WithTaskQueue(h.queue),
		workflow.WithNotifier(h.notifier),
		workflow.WithObservers(h.observer),
	)
	h.manager.ConfigureStages(set(store))
	return h
}

func (h *harness) newJob(t *testing.T) *queue.Job {
	t.Helper()
	return testsupport.NewJob(t, h.store, map[string]string{"p1q1": "a.wav"})
}

func (h *harness) job(t *testing.T, id string) *queue.Job {
	t.Helper()
	job, err := h.store.GetJob(context.Background(), id)
	if err != nil || job == nil {
		t.Fatalf("GetJob(%s): %v %v", id, job, err)
	}
	return job
}

func waitForStatus(t *testing.T, store *queue.Store, id string, want queue.Status) *queue.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if job != nil && job.Status == want {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach %s", id, want)
	return nil
}

func hasEvent(events []notifications.Event, want notifications.Event) bool {
	for _, e := range events {
		if e == want {
			return true
		}
	}
	return false
}
