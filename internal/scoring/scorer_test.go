package scoring_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"speecheval/internal/catalog"
	"speecheval/internal/config"
	"speecheval/internal/evaluation"
	"speecheval/internal/merge"
	"speecheval/internal/queue"
	"speecheval/internal/quota"
	"speecheval/internal/scoring"
	"speecheval/internal/services"
	"speecheval/internal/services/llm"
	"speecheval/internal/stage"
	"speecheval/internal/testsupport"
)

const scoredResponse = `{
  "overall_band": 6.5,
  "criteria": {
    "fluency_coherence": {"band": 6, "feedback": "steady"},
    "lexical_resource": {"band": 6},
    "grammatical_range_accuracy": {"band": 5.5},
    "pronunciation": {"band": 6}
  },
  "answers": [
    {"index": 1, "band": 6, "model_answer": "I live near the coast."},
    {"index": 2, "band": 6, "model_answer": "Last summer we went north."}
  ]
}`

func newLLMServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": scoredResponse}}},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

type fixture struct {
	cfg   *config.Config
	store *queue.Store
	job   *queue.Job
}

// newFixture returns a job locked at the evaluating stage with stored transcripts.
func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.AddCredential(t, store, cfg.Quota.Provider, "llm-key")
	ctx := context.Background()

	job := testsupport.NewJob(t, store, map[string]string{"p1q1": "a.wav", "p2": "b.wav"})
	if _, ok, err := store.AcquireLock(ctx, job.ID, "t1", time.Minute); err != nil || !ok {
		t.Fatalf("AcquireLock: %v %v", ok, err)
	}
	raw, err := stage.EncodeTranscription(map[string]merge.Result{
		"p1q1": {SegmentKey: "p1q1", FinalText: "I live in a small town near the coast", WordCount: 9},
		"p2":   {SegmentKey: "p2", FinalText: "I want to describe a trip I took with my family", WordCount: 11},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := store.CompleteTranscription(ctx, job.ID, "t1", raw); err != nil {
		t.Fatalf("CompleteTranscription: %v", err)
	}
	locked, ok, err := store.AcquireLock(ctx, job.ID, "t2", time.Minute)
	if err != nil || !ok {
		t.Fatalf("AcquireLock eval: %v %v", ok, err)
	}
	if locked.Stage != queue.StageEvaluating {
		t.Fatalf("expected evaluating, got %s", locked.Stage)
	}
	return &fixture{cfg: cfg, store: store, job: locked}
}

func (f *fixture) scorer() *scoring.Scorer {
	pool := quota.NewPool(f.store, f.cfg.Quota.Provider)
	engine := evaluation.NewEngine(llm.NewClientFrom(f.cfg.LLM), pool,
		evaluation.WithModels(f.cfg.LLM.Models...),
		evaluation.WithCancelCheck(scoring.CancelCheck(f.store)),
	)
	return scoring.NewScorer(f.cfg, f.store, catalog.Default(), engine, nil)
}

func TestExecuteCompletesJob(t *testing.T) {
	var calls int32
	server := newLLMServer(t, &calls)
	f := newFixture(t, testsupport.WithLLMServer(server.URL))
	ctx := context.Background()

	scorer := f.scorer()
	if err := scorer.Prepare(ctx, f.job); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := scorer.Execute(ctx, f.job); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected one LLM call, got %d", calls)
	}

	stored, err := f.store.GetJob(ctx, f.job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.Status != queue.StatusCompleted || stored.Stage != queue.StageCompleted || stored.ResultID == "" {
		t.Fatalf("unexpected job %+v", stored)
	}
	result, err := f.store.ResultForJob(ctx, f.job.ID)
	if err != nil || result == nil {
		t.Fatalf("ResultForJob: %v %v", result, err)
	}
	if result.OverallBand != 6.0 {
		t.Fatalf("overall band recomputed from answers should be 6.0, got %v", result.OverallBand)
	}
	var payload evaluation.Result
	if err := json.Unmarshal([]byte(result.Payload), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.ModelOverall != 6.5 || len(payload.Answers) != 2 || payload.Answers[1].SegmentKey != "p2" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestExecuteCancelledPersistsNothing(t *testing.T) {
	var calls int32
	server := newLLMServer(t, &calls)
	f := newFixture(t, testsupport.WithLLMServer(server.URL))
	ctx := context.Background()

	if _, err := f.store.CancelJob(ctx, f.job.ID, ""); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	err := f.scorer().Execute(ctx, f.job)
	if !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("expected no LLM calls, got %d", calls)
	}
	if result, _ := f.store.ResultForJob(ctx, f.job.ID); result != nil {
		t.Fatalf("cancelled job must not store a result: %+v", result)
	}
}

func TestCancelCheckUsesJobFromContext(t *testing.T) {
	f := newFixture(t)
	check := scoring.CancelCheck(f.store)
	ctx := services.WithJobID(context.Background(), f.job.ID)
	if err := check(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.store.CancelJob(ctx, f.job.ID, ""); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if err := check(ctx); !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestPrepareRequiresTranscription(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	scorer := scoring.NewScorer(cfg, nil, nil, nil, nil)
	if err := scorer.Prepare(context.Background(), &queue.Job{ID: "j"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if h := scorer.HealthCheck(context.Background()); h.Ready {
		t.Fatal("scorer without engine should be unhealthy")
	}
}

func TestRubricFor(t *testing.T) {
	rubric := scoring.RubricFor(&queue.Job{Topic: " travel ", Difficulty: "hard", FluencyFlag: true, EvaluationMode: "full"})
	if rubric.Topic != "travel" || rubric.Difficulty != "hard" || !rubric.FluencyFlag || rubric.EvaluationMode != "full" {
		t.Fatalf("unexpected rubric %+v", rubric)
	}
}
