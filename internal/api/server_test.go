package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"speecheval/internal/api"
	"speecheval/internal/config"
	"speecheval/internal/queue"
	"speecheval/internal/stage"
	"speecheval/internal/testsupport"
	"speecheval/internal/workflow"
)

type fixture struct {
	cfg        *config.Config
	store      *queue.Store
	server     *api.Server
	dispatched []string
}

func newFixture(t *testing.T, opts ...api.ServerOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	f := &fixture{cfg: cfg, store: store}
	jobs := api.NewJobService(store, cfg, func(_ context.Context, id string) (bool, error) {
		f.dispatched = append(f.dispatched, id)
		return true, nil
	})
	f.server = api.NewServer(cfg, jobs, append([]api.ServerOption{api.WithHealthChecker(store)}, opts...)...)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, headers ...string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := f.server.App().Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

const submitBody = `{"testId":"t-1","owner":"cand-1","filePaths":{"p1q1":"s3://a.wav","p2":"s3://b.wav"},"durations":{"p2":95.5},"topic":"travel"}`

func TestCreateJobAccepted(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodPost, "/api/jobs", submitBody)
	if code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", code, body)
	}
	var resp api.CreateJobResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.JobID == "" || resp.Status != "pending" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(f.dispatched) != 1 || f.dispatched[0] != resp.JobID {
		t.Fatalf("job should be dispatched once, got %v", f.dispatched)
	}
	job, err := f.store.GetJob(context.Background(), resp.JobID)
	if err != nil || job == nil {
		t.Fatalf("GetJob: %v %v", job, err)
	}
	if job.Stage != queue.StagePendingTranscription || job.Segments["p2"] != "s3://b.wav" || job.Durations["p2"] != 95.5 {
		t.Fatalf("unexpected stored job %+v", job)
	}
	if job.MaxRetries != f.cfg.Workflow.MaxRetries {
		t.Fatalf("max retries should come from config, got %d", job.MaxRetries)
	}
}

func TestCreateJobValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "not json", body: `{`, want: "JSON"},
		{name: "missing test id", body: `{"filePaths":{"p1":"a"}}`, want: "testId"},
		{name: "no segments", body: `{"testId":"t"}`, want: "filePaths"},
		{name: "empty reference", body: `{"testId":"t","filePaths":{"p1":""}}`, want: "empty key"},
		{name: "unknown provider", body: `{"testId":"t","filePaths":{"p1":"a"},"provider":"nope"}`, want: "unknown ASR provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := f.do(t, http.MethodPost, "/api/jobs", tt.body)
			if code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", code, body)
			}
			if !strings.Contains(string(body), tt.want) {
				t.Fatalf("body %s missing %q", body, tt.want)
			}
		})
	}
	if len(f.dispatched) != 0 {
		t.Fatal("invalid jobs must not be dispatched")
	}
}

func TestGetJobAndList(t *testing.T) {
	f := newFixture(t)
	job := testsupport.NewJob(t, f.store, map[string]string{"p1q1": "a.wav"})

	code, body := f.do(t, http.MethodGet, "/api/jobs/"+job.ID, "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	var resp api.JobResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Job.Stage != "pending_transcription" || resp.Job.Status != "pending" || resp.Job.ResultID != "" {
		t.Fatalf("unexpected job %+v", resp.Job)
	}

	if code, _ := f.do(t, http.MethodGet, "/api/jobs/missing", ""); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}

	code, body = f.do(t, http.MethodGet, "/api/jobs?status=pending", "")
	if code != http.StatusOK || !strings.Contains(string(body), job.ID) {
		t.Fatalf("list: %d %s", code, body)
	}
	if code, _ := f.do(t, http.MethodGet, "/api/jobs?status=bogus", ""); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad filter, got %d", code)
	}
}

func TestCancelJob(t *testing.T) {
	f := newFixture(t)
	job, err := f.store.CreateJob(context.Background(), queue.NewJob{
		TestID: "t", Owner: "cand-1", Segments: map[string]string{"p1": "a"},
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	code, _ := f.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/cancel", `{"owner":"someone-else"}`)
	if code != http.StatusForbidden {
		t.Fatalf("expected 403 for other owner, got %d", code)
	}
	code, body := f.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/cancel", `{"owner":"cand-1"}`)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", code, body)
	}
	var resp api.ActionResponse
	_ = json.Unmarshal(body, &resp)
	if resp.Outcome != "cancelled" || resp.Status != "cancelled" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/cancel", ""); code != http.StatusConflict {
		t.Fatalf("second cancel should conflict, got %d", code)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/jobs/nope/cancel", ""); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestRetryAndResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := testsupport.NewJob(t, f.store, map[string]string{"p1": "a"})
	locked, ok, err := f.store.AcquireLock(ctx, job.ID, "w", 0)
	if err != nil || !ok {
		t.Fatalf("AcquireLock: %v %v", ok, err)
	}
	if err := f.store.FailJob(ctx, job.ID, locked.LockToken, "boom"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	if code, _ := f.do(t, http.MethodGet, "/api/jobs/"+job.ID+"/result", ""); code != http.StatusNotFound {
		t.Fatalf("expected 404 without result, got %d", code)
	}
	code, body := f.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/retry", "")
	if code != http.StatusOK || !strings.Contains(string(body), `"retried"`) {
		t.Fatalf("retry: %d %s", code, body)
	}
	if got, _ := f.store.GetJob(ctx, job.ID); got.Status != queue.StatusPending || got.RetryCount != 0 {
		t.Fatalf("unexpected retried job %s retry=%d", got.Status, got.RetryCount)
	}
	if code, _ := f.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/retry", ""); code != http.StatusConflict {
		t.Fatalf("retrying a pending job should conflict, got %d", code)
	}

	relocked, ok, err := f.store.AcquireLock(ctx, job.ID, "w2", 0)
	if err != nil || !ok {
		t.Fatalf("AcquireLock: %v %v", ok, err)
	}
	if err := f.store.CompleteTranscription(ctx, job.ID, relocked.LockToken, `{"p1":{}}`); err != nil {
		t.Fatalf("CompleteTranscription: %v", err)
	}
	relocked, _, _ = f.store.AcquireLock(ctx, job.ID, "w3", 0)
	if _, err := f.store.CompleteEvaluation(ctx, job.ID, relocked.LockToken, queue.Result{JobID: job.ID, OverallBand: 6.5, Payload: `{"overall_band":6.5}`}); err != nil {
		t.Fatalf("CompleteEvaluation: %v", err)
	}
	code, body = f.do(t, http.MethodGet, "/api/jobs/"+job.ID+"/result", "")
	if code != http.StatusOK {
		t.Fatalf("expected result, got %d", code)
	}
	var result api.Result
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.OverallBand != 6.5 || !strings.Contains(string(result.Payload), "overall_band") {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestBearerTokenRequired(t *testing.T) {
	f := newFixture(t)
	f.cfg.Paths.APIToken = "secret"
	if code, _ := f.do(t, http.MethodGet, "/api/jobs", ""); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/api/jobs", "", "Authorization", "Bearer wrong"); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token, got %d", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/api/jobs", "", "Authorization", "Bearer secret"); code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", code)
	}
	if code, _ := f.do(t, http.MethodGet, "/api/health", ""); code != http.StatusOK {
		t.Fatalf("health stays open, got %d", code)
	}
}

func TestHealthReportsDegradedStages(t *testing.T) {
	busUp := true
	f := newFixture(t,
		api.WithWorkflowStatus(func(context.Context) workflow.StatusSummary {
			return workflow.StatusSummary{
				Running: true,
				StageHealth: map[string]stage.Health{
					"transcription": stage.Healthy("transcription"),
					"scoring":       stage.Unhealthy("scoring", "no credentials"),
				},
			}
		}),
		api.WithBusHealth(func() bool { return busUp }),
	)
	code, body := f.do(t, http.MethodGet, "/api/health", "")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", code, body)
	}
	var resp api.HealthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "degraded" || !resp.Database.Readable || resp.Workflow == nil || len(resp.Workflow.StageHealth) != 2 {
		t.Fatalf("unexpected health %+v", resp)
	}
	if resp.Workflow.StageHealth[0].Name != "scoring" || resp.Workflow.StageHealth[0].Detail != "no credentials" {
		t.Fatalf("stage health should be sorted by name: %+v", resp.Workflow.StageHealth)
	}
}

func TestMetricsMounted(t *testing.T) {
	f := newFixture(t, api.WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "speecheval_merges_total 1\n")
	})))
	code, body := f.do(t, http.MethodGet, f.cfg.Metrics.Path, "")
	if code != http.StatusOK || !strings.Contains(string(body), "speecheval_merges_total") {
		t.Fatalf("metrics: %d %s", code, body)
	}
}
