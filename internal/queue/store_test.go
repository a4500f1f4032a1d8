package queue_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"speecheval/internal/queue"
	"speecheval/internal/testsupport"
)

var sampleSegments = map[string]string{
	"p1q1": "file:///audio/p1q1.wav",
	"p2":   "file:///audio/p2.wav",
}

func TestOpenCreatesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, sampleSegments)
	if job.ID == "" {
		t.Fatal("expected job ID to be assigned")
	}
	if job.Stage != queue.StagePendingTranscription || job.Status != queue.StatusPending {
		t.Fatalf("unexpected initial state %s/%s", job.Stage, job.Status)
	}

	fetched, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched == nil || fetched.Segments["p2"] != "file:///audio/p2.wav" {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}

	health, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.TableExists || !health.IntegrityCheck || len(health.MissingColumns) != 0 || health.SchemaVersion != 1 {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestCreateJobValidation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := store.CreateJob(ctx, queue.NewJob{Segments: sampleSegments}); !errors.Is(err, queue.ErrInvalidJob) {
		t.Fatalf("expected ErrInvalidJob for missing test id, got %v", err)
	}
	if _, err := store.CreateJob(ctx, queue.NewJob{TestID: "t"}); !errors.Is(err, queue.ErrInvalidJob) {
		t.Fatalf("expected ErrInvalidJob for missing segments, got %v", err)
	}
}

func TestCreateJobIsIdempotentByID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first, err := store.CreateJob(ctx, queue.NewJob{ID: "job-1", TestID: "t", Segments: sampleSegments})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	second, err := store.CreateJob(ctx, queue.NewJob{ID: "job-1", TestID: "other", Segments: sampleSegments})
	if err != nil {
		t.Fatalf("CreateJob again: %v", err)
	}
	if second.TestID != first.TestID {
		t.Fatalf("expected resubmission to return stored job, got %q", second.TestID)
	}
	jobs, err := store.ListJobs(ctx)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("expected one job, got %d (%v)", len(jobs), err)
	}
}

func TestAcquireLockIsExclusive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, store, sampleSegments)
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		wins  atomic.Int32
		start = make(chan struct{})
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, ok, err := store.AcquireLock(ctx, job.ID, "", time.Minute)
			if err != nil {
				t.Errorf("AcquireLock: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one lock winner, got %d", wins.Load())
	}
	fetched, _ := store.GetJob(ctx, job.ID)
	if fetched.Stage != queue.StageTranscribing || fetched.Status != queue.StatusProcessing || fetched.LockToken == "" {
		t.Fatalf("unexpected locked job state %+v", fetched)
	}
}

func TestAcquireLockSkipsTerminalJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, store, sampleSegments)
	ctx := context.Background()

	changed, err := store.CancelJob(ctx, job.ID, "")
	if err != nil || !changed {
		t.Fatalf("CancelJob: %v %v", changed, err)
	}
	_, ok, err := store.AcquireLock(ctx, job.ID, "tok", time.Minute)
	if err != nil || ok {
		t.Fatalf("expected no lock on cancelled job, got %v %v", ok, err)
	}
	cancelled, err := store.IsCancelled(ctx, job.ID)
	if err != nil || !cancelled {
		t.Fatalf("expected cancelled, got %v %v", cancelled, err)
	}
	changed, err = store.CancelJob(ctx, job.ID, "")
	if err != nil || changed {
		t.Fatalf("second cancel should be a no-op, got %v %v", changed, err)
	}
}

func TestStageTransitionsRequireLockToken(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := testsupport.NewJob(t, store, sampleSegments)
	ctx := context.Background()

	locked, ok, err := store.AcquireLock(ctx, job.ID, "tok-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("AcquireLock: %v %v", ok, err)
	}
	if err := store.Heartbeat(ctx, locked.ID, "wrong", time.Minute); !errors.Is(err, queue.ErrLockLost) {
		t.Fatalf("expected ErrLockLost for foreign token, got %v", err)
	}
	if err := store.Heartbeat(ctx, locked.ID, "tok-1", time.Minute); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if err := store.CompleteTranscription(ctx, locked.ID, "tok-1", `{"p1q1":{}}`); err != nil {
		t.Fatalf("CompleteTranscription: %v", err)
	}

	fetched, _ := store.GetJob(ctx, job.ID)
	if fetched.Stage != queue.StagePendingEval || fetched.Status != queue.StatusPending || fetched.LockToken != "" {
		t.Fatalf("unexpected state after transcription %+v", fetched)
	}
	if !fetched.HasTranscription() {
		t.Fatal("expected transcription to be stored")
	}

	if _, ok, err := store.AcquireLock(ctx, job.ID, "tok-2", time.Minute); err != nil || !ok {
		t.Fatalf("AcquireLock eval: %v %v", ok, err)
	}
	resultID, err := store.CompleteEvaluation(ctx, job.ID, "tok-2", queue.Result{OverallBand: 6.5, Payload: `{"overall":6.5}`, Model: "m"})
	if err != nil {
		t.Fatalf("CompleteEvaluation: %v", err)
	}
	fetched, _ = store.GetJob(ctx, job.ID)
	if fetched.Stage != queue.StageCompleted || fetched.Status != queue.StatusCompleted || fetched.ResultID != resultID {
		t.Fatalf("unexpected completed state %+v", fetched)
	}
	result, err := store.ResultForJob(ctx, job.ID)
	if err != nil || result == nil || result.OverallBand != 6.5 {
		t.Fatalf("unexpected result %+v %v", result, err)
	}

	if _, err := store.CompleteEvaluation(ctx, job.ID, "tok-2", queue.Result{OverallBand: 7}); !errors.Is(err, queue.ErrLockLost) {
		t.Fatalf("expected ErrLockLost on duplicate completion, got %v", err)
	}
	result, _ = store.ResultForJob(ctx, job.ID)
	if result.OverallBand != 6.5 {
		t.Fatalf("duplicate completion must not overwrite result, got %v", result.OverallBand)
	}
}

func TestStaleJobsAndRecovery(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	job := testsupport.NewJob(t, store, sampleSegments)
	if _, ok, err := store.AcquireLock(ctx, job.ID, "tok", 10*time.Minute); err != nil || !ok {
		t.Fatalf("AcquireLock: %v %v", ok, err)
	}

	stale, err := store.StaleJobs(ctx, 2*time.Minute)
	if err != nil || len(stale) != 0 {
		t.Fatalf("expected no stale jobs yet, got %d %v", len(stale), err)
	}

	now = now.Add(3 * time.Minute)
	stale, err = store.StaleJobs(ctx, 2*time.Minute)
	if err != nil || len(stale) != 1 {
		t.Fatalf("expected one stale job, got %d %v", len(stale), err)
	}

	plan := queue.PlanRecovery(stale[0], "heartbeat timeout", nil)
	if plan.Action != queue.RecoveryRequeue || plan.Stage != queue.StagePendingTranscription {
		t.Fatalf("unexpected plan %+v", plan)
	}
	applied, err := store.ApplyRecovery(ctx, stale[0], plan)
	if err != nil || !applied {
		t.Fatalf("ApplyRecovery: %v %v", applied, err)
	}
	applied, err = store.ApplyRecovery(ctx, stale[0], plan)
	if err != nil || applied {
		t.Fatalf("second apply should not land, got %v %v", applied, err)
	}

	fetched, _ := store.GetJob(ctx, job.ID)
	if fetched.Status != queue.StatusPending || fetched.RetryCount != 1 || fetched.LockToken != "" {
		t.Fatalf("unexpected recovered job %+v", fetched)
	}
}

func TestRetryFailedResumesAtSafeStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	noTranscript := testsupport.NewJob(t, store, sampleSegments)
	withTranscript := testsupport.NewJob(t, store, sampleSegments)

	if _, _, err := store.AcquireLock(ctx, noTranscript.ID, "a", time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := store.FailJob(ctx, noTranscript.ID, "a", "asr broke"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	if _, _, err := store.AcquireLock(ctx, withTranscript.ID, "b", time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := store.CompleteTranscription(ctx, withTranscript.ID, "b", `{}`); err != nil {
		t.Fatal(err)
	}
	if _, _, err := store.AcquireLock(ctx, withTranscript.ID, "c", time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := store.FailJob(ctx, withTranscript.ID, "c", "llm broke"); err != nil {
		t.Fatal(err)
	}

	count, err := store.RetryFailed(ctx)
	if err != nil || count != 2 {
		t.Fatalf("RetryFailed: %d %v", count, err)
	}
	a, _ := store.GetJob(ctx, noTranscript.ID)
	b, _ := store.GetJob(ctx, withTranscript.ID)
	if a.Stage != queue.StagePendingTranscription || b.Stage != queue.StagePendingEval {
		t.Fatalf("unexpected stages %s %s", a.Stage, b.Stage)
	}
	if a.LastError != "" || a.RetryCount != 0 {
		t.Fatalf("expected cleared error and retries, got %+v", a)
	}

	health, err := store.Health(ctx)
	if err != nil || health.Pending != 2 || health.Total != 2 {
		t.Fatalf("unexpected health %+v %v", health, err)
	}
}

func TestDispatchableJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := testsupport.NewJob(t, store, sampleSegments)
	second := testsupport.NewJob(t, store, sampleSegments)
	if _, _, err := store.AcquireLock(ctx, second.ID, "x", time.Minute); err != nil {
		t.Fatal(err)
	}
	jobs, err := store.DispatchableJobs(ctx, 10)
	if err != nil {
		t.Fatalf("DispatchableJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != first.ID {
		t.Fatalf("expected only the unlocked job, got %d", len(jobs))
	}
}

func TestCredentialQuotaPersistence(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	cred := testsupport.AddCredential(t, store, "gemini", "key-aaaaaaaaaaaa")
	dup := testsupport.AddCredential(t, store, "gemini", "key-aaaaaaaaaaaa")
	if dup.ID != cred.ID {
		t.Fatalf("expected duplicate add to return existing credential")
	}
	testsupport.AddCredential(t, store, "other", "key-bbbbbbbbbbbb")

	if err := store.SetModelExhausted(ctx, cred.ID, "pro", "2025-01-01"); err != nil {
		t.Fatalf("SetModelExhausted: %v", err)
	}
	if err := store.IncrementErrorCount(ctx, cred.ID); err != nil {
		t.Fatal(err)
	}

	creds, err := store.ListCredentials(ctx, "gemini")
	if err != nil || len(creds) != 1 {
		t.Fatalf("ListCredentials: %d %v", len(creds), err)
	}
	q := creds[0].Models["pro"]
	if !q.Exhausted || q.ExhaustedDate != "2025-01-01" || creds[0].ErrorCount != 1 {
		t.Fatalf("unexpected credential state %+v", creds[0])
	}

	cleared, err := store.ResetExhaustion(ctx, "gemini")
	if err != nil || cleared != 1 {
		t.Fatalf("ResetExhaustion: %d %v", cleared, err)
	}
	if err := store.ClearErrorCount(ctx, cred.ID); err != nil {
		t.Fatal(err)
	}
	if ok, err := store.SetCredentialActive(ctx, cred.ID, false); err != nil || !ok {
		t.Fatalf("SetCredentialActive: %v %v", ok, err)
	}
	creds, _ = store.ListCredentials(ctx, "gemini")
	if creds[0].Models["pro"].Exhausted || creds[0].ErrorCount != 0 || creds[0].Active {
		t.Fatalf("unexpected credential after reset %+v", creds[0])
	}
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	path := store.Path()
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("bump user_version: %v", err)
	}
	_ = db.Close()

	if _, err := queue.OpenPath(path); !errors.Is(err, queue.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
