package testsupport

import (
	"context"
	"testing"

	"speecheval/internal/config"
	"speecheval/internal/queue"
	"speecheval/internal/quota"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob submits a job with the given segment references.
func NewJob(t testing.TB, store *queue.Store, segments map[string]string) *queue.Job {
	t.Helper()

	job, err := store.CreateJob(context.Background(), queue.NewJob{
		TestID:     "test-1",
		Owner:      "candidate",
		Segments:   segments,
		MaxRetries: 3,
	})
	if err != nil {
		t.Fatalf("store.CreateJob: %v", err)
	}
	return job
}

// AddCredential registers an API key for provider.
func AddCredential(t testing.TB, store *queue.Store, provider, secret string) quota.Credential {
	t.Helper()

	cred, err := store.AddCredential(context.Background(), provider, "", secret)
	if err != nil {
		t.Fatalf("store.AddCredential: %v", err)
	}
	return cred
}
