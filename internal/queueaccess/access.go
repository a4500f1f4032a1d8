package queueaccess

import (
	"context"
	"fmt"

	"speecheval/internal/api"
	"speecheval/internal/config"
	"speecheval/internal/queue"
)

// Access provides job operations regardless of API or direct store backing.
type Access interface {
	Stats(ctx context.Context) (map[string]int, error)
	List(ctx context.Context, statuses []string) ([]api.Job, error)
	Describe(ctx context.Context, id string) (*api.Job, error)
	Result(ctx context.Context, id string) (*api.Result, error)
	Submit(ctx context.Context, req api.CreateJobRequest) (string, error)
	Cancel(ctx context.Context, reason string, ids []string) (api.JobActionsResult, error)
	// Retry retries the named failed jobs, or every failed job when ids is empty.
	Retry(ctx context.Context, ids []string) (api.JobActionsResult, error)
}

// NewAPIAccess returns an Access backed by the daemon's job API.
func NewAPIAccess(client *api.Client) Access {
	return &apiAccess{client: client}
}

// NewStoreAccess returns an Access backed by direct DB access. Jobs
// submitted this way are picked up by the daemon's reconciler.
func NewStoreAccess(store *queue.Store, cfg *config.Config) Access {
	return &storeAccess{service: api.NewJobService(store, cfg, nil)}
}

type apiAccess struct {
	client *api.Client
}

func (a *apiAccess) Stats(ctx context.Context) (map[string]int, error) {
	health, err := a.client.Health(ctx)
	if err != nil {
		return nil, err
	}
	if health.Workflow == nil {
		return map[string]int{}, nil
	}
	return health.Workflow.QueueStats, nil
}

func (a *apiAccess) List(ctx context.Context, statuses []string) ([]api.Job, error) {
	return a.client.List(ctx, statuses)
}

func (a *apiAccess) Describe(ctx context.Context, id string) (*api.Job, error) {
	return a.client.Describe(ctx, id)
}

func (a *apiAccess) Result(ctx context.Context, id string) (*api.Result, error) {
	return a.client.Result(ctx, id)
}

func (a *apiAccess) Submit(ctx context.Context, req api.CreateJobRequest) (string, error) {
	resp, err := a.client.Submit(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.JobID, nil
}

func (a *apiAccess) Cancel(ctx context.Context, reason string, ids []string) (api.JobActionsResult, error) {
	return collect(ids, api.OutcomeCancelled, func(id string) (api.ActionOutcome, error) {
		return a.client.Cancel(ctx, id, "", reason)
	})
}

func (a *apiAccess) Retry(ctx context.Context, ids []string) (api.JobActionsResult, error) {
	if len(ids) == 0 {
		failed, err := a.client.List(ctx, []string{string(queue.StatusFailed)})
		if err != nil {
			return api.JobActionsResult{}, err
		}
		for _, job := range failed {
			ids = append(ids, job.ID)
		}
	}
	return collect(ids, api.OutcomeRetried, func(id string) (api.ActionOutcome, error) {
		return a.client.Retry(ctx, id)
	})
}

func collect(ids []string, success api.ActionOutcome, act func(id string) (api.ActionOutcome, error)) (api.JobActionsResult, error) {
	result := api.JobActionsResult{Jobs: make([]api.JobActionResult, 0, len(ids))}
	for _, id := range ids {
		outcome, err := act(id)
		if err != nil {
			return api.JobActionsResult{}, err
		}
		if outcome == success {
			result.UpdatedCount++
		}
		result.Jobs = append(result.Jobs, api.JobActionResult{ID: id, Outcome: outcome})
	}
	return result, nil
}

type storeAccess struct {
	service *api.JobService
}

func (s *storeAccess) Stats(ctx context.Context) (map[string]int, error) {
	return s.service.Stats(ctx)
}

func (s *storeAccess) List(ctx context.Context, statuses []string) ([]api.Job, error) {
	parsed := make([]queue.Status, 0, len(statuses))
	for _, raw := range statuses {
		status, ok := queue.ParseStatus(raw)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", raw)
		}
		parsed = append(parsed, status)
	}
	jobs, err := s.service.List(ctx, parsed...)
	if err != nil {
		return nil, err
	}
	return api.SortJobsNewestFirst(jobs), nil
}

func (s *storeAccess) Describe(ctx context.Context, id string) (*api.Job, error) {
	return s.service.Describe(ctx, id)
}

func (s *storeAccess) Result(ctx context.Context, id string) (*api.Result, error) {
	return s.service.Result(ctx, id)
}

func (s *storeAccess) Submit(ctx context.Context, req api.CreateJobRequest) (string, error) {
	job, err := s.service.Submit(ctx, req)
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

func (s *storeAccess) Cancel(ctx context.Context, reason string, ids []string) (api.JobActionsResult, error) {
	return api.CancelJobsByID(ctx, s.service, reason, ids)
}

func (s *storeAccess) Retry(ctx context.Context, ids []string) (api.JobActionsResult, error) {
	if len(ids) == 0 {
		failed, err := s.service.List(ctx, queue.StatusFailed)
		if err != nil {
			return api.JobActionsResult{}, err
		}
		for _, job := range failed {
			ids = append(ids, job.ID)
		}
	}
	return api.RetryFailedJobsByID(ctx, s.service, ids)
}
