package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"speecheval/internal/config"
	"speecheval/internal/queue"
	"speecheval/internal/services"
)

// JobStore abstracts the persistence operations the API needs.
type JobStore interface {
	CreateJob(ctx context.Context, req queue.NewJob) (*queue.Job, error)
	GetJob(ctx context.Context, id string) (*queue.Job, error)
	ListJobs(ctx context.Context, statuses ...queue.Status) ([]*queue.Job, error)
	Stats(ctx context.Context) (map[queue.Status]int, error)
	CancelJob(ctx context.Context, id, reason string) (bool, error)
	RetryFailed(ctx context.Context, ids ...string) (int64, error)
	ResultForJob(ctx context.Context, jobID string) (*queue.Result, error)
}

// DispatchFunc hands a job to the workflow right away. Without one, the
// workflow reconciler picks new jobs up on its next pass.
type DispatchFunc func(ctx context.Context, jobID string) (bool, error)

// JobService exposes job operations returning API DTOs.
type JobService struct {
	store    JobStore
	cfg      *config.Config
	dispatch DispatchFunc
}

// NewJobService constructs a JobService around store.
func NewJobService(store JobStore, cfg *config.Config, dispatch DispatchFunc) *JobService {
	return &JobService{store: store, cfg: cfg, dispatch: dispatch}
}

// Submit validates and stores a new job, then dispatches it.
func (s *JobService) Submit(ctx context.Context, req CreateJobRequest) (*Job, error) {
	if strings.TrimSpace(req.TestID) == "" {
		return nil, services.Wrap(services.ErrValidation, "api", "submit job", "testId is required", nil)
	}
	if len(req.FilePaths) == 0 {
		return nil, services.Wrap(services.ErrValidation, "api", "submit job", "filePaths must name at least one segment", nil)
	}
	provider := strings.TrimSpace(req.Provider)
	if provider != "" && s.cfg != nil {
		if _, _, ok := s.cfg.ASRPair(provider); !ok {
			return nil, services.Wrap(services.ErrValidation, "api", "submit job",
				fmt.Sprintf("unknown ASR provider %q", provider), nil)
		}
	}
	maxRetries := 0
	if s.cfg != nil {
		maxRetries = s.cfg.Workflow.MaxRetries
	}
	job, err := s.store.CreateJob(ctx, queue.NewJob{
		ID:             req.ID,
		Owner:          strings.TrimSpace(req.Owner),
		TestID:         strings.TrimSpace(req.TestID),
		Provider:       provider,
		Segments:       req.FilePaths,
		Durations:      req.Durations,
		Topic:          req.Topic,
		Difficulty:     req.Difficulty,
		FluencyFlag:    req.FluencyFlag,
		EvaluationMode: req.EvaluationMode,
		MaxRetries:     maxRetries,
	})
	if err != nil {
		if errors.Is(err, queue.ErrInvalidJob) {
			return nil, services.Wrap(services.ErrValidation, "api", "submit job", err.Error(), nil)
		}
		return nil, err
	}
	s.kick(ctx, job.ID)
	dto := FromJob(job)
	return &dto, nil
}

// List returns jobs filtered by status.
func (s *JobService) List(ctx context.Context, statuses ...queue.Status) ([]Job, error) {
	jobs, err := s.store.ListJobs(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	return FromJobs(jobs), nil
}

// Stats returns job counts keyed by status string.
func (s *JobService) Stats(ctx context.Context) (map[string]int, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergeQueueStats(stats), nil
}

// Describe fetches a single job, or nil when it does not exist.
func (s *JobService) Describe(ctx context.Context, id string) (*Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil || job == nil {
		return nil, err
	}
	dto := FromJob(job)
	return &dto, nil
}

// Result fetches the stored evaluation for a job, or nil when none exists.
func (s *JobService) Result(ctx context.Context, id string) (*Result, error) {
	result, err := s.store.ResultForJob(ctx, id)
	if err != nil || result == nil {
		return nil, err
	}
	dto := FromResult(result)
	return &dto, nil
}

// Cancel cancels one job on behalf of owner. An empty owner is an operator
// and may cancel any job.
func (s *JobService) Cancel(ctx context.Context, id, owner, reason string) (ActionOutcome, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return "", err
	}
	if job == nil {
		return OutcomeNotFound, nil
	}
	if owner != "" && job.Owner != "" && owner != job.Owner {
		return OutcomeForbidden, nil
	}
	if job.IsTerminal() {
		return OutcomeAlreadyTerminal, nil
	}
	changed, err := s.store.CancelJob(ctx, id, reason)
	if err != nil {
		return "", err
	}
	if !changed {
		return OutcomeAlreadyTerminal, nil
	}
	return OutcomeCancelled, nil
}

// Retry returns one failed job to its retry-safe stage.
func (s *JobService) Retry(ctx context.Context, id string) (ActionOutcome, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return "", err
	}
	if job == nil {
		return OutcomeNotFound, nil
	}
	if job.Status != queue.StatusFailed {
		return OutcomeNotFailed, nil
	}
	updated, err := s.store.RetryFailed(ctx, id)
	if err != nil {
		return "", err
	}
	if updated == 0 {
		return OutcomeNotFailed, nil
	}
	s.kick(ctx, id)
	return OutcomeRetried, nil
}

func (s *JobService) kick(ctx context.Context, id string) {
	if s.dispatch == nil {
		return
	}
	// Dispatch errors are recovered by the reconciler.
	_, _ = s.dispatch(ctx, id)
}
