package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"speecheval/internal/catalog"
	"speecheval/internal/config"
	"speecheval/internal/evaluation"
	"speecheval/internal/logging"
	"speecheval/internal/merge"
	"speecheval/internal/queue"
	"speecheval/internal/services"
	"speecheval/internal/stage"
)

const stageName = "evaluating"

// Store is the slice of the job store the scoring stage needs.
type Store interface {
	IsCancelled(ctx context.Context, id string) (bool, error)
	CompleteEvaluation(ctx context.Context, id, token string, result queue.Result) (string, error)
}

// Evaluator scores merged transcripts.
type Evaluator interface {
	Evaluate(ctx context.Context, segments []catalog.Segment, transcripts map[string]merge.Result, rubric evaluation.Rubric) (evaluation.Result, error)
}

// Scorer is the stage handler for pending_eval jobs.
type Scorer struct {
	cfg       *config.Config
	store     Store
	catalog   *catalog.Catalog
	evaluator Evaluator
	logger    *slog.Logger
}

// NewScorer constructs the scoring stage handler.
func NewScorer(cfg *config.Config, store Store, cat *catalog.Catalog, evaluator Evaluator, logger *slog.Logger) *Scorer {
	if cat == nil {
		cat = catalog.Default()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scorer{
		cfg:       cfg,
		store:     store,
		catalog:   cat,
		evaluator: evaluator,
		logger:    logger.With(logging.String(logging.FieldComponent, "scoring")),
	}
}

// CancelCheck adapts the store's cancellation flag to evaluation.CancelCheck.
// The job ID is taken from the context.
func CancelCheck(store stage.CancelChecker) evaluation.CancelCheck {
	return func(ctx context.Context) error {
		id, ok := services.JobIDFromContext(ctx)
		if !ok {
			return ctx.Err()
		}
		return stage.CheckCancelled(ctx, store, id)
	}
}

// Prepare validates that transcripts are available.
func (s *Scorer) Prepare(ctx context.Context, job *queue.Job) error {
	if !job.HasTranscription() {
		return services.Wrap(services.ErrValidation, stageName, "validate inputs",
			"Transcription missing; retry the job so transcription runs again", nil)
	}
	return nil
}

// Execute scores the job and stores the result.
func (s *Scorer) Execute(ctx context.Context, job *queue.Job) error {
	logger := logging.WithContext(ctx, s.logger)
	ctx = services.WithJobID(ctx, job.ID)

	transcripts, err := stage.ParseTranscription(job.Transcription)
	if err != nil {
		return err
	}
	segments, err := s.catalog.BuildSegments(job.Segments, job.Durations)
	if err != nil {
		return services.Wrap(services.ErrValidation, stageName, "build segments", "", err)
	}
	for _, seg := range segments {
		if _, ok := transcripts[seg.Key]; !ok {
			return services.Wrap(services.ErrValidation, stageName, "match transcripts",
				fmt.Sprintf("No transcript stored for segment %s", seg.Key), nil)
		}
	}
	if err := stage.CheckCancelled(ctx, s.store, job.ID); err != nil {
		return err
	}

	res, err := s.evaluator.Evaluate(ctx, segments, transcripts, RubricFor(job))
	if err != nil {
		return err
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return services.Wrap(services.ErrValidation, stageName, "encode result", "", err)
	}
	if err := stage.CheckCancelled(ctx, s.store, job.ID); err != nil {
		return err
	}
	resultID, err := s.store.CompleteEvaluation(ctx, job.ID, job.LockToken, queue.Result{
		JobID:        job.ID,
		OverallBand:  res.OverallBand,
		Payload:      string(payload),
		Model:        res.Model,
		CredentialID: res.CredentialID,
	})
	if err != nil {
		return fmt.Errorf("store evaluation: %w", err)
	}
	job.ResultID = resultID
	job.Stage = queue.StageCompleted
	job.Status = queue.StatusCompleted

	logger.Info("evaluation stored",
		logging.String(logging.FieldEventType, "evaluation_complete"),
		logging.String("result_id", resultID),
		logging.Float64("overall_band", res.OverallBand),
		logging.Float64("criteria_band", res.CriteriaBand),
		logging.Float64("cap_applied", res.CapApplied),
		logging.String(logging.FieldModel, res.Model),
		logging.String(logging.FieldCredentialID, res.CredentialID),
	)
	return nil
}

// HealthCheck reports whether scoring is configured.
func (s *Scorer) HealthCheck(context.Context) stage.Health {
	if s.evaluator == nil {
		return stage.Unhealthy(stageName, "evaluation engine not configured")
	}
	if len(s.cfg.LLM.Models) == 0 {
		return stage.Unhealthy(stageName, "no llm models configured")
	}
	return stage.Healthy(stageName)
}

// RubricFor builds the scoring rubric from the job's submission fields.
func RubricFor(job *queue.Job) evaluation.Rubric {
	return evaluation.Rubric{
		Topic:          strings.TrimSpace(job.Topic),
		Difficulty:     strings.TrimSpace(job.Difficulty),
		FluencyFlag:    job.FluencyFlag,
		EvaluationMode: strings.TrimSpace(job.EvaluationMode),
	}
}
