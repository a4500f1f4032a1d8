package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"speecheval/internal/asr"
	"speecheval/internal/catalog"
	"speecheval/internal/config"
	"speecheval/internal/logging"
	"speecheval/internal/merge"
	"speecheval/internal/queue"
	"speecheval/internal/services"
	"speecheval/internal/stage"
)

const stageName = "transcribing"

// Store is the slice of the job store the transcription stage needs.
type Store interface {
	IsCancelled(ctx context.Context, id string) (bool, error)
	CompleteTranscription(ctx context.Context, id, token, transcriptionJSON string) error
}

// EngineFactory builds the merge engine for an ASR provider.
type EngineFactory func(provider string) (*merge.Engine, error)

// Transcriber is the stage handler for pending_transcription jobs.
type Transcriber struct {
	cfg          *config.Config
	store        Store
	catalog      *catalog.Catalog
	logger       *slog.Logger
	segmentDelay time.Duration
	factory      EngineFactory

	mu      sync.Mutex
	engines map[string]*merge.Engine
}

// Option customizes a Transcriber.
type Option func(*Transcriber)

// WithEngineFactory replaces how merge engines are built per provider.
func WithEngineFactory(factory EngineFactory) Option {
	return func(t *Transcriber) {
		if factory != nil {
			t.factory = factory
		}
	}
}

// WithSegmentDelay overrides the minimum spacing between segment submissions.
func WithSegmentDelay(d time.Duration) Option {
	return func(t *Transcriber) {
		t.segmentDelay = d
	}
}

// NewTranscriber constructs the transcription stage handler. Merge engines
// are created lazily from the configured ASR provider pairs; recorder may be
// nil.
func NewTranscriber(cfg *config.Config, store Store, cat *catalog.Catalog, logger *slog.Logger, recorder merge.Recorder, opts ...Option) *Transcriber {
	if cat == nil {
		cat = catalog.Default()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	stageLogger := logger.With(logging.String(logging.FieldComponent, "transcription"))
	t := &Transcriber{
		cfg:          cfg,
		store:        store,
		catalog:      cat,
		logger:       stageLogger,
		segmentDelay: time.Duration(cfg.Workflow.SegmentDelayMillis) * time.Millisecond,
		engines:      make(map[string]*merge.Engine),
	}
	t.factory = ConfiguredEngineFactory(cfg, cat, stageLogger, recorder)
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ConfiguredEngineFactory builds merge engines from the ASR provider pairs
// in cfg, with the catalogue's cleaning patterns added to the defaults.
func ConfiguredEngineFactory(cfg *config.Config, cat *catalog.Catalog, logger *slog.Logger, recorder merge.Recorder) EngineFactory {
	return func(provider string) (*merge.Engine, error) {
		a, b, ok := cfg.ASRPair(provider)
		if !ok {
			return nil, services.Wrap(services.ErrConfiguration, stageName, "resolve provider",
				fmt.Sprintf("ASR provider %q is not configured", provider), nil)
		}
		var trailing, boilerplate []string
		if cat != nil {
			trailing = cat.Cleaning.TrailingPhrases
			boilerplate = cat.Cleaning.Boilerplate
		}
		return merge.NewEngine(
			asr.NewClient(asr.ConfigFrom(a), asr.WithLogger(logger)),
			asr.NewClient(asr.ConfigFrom(b), asr.WithLogger(logger)),
			merge.WithCleaner(merge.NewCleaner(trailing, boilerplate)),
			merge.WithLogger(logger),
			merge.WithRecorder(recorder),
		), nil
	}
}

// Prepare validates that the job can be transcribed.
func (t *Transcriber) Prepare(ctx context.Context, job *queue.Job) error {
	if len(job.Segments) == 0 {
		return services.Wrap(services.ErrValidation, stageName, "validate inputs",
			"Job has no recorded segments; resubmit with file paths", nil)
	}
	if _, _, ok := t.cfg.ASRPair(job.Provider); !ok {
		return services.Wrap(services.ErrConfiguration, stageName, "resolve provider",
			fmt.Sprintf("ASR provider %q is not configured", job.Provider), nil)
	}
	logging.WithContext(ctx, t.logger).Debug("transcription prepared",
		logging.Int("segments", len(job.Segments)),
		logging.String("provider", providerLabel(t.cfg, job.Provider)),
	)
	return nil
}

// Execute transcribes and merges every segment, then stores the merged
// transcripts and advances the job to pending_eval.
func (t *Transcriber) Execute(ctx context.Context, job *queue.Job) error {
	logger := logging.WithContext(ctx, t.logger)
	segments, err := t.catalog.BuildSegments(job.Segments, job.Durations)
	if err != nil {
		return services.Wrap(services.ErrValidation, stageName, "build segments",
			"Job segment keys are invalid; resubmit with keys such as p1q1 or p2", err)
	}
	engine, err := t.engineFor(job.Provider)
	if err != nil {
		return err
	}

	limit := rate.Inf
	if t.segmentDelay > 0 {
		limit = rate.Every(t.segmentDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	started := time.Now()
	results := make(map[string]merge.Result, len(segments))
	for _, seg := range segments {
		if err := stage.CheckCancelled(ctx, t.store, job.ID); err != nil {
			return err
		}
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		res, err := engine.Merge(ctx, seg)
		if err != nil {
			return err
		}
		results[seg.Key] = res
	}
	if err := stage.CheckCancelled(ctx, t.store, job.ID); err != nil {
		return err
	}

	raw, err := stage.EncodeTranscription(results)
	if err != nil {
		return err
	}
	if err := t.store.CompleteTranscription(ctx, job.ID, job.LockToken, raw); err != nil {
		return fmt.Errorf("store transcription: %w", err)
	}
	job.Transcription = raw
	job.Stage = queue.StagePendingEval
	job.Status = queue.StatusPending

	logger.Info("transcription stored",
		logging.String(logging.FieldEventType, "transcription_complete"),
		logging.Int("segments", len(results)),
		logging.String("low_confidence", strings.Join(lowConfidence(segments, results), ",")),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// HealthCheck reports whether the primary ASR pair is usable.
func (t *Transcriber) HealthCheck(context.Context) stage.Health {
	a, b, _ := t.cfg.ASRPair("")
	for _, p := range []config.ASRProvider{a, b} {
		if strings.TrimSpace(p.URL) == "" {
			return stage.Unhealthy(stageName, fmt.Sprintf("%s url not configured", p.Name))
		}
		if strings.TrimSpace(p.APIKey) == "" {
			return stage.Unhealthy(stageName, fmt.Sprintf("%s api key not configured", p.Name))
		}
	}
	return stage.Healthy(stageName)
}

func (t *Transcriber) engineFor(provider string) (*merge.Engine, error) {
	key := providerLabel(t.cfg, provider)
	t.mu.Lock()
	defer t.mu.Unlock()
	if engine, ok := t.engines[key]; ok {
		return engine, nil
	}
	engine, err := t.factory(key)
	if err != nil {
		return nil, err
	}
	t.engines[key] = engine
	return engine, nil
}

func providerLabel(cfg *config.Config, provider string) string {
	if strings.TrimSpace(provider) == "" {
		return cfg.ASR.Provider
	}
	return strings.TrimSpace(provider)
}

func lowConfidence(segments []catalog.Segment, results map[string]merge.Result) []string {
	var keys []string
	for _, seg := range segments {
		switch results[seg.Key].ConfidenceTier {
		case merge.TierLow, merge.TierVeryLow:
			keys = append(keys, seg.Key)
		}
	}
	return keys
}
