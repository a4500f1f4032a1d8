package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"speecheval/internal/asr"
	"speecheval/internal/catalog"
	"speecheval/internal/logging"
	"speecheval/internal/services"
)

// Recorder observes merge outcomes, typically for metrics.
type Recorder interface {
	RecordMerge(ctx context.Context, res Result)
}

// Engine runs two ASR models per segment and merges their output.
type Engine struct {
	modelA   asr.Transcriber
	modelB   asr.Transcriber
	source   asr.Source
	cleaner  *Cleaner
	logger   *slog.Logger
	recorder Recorder
}

// Option customizes an Engine.
type Option func(*Engine)

// WithSource overrides how storage references are loaded.
func WithSource(source asr.Source) Option {
	return func(e *Engine) {
		if source != nil {
			e.source = source
		}
	}
}

// WithCleaner overrides the transcript cleaner.
func WithCleaner(cleaner *Cleaner) Option {
	return func(e *Engine) {
		if cleaner != nil {
			e.cleaner = cleaner
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRecorder registers a merge observer.
func WithRecorder(recorder Recorder) Option {
	return func(e *Engine) {
		e.recorder = recorder
	}
}

// NewEngine constructs a merge engine over two transcribers.
func NewEngine(modelA, modelB asr.Transcriber, opts ...Option) *Engine {
	e := &Engine{
		modelA:  modelA,
		modelB:  modelB,
		source:  asr.FileOrHTTPSource{},
		cleaner: NewCleaner(nil, nil),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.NewComponentLogger(e.logger, "merge")
	return e
}

// Merge transcribes seg with both models concurrently and resolves the
// results. It fails only when both models fail.
func (e *Engine) Merge(ctx context.Context, seg catalog.Segment) (Result, error) {
	audio, err := e.source.Load(ctx, seg.StorageRef)
	if err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "transcribing", "load audio", seg.Key, err)
	}
	audio.Duration = seg.Duration

	var (
		wg         sync.WaitGroup
		candA      asr.Candidate
		candB      asr.Candidate
		errA, errB error
	)
	// One model failing must not cancel the other; single-fallback needs both outcomes.
	wg.Go(func() { candA, errA = e.modelA.Transcribe(ctx, audio) })
	wg.Go(func() { candB, errB = e.modelB.Transcribe(ctx, audio) })
	wg.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}
	if errA != nil && errB != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "transcribing", "dual asr",
			fmt.Sprintf("both models failed for %s", seg.Key), errors.Join(errA, errB))
	}

	var (
		a, b     *asr.Candidate
		failures []string
	)
	if errA == nil {
		a = &candA
	} else {
		failures = append(failures, fmt.Sprintf("%s failed: %v", e.modelA.Name(), errA))
		e.logFallback(ctx, seg, e.modelA.Name(), errA)
	}
	if errB == nil {
		b = &candB
	} else {
		failures = append(failures, fmt.Sprintf("%s failed: %v", e.modelB.Name(), errB))
		e.logFallback(ctx, seg, e.modelB.Name(), errB)
	}

	res, err := Resolve(e.cleaner, seg.Key, seg.Duration, a, b, failures...)
	if err != nil {
		return Result{}, err
	}
	logging.WithContext(ctx, e.logger).Info("segment merged",
		logging.String(logging.FieldSegmentKey, seg.Key),
		logging.String("tier", string(res.ConfidenceTier)),
		logging.String("method", string(res.ResolutionMethod)),
		logging.Float64("agreement", res.AgreementScore),
		logging.String("selected_model", res.SelectedModel),
		logging.Int("word_count", res.WordCount),
		logging.String(logging.FieldEventType, "segment_merged"),
	)
	if e.recorder != nil {
		e.recorder.RecordMerge(ctx, res)
	}
	return res, nil
}

func (e *Engine) logFallback(ctx context.Context, seg catalog.Segment, model string, err error) {
	logging.WarnWithContext(logging.WithContext(ctx, e.logger), "asr model failed; using single fallback", "asr_single_fallback",
		logging.String(logging.FieldSegmentKey, seg.Key),
		logging.String(logging.FieldModel, model),
		logging.String(logging.FieldErrorHint, "check the ASR endpoint and API key for this model"),
		logging.Error(err),
	)
}
