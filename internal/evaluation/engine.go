package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"speecheval/internal/catalog"
	"speecheval/internal/logging"
	"speecheval/internal/merge"
	"speecheval/internal/quota"
	"speecheval/internal/services"
	"speecheval/internal/services/llm"
	"speecheval/internal/textutil"
)

// minimalWords is the transcript length below which an answer is minimal
// regardless of the band the model gave it.
const minimalWords = 3

// Completer sends one JSON completion request.
type Completer interface {
	CompleteJSON(ctx context.Context, req llm.Request) (string, error)
}

// CancelCheck returns an error when the job has been cancelled.
type CancelCheck func(ctx context.Context) error

// Recorder observes LLM attempts, typically for metrics.
type Recorder interface {
	RecordLLMAttempt(ctx context.Context, model string, outcome Outcome)
}

// Engine scores merged transcripts through the credential pool.
type Engine struct {
	client        Completer
	pool          *quota.Pool
	classifier    quota.Classifier
	models        []string
	maxRetryAfter time.Duration
	logger        *slog.Logger
	recorder      Recorder
	cancelled     CancelCheck
	sleep         func(ctx context.Context, d time.Duration) error
}

// Option customizes an Engine.
type Option func(*Engine)

// WithModels sets the model priority list.
func WithModels(models ...string) Option {
	return func(e *Engine) {
		e.models = append([]string(nil), models...)
	}
}

// WithClassifier replaces the quota classifier.
func WithClassifier(c quota.Classifier) Option {
	return func(e *Engine) {
		if c != nil {
			e.classifier = c
		}
	}
}

// WithMaxRetryAfter bounds how long a rate-limited pair is waited on before rotating.
func WithMaxRetryAfter(d time.Duration) Option {
	return func(e *Engine) {
		e.maxRetryAfter = d
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

// WithRecorder registers an attempt observer.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithCancelCheck is consulted before every LLM call.
func WithCancelCheck(check CancelCheck) Option {
	return func(e *Engine) {
		e.cancelled = check
	}
}

// WithSleeper overrides how retry delays are waited out (useful for tests).
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// NewEngine constructs an evaluation engine.
func NewEngine(client Completer, pool *quota.Pool, opts ...Option) *Engine {
	e := &Engine{
		client:     client,
		pool:       pool,
		classifier: quota.HeuristicClassifier{},
		logger:     logging.NewNop(),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.NewComponentLogger(e.logger, "evaluation")
	return e
}

type pair struct {
	cred  quota.Credential
	model string
}

// attemptPlan is the ordered list of (credential, model) pairs to try,
// credential-major so each credential's models are tried before moving on.
type attemptPlan []pair

func buildPlan(creds []quota.Credential, models []string, today string) attemptPlan {
	var plan attemptPlan
	for _, cred := range creds {
		for _, model := range quota.UsableModels(cred, models, today) {
			plan = append(plan, pair{cred: cred, model: model})
		}
	}
	return plan
}

func (p attemptPlan) hasNextModel(i int) bool {
	return i+1 < len(p) && p[i+1].cred.ID == p[i].cred.ID
}

func (p attemptPlan) nextCredential(i int) int {
	j := i + 1
	for j < len(p) && p[j].cred.ID == p[i].cred.ID {
		j++
	}
	return j
}

type attemptResult struct {
	outcome    Outcome
	retryAfter time.Duration
	err        error
}

// Evaluate scores the transcripts of segments, which must be in catalogue
// order. It walks credentials and models as directed by NextAction and
// returns the first response that normalizes and validates.
func (e *Engine) Evaluate(ctx context.Context, segments []catalog.Segment, transcripts map[string]merge.Result, rubric Rubric) (Result, error) {
	if len(e.models) == 0 {
		return Result{}, services.Wrap(services.ErrConfiguration, "evaluating", "evaluate", "no llm models configured", nil)
	}
	prompt, err := BuildPrompt(segments, transcripts, rubric)
	if err != nil {
		return Result{}, services.Wrap(services.ErrValidation, "evaluating", "build prompt", "", err)
	}
	creds, err := e.pool.Candidates(ctx, e.models)
	if err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "evaluating", "checkout credential",
			fmt.Sprintf("no %s credential available for %v", e.pool.Provider(), e.models), err)
	}
	plan := buildPlan(creds, e.models, e.pool.Today())
	logger := logging.WithContext(ctx, e.logger)

	var (
		failures []error
		i        int
		retried  bool
	)
	for i < len(plan) {
		if err := e.checkCancelled(ctx); err != nil {
			return Result{}, err
		}
		p := plan[i]
		res, att := e.attempt(ctx, prompt, p, segments, transcripts)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		e.applyPoolEffects(ctx, p, att)
		if e.recorder != nil {
			e.recorder.RecordLLMAttempt(ctx, p.model, att.outcome)
		}

		decision := NextAction(AttemptState{
			Outcome:           att.outcome,
			RetryAfter:        att.retryAfter,
			RetriedSame:       retried,
			HasNextModel:      plan.hasNextModel(i),
			HasNextCredential: plan.nextCredential(i) < len(plan),
			MaxRetryAfter:     e.maxRetryAfter,
		})
		attrs := []logging.Attr{
			logging.String(logging.FieldModel, p.model),
			logging.String(logging.FieldCredentialID, p.cred.ID),
			logging.String("outcome", att.outcome.String()),
			logging.String("action", decision.Action.String()),
		}
		if att.err != nil {
			failures = append(failures, fmt.Errorf("%s/%s: %w", p.cred.Redacted(), p.model, att.err))
			attrs = append(attrs, logging.Error(att.err))
			logging.WarnWithContext(logger, "llm attempt failed", "llm_attempt_failed",
				append(attrs, logging.String(logging.FieldErrorHint, "the next model or credential will be tried"))...)
		} else {
			logger.Info("llm attempt accepted", logging.Args(append(attrs,
				logging.Float64("overall_band", res.OverallBand),
				logging.String(logging.FieldEventType, "llm_attempt_accepted"))...)...)
		}

		switch decision.Action {
		case ActionAccept:
			return res, nil
		case ActionRetrySame:
			if err := e.sleep(ctx, decision.After); err != nil {
				return Result{}, err
			}
			retried = true
		case ActionNextModel:
			i, retried = i+1, false
		case ActionNextCredential:
			i, retried = plan.nextCredential(i), false
		default:
			i = len(plan)
		}
	}

	return Result{}, services.Wrap(services.ErrExternalTool, "evaluating", "evaluate",
		fmt.Sprintf("no model produced a valid evaluation after %d attempts", len(failures)), errors.Join(failures...))
}

func (e *Engine) attempt(ctx context.Context, prompt Prompt, p pair, segments []catalog.Segment, transcripts map[string]merge.Result) (Result, attemptResult) {
	content, err := e.client.CompleteJSON(ctx, llm.Request{
		System: prompt.System,
		User:   prompt.User,
		Model:  p.model,
		APIKey: p.cred.Secret,
	})
	if err != nil {
		if llm.IsEmptyContent(err) {
			return Result{}, attemptResult{outcome: OutcomeInvalid, err: err}
		}
		c := e.classifier.Classify(err)
		switch c.Kind {
		case quota.KindTransient:
			return Result{}, attemptResult{outcome: OutcomeTransient, retryAfter: c.RetryAfter, err: err}
		case quota.KindPermanent:
			return Result{}, attemptResult{outcome: OutcomePermanent, err: err}
		default:
			return Result{}, attemptResult{outcome: OutcomeError, err: err}
		}
	}

	res, err := Normalize(content)
	if err != nil {
		return Result{}, attemptResult{outcome: OutcomeInvalid, err: err}
	}
	if err := Validate(res, len(segments)); err != nil {
		return Result{}, attemptResult{outcome: OutcomeInvalid, err: err}
	}
	if err := finalize(&res, prompt, transcripts); err != nil {
		return Result{}, attemptResult{outcome: OutcomeInvalid, err: err}
	}
	res.Model = p.model
	res.CredentialID = p.cred.ID
	return res, attemptResult{outcome: OutcomeSuccess}
}

func (e *Engine) applyPoolEffects(ctx context.Context, p pair, att attemptResult) {
	var err error
	switch att.outcome {
	case OutcomeSuccess:
		err = e.pool.RecordSuccess(ctx, p.cred.ID)
	case OutcomePermanent:
		err = e.pool.MarkExhausted(ctx, p.cred.ID, p.model)
	case OutcomeError:
		err = e.pool.RecordError(ctx, p.cred.ID)
	}
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, e.logger), "credential bookkeeping failed", "quota_update_failed",
			logging.String(logging.FieldCredentialID, p.cred.ID),
			logging.String(logging.FieldModel, p.model),
			logging.Error(err),
		)
	}
}

func (e *Engine) checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.cancelled == nil {
		return nil
	}
	return e.cancelled(ctx)
}

// finalize pins answers to the prompt index, attaches our transcripts, and
// computes the aggregate bands.
func finalize(res *Result, prompt Prompt, transcripts map[string]merge.Result) error {
	byKey := make(map[string]IndexEntry, len(prompt.Index))
	for _, entry := range prompt.Index {
		byKey[catalog.NormalizeKey(entry.SegmentKey)] = entry
	}
	covered := make(map[int]bool, len(prompt.Index))
	answers := make([]Answer, 0, len(prompt.Index))
	for _, ans := range res.Answers {
		entry, ok := prompt.Lookup(ans.Index)
		if !ok && ans.SegmentKey != "" {
			entry, ok = byKey[catalog.NormalizeKey(ans.SegmentKey)]
		}
		if !ok || covered[entry.Index] {
			continue
		}
		covered[entry.Index] = true
		ans.Index = entry.Index
		ans.SegmentKey = entry.SegmentKey
		ans.Part = entry.Part
		ans.Question = entry.Question
		ans.Minimal = textutil.WordCount(transcripts[entry.SegmentKey].FinalText) < minimalWords
		answers = append(answers, ans)
	}
	if len(covered) < len(prompt.Index) {
		for _, entry := range prompt.Index {
			if !covered[entry.Index] {
				return &ValidationError{Problems: []string{fmt.Sprintf("no answer for index %d (%s)", entry.Index, entry.SegmentKey)}}
			}
		}
	}
	sort.Slice(answers, func(i, j int) bool { return answers[i].Index < answers[j].Index })
	res.Answers = answers

	res.Transcripts = make(map[string]string, len(prompt.Index))
	for _, entry := range prompt.Index {
		res.Transcripts[entry.SegmentKey] = transcripts[entry.SegmentKey].FinalText
	}

	res.CriteriaBand = CalculateBand(res.Criteria)
	agg := OverallBand(res.Answers)
	res.OverallBand = agg.Overall
	if agg.Cap > 0 && agg.WeightedMean > agg.Cap {
		res.CapApplied = agg.Cap
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
