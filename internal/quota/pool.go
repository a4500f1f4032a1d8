package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"speecheval/internal/logging"
)

// ErrNoneAvailable is returned by Checkout when every active credential is
// exhausted for all of the requested models.
var ErrNoneAvailable = errors.New("quota: no credential available")

// ExhaustionHook is invoked after a (credential, model) pair is persisted as exhausted.
type ExhaustionHook func(ctx context.Context, credentialID, model string)

// Pool selects credentials for a provider and records per-model exhaustion.
//
// The pool owns its rotation cursor; callers share a *Pool explicitly instead
// of relying on process-wide state. Exhaustion flags are monotonic within a
// day, so concurrent MarkExhausted calls need no coordination beyond the
// repository's last-writer-wins update.
type Pool struct {
	repo     Repository
	provider string
	logger   *slog.Logger
	clock    func() time.Time
	location *time.Location
	onMark   ExhaustionHook

	mu      sync.Mutex
	cursor  int
	lastDay string
}

// Option customizes a Pool.
type Option func(*Pool)

// WithClock overrides the time source (used in tests).
func WithClock(clock func() time.Time) Option {
	return func(p *Pool) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithLocation sets the timezone that defines a quota day.
func WithLocation(loc *time.Location) Option {
	return func(p *Pool) {
		if loc != nil {
			p.location = loc
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithExhaustionHook registers a callback fired after MarkExhausted persists.
func WithExhaustionHook(hook ExhaustionHook) Option {
	return func(p *Pool) {
		p.onMark = hook
	}
}

// NewPool constructs a pool for the given provider.
func NewPool(repo Repository, provider string, opts ...Option) *Pool {
	p := &Pool{
		repo:     repo,
		provider: provider,
		logger:   logging.NewNop(),
		clock:    time.Now,
		location: time.UTC,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.NewComponentLogger(p.logger, "quota-pool")
	p.lastDay = p.Today()
	return p
}

// Provider returns the provider name this pool manages.
func (p *Pool) Provider() string {
	return p.provider
}

// Today returns the current quota day.
func (p *Pool) Today() string {
	return p.clock().In(p.location).Format(DateLayout)
}

// Checkout returns the best credential for the requested models.
func (p *Pool) Checkout(ctx context.Context, models []string) (Credential, error) {
	candidates, err := p.Candidates(ctx, models)
	if err != nil {
		return Credential{}, err
	}
	return candidates[0], nil
}

// Candidates returns every eligible credential in checkout order: ascending
// error count, with ties rotated by the pool cursor. A credential is eligible
// when it is active and at least one requested model is not exhausted on it
// today.
func (p *Pool) Candidates(ctx context.Context, models []string) ([]Credential, error) {
	if len(models) == 0 {
		return nil, errors.New("quota checkout: at least one model required")
	}
	creds, err := p.repo.ListCredentials(ctx, p.provider)
	if err != nil {
		return nil, fmt.Errorf("quota checkout: list credentials: %w", err)
	}
	today := p.Today()
	eligible := make([]Credential, 0, len(creds))
	for _, cred := range creds {
		if !cred.Active {
			continue
		}
		if len(UsableModels(cred, models, today)) == 0 {
			continue
		}
		eligible = append(eligible, cred)
	}
	if len(eligible) == 0 {
		return nil, ErrNoneAvailable
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].ErrorCount != eligible[j].ErrorCount {
			return eligible[i].ErrorCount < eligible[j].ErrorCount
		}
		return eligible[i].ID < eligible[j].ID
	})

	p.mu.Lock()
	offset := p.cursor
	p.cursor++
	p.mu.Unlock()

	return rotateLowestTier(eligible, offset), nil
}

// rotateLowestTier rotates only the leading run of credentials that share the
// lowest error count, so load spreads across equally healthy keys while worse
// keys stay behind them.
func rotateLowestTier(sorted []Credential, offset int) []Credential {
	tier := 1
	for tier < len(sorted) && sorted[tier].ErrorCount == sorted[0].ErrorCount {
		tier++
	}
	out := make([]Credential, 0, len(sorted))
	shift := offset % tier
	out = append(out, sorted[shift:tier]...)
	out = append(out, sorted[:shift]...)
	out = append(out, sorted[tier:]...)
	return out
}

// MarkExhausted persists that model's daily quota is spent on credentialID.
func (p *Pool) MarkExhausted(ctx context.Context, credentialID, model string) error {
	today := p.Today()
	if err := p.repo.SetModelExhausted(ctx, credentialID, model, today); err != nil {
		return fmt.Errorf("quota mark exhausted: %w", err)
	}
	logging.WithContext(ctx, p.logger).Warn("credential model quota exhausted",
		logging.String(logging.FieldCredentialID, credentialID),
		logging.String(logging.FieldModel, model),
		logging.String("quota_day", today),
		logging.String(logging.FieldEventType, "quota_exhausted"),
	)
	if p.onMark != nil {
		p.onMark(ctx, credentialID, model)
	}
	return nil
}

// RecordError bumps the credential's error count so it sorts behind healthier keys.
func (p *Pool) RecordError(ctx context.Context, credentialID string) error {
	if err := p.repo.IncrementErrorCount(ctx, credentialID); err != nil {
		return fmt.Errorf("quota record error: %w", err)
	}
	return nil
}

// RecordSuccess clears the credential's error count.
func (p *Pool) RecordSuccess(ctx context.Context, credentialID string) error {
	if err := p.repo.ClearErrorCount(ctx, credentialID); err != nil {
		return fmt.Errorf("quota record success: %w", err)
	}
	return nil
}

// Reset clears every exhaustion flag for the provider.
func (p *Pool) Reset(ctx context.Context) (int64, error) {
	cleared, err := p.repo.ResetExhaustion(ctx, p.provider)
	if err != nil {
		return 0, fmt.Errorf("quota reset: %w", err)
	}
	p.mu.Lock()
	p.lastDay = p.Today()
	p.cursor = 0
	p.mu.Unlock()
	p.logger.Info("quota exhaustion flags reset",
		logging.Int64("cleared", cleared),
		logging.String(logging.FieldEventType, "quota_reset"),
	)
	return cleared, nil
}

// ResetIfDayChanged resets the pool the first time it is called on a new
// quota day. It reports whether a reset happened.
func (p *Pool) ResetIfDayChanged(ctx context.Context) (bool, error) {
	today := p.Today()
	p.mu.Lock()
	changed := today != p.lastDay
	p.mu.Unlock()
	if !changed {
		return false, nil
	}
	if _, err := p.Reset(ctx); err != nil {
		return false, err
	}
	return true, nil
}
