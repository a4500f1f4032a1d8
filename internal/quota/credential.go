package quota

import (
	"context"
	"time"
)

// DateLayout is the calendar-day format used for exhaustion dates.
const DateLayout = "2006-01-02"

// Credential is one provider API key tracked by the pool.
type Credential struct {
	ID         string
	Provider   string
	Label      string
	Secret     string
	Active     bool
	ErrorCount int
	Models     map[string]ModelQuota
	CreatedAt  time.Time
}

// ModelQuota records whether a model's daily quota is spent on a credential.
type ModelQuota struct {
	Exhausted     bool
	ExhaustedDate string
}

// Repository persists credentials and their per-model exhaustion flags.
type Repository interface {
	ListCredentials(ctx context.Context, provider string) ([]Credential, error)
	SetModelExhausted(ctx context.Context, credentialID, model, date string) error
	ResetExhaustion(ctx context.Context, provider string) (int64, error)
	IncrementErrorCount(ctx context.Context, credentialID string) error
	ClearErrorCount(ctx context.Context, credentialID string) error
}

// IsExhausted reports whether model is exhausted on cred for the given day.
// A flag recorded on an earlier day no longer counts.
func IsExhausted(cred Credential, model, today string) bool {
	if cred.Models == nil {
		return false
	}
	q, ok := cred.Models[model]
	if !ok {
		return false
	}
	return q.Exhausted && q.ExhaustedDate == today
}

// UsableModels returns the models from candidates that are not exhausted on
// cred today, preserving priority order.
func UsableModels(cred Credential, candidates []string, today string) []string {
	out := make([]string, 0, len(candidates))
	for _, model := range candidates {
		if !IsExhausted(cred, model, today) {
			out = append(out, model)
		}
	}
	return out
}

// Redacted returns a short, log-safe form of the secret.
func (c Credential) Redacted() string {
	if len(c.Secret) <= 8 {
		return "****"
	}
	return c.Secret[:4] + "..." + c.Secret[len(c.Secret)-4:]
}
