package evaluation

import "time"

// Outcome is the result of one (credential, model) attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	// OutcomeTransient is a short rate limit; the provider may name a delay.
	OutcomeTransient
	// OutcomePermanent means the pair's daily quota is spent.
	OutcomePermanent
	// OutcomeInvalid is a response that failed normalization or validation.
	OutcomeInvalid
	// OutcomeError is any other failure, such as a network error after the
	// transport's own retries.
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomePermanent:
		return "permanent"
	case OutcomeInvalid:
		return "invalid_output"
	default:
		return "error"
	}
}

// Action is what the engine does after an attempt.
type Action int

const (
	ActionAccept Action = iota
	ActionRetrySame
	ActionNextModel
	ActionNextCredential
	ActionGiveUp
)

func (a Action) String() string {
	switch a {
	case ActionAccept:
		return "accept"
	case ActionRetrySame:
		return "retry_same"
	case ActionNextModel:
		return "next_model"
	case ActionNextCredential:
		return "next_credential"
	default:
		return "give_up"
	}
}

// AttemptState is everything NextAction needs to decide.
type AttemptState struct {
	Outcome    Outcome
	RetryAfter time.Duration
	// RetriedSame is set once the current pair has already been retried.
	RetriedSame bool
	// HasNextModel reports another usable model on the current credential.
	HasNextModel bool
	// HasNextCredential reports another eligible credential.
	HasNextCredential bool
	// MaxRetryAfter bounds how long a same-pair retry may wait. Zero means no bound.
	MaxRetryAfter time.Duration
}

// Decision is the strategy's answer. After is only set for ActionRetrySame.
type Decision struct {
	Action Action
	After  time.Duration
}

// NextAction decides the next step from an attempt outcome. Iteration is
// model-first: a failed pair moves to the next model on the same credential
// before moving to the next credential.
func NextAction(s AttemptState) Decision {
	switch s.Outcome {
	case OutcomeSuccess:
		return Decision{Action: ActionAccept}
	case OutcomeTransient:
		if !s.RetriedSame && (s.MaxRetryAfter <= 0 || s.RetryAfter <= s.MaxRetryAfter) {
			return Decision{Action: ActionRetrySame, After: s.RetryAfter}
		}
	}
	return rotate(s)
}

func rotate(s AttemptState) Decision {
	switch {
	case s.HasNextModel:
		return Decision{Action: ActionNextModel}
	case s.HasNextCredential:
		return Decision{Action: ActionNextCredential}
	default:
		return Decision{Action: ActionGiveUp}
	}
}
