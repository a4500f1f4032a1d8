package quota

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// Kind distinguishes how a provider failure affects the credential pool.
type Kind int

const (
	// KindOther is a failure unrelated to quota.
	KindOther Kind = iota
	// KindTransient is a short-lived rate limit; retry after a delay.
	KindTransient
	// KindPermanent means the daily quota for the (credential, model) pair is spent.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "other"
	}
}

// Classification is the outcome of classifying one provider error.
type Classification struct {
	Kind       Kind
	RetryAfter time.Duration
	Reason     string
}

// Classifier maps a provider error to a quota classification.
type Classifier interface {
	Classify(err error) Classification
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(err error) Classification

// Classify implements Classifier.
func (f ClassifierFunc) Classify(err error) Classification { return f(err) }

// ProviderError is implemented by transport errors that carry the upstream
// HTTP status, response body, and any retry-after hint.
type ProviderError interface {
	error
	HTTPStatus() int
	ResponseBody() string
	RetryAfterHint() time.Duration
}

// HeuristicClassifier classifies errors by HTTP status and message phrases.
type HeuristicClassifier struct {
	PermanentPhrases  []string
	TransientPhrases  []string
	DefaultRetryAfter time.Duration
}

// Classify implements Classifier.
//
// A permanent phrase wins unless the provider also sent a retry-after hint
// and a transient phrase matches, which is how per-minute limits are reported
// alongside generic "quota exceeded" wording.
func (h HeuristicClassifier) Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: KindOther}
	}
	var (
		status     int
		retryAfter time.Duration
		text       = err.Error()
	)
	var perr ProviderError
	if errors.As(err, &perr) {
		status = perr.HTTPStatus()
		retryAfter = perr.RetryAfterHint()
		text = perr.ResponseBody() + " " + text
	}
	lower := strings.ToLower(text)

	permanent := matchPhrase(lower, h.PermanentPhrases)
	transient := matchPhrase(lower, h.TransientPhrases)

	switch {
	case permanent != "" && transient != "" && retryAfter > 0:
		return Classification{Kind: KindTransient, RetryAfter: retryAfter, Reason: transient}
	case permanent != "":
		return Classification{Kind: KindPermanent, Reason: permanent}
	case transient != "":
		return Classification{Kind: KindTransient, RetryAfter: h.retryAfter(retryAfter), Reason: transient}
	case status == http.StatusTooManyRequests:
		return Classification{Kind: KindTransient, RetryAfter: h.retryAfter(retryAfter), Reason: "http 429"}
	case status == http.StatusPaymentRequired:
		return Classification{Kind: KindPermanent, Reason: "http 402"}
	}
	return Classification{Kind: KindOther}
}

func (h HeuristicClassifier) retryAfter(hint time.Duration) time.Duration {
	if hint > 0 {
		return hint
	}
	if h.DefaultRetryAfter > 0 {
		return h.DefaultRetryAfter
	}
	return 5 * time.Second
}

func matchPhrase(lower string, phrases []string) string {
	for _, phrase := range phrases {
		p := strings.ToLower(strings.TrimSpace(phrase))
		if p == "" {
			continue
		}
		if strings.Contains(lower, p) {
			return p
		}
	}
	return ""
}
