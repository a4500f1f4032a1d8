package evaluation

import (
	"fmt"
	"strings"

	"speecheval/internal/services"
)

const (
	minBand = 0.0
	maxBand = 9.0
)

// ValidationError lists every reason a model response was rejected.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid evaluation response: " + strings.Join(e.Problems, "; ")
}

// Unwrap ties validation failures to the shared validation marker.
func (e *ValidationError) Unwrap() error {
	return services.ErrValidation
}

// Validate checks a normalized result for completeness before it is
// accepted: all four criterion bands present and within [0, 9], at least
// expectedAnswers per-question answers each carrying a band in range, and
// not every criterion zero while the overall band is positive.
func Validate(res Result, expectedAnswers int) error {
	var problems []string
	for _, name := range res.missing {
		problems = append(problems, "missing criterion "+name)
	}
	allZero := true
	for i, band := range res.Criteria.Bands() {
		if band != 0 {
			allZero = false
		}
		if !inBand(band) {
			problems = append(problems, fmt.Sprintf("%s band %.1f out of range", CriterionNames()[i], band))
		}
	}
	if len(res.missing) == 0 && allZero && res.ModelOverall > 0 {
		problems = append(problems, fmt.Sprintf("all criteria zero while overall band is %.1f", res.ModelOverall))
	}
	if !inBand(res.ModelOverall) {
		problems = append(problems, fmt.Sprintf("overall band %.1f out of range", res.ModelOverall))
	}
	if len(res.Answers) < expectedAnswers {
		problems = append(problems, fmt.Sprintf("got %d answers, expected %d", len(res.Answers), expectedAnswers))
	}
	for _, idx := range res.unscored {
		problems = append(problems, fmt.Sprintf("answer %d has no band", idx))
	}
	for _, ans := range res.Answers {
		if !inBand(ans.Band) {
			problems = append(problems, fmt.Sprintf("answer %d band %.1f out of range", ans.Index, ans.Band))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// inBand is false for NaN as well as for values outside [0, 9].
func inBand(v float64) bool {
	return v >= minBand && v <= maxBand
}
