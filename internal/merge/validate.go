package merge

import (
	"fmt"
	"math"
)

const (
	// MinWordsPerMinute and MaxWordsPerMinute bound a plausible speaking rate.
	MinWordsPerMinute = 60.0
	MaxWordsPerMinute = 210.0

	// noSpeechThreshold marks text produced over audio the model itself
	// considered silent.
	noSpeechThreshold = 0.6

	// minRateSeconds is the shortest clip the rate envelope is applied to.
	minRateSeconds = 5.0
)

// RateCheck is the outcome of comparing word count with audio duration.
type RateCheck struct {
	Valid       bool
	WordsPerMin float64
	Issue       string
}

// ValidateWordCount checks words against the speaking-rate envelope for a
// clip of durationSeconds. Unknown or very short durations are not judged.
func ValidateWordCount(words int, durationSeconds float64) RateCheck {
	if durationSeconds <= 0 {
		return RateCheck{Valid: words > 0, Issue: issueIf(words == 0, "no words recognized")}
	}
	wpm := float64(words) / (durationSeconds / 60)
	wpm = math.Round(wpm*10) / 10
	if durationSeconds < minRateSeconds {
		return RateCheck{Valid: words > 0, WordsPerMin: wpm, Issue: issueIf(words == 0, "no words recognized")}
	}
	switch {
	case wpm < MinWordsPerMinute:
		return RateCheck{WordsPerMin: wpm, Issue: fmt.Sprintf("under-production: %.0f wpm over %.0fs", wpm, durationSeconds)}
	case wpm > MaxWordsPerMinute:
		return RateCheck{WordsPerMin: wpm, Issue: fmt.Sprintf("over-production: %.0f wpm over %.0fs", wpm, durationSeconds)}
	}
	return RateCheck{Valid: true, WordsPerMin: wpm}
}

func issueIf(cond bool, issue string) string {
	if cond {
		return issue
	}
	return ""
}
