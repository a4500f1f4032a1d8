package merge

import (
	"errors"
	"fmt"

	"speecheval/internal/asr"
	"speecheval/internal/textutil"
)

const (
	consensusThreshold = 0.8
	selectedThreshold  = 0.5
	// paddingRatio is the minimum shorter/longer word ratio for the longer
	// consensus candidate to be trusted.
	paddingRatio = 0.9
)

// Resolve merges two candidates for one segment. Either candidate may be nil
// when its model failed; failure notes for the missing side are passed in
// failures. duration overrides the candidates' own durations when positive.
func Resolve(cleaner *Cleaner, segmentKey string, duration float64, a, b *asr.Candidate, failures ...string) (Result, error) {
	if a == nil && b == nil {
		return Result{}, errors.New("resolve: no candidates")
	}
	if cleaner == nil {
		cleaner = NewCleaner(nil, nil)
	}

	if a == nil || b == nil {
		only := a
		slot := MethodModelASelected
		if only == nil {
			only = b
			slot = MethodModelBSelected
		}
		single := assess(cleaner, *only, slot, duration)
		tier := textutil.Ternary(single.passes(), TierLow, TierVeryLow)
		res := buildResult(segmentKey, single, []assessed{single}, MethodSingleFallback, tier, 0)
		res.Issues = append(append(res.Issues, failures...), fmt.Sprintf("single-fallback on %s", only.Model))
		return res, nil
	}

	ca := assess(cleaner, *a, MethodModelASelected, duration)
	cb := assess(cleaner, *b, MethodModelBSelected, duration)
	agreement := agreementWords(textutil.Tokens(ca.cand.CleanedText), textutil.Tokens(cb.cand.CleanedText))
	both := []assessed{ca, cb}

	switch {
	case agreement >= consensusThreshold:
		pick, note := consensusPick(ca, cb)
		res := buildResult(segmentKey, pick, both, MethodConsensus, TierHigh, agreement)
		if note != "" {
			res.Issues = append(res.Issues, note)
		}
		return res, nil

	case agreement >= selectedThreshold:
		pick := ca
		switch {
		case cb.score() > ca.score():
			pick = cb
		case cb.score() == ca.score():
			pick = noiseRobust(ca, cb)
		}
		return buildResult(segmentKey, pick, both, pick.slot, TierMedium, agreement), nil

	default:
		var pick assessed
		switch {
		case ca.passes() && !cb.passes():
			pick = ca
		case cb.passes() && !ca.passes():
			pick = cb
		default:
			pick = shorter(ca, cb)
		}
		tier := textutil.Ternary(pick.passes(), TierLow, TierVeryLow)
		res := buildResult(segmentKey, pick, both, pick.slot, tier, agreement)
		res.Issues = append(res.Issues, fmt.Sprintf("low agreement %.2f between %s and %s; kept %s",
			agreement, ca.cand.Model, cb.cand.Model, pick.cand.Model))
		return res, nil
	}
}

func assess(cleaner *Cleaner, cand asr.Candidate, slot Method, duration float64) assessed {
	cleaned := cleaner.Clean(cand.RawText)
	cand.CleanedText = cleaned.Text
	words := textutil.WordCount(cleaned.Text)
	if duration <= 0 {
		duration = cand.Duration
	}
	rate := ValidateWordCount(words, duration)

	a := assessed{
		cand:           cand,
		slot:           slot,
		words:          words,
		hallucinated:   cleaned.Hallucinated(),
		wordCountValid: rate.Valid,
		wpm:            rate.WordsPerMin,
	}
	for _, removed := range cleaned.Removed {
		a.issues = append(a.issues, fmt.Sprintf("%s: stripped %s", cand.Model, removed))
	}
	if cleaned.Deduplicated {
		a.issues = append(a.issues, fmt.Sprintf("%s: removed repeated tail", cand.Model))
	}
	if cand.NoSpeechProb > noSpeechThreshold && words > 0 {
		a.hallucinated = true
		a.issues = append(a.issues, fmt.Sprintf("%s: text over likely silence (no_speech_prob %.2f)", cand.Model, cand.NoSpeechProb))
	}
	if rate.Issue != "" {
		a.issues = append(a.issues, fmt.Sprintf("%s: %s", cand.Model, rate.Issue))
	}
	return a
}

// consensusPick prefers the longer candidate unless the shorter one is less
// than paddingRatio of its length.
func consensusPick(a, b assessed) (assessed, string) {
	if a.words == b.words {
		if a.score() != b.score() {
			return textutil.Ternary(a.score() > b.score(), a, b), ""
		}
		return noiseRobust(a, b), ""
	}
	longer, short := a, b
	if b.words > a.words {
		longer, short = b, a
	}
	if float64(short.words) >= paddingRatio*float64(longer.words) {
		return longer, ""
	}
	return short, fmt.Sprintf("%s is %d words longer than %s; suspected padding",
		longer.cand.Model, longer.words-short.words, short.cand.Model)
}

func noiseRobust(a, b assessed) assessed {
	if b.cand.NoiseRobust && !a.cand.NoiseRobust {
		return b
	}
	if a.cand.NoiseRobust && !b.cand.NoiseRobust {
		return a
	}
	return textutil.Ternary(b.cand.NoiseRobust, b, a)
}

func shorter(a, b assessed) assessed {
	if a.words == b.words {
		return noiseRobust(a, b)
	}
	return textutil.Ternary(a.words < b.words, a, b)
}

func buildResult(key string, pick assessed, all []assessed, method Method, tier Tier, agreement float64) Result {
	res := Result{
		SegmentKey:       key,
		FinalText:        pick.cand.CleanedText,
		ConfidenceTier:   tier,
		ResolutionMethod: method,
		AgreementScore:   agreement,
		SelectedModel:    pick.cand.Model,
		WordCount:        pick.words,
		Duration:         pick.cand.Duration,
		Acoustics: Acoustics{
			AvgLogprob:   pick.cand.AvgLogprob,
			NoSpeechProb: pick.cand.NoSpeechProb,
			LongPauses:   pick.cand.LongPauses,
			FillerWords:  pick.cand.FillerWords,
			WordsPerMin:  pick.wpm,
		},
	}
	for _, a := range all {
		res.Candidates = append(res.Candidates, a.cand)
		res.Issues = append(res.Issues, a.issues...)
	}
	if pick.words == 0 {
		res.Issues = append(res.Issues, "no speech recognized")
	}
	return res
}
