package asr

import (
	"strings"

	"speecheval/internal/textutil"
)

// longPauseSeconds is the minimum gap between spans reported as a long pause.
const longPauseSeconds = 2.0

var fillerWords = map[string]struct{}{
	"um":  {},
	"umm": {},
	"uh":  {},
	"uhm": {},
	"er":  {},
	"erm": {},
	"ah":  {},
	"hmm": {},
	"mhm": {},
}

type verboseResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []verboseSegment `json:"segments"`
}

type verboseSegment struct {
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
	AvgLogprob   float64 `json:"avg_logprob"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

func (r verboseResponse) toCandidate(model string, noiseRobust bool, fallbackDuration float64) Candidate {
	text := strings.TrimSpace(r.Text)
	if text == "" && len(r.Segments) > 0 {
		parts := make([]string, 0, len(r.Segments))
		for _, seg := range r.Segments {
			parts = append(parts, strings.TrimSpace(seg.Text))
		}
		text = strings.TrimSpace(strings.Join(parts, " "))
	}
	duration := r.Duration
	if duration <= 0 && len(r.Segments) > 0 {
		duration = r.Segments[len(r.Segments)-1].End
	}
	if duration <= 0 {
		duration = fallbackDuration
	}

	cand := Candidate{
		Model:       model,
		NoiseRobust: noiseRobust,
		RawText:     text,
		Duration:    duration,
		LongPauses:  longPauses(r.Segments),
		FillerWords: fillers(text),
	}
	cand.AvgLogprob, cand.NoSpeechProb = weightedProbabilities(r.Segments)
	return cand
}

// weightedProbabilities averages per-span values weighted by span length.
func weightedProbabilities(segments []verboseSegment) (float64, float64) {
	if len(segments) == 0 {
		return 0, 0
	}
	var total, logprob, noSpeech float64
	for _, seg := range segments {
		w := seg.End - seg.Start
		if w <= 0 {
			w = 1
		}
		total += w
		logprob += seg.AvgLogprob * w
		noSpeech += seg.NoSpeechProb * w
	}
	return logprob / total, noSpeech / total
}

func longPauses(segments []verboseSegment) []Pause {
	var out []Pause
	for i := 1; i < len(segments); i++ {
		gap := segments[i].Start - segments[i-1].End
		if gap >= longPauseSeconds {
			out = append(out, Pause{Start: segments[i-1].End, End: segments[i].Start})
		}
	}
	return out
}

func fillers(text string) []string {
	var out []string
	for _, word := range textutil.Words(text) {
		if _, ok := fillerWords[word]; ok {
			out = append(out, word)
		}
	}
	return out
}
