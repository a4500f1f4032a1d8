package merge

import "speecheval/internal/asr"

// Tier is the confidence assigned to a merged transcript.
type Tier string

const (
	TierHigh    Tier = "high"
	TierMedium  Tier = "medium"
	TierLow     Tier = "low"
	TierVeryLow Tier = "very-low"
)

// Method records how the final text was chosen.
type Method string

const (
	MethodConsensus      Method = "consensus"
	MethodModelASelected Method = "modelA-selected"
	MethodModelBSelected Method = "modelB-selected"
	MethodSingleFallback Method = "single-fallback"
)

// Acoustics carries the signals used as a pronunciation proxy when no
// audio-level scorer is available.
type Acoustics struct {
	AvgLogprob   float64     `json:"avg_logprob"`
	NoSpeechProb float64     `json:"no_speech_prob"`
	LongPauses   []asr.Pause `json:"long_pauses,omitempty"`
	FillerWords  []string    `json:"filler_words,omitempty"`
	WordsPerMin  float64     `json:"words_per_minute"`
}

// Result is the merged transcript for one segment.
type Result struct {
	SegmentKey       string          `json:"segment_key"`
	FinalText        string          `json:"final_text"`
	ConfidenceTier   Tier            `json:"confidence_tier"`
	ResolutionMethod Method          `json:"resolution_method"`
	AgreementScore   float64         `json:"agreement_score"`
	Issues           []string        `json:"issues,omitempty"`
	SelectedModel    string          `json:"selected_model"`
	WordCount        int             `json:"word_count"`
	Duration         float64         `json:"duration"`
	Acoustics        Acoustics       `json:"acoustics"`
	Candidates       []asr.Candidate `json:"candidates"`
}

// assessed is a cleaned candidate with its validity signals.
type assessed struct {
	cand           asr.Candidate
	slot           Method
	words          int
	hallucinated   bool
	wordCountValid bool
	wpm            float64
	issues         []string
}

func (a assessed) passes() bool {
	return !a.hallucinated && a.wordCountValid
}

func (a assessed) score() int {
	s := 0
	if !a.hallucinated {
		s++
	}
	if a.wordCountValid {
		s++
	}
	return s
}
