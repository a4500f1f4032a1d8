package evaluation

// Criterion names used in results and prompts.
const (
	CriterionFluency       = "fluency_coherence"
	CriterionLexical       = "lexical_resource"
	CriterionGrammar       = "grammatical_range_accuracy"
	CriterionPronunciation = "pronunciation"
)

// CriterionNames lists the four criteria in reporting order.
func CriterionNames() []string {
	return []string{CriterionFluency, CriterionLexical, CriterionGrammar, CriterionPronunciation}
}

// Criterion is one rubric dimension.
type Criterion struct {
	Band     float64 `json:"band"`
	Feedback string  `json:"feedback,omitempty"`
}

// Criteria holds the four rubric dimensions.
type Criteria struct {
	Fluency       Criterion `json:"fluency_coherence"`
	Lexical       Criterion `json:"lexical_resource"`
	Grammar       Criterion `json:"grammatical_range_accuracy"`
	Pronunciation Criterion `json:"pronunciation"`
}

func (c *Criteria) byName(name string) *Criterion {
	switch name {
	case CriterionFluency:
		return &c.Fluency
	case CriterionLexical:
		return &c.Lexical
	case CriterionGrammar:
		return &c.Grammar
	case CriterionPronunciation:
		return &c.Pronunciation
	}
	return nil
}

// Bands returns the four bands in reporting order.
func (c Criteria) Bands() []float64 {
	return []float64{c.Fluency.Band, c.Lexical.Band, c.Grammar.Band, c.Pronunciation.Band}
}

// Answer is the per-question assessment returned by the model.
type Answer struct {
	Index       int     `json:"index"`
	SegmentKey  string  `json:"segment_key"`
	Part        int     `json:"part"`
	Question    int     `json:"question"`
	Band        float64 `json:"band"`
	ModelAnswer string  `json:"model_answer,omitempty"`
	Feedback    string  `json:"feedback,omitempty"`
	Minimal     bool    `json:"minimal,omitempty"`
}

// Result is the canonical evaluation outcome persisted once per job.
type Result struct {
	OverallBand  float64           `json:"overall_band"`
	CriteriaBand float64           `json:"criteria_band"`
	ModelOverall float64           `json:"model_overall_band,omitempty"`
	Criteria     Criteria          `json:"criteria"`
	Answers      []Answer          `json:"answers"`
	Transcripts  map[string]string `json:"transcripts"`
	Summary      string            `json:"summary,omitempty"`
	CapApplied   float64           `json:"cap_applied,omitempty"`
	Model        string            `json:"model"`
	CredentialID string            `json:"credential_id"`

	// missing lists criteria absent from the raw response.
	missing []string
	// unscored lists answer indexes that carried no usable band.
	unscored []int
}

// Rubric is the test context passed to the scoring prompt.
type Rubric struct {
	Topic          string
	Difficulty     string
	FluencyFlag    bool
	EvaluationMode string
}
