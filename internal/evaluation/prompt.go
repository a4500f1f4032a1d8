package evaluation

import (
	"errors"
	"fmt"
	"strings"

	"speecheval/internal/catalog"
	"speecheval/internal/merge"
)

// SystemPrompt instructs the scoring model and pins the response schema.
const SystemPrompt = `You are an experienced speaking examiner. Score the candidate's spoken answers on a 0-9 band scale in 0.5 steps.

Respond with JSON only, using exactly this shape:
{
  "overall_band": number,
  "criteria": {
    "fluency_coherence": {"band": number, "feedback": string},
    "lexical_resource": {"band": number, "feedback": string},
    "grammatical_range_accuracy": {"band": number, "feedback": string},
    "pronunciation": {"band": number, "feedback": string}
  },
  "answers": [
    {"index": number, "band": number, "model_answer": string, "feedback": string}
  ],
  "summary": string
}

Rules:
- Return one entry in "answers" for every numbered answer, using the same index.
- Never merge, split, or reorder answers.
- Pronunciation must be judged from the acoustic notes because you cannot hear the audio.
- An empty or near-empty answer scores at most 2.`

// IndexEntry pins one prompt index to its segment.
type IndexEntry struct {
	Index      int
	SegmentKey string
	Part       int
	Question   int
}

// Prompt is a ready-to-send scoring request.
type Prompt struct {
	System string
	User   string
	Index  []IndexEntry
}

// Lookup returns the entry for a 1-based index.
func (p Prompt) Lookup(index int) (IndexEntry, bool) {
	if index < 1 || index > len(p.Index) {
		return IndexEntry{}, false
	}
	return p.Index[index-1], true
}

// BuildPrompt renders the scoring prompt. Segments must already be in
// catalogue order; each receives a 1-based index the model must echo back.
func BuildPrompt(segments []catalog.Segment, transcripts map[string]merge.Result, rubric Rubric) (Prompt, error) {
	if len(segments) == 0 {
		return Prompt{}, errors.New("build prompt: no segments")
	}
	var b strings.Builder
	b.WriteString("Test context\n")
	writeField(&b, "Topic", rubric.Topic)
	writeField(&b, "Difficulty", rubric.Difficulty)
	writeField(&b, "Evaluation mode", rubric.EvaluationMode)
	if rubric.FluencyFlag {
		b.WriteString("- Fluency focus: weigh hesitation and pausing more heavily in fluency_coherence.\n")
	}

	b.WriteString("\nAnswer index (index -> segment, part, question)\n")
	index := make([]IndexEntry, 0, len(segments))
	for i, seg := range segments {
		entry := IndexEntry{Index: i + 1, SegmentKey: seg.Key, Part: seg.Part, Question: seg.Question}
		index = append(index, entry)
		fmt.Fprintf(&b, "%d -> %s (part %d, question %d)\n", entry.Index, seg.Key, seg.Part, seg.Question)
	}

	b.WriteString("\nAnswers\n")
	for i, seg := range segments {
		fmt.Fprintf(&b, "\n[%d] %s\n", i+1, seg.Key)
		if seg.Prompt != "" {
			fmt.Fprintf(&b, "Question: %s\n", seg.Prompt)
		}
		res, ok := transcripts[seg.Key]
		if !ok || strings.TrimSpace(res.FinalText) == "" {
			b.WriteString("Transcript: (no speech recognized)\n")
			continue
		}
		fmt.Fprintf(&b, "Transcript (confidence %s): %s\n", res.ConfidenceTier, res.FinalText)
		fmt.Fprintf(&b, "Acoustic notes: %.0f words/min, avg logprob %.2f, %d long pauses",
			res.Acoustics.WordsPerMin, res.Acoustics.AvgLogprob, len(res.Acoustics.LongPauses))
		if len(res.Acoustics.FillerWords) > 0 {
			fmt.Fprintf(&b, ", fillers: %s", strings.Join(res.Acoustics.FillerWords, " "))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nReturn exactly %d answers.\n", len(segments))

	return Prompt{System: SystemPrompt, User: b.String(), Index: index}, nil
}

func writeField(b *strings.Builder, label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	fmt.Fprintf(b, "- %s: %s\n", label, value)
}
