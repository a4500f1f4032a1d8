package merge

import (
	"regexp"
	"strings"
	"unicode"

	"speecheval/internal/textutil"
)

// duplicationOverlap is the word overlap above which the tail of a
// transcript is treated as a repeat of its head.
const duplicationOverlap = 0.65

// minDuplicationWords is the shortest window compared when looking for a repeat.
const minDuplicationWords = 4

var defaultTrailingPhrases = []string{
	"thanks for watching",
	"thank you for watching",
	"thanks for listening",
	"thank you for listening",
	"please subscribe",
	"like and subscribe",
	"see you in the next video",
	"subtitles by the amara.org community",
}

var defaultBoilerplate = []string{
	"transcript:",
	"transcription:",
	"[music]",
	"(music)",
	"[blank_audio]",
	"[silence]",
	"(silence)",
	"[noise]",
	"[applause]",
}

var foreignScriptPattern = regexp.MustCompile(`[\p{Han}\p{Hiragana}\p{Katakana}\p{Hangul}\p{Cyrillic}\p{Arabic}\p{Hebrew}\p{Devanagari}\p{Thai}]+`)

// Cleaner strips known ASR artifacts from transcripts.
//
// The pattern set is closed: trailing phrases are removed only at the end of
// the text, boilerplate only at either end, foreign-script runs and repeated
// punctuation anywhere. Nothing else is touched apart from whitespace.
type Cleaner struct {
	TrailingPhrases     []string
	Boilerplate         []string
	StripForeignScripts bool
}

// NewCleaner returns a cleaner with the built-in patterns plus any extras.
func NewCleaner(extraTrailing, extraBoilerplate []string) *Cleaner {
	c := &Cleaner{
		TrailingPhrases:     append([]string(nil), defaultTrailingPhrases...),
		Boilerplate:         append([]string(nil), defaultBoilerplate...),
		StripForeignScripts: true,
	}
	for _, p := range extraTrailing {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			c.TrailingPhrases = append(c.TrailingPhrases, p)
		}
	}
	for _, p := range extraBoilerplate {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			c.Boilerplate = append(c.Boilerplate, p)
		}
	}
	return c
}

// Cleaned is the outcome of cleaning one transcript.
type Cleaned struct {
	Text         string
	Removed      []string
	Deduplicated bool
}

// Hallucinated reports whether any hallucination pattern fired.
func (c Cleaned) Hallucinated() bool {
	return len(c.Removed) > 0 || c.Deduplicated
}

// Clean applies every pattern and then removes self-duplication.
func (c *Cleaner) Clean(text string) Cleaned {
	out := Cleaned{}
	text = collapseSpaces(text)

	if c.StripForeignScripts && foreignScriptPattern.MatchString(text) {
		text = collapseSpaces(foreignScriptPattern.ReplaceAllString(text, " "))
		out.Removed = append(out.Removed, "foreign_script")
	}
	if collapsed, changed := collapseRepeatedPunctuation(text); changed {
		text = collapsed
		out.Removed = append(out.Removed, "repeated_punctuation")
	}
	for {
		next, phrase := c.stripTrailingPhrase(text)
		if phrase == "" {
			break
		}
		text = next
		out.Removed = append(out.Removed, "trailing:"+phrase)
	}
	for {
		next, phrase := c.stripBoilerplate(text)
		if phrase == "" {
			break
		}
		text = next
		out.Removed = append(out.Removed, "boilerplate:"+phrase)
	}
	if deduped, ok := removeSelfDuplication(text); ok {
		text = deduped
		out.Deduplicated = true
	}
	out.Text = text
	return out
}

func (c *Cleaner) stripTrailingPhrase(text string) (string, string) {
	body := strings.TrimRightFunc(text, isTrailingJunk)
	for _, phrase := range c.TrailingPhrases {
		if len(body) < len(phrase) {
			continue
		}
		tail := body[len(body)-len(phrase):]
		if !strings.EqualFold(tail, phrase) {
			continue
		}
		head := body[:len(body)-len(phrase)]
		if head != "" && !endsAtBoundary(head) {
			continue
		}
		return strings.TrimRightFunc(head, isTrailingSeparator), phrase
	}
	return text, ""
}

func (c *Cleaner) stripBoilerplate(text string) (string, string) {
	trimmed := strings.TrimSpace(text)
	for _, phrase := range c.Boilerplate {
		if len(trimmed) < len(phrase) {
			continue
		}
		if strings.EqualFold(trimmed[:len(phrase)], phrase) {
			return strings.TrimSpace(trimmed[len(phrase):]), phrase
		}
		if strings.EqualFold(trimmed[len(trimmed)-len(phrase):], phrase) {
			return strings.TrimSpace(trimmed[:len(trimmed)-len(phrase)]), phrase
		}
	}
	return text, ""
}

// removeSelfDuplication looks for a split point in the second half of the
// text where the remainder starts over from the opening word and overlaps the
// opening words by more than duplicationOverlap. The earliest such point wins
// and the repeat is cut.
func removeSelfDuplication(text string) (string, bool) {
	tokens := strings.Fields(text)
	norm := make([]string, len(tokens))
	for i, tok := range tokens {
		norm[i] = strings.Join(textutil.Words(tok), "")
	}
	n := len(tokens)
	for k := (n + 1) / 2; k <= n-minDuplicationWords; k++ {
		if norm[k] == "" || norm[k] != norm[0] {
			continue
		}
		m := n - k
		overlap := float64(textutil.LCSLength(norm[:m], norm[k:])) / float64(m)
		if overlap > duplicationOverlap {
			return strings.Join(tokens[:k], " "), true
		}
	}
	return text, false
}

func collapseRepeatedPunctuation(text string) (string, bool) {
	runes := []rune(text)
	var (
		b       strings.Builder
		changed bool
	)
	for i := 0; i < len(runes); {
		j := i + 1
		for j < len(runes) && runes[j] == runes[i] {
			j++
		}
		if unicode.IsPunct(runes[i]) && j-i >= 3 {
			b.WriteRune(runes[i])
			changed = true
		} else {
			for _, r := range runes[i:j] {
				b.WriteRune(r)
			}
		}
		i = j
	}
	return b.String(), changed
}

func collapseSpaces(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func isTrailingJunk(r rune) bool {
	return unicode.IsSpace(r) || r == '.' || r == '!' || r == '?' || r == ','
}

func isTrailingSeparator(r rune) bool {
	return unicode.IsSpace(r) || r == ',' || r == '-'
}

func endsAtBoundary(head string) bool {
	last := []rune(head)
	r := last[len(last)-1]
	return unicode.IsSpace(r) || unicode.IsPunct(r)
}
