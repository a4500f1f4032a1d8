package evaluation

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"speecheval/internal/services/llm"
)

var criterionAliases = map[string][]string{
	CriterionFluency:       {"fluencycoherence", "fluencyandcoherence", "fluency"},
	CriterionLexical:       {"lexicalresource", "lexical", "vocabulary"},
	CriterionGrammar:       {"grammaticalrangeaccuracy", "grammaticalrangeandaccuracy", "grammaticalrange", "grammar"},
	CriterionPronunciation: {"pronunciation"},
}

var (
	overallKeys    = []string{"overallband", "overall", "overallscore"}
	criteriaKeys   = []string{"criteria", "scores", "bands", "criteriascores"}
	answersKeys    = []string{"answers", "questions", "perquestion", "questionscores", "responses", "modelanswers"}
	bandKeys       = []string{"band", "score", "value"}
	feedbackKeys   = []string{"feedback", "comment", "comments"}
	indexKeys      = []string{"index", "idx", "number", "questionindex"}
	modelAnswerKey = []string{"modelanswer", "sampleanswer", "improvedanswer", "suggestedanswer"}
	transcriptKeys = []string{"transcripts", "transcriptsbyquestion"}
	summaryKeys    = []string{"summary", "overallfeedback"}
)

// Normalize decodes a raw model response into the canonical Result. It
// accepts criteria at the root or nested under a criteria object, criteria as
// bare numbers or {band|score, feedback} objects, and answers as a list or an
// index-keyed object. Missing criteria are recorded for Validate.
func Normalize(raw string) (Result, error) {
	var doc map[string]any
	if err := llm.DecodeJSON(raw, &doc); err != nil {
		return Result{}, fmt.Errorf("normalize response: %w", err)
	}
	doc = canonicalMap(doc)

	var res Result
	if v, ok := firstValue(doc, overallKeys...); ok {
		res.ModelOverall, _ = toNumber(v)
	}
	if v, ok := firstValue(doc, summaryKeys...); ok {
		res.Summary, _ = v.(string)
	}

	source, nested := doc, false
	if v, ok := firstValue(doc, criteriaKeys...); ok {
		if inner, isMap := v.(map[string]any); isMap {
			source, nested = canonicalMap(inner), true
		}
	}
	for _, name := range CriterionNames() {
		crit, ok := readCriterion(source, criterionAliases[name])
		if !ok && nested {
			crit, ok = readCriterion(doc, criterionAliases[name])
		}
		if !ok {
			res.missing = append(res.missing, name)
			continue
		}
		*res.Criteria.byName(name) = crit
	}

	if v, ok := firstValue(doc, answersKeys...); ok {
		res.Answers, res.unscored = readAnswers(v)
	}
	if v, ok := firstValue(doc, transcriptKeys...); ok {
		if m, isMap := v.(map[string]any); isMap {
			res.Transcripts = make(map[string]string, len(m))
			for k, text := range m {
				if s, isString := text.(string); isString {
					res.Transcripts[k] = s
				}
			}
		}
	}
	return res, nil
}

func readCriterion(source map[string]any, aliases []string) (Criterion, bool) {
	for _, alias := range aliases {
		v, ok := source[alias]
		if !ok {
			continue
		}
		var crit Criterion
		switch typed := v.(type) {
		case map[string]any:
			inner := canonicalMap(typed)
			band, found := firstValue(inner, bandKeys...)
			if !found {
				continue
			}
			n, ok := toNumber(band)
			if !ok {
				continue
			}
			crit.Band = n
			if fb, found := firstValue(inner, feedbackKeys...); found {
				crit.Feedback, _ = fb.(string)
			}
		default:
			n, ok := toNumber(typed)
			if !ok {
				continue
			}
			crit.Band = n
			if fb, found := source[alias+"feedback"]; found {
				crit.Feedback, _ = fb.(string)
			}
		}
		crit.Feedback = strings.TrimSpace(crit.Feedback)
		return crit, true
	}
	return Criterion{}, false
}

// readAnswers also returns the indexes of answers whose band was absent or
// not a finite number.
func readAnswers(v any) ([]Answer, []int) {
	var items []any
	switch typed := v.(type) {
	case []any:
		items = typed
	case map[string]any:
		keys := make([]string, 0, len(typed))
		for k := range typed {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			ni, errI := strconv.Atoi(keys[i])
			nj, errJ := strconv.Atoi(keys[j])
			if errI == nil && errJ == nil {
				return ni < nj
			}
			return keys[i] < keys[j]
		})
		for _, k := range keys {
			item, ok := typed[k].(map[string]any)
			if !ok {
				continue
			}
			item = canonicalMap(item)
			if _, has := firstValue(item, indexKeys...); !has {
				if n, err := strconv.Atoi(k); err == nil {
					item["index"] = float64(n)
				} else {
					item["segmentkey"] = k
				}
			}
			items = append(items, item)
		}
	}

	answers := make([]Answer, 0, len(items))
	var unscored []int
	for pos, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		item = canonicalMap(item)
		ans := Answer{Index: pos + 1}
		if iv, found := firstValue(item, indexKeys...); found {
			if n, ok := toNumber(iv); ok && n >= 1 {
				ans.Index = int(n)
			}
		}
		scored := false
		if bv, found := firstValue(item, bandKeys...); found {
			ans.Band, scored = toNumber(bv)
		}
		if !scored {
			unscored = append(unscored, ans.Index)
		}
		if mv, found := firstValue(item, modelAnswerKey...); found {
			ans.ModelAnswer, _ = mv.(string)
		}
		if fv, found := firstValue(item, feedbackKeys...); found {
			ans.Feedback, _ = fv.(string)
		}
		if kv, found := firstValue(item, "segmentkey", "key"); found {
			ans.SegmentKey, _ = kv.(string)
		}
		answers = append(answers, ans)
	}
	return answers, unscored
}

// canonicalKey folds "overallBand", "overall_band", and "Overall Band" together.
func canonicalKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func canonicalMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		ck := canonicalKey(k)
		if ck == "" {
			ck = k
		}
		if _, exists := out[ck]; !exists {
			out[ck] = v
		}
	}
	return out
}

func firstValue(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// toNumber reads a band from a JSON number or a string such as "Band 6.5".
// NaN and infinities are rejected.
func toNumber(v any) (float64, bool) {
	var n float64
	switch typed := v.(type) {
	case float64:
		n = typed
	case int:
		n = float64(typed)
	case string:
		s := strings.TrimSpace(strings.ToLower(typed))
		s = strings.TrimSpace(strings.TrimPrefix(s, "band"))
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
