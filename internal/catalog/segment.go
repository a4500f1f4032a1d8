package catalog

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var keyPattern = regexp.MustCompile(`^(?:p|part)[_-]?(\d+)(?:[_-]?(?:q|question)[_-]?(\d+))?$`)

// SegmentID is the (part, question) identity encoded in a segment key.
// Question is zero for single-question parts such as the long turn.
type SegmentID struct {
	Part     int
	Question int
}

// NormalizeKey lower-cases and trims a segment key.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// ParseKey decodes keys like "p1q3", "p2", or "part3_question1".
func ParseKey(key string) (SegmentID, error) {
	m := keyPattern.FindStringSubmatch(NormalizeKey(key))
	if m == nil {
		return SegmentID{}, fmt.Errorf("unrecognized segment key %q", key)
	}
	part, _ := strconv.Atoi(m[1])
	question := 0
	if m[2] != "" {
		question, _ = strconv.Atoi(m[2])
	}
	if part <= 0 {
		return SegmentID{}, fmt.Errorf("segment key %q has invalid part", key)
	}
	return SegmentID{Part: part, Question: question}, nil
}

// Segment is one recorded answer ready for transcription.
type Segment struct {
	Key        string
	Part       int
	Question   int
	StorageRef string
	Duration   float64
	Prompt     string
}

// BuildSegments turns a job's segment map into an ordered slice. Catalogue
// order wins; keys missing from the catalogue follow, sorted by part and
// question.
func (c *Catalog) BuildSegments(refs map[string]string, durations map[string]float64) ([]Segment, error) {
	segments := make([]Segment, 0, len(refs))
	for key, ref := range refs {
		id, err := ParseKey(key)
		if err != nil {
			return nil, err
		}
		seg := Segment{
			Key:        NormalizeKey(key),
			Part:       id.Part,
			Question:   id.Question,
			StorageRef: ref,
			Duration:   durations[key],
		}
		if c != nil {
			if q, _, ok := c.Lookup(key); ok {
				seg.Prompt = q.Text
			}
		}
		segments = append(segments, seg)
	}
	c.sortSegments(segments)
	return segments, nil
}

func (c *Catalog) sortSegments(segments []Segment) {
	pos := func(key string) int {
		if c == nil {
			return -1
		}
		return c.position(key)
	}
	sort.SliceStable(segments, func(i, j int) bool {
		pi, pj := pos(segments[i].Key), pos(segments[j].Key)
		switch {
		case pi >= 0 && pj >= 0:
			return pi < pj
		case pi >= 0:
			return true
		case pj >= 0:
			return false
		}
		if segments[i].Part != segments[j].Part {
			return segments[i].Part < segments[j].Part
		}
		if segments[i].Question != segments[j].Question {
			return segments[i].Question < segments[j].Question
		}
		return segments[i].Key < segments[j].Key
	})
}
