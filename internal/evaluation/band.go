package evaluation

import "math"

// minimalBand is the per-question band at or below which an answer counts
// as minimal.
const minimalBand = 2.0

var partWeights = map[int]float64{1: 1.0, 2: 2.0, 3: 1.5}

// Caps applied when many answers are minimal.
const (
	heavyMinimalFraction = 0.5
	heavyMinimalCap      = 4.0
	someMinimalFraction  = 0.3
	someMinimalCap       = 5.0
)

// RoundHalf rounds to the nearest 0.5, halves away from zero.
func RoundHalf(v float64) float64 {
	return math.Round(v*2) / 2
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// CalculateBand averages the four criteria and rounds to the nearest 0.5.
func CalculateBand(c Criteria) float64 {
	bands := c.Bands()
	sum := 0.0
	for _, b := range bands {
		sum += b
	}
	return RoundHalf(sum / float64(len(bands)))
}

// PartWeight returns the aggregation weight for a test part.
func PartWeight(part int) float64 {
	if w, ok := partWeights[part]; ok {
		return w
	}
	return 1.0
}

// Aggregate is the breakdown behind an overall band.
type Aggregate struct {
	Overall         float64
	WeightedMean    float64
	MinimalFraction float64
	Cap             float64
}

// IsMinimal reports whether an answer counts toward the minimal-response cap.
func IsMinimal(a Answer) bool {
	return a.Minimal || a.Band <= minimalBand
}

// OverallBand is the part-weighted mean of per-question bands, capped at 5.0
// when at least 30% of answers are minimal and at 4.0 when at least half are,
// then rounded to 0.5 and clamped to [1, 9]. It returns a zero Aggregate for
// no answers.
func OverallBand(answers []Answer) Aggregate {
	if len(answers) == 0 {
		return Aggregate{}
	}
	var (
		weighted, weights float64
		minimal           int
	)
	for _, a := range answers {
		w := PartWeight(a.Part)
		weighted += a.Band * w
		weights += w
		if IsMinimal(a) {
			minimal++
		}
	}
	agg := Aggregate{
		WeightedMean:    weighted / weights,
		MinimalFraction: float64(minimal) / float64(len(answers)),
	}
	overall := agg.WeightedMean
	switch {
	case agg.MinimalFraction >= heavyMinimalFraction:
		agg.Cap = heavyMinimalCap
	case agg.MinimalFraction >= someMinimalFraction:
		agg.Cap = someMinimalCap
	}
	if agg.Cap > 0 && overall > agg.Cap {
		overall = agg.Cap
	}
	agg.Overall = clamp(RoundHalf(overall), 1.0, maxBand)
	return agg
}
