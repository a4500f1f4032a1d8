package evaluation

import (
	"testing"

	"speecheval/internal/merge"
)

func TestCalculateBand(t *testing.T) {
	c := Criteria{
		Fluency:       Criterion{Band: 6},
		Lexical:       Criterion{Band: 6},
		Grammar:       Criterion{Band: 5.5},
		Pronunciation: Criterion{Band: 6},
	}
	if got := CalculateBand(c); got != 6.0 {
		t.Fatalf("CalculateBand = %v, want 6.0", got)
	}
}

func TestRoundHalf(t *testing.T) {
	tests := map[float64]float64{5.74: 5.5, 5.75: 6.0, 6.2: 6.0, 6.25: 6.5, 8.9: 9.0}
	for in, want := range tests {
		if got := RoundHalf(in); got != want {
			t.Fatalf("RoundHalf(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestOverallBand(t *testing.T) {
	tests := []struct {
		name    string
		answers []Answer
		want    float64
		wantCap float64
	}{
		{
			name: "part weights",
			answers: []Answer{
				{Part: 1, Band: 6},
				{Part: 2, Band: 8},
				{Part: 3, Band: 6},
			},
			// (6*1 + 8*2 + 6*1.5) / 4.5 = 6.89
			want: 7.0,
		},
		{
			name: "half minimal caps at four",
			answers: []Answer{
				{Part: 1, Band: 2},
				{Part: 1, Band: 1.5},
				{Part: 2, Band: 8},
				{Part: 3, Band: 8},
			},
			want:    4.0,
			wantCap: 4.0,
		},
		{
			name: "a third minimal caps at five",
			answers: []Answer{
				{Part: 1, Band: 7},
				{Part: 1, Band: 7, Minimal: true},
				{Part: 2, Band: 7},
			},
			want:    5.0,
			wantCap: 5.0,
		},
		{
			name:    "clamped to one",
			answers: []Answer{{Part: 1, Band: 0}, {Part: 2, Band: 0}},
			want:    1.0,
			wantCap: 4.0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := OverallBand(tt.answers)
			if agg.Overall != tt.want {
				t.Fatalf("Overall = %v, want %v (%+v)", agg.Overall, tt.want, agg)
			}
			if agg.Cap != tt.wantCap {
				t.Fatalf("Cap = %v, want %v", agg.Cap, tt.wantCap)
			}
		})
	}
	if agg := OverallBand(nil); agg.Overall != 0 {
		t.Fatalf("empty answers should yield zero, got %+v", agg)
	}
}

func TestMinimalCapBeatsHighCriteria(t *testing.T) {
	res := Result{
		Criteria: Criteria{
			Fluency:       Criterion{Band: 7},
			Lexical:       Criterion{Band: 7},
			Grammar:       Criterion{Band: 6.5},
			Pronunciation: Criterion{Band: 7},
		},
		Answers: []Answer{{Index: 1, Band: 1}, {Index: 2, Band: 2}, {Index: 3, Band: 7}, {Index: 4, Band: 7}},
	}
	prompt := Prompt{Index: []IndexEntry{
		{Index: 1, SegmentKey: "p1q1", Part: 1, Question: 1},
		{Index: 2, SegmentKey: "p1q2", Part: 1, Question: 2},
		{Index: 3, SegmentKey: "p1q3", Part: 1, Question: 3},
		{Index: 4, SegmentKey: "p1q4", Part: 1, Question: 4},
	}}
	transcripts := map[string]merge.Result{}
	for _, entry := range prompt.Index {
		transcripts[entry.SegmentKey] = merge.Result{FinalText: "I answered this question properly"}
	}
	if err := finalize(&res, prompt, transcripts); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if res.CriteriaBand <= 4.0 {
		t.Fatalf("criteria band should exceed the cap, got %v", res.CriteriaBand)
	}
	if res.OverallBand != 4.0 {
		t.Fatalf("OverallBand = %v, want 4.0", res.OverallBand)
	}
}
