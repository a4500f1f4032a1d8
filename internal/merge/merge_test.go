package merge

import (
	"math"
	"strings"
	"testing"

	"speecheval/internal/asr"
)

func TestAgreementProperties(t *testing.T) {
	texts := []string{
		"",
		"I think climate change is real",
		"i THINK climate change, is real.",
		"my favourite food is pizza",
		"real is change climate think I",
	}
	for _, a := range texts {
		for _, b := range texts {
			ab, ba := Agreement(a, b), Agreement(b, a)
			if ab != ba {
				t.Fatalf("asymmetric agreement for %q/%q: %v vs %v", a, b, ab, ba)
			}
			if ab < 0 || ab > 1 {
				t.Fatalf("agreement out of range: %v", ab)
			}
		}
	}
	if got := Agreement(texts[1], texts[2]); got != 1 {
		t.Fatalf("case and punctuation should not matter, got %v", got)
	}
	if got := Agreement("", ""); got != 0 {
		t.Fatalf("empty agreement = %v", got)
	}
}

func TestAgreementSelfIsOneForAnyNonEmptyText(t *testing.T) {
	for _, text := range []string{"...", "?!", "- -", "um... okay", "I think climate change is real"} {
		if got := Agreement(text, text); got != 1 {
			t.Fatalf("Agreement(%q, %q) = %v, want 1", text, text, got)
		}
	}
	if got := Agreement("...", "okay"); got != 0 {
		t.Fatalf("punctuation against a word should not agree, got %v", got)
	}
}

func TestCleanerTouchesOnlyKnownPatterns(t *testing.T) {
	c := NewCleaner(nil, nil)
	tests := []struct {
		name      string
		in        string
		want      string
		wantFlags bool
	}{
		{name: "plain text untouched", in: "I usually read books on Sunday", want: "I usually read books on Sunday"},
		{name: "whitespace collapsed", in: "  I   read  books ", want: "I read books"},
		{name: "trailing phrase", in: "I think climate change is real. Thanks for watching!", want: "I think climate change is real.", wantFlags: true},
		{name: "phrase mid text kept", in: "thanks for watching the debate I changed my mind", want: "thanks for watching the debate I changed my mind"},
		{name: "leading boilerplate", in: "[music] I live in a small town", want: "I live in a small town", wantFlags: true},
		{name: "foreign script", in: "I like travelling 谢谢", want: "I like travelling", wantFlags: true},
		{name: "repeated punctuation", in: "well!!! I am not sure", want: "well! I am not sure", wantFlags: true},
		{name: "self duplication", in: "I like reading books very much I like reading books very much", want: "I like reading books very much", wantFlags: true},
		{name: "self correction kept", in: "I went I mean we went to the park with my family", want: "I went I mean we went to the park with my family"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Clean(tt.in)
			if got.Text != tt.want {
				t.Fatalf("Clean(%q) = %q, want %q", tt.in, got.Text, tt.want)
			}
			if got.Hallucinated() != tt.wantFlags {
				t.Fatalf("Hallucinated = %v, want %v (removed %v)", got.Hallucinated(), tt.wantFlags, got.Removed)
			}
		})
	}
}

func TestValidateWordCount(t *testing.T) {
	tests := []struct {
		words    int
		duration float64
		valid    bool
		issue    string
	}{
		{words: 150, duration: 60, valid: true},
		{words: 10, duration: 60, issue: "under-production"},
		{words: 300, duration: 60, issue: "over-production"},
		{words: 3, duration: 2, valid: true},
		{words: 0, duration: 0, issue: "no words"},
		{words: 4, duration: 0, valid: true},
	}
	for _, tt := range tests {
		got := ValidateWordCount(tt.words, tt.duration)
		if got.Valid != tt.valid {
			t.Fatalf("ValidateWordCount(%d, %v).Valid = %v", tt.words, tt.duration, got.Valid)
		}
		if tt.issue != "" && !strings.Contains(got.Issue, tt.issue) {
			t.Fatalf("issue %q missing %q", got.Issue, tt.issue)
		}
	}
}

func cand(model, text string, robust bool) *asr.Candidate {
	return &asr.Candidate{Model: model, RawText: text, NoiseRobust: robust}
}

func TestResolveConsensusOnNearIdenticalText(t *testing.T) {
	a := cand("model_a", "I really think climate change is real", false)
	b := cand("model_b", "I really think climate change is reel", true)
	res, err := Resolve(nil, "p1q1", 0, a, b)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.ResolutionMethod != MethodConsensus || res.ConfidenceTier != TierHigh {
		t.Fatalf("got %s/%s", res.ResolutionMethod, res.ConfidenceTier)
	}
	if math.Abs(res.AgreementScore-6.0/7.0) > 1e-9 {
		t.Fatalf("agreement = %v, want 6/7", res.AgreementScore)
	}
	if res.SelectedModel != "model_b" {
		t.Fatalf("equal length tie should prefer noise-robust model, got %s", res.SelectedModel)
	}
	if len(res.Candidates) != 2 {
		t.Fatalf("expected both candidates recorded")
	}
}

func TestResolveConsensusPadding(t *testing.T) {
	short := "one two three four five six seven eight nine ten"
	long := short + " eleven twelve"
	res, err := Resolve(nil, "p2", 0, cand("model_a", long, false), cand("model_b", short, true))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.ResolutionMethod != MethodConsensus {
		t.Fatalf("method = %s", res.ResolutionMethod)
	}
	if res.FinalText != short {
		t.Fatalf("padded candidate should lose, got %q", res.FinalText)
	}
	if !containsIssue(res.Issues, "padding") {
		t.Fatalf("expected padding note in %v", res.Issues)
	}

	slightly := short + " eleven"
	res, _ = Resolve(nil, "p2", 0, cand("model_a", slightly, false), cand("model_b", short, true))
	if res.FinalText != slightly {
		t.Fatalf("longer candidate within 90%% should win, got %q", res.FinalText)
	}
}

func TestResolveMediumAgreement(t *testing.T) {
	a := "I went to the market yesterday to buy some fresh fruit"
	b := "I want to market yesterday buy fresh food"
	res, err := Resolve(nil, "p1q2", 0, cand("model_a", a, false), cand("model_b", b, true))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.ConfidenceTier != TierMedium || res.ResolutionMethod != MethodModelBSelected {
		t.Fatalf("got %s/%s (agreement %.2f)", res.ConfidenceTier, res.ResolutionMethod, res.AgreementScore)
	}

	silent := cand("model_b", b, true)
	silent.NoSpeechProb = 0.9
	res, _ = Resolve(nil, "p1q2", 0, cand("model_a", a, false), silent)
	if res.ResolutionMethod != MethodModelASelected {
		t.Fatalf("hallucinated candidate should lose, got %s", res.ResolutionMethod)
	}
}

func TestResolveLowAgreement(t *testing.T) {
	a := "the weather is nice today so I will go outside"
	b := "my favourite food is pizza"
	res, err := Resolve(nil, "p3", 0, cand("model_a", a, false), cand("model_b", b, false))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.ConfidenceTier != TierLow || res.FinalText != b {
		t.Fatalf("both passing should keep the shorter, got %s %q", res.ConfidenceTier, res.FinalText)
	}
	if !containsIssue(res.Issues, "low agreement") {
		t.Fatalf("expected low agreement note in %v", res.Issues)
	}

	res, _ = Resolve(nil, "p3", 0, cand("model_a", a, false), cand("model_b", b+" thanks for watching", false))
	if res.FinalText != a || res.ResolutionMethod != MethodModelASelected {
		t.Fatalf("only passing candidate should win, got %q", res.FinalText)
	}
}

func TestResolveNoSpeech(t *testing.T) {
	res, err := Resolve(nil, "p1q1", 0, cand("model_a", "", false), cand("model_b", "  ", true))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.ConfidenceTier != TierVeryLow || res.FinalText != "" {
		t.Fatalf("got %s %q", res.ConfidenceTier, res.FinalText)
	}
	if !containsIssue(res.Issues, "no speech") {
		t.Fatalf("expected no speech note in %v", res.Issues)
	}
}

func TestResolveSingleFallback(t *testing.T) {
	res, err := Resolve(nil, "p1q1", 0, nil, cand("model_b", "I enjoy cooking with my friends", true), "model_a failed: timeout")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.ResolutionMethod != MethodSingleFallback || res.ConfidenceTier != TierLow {
		t.Fatalf("got %s/%s", res.ResolutionMethod, res.ConfidenceTier)
	}
	if !containsIssue(res.Issues, "model_a failed") {
		t.Fatalf("failure note missing from %v", res.Issues)
	}
	if _, err := Resolve(nil, "p1q1", 0, nil, nil); err == nil {
		t.Fatal("expected error without candidates")
	}
}

func containsIssue(issues []string, needle string) bool {
	for _, issue := range issues {
		if strings.Contains(issue, needle) {
			return true
		}
	}
	return false
}
