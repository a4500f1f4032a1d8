package stage

import (
	"context"
	"errors"
	"testing"

	"speecheval/internal/merge"
	"speecheval/internal/services"
)

type fakeChecker struct {
	cancelled bool
	err       error
}

func (f fakeChecker) IsCancelled(context.Context, string) (bool, error) {
	return f.cancelled, f.err
}

func TestParseTranscription_Valid(t *testing.T) {
	raw, err := EncodeTranscription(map[string]merge.Result{
		"p1q1": {SegmentKey: "p1q1", FinalText: "hello there", ConfidenceTier: merge.TierHigh, WordCount: 2},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := ParseTranscription(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["p1q1"].FinalText != "hello there" || got["p1q1"].ConfidenceTier != merge.TierHigh {
		t.Fatalf("unexpected transcript: %+v", got["p1q1"])
	}
}

func TestParseTranscription_Empty(t *testing.T) {
	_, err := ParseTranscription("  ")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseTranscription_Invalid(t *testing.T) {
	_, err := ParseTranscription("{invalid json")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCheckCancelled(t *testing.T) {
	ctx := services.WithStage(context.Background(), "transcribing")
	if err := CheckCancelled(ctx, fakeChecker{}, "job-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := CheckCancelled(ctx, fakeChecker{cancelled: true}, "job-1")
	if !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if details := services.Details(err); details.Stage != "transcribing" {
		t.Fatalf("expected stage from context, got %q", details.Stage)
	}
	storeErr := errors.New("database is locked")
	if err := CheckCancelled(ctx, fakeChecker{err: storeErr}, "job-1"); !errors.Is(err, storeErr) {
		t.Fatalf("expected store error passthrough, got %v", err)
	}
	done, cancel := context.WithCancel(ctx)
	cancel()
	if err := CheckCancelled(done, fakeChecker{}, "job-1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}
