package merge_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"speecheval/internal/asr"
	"speecheval/internal/catalog"
	"speecheval/internal/merge"
)

type fakeTranscriber struct {
	name   string
	robust bool
	text   string
	err    error
	delay  time.Duration

	mu    sync.Mutex
	calls int
	seen  asr.Audio
}

func (f *fakeTranscriber) Name() string { return f.name }
func (f *fakeTranscriber) NoiseRobust() bool { return f.robust }
func (f *fakeTranscriber) Transcribe(ctx context.Context, audio asr.Audio) (asr.Candidate, error) {
	f.mu.Lock()
	f.calls++
	f.seen = audio
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return asr.Candidate{}, ctx.Err()
		}
	}
	if f.err != nil {
		return asr.Candidate{}, f.err
	}
	return asr.Candidate{Model: f.name, NoiseRobust: f.robust, RawText: f.text, Duration: audio.Duration}, nil
}

type memorySource struct {
	loads int
}

func (m *memorySource) Load(_ context.Context, ref string) (asr.Audio, error) {
	m.loads++
	return asr.Audio{Name: ref, Data: []byte("RIFF")}, nil
}

type recorder struct {
	results []merge.Result
}

func (r *recorder) RecordMerge(_ context.Context, res merge.Result) {
	r.results = append(r.results, res)
}

func TestEngineMergeRunsBothModels(t *testing.T) {
	a := &fakeTranscriber{name: "model_a", text: "I usually walk to work every day because it is close"}
	b := &fakeTranscriber{name: "model_b", robust: true, text: "I usually walk to work every day because it is close"}
	src := &memorySource{}
	rec := &recorder{}
	engine := merge.NewEngine(a, b, merge.WithSource(src), merge.WithRecorder(rec))

	res, err := engine.Merge(context.Background(), catalog.Segment{Key: "p1q1", StorageRef: "p1q1.wav", Duration: 5})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if src.loads != 1 {
		t.Fatalf("audio should load once, got %d", src.loads)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Fatalf("each model should run once, got %d/%d", a.calls, b.calls)
	}
	if a.seen.Duration != 5 {
		t.Fatalf("segment duration not propagated: %v", a.seen.Duration)
	}
	if res.ResolutionMethod != merge.MethodConsensus || res.AgreementScore != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(rec.results) != 1 {
		t.Fatalf("recorder not called")
	}
}

func TestEngineMergeSingleFallback(t *testing.T) {
	a := &fakeTranscriber{name: "model_a", err: errors.New("503 service unavailable")}
	b := &fakeTranscriber{name: "model_b", robust: true, text: "I prefer the countryside to the city"}
	engine := merge.NewEngine(a, b, merge.WithSource(&memorySource{}))

	res, err := engine.Merge(context.Background(), catalog.Segment{Key: "p2", StorageRef: "p2.wav"})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res.ResolutionMethod != merge.MethodSingleFallback || res.SelectedModel != "model_b" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestEngineMergeFailureDoesNotCancelSlowerModel(t *testing.T) {
	a := &fakeTranscriber{name: "model_a", err: errors.New("400 bad audio")}
	b := &fakeTranscriber{name: "model_b", robust: true, delay: 50 * time.Millisecond, text: "I prefer the countryside to the city"}
	engine := merge.NewEngine(a, b, merge.WithSource(&memorySource{}))

	res, err := engine.Merge(context.Background(), catalog.Segment{Key: "p2", StorageRef: "p2.wav"})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res.ResolutionMethod != merge.MethodSingleFallback || res.SelectedModel != "model_b" {
		t.Fatalf("slower model should survive the faster failure, got %+v", res)
	}
}

func TestEngineMergeBothFail(t *testing.T) {
	a := &fakeTranscriber{name: "model_a", err: errors.New("boom")}
	b := &fakeTranscriber{name: "model_b", err: errors.New("bang")}
	engine := merge.NewEngine(a, b, merge.WithSource(&memorySource{}))

	if _, err := engine.Merge(context.Background(), catalog.Segment{Key: "p2", StorageRef: "p2.wav"}); err == nil {
		t.Fatal("expected error when both models fail")
	}
}
