package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		key     string
		want    SegmentID
		wantErr bool
	}{
		{"p1q3", SegmentID{1, 3}, false},
		{"P2", SegmentID{2, 0}, false},
		{"part3_question2", SegmentID{3, 2}, false},
		{"p3-q1", SegmentID{3, 1}, false},
		{"q1", SegmentID{}, true},
		{"p0q1", SegmentID{}, true},
		{"", SegmentID{}, true},
	}
	for _, tt := range tests {
		got, err := ParseKey(tt.key)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseKey(%q) err = %v, wantErr %v", tt.key, err, tt.wantErr)
		}
		if !tt.wantErr && got != tt.want {
			t.Fatalf("ParseKey(%q) = %+v, want %+v", tt.key, got, tt.want)
		}
	}
}

func TestDefaultCatalogIsValid(t *testing.T) {
	c := Default()
	if len(c.Parts) != 3 {
		t.Fatalf("expected three parts, got %d", len(c.Parts))
	}
	q, part, ok := c.Lookup("P2")
	if !ok || part != 2 || q.Text == "" {
		t.Fatalf("lookup p2 failed: %+v %d %v", q, part, ok)
	}
}

func TestBuildSegmentsOrdersByCatalogue(t *testing.T) {
	c := Default()
	refs := map[string]string{
		"p3q1": "s3",
		"p2":   "s2",
		"p1q2": "s12",
		"p1q1": "s11",
		"p4q1": "extra",
	}
	segs, err := c.BuildSegments(refs, map[string]float64{"p2": 95})
	if err != nil {
		t.Fatalf("BuildSegments: %v", err)
	}
	var keys []string
	for _, s := range segs {
		keys = append(keys, s.Key)
	}
	want := []string{"p1q1", "p1q2", "p2", "p3q1", "p4q1"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("order = %v, want %v", keys, want)
		}
	}
	if segs[2].Duration != 95 || segs[2].Prompt == "" {
		t.Fatalf("unexpected p2 segment %+v", segs[2])
	}
	if segs[4].Prompt != "" {
		t.Fatalf("unknown key should have no prompt")
	}
}

func TestBuildSegmentsRejectsBadKeys(t *testing.T) {
	if _, err := Default().BuildSegments(map[string]string{"intro": "x"}, nil); err == nil {
		t.Fatal("expected error for unparseable key")
	}
}

func TestLoadCustomCatalogue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	body := "name: mini\nparts:\n  - part: 1\n    questions:\n      - key: p1q1\n        text: hello\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Name != "mini" || len(c.Parts) != 1 {
		t.Fatalf("unexpected catalogue %+v", c)
	}

	bad := "parts:\n  - part: 1\n    questions:\n      - key: p2\n"
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected mismatched part error")
	}
}
