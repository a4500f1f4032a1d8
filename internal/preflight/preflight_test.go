package preflight

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"speecheval/internal/config"
	"speecheval/internal/quota"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckCatalog(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(good, []byte("name: t\nparts:\n  - part: 1\n    questions:\n      - key: p1q1\n        number: 1\n        text: Where do you live?\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if r := CheckCatalog(good); !r.Passed || !strings.Contains(r.Detail, "1 questions") {
		t.Fatalf("expected pass, got %+v", r)
	}
	if r := CheckCatalog(filepath.Join(dir, "missing.yaml")); r.Passed {
		t.Fatal("expected failure for missing catalogue")
	}
}

func TestCheckEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	if r := CheckEndpoint(context.Background(), "asr", srv.URL); !r.Passed {
		t.Fatalf("401 still means reachable: %+v", r)
	}
	if r := CheckEndpoint(context.Background(), "asr", srv.URL+"/broken"); r.Passed {
		t.Fatal("expected failure on 5xx")
	}
	if r := CheckEndpoint(context.Background(), "asr", ""); r.Passed || r.Detail != "missing url" {
		t.Fatalf("unexpected result %+v", r)
	}
}

type fakeLister struct {
	creds []quota.Credential
	err   error
}

func (f fakeLister) ListCredentials(context.Context, string) ([]quota.Credential, error) {
	return f.creds, f.err
}

func TestCheckCredentials(t *testing.T) {
	today := time.Now().UTC().Format(quota.DateLayout)
	spent := quota.Credential{Active: true, Models: map[string]quota.ModelQuota{
		"m1": {Exhausted: true, ExhaustedDate: today},
	}}
	tests := []struct {
		name   string
		lister fakeLister
		pass   bool
		want   string
	}{
		{name: "none", lister: fakeLister{}, want: "no active credentials"},
		{name: "inactive only", lister: fakeLister{creds: []quota.Credential{{Active: false}}}, want: "no active credentials"},
		{name: "all exhausted", lister: fakeLister{creds: []quota.Credential{spent}}, want: "exhausted today"},
		{name: "usable", lister: fakeLister{creds: []quota.Credential{spent, {Active: true}}}, pass: true, want: "1 of 2"},
		{name: "store error", lister: fakeLister{err: errors.New("locked")}, want: "list failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := CheckCredentials(context.Background(), tt.lister, "llm", []string{"m1"})
			if r.Passed != tt.pass || !strings.Contains(r.Detail, tt.want) {
				t.Fatalf("unexpected result %+v", r)
			}
		})
	}
}

func TestCheckBus(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	if r := CheckBus(context.Background(), []string{"nats://" + ln.Addr().String()}); !r.Passed {
		t.Fatalf("expected pass, got %+v", r)
	}
	if r := CheckBus(context.Background(), nil); r.Passed {
		t.Fatal("expected failure without servers")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil, nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_ChecksEndpointsAndCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.ASR.ModelA.URL = srv.URL
	cfg.ASR.ModelB.URL = srv.URL
	cfg.LLM.BaseURL = srv.URL
	cfg.Catalog.Path = ""

	results := RunAll(context.Background(), &cfg, fakeLister{creds: []quota.Credential{{Active: true}}})
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
	// data, log, two ASR endpoints, LLM, credentials
	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}
}
