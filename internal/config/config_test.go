package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"speecheval/internal/config"
)

func TestLoadDefaultConfigExpandsPathsAndUsesEnvKeys(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("SPEECHEVAL_ASR_A_KEY", "key-a")
	t.Setenv("SPEECHEVAL_ASR_B_KEY", "key-b")
	t.Setenv("SPEECHEVAL_NTFY_TOPIC", "https://ntfy.example/topic")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "speecheval")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "speecheval.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.ASR.ModelA.APIKey != "key-a" || cfg.ASR.ModelB.APIKey != "key-b" {
		t.Fatalf("expected ASR keys from env, got %q/%q", cfg.ASR.ModelA.APIKey, cfg.ASR.ModelB.APIKey)
	}
	if cfg.Notifications.NtfyTopic != "https://ntfy.example/topic" {
		t.Fatalf("expected ntfy topic from env, got %q", cfg.Notifications.NtfyTopic)
	}
	if !cfg.ASR.ModelB.NoiseRobust {
		t.Fatal("expected model_b to be the noise-robust model by default")
	}
	if len(cfg.LLM.Models) != 3 {
		t.Fatalf("expected default model priority list, got %v", cfg.LLM.Models)
	}
	if cfg.Workflow.MaxRetries != 3 {
		t.Fatalf("unexpected max retries: %d", cfg.Workflow.MaxRetries)
	}
}

func TestLoadCustomConfigOverridesDefaults(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(tempHome, "config.toml")
	payload := struct {
		Paths struct {
			DataDir string `toml:"data_dir"`
		} `toml:"paths"`
		LLM struct {
			Models []string `toml:"models"`
		} `toml:"llm"`
		Workflow struct {
			MaxRetries int `toml:"max_retries"`
		} `toml:"workflow"`
		Logging struct {
			Format string `toml:"format"`
		} `toml:"logging"`
	}{}
	payload.Paths.DataDir = "~/evaldata"
	payload.LLM.Models = []string{" gemini-2.0-flash ", ""}
	payload.Workflow.MaxRetries = 5
	payload.Logging.Format = "JSON"

	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected custom config to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.DataDir != filepath.Join(tempHome, "evaldata") {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if len(cfg.LLM.Models) != 1 || cfg.LLM.Models[0] != "gemini-2.0-flash" {
		t.Fatalf("expected trimmed model list, got %v", cfg.LLM.Models)
	}
	if cfg.Workflow.MaxRetries != 5 {
		t.Fatalf("unexpected max retries: %d", cfg.Workflow.MaxRetries)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected lowercased log format, got %q", cfg.Logging.Format)
	}
	if cfg.ASR.ModelA.Model == "" {
		t.Fatal("expected ASR defaults to survive partial config")
	}
}

func TestValidateRejectsBadWorkflowSettings(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "heartbeat timeout too small",
			mutate:  func(c *config.Config) { c.Workflow.HeartbeatTimeout = c.Workflow.HeartbeatInterval },
			wantErr: "heartbeat_timeout",
		},
		{
			name:    "lock ttl too small",
			mutate:  func(c *config.Config) { c.Workflow.LockTTL = 1 },
			wantErr: "lock_ttl",
		},
		{
			name:    "zero retries",
			mutate:  func(c *config.Config) { c.Workflow.MaxRetries = 0 },
			wantErr: "max_retries",
		},
		{
			name:    "fallback without providers",
			mutate:  func(c *config.Config) { c.Workflow.ProviderFallback = true },
			wantErr: "provider_fallback",
		},
		{
			name: "bus enabled without servers",
			mutate: func(c *config.Config) {
				c.Bus.Enabled = true
				c.Bus.Servers = nil
			},
			wantErr: "bus.servers",
		},
		{
			name:    "unknown asr language",
			mutate:  func(c *config.Config) { c.ASR.ModelA.Language = "klingon" },
			wantErr: "asr.model_a.language",
		},
		{
			name:    "duplicate model",
			mutate:  func(c *config.Config) { c.LLM.Models = []string{"a", "a"} },
			wantErr: "duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestProviderFallbackLookup(t *testing.T) {
	cfg := config.Default()
	cfg.ASR.Fallbacks = []config.ASRFallback{{
		Provider: "backup",
		ModelA:   config.ASRProvider{URL: "http://backup/a", Model: "a"},
		ModelB:   config.ASRProvider{URL: "http://backup/b", Model: "b"},
	}}

	next, ok := cfg.NextProvider(cfg.ASR.Provider)
	if !ok || next != "backup" {
		t.Fatalf("expected backup provider, got %q ok=%v", next, ok)
	}
	if _, ok := cfg.NextProvider("backup"); ok {
		t.Fatal("expected no provider after the last fallback")
	}
	a, b, ok := cfg.ASRPair("backup")
	if !ok || a.Model != "a" || b.Model != "b" {
		t.Fatalf("unexpected pair for backup: %+v %+v", a, b)
	}
	if _, _, ok := cfg.ASRPair("missing"); ok {
		t.Fatal("expected unknown provider lookup to fail")
	}
}

func TestCreateSampleProducesLoadableConfig(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	path := filepath.Join(tempHome, "nested", "config.toml")

	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config should load: %v", err)
	}
}

func TestLoadNormalizesASRLanguage(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(tempHome, "config.toml")
	content := "[asr.model_a]\nlanguage = \"English\"\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ASR.ModelA.Language != "en" {
		t.Fatalf("language = %q, want en", cfg.ASR.ModelA.Language)
	}
}
