package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"speecheval/internal/config"
	"speecheval/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

// setupCLITestEnv points HOME at a temp dir and writes a config whose API
// address refuses connections, so commands always use the job database.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	home := filepath.Join(t.TempDir(), "home")
	t.Setenv("HOME", home)

	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = "127.0.0.1:1"

	path := filepath.Join(home, ".config", "speecheval", "config.toml")
	writeTestConfig(t, path, cfg)
	return &cliTestEnv{cfg: cfg, configPath: path}
}

// runCLI executes one evalctl invocation and returns stdout and stderr.
func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	if configPath != "" {
		args = append([]string{"--config", configPath}, args...)
	}
	var stdout, stderr bytes.Buffer
	root := newRootCommand()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	doc := map[string]any{
		"paths": map[string]any{
			"data_dir": cfg.Paths.DataDir,
			"log_dir":  cfg.Paths.LogDir,
			"api_bind": cfg.Paths.APIBind,
		},
		"notifications": map[string]any{"ntfy_topic": ""},
	}
	data, err := toml.Marshal(doc)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
