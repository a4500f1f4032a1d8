package testsupport

import (
	"path/filepath"
	"testing"

	"speecheval/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.ASR.ModelA.APIKey = "test-a"
	cfgVal.ASR.ModelB.APIKey = "test-b"
	cfgVal.ASR.ModelA.RetryAttempts = 1
	cfgVal.ASR.ModelB.RetryAttempts = 1
	cfgVal.Workflow.SegmentDelayMillis = 0
	cfgVal.Notifications.NtfyTopic = ""
	cfgVal.Logging.Format = "json"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithASRServer points both ASR endpoints at url.
func WithASRServer(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.ASR.ModelA.URL = url
		b.cfg.ASR.ModelB.URL = url
	}
}

// WithLLMServer points the scoring client at url.
func WithLLMServer(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.LLM.BaseURL = url
		b.cfg.LLM.RetryAttempts = 1
	}
}

// WithMaxRetries overrides the per-job retry budget.
func WithMaxRetries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.MaxRetries = n
	}
}

// WithProviderFallback registers a fallback ASR provider and enables switching.
func WithProviderFallback(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.ASR.Fallbacks = append(b.cfg.ASR.Fallbacks, config.ASRFallback{
			Provider: name,
			ModelA:   b.cfg.ASR.ModelA,
			ModelB:   b.cfg.ASR.ModelB,
		})
		b.cfg.Workflow.ProviderFallback = true
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
