package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// ASRProvider describes one speech-to-text endpoint.
type ASRProvider struct {
	Name           string `toml:"name"`
	URL            string `toml:"url"`
	Model          string `toml:"model"`
	APIKey         string `toml:"api_key"`
	Language       string `toml:"language"`
	NoiseRobust    bool   `toml:"noise_robust"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	RetryAttempts  int    `toml:"retry_attempts"`
}

// ASR contains the dual-model transcription settings.
//
// ModelA and ModelB are invoked concurrently for every segment. Fallbacks are
// alternative provider pairs the watchdog may switch a job to once its retry
// budget on the current provider is spent.
type ASR struct {
	Provider  string        `toml:"provider"`
	ModelA    ASRProvider   `toml:"model_a"`
	ModelB    ASRProvider   `toml:"model_b"`
	Fallbacks []ASRFallback `toml:"fallbacks"`
}

// ASRFallback is a named alternate pair of ASR endpoints.
type ASRFallback struct {
	Provider string      `toml:"provider"`
	ModelA   ASRProvider `toml:"model_a"`
	ModelB   ASRProvider `toml:"model_b"`
}

// LLM contains the scoring model connection settings. Credentials come from
// the quota pool, not from this section.
type LLM struct {
	BaseURL        string   `toml:"base_url"`
	Models         []string `toml:"models"`
	Referer        string   `toml:"referer"`
	Title          string   `toml:"title"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	RetryAttempts  int      `toml:"retry_attempts"`
	MaxRetryAfter  int      `toml:"max_retry_after_seconds"`
}

// Quota contains credential pool and classifier settings.
type Quota struct {
	Provider         string   `toml:"provider"`
	PermanentPhrases []string `toml:"permanent_phrases"`
	TransientPhrases []string `toml:"transient_phrases"`
	RolloverCheck    int      `toml:"rollover_check_seconds"`
	Timezone         string   `toml:"timezone"`
}

// Workflow contains configuration for dispatch timing, leases, and retries.
type Workflow struct {
	QueuePollInterval  int  `toml:"queue_poll_interval"`
	ErrorRetryInterval int  `toml:"error_retry_interval"`
	HeartbeatInterval  int  `toml:"heartbeat_interval"`
	HeartbeatTimeout   int  `toml:"heartbeat_timeout"`
	LockTTL            int  `toml:"lock_ttl"`
	WatchdogInterval   int  `toml:"watchdog_interval"`
	MaxRetries         int  `toml:"max_retries"`
	SegmentDelayMillis int  `toml:"segment_delay_ms"`
	ProviderFallback   bool `toml:"provider_fallback"`
	Workers            int  `toml:"workers"`
}

// Bus contains NATS connection settings for the durable stage queue.
type Bus struct {
	Enabled        bool     `toml:"enabled"`
	Embedded       bool     `toml:"embedded"`
	Port           int      `toml:"port"`
	Servers        []string `toml:"servers"`
	Stream         string   `toml:"stream"`
	SubjectPrefix  string   `toml:"subject_prefix"`
	ConnectTimeout int      `toml:"connect_timeout_ms"`
	Username       string   `toml:"username"`
	Password       string   `toml:"password"`
	Token          string   `toml:"token"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobCompleted   bool   `toml:"job_completed"`
	JobFailed      bool   `toml:"job_failed"`
	QuotaExhausted bool   `toml:"quota_exhausted"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Metrics controls the Prometheus scrape endpoint.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Catalog points at the question catalogue used to order segments.
type Catalog struct {
	Path string `toml:"path"`
}

// Config encapsulates all configuration values for speecheval.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - ASR: the two transcription endpoints and fallback pairs
//   - LLM: scoring model priority list and transport settings
//   - Quota: credential pool classifier phrases and rollover
//   - Workflow: dispatch polling, heartbeats, leases, and retry budget
//   - Bus: NATS JetStream stage queue
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
//   - Metrics: Prometheus endpoint
//   - Catalog: question catalogue path
type Config struct {
	Paths         Paths         `toml:"paths"`
	ASR           ASR           `toml:"asr"`
	LLM           LLM           `toml:"llm"`
	Quota         Quota         `toml:"quota"`
	Workflow      Workflow      `toml:"workflow"`
	Bus           Bus           `toml:"bus"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
	Metrics       Metrics       `toml:"metrics"`
	Catalog       Catalog       `toml:"catalog"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("speecheval.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite file backing jobs, credentials, and results.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "speecheval.db")
}

// LockPath returns the daemon single-instance lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "evald.lock")
}

// BusStoreDir returns the JetStream storage directory for the embedded server.
func (c *Config) BusStoreDir() string {
	return filepath.Join(c.Paths.DataDir, "nats")
}

// ProviderNames lists the primary ASR provider followed by its configured fallbacks.
func (c *Config) ProviderNames() []string {
	names := []string{c.ASR.Provider}
	for _, fb := range c.ASR.Fallbacks {
		names = append(names, fb.Provider)
	}
	return names
}

// ASRPair returns the model endpoints for the named provider.
func (c *Config) ASRPair(provider string) (ASRProvider, ASRProvider, bool) {
	provider = strings.TrimSpace(provider)
	if provider == "" || provider == c.ASR.Provider {
		return c.ASR.ModelA, c.ASR.ModelB, true
	}
	for _, fb := range c.ASR.Fallbacks {
		if fb.Provider == provider {
			return fb.ModelA, fb.ModelB, true
		}
	}
	return ASRProvider{}, ASRProvider{}, false
}

// NextProvider returns the provider configured after current, if any.
func (c *Config) NextProvider(current string) (string, bool) {
	names := c.ProviderNames()
	for i, name := range names {
		if name == current && i+1 < len(names) {
			return names[i+1], true
		}
	}
	return "", false
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
