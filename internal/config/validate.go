package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"speecheval/internal/language"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateASR(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateQuota(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateBus(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateASR() error {
	if err := validateASRProvider("asr.model_a", c.ASR.ModelA); err != nil {
		return err
	}
	if err := validateASRProvider("asr.model_b", c.ASR.ModelB); err != nil {
		return err
	}
	seen := map[string]struct{}{c.ASR.Provider: {}}
	for i, fb := range c.ASR.Fallbacks {
		prefix := fmt.Sprintf("asr.fallbacks[%d]", i)
		if fb.Provider == "" {
			return fmt.Errorf("%s.provider must be set", prefix)
		}
		if _, dup := seen[fb.Provider]; dup {
			return fmt.Errorf("%s.provider %q is duplicated", prefix, fb.Provider)
		}
		seen[fb.Provider] = struct{}{}
		if err := validateASRProvider(prefix+".model_a", fb.ModelA); err != nil {
			return err
		}
		if err := validateASRProvider(prefix+".model_b", fb.ModelB); err != nil {
			return err
		}
	}
	return nil
}

func validateASRProvider(key string, p ASRProvider) error {
	if p.URL == "" {
		return fmt.Errorf("%s.url must be set", key)
	}
	if _, err := url.ParseRequestURI(p.URL); err != nil {
		return fmt.Errorf("%s.url: %w", key, err)
	}
	if p.Model == "" {
		return fmt.Errorf("%s.model must be set", key)
	}
	if _, ok := language.Normalize(p.Language); !ok {
		return fmt.Errorf("%s.language %q is not a recognized language", key, p.Language)
	}
	return nil
}

func (c *Config) validateLLM() error {
	if _, err := url.ParseRequestURI(c.LLM.BaseURL); err != nil {
		return fmt.Errorf("llm.base_url: %w", err)
	}
	seen := make(map[string]struct{}, len(c.LLM.Models))
	for _, model := range c.LLM.Models {
		if _, dup := seen[model]; dup {
			return fmt.Errorf("llm.models contains duplicate %q", model)
		}
		seen[model] = struct{}{}
	}
	return nil
}

func (c *Config) validateQuota() error {
	if len(c.Quota.PermanentPhrases) == 0 {
		return errors.New("quota.permanent_phrases must not be empty")
	}
	if c.Quota.Timezone != "" {
		if _, err := time.LoadLocation(c.Quota.Timezone); err != nil {
			return fmt.Errorf("quota.timezone: %w", err)
		}
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	w := c.Workflow
	if w.QueuePollInterval <= 0 {
		return errors.New("workflow.queue_poll_interval must be positive")
	}
	if w.ErrorRetryInterval <= 0 {
		return errors.New("workflow.error_retry_interval must be positive")
	}
	if w.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if w.HeartbeatTimeout <= w.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than heartbeat_interval")
	}
	if w.LockTTL <= w.HeartbeatInterval {
		return errors.New("workflow.lock_ttl must be greater than heartbeat_interval")
	}
	if w.WatchdogInterval <= 0 {
		return errors.New("workflow.watchdog_interval must be positive")
	}
	if w.MaxRetries <= 0 {
		return errors.New("workflow.max_retries must be positive")
	}
	if w.SegmentDelayMillis < 0 {
		return errors.New("workflow.segment_delay_ms must not be negative")
	}
	if w.Workers <= 0 {
		return errors.New("workflow.workers must be positive")
	}
	if w.ProviderFallback && len(c.ASR.Fallbacks) == 0 {
		return errors.New("workflow.provider_fallback requires at least one asr.fallbacks entry")
	}
	return nil
}

func (c *Config) validateBus() error {
	if !c.Bus.Enabled {
		return nil
	}
	if len(c.Bus.Servers) == 0 && !c.Bus.Embedded {
		return errors.New("bus.servers must be set when bus.enabled is true and bus.embedded is false")
	}
	if strings.ContainsAny(c.Bus.SubjectPrefix, " *>") {
		return fmt.Errorf("bus.subject_prefix %q contains invalid characters", c.Bus.SubjectPrefix)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json", "auto":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
