package config

import (
	"fmt"
	"os"
	"strings"

	"speecheval/internal/language"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeASR()
	c.normalizeLLM()
	c.normalizeQuota()
	c.normalizeBus()
	c.normalizeNotifications()
	c.normalizeLogging()
	return c.normalizeCatalog()
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeASR() {
	c.ASR.Provider = strings.TrimSpace(c.ASR.Provider)
	if c.ASR.Provider == "" {
		c.ASR.Provider = defaultASRProvider
	}
	normalizeASRProvider(&c.ASR.ModelA, "model_a", "SPEECHEVAL_ASR_A_KEY")
	normalizeASRProvider(&c.ASR.ModelB, "model_b", "SPEECHEVAL_ASR_B_KEY")
	for i := range c.ASR.Fallbacks {
		fb := &c.ASR.Fallbacks[i]
		fb.Provider = strings.TrimSpace(fb.Provider)
		normalizeASRProvider(&fb.ModelA, "model_a", "")
		normalizeASRProvider(&fb.ModelB, "model_b", "")
	}
}

func normalizeASRProvider(p *ASRProvider, name, envKey string) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		p.Name = name
	}
	p.URL = strings.TrimSpace(p.URL)
	p.Model = strings.TrimSpace(p.Model)
	p.APIKey = strings.TrimSpace(p.APIKey)
	if p.APIKey == "" && envKey != "" {
		if value, ok := os.LookupEnv(envKey); ok {
			p.APIKey = strings.TrimSpace(value)
		}
	}
	p.Language = strings.TrimSpace(p.Language)
	if code, ok := language.Normalize(p.Language); ok {
		p.Language = code
	}
	if p.TimeoutSeconds <= 0 {
		p.TimeoutSeconds = defaultASRTimeoutSeconds
	}
	if p.RetryAttempts <= 0 {
		p.RetryAttempts = defaultASRRetryAttempts
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Models = trimStringSlice(c.LLM.Models)
	if len(c.LLM.Models) == 0 {
		c.LLM.Models = append([]string(nil), defaultLLMModels...)
	}
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	if c.LLM.RetryAttempts <= 0 {
		c.LLM.RetryAttempts = defaultLLMRetryAttempts
	}
	if c.LLM.MaxRetryAfter <= 0 {
		c.LLM.MaxRetryAfter = defaultLLMMaxRetryAfter
	}
}

func (c *Config) normalizeQuota() {
	c.Quota.Provider = strings.TrimSpace(c.Quota.Provider)
	if c.Quota.Provider == "" {
		c.Quota.Provider = defaultQuotaProvider
	}
	c.Quota.PermanentPhrases = lowerStringSlice(c.Quota.PermanentPhrases)
	c.Quota.TransientPhrases = lowerStringSlice(c.Quota.TransientPhrases)
	if c.Quota.RolloverCheck <= 0 {
		c.Quota.RolloverCheck = defaultQuotaRolloverCheck
	}
	c.Quota.Timezone = strings.TrimSpace(c.Quota.Timezone)
}

func (c *Config) normalizeBus() {
	c.Bus.Servers = trimStringSlice(c.Bus.Servers)
	c.Bus.Stream = strings.TrimSpace(c.Bus.Stream)
	if c.Bus.Stream == "" {
		c.Bus.Stream = defaultBusStream
	}
	c.Bus.SubjectPrefix = strings.Trim(strings.TrimSpace(c.Bus.SubjectPrefix), ".")
	if c.Bus.SubjectPrefix == "" {
		c.Bus.SubjectPrefix = defaultBusSubjectPrefix
	}
	if c.Bus.Port <= 0 {
		c.Bus.Port = defaultBusPort
	}
	if c.Bus.ConnectTimeout <= 0 {
		c.Bus.ConnectTimeout = defaultBusConnectTimeout
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("SPEECHEVAL_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format == "" {
		format = defaultLogFormat
	}
	c.Logging.Format = format
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
	c.Metrics.Path = strings.TrimSpace(c.Metrics.Path)
	if c.Metrics.Path == "" {
		c.Metrics.Path = defaultMetricsPath
	}
}

func (c *Config) normalizeCatalog() error {
	c.Catalog.Path = strings.TrimSpace(c.Catalog.Path)
	if c.Catalog.Path == "" {
		return nil
	}
	expanded, err := expandPath(c.Catalog.Path)
	if err != nil {
		return fmt.Errorf("catalog.path: %w", err)
	}
	c.Catalog.Path = expanded
	return nil
}

func trimStringSlice(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func lowerStringSlice(values []string) []string {
	out := trimStringSlice(values)
	for i, value := range out {
		out[i] = strings.ToLower(value)
	}
	return out
}
