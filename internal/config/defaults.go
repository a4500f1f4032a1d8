package config

const (
	defaultConfigPath                = "~/.config/speecheval/config.toml"
	defaultDataDir                   = "~/.local/share/speecheval"
	defaultLogDir                    = "~/.local/share/speecheval/logs"
	defaultAPIBind                   = "127.0.0.1:7490"
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
	defaultASRProvider               = "openai-compatible"
	defaultASRURL                    = "https://api.groq.com/openai/v1/audio/transcriptions"
	defaultASRModelA                 = "whisper-large-v3"
	defaultASRModelB                 = "whisper-large-v3-turbo"
	defaultASRLanguage               = "en"
	defaultASRTimeoutSeconds         = 60
	defaultASRRetryAttempts          = 3
	defaultLLMBaseURL                = "https://generativelanguage.googleapis.com/v1beta/openai/chat/completions"
	defaultLLMTitle                  = "speecheval"
	defaultLLMTimeoutSeconds         = 120
	defaultLLMRetryAttempts          = 3
	defaultLLMMaxRetryAfter          = 60
	defaultQuotaProvider             = "gemini"
	defaultQuotaRolloverCheck        = 60
	defaultWorkflowPollInterval      = 5
	defaultWorkflowErrorRetry        = 10
	defaultWorkflowHeartbeatInterval = 15
	defaultWorkflowHeartbeatTimeout  = 120
	defaultWorkflowLockTTL           = 180
	defaultWorkflowWatchdogInterval  = 60
	defaultWorkflowMaxRetries        = 3
	defaultWorkflowSegmentDelay      = 1500
	defaultWorkflowWorkers           = 2
	defaultBusStream                 = "SPEECHEVAL"
	defaultBusSubjectPrefix          = "speecheval"
	defaultBusConnectTimeout         = 2000
	defaultBusPort                   = 4222
	defaultNotifyRequestTimeout      = 10
	defaultMetricsPath               = "/metrics"
)

var (
	defaultLLMModels = []string{"gemini-2.5-pro", "gemini-2.5-flash", "gemini-2.0-flash"}

	defaultPermanentPhrases = []string{
		"resource exhausted",
		"resource_exhausted",
		"quota exceeded",
		"exceeded your current quota",
		"billing",
		"per day",
		"daily limit",
	}

	defaultTransientPhrases = []string{
		"rate limit",
		"too many requests",
		"per minute",
		"try again",
		"overloaded",
	}
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		ASR: ASR{
			Provider: defaultASRProvider,
			ModelA: ASRProvider{
				Name:           "model_a",
				URL:            defaultASRURL,
				Model:          defaultASRModelA,
				Language:       defaultASRLanguage,
				TimeoutSeconds: defaultASRTimeoutSeconds,
				RetryAttempts:  defaultASRRetryAttempts,
			},
			ModelB: ASRProvider{
				Name:           "model_b",
				URL:            defaultASRURL,
				Model:          defaultASRModelB,
				Language:       defaultASRLanguage,
				NoiseRobust:    true,
				TimeoutSeconds: defaultASRTimeoutSeconds,
				RetryAttempts:  defaultASRRetryAttempts,
			},
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Models:         append([]string(nil), defaultLLMModels...),
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
			RetryAttempts:  defaultLLMRetryAttempts,
			MaxRetryAfter:  defaultLLMMaxRetryAfter,
		},
		Quota: Quota{
			Provider:         defaultQuotaProvider,
			PermanentPhrases: append([]string(nil), defaultPermanentPhrases...),
			TransientPhrases: append([]string(nil), defaultTransientPhrases...),
			RolloverCheck:    defaultQuotaRolloverCheck,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultWorkflowPollInterval,
			ErrorRetryInterval: defaultWorkflowErrorRetry,
			HeartbeatInterval:  defaultWorkflowHeartbeatInterval,
			HeartbeatTimeout:   defaultWorkflowHeartbeatTimeout,
			LockTTL:            defaultWorkflowLockTTL,
			WatchdogInterval:   defaultWorkflowWatchdogInterval,
			MaxRetries:         defaultWorkflowMaxRetries,
			SegmentDelayMillis: defaultWorkflowSegmentDelay,
			Workers:            defaultWorkflowWorkers,
		},
		Bus: Bus{
			Stream:         defaultBusStream,
			SubjectPrefix:  defaultBusSubjectPrefix,
			Port:           defaultBusPort,
			ConnectTimeout: defaultBusConnectTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			JobCompleted:   true,
			JobFailed:      true,
			QuotaExhausted: true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Metrics: Metrics{
			Enabled: true,
			Path:    defaultMetricsPath,
		},
	}
}
