package config

const (
	defaultDataDir                = "~/.local/share/fabrick"
	defaultLogDir                 = "~/.local/share/fabrick/logs"
	defaultAPIBind                = "127.0.0.1:7719"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultQueuePollInterval      = 2
	defaultErrorRetryInterval     = 10
	defaultHeartbeatInterval      = 15
	defaultHeartbeatTimeout       = 120
	defaultEnrichInterval         = 5
	defaultReapInterval           = 30
	defaultMaxAttempts            = 3
	defaultBackoffSeconds         = 30
	defaultMaxBackoffSeconds      = 600
	defaultProviderTimeoutSeconds = 300
	defaultProviderPollSeconds    = 5
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			EnrichInterval:     defaultEnrichInterval,
			ReapInterval:       defaultReapInterval,
		},
		Retry: Retry{
			MaxAttempts:       defaultMaxAttempts,
			BackoffSeconds:    defaultBackoffSeconds,
			MaxBackoffSeconds: defaultMaxBackoffSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
