package config

const (
	DefaultBackendModel       = "gpt-3.5-turbo"
	DefaultBackendTemperature = 0.7
	DefaultBackendTimeoutMS   = 30000

	DefaultServerAddr = "127.0.0.1:8000"

	DefaultHistoryTokenLimit = 3000

	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)
