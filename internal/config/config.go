package config

import "github.com/joho/godotenv"

type Config interface {
	EnvConfig
	AuthConfig
	MailConfig
	APIConfig
	PaymentConfig
	ReserveConfig
	NotifyConfig
}

type EnvConfig interface {
	GetAppName() string
	GetDataFolder() string
	GetEnv() string
	GetLogLevel() string
}

type mainConfig struct {
	EnvVars
	Auth
	Mail
	API
	Payment
	Reserve
	Notify
}

// New loads a .env file if one is present and returns the live configuration.
// All getters read the environment lazily, so values can be overridden in
// tests without rebuilding the config.
func New() Config {
	_ = godotenv.Load()
	return mainConfig{}
}
