package config

type Config interface {
	EnvConfig
	SessionConfig
	RetryConfig
	RouteConfig
	StorageConfig
}

type EnvConfig interface {
	GetDataFolder() string
}

type mainConfig struct {
	EnvVars
	Session
	Retry
	Routes
	Storage
}

func New() Config {
	return mainConfig{}
}
