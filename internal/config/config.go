package config

type Config interface {
	EnvConfig
	ClientConfig
	StorageConfig
	TimingConfig
}

type EnvConfig interface {
	GetAppName() string
	GetLogLevel() string
	GetEnv() string
}

type mainConfig struct {
	EnvVars
	Client
	Storage
	Timing
}

func New() Config {
	return mainConfig{}
}
