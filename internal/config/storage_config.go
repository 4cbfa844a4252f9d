package config

const (
	StorageBackendFile   = "file"
	StorageBackendValkey = "valkey"
	StorageBackendMemory = "memory"
)

type StorageConfig interface {
	GetStorageBackend() string
	GetStorageFile() string
	GetValkeyAddress() string
	GetValkeyKeyPrefix() string
	GetEncryptionKey() string
}

type Storage struct{}

var _ StorageConfig = Storage{}

func (Storage) GetStorageBackend() string {
	return GetEnv("CREDCTL_STORAGE", StorageBackendFile)
}

func (Storage) GetStorageFile() string {
	return GetEnv("CREDCTL_STORAGE_FILE", "./data/credentials.json")
}

func (Storage) GetValkeyAddress() string {
	return GetEnv("CREDCTL_VALKEY_ADDR", "localhost:6379")
}

func (Storage) GetValkeyKeyPrefix() string {
	return GetEnv("CREDCTL_VALKEY_PREFIX", "credctl:")
}

// GetEncryptionKey returns the base64 encoded at-rest key, empty when encryption is off.
func (Storage) GetEncryptionKey() string {
	return GetEnv("CREDCTL_ENCRYPTION_KEY", "")
}
