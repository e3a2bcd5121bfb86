package config

// StorageConfig names the two persisted keys the core owns: the serialized
// token pair and the ephemeral cross-process signaling sentinel.
type StorageConfig interface {
	GetTokenStorageKey() string
	GetSignalStorageKey() string
}

type Storage struct{}

var _ StorageConfig = Storage{}

func (Storage) GetTokenStorageKey() string {
	return GetEnv("TOKEN_STORAGE_KEY", "auth-token")
}

func (Storage) GetSignalStorageKey() string {
	return GetEnv("SIGNAL_STORAGE_KEY", "auth-signal")
}
