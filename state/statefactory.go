package state

import "fmt"

// DefaultStoreFactory is the default implementation of StoreFactory
type DefaultStoreFactory struct{}

func NewStoreFactory() StoreFactory {
	return &DefaultStoreFactory{}
}

// Create returns a store implementation based on the configuration
func (f *DefaultStoreFactory) Create(config Config) (Store, error) {
	switch config.Backend {
	case BackendDapr, "":
		if config.DaprConfig == nil {
			config.DaprConfig = &DaprConfig{}
		}
		return NewDaprStore(config)
	case BackendRedis:
		if config.RedisConfig == nil {
			return nil, fmt.Errorf("redis backend requires redis configuration")
		}
		return NewRedisStore(config)
	case BackendMemory:
		return NewMemoryStore(config.KeyPrefix), nil
	}
	return nil, fmt.Errorf("unknown state backend %q", config.Backend)
}
