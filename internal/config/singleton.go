package config

import (
	"fmt"
	"sync"
)

var (
	globalConfig *Config
	configMutex  sync.RWMutex
	initOnce     sync.Once
)

// Initialize loads configuration from path with environment overrides and
// stores it as the process-lifetime global. Subsequent calls are ignored.
func Initialize(path string) error {
	var initErr error

	initOnce.Do(func() {
		cfg, err := LoadWithEnvOverrides(path)
		if err != nil {
			initErr = err
			return
		}
		configMutex.Lock()
		globalConfig = cfg
		configMutex.Unlock()
	})

	return initErr
}

// Get returns the global configuration, or nil if Initialize has not run.
func Get() *Config {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return globalConfig
}

// Set installs cfg as the global configuration. Intended for tests; normal
// startup should use Initialize.
func Set(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()
	globalConfig = cfg
}

// Reload reloads the configuration from path, replacing the global instance
// only if loading and validation succeed.
func Reload(path string) error {
	cfg, err := LoadWithEnvOverrides(path)
	if err != nil {
		return fmt.Errorf("config: reloading: %w", err)
	}
	configMutex.Lock()
	globalConfig = cfg
	configMutex.Unlock()
	return nil
}

// MustGet returns the global configuration, panicking if Initialize has not
// been called successfully. Only safe on paths where startup is known to
// have completed.
func MustGet() *Config {
	cfg := Get()
	if cfg == nil {
		panic("config: not initialized: call Initialize first")
	}
	return cfg
}
