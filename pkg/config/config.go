// Package config persists devbridge settings as sections of a JSON file in
// ~/.devbridge/config.json.
package config

import (
	"sync"
)

var (
	// globalManager is the singleton configuration manager instance
	globalManager *Manager
	globalMu      sync.Mutex
)

// Initialize creates the global manager, registers the default sections and
// loads them from configPath (empty means the default location).
// It should be called once at application startup.
func Initialize(configPath string) error {
	manager, err := Open(configPath)
	if err != nil {
		return err
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	globalManager = manager
	return nil
}

// Open builds a manager with the default sections loaded from configPath
// without touching the global instance.
func Open(configPath string) (*Manager, error) {
	store, err := NewFileStore(configPath)
	if err != nil {
		return nil, err
	}

	manager := NewManager(store)
	if err := manager.RegisterSection(NewBridgeSection()); err != nil {
		return nil, err
	}
	if err := manager.RegisterSection(NewUISection()); err != nil {
		return nil, err
	}

	if err := manager.LoadAll(); err != nil {
		return nil, err
	}
	return manager, nil
}

// Global returns the global configuration manager.
// Panics if Initialize has not been called.
func Global() *Manager {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalManager == nil {
		panic("config not initialized: call config.Initialize first")
	}

	return globalManager
}

// IsInitialized returns true if the global configuration has been initialized.
func IsInitialized() bool {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalManager != nil
}

// GetBridge returns the bridge section from global config, or defaults when
// config is not initialized.
func GetBridge() *BridgeSection {
	if !IsInitialized() {
		return NewBridgeSection()
	}
	if section, ok := Global().GetSection(SectionIDBridge); ok {
		if bridge, ok := section.(*BridgeSection); ok {
			return bridge
		}
	}
	return NewBridgeSection()
}

// GetUI returns the UI section from global config, or defaults when config
// is not initialized.
func GetUI() *UISection {
	if !IsInitialized() {
		return NewUISection()
	}
	if section, ok := Global().GetSection(SectionIDUI); ok {
		if ui, ok := section.(*UISection); ok {
			return ui
		}
	}
	return NewUISection()
}
