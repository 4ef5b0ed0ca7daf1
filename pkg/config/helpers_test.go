package config

// ResetGlobalManager clears the global configuration manager so a test can
// start from a clean state.
func ResetGlobalManager() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalManager = nil
}
