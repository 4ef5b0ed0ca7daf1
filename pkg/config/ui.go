package config

import (
	"fmt"
	"sync"
	"time"
)

const (
	// SectionIDUI is the identifier for the UI settings section
	SectionIDUI = "ui"

	defaultEnterDuration = 300 * time.Millisecond
	defaultLeaveDuration = 300 * time.Millisecond
	defaultShowDisabled  = true
)

// UISection holds popup and panel presentation settings. The enter and leave
// durations drive how long a list entry stays in its animated state before
// the popup settles it.
type UISection struct {
	EnterDuration time.Duration `json:"enter_duration"`
	LeaveDuration time.Duration `json:"leave_duration"`
	ShowDisabled  bool          `json:"show_disabled"`
	mu            sync.RWMutex
}

// NewUISection creates a new UI section with default settings.
func NewUISection() *UISection {
	return &UISection{
		EnterDuration: defaultEnterDuration,
		LeaveDuration: defaultLeaveDuration,
		ShowDisabled:  defaultShowDisabled,
	}
}

// ID returns the section identifier.
func (s *UISection) ID() string {
	return SectionIDUI
}

// Title returns the section title.
func (s *UISection) Title() string {
	return "UI Settings"
}

// Description returns the section description.
func (s *UISection) Description() string {
	return "Configure popup list animations and which scripts are listed."
}

// Data returns the current configuration data.
func (s *UISection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]any{
		"enter_duration": s.EnterDuration.String(),
		"leave_duration": s.LeaveDuration.String(),
		"show_disabled":  s.ShowDisabled,
	}
}

// SetData updates the configuration from the provided data.
func (s *UISection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		switch key {
		case "enter_duration":
			d, err := parseDuration(key, value)
			if err != nil {
				return err
			}
			s.EnterDuration = d

		case "leave_duration":
			d, err := parseDuration(key, value)
			if err != nil {
				return err
			}
			s.LeaveDuration = d

		case "show_disabled":
			enabled, ok := value.(bool)
			if !ok {
				return fmt.Errorf("invalid value type for show_disabled: expected bool, got %T", value)
			}
			s.ShowDisabled = enabled

		default:
			// Ignore unknown keys for forward compatibility
			continue
		}
	}

	return nil
}

// parseDuration accepts both duration strings and JSON numbers (nanoseconds).
func parseDuration(key string, value any) (time.Duration, error) {
	switch v := value.(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid duration string for %s: %w", key, err)
		}
		return d, nil
	case float64:
		// JSON numbers come as float64
		return time.Duration(v), nil
	case int64:
		return time.Duration(v), nil
	case int:
		return time.Duration(v), nil
	}
	return 0, fmt.Errorf("invalid value type for %s: expected string or number, got %T", key, value)
}

// Validate validates the current configuration.
func (s *UISection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for name, d := range map[string]time.Duration{
		"enter_duration": s.EnterDuration,
		"leave_duration": s.LeaveDuration,
	} {
		if d < 0 || d > 5*time.Second {
			return fmt.Errorf("%s must be between 0 and 5s, got %v", name, d)
		}
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *UISection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.EnterDuration = defaultEnterDuration
	s.LeaveDuration = defaultLeaveDuration
	s.ShowDisabled = defaultShowDisabled
}

// Animation returns the enter and leave durations.
func (s *UISection) Animation() (enter, leave time.Duration) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.EnterDuration, s.LeaveDuration
}
