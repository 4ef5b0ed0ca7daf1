package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	// SectionIDBridge is the identifier for the dev-server bridge section
	SectionIDBridge = "bridge"

	// DefaultServerURL is where the development server listens by default
	DefaultServerURL = "ws://127.0.0.1:9630/devbridge/ws"

	defaultCallTimeout    = 15 * time.Second
	defaultReconnectDelay = 2 * time.Second
	defaultManifestPath   = "devbridge.yaml"

	envServer = "DEVBRIDGE_SERVER"
	envToken  = "DEVBRIDGE_TOKEN"
)

// BridgeSection configures the socket connection to the development server
// and where the script manifest lives.
type BridgeSection struct {
	ServerURL      string        `json:"server_url"`
	Token          string        `json:"token"`
	CallTimeout    time.Duration `json:"call_timeout"`
	ReconnectDelay time.Duration `json:"reconnect_delay"`
	ManifestPath   string        `json:"manifest_path"`
	mu             sync.RWMutex
}

// NewBridgeSection creates a bridge section with default settings.
func NewBridgeSection() *BridgeSection {
	return &BridgeSection{
		ServerURL:      DefaultServerURL,
		CallTimeout:    defaultCallTimeout,
		ReconnectDelay: defaultReconnectDelay,
		ManifestPath:   defaultManifestPath,
	}
}

// ID returns the section identifier.
func (s *BridgeSection) ID() string {
	return SectionIDBridge
}

// Title returns the section title.
func (s *BridgeSection) Title() string {
	return "Dev Server Bridge"
}

// Description returns the section description.
func (s *BridgeSection) Description() string {
	return "WebSocket endpoint of the development server, auth token, and call timeouts."
}

// Data returns the current configuration data.
func (s *BridgeSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]any{
		"server_url":      s.ServerURL,
		"token":           s.Token,
		"call_timeout":    s.CallTimeout.String(),
		"reconnect_delay": s.ReconnectDelay.String(),
		"manifest_path":   s.ManifestPath,
	}
}

// SetData updates the configuration from the provided data.
func (s *BridgeSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		switch key {
		case "server_url", "token", "manifest_path":
			str, ok := value.(string)
			if !ok {
				return fmt.Errorf("invalid value type for %s: expected string, got %T", key, value)
			}
			switch key {
			case "server_url":
				s.ServerURL = str
			case "token":
				s.Token = str
			default:
				s.ManifestPath = str
			}

		case "call_timeout":
			d, err := parseDuration(key, value)
			if err != nil {
				return err
			}
			s.CallTimeout = d

		case "reconnect_delay":
			d, err := parseDuration(key, value)
			if err != nil {
				return err
			}
			s.ReconnectDelay = d
		}
	}
	return nil
}

// Validate validates the current configuration.
func (s *BridgeSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, err := url.Parse(s.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server_url must use ws or wss, got %q", u.Scheme)
	}
	if s.CallTimeout <= 0 {
		return fmt.Errorf("call_timeout must be positive, got %v", s.CallTimeout)
	}
	if s.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect_delay must be positive, got %v", s.ReconnectDelay)
	}
	if strings.TrimSpace(s.ManifestPath) == "" {
		return fmt.Errorf("manifest_path is required")
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *BridgeSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ServerURL = DefaultServerURL
	s.Token = ""
	s.CallTimeout = defaultCallTimeout
	s.ReconnectDelay = defaultReconnectDelay
	s.ManifestPath = defaultManifestPath
}

// Resolved is the effective bridge configuration after precedence rules.
type Resolved struct {
	ServerURL      string
	Token          string
	CallTimeout    time.Duration
	ReconnectDelay time.Duration
	ManifestPath   string
}

// Resolve applies precedence: CLI flags > environment variables > config
// file > defaults. Empty flag values fall through.
func (s *BridgeSection) Resolve(flagServer, flagToken, flagManifest string) Resolved {
	s.mu.RLock()
	out := Resolved{
		ServerURL:      s.ServerURL,
		Token:          s.Token,
		CallTimeout:    s.CallTimeout,
		ReconnectDelay: s.ReconnectDelay,
		ManifestPath:   s.ManifestPath,
	}
	s.mu.RUnlock()

	if env := os.Getenv(envServer); env != "" {
		out.ServerURL = env
	}
	if env := os.Getenv(envToken); env != "" {
		out.Token = env
	}
	if flagServer != "" {
		out.ServerURL = flagServer
	}
	if flagToken != "" {
		out.Token = flagToken
	}
	if flagManifest != "" {
		out.ManifestPath = flagManifest
	}
	if out.ServerURL == "" {
		out.ServerURL = DefaultServerURL
	}
	return out
}
