// Package scripts models the user scripts that devbridge injects into
// matching pages, and the devbridge.yaml manifest that lists them.
package scripts

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/devbridge/pkg/urlmatch"
)

// ManifestVersion is the manifest schema version written by SaveManifest.
const ManifestVersion = 1

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Script is one injectable script.
type Script struct {
	ID      string    `yaml:"id"`                // Stable identifier, used as watcher identity
	Name    string    `yaml:"name"`              // Display name
	Matches []string  `yaml:"matches"`           // URL match patterns
	Source  string    `yaml:"source,omitempty"`  // Inline source
	File    string    `yaml:"file,omitempty"`    // Source file, relative to the manifest
	Enabled bool      `yaml:"enabled"`           // Disabled scripts are listed but never injected
	Updated time.Time `yaml:"updated,omitempty"` // Last change reported by the dev server
}

// Manifest is the on-disk devbridge.yaml.
type Manifest struct {
	Version int      `yaml:"version"`
	Scripts []Script `yaml:"scripts"`
}

// Validate checks a single script.
func (s Script) Validate() error {
	if !idPattern.MatchString(s.ID) {
		return fmt.Errorf("script id %q must be lowercase letters, digits, '.', '_' or '-'", s.ID)
	}
	if len(s.Matches) == 0 {
		return fmt.Errorf("script %s: at least one match pattern is required", s.ID)
	}
	for _, pattern := range s.Matches {
		if _, err := urlmatch.Compile(pattern); err != nil {
			return fmt.Errorf("script %s: %w", s.ID, err)
		}
	}
	if s.Source != "" && s.File != "" {
		return fmt.Errorf("script %s: source and file are mutually exclusive", s.ID)
	}
	return nil
}

// Validate checks every script and that ids are unique.
func (m *Manifest) Validate() error {
	if m.Version > ManifestVersion {
		return fmt.Errorf("manifest version %d is newer than supported version %d", m.Version, ManifestVersion)
	}
	seen := make(map[string]struct{}, len(m.Scripts))
	for i, s := range m.Scripts {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("script %d: %w", i, err)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate script id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

// LoadManifest reads and validates a manifest. Scripts that reference a
// file get their Source filled from it.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := manifest.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	dir := filepath.Dir(path)
	for i, s := range manifest.Scripts {
		if s.File == "" {
			continue
		}
		src, err := os.ReadFile(filepath.Join(dir, s.File))
		if err != nil {
			return nil, fmt.Errorf("script %s: failed to read %s: %w", s.ID, s.File, err)
		}
		manifest.Scripts[i].Source = string(src)
	}

	return &manifest, nil
}

// SaveManifest writes a manifest. Sources loaded from a file are not
// inlined; the file reference is kept.
func SaveManifest(path string, manifest *Manifest) error {
	if manifest.Version > ManifestVersion {
		return fmt.Errorf("manifest version %d is newer than supported version %d", manifest.Version, ManifestVersion)
	}

	out := Manifest{Version: ManifestVersion, Scripts: make([]Script, len(manifest.Scripts))}
	for i, s := range manifest.Scripts {
		if s.File != "" {
			s.Source = ""
		}
		out.Scripts[i] = s
	}

	if err := out.Validate(); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	return nil
}
