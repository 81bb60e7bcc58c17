// Package manifest handles bobbin.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ManifestName is the file name looked up in a project directory.
const ManifestName = "bobbin.toml"

// Manifest represents a bobbin.toml project configuration.
type Manifest struct {
	Project Project `toml:"project"`
	Scripts Scripts `toml:"scripts"`
	Storage Storage `toml:"storage"`

	// Dir is the directory containing the bobbin.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Scripts configures script file locations.
type Scripts struct {
	Dirs    []string `toml:"dirs"`
	Entry   string   `toml:"entry"`
	Prelude string   `toml:"prelude"`
}

// Storage configures where save variables persist.
type Storage struct {
	Database string `toml:"database"`
	Profile  string `toml:"profile"`
}

// Load parses a bobbin.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if len(m.Scripts.Dirs) == 0 {
		m.Scripts.Dirs = []string{"scripts"}
	}
	if m.Storage.Profile == "" {
		m.Storage.Profile = "default"
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a bobbin.toml file, then
// loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, ManifestName)); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// PreludePath resolves the prelude path relative to the manifest dir.
// Empty when the project declares none.
func (m *Manifest) PreludePath() string {
	if m.Scripts.Prelude == "" {
		return ""
	}
	return filepath.Join(m.Dir, m.Scripts.Prelude)
}

// EntryPath resolves the entry script path relative to the manifest dir.
func (m *Manifest) EntryPath() string {
	if m.Scripts.Entry == "" {
		return ""
	}
	return filepath.Join(m.Dir, m.Scripts.Entry)
}

// DatabasePath resolves the save database path relative to the manifest
// dir. Empty selects in-memory storage.
func (m *Manifest) DatabasePath() string {
	if m.Storage.Database == "" {
		return ""
	}
	return filepath.Join(m.Dir, m.Storage.Database)
}
