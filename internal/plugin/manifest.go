package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"

	"github.com/spf13/afero"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/dshills/pluginstore/internal/settings"
)

// Manifest file names, checked in order.
const (
	ManifestJSON = "manifest.json"
	ManifestYAML = "manifest.yaml"
)

// DefaultVersion is used when a manifest does not name a version.
const DefaultVersion = "1.0.0"

// Manifest describes a packaged plugin.
type Manifest struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description" yaml:"description"`
	Author      string `json:"author" yaml:"author"`

	// Main is the script entry point relative to the plugin directory.
	Main string `json:"main" yaml:"main"`

	// Settings are the plugin's default settings.
	Settings settings.Map `json:"settings" yaml:"settings"`

	// Capabilities lists the host functions a script may call. Nil means
	// all of them.
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`

	// Internal: path to the plugin directory
	dir string
}

// Validation errors.
var (
	ErrInvalidID      = errors.New("manifest: id must be lowercase alphanumeric with _ or -")
	ErrInvalidVersion = errors.New("manifest: version must be valid semver")
	ErrInvalidMain    = errors.New("manifest: main must be a path inside the plugin directory")
)

// idPattern validates plugin ids.
var idPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// semverPattern validates version strings (simplified semver).
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// ReadManifest loads and validates the manifest in dir. Comments and
// trailing commas are accepted in manifest.json. A directory with neither
// file yields ErrNoManifest.
func ReadManifest(fsys afero.Fs, dir string) (*Manifest, error) {
	m, err := DecodeManifest(fsys, dir)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// DecodeManifest loads the manifest in dir and fills in defaults without
// validating it. Packaging uses it so that any id and version the store
// index can carry are accepted.
func DecodeManifest(fsys afero.Fs, dir string) (*Manifest, error) {
	var m Manifest

	data, err := afero.ReadFile(fsys, path.Join(dir, ManifestJSON))
	switch {
	case err == nil:
		if err := json.Unmarshal(jsonc.ToJSON(data), &m); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", ManifestJSON, err)
		}
	case errors.Is(err, os.ErrNotExist):
		data, err = afero.ReadFile(fsys, path.Join(dir, ManifestYAML))
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", dir, ErrNoManifest)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest: %w", err)
		}
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", ManifestYAML, err)
		}
	default:
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	m.dir = dir
	if m.ID == "" {
		m.ID = path.Base(dir)
	}
	m.applyDefaults()
	return &m, nil
}

// applyDefaults sets default values for optional fields.
func (m *Manifest) applyDefaults() {
	if m.Version == "" {
		m.Version = DefaultVersion
	}
	if m.Name == "" {
		m.Name = m.ID
	}
	if m.Main == "" {
		m.Main = "init.lua"
	}
	if m.Settings == nil {
		m.Settings = settings.Map{}
	}
}

// Validate checks that the manifest is valid.
func (m *Manifest) Validate() error {
	if !idPattern.MatchString(m.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, m.ID)
	}
	if !semverPattern.MatchString(m.Version) {
		return fmt.Errorf("%w: %q", ErrInvalidVersion, m.Version)
	}
	if !filepath.IsLocal(filepath.FromSlash(m.Main)) {
		return fmt.Errorf("%w: %q", ErrInvalidMain, m.Main)
	}
	return nil
}

// Dir returns the plugin directory.
func (m *Manifest) Dir() string { return m.dir }

// MainPath returns the path to the entry point.
func (m *Manifest) MainPath() string { return path.Join(m.dir, m.Main) }

// Info returns the identity described by the manifest.
func (m *Manifest) Info() Info {
	return Info{
		ID:          m.ID,
		Name:        m.Name,
		Version:     m.Version,
		Description: m.Description,
		Author:      m.Author,
	}
}

// String returns a string representation of the manifest.
func (m *Manifest) String() string {
	return fmt.Sprintf("%s v%s", m.Name, m.Version)
}
