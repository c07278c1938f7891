package plugin

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Loader discovers script plugins on a filesystem.
type Loader struct {
	fs afero.Fs

	// Search paths for plugins (checked in order)
	paths []string
}

// Discovered describes one plugin found by the Loader.
type Discovered struct {
	ID       string
	Dir      string
	Manifest *Manifest
	Err      error
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithPaths sets the plugin search paths.
func WithPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.paths = paths
	}
}

// WithFs sets the filesystem to search. The default is the OS filesystem.
func WithFs(fs afero.Fs) LoaderOption {
	return func(l *Loader) {
		l.fs = fs
	}
}

// NewLoader creates a new plugin loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Paths returns the configured search paths.
func (l *Loader) Paths() []string {
	return l.paths
}

// Discover finds every plugin in the search paths, sorted by id. A plugin
// directory is one holding a manifest; a bare name.lua file is a plugin
// with a minimal manifest. When two paths provide the same id the first
// wins. Broken plugins are returned with Err set.
func (l *Loader) Discover() ([]*Discovered, error) {
	found := make(map[string]*Discovered)
	var errs []error

	for _, base := range l.paths {
		if err := l.discoverInPath(base, found); err != nil {
			errs = append(errs, err)
		}
	}

	plugins := make([]*Discovered, 0, len(found))
	for _, d := range found {
		plugins = append(plugins, d)
	}
	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].ID < plugins[j].ID
	})
	return plugins, errors.Join(errs...)
}

// discoverInPath finds plugins in a single directory.
func (l *Loader) discoverInPath(base string, found map[string]*Discovered) error {
	entries, err := afero.ReadDir(l.fs, base)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil // Not an error if path doesn't exist
		}
		return fmt.Errorf("scanning %s: %w", base, err)
	}

	for _, entry := range entries {
		var d *Discovered
		if entry.IsDir() {
			d = l.inspect(path.Join(base, entry.Name()))
		} else if strings.HasSuffix(entry.Name(), ".lua") {
			id := strings.TrimSuffix(entry.Name(), ".lua")
			m := &Manifest{ID: id, Main: entry.Name(), dir: base}
			m.applyDefaults()
			d = &Discovered{ID: id, Dir: base, Manifest: m, Err: m.Validate()}
		} else {
			continue
		}

		if d == nil {
			continue
		}
		if _, exists := found[d.ID]; !exists {
			found[d.ID] = d
		}
	}
	return nil
}

// inspect examines a plugin directory. Directories without a manifest are
// skipped.
func (l *Loader) inspect(dir string) *Discovered {
	m, err := ReadManifest(l.fs, dir)
	if errors.Is(err, ErrNoManifest) {
		return nil
	}
	if err != nil {
		return &Discovered{ID: path.Base(dir), Dir: dir, Err: fmt.Errorf("invalid manifest: %w", err)}
	}

	d := &Discovered{ID: m.ID, Dir: dir, Manifest: m}
	if ok, _ := afero.Exists(l.fs, m.MainPath()); !ok {
		d.Err = fmt.Errorf("%s: %w", m.Main, ErrNoEntryPoint)
	}
	return d
}
