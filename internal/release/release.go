// Package release packages plugin directories into versioned zip archives
// and updates the store index that points at them.
package release

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"

	"github.com/dshills/pluginstore/internal/logging"
	"github.com/dshills/pluginstore/internal/plugin"
)

// Checksum selects the digest recorded for an archive.
type Checksum string

// Supported checksums. The digest is written as "<algorithm>:<hex>".
const (
	ChecksumSHA256 Checksum = "sha256"
	ChecksumBLAKE3 Checksum = "blake3"
)

// ParseChecksum parses a checksum name.
func ParseChecksum(s string) (Checksum, error) {
	switch c := Checksum(strings.ToLower(s)); c {
	case ChecksumSHA256, ChecksumBLAKE3:
		return c, nil
	}
	return "", fmt.Errorf("unknown checksum %q", s)
}

func (c Checksum) hasher() hash.Hash {
	if c == ChecksumBLAKE3 {
		return blake3.New()
	}
	return sha256.New()
}

// Release describes one built archive.
type Release struct {
	ID       string `json:"plugin_id"`
	Version  string `json:"version"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// Filename returns the archive name for a plugin version.
func Filename(id, version string) string {
	return fmt.Sprintf("%s_v%s.zip", id, version)
}

// Packager builds release archives on a filesystem.
type Packager struct {
	fs       afero.Fs
	checksum Checksum
	log      *logging.Logger
}

// Option configures a Packager.
type Option func(*Packager)

// WithChecksum selects the archive digest.
func WithChecksum(c Checksum) Option {
	return func(p *Packager) { p.checksum = c }
}

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(p *Packager) { p.log = log }
}

// NewPackager creates a packager over fsys.
func NewPackager(fsys afero.Fs, opts ...Option) *Packager {
	p := &Packager{fs: fsys, checksum: ChecksumSHA256, log: logging.Null()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ErrUnsafeName is returned when a manifest id or version would put the
// archive outside the output directory.
var ErrUnsafeName = errors.New("archive name leaves the output directory")

// Package zips every file under dir into outDir. The plugin id and version
// come from the manifest in dir; the id falls back to the directory name.
// Ids and versions are not held to the rules the host applies when loading
// scripts, only to producing a plain file name.
func (p *Packager) Package(dir, outDir string) (*Release, error) {
	m, err := plugin.DecodeManifest(p.fs, dir)
	if err != nil {
		return nil, err
	}
	id := m.ID
	if name := Filename(id, m.Version); strings.ContainsAny(name, `/\`) || !filepath.IsLocal(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}

	if err := p.fs.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	rel := &Release{ID: id, Version: m.Version, Filename: Filename(id, m.Version)}
	target := path.Join(outDir, rel.Filename)

	if err := p.writeArchive(dir, target); err != nil {
		_ = p.fs.Remove(target)
		return nil, fmt.Errorf("packaging %s: %w", id, err)
	}

	f, err := p.fs.Open(target)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h := p.checksum.hasher()
	n, err := io.Copy(h, f)
	if err != nil {
		return nil, err
	}
	rel.Size = n
	rel.Checksum = string(p.checksum) + ":" + hex.EncodeToString(h.Sum(nil))

	p.log.Info("packaged %s (%d bytes, %s)", rel.Filename, rel.Size, rel.Checksum)
	return rel, nil
}

func (p *Packager) writeArchive(dir, target string) error {
	out, err := p.fs.Create(target)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(out)

	walkErr := afero.Walk(p.fs, dir, func(name string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, name)
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		hdr.Method = zip.Deflate
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		src, err := p.fs.Open(name)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})

	return errors.Join(walkErr, zw.Close(), out.Close())
}

// BuildAll packages each plugin directory directly under pluginsDir.
// Directories that fail are logged and skipped; their errors are joined
// into the returned error alongside the successful releases.
func (p *Packager) BuildAll(pluginsDir, outDir string) ([]*Release, error) {
	entries, err := afero.ReadDir(p.fs, pluginsDir)
	if err != nil {
		return nil, err
	}

	var releases []*Release
	var errs []error
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		rel, err := p.Package(path.Join(pluginsDir, e.Name()), outDir)
		if err != nil {
			p.log.Warn("skipping %s: %v", e.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		releases = append(releases, rel)
	}
	return releases, errors.Join(errs...)
}

// DownloadURL returns where a release is published under base.
func DownloadURL(base string, rel *Release) string {
	return fmt.Sprintf("%s/v%s/%s", strings.TrimRight(base, "/"), rel.Version, rel.Filename)
}

// UpdateIndex rewrites the store index at indexPath, setting download_url,
// size, checksum and version on every listed plugin with a release. Other
// fields are kept. The index may contain comments. It returns the ids of
// the updated entries.
func UpdateIndex(fsys afero.Fs, indexPath string, releases []*Release, base string) ([]string, error) {
	data, err := afero.ReadFile(fsys, indexPath)
	if err != nil {
		return nil, err
	}

	var index map[string]any
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.UseNumber()
	if err := dec.Decode(&index); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", indexPath, err)
	}

	byID := make(map[string]*Release, len(releases))
	for _, r := range releases {
		byID[r.ID] = r
	}

	var updated []string
	list, _ := index["plugins"].([]any)
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := entry["id"].(string)
		rel, ok := byID[id]
		if !ok {
			continue
		}
		entry["download_url"] = DownloadURL(base, rel)
		entry["size"] = rel.Size
		entry["checksum"] = rel.Checksum
		entry["version"] = rel.Version
		updated = append(updated, id)
	}
	sort.Strings(updated)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(index); err != nil {
		return nil, err
	}
	if err := afero.WriteFile(fsys, indexPath, buf.Bytes(), 0o644); err != nil {
		return nil, err
	}
	return updated, nil
}
