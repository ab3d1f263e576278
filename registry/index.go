package registry

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nikomatsakis/cratesio-perf/types"
)

// ConfigFile is the index metadata file naming the download endpoint.
const ConfigFile = "config.json"

// ErrIndexMissing is a setup error: the index directory is absent.
var ErrIndexMissing = errors.New("registry index not found")

// IndexConfig is the parsed config.json of an index.
type IndexConfig struct {
	DL  string `json:"dl"`
	API string `json:"api,omitempty"`
}

// indexRecord is one line of a per-package index file.
type indexRecord struct {
	Name   string `json:"name"`
	Vers   string `json:"vers"`
	Cksum  string `json:"cksum"`
	Yanked bool   `json:"yanked"`
}

// IndexRegistry is a Registry over a local crates.io-style index checkout.
type IndexRegistry struct {
	root       string
	downloader *Downloader

	once   sync.Once
	config IndexConfig
	cfgErr error
}

// NewIndexRegistry opens the index at root. Downloads go through dl.
func NewIndexRegistry(root string, dl *Downloader) (*IndexRegistry, error) {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrIndexMissing, root)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrIndexMissing, root)
	}
	return &IndexRegistry{root: root, downloader: dl}, nil
}

// hidden reports whether an index entry is metadata rather than a package.
func hidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".json")
}

// Names walks the index and returns every package file name in walk order.
// Hidden entries are pruned along with everything beneath them.
func (r *IndexRegistry) Names(ctx context.Context) ([]string, error) {
	var names []string
	err := filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == r.root {
			return nil
		}
		if hidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			names = append(names, d.Name())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk index: %w", err)
	}
	return names, nil
}

// IndexPath returns the index-relative file for a package name.
func IndexPath(name string) string {
	return layout(strings.ToLower(name))
}

func layout(n string) string {
	switch len(n) {
	case 0:
		return ""
	case 1:
		return filepath.Join("1", n)
	case 2:
		return filepath.Join("2", n)
	case 3:
		return filepath.Join("3", n[:1], n)
	default:
		return filepath.Join(n[:2], n[2:4], n)
	}
}

// Query reads the index file for name and returns its non-yanked versions
// in publication order.
func (r *IndexRegistry) Query(ctx context.Context, name string) ([]types.PackageID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(r.root, IndexPath(name)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var ids []types.PackageID
	sc := bufio.NewScanner(f)
	// Records carry full dependency lists and can exceed the default limit.
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec indexRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("parse index record for %s: %w", name, err)
		}
		if rec.Yanked || !strings.EqualFold(rec.Name, name) {
			continue
		}
		ids = append(ids, types.PackageID{Name: rec.Name, Version: rec.Vers, Checksum: rec.Cksum})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read index for %s: %w", name, err)
	}
	return ids, nil
}

// Config loads config.json once.
func (r *IndexRegistry) Config() (IndexConfig, error) {
	r.once.Do(func() {
		data, err := os.ReadFile(filepath.Join(r.root, ConfigFile))
		if err != nil {
			r.cfgErr = fmt.Errorf("read %s: %w", ConfigFile, err)
			return
		}
		if err := json.Unmarshal(data, &r.config); err != nil {
			r.cfgErr = fmt.Errorf("parse %s: %w", ConfigFile, err)
			return
		}
		if r.config.DL == "" {
			r.cfgErr = fmt.Errorf("%s has no dl endpoint", ConfigFile)
		}
	})
	return r.config, r.cfgErr
}

// DownloadURL expands the dl template for id.
func (c IndexConfig) DownloadURL(id types.PackageID) string {
	markers := []string{"{crate}", "{version}", "{prefix}", "{lowerprefix}", "{sha256-checksum}"}
	hasMarker := false
	for _, m := range markers {
		if strings.Contains(c.DL, m) {
			hasMarker = true
			break
		}
	}
	if !hasMarker {
		return strings.TrimSuffix(c.DL, "/") + "/" + id.Name + "/" + id.Version + "/download"
	}

	prefix := filepath.ToSlash(filepath.Dir(layout(id.Name)))
	return strings.NewReplacer(
		"{crate}", id.Name,
		"{version}", id.Version,
		"{prefix}", prefix,
		"{lowerprefix}", strings.ToLower(prefix),
		"{sha256-checksum}", id.Checksum,
	).Replace(c.DL)
}

// Download fetches and extracts id through the configured downloader.
func (r *IndexRegistry) Download(ctx context.Context, id types.PackageID) (*types.ResolvedPackage, error) {
	cfg, err := r.Config()
	if err != nil {
		return nil, err
	}
	return r.downloader.Fetch(ctx, id, cfg.DownloadURL(id))
}

var _ Registry = (*IndexRegistry)(nil)
