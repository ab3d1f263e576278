package registry

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/nikomatsakis/cratesio-perf/iox"
	"github.com/nikomatsakis/cratesio-perf/types"
)

const (
	// DefaultDownloadTimeout bounds one archive fetch.
	DefaultDownloadTimeout = 5 * time.Minute
	// completeMarker is written last inside an extracted package.
	completeMarker = ".cratesio-perf-ok"
	// ManifestFile is the package manifest inside the extracted root.
	ManifestFile = "Cargo.toml"
)

var (
	// ErrChecksum is returned when a fetched archive does not match the
	// index checksum.
	ErrChecksum = errors.New("checksum mismatch")
	// ErrUnsafeArchive is returned for archive entries that escape the
	// extraction root.
	ErrUnsafeArchive = errors.New("archive entry escapes destination")
)

// StatusError is returned for non-2xx download responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}

// Downloader fetches package archives and extracts them into a cache.
type Downloader struct {
	cacheDir string
	client   *http.Client
}

// NewDownloader creates a downloader extracting into cacheDir.
// A nil client gets DefaultDownloadTimeout.
func NewDownloader(cacheDir string, client *http.Client) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: DefaultDownloadTimeout}
	}
	return &Downloader{cacheDir: cacheDir, client: client}
}

// SourceDir returns the extraction directory for id.
func (d *Downloader) SourceDir(id types.PackageID) string {
	return filepath.Join(d.cacheDir, id.Name+"-"+id.Version)
}

func resolved(id types.PackageID, dir string) *types.ResolvedPackage {
	return &types.ResolvedPackage{
		ID:           id,
		DisplayName:  id.String(),
		ManifestPath: filepath.Join(dir, ManifestFile),
		SourceDir:    dir,
	}
}

// Fetch materializes id from url. An already-extracted package is returned
// without touching the network.
func (d *Downloader) Fetch(ctx context.Context, id types.PackageID, url string) (*types.ResolvedPackage, error) {
	dest := d.SourceDir(id)
	if present(dest) {
		return resolved(id, dest), nil
	}
	if err := os.MkdirAll(d.cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	archive, err := d.fetchArchive(ctx, id, url)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = archive.Close()
		_ = os.Remove(archive.Name())
	}()

	staging, err := os.MkdirTemp(d.cacheDir, ".extract-*")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	if err := extract(archive, staging); err != nil {
		return nil, fmt.Errorf("extract %s: %w", id, err)
	}

	// Archives carry a single top-level "<name>-<version>/" directory.
	root := filepath.Join(staging, id.Name+"-"+id.Version)
	if _, err := os.Stat(root); err != nil {
		root = staging
	}
	if err := os.WriteFile(filepath.Join(root, completeMarker), nil, 0o644); err != nil {
		return nil, err
	}

	if err := os.RemoveAll(dest); err != nil {
		return nil, err
	}
	if err := os.Rename(root, dest); err != nil {
		// Another worker may have finished the same package first.
		if present(dest) {
			return resolved(id, dest), nil
		}
		return nil, fmt.Errorf("install %s: %w", id, err)
	}
	return resolved(id, dest), nil
}

func present(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, completeMarker))
	return err == nil
}

// fetchArchive downloads url into a temp file, verifying the checksum when
// id carries one. The returned file is positioned at its start.
func (d *Downloader) fetchArchive(ctx context.Context, id types.PackageID, url string) (*os.File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer iox.DrainClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}

	tmp, err := os.CreateTemp(d.cacheDir, ".download-*.crate")
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*os.File, error) {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, err
	}

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), resp.Body); err != nil {
		return fail(fmt.Errorf("read body: %w", err))
	}
	if id.Checksum != "" {
		if got := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(got, id.Checksum) {
			return fail(fmt.Errorf("%w: %s: want %s, got %s", ErrChecksum, id, id.Checksum, got))
		}
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fail(err)
	}
	return tmp, nil
}

// extract unpacks a gzip'd tarball into dest.
func extract(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer iox.DiscardClose(gz)

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(tr, target, hdr.FileInfo().Mode().Perm()|0o600); err != nil {
				return err
			}
		default:
			// Links and device nodes are not part of package sources.
		}
	}
}

func writeEntry(r io.Reader, target string, perm os.FileMode) (err error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	defer iox.CloseInto(&err, f)
	_, err = io.Copy(f, r)
	return err
}

func safeJoin(dest, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", ErrUnsafeArchive, name)
	}
	target := filepath.Join(dest, name)
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafeArchive, name)
	}
	return target, nil
}
