// Package bottle downloads and unpacks prebuilt formula archives.
package bottle

import (
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

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/keg/internal/formula"
)

var (
	// ErrNoBottle means the formula has no bottle for this platform.
	ErrNoBottle = errors.New("no bottle available")
	// ErrChecksum means the downloaded archive did not match its digest.
	ErrChecksum = errors.New("checksum mismatch")
)

// ProgressFunc is called as bytes arrive. total is -1 when unknown.
type ProgressFunc func(name string, written, total int64)

// Downloader fetches bottles into a local cache directory.
type Downloader struct {
	client   *http.Client
	cacheDir string
	platform string
	log      zerolog.Logger

	// Progress, when set, receives download progress.
	Progress ProgressFunc
}

// NewDownloader returns a Downloader for the given platform tag.
func NewDownloader(client *http.Client, cacheDir, platform string, logger zerolog.Logger) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{client: client, cacheDir: cacheDir, platform: platform, log: logger}
}

// Platform returns the bottle tag this downloader selects.
func (d *Downloader) Platform() string { return d.platform }

// CachePath is where the archive for f and tag is stored.
func (d *Downloader) CachePath(f *formula.Formula, tag string) string {
	return filepath.Join(d.cacheDir, fmt.Sprintf("%s--%s.%s.bottle.tar.gz", f.Name, f.PkgVersion(), tag))
}

// Download returns the path of a verified archive for f, reusing the cache
// when the cached file's digest still matches.
func (d *Downloader) Download(ctx context.Context, f *formula.Formula) (string, error) {
	file, tag, ok := f.BottleFor(d.platform)
	if !ok {
		return "", fmt.Errorf("%s for %s: %w", f.Name, d.platform, ErrNoBottle)
	}

	dest := d.CachePath(f, tag)
	if err := verifyFileHash(dest, file.SHA256); err == nil {
		d.log.Debug().Str("formula", f.Name).Str("path", dest).Msg("Using cached bottle")
		return dest, nil
	}

	if err := os.MkdirAll(d.cacheDir, 0755); err != nil {
		return "", fmt.Errorf("creating cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(d.cacheDir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("creating download file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	d.log.Info().Str("formula", f.Name).Str("tag", tag).Str("url", file.URL).Msg("Downloading bottle")

	written, err := d.fetch(ctx, f.Name, file.URL, tmp)
	closeErr := tmp.Close()
	if err != nil {
		return "", err
	}
	if closeErr != nil {
		return "", fmt.Errorf("writing %s: %w", tmpName, closeErr)
	}

	if err := verifyFileHash(tmpName, file.SHA256); err != nil {
		return "", fmt.Errorf("%s: %w", f.Name, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return "", fmt.Errorf("storing bottle: %w", err)
	}

	d.log.Debug().Str("formula", f.Name).Int64("bytes", written).Str("path", dest).Msg("Downloaded bottle")
	return dest, nil
}

func (d *Downloader) fetch(ctx context.Context, name, url string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "keg/"+formula.UserAgentVersion)
	// GHCR serves public blobs to an anonymous bearer token. Redirect
	// targets are signed URLs and must not carry it; net/http drops the
	// header on cross-host redirects.
	if strings.Contains(url, "ghcr.io") {
		req.Header.Set("Authorization", "Bearer QQ==")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: downloading %s: %v", formula.ErrNetwork, name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: downloading %s: unexpected status %d", formula.ErrNetwork, name, resp.StatusCode)
	}

	var src io.Reader = resp.Body
	if d.Progress != nil {
		src = &progressReader{r: resp.Body, name: name, total: resp.ContentLength, fn: d.Progress}
	}

	written, err := io.Copy(w, src)
	if err != nil {
		return written, fmt.Errorf("%w: downloading %s: %v", formula.ErrNetwork, name, err)
	}
	return written, nil
}

// verifyFileHash checks the SHA-256 of the file at path.
func verifyFileHash(path, expected string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("computing hash: %w", err)
	}
	actual := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksum, expected, actual)
	}
	return nil
}

type progressReader struct {
	r       io.Reader
	name    string
	total   int64
	written int64
	fn      ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.written += int64(n)
	p.fn(p.name, p.written, p.total)
	return n, err
}

// CachedBottle is one archive found in the download cache.
type CachedBottle struct {
	Path    string
	Name    string
	Version string
	Size    int64
}

// ListCache returns the archives currently in the cache directory.
func (d *Downloader) ListCache() ([]CachedBottle, error) {
	entries, err := os.ReadDir(d.cacheDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache: %w", err)
	}

	var out []CachedBottle
	for _, e := range entries {
		name, ver, ok := parseCacheName(e.Name())
		if !ok || !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, CachedBottle{
			Path:    filepath.Join(d.cacheDir, e.Name()),
			Name:    name,
			Version: ver,
			Size:    info.Size(),
		})
	}
	return out, nil
}

// parseCacheName splits "<name>--<version>.<tag>.bottle.tar.gz".
func parseCacheName(file string) (name, ver string, ok bool) {
	base, found := strings.CutSuffix(file, ".bottle.tar.gz")
	if !found {
		return "", "", false
	}
	dot := strings.LastIndex(base, ".")
	if dot < 0 {
		return "", "", false
	}
	base = base[:dot]
	sep := strings.LastIndex(base, "--")
	if sep <= 0 || sep+2 >= len(base) {
		return "", "", false
	}
	return base[:sep], base[sep+2:], true
}
