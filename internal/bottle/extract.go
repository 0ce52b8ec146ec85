package bottle

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/ulikunitz/xz"
)

// ErrExtract wraps every unpacking failure.
var ErrExtract = errors.New("extraction failed")

var (
	gzipMagic = []byte{0x1f, 0x8b}
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

// Extractor unpacks bottle archives into the Cellar.
type Extractor struct {
	cellar string
	log    zerolog.Logger
}

// NewExtractor returns an Extractor writing under cellarPath.
func NewExtractor(cellarPath string, logger zerolog.Logger) *Extractor {
	return &Extractor{cellar: cellarPath, log: logger}
}

// Extract unpacks archive, whose entries all live under "<name>/<version>/",
// and returns <Cellar>/<name>/<version>. The version is taken from the
// archive itself; want is only used for logging a mismatch. The archive is
// unpacked into a hidden staging directory first, so a failure never
// leaves a partial version directory behind.
func (e *Extractor) Extract(archive, name, want string) (string, error) {
	if err := os.MkdirAll(e.cellar, 0755); err != nil {
		return "", fmt.Errorf("%w: creating cellar: %v", ErrExtract, err)
	}
	staging, err := os.MkdirTemp(e.cellar, ".keg-extract-")
	if err != nil {
		return "", fmt.Errorf("%w: creating staging directory: %v", ErrExtract, err)
	}
	defer os.RemoveAll(staging)

	ver, err := e.unpack(archive, name, staging)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrExtract, filepath.Base(archive), err)
	}
	if want != "" && ver != want {
		e.log.Debug().Str("formula", name).Str("expected", want).Str("actual", ver).Msg("Bottle version differs from metadata")
	}

	dest := filepath.Join(e.cellar, name, ver)
	if _, err := os.Lstat(dest); err == nil {
		return "", fmt.Errorf("%w: %s already exists", ErrExtract, dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtract, err)
	}
	if err := os.Rename(filepath.Join(staging, name, ver), dest); err != nil {
		return "", fmt.Errorf("%w: moving into cellar: %v", ErrExtract, err)
	}

	e.log.Debug().Str("formula", name).Str("version", ver).Str("path", dest).Msg("Extracted bottle")
	return dest, nil
}

func (e *Extractor) unpack(archive, name, root string) (string, error) {
	f, err := os.Open(archive)
	if err != nil {
		return "", err
	}
	defer f.Close()

	r, err := decompress(f)
	if err != nil {
		return "", err
	}

	tr := tar.NewReader(r)
	ver := ""
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("reading tar entry: %w", err)
		}

		rel, entryVer, err := entryPath(hdr.Name, name)
		if err != nil {
			return "", err
		}
		if entryVer == "" {
			continue // the "<name>/" directory itself
		}
		if ver == "" {
			ver = entryVer
		} else if entryVer != ver {
			return "", fmt.Errorf("archive contains more than one version (%s, %s)", ver, entryVer)
		}

		target := filepath.Join(root, rel)
		if err := writeEntry(tr, hdr, root, target); err != nil {
			return "", err
		}
	}

	if ver == "" {
		return "", fmt.Errorf("archive has no %s/<version>/ entries", name)
	}
	return ver, nil
}

// entryPath validates an archive path and returns it cleaned along with its
// version segment.
func entryPath(raw, name string) (string, string, error) {
	clean := filepath.Clean(strings.TrimPrefix(raw, "./"))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("unsafe path %q", raw)
	}
	parts := strings.Split(filepath.ToSlash(clean), "/")
	if parts[0] != name {
		return "", "", fmt.Errorf("entry %q is outside %s/", raw, name)
	}
	if len(parts) == 1 {
		return clean, "", nil
	}
	return clean, parts[1], nil
}

func writeEntry(tr *tar.Reader, hdr *tar.Header, root, target string) error {
	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", target, err)
		}

	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("creating parent directory: %w", err)
		}
		if err := os.Symlink(hdr.Linkname, target); err != nil && !os.IsExist(err) {
			return fmt.Errorf("creating symlink %s -> %s: %w", target, hdr.Linkname, err)
		}

	case tar.TypeLink:
		src := filepath.Join(root, filepath.Clean(hdr.Linkname))
		if !strings.HasPrefix(src, root+string(filepath.Separator)) {
			return fmt.Errorf("unsafe hard link %q", hdr.Linkname)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("creating parent directory: %w", err)
		}
		if err := os.Link(src, target); err != nil {
			return fmt.Errorf("creating hard link %s: %w", target, err)
		}

	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("creating parent directory: %w", err)
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode).Perm()|0200)
		if err != nil {
			return fmt.Errorf("creating file %s: %w", target, err)
		}
		written, err := io.Copy(out, tr)
		out.Close()
		if err != nil {
			return fmt.Errorf("writing file %s: %w", target, err)
		}
		if written != hdr.Size {
			return fmt.Errorf("file size mismatch for %s: expected %d, got %d", target, hdr.Size, written)
		}
		if err := os.Chmod(target, os.FileMode(hdr.Mode).Perm()); err != nil {
			return fmt.Errorf("setting mode on %s: %w", target, err)
		}
	}
	return nil
}

func decompress(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(xzMagic))
	if err != nil && len(head) < len(gzipMagic) {
		return nil, fmt.Errorf("reading archive header: %w", err)
	}

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return gz, nil
	case bytes.HasPrefix(head, xzMagic):
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		return xr, nil
	default:
		return nil, fmt.Errorf("unrecognised archive format")
	}
}
