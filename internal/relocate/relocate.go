// Package relocate rewrites the build-time placeholders baked into bottle
// contents so they point at the real prefix and Cellar.
package relocate

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

const (
	PrefixPlaceholder = "@@HOMEBREW_PREFIX@@"
	CellarPlaceholder = "@@HOMEBREW_CELLAR@@"
)

// Mach-O magic numbers as read big-endian from the first four bytes.
var machOMagics = map[uint32]bool{
	0xfeedface: true,
	0xcefaedfe: true,
	0xfeedfacf: true,
	0xcffaedfe: true,
}

// Binary is the set of relocatable references found in one Mach-O file.
type Binary struct {
	// ID is the dylib install name, empty for executables.
	ID     string
	Dylibs []string
	Rpaths []string
}

// Patcher inspects and rewrites load commands of Mach-O files.
type Patcher interface {
	Inspect(path string) (*Binary, error)
	ChangeID(path, id string) error
	ChangeReference(path, old, new string) error
	ChangeRpath(path, old, new string) error
	// Sign is called once after a file has been modified.
	Sign(path string) error
}

// Options configures a Relocator.
type Options struct {
	Patcher Patcher
	Logger  zerolog.Logger
}

// Relocator rewrites placeholders under a version directory.
type Relocator struct {
	prefix   string
	cellar   string
	patcher  Patcher
	log      zerolog.Logger
	replacer *strings.Replacer
}

// Report summarises one Relocate call.
type Report struct {
	Scanned   int
	Binaries  int
	Rewritten int
	Warnings  []string
}

// New returns a Relocator for the given prefix and Cellar path. A nil
// Patcher defaults to MachOPatcher.
func New(prefix, cellarPath string, opts Options) *Relocator {
	if opts.Patcher == nil {
		opts.Patcher = NewMachOPatcher(opts.Logger)
	}
	return &Relocator{
		prefix:   prefix,
		cellar:   cellarPath,
		patcher:  opts.Patcher,
		log:      opts.Logger,
		replacer: strings.NewReplacer(PrefixPlaceholder, prefix, CellarPlaceholder, cellarPath),
	}
}

// Relocate walks dir without following symlinks and rewrites every
// placeholder reference it finds. Failures on individual files or
// references are recorded as warnings; only a failure to walk dir itself is
// returned as an error.
func (r *Relocator) Relocate(dir string) (*Report, error) {
	report := &Report{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			r.warn(report, path, err)
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		report.Scanned++

		isBin, err := IsMachO(path)
		if err != nil {
			r.warn(report, path, err)
			return nil
		}
		if isBin {
			report.Binaries++
			if r.relocateBinary(path, report) {
				report.Rewritten++
			}
			return nil
		}
		changed, err := r.relocateText(path)
		if err != nil {
			r.warn(report, path, err)
			return nil
		}
		if changed {
			report.Rewritten++
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	return report, nil
}

func (r *Relocator) relocateBinary(path string, report *Report) bool {
	bin, err := r.patcher.Inspect(path)
	if err != nil {
		r.warn(report, path, fmt.Errorf("inspect: %w", err))
		return false
	}

	restore, err := ensureWritable(path)
	if err != nil {
		r.warn(report, path, err)
		return false
	}
	defer restore()

	changed := false
	if bin.ID != "" && hasPlaceholder(bin.ID) {
		if err := r.patcher.ChangeID(path, r.replacer.Replace(bin.ID)); err != nil {
			r.warn(report, path, fmt.Errorf("change id %s: %w", bin.ID, err))
		} else {
			changed = true
		}
	}
	for _, ref := range bin.Dylibs {
		if !hasPlaceholder(ref) {
			continue
		}
		if err := r.patcher.ChangeReference(path, ref, r.replacer.Replace(ref)); err != nil {
			r.warn(report, path, fmt.Errorf("change %s: %w", ref, err))
			continue
		}
		changed = true
	}
	for _, rp := range bin.Rpaths {
		if !hasPlaceholder(rp) {
			continue
		}
		if err := r.patcher.ChangeRpath(path, rp, r.replacer.Replace(rp)); err != nil {
			r.warn(report, path, fmt.Errorf("change rpath %s: %w", rp, err))
			continue
		}
		changed = true
	}

	if changed {
		if err := r.patcher.Sign(path); err != nil {
			r.warn(report, path, fmt.Errorf("sign: %w", err))
		}
		r.log.Debug().Str("path", path).Msg("Relocated binary")
	}
	return changed
}

// relocateText rewrites placeholders in files that contain no NUL bytes.
func (r *Relocator) relocateText(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	if bytes.IndexByte(data, 0) >= 0 || !hasPlaceholder(string(data)) {
		return false, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	restore, err := ensureWritable(path)
	if err != nil {
		return false, err
	}
	defer restore()

	out := r.replacer.Replace(string(data))
	if err := os.WriteFile(path, []byte(out), info.Mode().Perm()); err != nil {
		return false, fmt.Errorf("failed to rewrite %s: %w", path, err)
	}
	r.log.Debug().Str("path", path).Msg("Relocated text file")
	return true, nil
}

func (r *Relocator) warn(report *Report, path string, err error) {
	report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %v", path, err))
	r.log.Warn().Err(err).Str("path", path).Msg("Relocation failed")
}

// IsMachO reports whether path starts with a thin Mach-O magic number.
func IsMachO(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return false, nil
		}
		return false, err
	}
	return machOMagics[binary.BigEndian.Uint32(magic[:])], nil
}

func hasPlaceholder(s string) bool {
	return strings.Contains(s, PrefixPlaceholder) || strings.Contains(s, CellarPlaceholder)
}

// ensureWritable adds owner write permission to path and returns a func that
// restores the original mode.
func ensureWritable(path string) (func(), error) {
	info, err := os.Stat(path)
	if err != nil {
		return func() {}, err
	}
	mode := info.Mode().Perm()
	if mode&0200 != 0 {
		return func() {}, nil
	}
	if err := os.Chmod(path, mode|0200); err != nil {
		return func() {}, fmt.Errorf("failed to make %s writable: %w", path, err)
	}
	return func() { _ = os.Chmod(path, mode) }, nil
}
