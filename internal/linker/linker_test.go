package linker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/keg/internal/cellar/cellartest"
)

func newLinker(t *testing.T, skip ...string) (*Linker, string) {
	t.Helper()
	prefix := t.TempDir()
	return New(prefix, filepath.Join(prefix, "Cellar"), Options{Skip: skip, Logger: zerolog.Nop()}), prefix
}

func assertLinksInto(t *testing.T, link, versionDir string) {
	t.Helper()
	info, err := os.Lstat(link)
	require.NoError(t, err, link)
	require.NotZero(t, info.Mode()&os.ModeSymlink, "%s is not a symlink", link)

	dest := resolve(link)
	rel, err := filepath.Rel(versionDir, dest)
	require.NoError(t, err)
	assert.NotContains(t, rel, "..", "%s resolves to %s, outside %s", link, dest, versionDir)

	_, err = os.Stat(link)
	assert.NoError(t, err, "link must not dangle")
}

func TestLinkFormula(t *testing.T) {
	l, prefix := newLinker(t)
	dir := cellartest.Make(t, prefix, cellartest.Keg{Name: "jq", Version: "1.7.1", Files: map[string]string{
		"bin/jq":                    "bin",
		"share/man/man1/jq.1":       "man",
		"include/jq.h":              "h",
		"share/info/dir":            "skip me",
		"lib/perl5/x/perllocal.pod": "skip me",
		"README.md":                 "not linked",
	}})

	linked, err := l.LinkFormula("jq", "1.7.1", LinkOptions{})
	require.NoError(t, err)
	assert.Len(t, linked, 3)

	assertLinksInto(t, filepath.Join(prefix, "bin", "jq"), dir)
	assertLinksInto(t, filepath.Join(prefix, "share", "man", "man1", "jq.1"), dir)
	assertLinksInto(t, filepath.Join(prefix, "include", "jq.h"), dir)
	assert.NoFileExists(t, filepath.Join(prefix, "share", "info", "dir"))
	assert.NoFileExists(t, filepath.Join(prefix, "lib", "perl5", "x", "perllocal.pod"))
	assert.NoFileExists(t, filepath.Join(prefix, "README.md"))

	target, err := os.Readlink(filepath.Join(prefix, "bin", "jq"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("..", "Cellar", "jq", "1.7.1", "bin", "jq"), target, "links are relative")

	v, ok := l.LinkedKeg("jq")
	assert.True(t, ok)
	assert.Equal(t, "1.7.1", v)
	v, ok = l.OptVersion("jq")
	assert.True(t, ok)
	assert.Equal(t, "1.7.1", v)
}

func TestLinkFormula_RelinkSupersedesOldVersion(t *testing.T) {
	l, prefix := newLinker(t)
	v1 := cellartest.Make(t, prefix, cellartest.Keg{Name: "tool", Version: "1.0", Files: map[string]string{
		"bin/tool":     "v1",
		"bin/tool-old": "only in v1",
	}})
	v2 := cellartest.Make(t, prefix, cellartest.Keg{Name: "tool", Version: "2.0", Files: map[string]string{
		"bin/tool":     "v2",
		"bin/tool-new": "only in v2",
	}})

	_, err := l.LinkFormula("tool", "1.0", LinkOptions{})
	require.NoError(t, err)
	_, err = l.LinkFormula("tool", "2.0", LinkOptions{})
	require.NoError(t, err)

	assertLinksInto(t, filepath.Join(prefix, "bin", "tool"), v2)
	assertLinksInto(t, filepath.Join(prefix, "bin", "tool-new"), v2)
	_, err = os.Lstat(filepath.Join(prefix, "bin", "tool-old"))
	assert.True(t, os.IsNotExist(err), "no link into the old version may remain")

	// Nothing anywhere under the prefix points into v1.
	err = filepath.Walk(prefix, func(path string, info os.FileInfo, err error) error {
		require.NoError(t, err)
		if info.Mode()&os.ModeSymlink != 0 {
			rel, _ := filepath.Rel(v1, resolve(path))
			assert.Contains(t, rel, "..", "%s still points into %s", path, v1)
		}
		return nil
	})
	require.NoError(t, err)

	v, _ := l.LinkedVersion("tool")
	assert.Equal(t, "2.0", v)
}

func TestLinkFormula_Conflict(t *testing.T) {
	l, prefix := newLinker(t)
	cellartest.Make(t, prefix, cellartest.Keg{Name: "jq", Version: "1.7.1", Files: map[string]string{
		"bin/jq":  "bin",
		"bin/jqx": "bin",
	}})
	require.NoError(t, os.MkdirAll(filepath.Join(prefix, "bin"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(prefix, "bin", "jq"), []byte("someone else's"), 0755))

	_, err := l.LinkFormula("jq", "1.7.1", LinkOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)

	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{filepath.Join(prefix, "bin", "jq")}, ce.Paths)

	data, err := os.ReadFile(filepath.Join(prefix, "bin", "jq"))
	require.NoError(t, err)
	assert.Equal(t, "someone else's", string(data), "conflicting file is untouched")
	_, err = os.Lstat(filepath.Join(prefix, "bin", "jqx"))
	assert.True(t, os.IsNotExist(err), "nothing is linked when there are conflicts")
	_, ok := l.LinkedKeg("jq")
	assert.False(t, ok)

	// Overwrite replaces it.
	_, err = l.LinkFormula("jq", "1.7.1", LinkOptions{Overwrite: true})
	require.NoError(t, err)
	assertLinksInto(t, filepath.Join(prefix, "bin", "jq"), filepath.Join(prefix, "Cellar", "jq", "1.7.1"))
}

func TestLinkFormula_ForeignSymlinkConflicts(t *testing.T) {
	l, prefix := newLinker(t)
	cellartest.Make(t, prefix, cellartest.Keg{Name: "gojq", Version: "0.12", Files: map[string]string{"bin/jq": "gojq"}})
	cellartest.Make(t, prefix, cellartest.Keg{Name: "jq", Version: "1.7.1"})

	_, err := l.LinkFormula("jq", "1.7.1", LinkOptions{})
	require.NoError(t, err)

	_, err = l.LinkFormula("gojq", "0.12", LinkOptions{})
	assert.ErrorIs(t, err, ErrConflict, "a link owned by another formula is a conflict")
}

func TestLinkFormula_DanglingSymlinkIsReplaced(t *testing.T) {
	l, prefix := newLinker(t)
	dir := cellartest.Make(t, prefix, cellartest.Keg{Name: "jq", Version: "1.7.1"})
	require.NoError(t, os.MkdirAll(filepath.Join(prefix, "bin"), 0755))
	require.NoError(t, os.Symlink("../nowhere/jq", filepath.Join(prefix, "bin", "jq")))

	_, err := l.LinkFormula("jq", "1.7.1", LinkOptions{})
	require.NoError(t, err)
	assertLinksInto(t, filepath.Join(prefix, "bin", "jq"), dir)
}

func TestLinkFormula_DryRun(t *testing.T) {
	l, prefix := newLinker(t)
	cellartest.Make(t, prefix, cellartest.Keg{Name: "jq", Version: "1.7.1"})

	linked, err := l.LinkFormula("jq", "1.7.1", LinkOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(prefix, "bin", "jq")}, linked)
	_, err = os.Lstat(filepath.Join(prefix, "bin", "jq"))
	assert.True(t, os.IsNotExist(err))
}

func TestLinkFormula_NotInstalled(t *testing.T) {
	l, _ := newLinker(t)
	_, err := l.LinkFormula("ghost", "1.0", LinkOptions{})
	assert.Error(t, err)
}

func TestLinkFormula_CustomSkip(t *testing.T) {
	l, prefix := newLinker(t, "*.la")
	cellartest.Make(t, prefix, cellartest.Keg{Name: "lib", Version: "1", Files: map[string]string{
		"lib/libfoo.la": "x",
		"lib/libfoo.a":  "x",
	}})
	linked, err := l.LinkFormula("lib", "1", LinkOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(prefix, "lib", "libfoo.a")}, linked)
}

func TestUnlinkFormula(t *testing.T) {
	l, prefix := newLinker(t)
	cellartest.Make(t, prefix, cellartest.Keg{Name: "jq", Version: "1.7.1", Files: map[string]string{
		"bin/jq":              "bin",
		"share/doc/jq/README": "doc",
	}})
	_, err := l.LinkFormula("jq", "1.7.1", LinkOptions{})
	require.NoError(t, err)

	removed, err := l.UnlinkFormula("jq", "1.7.1")
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	_, err = os.Lstat(filepath.Join(prefix, "bin", "jq"))
	assert.True(t, os.IsNotExist(err))
	assert.NoDirExists(t, filepath.Join(prefix, "share", "doc"), "emptied directories are pruned")
	assert.DirExists(t, filepath.Join(prefix, "bin"), "top-level link dirs stay")

	_, ok := l.LinkedKeg("jq")
	assert.False(t, ok)
	// The opt link survives an unlink.
	v, ok := l.LinkedVersion("jq")
	assert.True(t, ok)
	assert.Equal(t, "1.7.1", v)
}

func TestUnlinkFormula_NotLinkedIsNoop(t *testing.T) {
	l, prefix := newLinker(t)
	cellartest.Make(t, prefix, cellartest.Keg{Name: "jq", Version: "1.6"})
	cellartest.Make(t, prefix, cellartest.Keg{Name: "jq", Version: "1.7.1"})
	_, err := l.LinkFormula("jq", "1.7.1", LinkOptions{})
	require.NoError(t, err)

	removed, err := l.UnlinkFormula("jq", "1.6")
	require.NoError(t, err)
	assert.Empty(t, removed)
	assertLinksInto(t, filepath.Join(prefix, "bin", "jq"), filepath.Join(prefix, "Cellar", "jq", "1.7.1"))

	removed, err = l.UnlinkFormula("never-installed", "1.0")
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestOptLink(t *testing.T) {
	l, prefix := newLinker(t)
	cellartest.Make(t, prefix, cellartest.Keg{Name: "openssl@3", Version: "3.3.1"})
	cellartest.Make(t, prefix, cellartest.Keg{Name: "openssl@3", Version: "3.3.2"})

	require.NoError(t, l.OptLink("openssl@3", "3.3.1"))
	require.NoError(t, l.OptLink("openssl@3", "3.3.2"))
	v, ok := l.OptVersion("openssl@3")
	assert.True(t, ok)
	assert.Equal(t, "3.3.2", v)

	// opt alone counts as the current version for keg-only formulae.
	v, ok = l.LinkedVersion("openssl@3")
	assert.True(t, ok)
	assert.Equal(t, "3.3.2", v)

	require.NoError(t, l.UnoptLink("openssl@3"))
	require.NoError(t, l.UnoptLink("openssl@3"))
	_, ok = l.LinkedVersion("openssl@3")
	assert.False(t, ok)
}

func TestLinkedVersion_DanglingMarker(t *testing.T) {
	l, prefix := newLinker(t)
	dir := cellartest.Make(t, prefix, cellartest.Keg{Name: "jq", Version: "1.7.1"})
	_, err := l.LinkFormula("jq", "1.7.1", LinkOptions{})
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))

	_, ok := l.LinkedVersion("jq")
	assert.False(t, ok, "links to a removed version do not count")
}

func TestPruneBroken(t *testing.T) {
	l, prefix := newLinker(t)
	dir := cellartest.Make(t, prefix, cellartest.Keg{Name: "jq", Version: "1.7.1", Files: map[string]string{
		"share/jq/a": "a",
	}})
	_, err := l.LinkFormula("jq", "1.7.1", LinkOptions{})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(prefix, "share", "mine"), []byte("x"), 0644))
	require.NoError(t, os.Symlink("/elsewhere/gone", filepath.Join(prefix, "share", "foreign")))
	require.NoError(t, os.RemoveAll(dir))

	pruned, err := l.PruneBroken(true)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(prefix, "share", "jq", "a")}, pruned)
	_, err = os.Lstat(pruned[0])
	assert.NoError(t, err, "dry run changes nothing")

	pruned, err = l.PruneBroken(false)
	require.NoError(t, err)
	assert.Len(t, pruned, 1)
	assert.NoDirExists(t, filepath.Join(prefix, "share", "jq"))
	assert.FileExists(t, filepath.Join(prefix, "share", "mine"))
	_, err = os.Lstat(filepath.Join(prefix, "share", "foreign"))
	assert.NoError(t, err, "links outside the Cellar are left alone")
}

func TestConflictError_Message(t *testing.T) {
	one := &ConflictError{Formula: "jq", Paths: []string{"/p/bin/jq"}}
	assert.Contains(t, one.Error(), "/p/bin/jq")
	many := &ConflictError{Formula: "jq", Paths: []string{"/a", "/b"}}
	assert.Contains(t, many.Error(), "2 files")
}
