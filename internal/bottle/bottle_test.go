package bottle

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/keg/internal/bottle/bottletest"
	"github.com/blackwell-systems/keg/internal/formula"
)

func formulaWithBottle(url, sha string) *formula.Formula {
	return &formula.Formula{
		Name:     "jq",
		Versions: formula.Versions{Stable: "1.7.1", Bottle: true},
		Bottle: formula.BottleSpec{Stable: &formula.BottleStable{Files: map[string]formula.BottleFile{
			"x86_64_linux": {URL: url, SHA256: sha},
		}}},
	}
}

func TestDownloader_Download(t *testing.T) {
	data := bottletest.TarGz(t, "jq", "1.7.1", bottletest.Files(map[string]string{"bin/jq": "binary"}))
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write(data)
	}))
	defer srv.Close()

	cache := t.TempDir()
	d := NewDownloader(srv.Client(), cache, "x86_64_linux", zerolog.Nop())
	var progressCalls int
	d.Progress = func(name string, written, total int64) { progressCalls++ }

	f := formulaWithBottle(srv.URL+"/jq.tar.gz", bottletest.SHA256(data))
	path, err := d.Download(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cache, "jq--1.7.1.x86_64_linux.bottle.tar.gz"), path)
	assert.Greater(t, progressCalls, 0)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Second download is served from the cache.
	_, err = d.Download(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	cached, err := d.ListCache()
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, "jq", cached[0].Name)
	assert.Equal(t, "1.7.1", cached[0].Version)
}

func TestDownloader_ChecksumMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not what you expected"))
	}))
	defer srv.Close()

	cache := t.TempDir()
	d := NewDownloader(srv.Client(), cache, "x86_64_linux", zerolog.Nop())
	_, err := d.Download(context.Background(), formulaWithBottle(srv.URL, "deadbeef"))
	assert.ErrorIs(t, err, ErrChecksum)

	entries, err := os.ReadDir(cache)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed downloads leave nothing in the cache")
}

func TestDownloader_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	d := NewDownloader(srv.Client(), t.TempDir(), "x86_64_linux", zerolog.Nop())
	_, err := d.Download(context.Background(), formulaWithBottle(srv.URL, "x"))
	assert.ErrorIs(t, err, formula.ErrNetwork)
}

func TestDownloader_NoBottle(t *testing.T) {
	d := NewDownloader(nil, t.TempDir(), "arm64_sonoma", zerolog.Nop())
	_, err := d.Download(context.Background(), formulaWithBottle("http://unused", "x"))
	assert.ErrorIs(t, err, ErrNoBottle)
}

func TestParseCacheName(t *testing.T) {
	tests := []struct {
		file, name, ver string
		ok              bool
	}{
		{"jq--1.7.1.arm64_sonoma.bottle.tar.gz", "jq", "1.7.1", true},
		{"python@3.12--3.12.4_1.x86_64_linux.bottle.tar.gz", "python@3.12", "3.12.4_1", true},
		{"random.txt", "", "", false},
		{"--1.0.all.bottle.tar.gz", "", "", false},
	}
	for _, tt := range tests {
		name, ver, ok := parseCacheName(tt.file)
		assert.Equal(t, tt.ok, ok, tt.file)
		assert.Equal(t, tt.name, name, tt.file)
		assert.Equal(t, tt.ver, ver, tt.file)
	}
}

func writeArchive(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bottle.tar.gz")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestExtractor_TarGz(t *testing.T) {
	data := bottletest.TarGz(t, "jq", "1.7.1_1", map[string]bottletest.Entry{
		"bin/jq":              {Content: "#!/bin/sh\n", Mode: 0555},
		"lib/libjq.1.dylib":   {Content: "lib", Mode: 0444},
		"lib/libjq.dylib":     {Link: "libjq.1.dylib"},
		"share/man/man1/jq.1": {Content: "man"},
	})
	cellarPath := filepath.Join(t.TempDir(), "Cellar")
	e := NewExtractor(cellarPath, zerolog.Nop())

	dir, err := e.Extract(writeArchive(t, data), "jq", "1.7.1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cellarPath, "jq", "1.7.1_1"), dir)

	info, err := os.Stat(filepath.Join(dir, "bin", "jq"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0555), info.Mode().Perm())

	target, err := os.Readlink(filepath.Join(dir, "lib", "libjq.dylib"))
	require.NoError(t, err)
	assert.Equal(t, "libjq.1.dylib", target)

	entries, err := os.ReadDir(cellarPath)
	require.NoError(t, err)
	require.Len(t, entries, 1, "staging directory is cleaned up")
	assert.Equal(t, "jq", entries[0].Name())

	_, err = e.Extract(writeArchive(t, data), "jq", "1.7.1_1")
	assert.ErrorIs(t, err, ErrExtract, "existing version directory is not overwritten")
}

func TestExtractor_TarXz(t *testing.T) {
	data := bottletest.TarXz(t, "xz", "5.6.2", bottletest.Files(map[string]string{"bin/xz": "x"}))
	cellarPath := filepath.Join(t.TempDir(), "Cellar")

	dir, err := NewExtractor(cellarPath, zerolog.Nop()).Extract(writeArchive(t, data), "xz", "5.6.2")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "bin", "xz"))
}

func TestExtractor_Rejects(t *testing.T) {
	cellarPath := filepath.Join(t.TempDir(), "Cellar")
	e := NewExtractor(cellarPath, zerolog.Nop())

	t.Run("garbage", func(t *testing.T) {
		_, err := e.Extract(writeArchive(t, []byte("this is not an archive")), "jq", "1.0")
		assert.ErrorIs(t, err, ErrExtract)
	})

	t.Run("wrong formula", func(t *testing.T) {
		data := bottletest.TarGz(t, "other", "1.0", bottletest.Files(map[string]string{"bin/x": "x"}))
		_, err := e.Extract(writeArchive(t, data), "jq", "1.0")
		assert.ErrorIs(t, err, ErrExtract)
	})

	t.Run("path traversal", func(t *testing.T) {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		tw := tar.NewWriter(gz)
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: "jq/1.0/../../../evil", Typeflag: tar.TypeReg, Mode: 0644, Size: 1}))
		_, _ = tw.Write([]byte("x"))
		require.NoError(t, tw.Close())
		require.NoError(t, gz.Close())

		_, err := e.Extract(writeArchive(t, buf.Bytes()), "jq", "1.0")
		assert.ErrorIs(t, err, ErrExtract)
		assert.NoFileExists(t, filepath.Join(filepath.Dir(cellarPath), "evil"))
	})

	t.Run("truncated", func(t *testing.T) {
		data := bottletest.TarGz(t, "jq", "1.0", bottletest.Files(map[string]string{"bin/jq": "xxxxxxxxxxxxxxxx"}))
		_, err := e.Extract(writeArchive(t, data[:len(data)/2]), "jq", "1.0")
		assert.ErrorIs(t, err, ErrExtract)
		assert.NoDirExists(t, filepath.Join(cellarPath, "jq", "1.0"))
	})
}
