// Package bottletest builds bottle archives in memory for tests.
package bottletest

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"path"
	"sort"
	"strings"
	"testing"

	"github.com/ulikunitz/xz"
)

// Entry is one archive member. A Link value makes it a symlink.
type Entry struct {
	Content string
	Link    string
	Mode    int64
}

// TarGz returns a gzip bottle for name/version holding files, keyed by
// paths relative to the version directory.
func TarGz(t testing.TB, name, version string, files map[string]Entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	writeTar(t, gz, name, version, files)
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

// TarXz is TarGz with xz compression.
func TarXz(t testing.TB, name, version string, files map[string]Entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("xz writer: %v", err)
	}
	writeTar(t, xw, name, version, files)
	if err := xw.Close(); err != nil {
		t.Fatalf("xz close: %v", err)
	}
	return buf.Bytes()
}

// Files turns a path->content map into regular executable entries.
func Files(m map[string]string) map[string]Entry {
	out := make(map[string]Entry, len(m))
	for k, v := range m {
		out[k] = Entry{Content: v, Mode: 0755}
	}
	return out
}

// SHA256 returns the hex digest of data.
func SHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func writeTar(t testing.TB, w io.Writer, name, version string, files map[string]Entry) {
	t.Helper()
	tw := tar.NewWriter(w)

	root := path.Join(name, version)
	dirs := map[string]bool{name: true, root: true}
	keys := make([]string, 0, len(files))
	for k := range files {
		keys = append(keys, k)
		for d := path.Dir(path.Join(root, k)); d != root && d != "."; d = path.Dir(d) {
			dirs[d] = true
		}
	}
	sort.Strings(keys)

	dirList := make([]string, 0, len(dirs))
	for d := range dirs {
		dirList = append(dirList, d)
	}
	sort.Slice(dirList, func(i, j int) bool {
		return strings.Count(dirList[i], "/") < strings.Count(dirList[j], "/") ||
			(strings.Count(dirList[i], "/") == strings.Count(dirList[j], "/") && dirList[i] < dirList[j])
	})
	for _, d := range dirList {
		if err := tw.WriteHeader(&tar.Header{Name: d + "/", Typeflag: tar.TypeDir, Mode: 0755}); err != nil {
			t.Fatalf("tar dir header: %v", err)
		}
	}

	for _, k := range keys {
		e := files[k]
		full := path.Join(root, k)
		if e.Link != "" {
			if err := tw.WriteHeader(&tar.Header{Name: full, Typeflag: tar.TypeSymlink, Linkname: e.Link, Mode: 0777}); err != nil {
				t.Fatalf("tar symlink header: %v", err)
			}
			continue
		}
		mode := e.Mode
		if mode == 0 {
			mode = 0644
		}
		if err := tw.WriteHeader(&tar.Header{Name: full, Typeflag: tar.TypeReg, Mode: mode, Size: int64(len(e.Content))}); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if _, err := tw.Write([]byte(e.Content)); err != nil {
			t.Fatalf("tar write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
}
