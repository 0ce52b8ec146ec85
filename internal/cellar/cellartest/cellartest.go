// Package cellartest builds throwaway Cellar trees for tests.
package cellartest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/blackwell-systems/keg/internal/cellar"
)

// Keg describes one installed version to lay down on disk.
type Keg struct {
	Name    string
	Version string
	// Files maps paths relative to the version directory to contents.
	// Defaults to bin/<Name> when empty.
	Files map[string]string
	// Receipt is written when non-nil.
	Receipt *cellar.Receipt
}

// Make writes k under <prefix>/Cellar and returns the version directory.
func Make(t testing.TB, prefix string, k Keg) string {
	t.Helper()

	dir := filepath.Join(prefix, "Cellar", k.Name, k.Version)
	files := k.Files
	if len(files) == 0 {
		files = map[string]string{filepath.Join("bin", k.Name): "#!/bin/sh\necho " + k.Name + "\n"}
	}
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0755); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	if k.Receipt != nil {
		if err := cellar.WriteReceipt(dir, k.Receipt); err != nil {
			t.Fatalf("WriteReceipt: %v", err)
		}
	}
	return dir
}

// Receipt returns a minimal receipt with the given request flag and
// runtime dependency names.
func Receipt(onRequest bool, deps ...string) *cellar.Receipt {
	r := &cellar.Receipt{
		InstalledOnRequest:    onRequest,
		InstalledAsDependency: !onRequest,
		PouredFromBottle:      true,
		Source:                cellar.ReceiptSource{Tap: cellar.CoreTap, Spec: "stable"},
	}
	for _, d := range deps {
		r.RuntimeDependencies = append(r.RuntimeDependencies, cellar.RuntimeDependency{
			FullName:         d,
			Version:          "1.0",
			PkgVersion:       "1.0",
			DeclaredDirectly: true,
		})
	}
	return r
}
