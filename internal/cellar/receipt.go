package cellar

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ReceiptFile is the receipt name inside each version directory.
const ReceiptFile = "INSTALL_RECEIPT.json"

// CoreTap is the default formula repository.
const CoreTap = "homebrew/core"

// Receipt is the JSON record written once when a version is poured. The
// field set matches what Homebrew itself writes so both tools can read each
// other's installs.
type Receipt struct {
	HomebrewVersion       string              `json:"homebrew_version"`
	UsedOptions           []string            `json:"used_options"`
	UnusedOptions         []string            `json:"unused_options"`
	BuiltAsBottle         bool                `json:"built_as_bottle"`
	PouredFromBottle      bool                `json:"poured_from_bottle"`
	LoadedFromAPI         bool                `json:"loaded_from_api"`
	InstalledAsDependency bool                `json:"installed_as_dependency"`
	InstalledOnRequest    bool                `json:"installed_on_request"`
	ChangedFiles          []string            `json:"changed_files"`
	Time                  int64               `json:"time"`
	SourceModifiedTime    int64               `json:"source_modified_time"`
	Compiler              string              `json:"compiler"`
	Aliases               []string            `json:"aliases"`
	RuntimeDependencies   []RuntimeDependency `json:"runtime_dependencies"`
	Source                ReceiptSource       `json:"source"`
	Arch                  string              `json:"arch"`
	BuiltOn               *BuiltOn            `json:"built_on,omitempty"`
}

// RuntimeDependency is one entry of the transitive runtime closure recorded
// at install time.
type RuntimeDependency struct {
	FullName         string `json:"full_name"`
	Version          string `json:"version"`
	Revision         int    `json:"revision"`
	BottleRebuild    int    `json:"bottle_rebuild"`
	PkgVersion       string `json:"pkg_version"`
	DeclaredDirectly bool   `json:"declared_directly"`
}

// ReceiptSource records where the formula definition came from.
type ReceiptSource struct {
	Path     string         `json:"path,omitempty"`
	Tap      string         `json:"tap"`
	Spec     string         `json:"spec"`
	Versions SourceVersions `json:"versions"`
}

// SourceVersions mirrors the formula's versions block at install time.
type SourceVersions struct {
	Stable        string  `json:"stable"`
	Head          *string `json:"head"`
	VersionScheme int     `json:"version_scheme"`
}

// BuiltOn describes the host that poured the bottle.
type BuiltOn struct {
	OS        string `json:"os"`
	OSVersion string `json:"os_version,omitempty"`
	CPUFamily string `json:"cpu_family"`
}

// ReadReceipt loads <dir>/INSTALL_RECEIPT.json.
func ReadReceipt(dir string) (*Receipt, error) {
	data, err := os.ReadFile(filepath.Join(dir, ReceiptFile))
	if err != nil {
		return nil, err
	}
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ReceiptFile, err)
	}
	return &r, nil
}

// WriteReceipt writes the receipt atomically into dir.
func WriteReceipt(dir string, r *Receipt) error {
	data, err := json.MarshalIndent(r.normalized(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".receipt-*")
	if err != nil {
		return fmt.Errorf("failed to create receipt: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write receipt: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write receipt: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to write receipt: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, ReceiptFile)); err != nil {
		return fmt.Errorf("failed to write receipt: %w", err)
	}
	return nil
}

// normalized returns a copy with nil slices replaced by empty ones, so the
// JSON carries [] rather than null like Homebrew's own receipts.
func (r *Receipt) normalized() *Receipt {
	out := *r
	if out.UsedOptions == nil {
		out.UsedOptions = []string{}
	}
	if out.UnusedOptions == nil {
		out.UnusedOptions = []string{}
	}
	if out.ChangedFiles == nil {
		out.ChangedFiles = []string{}
	}
	if out.Aliases == nil {
		out.Aliases = []string{}
	}
	if out.RuntimeDependencies == nil {
		out.RuntimeDependencies = []RuntimeDependency{}
	}
	return &out
}

// DependencyNames returns the runtime dependency names in receipt order.
func (r *Receipt) DependencyNames() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.RuntimeDependencies))
	for _, d := range r.RuntimeDependencies {
		names = append(names, ShortName(d.FullName))
	}
	return names
}

// TapOrigin returns the third-party tap the formula came from, or "" for core.
func (r *Receipt) TapOrigin() string {
	if r == nil || r.Source.Tap == "" || r.Source.Tap == CoreTap {
		return ""
	}
	return r.Source.Tap
}

// ShortName strips a tap qualifier: "user/tap/foo" becomes "foo".
func ShortName(fullName string) string {
	return filepath.Base(fullName)
}
