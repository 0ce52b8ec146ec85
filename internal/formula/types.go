// Package formula models package metadata from the formula API and fetches it.
package formula

import "strconv"

// CoreTap is the default formula repository.
const CoreTap = "homebrew/core"

// Formula is the subset of formula metadata keg consumes.
type Formula struct {
	Name              string         `json:"name" yaml:"name"`
	FullName          string         `json:"full_name" yaml:"full_name"`
	Tap               string         `json:"tap" yaml:"tap"`
	Description       string         `json:"desc" yaml:"desc"`
	Homepage          string         `json:"homepage" yaml:"homepage"`
	License           string         `json:"license" yaml:"license,omitempty"`
	Versions          Versions       `json:"versions" yaml:"versions"`
	Revision          int            `json:"revision" yaml:"revision"`
	VersionScheme     int            `json:"version_scheme" yaml:"version_scheme"`
	Bottle            BottleSpec     `json:"bottle" yaml:"bottle"`
	Dependencies      []string       `json:"dependencies" yaml:"dependencies"`
	BuildDependencies []string       `json:"build_dependencies" yaml:"build_dependencies"`
	KegOnly           bool           `json:"keg_only" yaml:"keg_only"`
	KegOnlyReason     *KegOnlyReason `json:"keg_only_reason,omitempty" yaml:"keg_only_reason,omitempty"`
	Deprecated        bool           `json:"deprecated" yaml:"deprecated"`
	Disabled          bool           `json:"disabled" yaml:"disabled"`
}

// Versions is the versions block of a formula.
type Versions struct {
	Stable string `json:"stable" yaml:"stable"`
	Head   string `json:"head" yaml:"head,omitempty"`
	Bottle bool   `json:"bottle" yaml:"bottle"`
}

// KegOnlyReason explains why a formula is not linked into the prefix.
type KegOnlyReason struct {
	Reason      string `json:"reason" yaml:"reason"`
	Explanation string `json:"explanation" yaml:"explanation"`
}

// BottleSpec holds the prebuilt archives per spec.
type BottleSpec struct {
	Stable *BottleStable `json:"stable,omitempty" yaml:"stable,omitempty"`
}

// BottleStable lists stable bottles per platform tag.
type BottleStable struct {
	Rebuild int                   `json:"rebuild" yaml:"rebuild"`
	RootURL string                `json:"root_url" yaml:"root_url"`
	Files   map[string]BottleFile `json:"files" yaml:"files"`
}

// BottleFile is one downloadable archive.
type BottleFile struct {
	Cellar string `json:"cellar" yaml:"cellar"`
	URL    string `json:"url" yaml:"url"`
	SHA256 string `json:"sha256" yaml:"sha256"`
}

// Cask is the subset of cask metadata shown in search results.
type Cask struct {
	Token       string   `json:"token" yaml:"token"`
	FullToken   string   `json:"full_token" yaml:"full_token"`
	Tap         string   `json:"tap" yaml:"tap"`
	Name        []string `json:"name" yaml:"name"`
	Description string   `json:"desc" yaml:"desc"`
	Homepage    string   `json:"homepage" yaml:"homepage"`
	Version     string   `json:"version" yaml:"version"`
}

// PkgVersion is the stable version with the revision suffix Homebrew uses
// for Cellar directory names ("1.7.1" or "1.7.1_1").
func (f *Formula) PkgVersion() string {
	if f.Revision > 0 {
		return f.Versions.Stable + "_" + strconv.Itoa(f.Revision)
	}
	return f.Versions.Stable
}

// BottleFor returns the bottle for tag, falling back to the "all" bottle.
// The returned string is the tag actually used.
func (f *Formula) BottleFor(tag string) (BottleFile, string, bool) {
	if f.Bottle.Stable == nil {
		return BottleFile{}, "", false
	}
	if b, ok := f.Bottle.Stable.Files[tag]; ok {
		return b, tag, true
	}
	if b, ok := f.Bottle.Stable.Files["all"]; ok {
		return b, "all", true
	}
	return BottleFile{}, "", false
}

// HasBottle reports whether a bottle exists for tag (or "all").
func (f *Formula) HasBottle(tag string) bool {
	_, _, ok := f.BottleFor(tag)
	return ok
}

// BottleRebuild returns the stable bottle rebuild number.
func (f *Formula) BottleRebuild() int {
	if f.Bottle.Stable == nil {
		return 0
	}
	return f.Bottle.Stable.Rebuild
}

// IsCoreTap reports whether the formula comes from the default repository.
func (f *Formula) IsCoreTap() bool {
	return f.Tap == "" || f.Tap == CoreTap
}
