// Package version orders Homebrew package version strings.
//
// The ordering is numeric per dot-separated segment with a lexicographic
// tiebreak. It is not semver-aware: pre-release suffixes only matter when
// every numeric segment is equal.
package version

import (
	"sort"
	"strconv"
	"strings"
)

// Ordering is the result of comparing two versions.
type Ordering int

const (
	Less    Ordering = -1
	Equal   Ordering = 0
	Greater Ordering = 1
)

func (o Ordering) String() string {
	switch o {
	case Less:
		return "less"
	case Greater:
		return "greater"
	default:
		return "equal"
	}
}

// Compare orders a against b.
//
// Both strings are split on "." and each segment is parsed as an unsigned
// integer; unparsable or missing segments count as 0. The first differing
// segment decides. When all segments are numerically equal the raw strings
// are compared lexicographically, so "2.0.0-beta" sorts after "2.0.0-alpha".
func Compare(a, b string) Ordering {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")

	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}

	for i := 0; i < n; i++ {
		av := segment(as, i)
		bv := segment(bs, i)
		if av < bv {
			return Less
		}
		if av > bv {
			return Greater
		}
	}

	switch {
	case a < b:
		return Less
	case a > b:
		return Greater
	default:
		return Equal
	}
}

func segment(parts []string, i int) uint64 {
	if i >= len(parts) {
		return 0
	}
	v, err := strconv.ParseUint(parts[i], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// SortDescending sorts versions newest first, in place.
func SortDescending(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		return Compare(versions[i], versions[j]) == Greater
	})
}

// Newest returns the greatest version, or "" for an empty slice.
func Newest(versions []string) string {
	newest := ""
	for i, v := range versions {
		if i == 0 || Compare(v, newest) == Greater {
			newest = v
		}
	}
	return newest
}
