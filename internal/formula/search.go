package formula

import (
	"context"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
	"golang.org/x/sync/errgroup"
)

// SearchResult holds formula and cask hits, best match first.
type SearchResult struct {
	Formulae []Formula `json:"formulae" yaml:"formulae"`
	Casks    []Cask    `json:"casks" yaml:"casks"`
}

// Empty reports whether nothing matched.
func (r *SearchResult) Empty() bool {
	return len(r.Formulae) == 0 && len(r.Casks) == 0
}

// Search fetches both indexes concurrently and ranks them against query.
func (c *Client) Search(ctx context.Context, query string) (*SearchResult, error) {
	var formulae []Formula
	var casks []Cask

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		formulae, err = c.ListFormulae(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		casks, err = c.ListCasks(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &SearchResult{
		Formulae: RankFormulae(query, formulae),
		Casks:    RankCasks(query, casks),
	}, nil
}

// RankFormulae returns the formulae whose name fuzzily matches query, ordered
// by match score, followed by formulae whose description contains query.
func RankFormulae(query string, all []Formula) []Formula {
	names := make([]string, len(all))
	descs := make([]string, len(all))
	for i, f := range all {
		names[i] = f.Name
		descs[i] = f.Description
	}
	idx := rank(query, names, descs)
	out := make([]Formula, 0, len(idx))
	for _, i := range idx {
		out = append(out, all[i])
	}
	return out
}

// RankCasks is RankFormulae for casks.
func RankCasks(query string, all []Cask) []Cask {
	names := make([]string, len(all))
	descs := make([]string, len(all))
	for i, c := range all {
		names[i] = c.Token
		descs[i] = c.Description
	}
	idx := rank(query, names, descs)
	out := make([]Cask, 0, len(idx))
	for _, i := range idx {
		out = append(out, all[i])
	}
	return out
}

func rank(query string, names, descs []string) []int {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	matches := fuzzy.Find(query, names)
	// Exact and prefix hits first, then fuzzy score; index keeps it stable.
	sort.SliceStable(matches, func(i, j int) bool {
		ti, tj := tier(query, matches[i].Str), tier(query, matches[j].Str)
		if ti != tj {
			return ti < tj
		}
		return matches[i].Score > matches[j].Score
	})

	seen := make(map[int]bool, len(matches))
	out := make([]int, 0, len(matches))
	for _, m := range matches {
		seen[m.Index] = true
		out = append(out, m.Index)
	}

	lq := strings.ToLower(query)
	for i, d := range descs {
		if !seen[i] && strings.Contains(strings.ToLower(d), lq) {
			out = append(out, i)
		}
	}
	return out
}

func tier(query, name string) int {
	switch {
	case strings.EqualFold(query, name):
		return 0
	case strings.HasPrefix(strings.ToLower(name), strings.ToLower(query)):
		return 1
	default:
		return 2
	}
}
