// Package resolver computes the dependency closure of requested formulae by
// walking formula metadata breadth first.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/blackwell-systems/keg/internal/cellar"
	"github.com/blackwell-systems/keg/internal/formula"
)

// RequestError reports that a directly requested formula could not be
// fetched. It aborts resolution.
type RequestError struct {
	Name string
	Err  error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("cannot resolve %s: %v", e.Name, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Options configures a Resolver.
type Options struct {
	// Parallel bounds concurrent metadata fetches per level.
	Parallel int
	// IncludeBuild also follows build-dependency edges.
	IncludeBuild bool
	Logger       zerolog.Logger
}

// Resolver walks dependency edges using a metadata Fetcher.
type Resolver struct {
	fetcher formula.Fetcher
	opts    Options
}

// New returns a Resolver.
func New(fetcher formula.Fetcher, opts Options) *Resolver {
	if opts.Parallel < 1 {
		opts.Parallel = 1
	}
	return &Resolver{fetcher: fetcher, opts: opts}
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	// Formulae holds metadata for every reachable name that could be fetched.
	Formulae map[string]*formula.Formula
	// Requested are the names Resolve was called with.
	Requested []string
	// Missing are transitive names whose metadata could not be fetched.
	Missing []string
}

// Resolve fetches metadata for names and everything reachable from them.
// Each level of the walk is fetched concurrently; every name is fetched at
// most once, so cycles terminate. A failure to fetch one of names returns a
// *RequestError. Failures further down are logged and recorded in Missing.
func (r *Resolver) Resolve(ctx context.Context, names []string) (*Resolution, error) {
	res := &Resolution{
		Formulae:  make(map[string]*formula.Formula),
		Requested: append([]string(nil), names...),
	}
	requested := make(map[string]bool, len(names))
	for _, n := range names {
		requested[n] = true
	}

	visited := make(map[string]bool)
	var level []string
	for _, n := range names {
		if !visited[n] {
			visited[n] = true
			level = append(level, n)
		}
	}

	for len(level) > 0 {
		fetched, errs := r.fetchLevel(ctx, level)
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var next []string
		for i, name := range level {
			if errs[i] != nil {
				if requested[name] {
					return nil, &RequestError{Name: name, Err: errs[i]}
				}
				r.opts.Logger.Warn().Err(errs[i]).Str("formula", name).Msg("Skipping dependency whose metadata could not be fetched")
				res.Missing = append(res.Missing, name)
				continue
			}

			f := fetched[i]
			res.Formulae[name] = f
			for _, dep := range r.edges(f) {
				if !visited[dep] {
					visited[dep] = true
					next = append(next, dep)
				}
			}
		}
		level = next
	}

	sort.Strings(res.Missing)
	return res, nil
}

func (r *Resolver) edges(f *formula.Formula) []string {
	if !r.opts.IncludeBuild {
		return f.Dependencies
	}
	out := make([]string, 0, len(f.Dependencies)+len(f.BuildDependencies))
	out = append(out, f.Dependencies...)
	return append(out, f.BuildDependencies...)
}

// fetchLevel fetches every name concurrently, returning results in order.
func (r *Resolver) fetchLevel(ctx context.Context, names []string) ([]*formula.Formula, []error) {
	fetched := make([]*formula.Formula, len(names))
	errs := make([]error, len(names))

	var g errgroup.Group
	g.SetLimit(r.opts.Parallel)
	for i, name := range names {
		g.Go(func() error {
			fetched[i], errs[i] = r.fetcher.FetchFormula(ctx, name)
			return nil
		})
	}
	_ = g.Wait()
	return fetched, errs
}

// RuntimeDependencies returns the runtime closure of name in breadth-first
// order, shaped for an install receipt. Only names in the formula's own
// dependency list are marked as declared directly. Names without metadata
// are skipped.
func (res *Resolution) RuntimeDependencies(name string) []cellar.RuntimeDependency {
	root, ok := res.Formulae[name]
	if !ok {
		return nil
	}
	direct := make(map[string]bool, len(root.Dependencies))
	for _, d := range root.Dependencies {
		direct[d] = true
	}

	var out []cellar.RuntimeDependency
	for _, dep := range res.closure([]string{name}, false) {
		f, ok := res.Formulae[dep]
		if !ok {
			continue
		}
		out = append(out, cellar.RuntimeDependency{
			FullName:         f.FullName,
			Version:          f.Versions.Stable,
			Revision:         f.Revision,
			BottleRebuild:    f.BottleRebuild(),
			PkgVersion:       f.PkgVersion(),
			DeclaredDirectly: direct[dep],
		})
		if out[len(out)-1].FullName == "" {
			out[len(out)-1].FullName = f.Name
		}
	}
	return out
}

// RuntimeClosure returns names plus everything reachable from them over
// runtime edges, in breadth-first order.
func (res *Resolution) RuntimeClosure(names []string) []string {
	return res.closure(names, true)
}

func (res *Resolution) closure(roots []string, includeRoots bool) []string {
	visited := make(map[string]bool)
	var order []string
	queue := make([]string, 0, len(roots))
	for _, r := range roots {
		if visited[r] {
			continue
		}
		visited[r] = true
		queue = append(queue, r)
		if includeRoots {
			order = append(order, r)
		}
	}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		f, ok := res.Formulae[n]
		if !ok {
			continue
		}
		for _, d := range f.Dependencies {
			if visited[d] {
				continue
			}
			visited[d] = true
			order = append(order, d)
			queue = append(queue, d)
		}
	}
	return order
}

// InstallOrder returns the runtime closure of names ordered so every
// formula comes after its dependencies. Members of a dependency cycle are
// appended in name order once nothing else can be placed. Names without
// metadata are left out.
func (res *Resolution) InstallOrder(names []string) []string {
	nodes := res.closure(names, true)
	in := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if _, ok := res.Formulae[n]; ok {
			in[n] = true
		}
	}

	indegree := make(map[string]int)
	dependents := make(map[string][]string)
	for n := range in {
		indegree[n] += 0
		for _, d := range res.Formulae[n].Dependencies {
			if !in[d] || d == n {
				continue
			}
			indegree[n]++
			dependents[d] = append(dependents[d], n)
		}
	}

	var ready []string
	for n, deg := range indegree {
		if deg == 0 {
			ready = append(ready, n)
		}
	}
	sort.Strings(ready)

	placed := make(map[string]bool, len(in))
	var order []string
	for len(placed) < len(in) {
		if len(ready) == 0 {
			// Cycle: place the smallest remaining name and carry on.
			var rest []string
			for n := range in {
				if !placed[n] {
					rest = append(rest, n)
				}
			}
			sort.Strings(rest)
			ready = []string{rest[0]}
		}

		n := ready[0]
		ready = ready[1:]
		if placed[n] {
			continue
		}
		placed[n] = true
		order = append(order, n)

		var freed []string
		for _, m := range dependents[n] {
			indegree[m]--
			if indegree[m] == 0 && !placed[m] {
				freed = append(freed, m)
			}
		}
		sort.Strings(freed)
		ready = append(ready, freed...)
	}
	return order
}

// BuildDependencies returns the declared build dependencies of name.
func (res *Resolution) BuildDependencies(name string) []string {
	f, ok := res.Formulae[name]
	if !ok {
		return nil
	}
	return append([]string(nil), f.BuildDependencies...)
}

// IsRequestError reports whether err aborted resolution on a requested name.
func IsRequestError(err error) (*RequestError, bool) {
	var re *RequestError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
