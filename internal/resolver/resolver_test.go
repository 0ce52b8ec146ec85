package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/keg/internal/formula"
)

type fakeFetcher struct {
	mu       sync.Mutex
	formulae map[string]*formula.Formula
	calls    map[string]int
}

func newFake(fs ...*formula.Formula) *fakeFetcher {
	f := &fakeFetcher{formulae: map[string]*formula.Formula{}, calls: map[string]int{}}
	for _, x := range fs {
		f.formulae[x.Name] = x
	}
	return f
}

func (f *fakeFetcher) FetchFormula(_ context.Context, name string) (*formula.Formula, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	if x, ok := f.formulae[name]; ok {
		return x, nil
	}
	return nil, formula.ErrNotFound
}

func mk(name string, deps ...string) *formula.Formula {
	return &formula.Formula{Name: name, FullName: name, Versions: formula.Versions{Stable: "1.0"}, Dependencies: deps}
}

func newResolver(f formula.Fetcher, build bool) *Resolver {
	return New(f, Options{Parallel: 4, IncludeBuild: build, Logger: zerolog.Nop()})
}

func TestResolve_Closure(t *testing.T) {
	fake := newFake(
		mk("jq", "oniguruma"),
		mk("oniguruma"),
	)
	res, err := newResolver(fake, false).Resolve(context.Background(), []string{"jq"})
	require.NoError(t, err)

	assert.Len(t, res.Formulae, 2)
	assert.Contains(t, res.Formulae, "oniguruma")
	assert.Empty(t, res.Missing)
	assert.Equal(t, []string{"oniguruma", "jq"}, res.InstallOrder([]string{"jq"}))
}

func TestResolve_CycleTerminates(t *testing.T) {
	fake := newFake(mk("a", "b"), mk("b", "a"))
	res, err := newResolver(fake, false).Resolve(context.Background(), []string{"a"})
	require.NoError(t, err)

	assert.Len(t, res.Formulae, 2)
	assert.Equal(t, 1, fake.calls["a"])
	assert.Equal(t, 1, fake.calls["b"])
	assert.ElementsMatch(t, []string{"a", "b"}, res.InstallOrder([]string{"a"}))
}

func TestResolve_EachNameFetchedOnce(t *testing.T) {
	fake := newFake(
		mk("app", "left", "right"),
		mk("left", "shared"),
		mk("right", "shared"),
		mk("shared"),
	)
	res, err := newResolver(fake, false).Resolve(context.Background(), []string{"app", "left"})
	require.NoError(t, err)
	for name, n := range fake.calls {
		assert.Equal(t, 1, n, name)
	}

	order := res.InstallOrder([]string{"app"})
	require.Len(t, order, 4)
	pos := map[string]int{}
	for i, n := range order {
		pos[n] = i
	}
	assert.Less(t, pos["shared"], pos["left"])
	assert.Less(t, pos["shared"], pos["right"])
	assert.Less(t, pos["left"], pos["app"])
	assert.Less(t, pos["right"], pos["app"])
}

func TestResolve_MissingTransitiveIsNonFatal(t *testing.T) {
	fake := newFake(mk("app", "ghost", "real"), mk("real"))
	res, err := newResolver(fake, false).Resolve(context.Background(), []string{"app"})
	require.NoError(t, err)

	assert.Equal(t, []string{"ghost"}, res.Missing)
	assert.NotContains(t, res.Formulae, "ghost")
	assert.Equal(t, []string{"real", "app"}, res.InstallOrder([]string{"app"}))
}

func TestResolve_MissingRequestedIsFatal(t *testing.T) {
	fake := newFake(mk("real"))
	_, err := newResolver(fake, false).Resolve(context.Background(), []string{"real", "ghost"})
	require.Error(t, err)

	re, ok := IsRequestError(err)
	require.True(t, ok)
	assert.Equal(t, "ghost", re.Name)
	assert.True(t, errors.Is(err, formula.ErrNotFound))
	assert.Contains(t, err.Error(), "ghost")
}

func TestResolve_BuildEdges(t *testing.T) {
	app := mk("app", "lib")
	app.BuildDependencies = []string{"cmake"}
	fake := newFake(app, mk("lib"), mk("cmake"))

	res, err := newResolver(fake, true).Resolve(context.Background(), []string{"app"})
	require.NoError(t, err)
	assert.Contains(t, res.Formulae, "cmake")
	assert.Equal(t, []string{"cmake"}, res.BuildDependencies("app"))
	// Build dependencies are never part of the install order or receipt.
	assert.Equal(t, []string{"lib", "app"}, res.InstallOrder([]string{"app"}))
	assert.Len(t, res.RuntimeDependencies("app"), 1)

	fake2 := newFake(app, mk("lib"), mk("cmake"))
	res, err = newResolver(fake2, false).Resolve(context.Background(), []string{"app"})
	require.NoError(t, err)
	assert.NotContains(t, res.Formulae, "cmake")
	assert.Zero(t, fake2.calls["cmake"])
}

func TestRuntimeDependencies_DeclaredDirectly(t *testing.T) {
	a := mk("a", "b")
	b := mk("b", "c")
	c := mk("c")
	c.Revision = 2
	c.Bottle = formula.BottleSpec{Stable: &formula.BottleStable{Rebuild: 1}}

	res, err := newResolver(newFake(a, b, c), false).Resolve(context.Background(), []string{"a"})
	require.NoError(t, err)

	deps := res.RuntimeDependencies("a")
	require.Len(t, deps, 2)
	assert.Equal(t, "b", deps[0].FullName)
	assert.True(t, deps[0].DeclaredDirectly)
	assert.Equal(t, "c", deps[1].FullName)
	assert.False(t, deps[1].DeclaredDirectly)
	assert.Equal(t, "1.0_2", deps[1].PkgVersion)
	assert.Equal(t, 2, deps[1].Revision)
	assert.Equal(t, 1, deps[1].BottleRebuild)

	assert.Empty(t, res.RuntimeDependencies("c"))
	assert.Nil(t, res.RuntimeDependencies("unknown"))
}

func TestRuntimeClosure(t *testing.T) {
	res, err := newResolver(newFake(mk("a", "b"), mk("b", "c"), mk("c")), false).Resolve(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, res.RuntimeClosure([]string{"a"}))
	assert.Equal(t, []string{"b", "c"}, res.RuntimeClosure([]string{"b"}))
}

func TestResolve_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newResolver(newFake(mk("a")), false).Resolve(ctx, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
}
