package formula

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jqJSON = `{
  "name": "jq",
  "full_name": "jq",
  "tap": "homebrew/core",
  "desc": "Lightweight and flexible command-line JSON processor",
  "homepage": "https://jqlang.github.io/jq/",
  "license": "MIT",
  "versions": {"stable": "1.7.1", "head": "HEAD", "bottle": true},
  "revision": 1,
  "version_scheme": 0,
  "bottle": {"stable": {"rebuild": 0, "root_url": "https://ghcr.io/v2/homebrew/core",
    "files": {
      "arm64_sequoia": {"cellar": ":any", "url": "https://ghcr.io/v2/homebrew/core/jq/blobs/sha256:aaa", "sha256": "aaa"},
      "x86_64_linux": {"cellar": "/home/linuxbrew/.linuxbrew/Cellar", "url": "https://ghcr.io/v2/homebrew/core/jq/blobs/sha256:bbb", "sha256": "bbb"}
    }}},
  "dependencies": ["oniguruma"],
  "build_dependencies": ["autoconf"],
  "keg_only": false,
  "deprecated": false,
  "disabled": false
}`

func newTestServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/formula/jq.json", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Contains(t, r.Header.Get("User-Agent"), "keg/")
		w.Write([]byte(jqJSON))
	})
	mux.HandleFunc("/api/formula/broken.json", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/api/formula/garbled.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{"))
	})
	mux.HandleFunc("/api/formula.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Formula{
			{Name: "jq", Description: "JSON processor"},
			{Name: "jql", Description: "JSON query language"},
			{Name: "gojq", Description: "Pure Go implementation of jq"},
			{Name: "wget", Description: "Internet file retriever"},
			{Name: "fx", Description: "Terminal JSON viewer"},
		})
	})
	mux.HandleFunc("/api/cask.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Cask{
			{Token: "jqbook", Description: "jq playground"},
			{Token: "firefox", Description: "Web browser"},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestClient_FetchFormula(t *testing.T) {
	srv, _ := newTestServer(t)
	c := NewClient(srv.URL+"/api/", 5*time.Second, zerolog.Nop())

	f, err := c.FetchFormula(context.Background(), "jq")
	require.NoError(t, err)
	assert.Equal(t, "jq", f.Name)
	assert.Equal(t, "1.7.1", f.Versions.Stable)
	assert.Equal(t, "1.7.1_1", f.PkgVersion())
	assert.Equal(t, []string{"oniguruma"}, f.Dependencies)
	assert.Equal(t, []string{"autoconf"}, f.BuildDependencies)
	assert.True(t, f.IsCoreTap())

	b, tag, ok := f.BottleFor("x86_64_linux")
	require.True(t, ok)
	assert.Equal(t, "x86_64_linux", tag)
	assert.Equal(t, "bbb", b.SHA256)
	assert.False(t, f.HasBottle("sonoma"))
}

func TestClient_FetchFormula_Errors(t *testing.T) {
	srv, _ := newTestServer(t)
	c := NewClient(srv.URL+"/api", 5*time.Second, zerolog.Nop())
	ctx := context.Background()

	_, err := c.FetchFormula(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.FetchFormula(ctx, "broken")
	assert.ErrorIs(t, err, ErrNetwork)

	_, err = c.FetchFormula(ctx, "garbled")
	assert.ErrorIs(t, err, ErrNetwork)

	_, err = c.FetchFormula(ctx, "someone/tools/thing")
	assert.ErrorIs(t, err, ErrTapFormula)

	f, err := c.FetchFormula(ctx, "homebrew/core/jq")
	require.NoError(t, err)
	assert.Equal(t, "jq", f.Name)
}

func TestClient_FetchFormula_Unreachable(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL
	srv.Close()

	c := NewClient(base, time.Second, zerolog.Nop())
	_, err := c.FetchFormula(context.Background(), "jq")
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestClient_Search(t *testing.T) {
	srv, _ := newTestServer(t)
	c := NewClient(srv.URL+"/api", 5*time.Second, zerolog.Nop())

	res, err := c.Search(context.Background(), "jq")
	require.NoError(t, err)
	require.NotEmpty(t, res.Formulae)
	assert.Equal(t, "jq", res.Formulae[0].Name, "exact match ranks first")

	var names []string
	for _, f := range res.Formulae {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "jql")
	assert.Contains(t, names, "gojq")
	assert.NotContains(t, names, "wget")

	require.Len(t, res.Casks, 1)
	assert.Equal(t, "jqbook", res.Casks[0].Token)
}

func TestRankFormulae_DescriptionHits(t *testing.T) {
	all := []Formula{
		{Name: "fx", Description: "Terminal JSON viewer"},
		{Name: "jsonnet", Description: "Data templating language"},
	}
	got := RankFormulae("json", all)
	require.Len(t, got, 2)
	assert.Equal(t, "jsonnet", got[0].Name, "name hit before description hit")
	assert.Equal(t, "fx", got[1].Name)

	assert.Empty(t, RankFormulae("   ", all))
	assert.True(t, (&SearchResult{}).Empty())
}

func TestBottleFor_AllFallback(t *testing.T) {
	f := &Formula{Bottle: BottleSpec{Stable: &BottleStable{Files: map[string]BottleFile{
		"all": {URL: "u", SHA256: "s"},
	}}}}
	b, tag, ok := f.BottleFor("arm64_sonoma")
	require.True(t, ok)
	assert.Equal(t, "all", tag)
	assert.Equal(t, "s", b.SHA256)

	none := &Formula{}
	assert.False(t, none.HasBottle("all"))
	assert.Equal(t, 0, none.BottleRebuild())
}

func TestPkgVersion(t *testing.T) {
	assert.Equal(t, "1.0", (&Formula{Versions: Versions{Stable: "1.0"}}).PkgVersion())
	assert.Equal(t, "1.0_2", (&Formula{Versions: Versions{Stable: "1.0"}, Revision: 2}).PkgVersion())
}

func TestPlatformTag(t *testing.T) {
	tests := []struct {
		goos, goarch, codename, want string
	}{
		{"darwin", "arm64", "sonoma", "arm64_sonoma"},
		{"darwin", "amd64", "ventura", "ventura"},
		{"darwin", "arm64", "", "arm64_sequoia"},
		{"linux", "amd64", "", "x86_64_linux"},
		{"linux", "arm64", "", "aarch64_linux"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PlatformTag(tt.goos, tt.goarch, tt.codename))
	}

	assert.Equal(t, "sonoma", macOSCodename("14.5\n"))
	assert.Equal(t, "tahoe", macOSCodename("26.0"))
	assert.Equal(t, defaultCodename, macOSCodename(""))
}

func TestIsTapQualified(t *testing.T) {
	assert.False(t, IsTapQualified("jq"))
	assert.False(t, IsTapQualified("homebrew/core/jq"))
	assert.True(t, IsTapQualified("user/tap/jq"))
}

type countingFetcher struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *countingFetcher) FetchFormula(_ context.Context, name string) (*Formula, error) {
	c.mu.Lock()
	c.calls[name]++
	c.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	if name == "missing" {
		return nil, ErrNotFound
	}
	return &Formula{Name: name}, nil
}

func TestMemo(t *testing.T) {
	inner := &countingFetcher{calls: map[string]int{}}
	m := NewMemo(inner)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := m.FetchFormula(ctx, "jq")
			assert.NoError(t, err)
			assert.Equal(t, "jq", f.Name)
		}()
	}
	wg.Wait()

	_, err := m.FetchFormula(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = m.FetchFormula(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.Equal(t, 1, inner.calls["jq"])
	assert.Equal(t, 1, inner.calls["missing"])
}

func TestDownloadClient_NoBodyDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("first "))
		w.(http.Flusher).Flush()
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte("second"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 100*time.Millisecond, zerolog.Nop())

	_, err := c.FetchFormula(context.Background(), "slow")
	assert.Error(t, err, "metadata requests are bounded as a whole")

	resp, err := c.DownloadClient().Get(srv.URL)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "first second", string(body))
}

func TestDownloadClient_HeaderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte("late"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 100*time.Millisecond, zerolog.Nop())
	_, err := c.DownloadClient().Get(srv.URL)
	assert.Error(t, err)
}
