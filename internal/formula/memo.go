package formula

import (
	"context"
	"sync"
)

// Memo wraps a Fetcher so each name is fetched at most once for the
// lifetime of the Memo. Concurrent callers for the same name share one
// request. Failures are remembered too.
type Memo struct {
	fetcher Fetcher

	mu      sync.Mutex
	entries map[string]*memoEntry
}

type memoEntry struct {
	done chan struct{}
	f    *Formula
	err  error
}

// NewMemo wraps fetcher.
func NewMemo(fetcher Fetcher) *Memo {
	return &Memo{fetcher: fetcher, entries: make(map[string]*memoEntry)}
}

// FetchFormula implements Fetcher.
func (m *Memo) FetchFormula(ctx context.Context, name string) (*Formula, error) {
	m.mu.Lock()
	e, ok := m.entries[name]
	if !ok {
		e = &memoEntry{done: make(chan struct{})}
		m.entries[name] = e
		m.mu.Unlock()

		e.f, e.err = m.fetcher.FetchFormula(ctx, name)
		close(e.done)
		return e.f, e.err
	}
	m.mu.Unlock()

	select {
	case <-e.done:
		return e.f, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
