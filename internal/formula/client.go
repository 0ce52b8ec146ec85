package formula

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrNotFound means the metadata service has no such formula.
	ErrNotFound = errors.New("formula not found")
	// ErrNetwork covers transport failures and unexpected responses.
	ErrNetwork = errors.New("network error")
	// ErrTapFormula marks a name qualified with a third-party tap, which
	// the metadata service does not serve.
	ErrTapFormula = errors.New("formula is in a third-party tap")
)

// Fetcher retrieves metadata for one formula.
type Fetcher interface {
	FetchFormula(ctx context.Context, name string) (*Formula, error)
}

// Searcher finds formulae and casks matching a query.
type Searcher interface {
	Search(ctx context.Context, query string) (*SearchResult, error)
}

// Client talks to the formula JSON API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	log        zerolog.Logger
}

// NewClient returns a client for the API rooted at baseURL
// (e.g. https://formulae.brew.sh/api).
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: timeout,
			},
		},
		userAgent: "keg/" + UserAgentVersion,
		log:       logger,
	}
}

// UserAgentVersion is reported in the User-Agent header.
var UserAgentVersion = "dev"

// DownloadClient shares the metadata transport but has no overall timeout,
// so large bottles are bounded only by the response header timeout and the
// request context.
func (c *Client) DownloadClient() *http.Client {
	return &http.Client{Transport: c.httpClient.Transport}
}

// FetchFormula retrieves metadata for name.
func (c *Client) FetchFormula(ctx context.Context, name string) (*Formula, error) {
	short, err := coreName(name)
	if err != nil {
		return nil, err
	}

	var f Formula
	if err := c.getJSON(ctx, "/formula/"+url.PathEscape(short)+".json", &f); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("fetching %s: %w", name, err)
	}
	c.log.Debug().Str("formula", f.Name).Str("version", f.PkgVersion()).Msg("Fetched formula metadata")
	return &f, nil
}

// FetchCask retrieves metadata for a cask token.
func (c *Client) FetchCask(ctx context.Context, token string) (*Cask, error) {
	var cask Cask
	if err := c.getJSON(ctx, "/cask/"+url.PathEscape(token)+".json", &cask); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("cask %s: %w", token, ErrNotFound)
		}
		return nil, fmt.Errorf("fetching cask %s: %w", token, err)
	}
	return &cask, nil
}

// ListFormulae retrieves the full formula index.
func (c *Client) ListFormulae(ctx context.Context) ([]Formula, error) {
	var all []Formula
	if err := c.getJSON(ctx, "/formula.json", &all); err != nil {
		return nil, fmt.Errorf("listing formulae: %w", err)
	}
	return all, nil
}

// ListCasks retrieves the full cask index.
func (c *Client) ListCasks(ctx context.Context) ([]Cask, error) {
	var all []Cask
	if err := c.getJSON(ctx, "/cask.json", &all); err != nil {
		return nil, fmt.Errorf("listing casks: %w", err)
	}
	return all, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: unexpected status %d from %s", ErrNetwork, resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", ErrNetwork, path, err)
	}
	return nil
}

// coreName strips a "homebrew/core/" qualifier and rejects other taps.
func coreName(name string) (string, error) {
	if !strings.Contains(name, "/") {
		return name, nil
	}
	if rest, ok := strings.CutPrefix(name, CoreTap+"/"); ok && !strings.Contains(rest, "/") {
		return rest, nil
	}
	return "", fmt.Errorf("%s: %w", name, ErrTapFormula)
}

// IsTapQualified reports whether name names a formula outside the core tap.
func IsTapQualified(name string) bool {
	_, err := coreName(name)
	return errors.Is(err, ErrTapFormula)
}
