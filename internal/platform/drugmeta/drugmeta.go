// Package drugmeta looks up display metadata for drug codes. Presentation
// only: scheduling logic never depends on anything returned here.
package drugmeta

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/dosepilot/dosepilot/internal/platform/apperr"
)

// Metadata is the displayable subset of a drug record.
type Metadata struct {
	Code     string `json:"code"`
	Display  string `json:"display"`
	Strength string `json:"strength,omitempty"`
	Form     string `json:"form,omitempty"`
}

type Client interface {
	Lookup(ctx context.Context, code string) (*Metadata, error)
}

const cacheTTL = time.Hour

// HTTPClient resolves codes against the drug metadata service, caching hits.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	cache   *gocache.Cache
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		cache:   gocache.New(cacheTTL, 2*cacheTTL),
	}
}

func (c *HTTPClient) Lookup(ctx context.Context, code string) (*Metadata, error) {
	if cached, ok := c.cache.Get(code); ok {
		return cached.(*Metadata), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/drugs/"+code, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, apperr.NotFound("unknown drug code %q", code)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("drug metadata service returned status %d for %q", resp.StatusCode, code)
	}

	var m Metadata
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, err
	}
	c.cache.Set(code, &m, gocache.DefaultExpiration)
	return &m, nil
}

// StaticClient serves a fixed code table, used in tests.
type StaticClient struct {
	Entries map[string]*Metadata
}

func (c *StaticClient) Lookup(_ context.Context, code string) (*Metadata, error) {
	m, ok := c.Entries[code]
	if !ok {
		return nil, apperr.NotFound("unknown drug code %q", code)
	}
	return m, nil
}
