package pkgindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultBaseURL is the public PyPI instance.
const DefaultBaseURL = "https://pypi.org"

// ErrNotFound means the index has no project under the requested name,
// which for a release check usually means nothing was published yet.
var ErrNotFound = errors.New("package not found in index")

// Client queries a PyPI-compatible JSON index for published versions.
// Lookups are cached for the lifetime of the client and concurrent
// lookups for the same project are collapsed into one request.
type Client struct {
	baseURL string
	httpc   *http.Client
	budget  *Budget
	group   singleflight.Group
	cache   sync.Map
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
		budget:  NewBudget(),
	}
}

// SetHTTPClient swaps the underlying HTTP client.
func (c *Client) SetHTTPClient(httpc *http.Client) {
	if httpc != nil {
		c.httpc = httpc
	}
}

type projectResponse struct {
	Info struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"info"`
}

// Latest returns the newest published version of the named project.
// Returns ErrNotFound (wrapped) when the index does not know the project.
func (c *Client) Latest(ctx context.Context, name string) (string, error) {
	key := NormalizeName(name)
	if key == "" {
		return "", fmt.Errorf("package name is required")
	}

	if v, ok := c.cache.Load(key); ok {
		return v.(string), nil
	}

	// Cache check and store live inside the flight so a lookup that
	// lands between a finished flight and its cache write cannot
	// trigger a second request.
	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.cache.Load(key); ok {
			return v, nil
		}
		version, err := c.fetchLatest(ctx, key)
		if err != nil {
			return nil, err
		}
		c.cache.Store(key, version)
		return version, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) fetchLatest(ctx context.Context, name string) (string, error) {
	if err := c.budget.Acquire(ctx); err != nil {
		return "", fmt.Errorf("waiting for index request budget: %w", err)
	}

	endpoint := c.baseURL + "/pypi/" + url.PathEscape(name) + "/json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("building index request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("querying index for %s: %w", name, err)
	}
	defer resp.Body.Close()
	c.budget.UpdateFromResponse(resp)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("index returned %s for %s: %s", resp.Status, name, strings.TrimSpace(string(snippet)))
	}

	var project projectResponse
	if err := json.NewDecoder(resp.Body).Decode(&project); err != nil {
		return "", fmt.Errorf("decoding index response for %s: %w", name, err)
	}
	if project.Info.Version == "" {
		return "", fmt.Errorf("index response for %s has no version", name)
	}
	return project.Info.Version, nil
}

var nameRuns = regexp.MustCompile(`[-_.]+`)

// NormalizeName lowercases a project name and collapses runs of
// dot, dash, and underscore into single dashes, the way package
// indexes canonicalize names.
func NormalizeName(name string) string {
	return nameRuns.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}
