package engines

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"llmd/pkg/types"
)

const defaultCatalogueURL = "https://api.github.com"

// Catalogue reads engine releases from a GitHub-compatible releases API.
type Catalogue struct {
	BaseURL string
	Token   string
	Client  *http.Client
	// Retries bounds the retry budget for transient failures.
	Retries uint64
}

// Release fetches one release. An empty version or "latest" selects the
// latest release; other versions are looked up by tag, with a "v" prefix
// added when missing.
func (c *Catalogue) Release(ctx context.Context, owner, repo, version string) (types.Release, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/latest", c.base(), owner, repo)
	if v := strings.TrimSpace(version); v != "" && v != "latest" {
		if !strings.HasPrefix(v, "v") {
			v = "v" + v
		}
		endpoint = fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s", c.base(), owner, repo, url.PathEscape(v))
	}
	var rel types.Release
	if err := c.getJSON(ctx, endpoint, &rel); err != nil {
		return types.Release{}, err
	}
	if strings.TrimSpace(rel.Tag) == "" {
		return types.Release{}, errors.New("release response did not include tag_name")
	}
	return rel, nil
}

// Releases lists the releases of a repository, newest first.
func (c *Catalogue) Releases(ctx context.Context, owner, repo string) ([]types.Release, error) {
	var rels []types.Release
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases", c.base(), owner, repo)
	if err := c.getJSON(ctx, endpoint, &rels); err != nil {
		return nil, err
	}
	return rels, nil
}

func (c *Catalogue) base() string {
	if c.BaseURL == "" {
		return defaultCatalogueURL
	}
	return strings.TrimRight(c.BaseURL, "/")
}

// getJSON retries network errors, 429 and 5xx with exponential backoff.
// Other non-2xx responses fail immediately.
func (c *Catalogue) getJSON(ctx context.Context, endpoint string, out any) error {
	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	retries := c.Retries
	if retries == 0 {
		retries = 3
	}
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("User-Agent", "llmd-engine-installer")
		if c.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.Token)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			err := fmt.Errorf("catalogue request failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return err
			}
			return backoff.Permanent(err)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode catalogue response: %w", err))
		}
		return nil
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	eb.MaxInterval = 5 * time.Second
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(eb, retries), ctx))
}
