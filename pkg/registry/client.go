// Package registry is a thin client for a PyPI-compatible package index
// exposing the JSON API used during package validation.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Client queries the package index over HTTP. All methods fail on any
// non-200 response so that callers can treat errors as untrusted results.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  zerolog.Logger
}

// NewClient returns a Client for the index at baseURL. The timeout bounds
// every request, including artifact downloads.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "registry").Logger(),
	}
}

// Project is the subset of project-level metadata validation relies on.
type Project struct {
	Info struct {
		Name        string            `json:"name"`
		ProjectURLs map[string]string `json:"project_urls"`
	} `json:"info"`
}

// Artifact is one published release file together with the digests the
// index advertises for it.
type Artifact struct {
	URL          string `json:"url"`
	MD5Digest    string `json:"md5_digest"`
	SHA256Digest string `json:"sha256_digest"`
}

type releaseResponse struct {
	Releases map[string][]Artifact `json:"releases"`
}

// GetProject fetches project metadata for a package name.
func (c *Client) GetProject(ctx context.Context, name string) (*Project, error) {
	var proj Project
	if err := c.getJSON(ctx, fmt.Sprintf("%s/pypi/%s/json", c.baseURL, name), &proj); err != nil {
		return nil, err
	}
	return &proj, nil
}

// GetRelease fetches the artifacts published for an exact package version.
// A version with no artifacts returns an empty slice, not an error.
func (c *Client) GetRelease(ctx context.Context, name, version string) ([]Artifact, error) {
	var resp releaseResponse
	url := fmt.Sprintf("%s/pypi/%s/%s/json", c.baseURL, name, version)
	if err := c.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	return resp.Releases[version], nil
}

// Download opens a stream for a release artifact. The caller must close the
// returned reader.
func (c *Client) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building download request for %s: %w", url, err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("downloading %s: unexpected status %d", url, resp.StatusCode)
	}
	return resp.Body, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", url, err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().Str("url", url).Msg("Querying package index")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("querying %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("querying %s: unexpected status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", url, err)
	}
	return nil
}
