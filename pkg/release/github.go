// Package release publishes pipeline artifacts to GitHub Releases.
// One release per day; an existing release for today's tag is the signal
// that the run already happened and should be skipped entirely.
package release

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	rferrors "github.com/rentflow/rentflow/pkg/errors"
)

const defaultAPIBase = "https://api.github.com"

// Release is a created GitHub release handle.
type Release struct {
	ID        int64  `json:"id"`
	TagName   string `json:"tag_name"`
	Name      string `json:"name"`
	UploadURL string `json:"upload_url"`
}

// Client talks to the GitHub Releases API for one repository.
type Client struct {
	repo    string // owner/name
	token   string
	apiBase string
	http    *http.Client
	retries int
	tag     func() string
}

// Option configures a Client.
type Option func(*Client)

// WithAPIBase overrides the API endpoint (for tests).
func WithAPIBase(base string) Option {
	return func(c *Client) { c.apiBase = strings.TrimRight(base, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRetries bounds upload retry attempts.
func WithRetries(n int) Option {
	return func(c *Client) { c.retries = n }
}

// WithTagFunc overrides release tag generation (for tests).
func WithTagFunc(f func() string) Option {
	return func(c *Client) { c.tag = f }
}

// NewClient creates a release client. A missing token is a configuration
// error surfaced before any data is touched.
func NewClient(repo, token string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, rferrors.MissingEnv("GH_TOKEN")
	}
	if repo == "" || !strings.Contains(repo, "/") {
		return nil, rferrors.New(rferrors.CodeInvalidConfig, "repository must be owner/name").
			WithContext("repo", repo)
	}

	c := &Client{
		repo:    repo,
		token:   token,
		apiBase: defaultAPIBase,
		http:    &http.Client{Timeout: 60 * time.Second},
		retries: 3,
		tag: func() string {
			return "release-" + time.Now().Format("2006-01-02")
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Tag returns the release tag this client would publish under.
func (c *Client) Tag() string { return c.tag() }

// ReleaseExists reports whether a release with the given tag exists.
func (c *Client) ReleaseExists(ctx context.Context, tag string) (bool, error) {
	u := fmt.Sprintf("%s/repos/%s/releases/tags/%s", c.apiBase, c.repo, url.PathEscape(tag))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	c.auth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, rferrors.Wrap(err, rferrors.CodePublishFailed, "release lookup failed")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, rferrors.New(rferrors.CodePublishFailed, "release lookup failed").
			WithContext("status", resp.StatusCode)
	}
}

// CreateRelease creates a release for today's tag.
func (c *Client) CreateRelease(ctx context.Context) (*Release, error) {
	tag := c.tag()
	payload, _ := json.Marshal(map[string]interface{}{
		"tag_name": tag,
		"name":     tag,
		"body":     "Automated rent-contracts data release",
	})

	u := fmt.Sprintf("%s/repos/%s/releases", c.apiBase, c.repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	c.auth(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, rferrors.Wrap(err, rferrors.CodePublishFailed, "release creation failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, rferrors.New(rferrors.CodePublishFailed, "release creation failed").
			WithContext("status", resp.StatusCode).
			WithContext("body", string(body))
	}

	var rel Release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, rferrors.Wrap(err, rferrors.CodePublishFailed, "decoding release failed")
	}
	return &rel, nil
}

// Upload attaches files to a release as assets. Each upload is retried
// independently; one bad file fails the publish.
func (c *Client) Upload(ctx context.Context, rel *Release, files []string) error {
	// upload_url arrives as a URI template: .../assets{?name,label}
	base := rel.UploadURL
	if i := strings.Index(base, "{"); i >= 0 {
		base = base[:i]
	}

	for _, path := range files {
		if err := c.uploadOne(ctx, base, path); err != nil {
			return err
		}
		slog.Info("asset uploaded", "file", path)
	}
	return nil
}

func (c *Client) uploadOne(ctx context.Context, base, path string) error {
	op := func() error {
		f, err := os.Open(path)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return backoff.Permanent(err)
		}

		u := base + "?name=" + url.QueryEscape(filepath.Base(path))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, f)
		if err != nil {
			return backoff.Permanent(err)
		}
		c.auth(req)
		req.Header.Set("Content-Type", "application/octet-stream")
		req.ContentLength = info.Size()

		resp, err := c.http.Do(req)
		if err != nil {
			return rferrors.Wrap(err, rferrors.CodePublishFailed, "asset upload failed")
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusCreated {
			return rferrors.New(rferrors.CodePublishFailed, "asset upload failed").
				WithContext("status", resp.StatusCode).
				WithContext("file", path)
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	b := backoff.WithMaxRetries(backoff.WithContext(policy, ctx), uint64(c.retries-1))
	return backoff.Retry(op, b)
}

// Publish creates a release and uploads all files. Missing files are
// skipped with a warning; publishing nothing is an error.
func (c *Client) Publish(ctx context.Context, files []string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		} else {
			slog.Warn("skipping missing artifact", "file", f)
		}
	}
	if len(existing) == 0 {
		return rferrors.New(rferrors.CodePublishFailed, "no artifacts to publish")
	}

	rel, err := c.CreateRelease(ctx)
	if err != nil {
		return err
	}
	slog.Info("release created", "tag", rel.TagName, "files", len(existing))

	return c.Upload(ctx, rel, existing)
}

func (c *Client) auth(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
}
