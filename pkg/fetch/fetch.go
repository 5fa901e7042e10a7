// Package fetch downloads the rent-contracts snapshot from the DLD open
// data portal. The portal serves an HTML page; the actual CSV lives behind
// a download anchor that has to be scraped out of the page first.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/net/html"

	rferrors "github.com/rentflow/rentflow/pkg/errors"
)

// downloadAnchorClass marks the portal's download link.
const downloadAnchorClass = "action-icon-anchor"

// RetryPolicy bounds transient-failure retries.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries transient network failures up to 3 attempts
// with capped exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 2 * time.Second,
		MaxInterval:     30 * time.Second,
	}
}

// Fetcher retrieves the source page and the linked snapshot file.
type Fetcher struct {
	url      string
	client   *http.Client
	retry    RetryPolicy
	progress bool
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(f *Fetcher) { f.retry = p }
}

// WithProgress toggles the terminal progress bar during downloads.
func WithProgress(enabled bool) Option {
	return func(f *Fetcher) { f.progress = enabled }
}

// New creates a Fetcher for the given source page URL.
func New(url string, opts ...Option) *Fetcher {
	f := &Fetcher{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
		retry:  DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves the source page body. Transient failures are retried
// per the configured policy.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	var body []byte
	err := f.withRetry(ctx, "fetch", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return rferrors.Wrap(err, rferrors.CodeFetchFailed, "request failed")
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return rferrors.New(rferrors.CodeFetchFailed, "unexpected status").
				WithContext("status", resp.StatusCode)
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return rferrors.Wrap(err, rferrors.CodeFetchFailed, "reading body failed")
		}
		return nil
	})
	return body, err
}

// LocateDownloadLink finds the snapshot URL in the portal page. Returns
// false when no download anchor is present; that is a structural condition,
// not a transfer error.
func LocateDownloadLink(page []byte) (string, bool) {
	doc, err := html.Parse(strings.NewReader(string(page)))
	if err != nil {
		return "", false
	}

	var href string
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "a" {
			var class, link string
			for _, attr := range n.Attr {
				switch attr.Key {
				case "class":
					class = attr.Val
				case "href":
					link = attr.Val
				}
			}
			if link != "" && hasClass(class, downloadAnchorClass) {
				href = link
				return true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(doc)

	return href, href != ""
}

func hasClass(classAttr, want string) bool {
	for _, c := range strings.Fields(classAttr) {
		if c == want {
			return true
		}
	}
	return false
}

// Download streams url to dest, retrying transient transfer failures.
// The file is written through a temp name and renamed on success so a
// failed transfer never leaves a partial artifact behind.
func (f *Fetcher) Download(ctx context.Context, url, dest string) error {
	return f.withRetry(ctx, "download", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return rferrors.Wrap(err, rferrors.CodeDownloadFailed, "transfer failed")
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return rferrors.New(rferrors.CodeDownloadFailed, "unexpected status").
				WithContext("status", resp.StatusCode).
				WithContext("url", url)
		}

		tmp := dest + ".partial"
		out, err := os.Create(tmp)
		if err != nil {
			return backoff.Permanent(err)
		}

		var w io.Writer = out
		if f.progress {
			bar := progressbar.DefaultBytes(resp.ContentLength, "downloading")
			w = io.MultiWriter(out, bar)
		}

		if _, err := io.Copy(w, resp.Body); err != nil {
			out.Close()
			os.Remove(tmp)
			return rferrors.Wrap(err, rferrors.CodeDownloadFailed, "copy failed")
		}
		if err := out.Close(); err != nil {
			os.Remove(tmp)
			return backoff.Permanent(err)
		}
		return os.Rename(tmp, dest)
	})
}

// Run chains fetch, locate and download into dest.
func (f *Fetcher) Run(ctx context.Context, dest string) error {
	page, err := f.Fetch(ctx)
	if err != nil {
		return err
	}

	link, ok := LocateDownloadLink(page)
	if !ok {
		return rferrors.LinkNotFound(f.url)
	}
	slog.Info("download link located", "url", link)

	return f.Download(ctx, link, dest)
}

// withRetry runs op under the fetcher's retry policy. Permanent errors
// and non-retryable codes abort immediately.
func (f *Fetcher) withRetry(ctx context.Context, name string, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.retry.InitialInterval
	policy.MaxInterval = f.retry.MaxInterval

	attempts := uint64(f.retry.MaxAttempts)
	if attempts == 0 {
		attempts = 1
	}

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !rferrors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		slog.Warn("transient failure, will retry", "op", name, "attempt", attempt, "error", err)
		return err
	}

	b := backoff.WithMaxRetries(backoff.WithContext(policy, ctx), attempts-1)
	if err := backoff.Retry(wrapped, b); err != nil {
		return fmt.Errorf("%s failed after %d attempt(s): %w", name, attempt, err)
	}
	return nil
}
