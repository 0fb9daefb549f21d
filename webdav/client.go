// Package webdav implements the WebDAV primitives a CalDAV client needs:
// PROPFIND, REPORT, PUT and DELETE over an authenticated, retrying HTTP
// transport, with namespace-tolerant multistatus parsing.
package webdav

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/caldavgo/caldav/internal/xmlutil"
)

const (
	maxResponseBytes = 10 << 20 // 10MB, guards against a misbehaving server streaming forever.

	defaultConnectTimeout = 30 * time.Second
	defaultReadTimeout    = 300 * time.Second
	defaultWriteTimeout   = 60 * time.Second

	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 2 * time.Second
	maxRetries     = 2
)

// Client issues WebDAV requests against a single CalDAV server, applying
// retry-with-backoff to transient failures and enforcing the redirect
// policy configured at construction.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger overrides the default package logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRedirectPolicy sets how cross-origin redirects are handled.
func WithRedirectPolicy(p RedirectPolicy) Option {
	return func(c *Client) {
		c.http.CheckRedirect = redirectCheckFunc(p)
	}
}

// WithHTTPTransport overrides the RoundTripper, typically to install a
// BasicAuthTransport or BearerAuthTransport.
func WithHTTPTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.http.Transport = rt }
}

// NewClient builds a Client rooted at baseURL, following same-origin
// redirects only and applying an overall per-request timeout of
// defaultReadTimeout by default; no separate connect or write timeout is
// set.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("webdav: invalid base URL %q: %w", baseURL, err)
	}
	c := &Client{
		baseURL: u,
		http: &http.Client{
			Timeout:       defaultReadTimeout,
			CheckRedirect: redirectCheckFunc(RedirectSameOriginOnly),
		},
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolve(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("webdav: invalid path %q: %w", path, err)
	}
	return c.baseURL.ResolveReference(ref), nil
}

// rawRequest performs one HTTP round trip with retry-with-backoff on
// network errors, 429 and 5xx responses, honoring Retry-After when the
// server sends one.
func (c *Client) rawRequest(ctx context.Context, method, path string, body []byte, headers map[string]string) (*http.Response, []byte, error) {
	target, err := c.resolve(path)
	if err != nil {
		return nil, nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			c.logger.Debug().Str("method", method).Str("url", target.String()).Int("attempt", attempt).Dur("delay", delay).Msg("retrying webdav request")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
		if err != nil {
			return nil, nil, fmt.Errorf("webdav: building %s request: %w", method, err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Debug().Err(err).Str("method", method).Str("url", target.String()).Msg("webdav request failed")
			continue
		}

		limited := io.LimitReader(resp.Body, maxResponseBytes+1)
		respBody, readErr := io.ReadAll(limited)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("webdav: reading response body: %w", readErr)
			continue
		}
		if len(respBody) > maxResponseBytes {
			return nil, nil, fmt.Errorf("webdav: response body exceeded %d bytes", maxResponseBytes)
		}

		if shouldRetryStatus(resp.StatusCode) && attempt < maxRetries {
			lastErr = &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: respBody, RetryAfter: resp.Header.Get("Retry-After")}
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if wait, ok := parseRetryAfter(ra); ok && wait > 0 {
					select {
					case <-time.After(wait):
					case <-ctx.Done():
						return nil, nil, ctx.Err()
					}
				}
			}
			continue
		}

		return resp, respBody, nil
	}

	return nil, nil, lastErr
}

func shouldRetryStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// parseRetryAfter accepts either form RFC 7231 allows for the header: a
// number of seconds, or an HTTP-date to wait until.
func parseRetryAfter(ra string) (time.Duration, bool) {
	if secs, err := strconv.Atoi(ra); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	if when, err := http.ParseTime(ra); err == nil {
		return time.Until(when), true
	}
	return 0, false
}

func backoffDelay(attempt int) time.Duration {
	d := retryBaseDelay * time.Duration(1<<uint(attempt-1))
	if d > retryMaxDelay {
		d = retryMaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2))
	return d/2 + jitter
}

func toResult[T any](resp *http.Response, body []byte, err error, parse func([]byte) (T, error)) DavResult[T] {
	if err != nil {
		if httpErr, ok := err.(*HTTPError); ok {
			return HTTPErrorResult[T](httpErr)
		}
		return NetworkErrorResult[T](err)
	}
	if resp.StatusCode >= 300 {
		return HTTPErrorResult[T](&HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: body})
	}
	v, perr := parse(body)
	if perr != nil {
		return ParseErrorResult[T](perr)
	}
	return Success(v)
}

// Propfind issues a PROPFIND request at the given depth ("0" or "1") with
// the supplied request body and returns the parsed multistatus document.
func (c *Client) Propfind(ctx context.Context, path string, depth string, body []byte) DavResult[*xmlutil.Multistatus] {
	resp, respBody, err := c.rawRequest(ctx, "PROPFIND", path, body, map[string]string{
		"Depth":        depth,
		"Content-Type": "application/xml; charset=utf-8",
	})
	return toResult(resp, respBody, err, xmlutil.ParseMultistatus)
}

// Report issues a REPORT request (calendar-query, calendar-multiget or
// sync-collection) and returns the parsed multistatus document.
func (c *Client) Report(ctx context.Context, path string, depth string, body []byte) DavResult[*xmlutil.Multistatus] {
	resp, respBody, err := c.rawRequest(ctx, "REPORT", path, body, map[string]string{
		"Depth":        depth,
		"Content-Type": "application/xml; charset=utf-8",
	})
	return toResult(resp, respBody, err, xmlutil.ParseMultistatus)
}

// PutResult is what a successful PUT returns: the server's new ETag, if
// it sent one, and whether the object was created (201) or replaced (204/200).
type PutResult struct {
	ETag    string
	Created bool
}

// Put stores data at path. When ifMatch is non-empty it is sent as
// If-Match for optimistic concurrency; when ifNoneMatchStar is true an
// "If-None-Match: *" header is sent instead, to require creation.
func (c *Client) Put(ctx context.Context, path string, data []byte, ifMatch string, ifNoneMatchStar bool) DavResult[PutResult] {
	headers := map[string]string{"Content-Type": "text/calendar; charset=utf-8"}
	if ifMatch != "" {
		headers["If-Match"] = ifMatch
	}
	if ifNoneMatchStar {
		headers["If-None-Match"] = "*"
	}
	resp, respBody, err := c.rawRequest(ctx, http.MethodPut, path, data, headers)
	return toResult(resp, respBody, err, func([]byte) (PutResult, error) {
		return PutResult{ETag: resp.Header.Get("ETag"), Created: resp.StatusCode == http.StatusCreated}, nil
	})
}

// Delete removes the resource at path. When ifMatch is non-empty it is
// sent as If-Match so the delete fails if the resource changed underfoot.
func (c *Client) Delete(ctx context.Context, path string, ifMatch string) DavResult[struct{}] {
	headers := map[string]string{}
	if ifMatch != "" {
		headers["If-Match"] = ifMatch
	}
	resp, respBody, err := c.rawRequest(ctx, http.MethodDelete, path, nil, headers)
	return toResult(resp, respBody, err, func([]byte) (struct{}, error) { return struct{}{}, nil })
}

// Get fetches the raw resource body at path, used to refetch a single
// calendar object by href.
func (c *Client) Get(ctx context.Context, path string) DavResult[[]byte] {
	resp, respBody, err := c.rawRequest(ctx, http.MethodGet, path, nil, nil)
	return toResult(resp, respBody, err, func(b []byte) ([]byte, error) { return b, nil })
}
