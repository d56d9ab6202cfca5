// Package scrape fetches raw article documents with bounded retries.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Kind categorizes a fetch failure so callers can map it to a status
// code at the boundary.
type Kind int

const (
	KindNetwork Kind = iota
	KindTimeout
	KindHTTPStatus
)

// Error is the typed failure returned by Client.Get.
type Error struct {
	Kind   Kind
	Status int
	URL    string
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTimeout:
		return fmt.Sprintf("fetch %s: timed out", e.URL)
	case KindHTTPStatus:
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.Status)
	default:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a timeout.
func (e *Error) Timeout() bool { return e.Kind == KindTimeout }

// Result is a successfully fetched document.
type Result struct {
	ResolvedURL string
	Body        []byte
	ContentType string
}

// Statuses that are worth retrying on an idempotent GET.
var retryStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Client fetches documents with a fixed per-request timeout, a bounded
// retry count, and exponential backoff.
type Client struct {
	httpClient *http.Client
	retries    int
	backoff    time.Duration
	userAgent  string
}

// New creates a fetch client. retries is the number of additional
// attempts after the first one.
func New(timeout time.Duration, retries int, backoff time.Duration, userAgent string) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		retries:    retries,
		backoff:    backoff,
		userAgent:  userAgent,
	}
}

// Get retrieves the document at rawURL. Only responses listed in
// retryStatuses are retried; transport failures are returned
// immediately as KindTimeout or KindNetwork.
func (c *Client) Get(ctx context.Context, rawURL string) (*Result, error) {
	var lastStatus int

	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			delay := c.backoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, &Error{Kind: KindTimeout, URL: rawURL, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, &Error{Kind: KindNetwork, URL: rawURL, Err: err}
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if isTimeout(err) {
				return nil, &Error{Kind: KindTimeout, URL: rawURL, Err: err}
			}
			return nil, &Error{Kind: KindNetwork, URL: rawURL, Err: err}
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, &Error{Kind: KindNetwork, URL: rawURL, Err: err}
			}
			return &Result{
				ResolvedURL: resp.Request.URL.String(),
				Body:        body,
				ContentType: resp.Header.Get("Content-Type"),
			}, nil
		}

		lastStatus = resp.StatusCode
		resp.Body.Close()

		if !retryStatuses[resp.StatusCode] {
			return nil, &Error{Kind: KindHTTPStatus, Status: resp.StatusCode, URL: rawURL}
		}
	}

	return nil, &Error{Kind: KindHTTPStatus, Status: lastStatus, URL: rawURL}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
