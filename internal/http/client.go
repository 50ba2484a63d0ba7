package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Common errors. A *StatusError matches the one fitting its status code
// through errors.Is.
var (
	ErrNotFound     = errors.New("http: resource not found")
	ErrForbidden    = errors.New("http: access forbidden")
	ErrUnauthorized = errors.New("http: unauthorized")
	ErrServerError  = errors.New("http: server error")
)

// StatusError is returned for a non-2xx response.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected response status: %d", e.StatusCode)
}

// Is matches the sentinel errors of this package.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrServerError:
		return e.StatusCode >= 500
	}
	return false
}

// TransportError is returned when a request fails below HTTP: the
// connection could not be made, broke, or the body could not be read.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("http: %s %s: %v", e.Op, redact(e.URL), e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// newTransportError wraps err, stripping the query of any *url.Error inside
// it so presigned credentials never reach error messages.
func newTransportError(op, url string, err error) *TransportError {
	var ue *neturl.Error
	if errors.As(err, &ue) {
		ue.URL = redact(ue.URL)
	}
	return &TransportError{Op: op, URL: url, Err: err}
}

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 100
	MaxIdleConnsPerHost int

	// Timeout for individual requests.
	// Default: 60s
	Timeout time.Duration

	// RequestsPerSecond limits how many fetches start per second.
	// Zero means unlimited.
	RequestsPerSecond float64

	// Burst is the number of fetches allowed to start at once when
	// RequestsPerSecond is set.
	// Default: 10
	Burst int

	// UserAgent is sent with every request when set.
	UserAgent string
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 100,
		Timeout:             60 * time.Second,
		Burst:               10,
	}
}

// Callback receives the outcome of an asynchronous fetch. Exactly one method
// is called per fetch.
type Callback interface {
	Completed(data []byte)
	Failed(err error)
	Cancelled()
}

// Stats are cumulative counters of a client.
type Stats struct {
	Requests int64
	Failures int64
	Bytes    int64
}

// Client fetches chunk bodies from presigned links.
type Client struct {
	client  *http.Client
	limiter *rate.Limiter
	opts    Options

	wg       sync.WaitGroup
	requests atomic.Int64
	failures atomic.Int64
	bytes    atomic.Int64
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true, // chunk bodies carry their own codec
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		limiter: rate.NewLimiter(limit, burst),
		opts:    opts,
	}
}

// Fetch downloads the body at url in a single attempt. Retrying is left to
// the caller.
func (c *Client) Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	c.requests.Add(1)
	resp, err := c.client.Do(req)
	if err != nil {
		c.failures.Add(1)
		return nil, newTransportError("get", url, err)
	}
	defer resp.Body.Close()

	if err := checkStatusCode(resp.StatusCode, url); err != nil {
		c.failures.Add(1)
		io.Copy(io.Discard, resp.Body)
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.failures.Add(1)
		return nil, newTransportError("read body", url, err)
	}
	c.bytes.Add(int64(len(data)))
	return data, nil
}

// FetchAsync starts a fetch and returns immediately. The outcome is
// delivered to cb from another goroutine; a fetch aborted because ctx was
// cancelled is reported through Cancelled rather than Failed.
func (c *Client) FetchAsync(ctx context.Context, url string, headers map[string]string, cb Callback) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		data, err := c.Fetch(ctx, url, headers)
		switch {
		case err == nil:
			cb.Completed(data)
		case errors.Is(err, context.Canceled) && ctx.Err() != nil:
			cb.Cancelled()
		default:
			cb.Failed(err)
		}
	}()
}

// Stats returns the client's counters.
func (c *Client) Stats() Stats {
	return Stats{
		Requests: c.requests.Load(),
		Failures: c.failures.Load(),
		Bytes:    c.bytes.Load(),
	}
}

// Close waits for outstanding asynchronous fetches and drops idle
// connections.
func (c *Client) Close() error {
	c.wg.Wait()
	c.client.CloseIdleConnections()
	return nil
}

// checkStatusCode returns a *StatusError for non-success status codes.
func checkStatusCode(code int, url string) error {
	if code >= 200 && code < 300 {
		return nil
	}
	return &StatusError{StatusCode: code, URL: url}
}

// redact strips the query string, which carries presigned credentials.
func redact(url string) string {
	if base, _, ok := strings.Cut(url, "?"); ok {
		return base + "?REDACTED"
	}
	return url
}
