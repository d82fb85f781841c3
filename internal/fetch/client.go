// Package fetch retrieves repository metadata over HTTP: Release files,
// Packages and Sources indices, and package payloads for deep checks. It
// owns all network I/O of a verification run; the core engine only ever
// sees decompressed bytes plus provenance.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/rs/dnscache"
	circuit "github.com/rubyist/circuitbreaker"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUpstreamDown = errors.New("repository host unavailable")
)

// Client downloads repository files with retry, per-host circuit breaking,
// and DNS caching. It is safe for concurrent use.
type Client struct {
	http       *http.Client
	userAgent  string
	maxRetries int
	baseDelay  time.Duration

	mu       sync.RWMutex
	breakers map[string]*circuit.Breaker

	stop      chan struct{}
	closeOnce sync.Once
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithMaxRetries sets the maximum retry attempts per request
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithBaseDelay sets the base delay for retry backoff
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) { c.baseDelay = d }
}

// NewClient creates a Client with a DNS-caching transport. Close releases
// the background DNS refresher.
func NewClient(opts ...Option) *Client {
	resolver := &dnscache.Resolver{}
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				resolver.Refresh(true)
			case <-stop:
				return
			}
		}
	}()

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	c := &Client{
		http: &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					host, port, err := net.SplitHostPort(addr)
					if err != nil {
						return nil, err
					}
					ips, err := resolver.LookupHost(ctx, host)
					if err != nil {
						return nil, err
					}
					for _, ip := range ips {
						conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
						if err == nil {
							return conn, nil
						}
					}
					return nil, fmt.Errorf("failed to dial any resolved IP for %s", host)
				},
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent:  "aptcheck/1.0",
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
		breakers:   make(map[string]*circuit.Breaker),
		stop:       stop,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close stops the DNS refresher. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.stop) })
}

// breaker returns or creates the circuit breaker for a host
func (c *Client) breaker(host string) *circuit.Breaker {
	c.mu.RLock()
	b, ok := c.breakers[host]
	c.mu.RUnlock()
	if ok {
		return b
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.breakers[host]; ok {
		return b
	}

	// Trips after 5 consecutive failures, recovering on exponential backoff.
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 10 * time.Second
	expBackoff.MaxInterval = 2 * time.Minute
	expBackoff.Reset()

	b = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	})
	c.breakers[host] = b
	return b
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}

// Get downloads the full body at url. A 404 returns ErrNotFound without
// retrying; 5xx responses are retried with backoff.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	b := c.breaker(hostOf(rawURL))
	if !b.Ready() {
		return nil, fmt.Errorf("circuit open for %s: %w", hostOf(rawURL), ErrUpstreamDown)
	}

	var body []byte
	err := b.Call(func() error {
		var err error
		body, err = c.getWithRetry(ctx, rawURL)
		if errors.Is(err, ErrNotFound) {
			// A missing file is an answer, not a host failure.
			return nil
		}
		return err
	}, 0)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, ErrNotFound
	}
	return body, nil
}

func (c *Client) getWithRetry(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := c.doGet(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if errors.Is(err, ErrNotFound) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) doGet(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return io.ReadAll(resp.Body)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", rawURL, ErrNotFound)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%s: status %d: %w", rawURL, resp.StatusCode, ErrUpstreamDown)
	default:
		return nil, fmt.Errorf("%s: unexpected status %d", rawURL, resp.StatusCode)
	}
}

// Head probes a URL without downloading it, returning the reported size
// and etag. Used by the check-files mode to detect broken file references.
func (c *Client) Head(ctx context.Context, rawURL string) (size int64, etag string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("probing %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		size = int64(-1)
		if cl := resp.Header.Get("Content-Length"); cl != "" {
			if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
				size = n
			}
		}
		return size, resp.Header.Get("ETag"), nil
	case resp.StatusCode == http.StatusNotFound:
		return 0, "", fmt.Errorf("%s: %w", rawURL, ErrNotFound)
	default:
		return 0, "", fmt.Errorf("%s: unexpected status %d", rawURL, resp.StatusCode)
	}
}
