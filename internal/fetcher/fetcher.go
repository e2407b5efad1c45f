// Package fetcher performs conditional HTTP GETs against feed origins.
//
// It implements SSRF prevention, response size limiting, and proper use of
// ETag/If-Modified-Since caching headers, following the same connection
// pooling and retry-with-backoff approach as a well-behaved feed crawler.
package fetcher

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"rivulet/internal/errkind"
)

const (
	// MaxBodySize limits a fetched feed body to 10MB.
	MaxBodySize = 10 * 1024 * 1024
	// DefaultTimeout is the per-request wall-clock timeout.
	DefaultTimeout = 10 * time.Second
	// MaxRedirects bounds redirect chains to prevent loops.
	MaxRedirects = 5
	// DefaultUserAgent identifies the fetcher to feed origins.
	DefaultUserAgent = "Rivulet/1.0 (+https://github.com/rivulet/rivulet)"
)

var (
	ErrInvalidURL      = errors.New("invalid url")
	ErrPrivateIP       = errors.New("private or internal address not allowed")
	ErrInvalidScheme   = errors.New("only http and https schemes allowed")
	ErrMaxSizeExceeded = errors.New("response body exceeds maximum size")
)

// Kind tags a FetchResult as either a fresh body or a 304 Not Modified.
type Kind int

const (
	KindFresh Kind = iota
	KindNotModified
)

// FetchResult is the tagged result of a conditional fetch. When Kind is
// KindNotModified, Body/ETag/LastModified are unset and the caller must
// leave the feed's stored cache headers untouched.
type FetchResult struct {
	Kind         Kind
	Body         []byte
	ETag         *string
	LastModified *string
	FinalURL     string
	FetchedAt    time.Time
	RetryAfter   time.Duration
	StatusCode   int // set on the non-OK/non-304 path, for retry classification
}

// Config tunes the fetcher's HTTP transport and timeouts.
type Config struct {
	UserAgent                    string
	MaxIdleConns                 int
	MaxIdleConnsPerHost          int
	MaxConnsPerHost              int
	IdleConnTimeoutSeconds       int
	TimeoutSeconds               int
	DialTimeoutSeconds           int
	TLSHandshakeTimeoutSeconds   int
	ResponseHeaderTimeoutSeconds int
	SkipSSRFCheck                bool // testing only
}

// Fetcher performs conditional HTTP GETs with SSRF prevention and bounded
// response size.
type Fetcher struct {
	client        *http.Client
	userAgent     string
	maxSize       int64
	skipSSRFCheck bool
}

// New creates a Fetcher with default settings.
func New() *Fetcher {
	return NewWithConfig(Config{})
}

// NewForTesting creates a Fetcher that allows local/private addresses, for
// use against httptest servers.
func NewForTesting() *Fetcher {
	return NewWithConfig(Config{SkipSSRFCheck: true})
}

// NewWithConfig creates a Fetcher with explicit transport tuning; zero
// values fall back to sane defaults.
func NewWithConfig(cfg Config) *Fetcher {
	timeout := orDefault(cfg.TimeoutSeconds, 10)
	dialTimeout := orDefault(cfg.DialTimeoutSeconds, 10)
	tlsTimeout := orDefault(cfg.TLSHandshakeTimeoutSeconds, 10)
	respHeaderTimeout := orDefault(cfg.ResponseHeaderTimeoutSeconds, 10)
	idleConnTimeout := orDefault(cfg.IdleConnTimeoutSeconds, 90)

	transport := &http.Transport{
		MaxIdleConns:        orDefault(cfg.MaxIdleConns, 100),
		MaxIdleConnsPerHost: orDefault(cfg.MaxIdleConnsPerHost, 10),
		MaxConnsPerHost:     orDefault(cfg.MaxConnsPerHost, 20),
		IdleConnTimeout:     time.Duration(idleConnTimeout) * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   time.Duration(dialTimeout) * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   time.Duration(tlsTimeout) * time.Second,
		ResponseHeaderTimeout: time.Duration(respHeaderTimeout) * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(timeout) * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= MaxRedirects {
					return fmt.Errorf("stopped after %d redirects", MaxRedirects)
				}
				return nil
			},
		},
		userAgent:     userAgent,
		maxSize:       MaxBodySize,
		skipSSRFCheck: cfg.SkipSSRFCheck,
	}
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// ValidateURL rejects non-http(s) schemes, URLs with no host, and
// loopback/private/link-local hosts, preventing SSRF via feed URLs.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return ErrInvalidURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if parsed.Scheme == "" {
		return ErrInvalidURL
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrInvalidScheme
	}

	host := parsed.Hostname()
	if host == "" {
		return ErrInvalidURL
	}
	for _, blocked := range []string{"localhost", "127.0.0.1", "::1", "0.0.0.0"} {
		if strings.EqualFold(host, blocked) {
			return ErrPrivateIP
		}
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return ErrPrivateIP
		}
	}
	return nil
}

// Fetch issues a conditional GET against feedURL, sending If-None-Match /
// If-Modified-Since when etag/lastModified are non-nil.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string, etag, lastModified *string) (*FetchResult, error) {
	if !f.skipSSRFCheck {
		if err := ValidateURL(feedURL); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept-Encoding", "gzip, br")
	if lastModified != nil && *lastModified != "" {
		req.Header.Set("If-Modified-Since", *lastModified)
	}
	if etag != nil && *etag != "" {
		req.Header.Set("If-None-Match", *etag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch failed: %v", errkind.ErrHTTP, err)
	}
	defer resp.Body.Close()

	fetchTime := time.Now().UTC()
	finalURL := resp.Request.URL.String()

	if resp.StatusCode == http.StatusNotModified {
		return &FetchResult{
			Kind:      KindNotModified,
			FinalURL:  finalURL,
			FetchedAt: fetchTime,
		}, nil
	}

	if resp.StatusCode != http.StatusOK {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return &FetchResult{FinalURL: finalURL, FetchedAt: fetchTime, RetryAfter: retryAfter, StatusCode: resp.StatusCode},
			fmt.Errorf("%w: unexpected status code: %d", errkind.ErrHTTP, resp.StatusCode)
	}

	reader, err := decompress(resp)
	if err != nil {
		return nil, err
	}
	if closer, ok := reader.(io.Closer); ok {
		defer closer.Close()
	}

	limited := io.LimitedReader{R: reader, N: f.maxSize + 1}
	body, err := io.ReadAll(&limited)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxSize {
		return nil, ErrMaxSizeExceeded
	}

	result := &FetchResult{
		Kind:      KindFresh,
		Body:      body,
		FinalURL:  finalURL,
		FetchedAt: fetchTime,
	}
	if v := resp.Header.Get("ETag"); v != "" {
		result.ETag = &v
	}
	if v := resp.Header.Get("Last-Modified"); v != "" {
		result.LastModified = &v
	}
	return result, nil
}

func decompress(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		return gz, nil
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

func parseRetryAfter(headerValue string) time.Duration {
	if headerValue == "" {
		return 0
	}
	if seconds := parseRetryAfterSeconds(headerValue); seconds > 0 {
		return seconds
	}
	if httpDate, err := time.Parse(time.RFC1123, headerValue); err == nil {
		if delay := time.Until(httpDate); delay > 0 {
			return delay
		}
	}
	return 0
}

func parseRetryAfterSeconds(value string) time.Duration {
	value = strings.TrimSpace(value)
	var seconds int
	if _, err := fmt.Sscanf(value, "%d", &seconds); err != nil || seconds <= 0 || seconds > 86400 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// FetchWithRetry retries Fetch with exponential backoff (honoring
// Retry-After on 429/503), giving up after maxRetries retries (at most
// maxRetries+1 attempts in all). Errors
// that can never succeed on retry (invalid URL, SSRF block, oversized
// body, non-retryable 4xx) are returned immediately.
func (f *Fetcher) FetchWithRetry(ctx context.Context, feedURL string, etag, lastModified *string, maxRetries int) (*FetchResult, error) {
	var lastErr error
	var lastResp *FetchResult

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := backoffFor(attempt, lastResp)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := f.Fetch(ctx, feedURL, etag, lastModified)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		lastResp = resp

		if errors.Is(err, ErrInvalidURL) || errors.Is(err, ErrPrivateIP) ||
			errors.Is(err, ErrInvalidScheme) || errors.Is(err, ErrMaxSizeExceeded) {
			return nil, err
		}
		if resp != nil && isNonRetryableStatus(resp.StatusCode) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isNonRetryableStatus reports whether status is a client error that a
// retry can never fix (e.g. 404, 410), as opposed to 429 (rate limited,
// honors Retry-After) which is worth retrying.
func isNonRetryableStatus(status int) bool {
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests
}

func backoffFor(attempt int, lastResp *FetchResult) time.Duration {
	if lastResp != nil && lastResp.RetryAfter > 0 {
		backoff := lastResp.RetryAfter
		if backoff > 5*time.Minute {
			backoff = 5 * time.Minute
		}
		return backoff
	}
	backoff := time.Duration(1<<uint(attempt-1)) * time.Second
	jitterRange := float64(backoff) * 0.1
	jitter := time.Duration((rand.Float64()*2 - 1) * jitterRange)
	return backoff + jitter
}
