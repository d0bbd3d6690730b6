// Package httpclient provides a unified outbound HTTP facade with pluggable
// backends, automatic retries, transparent decompression, and structured
// logging.
//
// Two backends are available: a standard connection-pooling client and an
// impersonating client that emits browser TLS/HTTP2 fingerprints. Both are
// driven through the same Client type; backend-specific error types never
// escape, every transport failure surfaces as a NetworkError.
package httpclient

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
)

// HTTP header constants.
const (
	HeaderAcceptEncoding     = "Accept-Encoding"
	HeaderContentEncoding    = "Content-Encoding"
	HeaderUserAgent          = "User-Agent"
	HeaderRetryAfter         = "Retry-After"
	HeaderProxyAuthorization = "Proxy-Authorization"

	EncodingGzip    = "gzip"
	EncodingDeflate = "deflate"
	EncodingBrotli  = "br"
)

// Client is the outbound HTTP facade. It is safe for concurrent use.
type Client struct {
	mu        sync.RWMutex
	config    Config
	client    *http.Client
	transport http.RoundTripper
	logger    *slog.Logger
	closed    bool
}

// New creates a Client for the given configuration. The backend, proxy and
// impersonation options are fixed for the lifetime of the client.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	var proxyURL *url.URL
	if cfg.Proxy != "" {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy URI: %w", err)
		}
		proxyURL = u
	}

	// An authenticated proxy contributes a Proxy-Authorization header so
	// that services reading the default header map see it. The header is
	// merged case-insensitively over any caller-supplied spelling.
	if proxyURL != nil && proxyURL.User != nil {
		pass, _ := proxyURL.User.Password()
		token := base64.StdEncoding.EncodeToString([]byte(proxyURL.User.Username() + ":" + pass))
		cfg.Headers = setHeaderFold(cfg.Headers, HeaderProxyAuthorization, "Basic "+token)
	}

	var rt http.RoundTripper
	var err error
	switch cfg.Backend {
	case BackendImpersonating:
		rt, err = newImpersonatingTransport(cfg.Impersonate, proxyURL)
	default:
		rt, err = newStandardTransport(proxyURL)
	}
	if err != nil {
		return nil, err
	}
	rt = withFileTransport(rt)

	return &Client{
		config:    cfg,
		client:    &http.Client{Transport: rt, Timeout: cfg.Timeout},
		transport: rt,
		logger:    cfg.Logger,
	}, nil
}

// Config returns a copy of the client's current configuration.
func (c *Client) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg := c.config
	cfg.Headers = cloneHeaders(c.config.Headers)
	return cfg
}

// UpdateConfig applies a live configuration update. Only the header map may
// change; attempts to change the backend, proxy or impersonation options
// return ErrImmutableConfig and leave the client untouched.
func (c *Client) UpdateConfig(cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cfg.Backend != "" && cfg.Backend != c.config.Backend {
		return ErrImmutableConfig
	}
	if cfg.Proxy != "" && cfg.Proxy != c.config.Proxy {
		return ErrImmutableConfig
	}
	if cfg.Impersonate != (ImpersonateOptions{}) && cfg.Impersonate != c.config.Impersonate {
		return ErrImmutableConfig
	}

	for k, v := range cfg.Headers {
		c.config.Headers = setHeaderFold(c.config.Headers, k, v)
	}
	if cfg.UserAgent != "" {
		c.config.UserAgent = cfg.UserAgent
	}
	return nil
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	return c.Request(ctx, http.MethodGet, url, nil)
}

// Post issues a POST request with the given content type and body.
func (c *Client) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.Do(req)
}

// Request issues a request with the given method.
func (c *Client) Request(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.Do(req)
}

// Do executes a request, applying default headers and the retry policy.
// A method outside the policy's retry set is issued exactly once.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, ErrClientClosed
	}
	cfg := c.config
	headers := cloneHeaders(c.config.Headers)
	c.mu.RUnlock()

	for k, v := range headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	if req.Header.Get(HeaderUserAgent) == "" && cfg.UserAgent != "" {
		req.Header.Set(HeaderUserAgent, cfg.UserAgent)
	}
	if req.Header.Get(HeaderAcceptEncoding) == "" {
		req.Header.Set(HeaderAcceptEncoding, DefaultAcceptEncoding)
	}

	ctx := req.Context()
	policy := cfg.Retry
	attempts := policy.MaxAttempts
	if attempts < 1 || !policy.retryableMethod(req.Method) {
		attempts = 1
	}

	var body []byte
	if req.Body != nil && attempts > 1 {
		b, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("buffering request body: %w", err)
		}
		body = b
	}

	var lastErr error
	var lastStatus int
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff(policy, attempt, lastErr)
			c.logger.Debug("retrying request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("url", obfuscateURL(req.URL)),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		if body != nil {
			req.Body = io.NopCloser(strings.NewReader(string(body)))
			req.ContentLength = int64(len(body))
		}

		start := time.Now()
		resp, err := c.client.Do(req)
		duration := time.Since(start)

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			lastErr = &NetworkError{Op: req.Method + " " + obfuscateURL(req.URL), Cause: err}
			lastStatus = 0
			c.logger.Warn("request failed",
				slog.String("url", obfuscateURL(req.URL)),
				slog.String("method", req.Method),
				slog.Duration("duration", duration),
				slog.String("error", err.Error()),
				slog.Int("attempt", attempt),
			)
			continue
		}

		if policy.retryableStatus(resp.StatusCode) && attempt < attempts-1 {
			lastErr = &retryAfterError{status: resp.StatusCode, retryAfter: resp.Header.Get(HeaderRetryAfter)}
			lastStatus = resp.StatusCode
			c.logger.Warn("retryable status",
				slog.String("url", obfuscateURL(req.URL)),
				slog.String("method", req.Method),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt),
			)
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			continue
		}

		if policy.retryableStatus(resp.StatusCode) {
			resp.Body.Close()
			return nil, &NetworkHTTPError{Status: resp.StatusCode, URL: obfuscateURL(req.URL)}
		}

		c.logger.Debug("request completed",
			slog.String("url", obfuscateURL(req.URL)),
			slog.String("method", req.Method),
			slog.Int("status", resp.StatusCode),
			slog.Duration("duration", duration),
		)
		resp.Body = wrapDecompression(resp, c.logger)
		return resp, nil
	}

	if lastStatus != 0 {
		return nil, &NetworkHTTPError{Status: lastStatus, URL: obfuscateURL(req.URL)}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrMaxRetries, lastErr)
	}
	return nil, ErrMaxRetries
}

// Close releases idle connections. Further requests return ErrClientClosed.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.client.CloseIdleConnections()
}

// StandardClient returns a *http.Client that routes through this facade,
// for code that only accepts the standard type.
func (c *Client) StandardClient() *http.Client {
	return &http.Client{
		Transport: facadeTransport{client: c},
		Timeout:   c.config.Timeout,
	}
}

type facadeTransport struct {
	client *Client
}

func (t facadeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.client.Do(req)
}

// retryAfterError carries a server-suggested delay between attempts.
type retryAfterError struct {
	status     int
	retryAfter string
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("retryable status code: %d", e.status)
}

// backoff computes the delay before the given retry attempt. A Retry-After
// header from the previous response wins over the exponential schedule; both
// are capped at MaxBackoff.
func (c *Client) backoff(policy RetryPolicy, attempt int, lastErr error) time.Duration {
	var ra *retryAfterError
	if errors.As(lastErr, &ra) && ra.retryAfter != "" {
		if d, ok := parseRetryAfter(ra.retryAfter); ok {
			if d > policy.MaxBackoff {
				return policy.MaxBackoff
			}
			if d > 0 {
				return d
			}
		}
	}

	delay := float64(policy.BackoffBase)
	for i := 1; i < attempt; i++ {
		delay *= policy.BackoffMultiplier
	}
	jitter := delay * 0.1
	delay += (rand.Float64()*2 - 1) * jitter
	d := time.Duration(delay)
	if d > policy.MaxBackoff {
		d = policy.MaxBackoff
	}
	if d < 0 {
		d = 0
	}
	return d
}

// parseRetryAfter accepts integer seconds or an HTTP-date.
func parseRetryAfter(value string) (time.Duration, bool) {
	if secs, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(value); err == nil {
		return time.Until(t), true
	}
	if t, err := mail.ParseDate(value); err == nil {
		return time.Until(t), true
	}
	return 0, false
}

// wrapDecompression wraps the response body with the decoder matching its
// Content-Encoding header.
func wrapDecompression(resp *http.Response, logger *slog.Logger) io.ReadCloser {
	encoding := strings.ToLower(resp.Header.Get(HeaderContentEncoding))
	switch encoding {
	case "":
		return resp.Body
	case EncodingGzip:
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			logger.Warn("failed to create gzip reader, returning raw body",
				slog.String("error", err.Error()),
			)
			return resp.Body
		}
		return &decompressReader{reader: reader, closer: resp.Body}
	case EncodingDeflate:
		return &decompressReader{reader: flate.NewReader(resp.Body), closer: resp.Body}
	case EncodingBrotli:
		return &decompressReader{reader: brotli.NewReader(resp.Body), closer: resp.Body}
	default:
		logger.Debug("unknown content encoding, returning raw body",
			slog.String("encoding", encoding),
		)
		return resp.Body
	}
}

// decompressReader wraps a decompression reader with the original body closer.
type decompressReader struct {
	reader io.Reader
	closer io.Closer
}

func (d *decompressReader) Read(p []byte) (int, error) {
	return d.reader.Read(p)
}

func (d *decompressReader) Close() error {
	if closer, ok := d.reader.(io.Closer); ok {
		closer.Close()
	}
	return d.closer.Close()
}

// setHeaderFold sets key=value in m, replacing any case-variant spelling of
// key already present.
func setHeaderFold(m map[string]string, key, value string) map[string]string {
	if m == nil {
		m = make(map[string]string, 1)
	}
	for k := range m {
		if strings.EqualFold(k, key) {
			delete(m, k)
		}
	}
	m[key] = value
	return m
}

func cloneHeaders(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// obfuscateURL strips credentials from a URL for logging.
func obfuscateURL(u *url.URL) string {
	if u.User == nil {
		return u.String()
	}
	clean := *u
	clean.User = url.User("***")
	return clean.String()
}
