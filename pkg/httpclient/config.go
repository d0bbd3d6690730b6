package httpclient

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Backend selects the transport implementation behind a Client.
type Backend string

const (
	// BackendStandard is a plain connection-pooling HTTP client.
	BackendStandard Backend = "standard"

	// BackendImpersonating emits TLS/HTTP2 fingerprints of common browsers.
	BackendImpersonating Backend = "impersonating"
)

// Default configuration values.
const (
	DefaultTimeout           = 30 * time.Second
	DefaultMaxAttempts       = 4
	DefaultBackoffBase       = 1 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultMaxBackoff        = 60 * time.Second
	DefaultUserAgent         = "vantage/1.0"
	DefaultAcceptEncoding    = "gzip, deflate, br"
)

// DefaultRetryStatuses are HTTP statuses that trigger a retry.
var DefaultRetryStatuses = []int{429, 500, 502, 503, 504}

// DefaultRetryMethods are HTTP methods eligible for retry.
var DefaultRetryMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodHead, http.MethodOptions,
	http.MethodPut, http.MethodDelete, http.MethodTrace,
}

// RetryPolicy controls automatic retries for a Client.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" yaml:"max_attempts"`

	// BackoffBase is the delay before the first retry.
	BackoffBase time.Duration `mapstructure:"backoff_base" json:"backoff_base" yaml:"backoff_base"`

	// BackoffMultiplier scales the delay between consecutive retries.
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier" json:"backoff_multiplier" yaml:"backoff_multiplier"`

	// MaxBackoff caps the per-try delay, Retry-After included.
	MaxBackoff time.Duration `mapstructure:"max_backoff" json:"max_backoff" yaml:"max_backoff"`

	// RetryStatuses are response statuses that trigger a retry.
	RetryStatuses []int `mapstructure:"retry_statuses" json:"retry_statuses" yaml:"retry_statuses"`

	// RetryMethods are request methods eligible for retry. Requests with
	// other methods are issued exactly once.
	RetryMethods []string `mapstructure:"retry_methods" json:"retry_methods" yaml:"retry_methods"`
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       DefaultMaxAttempts,
		BackoffBase:       DefaultBackoffBase,
		BackoffMultiplier: DefaultBackoffMultiplier,
		MaxBackoff:        DefaultMaxBackoff,
		RetryStatuses:     append([]int(nil), DefaultRetryStatuses...),
		RetryMethods:      append([]string(nil), DefaultRetryMethods...),
	}
}

func (p RetryPolicy) retryableStatus(code int) bool {
	for _, s := range p.RetryStatuses {
		if s == code {
			return true
		}
	}
	return false
}

func (p RetryPolicy) retryableMethod(method string) bool {
	for _, m := range p.RetryMethods {
		if m == method {
			return true
		}
	}
	return false
}

// ImpersonateOptions configures the impersonating backend. These options are
// constructor-only; UpdateConfig rejects changes to them.
type ImpersonateOptions struct {
	// Preset names a known browser fingerprint (okhttp4, okhttp5, chrome,
	// firefox). JA3/Akamai below override the preset's values when set.
	Preset string `mapstructure:"preset" json:"preset" yaml:"preset"`

	// JA3 is a raw JA3 string: version,ciphers,extensions,curves,pointformats.
	JA3 string `mapstructure:"ja3" json:"ja3" yaml:"ja3"`

	// Akamai is an HTTP/2 fingerprint: settings|window|priority|pseudo-order.
	Akamai string `mapstructure:"akamai" json:"akamai" yaml:"akamai"`
}

// Config holds the construction-time configuration of a Client.
type Config struct {
	// Backend selects the transport. Empty means BackendStandard.
	Backend Backend `mapstructure:"backend" json:"backend" yaml:"backend"`

	// Proxy is an outbound proxy URI. Userinfo in the URI is extracted into
	// a Proxy-Authorization header on construction.
	Proxy string `mapstructure:"proxy" json:"proxy" yaml:"proxy"`

	// Headers are default headers sent with every request. Mutable via
	// UpdateConfig.
	Headers map[string]string `mapstructure:"headers" json:"headers" yaml:"headers"`

	// Retry is the retry policy. Zero value means DefaultRetryPolicy.
	Retry RetryPolicy `mapstructure:"retry" json:"retry" yaml:"retry"`

	// Impersonate configures the impersonating backend.
	Impersonate ImpersonateOptions `mapstructure:"impersonate" json:"impersonate" yaml:"impersonate"`

	// Timeout is the overall per-request timeout.
	Timeout time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`

	// UserAgent is sent when the caller supplies none.
	UserAgent string `mapstructure:"user_agent" json:"user_agent" yaml:"user_agent"`

	// Logger is the structured logger for request/retry logging.
	Logger *slog.Logger `mapstructure:"-" json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:   BackendStandard,
		Retry:     DefaultRetryPolicy(),
		Timeout:   DefaultTimeout,
		UserAgent: DefaultUserAgent,
	}
}

// Validate checks the config for construction errors.
func (c Config) Validate() error {
	switch c.Backend {
	case "", BackendStandard, BackendImpersonating:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Backend == BackendImpersonating && c.Impersonate.Preset != "" {
		if _, ok := fingerprintPresets[c.Impersonate.Preset]; !ok {
			return fmt.Errorf("unknown impersonation preset %q", c.Impersonate.Preset)
		}
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry max_attempts cannot be negative")
	}
	return nil
}

// Merge returns a copy of c with non-zero values from other overriding it.
// Header maps are merged key-by-key.
func (c Config) Merge(other Config) Config {
	out := c
	if other.Backend != "" {
		out.Backend = other.Backend
	}
	if other.Proxy != "" {
		out.Proxy = other.Proxy
	}
	if len(other.Headers) > 0 {
		merged := make(map[string]string, len(c.Headers)+len(other.Headers))
		for k, v := range c.Headers {
			merged[k] = v
		}
		for k, v := range other.Headers {
			merged[k] = v
		}
		out.Headers = merged
	}
	if other.Retry.MaxAttempts > 0 {
		out.Retry = other.Retry
	}
	if other.Impersonate != (ImpersonateOptions{}) {
		out.Impersonate = other.Impersonate
	}
	if other.Timeout > 0 {
		out.Timeout = other.Timeout
	}
	if other.UserAgent != "" {
		out.UserAgent = other.UserAgent
	}
	if other.Logger != nil {
		out.Logger = other.Logger
	}
	return out
}

func (c Config) withDefaults() Config {
	if c.Backend == "" {
		c.Backend = BackendStandard
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = DefaultRetryPolicy()
	}
	if c.Retry.BackoffBase <= 0 {
		c.Retry.BackoffBase = DefaultBackoffBase
	}
	if c.Retry.BackoffMultiplier <= 0 {
		c.Retry.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if c.Retry.MaxBackoff <= 0 {
		c.Retry.MaxBackoff = DefaultMaxBackoff
	}
	if len(c.Retry.RetryStatuses) == 0 {
		c.Retry.RetryStatuses = append([]int(nil), DefaultRetryStatuses...)
	}
	if len(c.Retry.RetryMethods) == 0 {
		c.Retry.RetryMethods = append([]string(nil), DefaultRetryMethods...)
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
