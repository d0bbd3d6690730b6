// Package service defines the contract every media service adapter
// implements, the construction context handed to adapters, and the registry
// that resolves tags to local adapters or remote bindings.
package service

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/sternforth/vantage/internal/models"
	"github.com/sternforth/vantage/internal/session"
)

// Credential is a username/password pair used only to produce an
// authenticated session. It is never serialized into a session record.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Empty reports whether no credential material is present.
func (c Credential) Empty() bool {
	return c.Username == "" && c.Password == ""
}

// Descriptor is the immutable identity of an adapter.
type Descriptor struct {
	// Tag is the canonical short name.
	Tag string `json:"tag"`

	// Aliases are alternative tags, matched case-insensitively.
	Aliases []string `json:"aliases,omitempty"`

	// Geofence lists country codes from which the origin is reachable.
	// Empty means unrestricted.
	Geofence []string `json:"geofence,omitempty"`

	// Help is the adapter's usage text.
	Help string `json:"help,omitempty"`

	// TitleRE maps free-form user input (usually URLs) to an internal id.
	TitleRE []*regexp.Regexp `json:"-"`
}

// TitlePatterns returns the title regexes as strings for API responses.
func (d Descriptor) TitlePatterns() []string {
	out := make([]string, 0, len(d.TitleRE))
	for _, re := range d.TitleRE {
		out = append(out, re.String())
	}
	return out
}

// MatchTitle runs the descriptor's title regexes against user input and
// returns the first captured id, or the input unchanged.
func (d Descriptor) MatchTitle(input string) string {
	for _, re := range d.TitleRE {
		m := re.FindStringSubmatch(input)
		if m == nil {
			continue
		}
		if idx := re.SubexpIndex("id"); idx > 0 && idx < len(m) {
			return m[idx]
		}
		if len(m) > 1 {
			return m[1]
		}
	}
	return input
}

// Context carries framework state into adapter constructors. Adapters read
// only what they declare.
type Context struct {
	// Config is the adapter's section of the services configuration.
	Config map[string]any

	// Proxy is a fully qualified proxy URI, empty for direct connections.
	Proxy string

	// NoProxy disables any proxy even when one is configured.
	NoProxy bool

	// Profile selects the credential set.
	Profile string

	// ProxyProviders resolve friendly proxy tokens; empty server-side.
	ProxyProviders []ProxyProvider

	// Logger is the adapter's structured logger.
	Logger *slog.Logger
}

// ProxyProvider resolves a provider-specific query to a proxy URI.
type ProxyProvider interface {
	Name() string
	GetProxy(query string) (string, error)
}

// Params are per-call options passed through to adapter constructors,
// populated from caller-supplied fields then constructor defaults.
type Params map[string]any

// String returns the string parameter with the given key.
func (p Params) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// Bool returns the bool parameter with the given key.
func (p Params) Bool(key string) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return false
}

// Service is the polymorphic adapter contract. A concrete local adapter and
// a remote proxy are both substitutable here; callers never branch on which
// they hold.
type Service interface {
	// Authenticate establishes a session from cookies and/or a credential.
	// Adapters return models.ErrAuthRequired when both are missing and the
	// origin needs auth, models.ErrAuthFailed when they are rejected.
	Authenticate(ctx context.Context, cookies map[string]session.Cookie, credential Credential) error

	// Search finds candidate titles for a free-form query.
	Search(ctx context.Context, query string) ([]models.SearchResult, error)

	// GetTitles enumerates the titles behind the configured identifier.
	GetTitles(ctx context.Context) (models.Titles, error)

	// GetTracks enumerates the media tracks of one title.
	GetTracks(ctx context.Context, title models.Title) (models.Tracks, error)

	// GetChapters returns the ordered chapter list of one title.
	GetChapters(ctx context.Context, title models.Title) (models.Chapters, error)

	// OnSegmentDownloaded post-processes one downloaded segment in place,
	// in segment order. Failures warn and continue.
	OnSegmentDownloaded(ctx context.Context, track string, path string) error

	// OnTrackDownloaded post-processes a completed track. Failures warn
	// and continue.
	OnTrackDownloaded(ctx context.Context, track string) error

	// Session exposes the adapter's live session for serialization.
	Session() *session.Session
}

// Builder constructs an adapter instance from a context and per-call
// parameters.
type Builder func(ctx Context, params Params) (Service, error)
