package session

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Session is the live authenticated state a service adapter accumulates:
// named cookies with attributes and default request headers. It is safe for
// concurrent use.
type Session struct {
	mu      sync.RWMutex
	cookies map[string]Cookie
	headers map[string]string
}

// New returns an empty session.
func New() *Session {
	return &Session{
		cookies: make(map[string]Cookie),
		headers: make(map[string]string),
	}
}

// SetCookie inserts or replaces a cookie by name.
func (s *Session) SetCookie(name string, cookie Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies[name] = cookie
}

// Cookie returns the cookie with the given name.
func (s *Session) Cookie(name string) (Cookie, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cookies[name]
	return c, ok
}

// SetHeader sets a default header, replacing any case-variant spelling.
func (s *Session) SetHeader(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.headers {
		if strings.EqualFold(k, name) {
			delete(s.headers, k)
		}
	}
	s.headers[name] = value
}

// Header returns the header with the given name, case-insensitively.
func (s *Session) Header(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, v := range s.headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// CookieNames returns the cookie names in sorted order.
func (s *Session) CookieNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.cookies))
	for name := range s.cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Empty reports whether the session holds no cookies and no headers.
func (s *Session) Empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cookies) == 0 && len(s.headers) == 0
}

// ImportCookies merges standard library cookies into the session, dropping
// expired ones.
func (s *Session) ImportCookies(cookies []*http.Cookie) {
	now := time.Now()
	for _, c := range cookies {
		if !c.Expires.IsZero() && c.Expires.Before(now) {
			continue
		}
		var expires int64
		if !c.Expires.IsZero() {
			expires = c.Expires.Unix()
		}
		s.SetCookie(c.Name, Cookie{
			Value:   c.Value,
			Domain:  c.Domain,
			Path:    c.Path,
			Secure:  c.Secure,
			Expires: expires,
		})
	}
}

// Apply stamps the session's headers and cookies onto a request. Request
// headers already set by the caller win.
func (s *Session) Apply(req *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, value := range s.headers {
		if req.Header.Get(name) == "" {
			req.Header.Set(name, value)
		}
	}
	for _, name := range s.sortedCookieNamesLocked() {
		cookie := s.cookies[name]
		req.AddCookie(&http.Cookie{Name: name, Value: cookie.Value})
	}
}

func (s *Session) sortedCookieNamesLocked() []string {
	names := make([]string, 0, len(s.cookies))
	for name := range s.cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
