// Package session implements portable authenticated-session snapshots and
// the client-side cache that persists them between runs.
//
// A Record carries cookies and headers only. Credentials are never part of
// a Record; they exist solely to produce one through interactive
// authentication.
package session

import (
	"strings"
	"time"
)

// TTL is the wall-clock lifetime of a session record.
const TTL = 24 * time.Hour

// expiryWarning is the window before expiry in which callers should warn.
const expiryWarning = time.Hour

// Cookie is one recorded cookie with the attributes needed to rehydrate it.
type Cookie struct {
	Value   string `json:"value"`
	Domain  string `json:"domain,omitempty"`
	Path    string `json:"path,omitempty"`
	Secure  bool   `json:"secure,omitempty"`
	Expires int64  `json:"expires,omitempty"`
}

// Record is a portable snapshot of an authenticated HTTP session.
type Record struct {
	Cookies       map[string]Cookie `json:"cookies"`
	Headers       map[string]string `json:"headers"`
	ServiceTag    string            `json:"service_tag,omitempty"`
	Profile       string            `json:"profile,omitempty"`
	CachedAt      int64             `json:"cached_at"`
	Authenticated bool              `json:"authenticated"`
}

// Valid reports whether the record carries any authentication material:
// at least one cookie, or an Authorization header.
func (r Record) Valid() bool {
	if len(r.Cookies) > 0 {
		return true
	}
	for name := range r.Headers {
		if strings.EqualFold(name, "Authorization") {
			return true
		}
	}
	return false
}

// Expired reports whether the record is older than TTL at the given time.
func (r Record) Expired(now time.Time) bool {
	return now.Unix()-r.CachedAt > int64(TTL/time.Second)
}

// ExpiresSoon reports whether the record is inside the last hour of its
// life at the given time.
func (r Record) ExpiresSoon(now time.Time) bool {
	age := now.Unix() - r.CachedAt
	return !r.Expired(now) && age > int64((TTL-expiryWarning)/time.Second)
}

// Age returns the record's age at the given time.
func (r Record) Age(now time.Time) time.Duration {
	return time.Duration(now.Unix()-r.CachedAt) * time.Second
}

// Serialize snapshots a live session into a Record. Proxy-Authorization
// headers are dropped so proxy credentials never travel with the session;
// the receiver uses its own proxy.
func Serialize(s *Session) Record {
	record := Record{
		Cookies: make(map[string]Cookie, len(s.cookies)),
		Headers: make(map[string]string, len(s.headers)),
	}
	for name, cookie := range s.cookies {
		record.Cookies[name] = cookie
	}
	for name, value := range s.headers {
		if strings.EqualFold(name, "Proxy-Authorization") {
			continue
		}
		record.Headers[name] = value
	}
	return record
}

// Deserialize applies a Record onto a live session. An empty recorded path
// defaults to "/"; a missing expiry means a session cookie. Recorded
// headers overwrite the target's.
func Deserialize(record Record, s *Session) {
	for name, cookie := range record.Cookies {
		if cookie.Path == "" {
			cookie.Path = "/"
		}
		s.SetCookie(name, cookie)
	}
	for name, value := range record.Headers {
		s.SetHeader(name, value)
	}
}
