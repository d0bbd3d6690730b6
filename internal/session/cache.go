package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// CacheFileName is the on-disk name of the session store.
const CacheFileName = "remote_sessions.json"

// cacheEntry is one stored session keyed by (remote URL, tag, profile).
type cacheEntry struct {
	SessionData Record `json:"session_data"`
	CachedAt    int64  `json:"cached_at"`
	ServiceTag  string `json:"service_tag"`
	Profile     string `json:"profile"`
}

// cacheDocument is the whole on-disk JSON document:
// remote URL → service tag → profile → entry.
type cacheDocument map[string]map[string]map[string]cacheEntry

// Cache persists session records for remote services in a single JSON
// document. It is single-writer per process; cross-process use needs
// external synchronization.
type Cache struct {
	path   string
	doc    cacheDocument
	logger *slog.Logger
	now    func() time.Time
}

// SessionInfo describes one cached session for listings.
type SessionInfo struct {
	RemoteURL  string  `json:"remote_url"`
	ServiceTag string  `json:"service_tag"`
	Profile    string  `json:"profile"`
	CachedAt   int64   `json:"cached_at"`
	AgeSeconds float64 `json:"age_seconds"`
	Expired    bool    `json:"expired"`
	HasCookies bool    `json:"has_cookies"`
	HasHeaders bool    `json:"has_headers"`
}

// OpenCache loads (or creates) the session cache under dir and purges
// expired entries.
func OpenCache(dir string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	c := &Cache{
		path:   filepath.Join(dir, CacheFileName),
		doc:    make(cacheDocument),
		logger: logger,
		now:    time.Now,
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	if purged := c.CleanupExpired(); purged > 0 {
		logger.Debug("purged expired sessions", slog.Int("count", purged))
	}
	return c, nil
}

func (c *Cache) load() error {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading session cache: %w", err)
	}
	if err := json.Unmarshal(data, &c.doc); err != nil {
		// A corrupt cache is not fatal; sessions can be re-established.
		c.logger.Warn("session cache corrupt, starting empty", slog.String("error", err.Error()))
		c.doc = make(cacheDocument)
	}
	return nil
}

// save rewrites the document atomically: write to a sibling temp file,
// fsync, rename.
func (c *Cache) save() error {
	data, err := json.MarshalIndent(c.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session cache: %w", err)
	}
	if err := renameio.WriteFile(c.path, data, 0o600); err != nil {
		return fmt.Errorf("writing session cache: %w", err)
	}
	return nil
}

// Store inserts or replaces a session record.
func (c *Cache) Store(remoteURL, tag, profile string, record Record) error {
	if record.CachedAt == 0 {
		record.CachedAt = c.now().Unix()
	}
	byTag, ok := c.doc[remoteURL]
	if !ok {
		byTag = make(map[string]map[string]cacheEntry)
		c.doc[remoteURL] = byTag
	}
	byProfile, ok := byTag[tag]
	if !ok {
		byProfile = make(map[string]cacheEntry)
		byTag[tag] = byProfile
	}
	byProfile[profile] = cacheEntry{
		SessionData: record,
		CachedAt:    record.CachedAt,
		ServiceTag:  tag,
		Profile:     profile,
	}
	return c.save()
}

// Get returns the cached record iff it is within TTL. An expired record is
// deleted on the way out.
func (c *Cache) Get(remoteURL, tag, profile string) (Record, bool) {
	entry, ok := c.doc[remoteURL][tag][profile]
	if !ok {
		return Record{}, false
	}
	if c.now().Unix()-entry.CachedAt > int64(TTL/time.Second) {
		c.logger.Debug("cached session expired",
			slog.String("service", tag),
			slog.String("profile", profile),
		)
		c.Delete(remoteURL, tag, profile)
		return Record{}, false
	}
	record := entry.SessionData
	record.CachedAt = entry.CachedAt
	return record, true
}

// Has reports whether a fresh record exists without deleting stale ones.
func (c *Cache) Has(remoteURL, tag, profile string) bool {
	entry, ok := c.doc[remoteURL][tag][profile]
	if !ok {
		return false
	}
	return c.now().Unix()-entry.CachedAt <= int64(TTL/time.Second)
}

// Delete removes a record and prunes emptied maps.
func (c *Cache) Delete(remoteURL, tag, profile string) error {
	byTag, ok := c.doc[remoteURL]
	if !ok {
		return nil
	}
	byProfile, ok := byTag[tag]
	if !ok {
		return nil
	}
	if _, ok := byProfile[profile]; !ok {
		return nil
	}
	delete(byProfile, profile)
	if len(byProfile) == 0 {
		delete(byTag, tag)
	}
	if len(byTag) == 0 {
		delete(c.doc, remoteURL)
	}
	return c.save()
}

// List enumerates cached sessions, optionally limited to one remote URL.
func (c *Cache) List(remoteURL string) []SessionInfo {
	now := c.now().Unix()
	var out []SessionInfo
	for url, byTag := range c.doc {
		if remoteURL != "" && url != remoteURL {
			continue
		}
		for tag, byProfile := range byTag {
			for profile, entry := range byProfile {
				age := now - entry.CachedAt
				out = append(out, SessionInfo{
					RemoteURL:  url,
					ServiceTag: tag,
					Profile:    profile,
					CachedAt:   entry.CachedAt,
					AgeSeconds: float64(age),
					Expired:    age > int64(TTL/time.Second),
					HasCookies: len(entry.SessionData.Cookies) > 0,
					HasHeaders: len(entry.SessionData.Headers) > 0,
				})
			}
		}
	}
	return out
}

// CleanupExpired purges every expired record and returns how many were
// removed.
func (c *Cache) CleanupExpired() int {
	now := c.now().Unix()
	removed := 0
	for url, byTag := range c.doc {
		for tag, byProfile := range byTag {
			for profile, entry := range byProfile {
				if now-entry.CachedAt > int64(TTL/time.Second) {
					delete(byProfile, profile)
					removed++
				}
			}
			if len(byProfile) == 0 {
				delete(byTag, tag)
			}
		}
		if len(byTag) == 0 {
			delete(c.doc, url)
		}
	}
	if removed > 0 {
		if err := c.save(); err != nil {
			c.logger.Warn("failed to persist session cache cleanup", slog.String("error", err.Error()))
		}
	}
	return removed
}

// Path returns the on-disk location of the cache document.
func (c *Cache) Path() string {
	return c.path
}
