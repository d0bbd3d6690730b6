package version

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ReleasesURL is the endpoint queried for the latest published release.
// Overridable for tests.
var ReleasesURL = "https://api.github.com/repos/sternforth/vantage/releases/latest"

// UpdateStatus is the result of an update check, surfaced by /api/health.
type UpdateStatus struct {
	Checked         bool   `json:"checked"`
	UpdateAvailable bool   `json:"update_available"`
	LatestVersion   string `json:"latest_version,omitempty"`
	CheckedAt       int64  `json:"checked_at,omitempty"`
}

// Checker performs rate-limited update checks against the release feed.
type Checker struct {
	mu       sync.Mutex
	client   *http.Client
	interval time.Duration
	last     UpdateStatus
	lastAt   time.Time
}

// NewChecker builds a Checker. A nil client uses http.DefaultClient.
func NewChecker(client *http.Client, interval time.Duration) *Checker {
	if client == nil {
		client = http.DefaultClient
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Checker{client: client, interval: interval}
}

// Status returns the current update status, re-checking when the previous
// result is older than the check interval. Check failures are not cached so
// a later call can retry.
func (c *Checker) Status(ctx context.Context) UpdateStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.last.Checked && time.Since(c.lastAt) < c.interval {
		return c.last
	}

	latest, err := c.fetchLatest(ctx)
	if err != nil {
		return UpdateStatus{}
	}

	c.last = UpdateStatus{
		Checked:         true,
		UpdateAvailable: IsRelease() && CompareVersions(Version, latest) < 0,
		LatestVersion:   latest,
		CheckedAt:       time.Now().Unix(),
	}
	c.lastAt = time.Now()
	return c.last
}

func (c *Checker) fetchLatest(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ReleasesURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", UserAgent())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("release feed returned %d", resp.StatusCode)
	}

	var release struct {
		TagName string `json:"tag_name"`
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(body, &release); err != nil {
		return "", err
	}
	if release.TagName == "" {
		return "", fmt.Errorf("release feed had no tag name")
	}
	return strings.TrimPrefix(release.TagName, "v"), nil
}

// CompareVersions compares two dotted version strings numerically,
// returning -1, 0, or 1. Prerelease suffixes are ignored. Unparseable
// versions compare as equal.
func CompareVersions(a, b string) int {
	pa, okA := parseVersion(a)
	pb, okB := parseVersion(b)
	if !okA || !okB {
		return 0
	}
	for i := 0; i < 3; i++ {
		if pa[i] != pb[i] {
			if pa[i] < pb[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func parseVersion(s string) ([3]int, bool) {
	var out [3]int
	s = strings.TrimPrefix(s, "v")
	if i := strings.IndexAny(s, "-+"); i >= 0 {
		s = s[:i]
	}
	parts := strings.Split(s, ".")
	if len(parts) == 0 || len(parts) > 3 {
		return out, false
	}
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return out, false
		}
		out[i] = n
	}
	return out, true
}
