package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()

	if info.Version == "" {
		t.Error("expected non-empty version")
	}
	if info.GoVersion == "" {
		t.Error("expected non-empty go version")
	}
	if !strings.Contains(info.Platform, runtime.GOOS) {
		t.Errorf("expected platform to contain %s, got %s", runtime.GOOS, info.Platform)
	}
	if !strings.Contains(info.Platform, runtime.GOARCH) {
		t.Errorf("expected platform to contain %s, got %s", runtime.GOARCH, info.Platform)
	}
}

func TestString(t *testing.T) {
	s := String()

	if !strings.Contains(s, ApplicationName) {
		t.Errorf("expected string to contain %s, got %s", ApplicationName, s)
	}
	if !strings.Contains(s, "version") {
		t.Errorf("expected string to contain 'version', got %s", s)
	}
}

func TestStringWithCommit(t *testing.T) {
	originalVersion := Version
	originalCommit := Commit
	originalDate := Date
	defer func() {
		Version = originalVersion
		Commit = originalCommit
		Date = originalDate
	}()

	Version = "1.0.0"
	Commit = "abc123def456789"
	Date = "2026-01-15T10:30:00Z"

	s := String()
	if !strings.Contains(s, "abc123de") {
		t.Errorf("expected string to contain truncated commit hash, got %s", s)
	}
	if !strings.Contains(s, "2026-01-15") {
		t.Errorf("expected string to contain date, got %s", s)
	}
}

func TestShort(t *testing.T) {
	originalVersion := Version
	defer func() { Version = originalVersion }()

	Version = "1.0.0"
	if s := Short(); !strings.Contains(s, "1.0.0") {
		t.Errorf("expected short string to contain version, got %s", s)
	}
}

func TestUserAgent(t *testing.T) {
	if ua := UserAgent(); !strings.HasPrefix(ua, ApplicationName+"/") {
		t.Errorf("expected user agent to start with %s/, got %s", ApplicationName, ua)
	}
}

func TestIsSnapshot(t *testing.T) {
	originalVersion := Version
	defer func() { Version = originalVersion }()

	tests := []struct {
		version  string
		expected bool
	}{
		{"dev", true},
		{"1.0.0", false},
		{"1.0.1-SNAPSHOT.abc1234", true},
		{"0.1.0", false},
		{"1.2.3-alpha.1", false},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			Version = tt.version
			if got := IsSnapshot(); got != tt.expected {
				t.Errorf("IsSnapshot() = %v for version %q, want %v", got, tt.version, tt.expected)
			}
		})
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"1.0.0", "1.0.1", -1},
		{"1.2.0", "1.1.9", 1},
		{"2.0.0", "2.0.0", 0},
		{"v1.0.0", "1.0.0", 0},
		{"1.0.0-SNAPSHOT.abc", "1.0.0", 0},
		{"1.9.0", "1.10.0", -1},
		{"dev", "1.0.0", 0},
	}
	for _, tt := range tests {
		if got := CompareVersions(tt.a, tt.b); got != tt.expected {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.expected)
		}
	}
}

func TestCheckerStatus(t *testing.T) {
	originalVersion := Version
	originalURL := ReleasesURL
	defer func() {
		Version = originalVersion
		ReleasesURL = originalURL
	}()

	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tag_name": "v1.1.0"}`))
	}))
	defer server.Close()

	Version = "1.0.0"
	ReleasesURL = server.URL

	checker := NewChecker(server.Client(), time.Hour)
	status := checker.Status(context.Background())

	if !status.Checked {
		t.Fatal("expected status to be checked")
	}
	if !status.UpdateAvailable {
		t.Error("expected update to be available for 1.0.0 -> 1.1.0")
	}
	if status.LatestVersion != "1.1.0" {
		t.Errorf("expected latest 1.1.0, got %s", status.LatestVersion)
	}

	// A second call inside the interval is served from cache.
	checker.Status(context.Background())
	if calls != 1 {
		t.Errorf("expected 1 upstream call, got %d", calls)
	}
}

func TestCheckerStatusFeedDown(t *testing.T) {
	originalURL := ReleasesURL
	defer func() { ReleasesURL = originalURL }()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ReleasesURL = server.URL

	checker := NewChecker(server.Client(), time.Hour)
	status := checker.Status(context.Background())
	if status.Checked {
		t.Error("expected unchecked status when the feed is down")
	}
}

func TestCheckerDevBuildNeverUpdates(t *testing.T) {
	originalVersion := Version
	originalURL := ReleasesURL
	defer func() {
		Version = originalVersion
		ReleasesURL = originalURL
	}()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name": "v9.9.9"}`))
	}))
	defer server.Close()

	Version = "dev"
	ReleasesURL = server.URL

	checker := NewChecker(server.Client(), time.Hour)
	status := checker.Status(context.Background())
	if status.UpdateAvailable {
		t.Error("dev builds should never report an available update")
	}
}
