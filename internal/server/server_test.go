package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sternforth/vantage/internal/config"
	"github.com/sternforth/vantage/internal/download"
	"github.com/sternforth/vantage/internal/models"
	"github.com/sternforth/vantage/internal/service"
	"github.com/sternforth/vantage/internal/session"
	"github.com/sternforth/vantage/pkg/httpclient"
)

// fakeService is a canned adapter for handler tests. It records what
// authentication material reached it and serves fixed catalog data.
type fakeService struct {
	sess *session.Session

	titles   models.Titles
	tracks   map[string]models.Tracks
	trackErr map[string]error
	chapters models.Chapters
	results  []models.SearchResult

	authCalls   int
	authCookies map[string]session.Cookie
	authCred    service.Credential
	authErr     error
}

func newFakeService() *fakeService {
	return &fakeService{
		sess:   session.New(),
		tracks: map[string]models.Tracks{},
	}
}

func (f *fakeService) Authenticate(_ context.Context, cookies map[string]session.Cookie, credential service.Credential) error {
	f.authCalls++
	f.authCookies = cookies
	f.authCred = credential
	if f.authErr != nil {
		return f.authErr
	}
	for name, cookie := range cookies {
		f.sess.SetCookie(name, cookie)
	}
	if !credential.Empty() {
		f.sess.SetHeader("Authorization", "Bearer "+credential.Username)
	}
	return nil
}

func (f *fakeService) Search(context.Context, string) ([]models.SearchResult, error) {
	return f.results, nil
}

func (f *fakeService) GetTitles(context.Context) (models.Titles, error) {
	return f.titles, nil
}

func (f *fakeService) GetTracks(_ context.Context, title models.Title) (models.Tracks, error) {
	if err := f.trackErr[title.TitleID()]; err != nil {
		return models.Tracks{}, err
	}
	return f.tracks[title.TitleID()], nil
}

func (f *fakeService) GetChapters(context.Context, models.Title) (models.Chapters, error) {
	return f.chapters, nil
}

func (f *fakeService) OnSegmentDownloaded(context.Context, string, string) error { return nil }
func (f *fakeService) OnTrackDownloaded(context.Context, string) error           { return nil }
func (f *fakeService) Session() *session.Session                                 { return f.sess }

func testDescriptor() service.Descriptor {
	return service.Descriptor{
		Tag:      "examplesvc",
		Aliases:  []string{"ex"},
		Geofence: []string{"US"},
		TitleRE:  []*regexp.Regexp{regexp.MustCompile(`example\.com/watch/(?P<id>\w+)`)},
	}
}

func newTestClient(t *testing.T) *httpclient.Client {
	t.Helper()
	client, err := httpclient.New(httpclient.Config{
		Retry: httpclient.RetryPolicy{MaxAttempts: 1},
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

// newTestServer wires a Server around the given fake adapter with auth
// disabled. mutate adjusts the config before construction.
func newTestServer(t *testing.T, svc *fakeService, mutate func(*config.Config)) *Server {
	t.Helper()

	registry := service.NewRegistry()
	require.NoError(t, registry.Register(testDescriptor(),
		func(service.Context, service.Params) (service.Service, error) { return svc, nil }, ""))

	cfg := &config.Config{
		Serve:    config.ServeConfig{NoAuth: true},
		Services: map[string]map[string]any{"examplesvc": {"url": "https://example.com"}},
	}
	if mutate != nil {
		mutate(cfg)
	}

	manager, err := download.NewManager(time.Hour, "", nil)
	require.NoError(t, err)
	t.Cleanup(manager.Close)

	client := newTestClient(t)
	downloader := download.NewDownloader(client, nil, t.TempDir(), t.TempDir(), 1, 1, nil)

	return New(cfg, Dependencies{
		Registry:   registry,
		Manager:    manager,
		Downloader: downloader,
		Client:     client,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func freshRecord() *session.Record {
	return &session.Record{
		Cookies:       map[string]session.Cookie{"sid": {Value: "abc", Domain: ".example.com", Path: "/"}},
		Headers:       map[string]string{},
		ServiceTag:    "examplesvc",
		CachedAt:      time.Now().Unix(),
		Authenticated: true,
	}
}

func authedRequest() serviceRequest {
	return serviceRequest{
		Title:                   "m1",
		PreAuthenticatedSession: freshRecord(),
	}
}

func requireAPIError(t *testing.T, err error) *apiError {
	t.Helper()
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	return apiErr
}

func TestBuildAdapterUnknownService(t *testing.T) {
	s := newTestServer(t, newFakeService(), nil)

	req := authedRequest()
	_, _, err := s.buildAdapter(context.Background(), "nosuch", &req)
	apiErr := requireAPIError(t, err)
	assert.Equal(t, http.StatusNotFound, apiErr.GetStatus())
}

func TestBuildAdapterResolvesAlias(t *testing.T) {
	svc := newFakeService()
	s := newTestServer(t, svc, nil)

	req := authedRequest()
	_, descriptor, err := s.buildAdapter(context.Background(), "EX", &req)
	require.NoError(t, err)
	assert.Equal(t, "examplesvc", descriptor.Tag)
}

func TestBuildAdapterRejectsUnqualifiedProxy(t *testing.T) {
	s := newTestServer(t, newFakeService(), nil)

	req := authedRequest()
	req.Proxy = "nordvpn:us"
	_, _, err := s.buildAdapter(context.Background(), "examplesvc", &req)
	apiErr := requireAPIError(t, err)
	assert.Equal(t, models.CodeInvalidProxy, apiErr.Code)
	assert.Equal(t, http.StatusBadRequest, apiErr.GetStatus())
}

func TestBuildAdapterQualifiedProxyAccepted(t *testing.T) {
	svc := newFakeService()
	s := newTestServer(t, svc, nil)

	req := authedRequest()
	req.Proxy = "http://squid.example.com:3128"
	_, _, err := s.buildAdapter(context.Background(), "examplesvc", &req)
	require.NoError(t, err)
}

func TestBuildAdapterPreAuthenticatedSession(t *testing.T) {
	svc := newFakeService()
	s := newTestServer(t, svc, nil)

	req := authedRequest()
	built, _, err := s.buildAdapter(context.Background(), "examplesvc", &req)
	require.NoError(t, err)

	cookie, ok := built.Session().Cookie("sid")
	require.True(t, ok)
	assert.Equal(t, "abc", cookie.Value)
	assert.Zero(t, svc.authCalls, "a pre-authenticated session must not trigger Authenticate")
}

func TestBuildAdapterExpiredSessionRejected(t *testing.T) {
	s := newTestServer(t, newFakeService(), nil)

	record := freshRecord()
	record.CachedAt = time.Now().Add(-25 * time.Hour).Unix()
	req := serviceRequest{Title: "m1", PreAuthenticatedSession: record}

	_, _, err := s.buildAdapter(context.Background(), "examplesvc", &req)
	apiErr := requireAPIError(t, err)
	assert.Equal(t, models.CodeSessionExpired, apiErr.Code)
	assert.Equal(t, http.StatusUnauthorized, apiErr.GetStatus())
}

func TestBuildAdapterCookiesAndCredential(t *testing.T) {
	svc := newFakeService()
	s := newTestServer(t, svc, nil)

	req := serviceRequest{
		Title:      "m1",
		Cookies:    ".example.com\tTRUE\t/\tTRUE\t0\tsid\tabc\n",
		Credential: &service.Credential{Username: "alice", Password: "hunter2"},
	}
	_, _, err := s.buildAdapter(context.Background(), "examplesvc", &req)
	require.NoError(t, err)

	assert.Equal(t, 1, svc.authCalls)
	assert.Equal(t, "abc", svc.authCookies["sid"].Value)
	assert.Equal(t, "alice", svc.authCred.Username)
}

func TestBuildAdapterMalformedCookiesRejected(t *testing.T) {
	s := newTestServer(t, newFakeService(), nil)

	req := serviceRequest{Title: "m1", Cookies: "not a cookie file"}
	_, _, err := s.buildAdapter(context.Background(), "examplesvc", &req)
	apiErr := requireAPIError(t, err)
	assert.Equal(t, http.StatusBadRequest, apiErr.GetStatus())
}

func TestBuildAdapterNoAuthMaterial(t *testing.T) {
	s := newTestServer(t, newFakeService(), nil)

	req := serviceRequest{Title: "m1"}
	_, _, err := s.buildAdapter(context.Background(), "examplesvc", &req)
	apiErr := requireAPIError(t, err)
	assert.Equal(t, models.CodeAuthRequired, apiErr.Code)
	assert.Equal(t, http.StatusUnauthorized, apiErr.GetStatus())
}

func TestBuildAdapterMatchesTitleURL(t *testing.T) {
	var gotParams service.Params
	registry := service.NewRegistry()
	require.NoError(t, registry.Register(testDescriptor(),
		func(_ service.Context, params service.Params) (service.Service, error) {
			gotParams = params
			return newFakeService(), nil
		}, ""))

	s := newTestServer(t, newFakeService(), nil)
	s.registry = registry

	req := authedRequest()
	req.Title = ""
	req.URL = "https://example.com/watch/abc123"
	_, _, err := s.buildAdapter(context.Background(), "examplesvc", &req)
	require.NoError(t, err)
	assert.Equal(t, "abc123", gotParams.String("title"))
}

func TestRouterHealthIsOpen(t *testing.T) {
	s := newTestServer(t, newFakeService(), func(cfg *config.Config) {
		cfg.Serve.NoAuth = false
		cfg.Serve.APISecret = "sekrit"
	})

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterRequiresAPIKey(t *testing.T) {
	s := newTestServer(t, newFakeService(), func(cfg *config.Config) {
		cfg.Serve.NoAuth = false
		cfg.Serve.APISecret = "sekrit"
	})

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/services", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body apiError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, models.CodeNoAPIKey, body.Code)
}

func TestRouterAcceptsAPIKey(t *testing.T) {
	s := newTestServer(t, newFakeService(), func(cfg *config.Config) {
		cfg.Serve.NoAuth = false
		cfg.Serve.APISecret = "sekrit"
	})

	req := httptest.NewRequest(http.MethodGet, "/api/services", nil)
	req.Header.Set("X-API-Key", "sekrit")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetHealth(t *testing.T) {
	s := newTestServer(t, newFakeService(), nil)

	out, err := s.getHealth(context.Background(), &healthInput{})
	require.NoError(t, err)
	assert.Equal(t, "healthy", out.Body.Status)
	assert.NotEmpty(t, out.Body.Version)
	assert.Greater(t, out.Body.System.Cores, 0)
}

func TestListServices(t *testing.T) {
	s := newTestServer(t, newFakeService(), nil)

	out, err := s.listServices(context.Background(), &servicesInput{})
	require.NoError(t, err)
	require.Len(t, out.Body.Services, 1)

	entry := out.Body.Services[0]
	assert.Equal(t, "examplesvc", entry.Tag)
	assert.Equal(t, []string{"ex"}, entry.Aliases)
	assert.Equal(t, []string{"US"}, entry.Geofence)
	assert.Equal(t, "https://example.com", entry.URL)
	require.Len(t, entry.TitleRegex, 1)
}

func TestDiscoverServicesEnvelope(t *testing.T) {
	s := newTestServer(t, newFakeService(), nil)

	out, err := s.discoverServices(context.Background(), &servicesInput{})
	require.NoError(t, err)
	assert.Equal(t, "success", out.Body.Status)
	require.Len(t, out.Body.Services, 1)
}

func TestTranslateErrorInBuildFailure(t *testing.T) {
	registry := service.NewRegistry()
	require.NoError(t, registry.Register(testDescriptor(),
		func(service.Context, service.Params) (service.Service, error) {
			return nil, errors.New("constructor exploded")
		}, ""))

	s := newTestServer(t, newFakeService(), nil)
	s.registry = registry

	req := authedRequest()
	_, _, err := s.buildAdapter(context.Background(), "examplesvc", &req)
	require.Error(t, err)

	apiErr := translateError(err, false)
	assert.Equal(t, http.StatusInternalServerError, apiErr.GetStatus())
	assert.Equal(t, "internal server error", apiErr.Message)
}
