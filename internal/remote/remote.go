// Package remote implements the client side of the remote service
// protocol: a proxy that makes a server-hosted adapter look local, the
// interactive auth orchestrator that produces session records for it, and
// the license client used for DRM-protected tracks.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sternforth/vantage/internal/models"
	"github.com/sternforth/vantage/internal/proxies"
	"github.com/sternforth/vantage/internal/service"
	"github.com/sternforth/vantage/internal/session"
	"github.com/sternforth/vantage/pkg/httpclient"
)

// transportBackoff are the delays between replays after a transport
// failure. Exhausting them surfaces models.ErrConnection.
var transportBackoff = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// maxResponseSize bounds how much of a server response is read.
const maxResponseSize = 64 << 20

// Reauthenticator obtains a fresh session record when the server reports
// the current one expired or missing. The orchestrator implements it.
type Reauthenticator interface {
	Reauthenticate(ctx context.Context, remoteURL, tag, profile string) (session.Record, error)
}

// Options configures a remote service proxy.
type Options struct {
	// RemoteURL is the server base URL, e.g. "https://host:8786".
	RemoteURL string

	// APIKey authenticates against the server.
	APIKey string

	// Tag is the origin service tag, without the remote_ namespace prefix.
	Tag string

	// Descriptor is the discovered identity of the remote adapter.
	Descriptor service.Descriptor

	// Title is the configured title identifier for GetTitles.
	Title string

	// Profile selects the credential set and cache slot.
	Profile string

	// Proxy is the user's proxy token; resolved locally before sending.
	Proxy string

	// NoProxy disables the proxy even when one is set.
	NoProxy bool

	// Wanted is an optional episode filter expression forwarded as-is.
	Wanted string

	// Providers resolve friendly proxy tokens client-side.
	Providers []service.ProxyProvider

	Client *httpclient.Client
	Cache  *session.Cache
	Reauth Reauthenticator
	Logger *slog.Logger
}

// Proxy implements the service contract by forwarding every operation to a
// remote server. It borrows session records from the cache for the duration
// of one request and writes back any refreshed copy the server returns.
type Proxy struct {
	remoteURL  string
	apiKey     string
	tag        string
	descriptor service.Descriptor
	title      string
	profile    string
	proxy      string
	noProxy    bool
	wanted     string
	providers  []service.ProxyProvider

	client *httpclient.Client
	cache  *session.Cache
	reauth Reauthenticator
	logger *slog.Logger

	sess *session.Session

	// Fallback auth material for when no cached record exists. Never
	// persisted; sent to the server at most until a session is established.
	cookiesText string
	credential  service.Credential

	sleep func(time.Duration)
	now   func() time.Time
}

// New builds a remote service proxy.
func New(opts Options) *Proxy {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{
		remoteURL:  strings.TrimRight(opts.RemoteURL, "/"),
		apiKey:     opts.APIKey,
		tag:        opts.Tag,
		descriptor: opts.Descriptor,
		title:      opts.Title,
		profile:    profileOrDefault(opts.Profile),
		proxy:      opts.Proxy,
		noProxy:    opts.NoProxy,
		wanted:     opts.Wanted,
		providers:  opts.Providers,
		client:     opts.Client,
		cache:      opts.Cache,
		reauth:     opts.Reauth,
		logger:     logger.With(slog.String("service", "remote_"+opts.Tag)),
		sess:       session.New(),
		sleep:      time.Sleep,
		now:        time.Now,
	}
}

// Descriptor returns the discovered identity of the remote adapter.
func (p *Proxy) Descriptor() service.Descriptor { return p.descriptor }

// Session exposes the proxy's live session, rehydrated from server
// responses so the downloader can fetch manifests with it.
func (p *Proxy) Session() *session.Session { return p.sess }

// Authenticate records cookies and credentials as fallback auth material
// for the next request. Nothing is sent until an operation runs, and the
// credential never enters a session record.
func (p *Proxy) Authenticate(_ context.Context, cookies map[string]session.Cookie, credential service.Credential) error {
	if len(cookies) > 0 {
		p.cookiesText = session.FormatCookieFile(cookies)
		for name, cookie := range cookies {
			p.sess.SetCookie(name, cookie)
		}
	}
	p.credential = credential
	return nil
}

// Search forwards a free-form query.
func (p *Proxy) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	resp, err := p.makeRequest(ctx, "search", map[string]any{"query": query})
	if err != nil {
		return nil, err
	}
	var results []models.SearchResult
	if raw, ok := resp["results"]; ok {
		if err := json.Unmarshal(raw, &results); err != nil {
			return nil, fmt.Errorf("parsing search results: %w", err)
		}
	}
	return results, nil
}

// GetTitles enumerates the titles behind the configured identifier.
func (p *Proxy) GetTitles(ctx context.Context) (models.Titles, error) {
	resp, err := p.makeRequest(ctx, "titles", map[string]any{"title": p.title})
	if err != nil {
		return nil, err
	}
	raw, ok := resp["titles"]
	if !ok {
		return nil, fmt.Errorf("server response carries no titles")
	}
	return models.UnmarshalTitles(raw)
}

// tracksPayload is the flat wire form of one title's tracks. Track URLs may
// be empty; the downloader populates them from the rehydrated session.
type tracksPayload struct {
	Video     []models.Video    `json:"video"`
	Audio     []models.Audio    `json:"audio"`
	Subtitles []models.Subtitle `json:"subtitles"`
}

func (t tracksPayload) tracks() models.Tracks {
	return models.Tracks{Video: t.Video, Audio: t.Audio, Subtitles: t.Subtitles}
}

// episodeTracks is one entry of a multi-episode tracks response.
type episodeTracks struct {
	Title json.RawMessage `json:"title"`
	tracksPayload
}

// GetTracks enumerates the media tracks of one title. Multi-episode
// responses are matched back to the requested episode by season/number.
func (p *Proxy) GetTracks(ctx context.Context, title models.Title) (models.Tracks, error) {
	body := map[string]any{"title": title.TitleID()}
	if ep, ok := title.(models.Episode); ok {
		body["season"] = ep.Season
		body["episode"] = ep.Number
	}
	if p.wanted != "" {
		body["wanted"] = p.wanted
	}

	resp, err := p.makeRequest(ctx, "tracks", body)
	if err != nil {
		return models.Tracks{}, err
	}

	if raw, ok := resp["episodes"]; ok {
		ep, isEpisode := title.(models.Episode)
		if !isEpisode {
			return models.Tracks{}, fmt.Errorf("server returned episodes for non-episode title %s", title.TitleID())
		}
		var entries []episodeTracks
		if err := json.Unmarshal(raw, &entries); err != nil {
			return models.Tracks{}, fmt.Errorf("parsing episode tracks: %w", err)
		}
		for _, entry := range entries {
			entryTitle, err := models.UnmarshalTitle(entry.Title)
			if err != nil {
				continue
			}
			got, ok := entryTitle.(models.Episode)
			if !ok {
				continue
			}
			if got.Season == ep.Season && got.Number == ep.Number {
				return entry.tracks(), nil
			}
		}
		return models.Tracks{}, fmt.Errorf("episode %s: %w", ep.Label(), models.ErrNotAvailable)
	}

	var flat tracksPayload
	flatJSON, err := json.Marshal(resp)
	if err != nil {
		return models.Tracks{}, err
	}
	if err := json.Unmarshal(flatJSON, &flat); err != nil {
		return models.Tracks{}, fmt.Errorf("parsing tracks: %w", err)
	}
	return flat.tracks(), nil
}

// GetChapters returns the ordered chapter list of one title.
func (p *Proxy) GetChapters(ctx context.Context, title models.Title) (models.Chapters, error) {
	resp, err := p.makeRequest(ctx, "chapters", map[string]any{"title": title.TitleID()})
	if err != nil {
		return nil, err
	}
	var chapters models.Chapters
	if raw, ok := resp["chapters"]; ok {
		if err := json.Unmarshal(raw, &chapters); err != nil {
			return nil, fmt.Errorf("parsing chapters: %w", err)
		}
	}
	return chapters, nil
}

// OnSegmentDownloaded is a no-op: segment decryption for remote tracks runs
// through the license client, not the adapter hook.
func (p *Proxy) OnSegmentDownloaded(context.Context, string, string) error { return nil }

// OnTrackDownloaded is a no-op for remote tracks.
func (p *Proxy) OnTrackDownloaded(context.Context, string) error { return nil }

// errorResponse is the wire form of a server error body.
type errorResponse struct {
	Status    string           `json:"status"`
	ErrorCode models.ErrorCode `json:"error_code"`
	Message   string           `json:"message"`
}

// makeRequest performs one authenticated POST against a service endpoint,
// attaching session material, resolving the proxy locally, retrying
// transport failures, and running the interactive re-auth path once when
// the server reports an expired or missing session.
func (p *Proxy) makeRequest(ctx context.Context, endpoint string, body map[string]any) (map[string]json.RawMessage, error) {
	payload := make(map[string]any, len(body)+4)
	for k, v := range body {
		payload[k] = v
	}
	if p.profile != "" {
		payload["profile"] = p.profile
	}

	hadCachedSession := false
	if record, ok := p.cache.Get(p.remoteURL, p.tag, p.profile); ok {
		payload["pre_authenticated_session"] = record
		hadCachedSession = true
	} else {
		if p.cookiesText != "" {
			payload["cookies"] = p.cookiesText
		}
		if !p.credential.Empty() {
			payload["credential"] = p.credential
		}
	}

	if p.proxy != "" {
		resolved, err := proxies.Resolve(p.proxy, p.providers)
		if err != nil {
			// Forward the raw token; the server rejects it with a message
			// pointing back at client-side resolution.
			p.logger.Warn("proxy token did not resolve locally",
				slog.String("proxy", p.proxy),
				slog.String("error", err.Error()),
			)
			resolved = p.proxy
		}
		payload["proxy"] = resolved
	}
	if p.noProxy {
		payload["no_proxy"] = true
	}

	resp, werr := p.post(ctx, endpoint, payload)
	if werr == nil {
		return resp, nil
	}

	wire, ok := werr.(*wireError)
	if !ok {
		return nil, werr
	}
	if wire.code != models.CodeSessionExpired && wire.code != models.CodeAuthRequired {
		return nil, wire.sentinel()
	}

	// Interactive re-auth, then replay once with only the fresh session.
	if p.reauth == nil {
		return nil, wire.sentinel()
	}
	if hadCachedSession {
		if err := p.cache.Delete(p.remoteURL, p.tag, p.profile); err != nil {
			p.logger.Warn("failed to drop stale session", slog.String("error", err.Error()))
		}
	}
	record, err := p.reauth.Reauthenticate(ctx, p.remoteURL, p.tag, p.profile)
	if err != nil {
		return nil, fmt.Errorf("re-authenticating %s: %w", p.tag, err)
	}
	if err := p.cache.Store(p.remoteURL, p.tag, p.profile, record); err != nil {
		p.logger.Warn("failed to cache fresh session", slog.String("error", err.Error()))
	}

	delete(payload, "cookies")
	delete(payload, "credential")
	payload["pre_authenticated_session"] = record
	return p.post(ctx, endpoint, payload)
}

// wireError is a decoded server error body.
type wireError struct {
	status  int
	code    models.ErrorCode
	message string
}

func (e *wireError) Error() string {
	if e.code != "" {
		return fmt.Sprintf("server error %s: %s", e.code, e.message)
	}
	return fmt.Sprintf("server error (status %d): %s", e.status, e.message)
}

// sentinel wraps the wire error in its in-process error kind so callers can
// match with errors.Is.
func (e *wireError) sentinel() error {
	switch e.code {
	case models.CodeSessionExpired:
		return fmt.Errorf("%w: %s", models.ErrSessionExpired, e.message)
	case models.CodeAuthRequired:
		return fmt.Errorf("%w: %s", models.ErrAuthRequired, e.message)
	case models.CodeInvalidProxy:
		return fmt.Errorf("%w: %s", models.ErrInvalidProxy, e.message)
	case models.CodePremiumRequired:
		return fmt.Errorf("%w: %s", models.ErrPremiumRequired, e.message)
	case models.CodeCDMNotAllowed:
		return fmt.Errorf("%w: %s", models.ErrCDMNotAllowed, e.message)
	default:
		return fmt.Errorf("remote server error (status %d): %s", e.status, e.message)
	}
}

// post issues one POST with transport-level retries and decodes either a
// success payload or a wireError.
func (p *Proxy) post(ctx context.Context, endpoint string, payload map[string]any) (map[string]json.RawMessage, error) {
	url := fmt.Sprintf("%s/api/remote/%s/%s", p.remoteURL, p.tag, endpoint)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-Key", p.apiKey)

		resp, err := p.client.Do(req)
		if err == nil {
			return p.decode(resp)
		}
		lastErr = err
		if attempt >= len(transportBackoff) {
			break
		}
		delay := transportBackoff[attempt]
		p.logger.Warn("remote request failed, retrying",
			slog.String("endpoint", endpoint),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		p.sleep(delay)
	}
	return nil, fmt.Errorf("%w: %v", models.ErrConnection, lastErr)
}

func (p *Proxy) decode(resp *http.Response) (map[string]json.RawMessage, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("parsing response (status %d): %w", resp.StatusCode, err)
	}

	var status string
	if raw, ok := fields["status"]; ok {
		_ = json.Unmarshal(raw, &status)
	}
	if resp.StatusCode != http.StatusOK || status == "error" {
		var werr errorResponse
		_ = json.Unmarshal(data, &werr)
		return nil, &wireError{status: resp.StatusCode, code: werr.ErrorCode, message: werr.Message}
	}

	p.absorbSession(fields)
	return fields, nil
}

// absorbSession rehydrates the in-process session from a response and
// writes the refreshed record back to the cache.
func (p *Proxy) absorbSession(fields map[string]json.RawMessage) {
	raw, ok := fields["session"]
	if !ok {
		return
	}
	var record session.Record
	if err := json.Unmarshal(raw, &record); err != nil {
		p.logger.Warn("server session did not parse", slog.String("error", err.Error()))
		return
	}
	if !record.Valid() {
		return
	}
	session.Deserialize(record, p.sess)

	record.ServiceTag = p.tag
	record.Profile = p.profile
	record.CachedAt = p.now().Unix()
	record.Authenticated = true
	if err := p.cache.Store(p.remoteURL, p.tag, p.profile, record); err != nil {
		p.logger.Warn("failed to cache refreshed session", slog.String("error", err.Error()))
	}
}
