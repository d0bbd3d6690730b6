package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sternforth/vantage/internal/models"
	"github.com/sternforth/vantage/internal/proxies"
	"github.com/sternforth/vantage/internal/service"
	"github.com/sternforth/vantage/internal/session"
)

// serviceRequest is the shared body of every per-service operation. The
// title identifier is accepted as title, title_id, or url interchangeably.
type serviceRequest struct {
	Title   string `json:"title,omitempty"`
	TitleID string `json:"title_id,omitempty"`
	URL     string `json:"url,omitempty"`

	Query   string `json:"query,omitempty"`
	Season  int    `json:"season,omitempty"`
	Episode int    `json:"episode,omitempty"`
	Wanted  string `json:"wanted,omitempty"`

	Profile string `json:"profile,omitempty"`
	Proxy   string `json:"proxy,omitempty"`
	NoProxy bool   `json:"no_proxy,omitempty"`

	Cookies                 string              `json:"cookies,omitempty"`
	Credential              *service.Credential `json:"credential,omitempty"`
	PreAuthenticatedSession *session.Record     `json:"pre_authenticated_session,omitempty"`

	TrackID    string `json:"track_id,omitempty"`
	Challenge  string `json:"challenge,omitempty"`
	PSSH       string `json:"pssh,omitempty"`
	CDM        string `json:"cdm,omitempty"`
	LicenseURL string `json:"license_url,omitempty"`
}

// Identifier returns the title identifier, whichever field carried it.
func (r *serviceRequest) Identifier() string {
	for _, candidate := range []string{r.Title, r.TitleID, r.URL} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// buildAdapter constructs and authenticates a fresh adapter for one
// request. The server holds no adapter state between requests; every
// operation rebuilds from the body it carries.
func (s *Server) buildAdapter(ctx context.Context, tag string, req *serviceRequest) (service.Service, service.Descriptor, error) {
	if !s.registry.Has(tag) || s.registry.IsRemote(tag) {
		return nil, service.Descriptor{}, plainAPIError(http.StatusNotFound, fmt.Sprintf("unknown service %q", tag))
	}
	canonical := s.registry.GetTag(tag)
	descriptor, _ := s.registry.Descriptor(canonical)

	// Provider tokens are a client-side concern; only qualified URIs cross
	// the wire.
	if req.Proxy != "" && !req.NoProxy && !proxies.IsQualified(req.Proxy) {
		return nil, descriptor, newAPIError(models.CodeInvalidProxy,
			fmt.Sprintf("proxy %q is not a qualified http(s) URI; resolve provider tokens client-side", req.Proxy))
	}

	svc, err := s.registry.Build(canonical, service.Context{
		Config:  s.cfg.Services[canonical],
		Proxy:   req.Proxy,
		NoProxy: req.NoProxy,
		Profile: req.Profile,
		Logger:  s.logger.With(slog.String("service", canonical)),
	}, service.Params{
		"title":  descriptor.MatchTitle(req.Identifier()),
		"wanted": req.Wanted,
	})
	if err != nil {
		return nil, descriptor, fmt.Errorf("building adapter %s: %w", canonical, err)
	}

	if err := s.authenticateAdapter(ctx, svc, req); err != nil {
		return nil, descriptor, err
	}
	return svc, descriptor, nil
}

// authenticateAdapter applies the request's session material in priority
// order: pre-authenticated session, then cookies/credential, else the
// request is unauthenticated.
func (s *Server) authenticateAdapter(ctx context.Context, svc service.Service, req *serviceRequest) error {
	if record := req.PreAuthenticatedSession; record != nil {
		if record.Expired(time.Now()) {
			return newAPIError(models.CodeSessionExpired, "pre-authenticated session is older than 24h; re-authenticate locally")
		}
		session.Deserialize(*record, svc.Session())
		return nil
	}

	if req.Cookies != "" || req.Credential != nil {
		var cookies map[string]session.Cookie
		if req.Cookies != "" {
			parsed, err := session.ParseCookieFile(req.Cookies)
			if err != nil {
				return plainAPIError(http.StatusBadRequest, fmt.Sprintf("invalid cookies: %v", err))
			}
			cookies = parsed
		}
		var credential service.Credential
		if req.Credential != nil {
			credential = *req.Credential
		}
		if err := svc.Authenticate(ctx, cookies, credential); err != nil {
			return err
		}
		return nil
	}

	return newAPIError(models.CodeAuthRequired, "no session, cookies, or credentials provided")
}
