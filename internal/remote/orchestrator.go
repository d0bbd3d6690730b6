package remote

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sternforth/vantage/internal/config"
	"github.com/sternforth/vantage/internal/models"
	"github.com/sternforth/vantage/internal/service"
	"github.com/sternforth/vantage/internal/session"
)

// Orchestrator performs interactive authentication against the origin using
// a locally built adapter, then snapshots the result into a session record
// for remote use. Credentials and cookie files stay on this machine; only
// the resulting record ever travels to a server.
type Orchestrator struct {
	registry *service.Registry
	cfg      *config.Config
	cache    *session.Cache
	logger   *slog.Logger
	now      func() time.Time
}

// NewOrchestrator wires an orchestrator.
func NewOrchestrator(registry *service.Registry, cfg *config.Config, cache *session.Cache, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry: registry,
		cfg:      cfg,
		cache:    cache,
		logger:   logger,
		now:      time.Now,
	}
}

// Reauthenticate builds the local adapter for tag, authenticates it with
// the profile's cookie file and configured credential, and returns the
// serialized session stamped for the given remote. The record is also
// stored in the cache so subsequent requests reuse it.
func (o *Orchestrator) Reauthenticate(ctx context.Context, remoteURL, tag, profile string) (session.Record, error) {
	record, err := o.AuthenticateLocally(ctx, tag, profile)
	if err != nil {
		return session.Record{}, err
	}
	if err := o.cache.Store(remoteURL, record.ServiceTag, record.Profile, record); err != nil {
		return session.Record{}, fmt.Errorf("caching session for %s: %w", tag, err)
	}
	o.logger.Info("authenticated locally",
		slog.String("service", tag),
		slog.String("profile", profileOrDefault(profile)),
	)
	return record, nil
}

// AuthenticateLocally runs the local auth flow without touching the cache.
func (o *Orchestrator) AuthenticateLocally(ctx context.Context, tag, profile string) (session.Record, error) {
	localTag := strings.TrimPrefix(tag, service.RemotePrefix)

	svc, err := o.registry.Build(localTag, service.Context{
		Config:  o.cfg.Services[localTag],
		Profile: profile,
		Logger:  o.logger.With(slog.String("service", localTag)),
	}, nil)
	if err != nil {
		return session.Record{}, fmt.Errorf("building local adapter %s: %w", localTag, err)
	}

	cookies, err := o.loadCookies(localTag, profile)
	if err != nil {
		return session.Record{}, err
	}

	var credential service.Credential
	if username, password, ok := o.cfg.GetCredential(localTag, profile); ok {
		credential = service.Credential{Username: username, Password: password}
	}

	if len(cookies) == 0 && credential.Empty() {
		return session.Record{}, fmt.Errorf("service %s profile %s: no cookies or credentials configured: %w",
			localTag, profileOrDefault(profile), models.ErrAuthRequired)
	}

	if err := svc.Authenticate(ctx, cookies, credential); err != nil {
		return session.Record{}, fmt.Errorf("authenticating %s: %w", localTag, err)
	}

	record := session.Serialize(svc.Session())
	if !record.Valid() {
		return session.Record{}, fmt.Errorf("service %s produced no session material: %w", localTag, models.ErrAuthFailed)
	}
	record.ServiceTag = localTag
	record.Profile = profileOrDefault(profile)
	record.CachedAt = o.now().Unix()
	record.Authenticated = true
	return record, nil
}

// loadCookies reads the profile's Netscape cookie file, if one exists.
func (o *Orchestrator) loadCookies(tag, profile string) (map[string]session.Cookie, error) {
	path := o.cfg.Directories.CookiePath(tag, profile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cookie file %s: %w", path, err)
	}
	cookies, err := session.ParseCookieFile(string(data))
	if err != nil {
		return nil, fmt.Errorf("cookie file %s: %w", path, err)
	}
	return cookies, nil
}

func profileOrDefault(profile string) string {
	if profile == "" {
		return "default"
	}
	return profile
}
