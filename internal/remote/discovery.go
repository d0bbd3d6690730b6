package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/sternforth/vantage/internal/service"
	"github.com/sternforth/vantage/internal/session"
	"github.com/sternforth/vantage/pkg/httpclient"
)

// discoveredService is one entry of a server's discovery response.
type discoveredService struct {
	Tag           string   `json:"tag"`
	Aliases       []string `json:"aliases"`
	Geofence      []string `json:"geofence"`
	Help          string   `json:"help"`
	TitlePatterns []string `json:"title_regex"`
}

type discoveryResponse struct {
	Status   string              `json:"status"`
	Services []discoveredService `json:"services"`
	Message  string              `json:"message"`
}

// DiscoverOptions configures remote service discovery against one server.
type DiscoverOptions struct {
	RemoteURL string
	APIKey    string

	Client *httpclient.Client
	Cache  *session.Cache
	Reauth Reauthenticator
	Logger *slog.Logger
}

// Discover queries a server's discovery endpoint and registers every
// advertised adapter as a remote binding. Tags that are already taken are
// skipped with a warning. Returns the tags registered.
func Discover(ctx context.Context, registry *service.Registry, opts DiscoverOptions) ([]string, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	remoteURL := strings.TrimRight(opts.RemoteURL, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL+"/api/remote/services", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", opts.APIKey)

	resp, err := opts.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", remoteURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading discovery response: %w", err)
	}
	var parsed discoveryResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parsing discovery response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || parsed.Status == "error" {
		return nil, fmt.Errorf("discovery against %s failed (status %d): %s", remoteURL, resp.StatusCode, parsed.Message)
	}

	var registered []string
	for _, entry := range parsed.Services {
		descriptor := service.Descriptor{
			Tag:      entry.Tag,
			Aliases:  entry.Aliases,
			Geofence: entry.Geofence,
			Help:     entry.Help,
		}
		for _, pattern := range entry.TitlePatterns {
			re, err := regexp.Compile(pattern)
			if err != nil {
				logger.Warn("skipping invalid title pattern",
					slog.String("service", entry.Tag),
					slog.String("pattern", pattern),
				)
				continue
			}
			descriptor.TitleRE = append(descriptor.TitleRE, re)
		}

		builder := newRemoteBuilder(remoteURL, opts, descriptor)
		if err := registry.RegisterRemote(descriptor, builder); err != nil {
			logger.Warn("skipping remote service",
				slog.String("service", entry.Tag),
				slog.String("error", err.Error()),
			)
			continue
		}
		registered = append(registered, service.RemotePrefix+entry.Tag)
	}

	logger.Info("discovered remote services",
		slog.String("remote", remoteURL),
		slog.Int("count", len(registered)),
	)
	return registered, nil
}

// newRemoteBuilder returns a service builder that constructs a Proxy bound
// to one discovered adapter.
func newRemoteBuilder(remoteURL string, opts DiscoverOptions, descriptor service.Descriptor) service.Builder {
	return func(sctx service.Context, params service.Params) (service.Service, error) {
		return New(Options{
			RemoteURL:  remoteURL,
			APIKey:     opts.APIKey,
			Tag:        descriptor.Tag,
			Descriptor: descriptor,
			Title:      params.String("title"),
			Wanted:     params.String("wanted"),
			Profile:    sctx.Profile,
			Proxy:      sctx.Proxy,
			NoProxy:    sctx.NoProxy,
			Providers:  sctx.ProxyProviders,
			Client:     opts.Client,
			Cache:      opts.Cache,
			Reauth:     opts.Reauth,
			Logger:     sctx.Logger,
		}), nil
	}
}
