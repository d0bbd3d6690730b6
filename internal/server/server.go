// Package server implements the stateless remote service API: per-request
// adapter execution, API-key entitlements, download jobs, and discovery.
// The server never sees credentials beyond the request that carries them
// and persists no session state.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sternforth/vantage/internal/config"
	"github.com/sternforth/vantage/internal/download"
	"github.com/sternforth/vantage/internal/remote"
	"github.com/sternforth/vantage/internal/service"
	"github.com/sternforth/vantage/internal/vault"
	"github.com/sternforth/vantage/internal/version"
	"github.com/sternforth/vantage/pkg/httpclient"
)

// Dependencies carries the wired components a Server operates on.
type Dependencies struct {
	Registry   *service.Registry
	Manager    *download.Manager
	Downloader *download.Downloader
	Vaults     *vault.Vaults
	CDMs       map[string]remote.CDM
	Checker    *version.Checker
	Client     *httpclient.Client
	Logger     *slog.Logger
}

// Server is the HTTP server hosting the remote service API.
type Server struct {
	cfg        *config.Config
	registry   *service.Registry
	manager    *download.Manager
	downloader *download.Downloader
	vaults     *vault.Vaults
	cdms       map[string]remote.CDM
	checker    *version.Checker
	client     *httpclient.Client

	router     *chi.Mux
	api        huma.API
	httpServer *http.Server
	logger     *slog.Logger
	startTime  time.Time
}

// New builds the server, wiring middleware and every API operation.
func New(cfg *config.Config, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(RequestID)
	router.Use(Logging(logger))
	router.Use(Recovery(logger))
	router.Use(CORS(cfg.Serve.CORSOrigins))
	router.Use(APIKeyAuth(cfg.Serve))

	configureErrorModel()
	humaConfig := huma.DefaultConfig("vantage API", version.GetInfo().Version)
	humaConfig.Info.Description = "Remote media service execution API"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:        cfg,
		registry:   deps.Registry,
		manager:    deps.Manager,
		downloader: deps.Downloader,
		vaults:     deps.Vaults,
		cdms:       deps.CDMs,
		checker:    deps.Checker,
		client:     deps.Client,
		router:     router,
		api:        api,
		logger:     logger,
		startTime:  time.Now(),
	}
	s.registerOperations()
	return s
}

// API exposes the huma API for tests.
func (s *Server) API() huma.API { return s.api }

// Router exposes the chi router, middleware included.
func (s *Server) Router() *chi.Mux { return s.router }

func (s *Server) registerOperations() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health and update status",
		Tags:        []string{"System"},
	}, s.getHealth)

	huma.Register(s.api, huma.Operation{
		OperationID: "listServices",
		Method:      http.MethodGet,
		Path:        "/api/services",
		Summary:     "List hosted services",
		Tags:        []string{"Services"},
	}, s.listServices)

	huma.Register(s.api, huma.Operation{
		OperationID: "discoverServices",
		Method:      http.MethodGet,
		Path:        "/api/remote/services",
		Summary:     "Remote discovery",
		Tags:        []string{"Services"},
	}, s.discoverServices)

	huma.Register(s.api, huma.Operation{
		OperationID: "remoteSearch",
		Method:      http.MethodPost,
		Path:        "/api/remote/{service}/search",
		Summary:     "Search a service",
		Tags:        []string{"Remote"},
	}, s.remoteSearch)

	huma.Register(s.api, huma.Operation{
		OperationID: "remoteTitles",
		Method:      http.MethodPost,
		Path:        "/api/remote/{service}/titles",
		Summary:     "Enumerate titles",
		Tags:        []string{"Remote"},
	}, s.remoteTitles)

	huma.Register(s.api, huma.Operation{
		OperationID: "remoteTracks",
		Method:      http.MethodPost,
		Path:        "/api/remote/{service}/tracks",
		Summary:     "Enumerate tracks",
		Tags:        []string{"Remote"},
	}, s.remoteTracks)

	huma.Register(s.api, huma.Operation{
		OperationID: "remoteChapters",
		Method:      http.MethodPost,
		Path:        "/api/remote/{service}/chapters",
		Summary:     "Enumerate chapters",
		Tags:        []string{"Remote"},
	}, s.remoteChapters)

	huma.Register(s.api, huma.Operation{
		OperationID: "remoteLicense",
		Method:      http.MethodPost,
		Path:        "/api/remote/{service}/license",
		Summary:     "Forward a license challenge",
		Tags:        []string{"Remote"},
	}, s.remoteLicense)

	huma.Register(s.api, huma.Operation{
		OperationID: "remoteDecrypt",
		Method:      http.MethodPost,
		Path:        "/api/remote/{service}/decrypt",
		Summary:     "Server-side key extraction (premium)",
		Tags:        []string{"Remote"},
	}, s.remoteDecrypt)

	huma.Register(s.api, huma.Operation{
		OperationID:   "submitDownload",
		Method:        http.MethodPost,
		Path:          "/api/download",
		Summary:       "Queue a download job",
		Tags:          []string{"Downloads"},
		DefaultStatus: http.StatusAccepted,
	}, s.submitDownload)

	huma.Register(s.api, huma.Operation{
		OperationID: "listJobs",
		Method:      http.MethodGet,
		Path:        "/api/download/jobs",
		Summary:     "List download jobs",
		Tags:        []string{"Downloads"},
	}, s.listJobs)

	huma.Register(s.api, huma.Operation{
		OperationID: "getJob",
		Method:      http.MethodGet,
		Path:        "/api/download/jobs/{id}",
		Summary:     "Inspect a download job",
		Tags:        []string{"Downloads"},
	}, s.getJob)

	huma.Register(s.api, huma.Operation{
		OperationID: "cancelJob",
		Method:      http.MethodDelete,
		Path:        "/api/download/jobs/{id}",
		Summary:     "Cancel a download job",
		Tags:        []string{"Downloads"},
	}, s.cancelJob)
}

// Start begins serving and blocks until the listener fails or closes.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Serve.Address(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Serve.ReadTimeout,
		WriteTimeout: s.cfg.Serve.WriteTimeout,
	}

	s.logger.Info("starting server",
		slog.String("address", s.cfg.Serve.Address()),
		slog.Bool("auth", !s.cfg.Serve.NoAuth),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}

// Shutdown drains connections within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Serve.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// ListenAndServe runs the server until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() { errChan <- s.Start() }()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}
