package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sternforth/vantage/internal/download"
	"github.com/sternforth/vantage/internal/models"
	"github.com/sternforth/vantage/internal/proxies"
)

// downloadRequest is the body of a job submission. The target service
// travels in the body since the endpoint is not per-service.
type downloadRequest struct {
	Service string `json:"service"`
	serviceRequest
}

type downloadInput struct {
	Body downloadRequest
}

type downloadOutput struct {
	Body struct {
		Status      string          `json:"status"`
		JobID       string          `json:"job_id"`
		JobStatus   download.Status `json:"job_status"`
		CreatedTime int64           `json:"created_time"`
	}
}

// submitDownload validates the request synchronously and queues the work.
// The adapter is built inside the job so a slow origin cannot stall the
// submission response.
func (s *Server) submitDownload(_ context.Context, in *downloadInput) (*downloadOutput, error) {
	tag := in.Body.Service
	req := in.Body.serviceRequest
	if err := s.validateDownloadRequest(tag, &req); err != nil {
		return nil, s.wireError(err)
	}

	job := s.manager.Submit(s.registry.GetTag(tag), req.Identifier(), req.Profile,
		func(ctx context.Context, job *download.Job) error {
			return s.runDownload(ctx, job, tag, &req)
		})

	snapshot := job.Snapshot()
	out := &downloadOutput{}
	out.Body.Status = "success"
	out.Body.JobID = snapshot.ID
	out.Body.JobStatus = snapshot.Status
	out.Body.CreatedTime = snapshot.CreatedTime
	return out, nil
}

// validateDownloadRequest rejects submissions that could never run, so the
// caller hears about bad input at submit time rather than in job state.
func (s *Server) validateDownloadRequest(tag string, req *serviceRequest) error {
	if tag == "" {
		return plainAPIError(http.StatusBadRequest, "service is required")
	}
	if !s.registry.Has(tag) || s.registry.IsRemote(tag) {
		return plainAPIError(http.StatusNotFound, fmt.Sprintf("unknown service %q", tag))
	}
	if req.Identifier() == "" {
		return plainAPIError(http.StatusBadRequest, "title is required")
	}
	if req.Proxy != "" && !req.NoProxy && !proxies.IsQualified(req.Proxy) {
		return newAPIError(models.CodeInvalidProxy,
			fmt.Sprintf("proxy %q is not a qualified http(s) URI; resolve provider tokens client-side", req.Proxy))
	}
	if record := req.PreAuthenticatedSession; record != nil {
		if record.Expired(time.Now()) {
			return newAPIError(models.CodeSessionExpired, "pre-authenticated session is older than 24h; re-authenticate locally")
		}
		return nil
	}
	if req.Cookies == "" && req.Credential == nil {
		return newAPIError(models.CodeAuthRequired, "no session, cookies, or credentials provided")
	}
	return nil
}

// runDownload executes one submitted job: fresh adapter, title resolution,
// then every selected episode (or the single title) through the downloader.
func (s *Server) runDownload(ctx context.Context, job *download.Job, tag string, req *serviceRequest) error {
	svc, _, err := s.buildAdapter(ctx, tag, req)
	if err != nil {
		return err
	}
	titles, err := svc.GetTitles(ctx)
	if err != nil {
		return err
	}
	if len(titles) == 0 {
		return fmt.Errorf("title %s: %w", req.Identifier(), models.ErrNotAvailable)
	}

	var targets []models.Title
	if episodes := titles.Episodes(); len(episodes) > 0 {
		selected, err := selectEpisodes(episodes, req)
		if err != nil {
			return err
		}
		if len(selected) == 0 {
			return fmt.Errorf("no episodes match the request: %w", models.ErrNotAvailable)
		}
		for _, ep := range selected {
			targets = append(targets, ep)
		}
	} else {
		targets = []models.Title{titles[0]}
	}

	source := strings.ToUpper(s.registry.GetTag(tag))
	downloaded := 0
	for _, title := range targets {
		tracks, err := svc.GetTracks(ctx, title)
		if err != nil {
			if errors.Is(err, models.ErrNotAvailable) && len(targets) > 1 {
				s.logger.Warn("skipping unavailable episode",
					"service", source, "title", title.TitleID())
				continue
			}
			return err
		}
		base := download.OutputName(s.cfg.OutputTemplate, s.cfg.Tag, source, title, tracks)
		if err := s.downloader.Run(ctx, job, svc, title, tracks, base); err != nil {
			return err
		}
		downloaded++
	}
	if downloaded == 0 {
		return fmt.Errorf("no requested episode is available: %w", models.ErrNotAvailable)
	}
	return nil
}

type jobsInput struct{}

type jobsOutput struct {
	Body struct {
		Status string          `json:"status"`
		Jobs   []download.Info `json:"jobs"`
	}
}

func (s *Server) listJobs(_ context.Context, _ *jobsInput) (*jobsOutput, error) {
	out := &jobsOutput{}
	out.Body.Status = "success"
	out.Body.Jobs = s.manager.List()
	return out, nil
}

type jobInput struct {
	ID string `path:"id"`
}

type jobOutput struct {
	Body struct {
		Status string        `json:"status"`
		Job    download.Info `json:"job"`
	}
}

func (s *Server) getJob(_ context.Context, in *jobInput) (*jobOutput, error) {
	job, ok := s.manager.Get(in.ID)
	if !ok {
		return nil, plainAPIError(http.StatusNotFound, fmt.Sprintf("unknown job %q", in.ID))
	}
	out := &jobOutput{}
	out.Body.Status = "success"
	out.Body.Job = job.Snapshot()
	return out, nil
}

type cancelOutput struct {
	Body struct {
		Status    string `json:"status"`
		JobID     string `json:"job_id"`
		Cancelled bool   `json:"cancelled"`
	}
}

func (s *Server) cancelJob(_ context.Context, in *jobInput) (*cancelOutput, error) {
	job, ok := s.manager.Get(in.ID)
	if !ok {
		return nil, plainAPIError(http.StatusNotFound, fmt.Sprintf("unknown job %q", in.ID))
	}
	out := &cancelOutput{}
	out.Body.Status = "success"
	out.Body.JobID = job.ID()
	out.Body.Cancelled = s.manager.Cancel(in.ID)
	return out, nil
}
