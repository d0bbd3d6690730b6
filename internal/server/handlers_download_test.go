package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sternforth/vantage/internal/config"
	"github.com/sternforth/vantage/internal/download"
	"github.com/sternforth/vantage/internal/models"
)

func waitForTerminal(t *testing.T, s *Server, id string) download.Info {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := s.manager.Get(id)
		require.True(t, ok)
		info := job.Snapshot()
		if info.Status.Terminal() {
			return info
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", id)
	return download.Info{}
}

func TestSubmitDownloadValidation(t *testing.T) {
	s := newTestServer(t, newFakeService(), nil)

	tests := []struct {
		name       string
		body       downloadRequest
		wantStatus int
		wantCode   models.ErrorCode
	}{
		{
			name:       "missing service",
			body:       downloadRequest{serviceRequest: authedRequest()},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown service",
			body:       downloadRequest{Service: "nosuch", serviceRequest: authedRequest()},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "missing title",
			body:       downloadRequest{Service: "examplesvc", serviceRequest: serviceRequest{PreAuthenticatedSession: freshRecord()}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "provider token proxy",
			body: func() downloadRequest {
				r := authedRequest()
				r.Proxy = "nordvpn:us"
				return downloadRequest{Service: "examplesvc", serviceRequest: r}
			}(),
			wantStatus: http.StatusBadRequest,
			wantCode:   models.CodeInvalidProxy,
		},
		{
			name:       "no auth material",
			body:       downloadRequest{Service: "examplesvc", serviceRequest: serviceRequest{Title: "m1"}},
			wantStatus: http.StatusUnauthorized,
			wantCode:   models.CodeAuthRequired,
		},
		{
			name: "expired session",
			body: func() downloadRequest {
				record := freshRecord()
				record.CachedAt = time.Now().Add(-25 * time.Hour).Unix()
				return downloadRequest{Service: "examplesvc", serviceRequest: serviceRequest{Title: "m1", PreAuthenticatedSession: record}}
			}(),
			wantStatus: http.StatusUnauthorized,
			wantCode:   models.CodeSessionExpired,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.submitDownload(context.Background(), &downloadInput{Body: tt.body})
			apiErr := requireAPIError(t, err)
			assert.Equal(t, tt.wantStatus, apiErr.GetStatus())
			assert.Equal(t, tt.wantCode, apiErr.Code)
		})
	}
}

func TestSubmitDownloadLifecycle(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("media-bytes"))
	}))
	t.Cleanup(backend.Close)

	svc := newFakeService()
	svc.titles = models.Titles{models.Movie{ID: "m1", Name: "The Example", Year: 2021}}
	svc.tracks["m1"] = models.Tracks{
		Video: []models.Video{{ID: "v1", Codec: models.VideoAVC, URL: backend.URL + "/v1.mp4"}},
	}
	s := newTestServer(t, svc, func(cfg *config.Config) {
		cfg.OutputTemplate.Movies = "{title} ({year}) {quality}"
		cfg.Tag = "LAB"
	})

	body := downloadRequest{Service: "examplesvc", serviceRequest: authedRequest()}
	out, err := s.submitDownload(context.Background(), &downloadInput{Body: body})
	require.NoError(t, err)

	assert.Equal(t, "success", out.Body.Status)
	require.NotEmpty(t, out.Body.JobID)
	assert.NotZero(t, out.Body.CreatedTime)

	info := waitForTerminal(t, s, out.Body.JobID)
	require.Equal(t, download.StatusCompleted, info.Status, "job error: %s", info.Error)
	assert.Equal(t, "examplesvc", info.Service)
	assert.NotEmpty(t, info.OutputFiles)

	// The finished job is visible through the job endpoints.
	jobOut, err := s.getJob(context.Background(), &jobInput{ID: out.Body.JobID})
	require.NoError(t, err)
	assert.Equal(t, download.StatusCompleted, jobOut.Body.Job.Status)

	listOut, err := s.listJobs(context.Background(), &jobsInput{})
	require.NoError(t, err)
	require.Len(t, listOut.Body.Jobs, 1)
	assert.Equal(t, out.Body.JobID, listOut.Body.Jobs[0].ID)
}

func TestSubmitDownloadFailureRecorded(t *testing.T) {
	svc := newFakeService()
	svc.titles = models.Titles{}
	s := newTestServer(t, svc, nil)

	body := downloadRequest{Service: "examplesvc", serviceRequest: authedRequest()}
	out, err := s.submitDownload(context.Background(), &downloadInput{Body: body})
	require.NoError(t, err)

	info := waitForTerminal(t, s, out.Body.JobID)
	assert.Equal(t, download.StatusFailed, info.Status)
	assert.NotEmpty(t, info.Error)
}

func TestGetJobUnknown(t *testing.T) {
	s := newTestServer(t, newFakeService(), nil)

	_, err := s.getJob(context.Background(), &jobInput{ID: "nosuch"})
	apiErr := requireAPIError(t, err)
	assert.Equal(t, http.StatusNotFound, apiErr.GetStatus())
}

func TestCancelJob(t *testing.T) {
	s := newTestServer(t, newFakeService(), nil)

	job := s.manager.Submit("examplesvc", "m1", "", func(ctx context.Context, _ *download.Job) error {
		<-ctx.Done()
		return ctx.Err()
	})

	out, err := s.cancelJob(context.Background(), &jobInput{ID: job.ID()})
	require.NoError(t, err)
	assert.Equal(t, job.ID(), out.Body.JobID)
	assert.True(t, out.Body.Cancelled)

	info := waitForTerminal(t, s, job.ID())
	assert.Equal(t, download.StatusCancelled, info.Status)
}

func TestCancelJobUnknown(t *testing.T) {
	s := newTestServer(t, newFakeService(), nil)

	_, err := s.cancelJob(context.Background(), &jobInput{ID: "nosuch"})
	apiErr := requireAPIError(t, err)
	assert.Equal(t, http.StatusNotFound, apiErr.GetStatus())
}
