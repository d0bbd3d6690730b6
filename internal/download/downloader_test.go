package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sternforth/vantage/internal/config"
	"github.com/sternforth/vantage/internal/manifest"
	"github.com/sternforth/vantage/internal/models"
	"github.com/sternforth/vantage/internal/service"
	"github.com/sternforth/vantage/internal/session"
	"github.com/sternforth/vantage/pkg/httpclient"
)

// hookService records the order service hooks fire in.
type hookService struct {
	mu       sync.Mutex
	segments []string
	tracks   []string
	session  *session.Session
}

func (h *hookService) Authenticate(context.Context, map[string]session.Cookie, service.Credential) error {
	return nil
}

func (h *hookService) Search(context.Context, string) ([]models.SearchResult, error) { return nil, nil }
func (h *hookService) GetTitles(context.Context) (models.Titles, error)              { return nil, nil }
func (h *hookService) GetTracks(context.Context, models.Title) (models.Tracks, error) {
	return models.Tracks{}, nil
}
func (h *hookService) GetChapters(context.Context, models.Title) (models.Chapters, error) {
	return nil, nil
}

func (h *hookService) OnSegmentDownloaded(_ context.Context, _ string, path string) error {
	h.mu.Lock()
	h.segments = append(h.segments, filepath.Base(path))
	h.mu.Unlock()
	return nil
}

func (h *hookService) OnTrackDownloaded(_ context.Context, id string) error {
	h.mu.Lock()
	h.tracks = append(h.tracks, id)
	h.mu.Unlock()
	return nil
}

func (h *hookService) Session() *session.Session { return h.session }

func newTestDownloader(t *testing.T, segmentWorkers int) (*Downloader, *httpclient.Client, string) {
	t.Helper()
	client, err := httpclient.New(httpclient.Config{Backend: httpclient.BackendStandard})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	outDir := t.TempDir()
	tempDir := t.TempDir()
	m := manifest.New(client, tempDir, nil)
	return NewDownloader(client, m, outDir, tempDir, 2, segmentWorkers, nil), client, outDir
}

func TestDownloaderDirectTrack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "subtitle body")
	}))
	defer server.Close()

	d, _, outDir := newTestDownloader(t, 4)
	svc := &hookService{session: session.New()}

	m, err := NewManager(0, "", nil)
	require.NoError(t, err)
	defer m.Close()

	tracks := models.Tracks{Subtitles: []models.Subtitle{
		{ID: "sub1", Codec: models.SubtitleSRT, URL: server.URL + "/sub.srt", Language: "en"},
	}}
	title := models.Movie{ID: "m1", Name: "Movie"}

	job := m.Submit("examplesvc", "m1", "", func(ctx context.Context, job *Job) error {
		return d.Run(ctx, job, svc, title, tracks, "Movie.2024")
	})
	waitForStatus(t, job, StatusCompleted)

	data, err := os.ReadFile(filepath.Join(outDir, "Movie.2024.sub1.srt"))
	require.NoError(t, err)
	assert.Equal(t, "subtitle body", string(data))
	assert.Equal(t, []string{"sub1"}, svc.tracks)
	assert.Zero(t, d.Temps().Len())
}

func TestDownloaderHLSOrderedPostProcessing(t *testing.T) {
	const segments = 8

	mux := http.NewServeMux()
	mux.HandleFunc("/index.m3u8", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:6\n")
		for i := range segments {
			fmt.Fprintf(w, "#EXTINF:6.000,\nseg%d.ts\n", i)
		}
		_, _ = io.WriteString(w, "#EXT-X-ENDLIST\n")
	})
	for i := range segments {
		mux.HandleFunc(fmt.Sprintf("/seg%d.ts", i), func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprintf(w, "[%d]", i)
		})
	}
	server := httptest.NewServer(mux)
	defer server.Close()

	d, _, outDir := newTestDownloader(t, 4)
	svc := &hookService{session: session.New()}

	tracks := models.Tracks{Video: []models.Video{{
		ID: "v1", Codec: models.VideoAVC, URL: server.URL + "/index.m3u8",
		Delivery: models.DescriptorHLS, Height: 1080, Width: 1920,
	}}}
	title := models.Movie{ID: "m1", Name: "Movie"}

	m, err := NewManager(0, "", nil)
	require.NoError(t, err)
	defer m.Close()

	job := m.Submit("examplesvc", "m1", "", func(ctx context.Context, job *Job) error {
		return d.Run(ctx, job, svc, title, tracks, "Movie")
	})
	waitForStatus(t, job, StatusCompleted)

	// Concatenation is in playlist order even with concurrent fetches.
	data, err := os.ReadFile(filepath.Join(outDir, "Movie.v1.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "[0][1][2][3][4][5][6][7]", string(data))

	// Segment hooks fired in order too.
	require.Len(t, svc.segments, segments)
	for i, name := range svc.segments {
		assert.Contains(t, name, fmt.Sprintf("seg%05d", i))
	}

	// Temp segments were cleaned up.
	assert.Zero(t, d.Temps().Len())
}

func TestDownloaderNoTracks(t *testing.T) {
	d, _, _ := newTestDownloader(t, 1)
	svc := &hookService{session: session.New()}

	m, err := NewManager(0, "", nil)
	require.NoError(t, err)
	defer m.Close()

	job := m.Submit("examplesvc", "m1", "", func(ctx context.Context, job *Job) error {
		return d.Run(ctx, job, svc, models.Movie{ID: "m1"}, models.Tracks{}, "x")
	})
	waitForStatus(t, job, StatusFailed)
}

func TestOutputNameMovie(t *testing.T) {
	templates := config.OutputTemplateConfig{
		Movies: "{title}.{year}.{quality}.{source}.WEB-DL.{hdr?}.{video}-{tag}",
	}
	tracks := models.Tracks{
		Video: []models.Video{{Codec: models.VideoHEVC, Height: 2160, Width: 3840, Range: models.RangeHDR10}},
		Audio: []models.Audio{{Codec: models.AudioEC3, Channels: 5.1, Atmos: true}},
	}

	name := OutputName(templates, "GROUP", "ESVC", models.Movie{Name: "The Example", Year: 2024}, tracks)
	assert.Equal(t, "The.Example.2024.2160p.ESVC.WEB-DL.HDR.H.265-GROUP", name)
}

func TestOutputNameEpisode(t *testing.T) {
	templates := config.OutputTemplateConfig{
		Series: "{title} {season_episode} {episode_name?}",
	}
	episode := models.Episode{SeriesTitle: "The Show", Season: 1, Number: 2, Name: "Pilot Part 2"}

	name := OutputName(templates, "", "", episode, models.Tracks{})
	assert.Equal(t, "The Show S01E02 Pilot Part 2", name)
}

func TestOutputNameSong(t *testing.T) {
	templates := config.OutputTemplateConfig{Songs: "{track_number}. {title}"}
	song := models.Song{Name: "Tune", Artist: "Artist", Album: "Album", Track: 3}

	name := OutputName(templates, "", "", song, models.Tracks{})
	assert.Equal(t, "03. Tune", name)
}

func TestTempTracker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.part")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	tracker := NewTempTracker()
	tracker.Register(path)
	tracker.Register(filepath.Join(dir, "never-created.part"))
	assert.Equal(t, 2, tracker.Len())

	require.NoError(t, tracker.Cleanup())
	assert.Zero(t, tracker.Len())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
