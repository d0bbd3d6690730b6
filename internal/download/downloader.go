package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/sternforth/vantage/internal/manifest"
	"github.com/sternforth/vantage/internal/models"
	"github.com/sternforth/vantage/internal/service"
	"github.com/sternforth/vantage/pkg/httpclient"
)

// Downloader fetches a title's tracks through the HTTP facade. Tracks
// download concurrently; a track's segments download concurrently too, but
// segment post-processing runs strictly in playlist order.
type Downloader struct {
	client         *httpclient.Client
	manifests      *manifest.Materializer
	outputDir      string
	tempDir        string
	workers        int
	segmentWorkers int
	logger         *slog.Logger
	temps          *TempTracker
}

// NewDownloader wires a Downloader.
func NewDownloader(client *httpclient.Client, manifests *manifest.Materializer,
	outputDir, tempDir string, workers, segmentWorkers int, logger *slog.Logger) *Downloader {
	if workers < 1 {
		workers = 1
	}
	if segmentWorkers < 1 {
		segmentWorkers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		client:         client,
		manifests:      manifests,
		outputDir:      outputDir,
		tempDir:        tempDir,
		workers:        workers,
		segmentWorkers: segmentWorkers,
		logger:         logger,
		temps:          NewTempTracker(),
	}
}

// Temps exposes the temp-file registry for exit-time cleanup.
func (d *Downloader) Temps() *TempTracker { return d.temps }

// trackRef is one downloadable track flattened from a Tracks set.
type trackRef struct {
	id       string
	url      string
	delivery models.Descriptor
	ext      string
}

func flattenTracks(tracks models.Tracks) []trackRef {
	var refs []trackRef
	for _, v := range tracks.Video {
		if v.URL == "" {
			continue
		}
		refs = append(refs, trackRef{id: v.ID, url: v.URL, delivery: v.Delivery, ext: "mp4"})
	}
	for _, a := range tracks.Audio {
		if a.URL == "" {
			continue
		}
		refs = append(refs, trackRef{id: a.ID, url: a.URL, delivery: a.Delivery, ext: "m4a"})
	}
	for _, s := range tracks.Subtitles {
		if s.URL == "" {
			continue
		}
		refs = append(refs, trackRef{id: s.ID, url: s.URL, ext: "srt"})
	}
	return refs
}

// Run downloads every track of a title, reporting progress on the job and
// invoking the service hooks per segment and per track.
func (d *Downloader) Run(ctx context.Context, job *Job, svc service.Service,
	title models.Title, tracks models.Tracks, baseName string) error {

	refs := flattenTracks(tracks)
	if len(refs) == 0 {
		return fmt.Errorf("title %s has no downloadable tracks", title.TitleID())
	}

	if err := os.MkdirAll(d.outputDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	defer func() {
		if err := d.temps.Cleanup(); err != nil {
			d.logger.Warn("temp cleanup failed", slog.String("error", err.Error()))
		}
	}()

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)

	for _, ref := range refs {
		g.Go(func() error {
			outPath := filepath.Join(d.outputDir, fmt.Sprintf("%s.%s.%s", baseName, ref.id, ref.ext))
			if err := d.downloadTrack(gctx, svc, ref, outPath); err != nil {
				return fmt.Errorf("track %s: %w", ref.id, err)
			}
			if err := svc.OnTrackDownloaded(gctx, ref.id); err != nil {
				return fmt.Errorf("track %s post-processing: %w", ref.id, err)
			}
			job.AddOutput(outPath)
			job.SetProgress(float64(done.Add(1)) / float64(len(refs)))
			return nil
		})
	}
	return g.Wait()
}

func (d *Downloader) downloadTrack(ctx context.Context, svc service.Service, ref trackRef, outPath string) error {
	if ref.delivery == models.DescriptorHLS {
		return d.downloadHLS(ctx, svc, ref, outPath)
	}
	return d.downloadDirect(ctx, svc, ref, outPath)
}

// downloadDirect fetches a single-file track.
func (d *Downloader) downloadDirect(ctx context.Context, svc service.Service, ref trackRef, outPath string) error {
	resp, err := d.client.Get(ctx, ref.url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("fetching %s: status %d", ref.url, resp.StatusCode)
	}

	tmp := outPath + ".part"
	d.temps.Register(tmp)
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := svc.OnSegmentDownloaded(ctx, ref.id, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, outPath); err != nil {
		return err
	}
	d.temps.Release(tmp)
	return nil
}

// downloadHLS materializes the track playlist, downloads segments with a
// bounded worker pool, then post-processes and concatenates them in order.
func (d *Downloader) downloadHLS(ctx context.Context, svc service.Service, ref trackRef, outPath string) error {
	result, err := d.manifests.Materialize(ctx, ref.url)
	if err != nil {
		return err
	}
	d.temps.Register(result.Path)
	if len(result.SegmentURLs) == 0 {
		return fmt.Errorf("playlist %s has no segments", ref.url)
	}

	segPaths := make([]string, len(result.SegmentURLs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.segmentWorkers)

	for i, segURL := range result.SegmentURLs {
		segPath := filepath.Join(d.tempDir, fmt.Sprintf("%s_seg%05d.bin", ref.id, i))
		segPaths[i] = segPath
		d.temps.Register(segPath)

		g.Go(func() error {
			resp, err := d.client.Get(gctx, segURL)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != 200 {
				return fmt.Errorf("fetching segment %s: status %d", segURL, resp.StatusCode)
			}

			out, err := os.Create(segPath)
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, resp.Body); err != nil {
				out.Close()
				return err
			}
			return out.Close()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Segment hooks and concatenation run in playlist order regardless of
	// download completion order.
	tmp := outPath + ".part"
	d.temps.Register(tmp)
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	for _, segPath := range segPaths {
		if err := ctx.Err(); err != nil {
			out.Close()
			return err
		}
		if err := svc.OnSegmentDownloaded(ctx, ref.id, segPath); err != nil {
			out.Close()
			return err
		}
		seg, err := os.Open(segPath)
		if err != nil {
			out.Close()
			return err
		}
		_, err = io.Copy(out, seg)
		seg.Close()
		if err != nil {
			out.Close()
			return err
		}
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, outPath); err != nil {
		return err
	}
	d.temps.Release(tmp)
	return nil
}
