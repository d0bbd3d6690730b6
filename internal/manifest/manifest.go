// Package manifest fetches HLS playlists and materializes them as local
// files. Segment and key URIs are rewritten absolute so a materialized
// playlist can be consumed from anywhere, and the result is returned as a
// file:// URL for the HTTP facade's file transport.
package manifest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"github.com/sternforth/vantage/pkg/httpclient"
)

// maxPlaylistSize bounds playlist downloads. Playlists are text; anything
// bigger than this is not one.
const maxPlaylistSize = 16 << 20

var uriAttr = regexp.MustCompile(`URI="([^"]*)"`)

// Kind distinguishes playlist types.
type Kind string

const (
	// KindMultivariant is a master playlist referencing variant streams.
	KindMultivariant Kind = "multivariant"
	// KindMedia is a media playlist referencing segments.
	KindMedia Kind = "media"
)

// Materializer downloads playlists through the HTTP facade and writes them
// to the temp directory.
type Materializer struct {
	client  *httpclient.Client
	tempDir string
	logger  *slog.Logger
}

// New builds a Materializer writing into tempDir.
func New(client *httpclient.Client, tempDir string, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{client: client, tempDir: tempDir, logger: logger}
}

// Result describes a materialized playlist.
type Result struct {
	// FileURL is the file:// URL of the local copy.
	FileURL string
	// Path is the local filesystem path.
	Path string
	// Kind reports whether this was a master or media playlist.
	Kind Kind
	// SegmentURLs lists the absolute segment URLs of a media playlist.
	SegmentURLs []string
	// TargetDuration is the media playlist target duration in seconds.
	TargetDuration int
}

// Materialize fetches an HLS playlist, rewrites every referenced URI
// absolute, writes the playlist under the temp directory and returns its
// file:// URL.
func (m *Materializer) Materialize(ctx context.Context, rawURL string) (*Result, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing playlist URL: %w", err)
	}

	resp, err := m.client.Get(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetching playlist: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistSize))
	if err != nil {
		return nil, fmt.Errorf("reading playlist: %w", err)
	}

	parsed, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("parsing playlist: %w", err)
	}

	result := &Result{}
	switch pl := parsed.(type) {
	case *playlist.Multivariant:
		result.Kind = KindMultivariant
	case *playlist.Media:
		result.Kind = KindMedia
		result.TargetDuration = pl.TargetDuration
		for _, seg := range pl.Segments {
			if seg == nil || seg.URI == "" {
				continue
			}
			result.SegmentURLs = append(result.SegmentURLs, absolutize(base, seg.URI))
		}
	default:
		return nil, fmt.Errorf("unsupported playlist type %T", parsed)
	}

	rewritten := absolutizePlaylist(base, string(data))

	if err := os.MkdirAll(m.tempDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}

	sum := sha1.Sum([]byte(rawURL))
	result.Path = filepath.Join(m.tempDir, fmt.Sprintf("manifest_%s.m3u8", hex.EncodeToString(sum[:8])))
	if err := os.WriteFile(result.Path, []byte(rewritten), 0o600); err != nil {
		return nil, fmt.Errorf("writing playlist: %w", err)
	}
	result.FileURL = "file://" + result.Path

	m.logger.Debug("materialized playlist",
		slog.String("kind", string(result.Kind)),
		slog.String("path", result.Path),
		slog.Int("segments", len(result.SegmentURLs)))
	return result, nil
}

// absolutizePlaylist rewrites every URI in an m3u8 document absolute
// against base: plain URI lines and URI="..." attributes on tags
// (EXT-X-KEY, EXT-X-MAP, EXT-X-MEDIA).
func absolutizePlaylist(base *url.URL, doc string) string {
	lines := strings.Split(doc, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			lines[i] = uriAttr.ReplaceAllStringFunc(line, func(match string) string {
				uri := uriAttr.FindStringSubmatch(match)[1]
				if uri == "" {
					return match
				}
				return fmt.Sprintf("URI=%q", absolutize(base, uri))
			})
			continue
		}
		lines[i] = strings.Replace(line, trimmed, absolutize(base, trimmed), 1)
	}
	return strings.Join(lines, "\n")
}

// absolutize resolves a possibly-relative reference against base.
func absolutize(base *url.URL, ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}
