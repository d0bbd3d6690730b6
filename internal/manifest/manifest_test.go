package manifest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sternforth/vantage/pkg/httpclient"
)

const mediaPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:0
#EXT-X-KEY:METHOD=AES-128,URI="keys/key1.bin",IV=0x00000000000000000000000000000001
#EXTINF:6.000,
seg/segment0.ts
#EXTINF:6.000,
seg/segment1.ts
#EXT-X-ENDLIST
`

const masterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080,CODECS="avc1.640028,mp4a.40.2"
variants/1080p.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2000000,RESOLUTION=1280x720,CODECS="avc1.64001f,mp4a.40.2"
variants/720p.m3u8
`

func newFacade(t *testing.T) *httpclient.Client {
	t.Helper()
	client, err := httpclient.New(httpclient.Config{Backend: httpclient.BackendStandard})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestMaterializeMediaPlaylist(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, mediaPlaylist)
	}))
	defer server.Close()

	m := New(newFacade(t), t.TempDir(), nil)
	result, err := m.Materialize(context.Background(), server.URL+"/video/index.m3u8")
	require.NoError(t, err)

	assert.Equal(t, KindMedia, result.Kind)
	assert.Equal(t, 6, result.TargetDuration)
	require.Len(t, result.SegmentURLs, 2)
	assert.Equal(t, server.URL+"/video/seg/segment0.ts", result.SegmentURLs[0])

	require.True(t, strings.HasPrefix(result.FileURL, "file://"))
	data, err := os.ReadFile(result.Path)
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, server.URL+"/video/seg/segment0.ts")
	assert.Contains(t, content, server.URL+"/video/seg/segment1.ts")
	assert.Contains(t, content, `URI="`+server.URL+`/video/keys/key1.bin"`)
	assert.NotContains(t, content, "\nseg/segment0.ts")
}

func TestMaterializeMasterPlaylist(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, masterPlaylist)
	}))
	defer server.Close()

	m := New(newFacade(t), t.TempDir(), nil)
	result, err := m.Materialize(context.Background(), server.URL+"/index.m3u8")
	require.NoError(t, err)

	assert.Equal(t, KindMultivariant, result.Kind)
	assert.Empty(t, result.SegmentURLs)

	data, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), server.URL+"/variants/1080p.m3u8")
	assert.Contains(t, string(data), server.URL+"/variants/720p.m3u8")
}

func TestMaterializeConsumableThroughFileTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, mediaPlaylist)
	}))
	defer server.Close()

	client := newFacade(t)
	m := New(client, t.TempDir(), nil)
	result, err := m.Materialize(context.Background(), server.URL+"/index.m3u8")
	require.NoError(t, err)

	resp, err := client.Get(context.Background(), result.FileURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "#EXTM3U")
}

func TestMaterializeRejectsGarbage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "not a playlist")
	}))
	defer server.Close()

	m := New(newFacade(t), t.TempDir(), nil)
	_, err := m.Materialize(context.Background(), server.URL+"/index.m3u8")
	assert.Error(t, err)
}

func TestAbsolutize(t *testing.T) {
	base, err := url.Parse("https://cdn.example.com/video/index.m3u8")
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example.com/video/seg0.ts", absolutize(base, "seg0.ts"))
	assert.Equal(t, "https://cdn.example.com/keys/k.bin", absolutize(base, "/keys/k.bin"))
	assert.Equal(t, "https://other.example.com/seg0.ts", absolutize(base, "https://other.example.com/seg0.ts"))
}
