package httpclient

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileTransportServesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "playlist.m3u8")
	content := "#EXTM3U\n#EXT-X-VERSION:3\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	client, err := New(Config{})
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Get(context.Background(), "file://"+path)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, strconv.Itoa(len(content)), resp.Header.Get("Content-Length"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, content, string(body))
}

func TestFileTransportMissingFileReturns404(t *testing.T) {
	client, err := New(Config{})
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Get(context.Background(), "file:///nonexistent/manifest.m3u8")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "manifest.m3u8")
}
