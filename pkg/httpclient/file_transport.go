package httpclient

import (
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
)

// fileTransport serves file:// URLs as HTTP responses so the download
// pipeline can consume locally materialized manifests through the same
// client it uses for origin URLs.
type fileTransport struct {
	next http.RoundTripper
}

// withFileTransport routes file:// requests to the local filesystem and
// everything else to next.
func withFileTransport(next http.RoundTripper) http.RoundTripper {
	return &fileTransport{next: next}
}

func (t *fileTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "file" {
		return t.next.RoundTrip(req)
	}

	path := req.URL.Path
	if req.URL.Host != "" && req.URL.Host != "localhost" {
		path = "/" + req.URL.Host + path
	}

	f, err := os.Open(path)
	if err != nil {
		return fileErrorResponse(req, err), nil
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fileErrorResponse(req, err), nil
	}
	if info.IsDir() {
		f.Close()
		return fileErrorResponse(req, &os.PathError{Op: "open", Path: path, Err: os.ErrInvalid}), nil
	}

	header := make(http.Header)
	header.Set("Content-Length", strconv.FormatInt(info.Size(), 10))

	return &http.Response{
		Status:        http.StatusText(http.StatusOK),
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          f,
		ContentLength: info.Size(),
		Request:       req,
	}, nil
}

// fileErrorResponse maps a filesystem failure to a 404 whose body carries
// the error message.
func fileErrorResponse(req *http.Request, err error) *http.Response {
	body := err.Error()
	return &http.Response{
		Status:        http.StatusText(http.StatusNotFound),
		StatusCode:    http.StatusNotFound,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
