package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"
)

// newStandardTransport builds the plain connection-pooling backend. A CA
// bundle named by CURL_CA_BUNDLE or SSL_CERT_FILE is appended to the system
// roots, matching common tooling conventions.
func newStandardTransport(proxy *url.URL) (http.RoundTripper, error) {
	tlsConfig, err := standardTLSConfig()
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSClientConfig:       tlsConfig,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	if proxy != nil {
		transport.Proxy = http.ProxyURL(proxy)
	}
	return transport, nil
}

func standardTLSConfig() (*tls.Config, error) {
	bundle := os.Getenv("CURL_CA_BUNDLE")
	if bundle == "" {
		bundle = os.Getenv("SSL_CERT_FILE")
	}
	if bundle == "" {
		return nil, nil
	}

	pem, err := os.ReadFile(bundle)
	if err != nil {
		return nil, fmt.Errorf("reading CA bundle %s: %w", bundle, err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in CA bundle %s", bundle)
	}
	return &tls.Config{RootCAs: pool}, nil
}
