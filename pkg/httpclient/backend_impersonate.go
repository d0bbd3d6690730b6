package httpclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// fingerprint pairs a JA3 TLS fingerprint with an Akamai HTTP/2 fingerprint.
type fingerprint struct {
	JA3    string
	Akamai string
}

// fingerprintPresets are named browser/client fingerprints accepted by
// ImpersonateOptions.Preset.
var fingerprintPresets = map[string]fingerprint{
	"okhttp4": {
		JA3: "771," +
			"4865-4866-4867-49195-49196-52393-49199-49200-52392-49171-49172-156-157-47-53," +
			"0-23-65281-10-11-35-16-5-13-51-45-43," +
			"29-23-24," +
			"0",
		Akamai: "4:16777216|16711681|0|m,p,a,s",
	},
	"okhttp5": {
		JA3: "771," +
			"4865-4866-4867-49195-49199-49196-49200-52393-52392-49171-49172-156-157-47-53," +
			"0-23-65281-10-11-35-16-5-13-51-45-43," +
			"29-23-24," +
			"0",
		Akamai: "4:16777216|16711681|0|m,p,a,s",
	},
	"chrome": {
		JA3: "771," +
			"4865-4866-4867-49195-49199-49196-49200-52393-52392-49171-49172-156-157-47-53," +
			"0-23-65281-10-11-35-16-5-13-18-51-45-43-27-17513," +
			"29-23-24," +
			"0",
		Akamai: "1:65536;2:0;4:6291456;6:262144|15663105|0|m,a,s,p",
	},
	"firefox": {
		JA3: "771," +
			"4865-4867-4866-49195-49199-52393-52392-49196-49200-49162-49161-49171-49172-156-157-47-53," +
			"0-23-65281-10-11-35-16-5-34-51-43-13-45-28," +
			"29-23-24-25-256-257," +
			"0",
		Akamai: "1:65536;4:131072;5:16384|12517377|3:0:0:201,5:0:0:101,7:0:0:1,9:0:7:1,11:0:3:1,13:0:0:241|m,p,a,s",
	},
}

// impersonatingTransport dials TLS with a uTLS ClientHello built from a JA3
// string so the origin sees a browser fingerprint instead of Go's.
type impersonatingTransport struct {
	spec   utls.ClientHelloSpec
	useH2  bool
	proxy  *url.URL
	h2     *http2.Transport
	h1     *http.Transport
	plain  *http.Transport
	dialer *net.Dialer
}

func newImpersonatingTransport(opts ImpersonateOptions, proxy *url.URL) (http.RoundTripper, error) {
	fp := fingerprintPresets["chrome"]
	if opts.Preset != "" {
		fp = fingerprintPresets[opts.Preset]
	}
	if opts.JA3 != "" {
		fp.JA3 = opts.JA3
	}
	if opts.Akamai != "" {
		fp.Akamai = opts.Akamai
	}

	spec, alpn, err := specFromJA3(fp.JA3)
	if err != nil {
		return nil, fmt.Errorf("parsing JA3 fingerprint: %w", err)
	}

	t := &impersonatingTransport{
		spec:   spec,
		useH2:  containsString(alpn, "h2"),
		proxy:  proxy,
		dialer: &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second},
		plain:  &http.Transport{Proxy: http.ProxyFromEnvironment},
	}
	if proxy != nil {
		t.plain.Proxy = http.ProxyURL(proxy)
	}

	h2 := &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return t.dialUTLS(ctx, addr, []string{"h2"})
		},
	}
	applyAkamaiSettings(h2, fp.Akamai)
	t.h2 = h2

	t.h1 = &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return t.dialUTLS(ctx, addr, []string{"http/1.1"})
		},
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return t, nil
}

func (t *impersonatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.plain.RoundTrip(req)
	}
	if t.useH2 {
		return t.h2.RoundTrip(req)
	}
	return t.h1.RoundTrip(req)
}

// dialUTLS opens a TCP connection (tunneling through the configured proxy if
// any) and completes a uTLS handshake with the configured ClientHello.
func (t *impersonatingTransport) dialUTLS(ctx context.Context, addr string, alpn []string) (net.Conn, error) {
	raw, err := t.dialTCP(ctx, addr)
	if err != nil {
		return nil, err
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	spec := t.spec
	if len(alpn) > 0 {
		overrideALPN(&spec, alpn)
	}

	conn := utls.UClient(raw, &utls.Config{ServerName: host}, utls.HelloCustom)
	if err := conn.ApplyPreset(&spec); err != nil {
		raw.Close()
		return nil, err
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, err
	}
	return conn, nil
}

func (t *impersonatingTransport) dialTCP(ctx context.Context, addr string) (net.Conn, error) {
	if t.proxy == nil {
		return t.dialer.DialContext(ctx, "tcp", addr)
	}

	proxyAddr := t.proxy.Host
	if t.proxy.Port() == "" {
		proxyAddr = net.JoinHostPort(t.proxy.Hostname(), "80")
	}
	conn, err := t.dialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, err
	}

	connect := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if t.proxy.User != nil {
		pass, _ := t.proxy.User.Password()
		token := base64.StdEncoding.EncodeToString([]byte(t.proxy.User.Username() + ":" + pass))
		connect.Header.Set(HeaderProxyAuthorization, "Basic "+token)
	}
	if err := connect.Write(conn); err != nil {
		conn.Close()
		return nil, err
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), connect)
	if err != nil {
		conn.Close()
		return nil, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("proxy CONNECT failed: %s", resp.Status)
	}
	return conn, nil
}

// specFromJA3 builds a uTLS ClientHelloSpec from a JA3 string of the form
// version,ciphers,extensions,curves,pointformats. It returns the ALPN
// protocols advertised by the fingerprint.
func specFromJA3(ja3 string) (utls.ClientHelloSpec, []string, error) {
	var spec utls.ClientHelloSpec

	fields := strings.Split(ja3, ",")
	if len(fields) != 5 {
		return spec, nil, fmt.Errorf("expected 5 fields, got %d", len(fields))
	}

	ciphers, err := parseUint16List(fields[1])
	if err != nil {
		return spec, nil, fmt.Errorf("ciphers: %w", err)
	}
	extIDs, err := parseUint16List(fields[2])
	if err != nil {
		return spec, nil, fmt.Errorf("extensions: %w", err)
	}
	curveIDs, err := parseUint16List(fields[3])
	if err != nil {
		return spec, nil, fmt.Errorf("curves: %w", err)
	}
	pointIDs, err := parseUint16List(fields[4])
	if err != nil {
		return spec, nil, fmt.Errorf("point formats: %w", err)
	}

	curves := make([]utls.CurveID, len(curveIDs))
	for i, id := range curveIDs {
		curves[i] = utls.CurveID(id)
	}
	points := make([]byte, len(pointIDs))
	for i, id := range pointIDs {
		points[i] = byte(id)
	}

	alpn := []string{"h2", "http/1.1"}

	spec.CipherSuites = ciphers
	spec.CompressionMethods = []byte{0}
	spec.TLSVersMin = utls.VersionTLS12
	spec.TLSVersMax = utls.VersionTLS13

	for _, id := range extIDs {
		var ext utls.TLSExtension
		switch id {
		case 0:
			ext = &utls.SNIExtension{}
		case 5:
			ext = &utls.StatusRequestExtension{}
		case 10:
			ext = &utls.SupportedCurvesExtension{Curves: curves}
		case 11:
			ext = &utls.SupportedPointsExtension{SupportedPoints: points}
		case 13:
			ext = &utls.SignatureAlgorithmsExtension{SupportedSignatureAlgorithms: []utls.SignatureScheme{
				utls.ECDSAWithP256AndSHA256,
				utls.PSSWithSHA256,
				utls.PKCS1WithSHA256,
				utls.ECDSAWithP384AndSHA384,
				utls.PSSWithSHA384,
				utls.PKCS1WithSHA384,
				utls.PSSWithSHA512,
				utls.PKCS1WithSHA512,
			}}
		case 16:
			ext = &utls.ALPNExtension{AlpnProtocols: alpn}
		case 18:
			ext = &utls.SCTExtension{}
		case 21:
			ext = &utls.UtlsPaddingExtension{GetPaddingLen: utls.BoringPaddingStyle}
		case 23:
			ext = &utls.ExtendedMasterSecretExtension{}
		case 27:
			ext = &utls.UtlsCompressCertExtension{Algorithms: []utls.CertCompressionAlgo{utls.CertCompressionBrotli}}
		case 35:
			ext = &utls.SessionTicketExtension{}
		case 43:
			ext = &utls.SupportedVersionsExtension{Versions: []uint16{utls.VersionTLS13, utls.VersionTLS12}}
		case 45:
			ext = &utls.PSKKeyExchangeModesExtension{Modes: []uint8{utls.PskModeDHE}}
		case 51:
			ext = &utls.KeyShareExtension{KeyShares: []utls.KeyShare{{Group: utls.X25519}}}
		case 65281:
			ext = &utls.RenegotiationInfoExtension{Renegotiation: utls.RenegotiateOnceAsClient}
		case 17513:
			ext = &utls.ApplicationSettingsExtension{SupportedProtocols: []string{"h2"}}
		default:
			ext = &utls.GenericExtension{Id: id}
		}
		spec.Extensions = append(spec.Extensions, ext)
	}

	return spec, alpn, nil
}

// overrideALPN replaces the ALPN protocol list in an already-built spec so
// the negotiated protocol matches the transport driving the connection.
func overrideALPN(spec *utls.ClientHelloSpec, protocols []string) {
	for i, ext := range spec.Extensions {
		if _, ok := ext.(*utls.ALPNExtension); ok {
			spec.Extensions[i] = &utls.ALPNExtension{AlpnProtocols: protocols}
			return
		}
	}
}

// applyAkamaiSettings maps the SETTINGS portion of an Akamai HTTP/2
// fingerprint onto the knobs x/net/http2 exposes.
func applyAkamaiSettings(t *http2.Transport, akamai string) {
	parts := strings.Split(akamai, "|")
	if len(parts) == 0 || parts[0] == "" {
		return
	}
	for _, setting := range strings.Split(parts[0], ";") {
		kv := strings.SplitN(setting, ":", 2)
		if len(kv) != 2 {
			continue
		}
		id, err1 := strconv.Atoi(kv[0])
		val, err2 := strconv.ParseUint(kv[1], 10, 32)
		if err1 != nil || err2 != nil {
			continue
		}
		switch id {
		case 1:
			t.MaxDecoderHeaderTableSize = uint32(val)
		case 5:
			t.MaxReadFrameSize = uint32(val)
		case 6:
			t.MaxHeaderListSize = uint32(val)
		}
	}
}

func parseUint16List(field string) ([]uint16, error) {
	if field == "" {
		return nil, nil
	}
	parts := strings.Split(field, "-")
	out := make([]uint16, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q", p)
		}
		out = append(out, uint16(v))
	}
	return out, nil
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
