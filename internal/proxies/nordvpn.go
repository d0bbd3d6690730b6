package proxies

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/sternforth/vantage/pkg/httpclient"
)

const nordRecommendationsURL = "https://api.nordvpn.com/v1/servers/recommendations"

// serverNumberQuery matches explicit server queries like "us1066".
var serverNumberQuery = regexp.MustCompile(`^(?i)([a-z]{2})(\d+)$`)

// NordVPN serves proxies backed by NordVPN service credentials. Queries may
// name an explicit server ("us1066") or a bare country ("us"), in which case
// the recommendations API picks one.
type NordVPN struct {
	username string
	password string
	client   *httpclient.Client
}

// NewNordVPN builds the provider from service credentials. client is used
// for server discovery; it must not be nil.
func NewNordVPN(username, password string, client *httpclient.Client) (*NordVPN, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("nordvpn provider needs service credentials")
	}
	return &NordVPN{username: username, password: password, client: client}, nil
}

func (n *NordVPN) Name() string { return "nordvpn" }

// GetProxy returns an authenticated proxy URI for the query.
func (n *NordVPN) GetProxy(query string) (string, error) {
	query = strings.ToLower(query)

	if m := serverNumberQuery.FindStringSubmatch(query); m != nil {
		return n.proxyURI(query + ".nordvpn.com"), nil
	}

	hostname, err := n.recommendServer(query)
	if err != nil {
		return "", err
	}
	if hostname == "" {
		return "", nil
	}
	return n.proxyURI(hostname), nil
}

func (n *NordVPN) proxyURI(hostname string) string {
	return fmt.Sprintf("https://%s:%s@%s:89",
		url.QueryEscape(n.username), url.QueryEscape(n.password), hostname)
}

func (n *NordVPN) recommendServer(country string) (string, error) {
	u := fmt.Sprintf("%s?filters[country_code]=%s&limit=1", nordRecommendationsURL, url.QueryEscape(strings.ToUpper(country)))
	resp, err := n.client.Get(context.Background(), u)
	if err != nil {
		return "", fmt.Errorf("querying nordvpn recommendations: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", fmt.Errorf("nordvpn recommendations returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var servers []struct {
		Hostname string `json:"hostname"`
	}
	if err := json.Unmarshal(body, &servers); err != nil {
		return "", fmt.Errorf("parsing nordvpn recommendations: %w", err)
	}
	if len(servers) == 0 {
		return "", nil
	}
	return servers[0].Hostname, nil
}
