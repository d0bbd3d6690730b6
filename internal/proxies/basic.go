package proxies

import (
	"fmt"
	"math/rand"
	"strings"
)

// Basic serves proxies from a static configuration map of country code to
// proxy URIs. One of the URIs for a country is chosen at random.
type Basic struct {
	servers map[string][]string
}

// NewBasic builds a Basic provider from the proxy_providers.basic config
// section.
func NewBasic(servers map[string][]string) *Basic {
	normalized := make(map[string][]string, len(servers))
	for country, uris := range servers {
		normalized[strings.ToLower(country)] = uris
	}
	return &Basic{servers: normalized}
}

func (b *Basic) Name() string { return "basic" }

// GetProxy returns a proxy for the queried country, ignoring any numeric
// server suffix.
func (b *Basic) GetProxy(query string) (string, error) {
	country := strings.ToLower(strings.TrimRight(query, "0123456789"))
	uris := b.servers[country]
	if len(uris) == 0 {
		return "", nil
	}
	uri := uris[rand.Intn(len(uris))]
	if !IsQualified(uri) {
		return "", fmt.Errorf("configured proxy for %q is not a qualified URI: %s", country, uri)
	}
	return uri, nil
}
