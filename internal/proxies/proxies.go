// Package proxies resolves friendly proxy tokens ("ca", "nordvpn:us1066")
// to fully qualified proxy URIs. Resolution always happens on the client;
// the remote server rejects anything that is not already a qualified URI.
package proxies

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sternforth/vantage/internal/service"
)

var (
	// qualifiedURI matches proxies that need no resolution.
	qualifiedURI = regexp.MustCompile(`^https?://`)

	// providerQuery matches provider-prefixed tokens like "nordvpn:ca1066".
	providerQuery = regexp.MustCompile(`^(?i)[a-z]+:.+$`)

	// countryCode matches bare country queries like "us" or "us12".
	countryCode = regexp.MustCompile(`^(?i)[a-z]{2}(?:\d+)?$`)
)

// IsQualified reports whether the token is already a usable proxy URI.
func IsQualified(token string) bool {
	return qualifiedURI.MatchString(token)
}

// Resolve turns a proxy token into a qualified URI using the given
// providers. Qualified URIs pass through untouched.
func Resolve(token string, providers []service.ProxyProvider) (string, error) {
	if token == "" {
		return "", nil
	}
	if IsQualified(token) {
		return token, nil
	}

	query := token
	requested := ""
	if providerQuery.MatchString(token) {
		parts := strings.SplitN(token, ":", 2)
		requested, query = strings.ToLower(parts[0]), parts[1]
	}

	if !countryCode.MatchString(query) {
		return "", fmt.Errorf("unrecognized proxy query %q", token)
	}
	query = strings.ToLower(query)

	if requested != "" {
		for _, provider := range providers {
			if strings.ToLower(provider.Name()) != requested {
				continue
			}
			uri, err := provider.GetProxy(query)
			if err != nil {
				return "", fmt.Errorf("provider %s: %w", provider.Name(), err)
			}
			if uri == "" {
				return "", fmt.Errorf("provider %s had no proxy for %q", provider.Name(), query)
			}
			return uri, nil
		}
		names := make([]string, 0, len(providers))
		for _, p := range providers {
			names = append(names, p.Name())
		}
		return "", fmt.Errorf("unknown proxy provider %q, available: %v", requested, names)
	}

	for _, provider := range providers {
		uri, err := provider.GetProxy(query)
		if err != nil || uri == "" {
			continue
		}
		return uri, nil
	}
	return "", fmt.Errorf("no proxy provider had a proxy for %q", query)
}
