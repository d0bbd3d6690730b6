package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/sternforth/vantage/internal/config"
	"github.com/sternforth/vantage/internal/models"
)

// TierBasic and TierPremium are the API key entitlement tiers. An empty tier
// means basic.
const (
	TierBasic   = "basic"
	TierPremium = "premium"
)

// KeyInfo is the resolved entitlement of an authenticated request.
type KeyInfo struct {
	Name        string
	Tier        string
	AllowedCDMs []string
	DefaultCDM  string
}

// Premium reports whether the key carries the premium tier.
func (k KeyInfo) Premium() bool {
	return strings.EqualFold(k.Tier, TierPremium)
}

// CDMAllowed reports whether the key may use the named CDM. An empty allow
// list or a "*" entry permits everything.
func (k KeyInfo) CDMAllowed(cdm string) bool {
	if len(k.AllowedCDMs) == 0 {
		return true
	}
	for _, allowed := range k.AllowedCDMs {
		if allowed == "*" || strings.EqualFold(allowed, cdm) {
			return true
		}
	}
	return false
}

type keyInfoContextKey struct{}

// KeyFromContext returns the entitlement attached by the auth middleware.
func KeyFromContext(ctx context.Context) (KeyInfo, bool) {
	info, ok := ctx.Value(keyInfoContextKey{}).(KeyInfo)
	return info, ok
}

// openPaths are reachable without authentication.
var openPaths = map[string]bool{
	"/api/health": true,
}

// APIKeyAuth validates X-API-Key (or a Bearer token) against the configured
// keys. The single api_secret and the per-key list are both honored; the
// list wins on overlap since it carries entitlements.
func APIKeyAuth(cfg config.ServeConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.NoAuth || openPaths[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("X-API-Key")
			if key == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					key = strings.TrimPrefix(auth, "Bearer ")
				}
			}
			if key == "" {
				writeError(w, http.StatusUnauthorized, models.CodeNoAPIKey, "API key required")
				return
			}

			info, ok := resolveKey(cfg, key)
			if !ok {
				writeError(w, http.StatusUnauthorized, models.CodeNoAPIKey, "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), keyInfoContextKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveKey(cfg config.ServeConfig, key string) (KeyInfo, bool) {
	for _, entry := range cfg.APIKeys {
		if subtle.ConstantTimeCompare([]byte(entry.Key), []byte(key)) == 1 {
			tier := entry.Tier
			if tier == "" {
				tier = TierBasic
			}
			return KeyInfo{
				Name:        entry.Name,
				Tier:        tier,
				AllowedCDMs: entry.AllowedCDMs,
				DefaultCDM:  entry.DefaultCDM,
			}, true
		}
	}
	if cfg.APISecret != "" && subtle.ConstantTimeCompare([]byte(cfg.APISecret), []byte(key)) == 1 {
		return KeyInfo{Name: "api_secret", Tier: TierBasic}, true
	}
	return KeyInfo{}, false
}
