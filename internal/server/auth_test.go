package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sternforth/vantage/internal/config"
	"github.com/sternforth/vantage/internal/models"
)

func TestKeyInfoPremium(t *testing.T) {
	assert.True(t, KeyInfo{Tier: TierPremium}.Premium())
	assert.True(t, KeyInfo{Tier: "Premium"}.Premium())
	assert.False(t, KeyInfo{Tier: TierBasic}.Premium())
	assert.False(t, KeyInfo{}.Premium())
}

func TestKeyInfoCDMAllowed(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		cdm     string
		want    bool
	}{
		{"empty list permits all", nil, "widevine", true},
		{"wildcard permits all", []string{"*"}, "playready", true},
		{"listed", []string{"widevine"}, "widevine", true},
		{"case insensitive", []string{"Widevine"}, "widevine", true},
		{"unlisted", []string{"widevine"}, "playready", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := KeyInfo{AllowedCDMs: tt.allowed}
			assert.Equal(t, tt.want, info.CDMAllowed(tt.cdm))
		})
	}
}

// authProbe runs one request through the middleware and reports whether the
// inner handler ran and what entitlement it saw.
func authProbe(cfg config.ServeConfig, mutate func(*http.Request)) (*httptest.ResponseRecorder, *KeyInfo) {
	var seen *KeyInfo
	handler := APIKeyAuth(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if info, ok := KeyFromContext(r.Context()); ok {
			seen = &info
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/services", nil)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seen
}

func TestAPIKeyAuthMissingKey(t *testing.T) {
	rec, _ := authProbe(config.ServeConfig{APISecret: "sekrit"}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body apiError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, models.CodeNoAPIKey, body.Code)
	assert.Equal(t, "API key required", body.Message)
}

func TestAPIKeyAuthInvalidKey(t *testing.T) {
	rec, _ := authProbe(config.ServeConfig{APISecret: "sekrit"}, func(r *http.Request) {
		r.Header.Set("X-API-Key", "wrong")
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var body apiError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, models.CodeNoAPIKey, body.Code)
	assert.Equal(t, "invalid API key", body.Message)
}

func TestAPIKeyAuthSecretFallback(t *testing.T) {
	rec, info := authProbe(config.ServeConfig{APISecret: "sekrit"}, func(r *http.Request) {
		r.Header.Set("X-API-Key", "sekrit")
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, info)
	assert.Equal(t, "api_secret", info.Name)
	assert.Equal(t, TierBasic, info.Tier)
}

func TestAPIKeyAuthBearerToken(t *testing.T) {
	rec, info := authProbe(config.ServeConfig{APISecret: "sekrit"}, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer sekrit")
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, info)
}

func TestAPIKeyAuthEntitledKey(t *testing.T) {
	cfg := config.ServeConfig{
		APISecret: "sekrit",
		APIKeys: []config.APIKeyConfig{
			{Key: "prem-key", Name: "ops", Tier: TierPremium, AllowedCDMs: []string{"widevine"}, DefaultCDM: "widevine"},
			{Key: "plain-key", Name: "guest"},
		},
	}

	rec, info := authProbe(cfg, func(r *http.Request) {
		r.Header.Set("X-API-Key", "prem-key")
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, info)
	assert.Equal(t, "ops", info.Name)
	assert.True(t, info.Premium())
	assert.Equal(t, "widevine", info.DefaultCDM)

	// A key without a tier is basic.
	_, info = authProbe(cfg, func(r *http.Request) {
		r.Header.Set("X-API-Key", "plain-key")
	})
	require.NotNil(t, info)
	assert.Equal(t, TierBasic, info.Tier)
}

func TestAPIKeyAuthNoAuthBypass(t *testing.T) {
	rec, info := authProbe(config.ServeConfig{NoAuth: true, APISecret: "sekrit"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, info)
}

func TestAPIKeyAuthOpenPath(t *testing.T) {
	handler := APIKeyAuth(config.ServeConfig{APISecret: "sekrit"})(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyAuthPreflightBypass(t *testing.T) {
	rec, _ := authProbe(config.ServeConfig{APISecret: "sekrit"}, func(r *http.Request) {
		r.Method = http.MethodOptions
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}
