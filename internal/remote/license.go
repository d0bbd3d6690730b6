package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/sternforth/vantage/internal/models"
)

// ContentKey is one decrypted content key.
type ContentKey struct {
	KID  string `json:"kid"`
	Key  string `json:"key"`
	Type string `json:"type,omitempty"`
}

// CDM generates license challenges and extracts content keys from license
// responses. The client drives one for locally decrypted tracks; the server
// holds one behind the premium decrypt endpoint.
type CDM interface {
	// System names the DRM system, e.g. "widevine".
	System() string

	// GetLicenseChallenge builds a challenge for the given protection data.
	GetLicenseChallenge(ctx context.Context, pssh *PSSH) ([]byte, error)

	// ParseLicense extracts content keys from a license response.
	ParseLicense(ctx context.Context, license []byte) ([]ContentKey, error)
}

// License forwards a CDM challenge through the server, which holds the
// authenticated session the origin's license endpoint requires, and returns
// the raw license response.
func (p *Proxy) License(ctx context.Context, title models.Title, trackID string, challenge []byte) ([]byte, error) {
	resp, err := p.makeRequest(ctx, "license", map[string]any{
		"title":     title.TitleID(),
		"track_id":  trackID,
		"challenge": base64.StdEncoding.EncodeToString(challenge),
	})
	if err != nil {
		return nil, err
	}

	raw, ok := resp["license"]
	if !ok {
		return nil, fmt.Errorf("track %s: server returned no license", trackID)
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("parsing license: %w", err)
	}
	license, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding license: %w", err)
	}
	return license, nil
}

// FetchKeys runs the full client-CDM flow for one protected track: parse
// the track's protection data, build a challenge, exchange it for a license
// via the server, and extract the content keys.
func (p *Proxy) FetchKeys(ctx context.Context, cdm CDM, title models.Title, trackID string, drm *models.DRM) ([]ContentKey, error) {
	if drm == nil || drm.InitData == "" {
		return nil, fmt.Errorf("track %s carries no protection data", trackID)
	}
	pssh, err := ParsePSSH(drm.InitData)
	if err != nil {
		return nil, fmt.Errorf("track %s: %w", trackID, err)
	}

	challenge, err := cdm.GetLicenseChallenge(ctx, pssh)
	if err != nil {
		return nil, fmt.Errorf("building %s challenge: %w", cdm.System(), err)
	}
	license, err := p.License(ctx, title, trackID, challenge)
	if err != nil {
		return nil, err
	}
	keys, err := cdm.ParseLicense(ctx, license)
	if err != nil {
		return nil, fmt.Errorf("parsing %s license: %w", cdm.System(), err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("track %s: license carried no keys", trackID)
	}
	return keys, nil
}
