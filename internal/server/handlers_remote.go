package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sternforth/vantage/internal/models"
	"github.com/sternforth/vantage/internal/remote"
	"github.com/sternforth/vantage/internal/service"
	"github.com/sternforth/vantage/internal/session"
)

// remoteInput is the shared input of every per-service operation.
type remoteInput struct {
	Service string `path:"service"`
	Body    serviceRequest
}

// wireError converts any handler failure into the API's error body.
func (s *Server) wireError(err error) error {
	return translateError(err, s.cfg.Serve.Debug)
}

// sessionOf snapshots the adapter's possibly-refreshed session for the
// response, so the client can cache it.
func sessionOf(svc service.Service) session.Record {
	return session.Serialize(svc.Session())
}

type searchOutput struct {
	Body struct {
		Status  string                `json:"status"`
		Results []models.SearchResult `json:"results"`
		Session session.Record        `json:"session"`
	}
}

func (s *Server) remoteSearch(ctx context.Context, in *remoteInput) (*searchOutput, error) {
	svc, _, err := s.buildAdapter(ctx, in.Service, &in.Body)
	if err != nil {
		return nil, s.wireError(err)
	}
	results, err := svc.Search(ctx, in.Body.Query)
	if err != nil {
		return nil, s.wireError(err)
	}

	out := &searchOutput{}
	out.Body.Status = "success"
	out.Body.Results = results
	out.Body.Session = sessionOf(svc)
	return out, nil
}

type titlesOutput struct {
	Body struct {
		Status   string          `json:"status"`
		Titles   json.RawMessage `json:"titles"`
		Session  session.Record  `json:"session"`
		Geofence []string        `json:"geofence,omitempty"`
	}
}

func (s *Server) remoteTitles(ctx context.Context, in *remoteInput) (*titlesOutput, error) {
	svc, descriptor, err := s.buildAdapter(ctx, in.Service, &in.Body)
	if err != nil {
		return nil, s.wireError(err)
	}
	titles, err := svc.GetTitles(ctx)
	if err != nil {
		return nil, s.wireError(err)
	}
	encoded, err := models.MarshalTitles(titles)
	if err != nil {
		return nil, s.wireError(err)
	}

	out := &titlesOutput{}
	out.Body.Status = "success"
	out.Body.Titles = encoded
	out.Body.Session = sessionOf(svc)
	out.Body.Geofence = descriptor.Geofence
	return out, nil
}

// episodeEntry is one episode of a multi-episode tracks response.
type episodeEntry struct {
	Title     json.RawMessage   `json:"title"`
	Video     []models.Video    `json:"video"`
	Audio     []models.Audio    `json:"audio"`
	Subtitles []models.Subtitle `json:"subtitles"`
}

type tracksOutput struct {
	Body struct {
		Status              string            `json:"status"`
		Title               json.RawMessage   `json:"title,omitempty"`
		Video               []models.Video    `json:"video,omitempty"`
		Audio               []models.Audio    `json:"audio,omitempty"`
		Subtitles           []models.Subtitle `json:"subtitles,omitempty"`
		Episodes            []episodeEntry    `json:"episodes,omitempty"`
		UnavailableEpisodes []string          `json:"unavailable_episodes,omitempty"`
		Session             session.Record    `json:"session"`
		Geofence            []string          `json:"geofence,omitempty"`
	}
}

func (s *Server) remoteTracks(ctx context.Context, in *remoteInput) (*tracksOutput, error) {
	svc, descriptor, err := s.buildAdapter(ctx, in.Service, &in.Body)
	if err != nil {
		return nil, s.wireError(err)
	}
	titles, err := svc.GetTitles(ctx)
	if err != nil {
		return nil, s.wireError(err)
	}
	if len(titles) == 0 {
		return nil, s.wireError(fmt.Errorf("title %s: %w", in.Body.Identifier(), models.ErrNotAvailable))
	}

	out := &tracksOutput{}
	out.Body.Status = "success"
	out.Body.Geofence = descriptor.Geofence

	episodes := titles.Episodes()
	if len(episodes) == 0 {
		title := titles[0]
		tracks, err := svc.GetTracks(ctx, title)
		if err != nil {
			return nil, s.wireError(err)
		}
		if err := out.setFlat(title, tracks); err != nil {
			return nil, s.wireError(err)
		}
		out.Body.Session = sessionOf(svc)
		return out, nil
	}

	selected, err := selectEpisodes(episodes, &in.Body)
	if err != nil {
		return nil, s.wireError(err)
	}
	if len(selected) == 0 {
		return nil, s.wireError(fmt.Errorf("no episodes match the request: %w", models.ErrNotAvailable))
	}

	var entries []episodeEntry
	var unavailable []string
	for _, ep := range selected {
		tracks, err := svc.GetTracks(ctx, ep)
		if err != nil {
			if errors.Is(err, models.ErrNotAvailable) {
				unavailable = append(unavailable, ep.Label())
				continue
			}
			return nil, s.wireError(err)
		}
		encoded, err := models.MarshalTitle(ep)
		if err != nil {
			return nil, s.wireError(err)
		}
		entries = append(entries, episodeEntry{
			Title:     encoded,
			Video:     tracks.Video,
			Audio:     tracks.Audio,
			Subtitles: tracks.Subtitles,
		})
	}
	if len(entries) == 0 {
		return nil, s.wireError(fmt.Errorf("no requested episode is available: %w", models.ErrNotAvailable))
	}

	if len(entries) == 1 && len(unavailable) == 0 {
		title, err := models.UnmarshalTitle(entries[0].Title)
		if err != nil {
			return nil, s.wireError(err)
		}
		tracks := models.Tracks{Video: entries[0].Video, Audio: entries[0].Audio, Subtitles: entries[0].Subtitles}
		if err := out.setFlat(title, tracks); err != nil {
			return nil, s.wireError(err)
		}
	} else {
		// Partially available requests still succeed; the gaps are named.
		out.Body.Episodes = entries
		out.Body.UnavailableEpisodes = unavailable
	}
	out.Body.Session = sessionOf(svc)
	return out, nil
}

func (o *tracksOutput) setFlat(title models.Title, tracks models.Tracks) error {
	encoded, err := models.MarshalTitle(title)
	if err != nil {
		return err
	}
	o.Body.Title = encoded
	o.Body.Video = tracks.Video
	o.Body.Audio = tracks.Audio
	o.Body.Subtitles = tracks.Subtitles
	return nil
}

// selectEpisodes applies the request's wanted expression, or its explicit
// season/episode pair, to the full episode list.
func selectEpisodes(episodes []models.Episode, req *serviceRequest) ([]models.Episode, error) {
	expr := req.Wanted
	if expr == "" && (req.Season != 0 || req.Episode != 0) {
		expr = fmt.Sprintf("%dx%d", req.Season, req.Episode)
	}
	wanted, err := models.ParseWanted(expr)
	if err != nil {
		return nil, plainAPIError(http.StatusBadRequest, err.Error())
	}
	return wanted.Filter(episodes), nil
}

// resolveTitle picks the title an operation addresses: the matching episode
// when a position is given, the first title otherwise.
func resolveTitle(ctx context.Context, svc service.Service, req *serviceRequest) (models.Title, error) {
	titles, err := svc.GetTitles(ctx)
	if err != nil {
		return nil, err
	}
	if len(titles) == 0 {
		return nil, fmt.Errorf("title %s: %w", req.Identifier(), models.ErrNotAvailable)
	}
	if req.Season != 0 || req.Episode != 0 {
		for _, ep := range titles.Episodes() {
			if ep.Season == req.Season && ep.Number == req.Episode {
				return ep, nil
			}
		}
		return nil, fmt.Errorf("episode S%02dE%02d: %w", req.Season, req.Episode, models.ErrNotAvailable)
	}
	return titles[0], nil
}

type chaptersOutput struct {
	Body struct {
		Status   string          `json:"status"`
		Chapters models.Chapters `json:"chapters"`
		Session  session.Record  `json:"session"`
	}
}

func (s *Server) remoteChapters(ctx context.Context, in *remoteInput) (*chaptersOutput, error) {
	svc, _, err := s.buildAdapter(ctx, in.Service, &in.Body)
	if err != nil {
		return nil, s.wireError(err)
	}
	title, err := resolveTitle(ctx, svc, &in.Body)
	if err != nil {
		return nil, s.wireError(err)
	}
	chapters, err := svc.GetChapters(ctx, title)
	if err != nil {
		return nil, s.wireError(err)
	}

	out := &chaptersOutput{}
	out.Body.Status = "success"
	out.Body.Chapters = chapters
	out.Body.Session = sessionOf(svc)
	return out, nil
}

type licenseOutput struct {
	Body struct {
		Status  string         `json:"status"`
		License string         `json:"license"`
		Session session.Record `json:"session"`
	}
}

func (s *Server) remoteLicense(ctx context.Context, in *remoteInput) (*licenseOutput, error) {
	svc, _, err := s.buildAdapter(ctx, in.Service, &in.Body)
	if err != nil {
		return nil, s.wireError(err)
	}
	if in.Body.TrackID == "" || in.Body.Challenge == "" {
		return nil, plainAPIError(http.StatusBadRequest, "track_id and challenge are required")
	}
	challenge, err := base64.StdEncoding.DecodeString(in.Body.Challenge)
	if err != nil {
		return nil, plainAPIError(http.StatusBadRequest, "challenge is not base64")
	}

	title, err := resolveTitle(ctx, svc, &in.Body)
	if err != nil {
		return nil, s.wireError(err)
	}
	tracks, err := svc.GetTracks(ctx, title)
	if err != nil {
		return nil, s.wireError(err)
	}

	licenseURL := in.Body.LicenseURL
	var headers map[string]string
	if drm, ok := tracks.FindDRM(in.Body.TrackID); ok {
		if licenseURL == "" {
			licenseURL = drm.LicenseURL
		}
		headers = drm.LicenseHeaders
	}
	if licenseURL == "" {
		return nil, plainAPIError(http.StatusBadRequest,
			fmt.Sprintf("track %s carries no license URL", in.Body.TrackID))
	}

	license, err := s.forwardChallenge(ctx, svc, licenseURL, headers, challenge)
	if err != nil {
		return nil, s.wireError(err)
	}

	out := &licenseOutput{}
	out.Body.Status = "success"
	out.Body.License = base64.StdEncoding.EncodeToString(license)
	out.Body.Session = sessionOf(svc)
	return out, nil
}

// forwardChallenge posts a CDM challenge to the origin's license endpoint
// using the adapter's authenticated session.
func (s *Server) forwardChallenge(ctx context.Context, svc service.Service, licenseURL string, headers map[string]string, challenge []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, licenseURL, bytes.NewReader(challenge))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	svc.Session().Apply(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("license request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("license server returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxLicenseSize))
}

const maxLicenseSize = 8 << 20

type decryptOutput struct {
	Body struct {
		Status  string              `json:"status"`
		Keys    []remote.ContentKey `json:"keys"`
		CDMUsed string              `json:"cdm_used"`
		Session session.Record      `json:"session"`
	}
}

// remoteDecrypt drives a server-held CDM end to end: challenge, license
// exchange, key extraction. Premium keys only; the CDM must be on the
// key's allow list.
func (s *Server) remoteDecrypt(ctx context.Context, in *remoteInput) (*decryptOutput, error) {
	info, hasKey := KeyFromContext(ctx)
	if hasKey && !info.Premium() {
		return nil, newAPIError(models.CodePremiumRequired, "server-side decryption requires a premium API key")
	}
	if !hasKey && !s.cfg.Serve.NoAuth {
		return nil, newAPIError(models.CodeNoAPIKey, "API key required")
	}

	cdmName := in.Body.CDM
	if cdmName == "" && hasKey {
		cdmName = info.DefaultCDM
	}
	if cdmName == "" {
		cdmName = "widevine"
	}
	if hasKey && !info.CDMAllowed(cdmName) {
		return nil, newAPIError(models.CodeCDMNotAllowed, fmt.Sprintf("CDM %q is not allowed for this API key", cdmName))
	}
	cdm, ok := s.cdms[cdmName]
	if !ok {
		return nil, plainAPIError(http.StatusNotFound, fmt.Sprintf("no CDM %q on this server", cdmName))
	}

	if in.Body.PSSH == "" {
		return nil, plainAPIError(http.StatusBadRequest, "pssh is required")
	}
	pssh, err := remote.ParsePSSH(in.Body.PSSH)
	if err != nil {
		return nil, plainAPIError(http.StatusBadRequest, err.Error())
	}

	svc, _, err := s.buildAdapter(ctx, in.Service, &in.Body)
	if err != nil {
		return nil, s.wireError(err)
	}

	licenseURL := in.Body.LicenseURL
	var headers map[string]string
	if licenseURL == "" && in.Body.TrackID != "" {
		title, err := resolveTitle(ctx, svc, &in.Body)
		if err != nil {
			return nil, s.wireError(err)
		}
		tracks, err := svc.GetTracks(ctx, title)
		if err != nil {
			return nil, s.wireError(err)
		}
		if drm, ok := tracks.FindDRM(in.Body.TrackID); ok {
			licenseURL = drm.LicenseURL
			headers = drm.LicenseHeaders
		}
	}
	if licenseURL == "" {
		return nil, plainAPIError(http.StatusBadRequest, "license_url or a track with a license URL is required")
	}

	challenge, err := cdm.GetLicenseChallenge(ctx, pssh)
	if err != nil {
		return nil, s.wireError(fmt.Errorf("building %s challenge: %w", cdmName, err))
	}
	license, err := s.forwardChallenge(ctx, svc, licenseURL, headers, challenge)
	if err != nil {
		return nil, s.wireError(err)
	}
	keys, err := cdm.ParseLicense(ctx, license)
	if err != nil {
		return nil, s.wireError(fmt.Errorf("parsing %s license: %w", cdmName, err))
	}

	if s.vaults != nil && s.vaults.Len() > 0 {
		material := make(map[string]string, len(keys))
		for _, key := range keys {
			material[key.KID] = key.Key
		}
		if _, err := s.vaults.AddKeys(ctx, s.registry.GetTag(in.Service), material); err != nil {
			s.logger.Warn("storing keys in vaults failed", "error", err)
		}
	}

	out := &decryptOutput{}
	out.Body.Status = "success"
	out.Body.Keys = keys
	out.Body.CDMUsed = cdmName
	out.Body.Session = sessionOf(svc)
	return out, nil
}
