package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sternforth/vantage/pkg/httpclient"
)

// HTTPMode selects the wire protocol of a remote key vault.
type HTTPMode string

const (
	// HTTPModeQuery uses GET requests with query parameters.
	HTTPModeQuery HTTPMode = "query"
	// HTTPModeJSON uses POST requests with a method/params envelope.
	HTTPModeJSON HTTPMode = "json"
)

// HTTP is a key vault reached over a web API.
type HTTP struct {
	name     string
	uri      string
	mode     HTTPMode
	username string
	secret   string // password or API token depending on mode
	client   *httpclient.Client

	sessionID string
}

// NewHTTP builds an HTTP vault. Query mode requires a username; both modes
// require a secret (password or api_key).
func NewHTTP(name, uri string, mode HTTPMode, username, secret string, client *httpclient.Client) (*HTTP, error) {
	if secret == "" {
		return nil, fmt.Errorf("http vault %s: a password or api_key is required", name)
	}
	switch mode {
	case HTTPModeQuery:
		if username == "" {
			return nil, fmt.Errorf("http vault %s: username is required for query mode", name)
		}
	case HTTPModeJSON:
	default:
		return nil, fmt.Errorf("http vault %s: unknown api mode %q", name, mode)
	}
	return &HTTP{name: name, uri: uri, mode: mode, username: username, secret: secret, client: client}, nil
}

func (v *HTTP) Name() string { return v.name }

// queryResponse is the body shape of query-mode endpoints.
type queryResponse struct {
	StatusCode int  `json:"status_code"`
	Inserted   *bool `json:"inserted"`
	Keys       []struct {
		KID string `json:"kid"`
		Key string `json:"key"`
	} `json:"keys"`
	Services []string `json:"services"`
}

func (v *HTTP) queryGet(ctx context.Context, params url.Values) (*queryResponse, error) {
	params.Set("username", v.username)
	params.Set("password", v.secret)

	resp, err := v.client.Get(ctx, v.uri+"?"+params.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var out queryResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("http vault %s returned an invalid response: %w", v.name, err)
	}
	return &out, nil
}

// jsonRequest posts a method/params envelope and unwraps the message.
func (v *HTTP) jsonRequest(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	payload := map[string]any{
		"method": method,
		"params": mergeParams(params, map[string]any{"session_id": v.sessionID}),
		"token":  v.secret,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	resp, err := v.client.Post(ctx, v.uri, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return map[string]any{"status": "not_found"}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http vault %s returned %d", v.name, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var envelope struct {
		StatusCode int             `json:"status_code"`
		Message    json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("http vault %s returned an invalid response: %w", v.name, err)
	}
	if envelope.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http vault %s returned an error: %d", v.name, envelope.StatusCode)
	}

	message := map[string]any{}
	if len(envelope.Message) > 0 {
		_ = json.Unmarshal(envelope.Message, &message)
	}
	if id, ok := message["session_id"].(string); ok && id != "" {
		v.sessionID = id
	}
	return message, nil
}

func mergeParams(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, val := range base {
		out[k] = val
	}
	for k, val := range extra {
		out[k] = val
	}
	return out
}

// GetKey looks up one key by kid.
func (v *HTTP) GetKey(ctx context.Context, service, kid string) (string, error) {
	service = strings.ToLower(service)
	kid = NormalizeKID(kid)

	if v.mode == HTTPModeJSON {
		message, err := v.jsonRequest(ctx, "GetKey", map[string]any{"kid": kid, "service": service})
		if err != nil {
			return "", err
		}
		if message["status"] == "not_found" {
			return "", nil
		}
		keys, _ := message["keys"].([]any)
		for _, entry := range keys {
			switch e := entry.(type) {
			case string:
				if entryKID, entryKey, ok := strings.Cut(e, ":"); ok && entryKID == kid {
					return entryKey, nil
				}
			case map[string]any:
				if e["kid"] == kid {
					key, _ := e["key"].(string)
					return key, nil
				}
			}
		}
		return "", nil
	}

	params := url.Values{}
	params.Set("service", service)
	params.Set("kid", kid)
	resp, err := v.queryGet(ctx, params)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK || len(resp.Keys) == 0 {
		return "", nil
	}
	return resp.Keys[0].Key, nil
}

// GetKeys enumerates a service's keys. Only query mode supports enumeration.
func (v *HTTP) GetKeys(ctx context.Context, service string) (map[string]string, error) {
	keys := make(map[string]string)
	if v.mode == HTTPModeJSON {
		return keys, nil
	}

	params := url.Values{}
	params.Set("service", strings.ToLower(service))
	resp, err := v.queryGet(ctx, params)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return keys, nil
	}
	for _, entry := range resp.Keys {
		keys[entry.KID] = entry.Key
	}
	return keys, nil
}

// AddKey stores one key, reporting whether it was newly inserted.
func (v *HTTP) AddKey(ctx context.Context, service, kid, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	service = strings.ToLower(service)
	kid = NormalizeKID(kid)

	if v.mode == HTTPModeJSON {
		message, err := v.jsonRequest(ctx, "InsertKey", map[string]any{
			"kid": kid, "key": key, "service": service,
		})
		if err != nil {
			return false, err
		}
		if message["status"] == "not_found" {
			return false, nil
		}
		inserted, _ := message["inserted"].(bool)
		return inserted, nil
	}

	params := url.Values{}
	params.Set("service", service)
	params.Set("kid", kid)
	params.Set("key", key)
	resp, err := v.queryGet(ctx, params)
	if err != nil {
		return false, err
	}
	if resp.StatusCode != http.StatusOK {
		return false, nil
	}
	if resp.Inserted != nil {
		return *resp.Inserted, nil
	}
	return true, nil
}

// AddKeys stores many keys, returning the number newly inserted.
func (v *HTTP) AddKeys(ctx context.Context, service string, keys map[string]string) (int, error) {
	inserted := 0
	for kid, key := range keys {
		ok, err := v.AddKey(ctx, service, kid, key)
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// Services lists the service tags the vault holds keys for.
func (v *HTTP) Services(ctx context.Context) ([]string, error) {
	if v.mode == HTTPModeJSON {
		message, err := v.jsonRequest(ctx, "GetServices", nil)
		if err != nil {
			return nil, err
		}
		raw, _ := message["services"].([]any)
		services := make([]string, 0, len(raw))
		for _, s := range raw {
			if name, ok := s.(string); ok {
				services = append(services, name)
			}
		}
		return services, nil
	}

	params := url.Values{}
	params.Set("list_services", "true")
	resp, err := v.queryGet(ctx, params)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}
	return resp.Services, nil
}
