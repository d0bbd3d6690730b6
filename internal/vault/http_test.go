package vault

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sternforth/vantage/pkg/httpclient"
)

func newTestClient(t *testing.T) *httpclient.Client {
	t.Helper()
	client, err := httpclient.New(httpclient.Config{Backend: httpclient.BackendStandard})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestHTTPVaultQueryMode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "alice", q.Get("username"))
		assert.Equal(t, "hunter2", q.Get("password"))
		assert.Equal(t, "examplesvc", q.Get("service"))

		w.Header().Set("Content-Type", "application/json")
		switch {
		case q.Get("kid") != "" && q.Get("key") == "":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status_code": 200,
				"keys":        []map[string]string{{"kid": q.Get("kid"), "key": "deadbeef01"}},
			})
		case q.Get("key") != "":
			_ = json.NewEncoder(w).Encode(map[string]any{"status_code": 200, "inserted": true})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status_code": 200,
				"keys": []map[string]string{
					{"kid": "abcd1234", "key": "deadbeef01"},
					{"kid": "ffff0001", "key": "cafebabe02"},
				},
			})
		}
	}))
	defer server.Close()

	v, err := NewHTTP("remote", server.URL, HTTPModeQuery, "alice", "hunter2", newTestClient(t))
	require.NoError(t, err)

	ctx := context.Background()
	key, err := v.GetKey(ctx, "ExampleSvc", "ABCD-1234")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef01", key)

	inserted, err := v.AddKey(ctx, "examplesvc", "abcd1234", "deadbeef01")
	require.NoError(t, err)
	assert.True(t, inserted)

	keys, err := v.GetKeys(ctx, "examplesvc")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestHTTPVaultJSONMode(t *testing.T) {
	var sawSession string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
			Token  string         `json:"token"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "tok123", payload.Token)

		if id, ok := payload.Params["session_id"].(string); ok {
			sawSession = id
		}

		w.Header().Set("Content-Type", "application/json")
		switch payload.Method {
		case "GetKey":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status_code": 200,
				"message": map[string]any{
					"session_id": "sess-1",
					"keys":       []string{"abcd1234:deadbeef01"},
				},
			})
		case "InsertKey":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status_code": 200,
				"message":     map[string]any{"inserted": true},
			})
		case "GetServices":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status_code": 200,
				"message":     map[string]any{"services": []string{"examplesvc"}},
			})
		}
	}))
	defer server.Close()

	v, err := NewHTTP("remote", server.URL, HTTPModeJSON, "", "tok123", newTestClient(t))
	require.NoError(t, err)

	ctx := context.Background()
	key, err := v.GetKey(ctx, "examplesvc", "abcd1234")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef01", key)

	// The session id from the first response rides along on the next call.
	inserted, err := v.AddKey(ctx, "examplesvc", "ffff0001", "cafebabe02")
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, "sess-1", sawSession)

	services, err := v.Services(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"examplesvc"}, services)

	// JSON mode cannot enumerate keys.
	keys, err := v.GetKeys(ctx, "examplesvc")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestHTTPVaultValidation(t *testing.T) {
	client := newTestClient(t)

	_, err := NewHTTP("v", "http://x", HTTPModeQuery, "", "secret", client)
	assert.Error(t, err)

	_, err = NewHTTP("v", "http://x", HTTPModeQuery, "user", "", client)
	assert.Error(t, err)

	_, err = NewHTTP("v", "http://x", "soap", "user", "secret", client)
	assert.Error(t, err)
}

func TestHTTPVaultNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	v, err := NewHTTP("remote", server.URL, HTTPModeJSON, "", "tok", newTestClient(t))
	require.NoError(t, err)

	key, err := v.GetKey(context.Background(), "examplesvc", "abcd")
	require.NoError(t, err)
	assert.Empty(t, key)
}
