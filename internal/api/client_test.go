package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"Plain host", "screeps.com", "https://screeps.com", false},
		{"Trailing slash", "https://screeps.com/", "https://screeps.com", false},
		{"Keeps http", "http://localhost:21025", "http://localhost:21025", false},
		{"Whitespace", "  screeps.com  ", "https://screeps.com", false},
		{"Empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeBaseURL(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthMe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/me", r.URL.Path)
		assert.Equal(t, "token-123", r.Header.Get("X-Token"))
		assert.Equal(t, "alice", r.Header.Get("X-Username"))
		json.NewEncoder(w).Encode(map[string]any{
			"ok":       1,
			"_id":      "user-1",
			"username": "alice",
		})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "token-123", "alice")
	require.NoError(t, err)

	profile, err := client.AuthMe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-1", profile.ID)
	assert.Equal(t, "alice", profile.Username)
}

func TestAuthMeServerError(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
		code int
	}{
		{"HTTP failure", map[string]any{}, http.StatusUnauthorized},
		{"Payload error", map[string]any{"error": "invalid token"}, http.StatusOK},
		{"ok!=1", map[string]any{"ok": 0}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				json.NewEncoder(w).Encode(tt.body)
			}))
			defer server.Close()

			client, err := NewClient(server.URL, "t", "u")
			require.NoError(t, err)

			_, err = client.AuthMe(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestNonJSONBodyWrappedAsText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain text reply"))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, "", "")
	require.NoError(t, err)

	resp, err := client.do(context.Background(), http.MethodGet, "/whatever", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text reply", resp.Data["text"])
}
