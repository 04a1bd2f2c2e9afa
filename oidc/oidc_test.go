package oidc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr error
	}{
		{
			name:    "missing",
			env:     map[string]string{},
			wantErr: ErrUnavailable,
		},
		{
			name:    "only url",
			env:     map[string]string{EnvRequestURL: "https://token.actions.githubusercontent.com/foo"},
			wantErr: ErrUnavailable,
		},
		{
			name:    "only token",
			env:     map[string]string{EnvRequestToken: "test-token-123"},
			wantErr: ErrUnavailable,
		},
		{
			name: "present",
			env: map[string]string{
				EnvRequestURL:   "https://token.actions.githubusercontent.com/foo",
				EnvRequestToken: "test-token-123",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := fromLookup(zerolog.Nop(), lookupFrom(tt.env))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.Nil(t, r)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, r)
		})
	}
}

func TestFromEnvProcess(t *testing.T) {
	t.Setenv(EnvRequestURL, "")
	t.Setenv(EnvRequestToken, "")
	_, err := FromEnv(zerolog.Nop())
	require.ErrorIs(t, err, ErrUnavailable)

	t.Setenv(EnvRequestURL, "https://token.actions.githubusercontent.com/foo")
	t.Setenv(EnvRequestToken, "test-token-123")
	r, err := FromEnv(zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, r)
}

// tokenHandler simulates the GitHub OIDC token endpoint.
func tokenHandler(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "bearer test-request-token" {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("Unauthorized"))
		return
	}
	if r.Header.Get("Accept") != "application/json; api-version=2.0" {
		w.WriteHeader(http.StatusNotAcceptable)
		return
	}
	if r.URL.Query().Get("audience") != "myorg/myproject" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Bad audience"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"value": "oidc-jwt-token-for-myorg"})
}

func TestFetchToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(tokenHandler))
	defer server.Close()

	r := New(zerolog.Nop(), server.URL+"/token", "test-request-token", server.Client())
	token, err := r.FetchToken(context.Background(), "myorg/myproject")
	require.NoError(t, err)
	require.Equal(t, "oidc-jwt-token-for-myorg", token)
}

func TestFetchTokenUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(tokenHandler))
	defer server.Close()

	r := New(zerolog.Nop(), server.URL+"/token", "wrong-token", server.Client())
	_, err := r.FetchToken(context.Background(), "myorg/myproject")
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	require.Contains(t, err.Error(), "401")
}

func TestFetchTokenAudienceOverwritten(t *testing.T) {
	var received [][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = append(received, r.URL.Query()["audience"])
		assert.Equal(t, "1", r.URL.Query().Get("api-version"))
		_ = json.NewEncoder(w).Encode(map[string]string{"value": "token"})
	}))
	defer server.Close()

	r := New(zerolog.Nop(), server.URL+"/token?api-version=1&audience=stale", "test-request-token", server.Client())
	_, err := r.FetchToken(context.Background(), "myorg/my-special-project")
	require.NoError(t, err)
	require.Equal(t, [][]string{{"myorg/my-special-project"}}, received)
}

func TestFetchTokenEmptyValue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value": ""}`))
	}))
	defer server.Close()

	r := New(zerolog.Nop(), server.URL, "t", server.Client())
	_, err := r.FetchToken(context.Background(), "aud")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Contains(t, err.Error(), "did not contain a token value")
}

func TestFetchTokenRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"value": "late-token"}`))
	}))
	defer server.Close()

	r := New(zerolog.Nop(), server.URL, "t", server.Client())
	token, err := r.FetchToken(context.Background(), "aud")
	require.NoError(t, err)
	require.Equal(t, "late-token", token)
	require.Equal(t, int32(3), calls.Load())
}
