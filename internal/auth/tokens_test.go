package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/accounts/google/token", r.URL.Path)
		assert.Equal(t, "Bearer user-jwt", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at","refresh_token":"rt","expires_at":1700000000}`))
	}))
	defer srv.Close()

	tok, err := NewTokenClient(srv.URL).ProviderToken(context.Background(), "user-jwt", ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, "at", tok.AccessToken)
	assert.Equal(t, "rt", tok.RefreshToken)
	assert.Equal(t, time.Unix(1700000000, 0), tok.Expiry)
}

func TestProviderTokenNoConnectedAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewTokenClient(srv.URL).ProviderToken(context.Background(), "user-jwt", ProviderMicrosoft)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no microsoft account connected")
}

func TestProviderTokenServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewTokenClient(srv.URL).ProviderToken(context.Background(), "user-jwt", ProviderGoogle)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
