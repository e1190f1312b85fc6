package httpjson

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sharedErrors "catalog-harvester/internal/shared/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_DoSendsPayloadAndDecodesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer t", r.Header.Get("Authorization"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))

		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["name"]})
	}))
	defer srv.Close()

	var out struct {
		Echo string `json:"echo"`
	}
	err := New(srv.Client(), "test-agent").Post(context.Background(), srv.URL,
		WithPayload(map[string]string{"name": "x"}),
		WithResult(&out),
		WithHeader("Authorization", "Bearer t"),
		WithHeader("X-Skipped", ""),
		WithQuery("page", "2"),
	)
	require.NoError(t, err)
	assert.Equal(t, "x", out.Echo)
}

func TestClient_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusNotFound, sharedErrors.IsNotFound},
		{http.StatusConflict, sharedErrors.IsConflict},
		{http.StatusTooManyRequests, sharedErrors.IsInfrastructure},
		{http.StatusServiceUnavailable, sharedErrors.IsInfrastructure},
		{http.StatusForbidden, sharedErrors.IsValidation},
		{http.StatusBadRequest, sharedErrors.IsValidation},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			err := New(srv.Client(), "").Get(context.Background(), srv.URL)
			require.Error(t, err)
			assert.True(t, tt.check(err), "status %d classified as %s", tt.status, sharedErrors.TypeOf(err))

			se, ok := AsStatusError(err)
			require.True(t, ok)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Contains(t, string(se.Body), "nope")
		})
	}
}

func TestClient_DecodeFailureIsInfrastructure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	var out map[string]interface{}
	err := New(nil, "").Get(context.Background(), srv.URL, WithResult(&out))
	assert.True(t, sharedErrors.IsInfrastructure(err))
}

func TestClient_RedactsCredentialsInErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := New(nil, "").Get(context.Background(), srv.URL, WithQuery("api_key", "s3cr3t"))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "s3cr3t")
	assert.Contains(t, err.Error(), "REDACTED")
}
