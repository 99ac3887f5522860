package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewApplicationWiresEverything(t *testing.T) {
	t.Setenv("LICENSE_DATABASE_DRIVER", "sqlite")
	t.Setenv("LICENSE_DATABASE_DSN", "file::memory:?cache=shared&_busy_timeout=5000")
	t.Setenv("LICENSE_LOGGING_OUTPUT", "console")
	t.Setenv("LICENSE_EMAIL_ENABLED", "false")

	application, err := NewApplication()
	require.NoError(t, err)
	t.Cleanup(func() { application.Stop(context.Background()) })

	require.NotNil(t, application.Router)
	require.NotNil(t, application.Server)
	require.NotNil(t, application.Service)
	assert.Equal(t, ":8080", application.Server.Addr)

	// The composed router serves the protocol end to end.
	rec := httptest.NewRecorder()
	application.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	application.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/UNKNOWN", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	var env struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "error", env.Status)

	// Prometheus scrape endpoint is mounted.
	rec = httptest.NewRecorder()
	application.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
