package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"licensegate/internal/config"
	"licensegate/internal/license"
	"licensegate/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestHandler(t *testing.T) (*LicenseHandler, *store.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	st, err := store.NewWithDB(db, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Exec("DELETE FROM heartbeat_samples")
		db.Exec("DELETE FROM license_events")
		db.Exec("DELETE FROM licenses")
		db.Exec("DELETE FROM customers")
	})

	cfg := config.LicenseConfig{AnalyticsWindow: 24 * time.Hour, ExpiryWarningDays: 30}
	svc := license.NewService(st, cfg, testLogger())
	tracer := noop.NewTracerProvider().Tracer("test")
	return NewLicenseHandler(svc, testLogger(), tracer), st
}

func seedLicense(t *testing.T, st *store.Store, key string) {
	t.Helper()
	ctx := context.Background()

	customer := &store.Customer{Name: "Acme School", Email: "admin@acme.example"}
	require.NoError(t, st.CreateCustomer(ctx, customer))
	require.NoError(t, st.CreateLicense(ctx, &store.License{
		LicenseKey:      key,
		CustomerID:      customer.ID,
		LicenseType:     store.TypePro,
		Status:          store.StatusActive,
		MaxUsers:        25,
		MaxApplications: 1000,
		ExpiryDate:      time.Now().Add(365 * 24 * time.Hour),
	}))
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) (Envelope, map[string]interface{}) {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))

	data := map[string]interface{}{}
	if env.Data != nil {
		raw, err := json.Marshal(env.Data)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &data))
	}
	return env, data
}

func TestActivateSuccessEnvelope(t *testing.T) {
	h, st := newTestHandler(t)
	seedLicense(t, st, "ABC-123")

	rec := doJSON(t, h.Routes(), http.MethodPost, "/activate", map[string]string{
		"license_key": "ABC-123",
		"hardware_id": "HW1",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	env, data := decodeEnvelope(t, rec)
	assert.Equal(t, "success", env.Status)
	assert.False(t, env.Timestamp.IsZero())
	assert.Equal(t, true, data["success"])
}

func TestActivateMissingParametersIs400(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h.Routes(), http.MethodPost, "/activate", map[string]string{
		"license_key": "ABC-123",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	env, data := decodeEnvelope(t, rec)
	assert.Equal(t, "error", env.Status)
	assert.Contains(t, env.Message, "hardware_id")
	assert.Equal(t, "MissingParameters", data["error"])

	details, ok := data["details"].([]interface{})
	require.True(t, ok)
	require.Len(t, details, 1)
	field, ok := details[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "hardware_id", field["field"])
}

func TestActivateDeniedIs200WithSuccessFalse(t *testing.T) {
	h, st := newTestHandler(t)
	seedLicense(t, st, "ABC-123")

	first := doJSON(t, h.Routes(), http.MethodPost, "/activate", map[string]string{
		"license_key": "ABC-123", "hardware_id": "HW1",
	})
	require.Equal(t, http.StatusOK, first.Code)

	second := doJSON(t, h.Routes(), http.MethodPost, "/activate", map[string]string{
		"license_key": "ABC-123", "hardware_id": "HW2",
	})

	// A business denial is an expected outcome, not a server error.
	require.Equal(t, http.StatusOK, second.Code)
	env, data := decodeEnvelope(t, second)
	assert.Equal(t, "success", env.Status)
	assert.Equal(t, false, data["success"])
	assert.Equal(t, "AlreadyActivatedElsewhere", data["error"])
}

func TestValidateBoundLicense(t *testing.T) {
	h, st := newTestHandler(t)
	seedLicense(t, st, "ABC-123")

	doJSON(t, h.Routes(), http.MethodPost, "/activate", map[string]string{
		"license_key": "ABC-123", "hardware_id": "HW1",
	})

	rec := doJSON(t, h.Routes(), http.MethodPost, "/validate", map[string]string{
		"license_key": "ABC-123", "hardware_id": "HW1",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	env, data := decodeEnvelope(t, rec)
	assert.Equal(t, "success", env.Status)
	assert.Equal(t, true, data["valid"])

	licenseData, ok := data["license_data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Acme School", licenseData["customer_name"])
	assert.Equal(t, store.TypePro, licenseData["license_type"])
}

func TestValidateWrongHardware(t *testing.T) {
	h, st := newTestHandler(t)
	seedLicense(t, st, "ABC-123")

	doJSON(t, h.Routes(), http.MethodPost, "/activate", map[string]string{
		"license_key": "ABC-123", "hardware_id": "HW1",
	})

	rec := doJSON(t, h.Routes(), http.MethodPost, "/validate", map[string]string{
		"license_key": "ABC-123", "hardware_id": "HW2",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	_, data := decodeEnvelope(t, rec)
	assert.Equal(t, false, data["valid"])
	assert.Equal(t, "HardwareMismatch", data["error"])
}

func TestValidateUnknownKey(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h.Routes(), http.MethodPost, "/validate", map[string]string{
		"license_key": "NOPE", "hardware_id": "HW1",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	_, data := decodeEnvelope(t, rec)
	assert.Equal(t, false, data["valid"])
	assert.Equal(t, "LicenseNotFound", data["error"])
}

func TestStatusUnknownKeyIs404(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h.Routes(), http.MethodGet, "/status/NOPE", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	env, _ := decodeEnvelope(t, rec)
	assert.Equal(t, "error", env.Status)
}

func TestStatusReturnsOperatorView(t *testing.T) {
	h, st := newTestHandler(t)
	seedLicense(t, st, "ABC-123")

	rec := doJSON(t, h.Routes(), http.MethodGet, "/status/ABC-123", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	_, data := decodeEnvelope(t, rec)
	assert.Equal(t, "ABC-123", data["license_key"])
	assert.Equal(t, "admin@acme.example", data["customer_email"])
	assert.Equal(t, store.StatusActive, data["status"])
}

func TestHeartbeatRecorded(t *testing.T) {
	h, st := newTestHandler(t)
	seedLicense(t, st, "ABC-123")

	doJSON(t, h.Routes(), http.MethodPost, "/activate", map[string]string{
		"license_key": "ABC-123", "hardware_id": "HW1",
	})

	rec := doJSON(t, h.Routes(), http.MethodPost, "/heartbeat", map[string]interface{}{
		"license_key": "ABC-123",
		"hardware_id": "HW1",
		"performance": map[string]interface{}{"execution_time_ms": 120.0},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	_, data := decodeEnvelope(t, rec)
	assert.Equal(t, true, data["success"])
}

func TestInstallationsListsBoundLicenses(t *testing.T) {
	h, st := newTestHandler(t)
	seedLicense(t, st, "ABC-123")

	doJSON(t, h.Routes(), http.MethodPost, "/activate", map[string]string{
		"license_key": "ABC-123", "hardware_id": "HW1",
	})

	rec := doJSON(t, h.Routes(), http.MethodGet, "/installations", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var env struct {
		Data []map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Len(t, env.Data, 1)
	assert.Equal(t, "ABC-123", env.Data[0]["license_key"])
}

func TestAnalyticsReportShape(t *testing.T) {
	h, st := newTestHandler(t)
	seedLicense(t, st, "ABC-123")

	rec := doJSON(t, h.Routes(), http.MethodGet, "/analytics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	_, data := decodeEnvelope(t, rec)
	assert.Contains(t, data, "license_stats")
	assert.Contains(t, data, "generated_at")
}

func TestAnalyticsExportIsWorkbook(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h.Routes(), http.MethodGet, "/analytics/export", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "spreadsheetml")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")
	assert.NotZero(t, rec.Body.Len())
}

func TestMalformedJSONIs400(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/validate", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	env, data := decodeEnvelope(t, rec)
	assert.Equal(t, "error", env.Status)
	assert.Contains(t, env.Message, "invalid JSON body")
	assert.Equal(t, "MissingParameters", data["error"])
}
