package store

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	licerrors "licensegate/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	s, err := NewWithDB(db, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Exec("DELETE FROM heartbeat_samples")
		db.Exec("DELETE FROM license_events")
		db.Exec("DELETE FROM licenses")
		db.Exec("DELETE FROM customers")
	})
	return s
}

func seedLicense(t *testing.T, s *Store, key string, expiry time.Time) *License {
	t.Helper()
	ctx := context.Background()

	customer := &Customer{Name: "Acme School", Email: "admin@acme.example", Phone: "+1-555-0100"}
	require.NoError(t, s.CreateCustomer(ctx, customer))

	lic := &License{
		LicenseKey:      key,
		CustomerID:      customer.ID,
		LicenseType:     TypePro,
		Status:          StatusActive,
		MaxUsers:        25,
		MaxApplications: 1000,
		Features:        StringList{"reports", "sms"},
		AllowedDomains:  StringList{"example.com"},
		ExpiryDate:      expiry,
	}
	require.NoError(t, s.CreateLicense(ctx, lic))
	return lic
}

func TestGetLicenseByKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedLicense(t, s, "ABC-123", time.Now().Add(365*24*time.Hour))

	lic, err := s.GetLicenseByKey(ctx, "ABC-123")
	require.NoError(t, err)
	assert.Equal(t, "ABC-123", lic.LicenseKey)
	assert.Equal(t, "Acme School", lic.Customer.Name)
	assert.False(t, lic.IsBound())

	_, err = s.GetLicenseByKey(ctx, "NO-SUCH-KEY")
	assert.ErrorIs(t, err, licerrors.ErrLicenseNotFound)
}

func TestBindHardware(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	seedLicense(t, s, "ABC-123", now.Add(365*24*time.Hour))

	bound, err := s.BindHardware(ctx, "ABC-123", "HW1", "example.com", "1.0", now)
	require.NoError(t, err)
	assert.True(t, bound)

	// Idempotent for the same hardware.
	bound, err = s.BindHardware(ctx, "ABC-123", "HW1", "example.com", "1.1", now)
	require.NoError(t, err)
	assert.True(t, bound)

	// Exclusive across different hardware.
	bound, err = s.BindHardware(ctx, "ABC-123", "HW2", "other.com", "1.0", now)
	require.NoError(t, err)
	assert.False(t, bound)

	lic, err := s.GetLicenseByKey(ctx, "ABC-123")
	require.NoError(t, err)
	assert.Equal(t, "HW1", lic.HardwareID)
	assert.Equal(t, "example.com", lic.Domain)
}

func TestBindHardwareRequiresActiveStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	lic := seedLicense(t, s, "SUS-001", now.Add(24*time.Hour))
	require.NoError(t, s.db.Model(lic).Update("status", StatusSuspended).Error)

	bound, err := s.BindHardware(ctx, "SUS-001", "HW1", "", "1.0", now)
	require.NoError(t, err)
	assert.False(t, bound)
}

func TestReleaseHardware(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	seedLicense(t, s, "ABC-123", now.Add(365*24*time.Hour))

	_, err := s.BindHardware(ctx, "ABC-123", "HW1", "example.com", "1.0", now)
	require.NoError(t, err)

	// Wrong fingerprint must not release the binding.
	released, err := s.ReleaseHardware(ctx, "ABC-123", "HW2", now)
	require.NoError(t, err)
	assert.False(t, released)

	released, err = s.ReleaseHardware(ctx, "ABC-123", "HW1", now)
	require.NoError(t, err)
	assert.True(t, released)

	lic, err := s.GetLicenseByKey(ctx, "ABC-123")
	require.NoError(t, err)
	assert.False(t, lic.IsBound())
	assert.Empty(t, lic.Domain)
	require.NotNil(t, lic.DeactivatedAt)

	// The freed license can bind to new hardware.
	bound, err := s.BindHardware(ctx, "ABC-123", "HW2", "example.com", "2.0", now)
	require.NoError(t, err)
	assert.True(t, bound)
}

func TestRecordValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	seedLicense(t, s, "ABC-123", now.Add(24*time.Hour))

	require.NoError(t, s.RecordValidation(ctx, "ABC-123", now))
	require.NoError(t, s.RecordValidation(ctx, "ABC-123", now))

	lic, err := s.GetLicenseByKey(ctx, "ABC-123")
	require.NoError(t, err)
	assert.EqualValues(t, 2, lic.ValidationCount)
	require.NotNil(t, lic.LastValidation)
}

func TestRecordHeartbeatBindingMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	seedLicense(t, s, "ABC-123", now.Add(24*time.Hour))

	// Unbound license: heartbeat is a no-op.
	matched, err := s.RecordHeartbeat(ctx, "ABC-123", "HW1", "1.0", now)
	require.NoError(t, err)
	assert.False(t, matched)

	_, err = s.BindHardware(ctx, "ABC-123", "HW1", "example.com", "1.0", now)
	require.NoError(t, err)

	matched, err = s.RecordHeartbeat(ctx, "ABC-123", "HW1", "1.1", now)
	require.NoError(t, err)
	assert.True(t, matched)

	// Mismatched fingerprint advances nothing.
	matched, err = s.RecordHeartbeat(ctx, "ABC-123", "HW2", "1.0", now)
	require.NoError(t, err)
	assert.False(t, matched)

	lic, err := s.GetLicenseByKey(ctx, "ABC-123")
	require.NoError(t, err)
	assert.EqualValues(t, 1, lic.HeartbeatCount)
	assert.Equal(t, "1.1", lic.Version)
}

func TestAppendEventAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedLicense(t, s, "ABC-123", time.Now().Add(24*time.Hour))

	for i := 0; i < 3; i++ {
		ev := &LicenseEvent{
			ID:         uuid.New().String(),
			EventType:  EventValidation,
			LicenseKey: "ABC-123",
			HardwareID: "HW1",
			Outcome:    "success",
			IPAddress:  "10.0.0.1",
			UserAgent:  "agent/1.0",
			CreatedAt:  time.Now(),
		}
		require.NoError(t, s.AppendEvent(ctx, ev))
	}

	events, err := s.EventsByLicense(ctx, "ABC-123", 10)
	require.NoError(t, err)
	assert.Len(t, events, 3)
	assert.Equal(t, EventValidation, events[0].EventType)
}

func TestCountLicenses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	seedLicense(t, s, "LIVE-1", now.Add(24*time.Hour))
	seedLicense(t, s, "LIVE-2", now.Add(48*time.Hour))
	seedLicense(t, s, "DEAD-1", now.Add(-24*time.Hour))

	_, err := s.BindHardware(ctx, "LIVE-1", "HW1", "", "1.0", now)
	require.NoError(t, err)

	counts, err := s.CountLicenses(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 3, counts.Total)
	assert.EqualValues(t, 2, counts.Active)
	assert.EqualValues(t, 1, counts.Activated)
	assert.EqualValues(t, 1, counts.Expired)
}

func TestAggregateSamples(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	perf := []HeartbeatSample{
		{LicenseKey: "ABC-123", HardwareID: "HW1", Kind: SamplePerformance, ExecutionTimeMs: 100, MemoryMB: 256, QueryCount: 10, SlowQueryCount: 1, ErrorCount: 0, CreatedAt: now},
		{LicenseKey: "ABC-123", HardwareID: "HW1", Kind: SamplePerformance, ExecutionTimeMs: 300, MemoryMB: 512, QueryCount: 30, SlowQueryCount: 2, ErrorCount: 3, CreatedAt: now},
		// Outside the window, must be excluded.
		{LicenseKey: "ABC-123", HardwareID: "HW1", Kind: SamplePerformance, ExecutionTimeMs: 999, CreatedAt: now.Add(-48 * time.Hour)},
	}
	for i := range perf {
		require.NoError(t, s.AppendSample(ctx, &perf[i]))
	}

	usage := HeartbeatSample{LicenseKey: "ABC-123", HardwareID: "HW1", Kind: SampleUsage, ActiveUsers: 12, TotalApplications: 40, NewApplications: 5, StorageMB: 100, BandwidthMB: 50, CreatedAt: now}
	require.NoError(t, s.AppendSample(ctx, &usage))

	since := now.Add(-24 * time.Hour)

	perfStats, err := s.AggregatePerformance(ctx, since)
	require.NoError(t, err)
	assert.EqualValues(t, 2, perfStats.SampleCount)
	assert.InDelta(t, 200, perfStats.AvgExecutionTime, 0.01)
	assert.InDelta(t, 384, perfStats.AvgMemoryMB, 0.01)
	assert.EqualValues(t, 3, perfStats.TotalSlowQueries)
	assert.EqualValues(t, 3, perfStats.TotalErrors)

	usageStats, err := s.AggregateUsage(ctx, since)
	require.NoError(t, err)
	assert.EqualValues(t, 1, usageStats.SampleCount)
	assert.InDelta(t, 12, usageStats.AvgActiveUsers, 0.01)
	assert.EqualValues(t, 40, usageStats.TotalApplications)
	assert.EqualValues(t, 5, usageStats.NewApplications)
}

func TestListInstallations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	seedLicense(t, s, "BOUND-1", now.Add(24*time.Hour))
	seedLicense(t, s, "FREE-1", now.Add(24*time.Hour))

	_, err := s.BindHardware(ctx, "BOUND-1", "HW1", "example.com", "1.0", now)
	require.NoError(t, err)

	installs, err := s.ListInstallations(ctx)
	require.NoError(t, err)
	require.Len(t, installs, 1)
	assert.Equal(t, "BOUND-1", installs[0].LicenseKey)
	assert.Equal(t, "Acme School", installs[0].Customer.Name)
}

func TestStringListScanValue(t *testing.T) {
	list := StringList{"a", "b"}
	val, err := list.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `["a","b"]`, val.(string))

	var scanned StringList
	require.NoError(t, scanned.Scan(`["x","y"]`))
	assert.Equal(t, StringList{"x", "y"}, scanned)
	assert.True(t, scanned.Contains("x"))
	assert.False(t, scanned.Contains("sub.x"))
}
