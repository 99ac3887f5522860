// Package store provides the durable license store. All binding mutations
// are conditional updates keyed on the current binding state, so the
// activation invariant holds without serializing readers.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"licensegate/internal/config"
	licerrors "licensegate/internal/errors"
)

// Store wraps the relational database holding licenses, customers, audit
// events and heartbeat samples.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the configured database and migrates the schema
func Open(cfg config.DatabaseConfig, log *slog.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access underlying connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(&Customer{}, &License{}, &LicenseEvent{}, &HeartbeatSample{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db, logger: log.With(slog.String("component", "store"))}, nil
}

// NewWithDB wraps an existing gorm connection. Used by tests.
func NewWithDB(db *gorm.DB, log *slog.Logger) (*Store, error) {
	if err := db.AutoMigrate(&Customer{}, &License{}, &LicenseEvent{}, &HeartbeatSample{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db, logger: log.With(slog.String("component", "store"))}, nil
}

// Close releases the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// wrapStoreErr converts infrastructure failures to ErrStoreUnavailable so
// callers can distinguish them from business outcomes.
func wrapStoreErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, licerrors.ErrStoreUnavailable, err)
}

// CreateCustomer inserts a customer record
func (s *Store) CreateCustomer(ctx context.Context, c *Customer) error {
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return wrapStoreErr("create customer", err)
	}
	return nil
}

// CreateLicense inserts a license record. Issuance itself is an
// out-of-band process; this is used by provisioning tooling and tests.
func (s *Store) CreateLicense(ctx context.Context, l *License) error {
	if l.Status == "" {
		l.Status = StatusActive
	}
	if err := s.db.WithContext(ctx).Create(l).Error; err != nil {
		return wrapStoreErr("create license", err)
	}
	return nil
}

// GetLicenseByKey loads a license with its customer. Returns
// ErrLicenseNotFound when the key does not exist.
func (s *Store) GetLicenseByKey(ctx context.Context, key string) (*License, error) {
	var lic License
	err := s.db.WithContext(ctx).Preload("Customer").Where("license_key = ?", key).First(&lic).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, licerrors.ErrLicenseNotFound
		}
		return nil, wrapStoreErr("get license", err)
	}
	return &lic, nil
}

// BindHardware atomically binds a license to a hardware fingerprint. The
// update only applies when the license is active and either unbound or
// already bound to the same fingerprint, so two machines racing to
// activate the same key cannot both win. Returns false when the
// conditional update matched no row.
func (s *Store) BindHardware(ctx context.Context, key, hardwareID, domain, version string, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&License{}).
		Where("license_key = ? AND status = ? AND (hardware_id = '' OR hardware_id = ?)", key, StatusActive, hardwareID).
		Updates(map[string]interface{}{
			"hardware_id":     hardwareID,
			"domain":          domain,
			"version":         version,
			"activated_at":    now,
			"last_validation": now,
		})
	if res.Error != nil {
		return false, wrapStoreErr("bind hardware", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ReleaseHardware clears a binding, but only when the caller presents the
// currently bound fingerprint. Returns false when nothing matched.
func (s *Store) ReleaseHardware(ctx context.Context, key, hardwareID string, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&License{}).
		Where("license_key = ? AND hardware_id = ? AND hardware_id <> ''", key, hardwareID).
		Updates(map[string]interface{}{
			"hardware_id":    "",
			"domain":         "",
			"deactivated_at": now,
		})
	if res.Error != nil {
		return false, wrapStoreErr("release hardware", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// RecordValidation bumps the validation counter and timestamp. Counter
// increments are best-effort telemetry, not a security control.
func (s *Store) RecordValidation(ctx context.Context, key string, now time.Time) error {
	err := s.db.WithContext(ctx).Model(&License{}).
		Where("license_key = ?", key).
		Updates(map[string]interface{}{
			"validation_count": gorm.Expr("validation_count + 1"),
			"last_validation":  now,
		}).Error
	if err != nil {
		return wrapStoreErr("record validation", err)
	}
	return nil
}

// RecordHeartbeat advances heartbeat state only when the submitted
// fingerprint matches the current binding. A mismatch affects no rows and
// is reported as false, never as an error.
func (s *Store) RecordHeartbeat(ctx context.Context, key, hardwareID, version string, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&License{}).
		Where("license_key = ? AND hardware_id = ? AND hardware_id <> ''", key, hardwareID).
		Updates(map[string]interface{}{
			"heartbeat_count": gorm.Expr("heartbeat_count + 1"),
			"last_heartbeat":  now,
			"version":         version,
		})
	if res.Error != nil {
		return false, wrapStoreErr("record heartbeat", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// AppendEvent appends an immutable audit event
func (s *Store) AppendEvent(ctx context.Context, ev *LicenseEvent) error {
	if err := s.db.WithContext(ctx).Create(ev).Error; err != nil {
		return wrapStoreErr("append event", err)
	}
	return nil
}

// AppendSample appends a heartbeat telemetry sample
func (s *Store) AppendSample(ctx context.Context, sample *HeartbeatSample) error {
	if err := s.db.WithContext(ctx).Create(sample).Error; err != nil {
		return wrapStoreErr("append sample", err)
	}
	return nil
}

// ListInstallations returns all currently bound licenses with their
// customer, ordered by most recent heartbeat.
func (s *Store) ListInstallations(ctx context.Context) ([]License, error) {
	var licenses []License
	err := s.db.WithContext(ctx).Preload("Customer").
		Where("hardware_id <> ''").
		Order("last_heartbeat DESC").
		Find(&licenses).Error
	if err != nil {
		return nil, wrapStoreErr("list installations", err)
	}
	return licenses, nil
}

// LicenseCounts holds all-time license rollups
type LicenseCounts struct {
	Total     int64 `json:"total"`
	Active    int64 `json:"active"`
	Activated int64 `json:"activated"`
	Expired   int64 `json:"expired"`
}

// CountLicenses computes all-time license counts
func (s *Store) CountLicenses(ctx context.Context, now time.Time) (*LicenseCounts, error) {
	var counts LicenseCounts
	db := s.db.WithContext(ctx).Model(&License{})

	if err := db.Count(&counts.Total).Error; err != nil {
		return nil, wrapStoreErr("count licenses", err)
	}
	if err := s.db.WithContext(ctx).Model(&License{}).
		Where("status = ? AND expiry_date > ?", StatusActive, now).
		Count(&counts.Active).Error; err != nil {
		return nil, wrapStoreErr("count active licenses", err)
	}
	if err := s.db.WithContext(ctx).Model(&License{}).
		Where("hardware_id <> ''").
		Count(&counts.Activated).Error; err != nil {
		return nil, wrapStoreErr("count activated licenses", err)
	}
	if err := s.db.WithContext(ctx).Model(&License{}).
		Where("expiry_date <= ?", now).
		Count(&counts.Expired).Error; err != nil {
		return nil, wrapStoreErr("count expired licenses", err)
	}
	return &counts, nil
}

// PerformanceStats holds performance sample rollups over a window
type PerformanceStats struct {
	SampleCount       int64   `json:"sample_count"`
	AvgExecutionTime  float64 `json:"avg_execution_time_ms"`
	AvgMemoryMB       float64 `json:"avg_memory_mb"`
	AvgQueryCount     float64 `json:"avg_query_count"`
	TotalSlowQueries  int64   `json:"total_slow_queries"`
	TotalErrors       int64   `json:"total_errors"`
}

// AggregatePerformance computes performance rollups since the given time
func (s *Store) AggregatePerformance(ctx context.Context, since time.Time) (*PerformanceStats, error) {
	var stats PerformanceStats
	err := s.db.WithContext(ctx).Model(&HeartbeatSample{}).
		Where("kind = ? AND created_at >= ?", SamplePerformance, since).
		Select("COUNT(*) AS sample_count, " +
			"COALESCE(AVG(execution_time_ms), 0) AS avg_execution_time, " +
			"COALESCE(AVG(memory_mb), 0) AS avg_memory_mb, " +
			"COALESCE(AVG(query_count), 0) AS avg_query_count, " +
			"COALESCE(SUM(slow_query_count), 0) AS total_slow_queries, " +
			"COALESCE(SUM(error_count), 0) AS total_errors").
		Scan(&stats).Error
	if err != nil {
		return nil, wrapStoreErr("aggregate performance", err)
	}
	return &stats, nil
}

// UsageStats holds usage sample rollups over a window
type UsageStats struct {
	SampleCount          int64   `json:"sample_count"`
	AvgActiveUsers       float64 `json:"avg_active_users"`
	TotalApplications    int64   `json:"total_applications"`
	NewApplications      int64   `json:"new_applications"`
	AvgStorageMB         float64 `json:"avg_storage_mb"`
	AvgBandwidthMB       float64 `json:"avg_bandwidth_mb"`
}

// AggregateUsage computes usage rollups since the given time
func (s *Store) AggregateUsage(ctx context.Context, since time.Time) (*UsageStats, error) {
	var stats UsageStats
	err := s.db.WithContext(ctx).Model(&HeartbeatSample{}).
		Where("kind = ? AND created_at >= ?", SampleUsage, since).
		Select("COUNT(*) AS sample_count, " +
			"COALESCE(AVG(active_users), 0) AS avg_active_users, " +
			"COALESCE(SUM(total_applications), 0) AS total_applications, " +
			"COALESCE(SUM(new_applications), 0) AS new_applications, " +
			"COALESCE(AVG(storage_mb), 0) AS avg_storage_mb, " +
			"COALESCE(AVG(bandwidth_mb), 0) AS avg_bandwidth_mb").
		Scan(&stats).Error
	if err != nil {
		return nil, wrapStoreErr("aggregate usage", err)
	}
	return &stats, nil
}

// EventsByLicense returns audit events for one license, newest first,
// capped at limit.
func (s *Store) EventsByLicense(ctx context.Context, key string, limit int) ([]LicenseEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []LicenseEvent
	err := s.db.WithContext(ctx).
		Where("license_key = ?", key).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, wrapStoreErr("events by license", err)
	}
	return events, nil
}
