package license

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"licensegate/internal/store"
)

// AnalyticsReport is the dashboard rollup: all-time license counts plus
// trailing-window performance and usage statistics.
type AnalyticsReport struct {
	LicenseStats     *store.LicenseCounts    `json:"license_stats"`
	PerformanceStats *store.PerformanceStats `json:"performance_stats"`
	UsageStats       *store.UsageStats       `json:"usage_stats"`
	GeneratedAt      time.Time               `json:"generated_at"`
}

// Analytics computes the dashboard rollups. This is a feed, not a control
// path: a failed sub-query degrades to a nil section in the report rather
// than failing the whole call.
func (s *Service) Analytics(ctx context.Context) *AnalyticsReport {
	now := s.now()
	since := now.Add(-s.cfg.AnalyticsWindow)

	report := &AnalyticsReport{GeneratedAt: now}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		counts, err := s.store.CountLicenses(gctx, now)
		if err != nil {
			s.logger.WarnContext(gctx, "license count rollup failed", slog.String("error", err.Error()))
			return nil
		}
		report.LicenseStats = counts
		return nil
	})
	g.Go(func() error {
		stats, err := s.store.AggregatePerformance(gctx, since)
		if err != nil {
			s.logger.WarnContext(gctx, "performance rollup failed", slog.String("error", err.Error()))
			return nil
		}
		report.PerformanceStats = stats
		return nil
	})
	g.Go(func() error {
		stats, err := s.store.AggregateUsage(gctx, since)
		if err != nil {
			s.logger.WarnContext(gctx, "usage rollup failed", slog.String("error", err.Error()))
			return nil
		}
		report.UsageStats = stats
		return nil
	})

	// Sub-queries swallow their own errors; Wait only propagates context
	// cancellation, which still yields a partial report.
	_ = g.Wait()

	return report
}

// StatusInfo is the operator-facing view of one license returned by the
// status endpoint.
type StatusInfo struct {
	LicenseKey      string     `json:"license_key"`
	CustomerName    string     `json:"customer_name"`
	CustomerEmail   string     `json:"customer_email"`
	LicenseType     string     `json:"license_type"`
	Status          string     `json:"status"`
	ExpiryDate      time.Time  `json:"expiry_date"`
	HardwareID      string     `json:"hardware_id"`
	Domain          string     `json:"domain"`
	ActivatedAt     *time.Time `json:"activated_at"`
	LastValidation  *time.Time `json:"last_validation"`
	ValidationCount int64      `json:"validation_count"`
}

// Status returns the operator view of a license
func (s *Service) Status(ctx context.Context, licenseKey string) (*StatusInfo, error) {
	lic, err := s.store.GetLicenseByKey(ctx, licenseKey)
	if err != nil {
		return nil, err
	}
	return &StatusInfo{
		LicenseKey:      lic.LicenseKey,
		CustomerName:    lic.Customer.Name,
		CustomerEmail:   lic.Customer.Email,
		LicenseType:     lic.LicenseType,
		Status:          lic.Status,
		ExpiryDate:      lic.ExpiryDate,
		HardwareID:      lic.HardwareID,
		Domain:          lic.Domain,
		ActivatedAt:     lic.ActivatedAt,
		LastValidation:  lic.LastValidation,
		ValidationCount: lic.ValidationCount,
	}, nil
}

// Installation is one bound license in the installations listing
type Installation struct {
	LicenseKey     string     `json:"license_key"`
	CustomerName   string     `json:"customer_name"`
	Domain         string     `json:"domain"`
	Version        string     `json:"version"`
	ActivatedAt    *time.Time `json:"activated_at"`
	LastHeartbeat  *time.Time `json:"last_heartbeat"`
	HeartbeatCount int64      `json:"heartbeat_count"`
}

// Installations lists all currently bound licenses
func (s *Service) Installations(ctx context.Context) ([]Installation, error) {
	licenses, err := s.store.ListInstallations(ctx)
	if err != nil {
		return nil, err
	}
	installs := make([]Installation, 0, len(licenses))
	for _, lic := range licenses {
		installs = append(installs, Installation{
			LicenseKey:     lic.LicenseKey,
			CustomerName:   lic.Customer.Name,
			Domain:         lic.Domain,
			Version:        lic.Version,
			ActivatedAt:    lic.ActivatedAt,
			LastHeartbeat:  lic.LastHeartbeat,
			HeartbeatCount: lic.HeartbeatCount,
		})
	}
	return installs, nil
}

// History returns recent audit events for a license
func (s *Service) History(ctx context.Context, licenseKey string, limit int) ([]store.LicenseEvent, error) {
	return s.store.EventsByLicense(ctx, licenseKey, limit)
}
