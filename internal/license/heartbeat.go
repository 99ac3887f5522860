package license

import (
	"context"
	"log/slog"

	"licensegate/internal/store"
)

// PerformanceReport is an installation's self-reported performance snapshot
type PerformanceReport struct {
	ExecutionTimeMs float64 `json:"execution_time_ms"`
	MemoryMB        float64 `json:"memory_mb"`
	QueryCount      int64   `json:"query_count"`
	SlowQueryCount  int64   `json:"slow_query_count"`
	ErrorCount      int64   `json:"error_count"`
}

// UsageReport is an installation's self-reported usage snapshot
type UsageReport struct {
	ActiveUsers       int64   `json:"active_users"`
	TotalApplications int64   `json:"total_applications"`
	NewApplications   int64   `json:"new_applications"`
	StorageMB         float64 `json:"storage_mb"`
	BandwidthMB       float64 `json:"bandwidth_mb"`
}

// Heartbeat accepts a periodic liveness report from an installation.
// Heartbeat state on the license advances only when the submitted
// fingerprint matches the current binding; a mismatch is accepted and
// logged, not errored. Samples are appended either way so operators can
// see what mismatched installations report.
func (s *Service) Heartbeat(ctx context.Context, licenseKey, hardwareID, domain, version string, perf *PerformanceReport, usage *UsageReport, caller CallerInfo) error {
	start := s.now()
	now := s.now()

	matched, err := s.store.RecordHeartbeat(ctx, licenseKey, hardwareID, version, now)
	if err != nil {
		s.audit.Append(ctx, store.EventHeartbeat, licenseKey, hardwareID, domain, version, "StoreUnavailable", err.Error(), caller)
		s.recordOperation(ctx, "heartbeat", start, err)
		return err
	}

	if !matched {
		s.logger.DebugContext(ctx, "heartbeat from unbound or mismatched hardware",
			slog.String("license_key", MaskLicenseKey(licenseKey)))
	}

	if perf != nil {
		sample := &store.HeartbeatSample{
			LicenseKey:      licenseKey,
			HardwareID:      hardwareID,
			Kind:            store.SamplePerformance,
			ExecutionTimeMs: perf.ExecutionTimeMs,
			MemoryMB:        perf.MemoryMB,
			QueryCount:      perf.QueryCount,
			SlowQueryCount:  perf.SlowQueryCount,
			ErrorCount:      perf.ErrorCount,
			CreatedAt:       now,
		}
		if err := s.store.AppendSample(ctx, sample); err != nil {
			s.logger.WarnContext(ctx, "performance sample write failed",
				slog.String("license_key", MaskLicenseKey(licenseKey)),
				slog.String("error", err.Error()))
		}
	}

	if usage != nil {
		sample := &store.HeartbeatSample{
			LicenseKey:        licenseKey,
			HardwareID:        hardwareID,
			Kind:              store.SampleUsage,
			ActiveUsers:       usage.ActiveUsers,
			TotalApplications: usage.TotalApplications,
			NewApplications:   usage.NewApplications,
			StorageMB:         usage.StorageMB,
			BandwidthMB:       usage.BandwidthMB,
			CreatedAt:         now,
		}
		if err := s.store.AppendSample(ctx, sample); err != nil {
			s.logger.WarnContext(ctx, "usage sample write failed",
				slog.String("license_key", MaskLicenseKey(licenseKey)),
				slog.String("error", err.Error()))
		}
	}

	outcome := "success"
	if !matched {
		outcome = "unmatched"
	}
	s.audit.Append(ctx, store.EventHeartbeat, licenseKey, hardwareID, domain, version, outcome, "heartbeat received", caller)
	s.recordOperation(ctx, "heartbeat", start, nil)

	if s.metrics != nil {
		s.metrics.HeartbeatsTotal.Add(ctx, 1)
	}
	return nil
}
