package license

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"licensegate/internal/infrastructure"
	"licensegate/internal/store"
)

// AuditLogger appends immutable event records for every validate,
// activate, deactivate and heartbeat call. Append failures must never
// affect the primary response: they are swallowed, logged, and counted.
type AuditLogger struct {
	store   *store.Store
	logger  *slog.Logger
	metrics *infrastructure.LicenseMetrics
}

// NewAuditLogger creates an audit logger over the given store
func NewAuditLogger(st *store.Store, logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		store:  st,
		logger: logger.With(slog.String("component", "audit")),
	}
}

// Append writes one audit event. Errors are swallowed; the caller's
// response must not depend on the audit write.
func (a *AuditLogger) Append(ctx context.Context, eventType, licenseKey, hardwareID, domain, version, outcome, message string, caller CallerInfo) {
	ev := &store.LicenseEvent{
		ID:         uuid.New().String(),
		EventType:  eventType,
		LicenseKey: licenseKey,
		HardwareID: hardwareID,
		Domain:     domain,
		Version:    version,
		Outcome:    outcome,
		Message:    message,
		IPAddress:  caller.IPAddress,
		UserAgent:  caller.UserAgent,
		CreatedAt:  time.Now(),
	}

	if err := a.store.AppendEvent(ctx, ev); err != nil {
		a.logger.ErrorContext(ctx, "audit event write failed",
			slog.String("event_type", eventType),
			slog.String("license_key", MaskLicenseKey(licenseKey)),
			slog.String("outcome", outcome),
			slog.String("error", err.Error()))
		if a.metrics != nil {
			a.metrics.AuditWriteErrors.Add(ctx, 1)
		}
	}
}

// MaskLicenseKey redacts the middle of a license key for log output
func MaskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
