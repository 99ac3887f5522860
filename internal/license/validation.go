package license

import (
	"context"
	"log/slog"
	"time"

	licerrors "licensegate/internal/errors"
	"licensegate/internal/store"
)

// Validate decides whether a license/hardware/domain tuple is currently
// valid. Checks run in order and short-circuit on the first failure:
// existence and active status, expiry, hardware binding, domain
// allow-list. Validation never activates: an unbound license fails the
// binding check even when everything else matches.
//
// Every call appends exactly one audit event, written after the store
// mutation. An audit failure never rolls back a successful validation.
func (s *Service) Validate(ctx context.Context, licenseKey, hardwareID, domain, version string, caller CallerInfo) (*LicenseData, error) {
	start := s.now()

	data, err := s.validate(ctx, licenseKey, hardwareID, domain, version)

	outcome := "success"
	message := "license valid"
	if err != nil {
		outcome = licerrors.ClassifyLicenseError(err)
		message = err.Error()
	}
	s.audit.Append(ctx, store.EventValidation, licenseKey, hardwareID, domain, version, outcome, message, caller)
	s.recordOperation(ctx, "validate", start, err)

	if err != nil {
		s.logger.InfoContext(ctx, "validation denied",
			slog.String("license_key", MaskLicenseKey(licenseKey)),
			slog.String("outcome", outcome))
		return nil, err
	}
	return data, nil
}

func (s *Service) validate(ctx context.Context, licenseKey, hardwareID, domain, version string) (*LicenseData, error) {
	lic, err := s.store.GetLicenseByKey(ctx, licenseKey)
	if err != nil {
		return nil, err
	}
	if lic.Status != store.StatusActive {
		// Suspended and revoked licenses are reported identically to
		// missing ones: callers learn nothing about keys they do not hold.
		return nil, licerrors.ErrLicenseNotFound
	}
	if lic.IsExpired(s.now()) {
		return nil, licerrors.ErrLicenseExpired
	}
	// An unbound license fails this check too: the stored fingerprint is
	// empty and the caller's is not. Validation must never bind.
	if lic.HardwareID != hardwareID {
		return nil, licerrors.ErrHardwareMismatch
	}
	if len(lic.AllowedDomains) > 0 && !lic.AllowedDomains.Contains(domain) {
		return nil, licerrors.ErrDomainNotAuthorized
	}

	if err := s.store.RecordValidation(ctx, licenseKey, s.now()); err != nil {
		return nil, err
	}

	if warn := s.cfg.ExpiryWarningDays; warn > 0 {
		if left := lic.ExpiryDate.Sub(s.now()); left < time.Duration(warn)*24*time.Hour {
			s.notifier.NotifyExpiryWarning(ctx, lic.Customer.Email, licenseKey, int(left.Hours()/24))
		}
	}

	return sanitize(lic), nil
}
