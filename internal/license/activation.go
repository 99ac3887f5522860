package license

import (
	"context"
	"log/slog"

	licerrors "licensegate/internal/errors"
	"licensegate/internal/store"
)

// Activate binds a license to a hardware fingerprint. Activation is
// idempotent for the same hardware and exclusive across different
// hardware: a retry from the machine that holds the binding succeeds,
// while a second machine is rejected without any state change. The
// read-check-write is a single conditional update in the store, so
// concurrent activations of the same key admit exactly one winner.
//
// One audit event is appended regardless of outcome.
func (s *Service) Activate(ctx context.Context, licenseKey, hardwareID, domain, version string, caller CallerInfo) error {
	start := s.now()

	err := s.activate(ctx, licenseKey, hardwareID, domain, version)

	outcome := "success"
	message := "license activated"
	if err != nil {
		outcome = licerrors.ClassifyLicenseError(err)
		message = err.Error()
	}
	s.audit.Append(ctx, store.EventActivation, licenseKey, hardwareID, domain, version, outcome, message, caller)
	s.recordOperation(ctx, "activate", start, err)

	if err != nil {
		s.logger.InfoContext(ctx, "activation denied",
			slog.String("license_key", MaskLicenseKey(licenseKey)),
			slog.String("outcome", outcome))
		if licerrors.IsBusinessError(err) {
			s.notifier.NotifyError(ctx, licenseKey, outcome, message)
		}
		return err
	}

	s.logger.InfoContext(ctx, "license activated",
		slog.String("license_key", MaskLicenseKey(licenseKey)),
		slog.String("domain", domain),
		slog.String("version", version))
	if s.metrics != nil {
		s.metrics.ActiveBindings.Add(ctx, 1)
	}
	return nil
}

func (s *Service) activate(ctx context.Context, licenseKey, hardwareID, domain, version string) error {
	lic, err := s.store.GetLicenseByKey(ctx, licenseKey)
	if err != nil {
		return err
	}
	if lic.Status != store.StatusActive {
		return licerrors.ErrLicenseNotFound
	}
	if lic.IsExpired(s.now()) {
		return licerrors.ErrLicenseExpired
	}

	bound, err := s.store.BindHardware(ctx, licenseKey, hardwareID, domain, version, s.now())
	if err != nil {
		return err
	}
	if !bound {
		// The conditional update lost to a binding held by different
		// hardware. No state changed.
		return licerrors.ErrAlreadyActivatedElsewhere
	}

	s.notifier.NotifyActivation(ctx, lic.Customer.Email, licenseKey, hardwareID)
	return nil
}

// Deactivate clears a hardware binding. The caller must present the
// currently bound fingerprint as proof of possession; knowing the license
// key alone is not enough to release someone else's binding.
func (s *Service) Deactivate(ctx context.Context, licenseKey, hardwareID string, caller CallerInfo) error {
	start := s.now()

	err := s.deactivate(ctx, licenseKey, hardwareID)

	outcome := "success"
	message := "license deactivated"
	if err != nil {
		outcome = licerrors.ClassifyLicenseError(err)
		message = err.Error()
	}
	s.audit.Append(ctx, store.EventDeactivation, licenseKey, hardwareID, "", "", outcome, message, caller)
	s.recordOperation(ctx, "deactivate", start, err)

	if err != nil {
		s.logger.InfoContext(ctx, "deactivation denied",
			slog.String("license_key", MaskLicenseKey(licenseKey)),
			slog.String("outcome", outcome))
		return err
	}

	s.logger.InfoContext(ctx, "license deactivated",
		slog.String("license_key", MaskLicenseKey(licenseKey)))
	if s.metrics != nil {
		s.metrics.ActiveBindings.Add(ctx, -1)
	}
	return nil
}

func (s *Service) deactivate(ctx context.Context, licenseKey, hardwareID string) error {
	if _, err := s.store.GetLicenseByKey(ctx, licenseKey); err != nil {
		return err
	}

	released, err := s.store.ReleaseHardware(ctx, licenseKey, hardwareID, s.now())
	if err != nil {
		return err
	}
	if !released {
		return licerrors.ErrHardwareMismatch
	}
	return nil
}
