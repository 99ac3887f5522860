package errors

import (
	"errors"
)

// License business-rule errors. These are expected outcomes, not server
// faults: handlers report them as success:false with a 2xx status, never
// as a 5xx.
var (
	ErrLicenseNotFound           = errors.New("license not found")
	ErrLicenseExpired            = errors.New("license expired")
	ErrHardwareMismatch          = errors.New("hardware fingerprint mismatch")
	ErrDomainNotAuthorized       = errors.New("domain not authorized")
	ErrAlreadyActivatedElsewhere = errors.New("license already activated on another machine")

	// ErrStoreUnavailable marks transient infrastructure failures. Unlike
	// the business errors above it surfaces as a 5xx and must never be
	// cached by a client as a denial verdict.
	ErrStoreUnavailable = errors.New("license store unavailable")
)

// Business-rule error kinds, used as the audit log outcome and in wire
// responses.
const (
	KindLicenseNotFound           = "LicenseNotFound"
	KindLicenseExpired            = "LicenseExpired"
	KindHardwareMismatch          = "HardwareMismatch"
	KindDomainNotAuthorized       = "DomainNotAuthorized"
	KindAlreadyActivatedElsewhere = "AlreadyActivatedElsewhere"
	KindMissingParameters         = "MissingParameters"
	KindStoreUnavailable          = "StoreUnavailable"
	KindUnknown                   = "Unknown"
)

// ClassifyLicenseError maps a license error to its wire-level kind.
// Unknown errors deliberately collapse to a generic kind so internals
// never leak to callers.
func ClassifyLicenseError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLicenseNotFound):
		return KindLicenseNotFound
	case errors.Is(err, ErrLicenseExpired):
		return KindLicenseExpired
	case errors.Is(err, ErrHardwareMismatch):
		return KindHardwareMismatch
	case errors.Is(err, ErrDomainNotAuthorized):
		return KindDomainNotAuthorized
	case errors.Is(err, ErrAlreadyActivatedElsewhere):
		return KindAlreadyActivatedElsewhere
	case errors.Is(err, ErrStoreUnavailable):
		return KindStoreUnavailable
	default:
		return KindUnknown
	}
}

// IsBusinessError reports whether err is an expected license business-rule
// outcome rather than an infrastructure failure.
func IsBusinessError(err error) bool {
	switch ClassifyLicenseError(err) {
	case KindLicenseNotFound, KindLicenseExpired, KindHardwareMismatch,
		KindDomainNotAuthorized, KindAlreadyActivatedElsewhere:
		return true
	}
	return false
}
