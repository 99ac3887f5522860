// Package license implements the server-side license domain logic: the
// validation engine, the activation manager that enforces exclusive
// hardware binding, the heartbeat collector, the audit logger, and the
// analytics aggregator.
//
// The package is a stateless request processor over the durable store.
// Business-rule denials (not found, expired, hardware mismatch, domain
// not authorized, already activated elsewhere) are typed errors from
// internal/errors and are expected outcomes, never server faults. Every
// validate, activate, deactivate and heartbeat call appends exactly one
// audit event; audit write failures are swallowed and reported to the
// operational log only.
package license
