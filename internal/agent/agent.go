// Package agent is the client-side activation agent embedded in licensed
// installations. It activates against the license server, revalidates
// periodically, and rides out server outages on a signed verdict cache
// bounded by a grace window.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// State is the agent lifecycle state
type State string

const (
	StateUninitialized State = "uninitialized"
	StateActivating    State = "activating"
	StateActivated     State = "activated"
	StateRevalidating  State = "revalidating"
	StateBlocked       State = "blocked"
	StateDeactivated   State = "deactivated"
)

const (
	// DefaultGracePeriod bounds how long a cached verdict keeps the
	// installation running while the server is unreachable.
	DefaultGracePeriod = 7 * 24 * time.Hour

	// DefaultFreshness is how long a cached verdict is trusted without
	// consulting the server at all.
	DefaultFreshness = 15 * time.Minute
)

// validator is the slice of the protocol client the agent drives
type validator interface {
	Validate(ctx context.Context, licenseKey, hardwareID, domain, version string) (*Verdict, error)
	Activate(ctx context.Context, licenseKey, hardwareID, domain, version string) (*Verdict, error)
	Deactivate(ctx context.Context, licenseKey, hardwareID string) (*Verdict, error)
}

// Agent enforces the license on the client machine.
type Agent struct {
	client     validator
	cache      *Cache
	licenseKey string
	hardwareID string
	domain     string
	version    string
	grace      time.Duration
	freshness  time.Duration
	logger     *slog.Logger

	state  State
	denial string

	// now is injectable for tests
	now func() time.Time
}

// Option configures an Agent
type Option func(*Agent)

// WithGracePeriod overrides the offline grace window
func WithGracePeriod(d time.Duration) Option {
	return func(a *Agent) { a.grace = d }
}

// WithFreshness overrides how long cached verdicts skip the network
func WithFreshness(d time.Duration) Option {
	return func(a *Agent) { a.freshness = d }
}

// WithClock overrides the time source, used by tests
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// WithHardwareID overrides the machine fingerprint, used by tests
func WithHardwareID(id string) Option {
	return func(a *Agent) { a.hardwareID = id }
}

// New creates an agent for the given license key. The machine fingerprint
// is computed once at construction.
func New(client validator, cache *Cache, licenseKey, domain, version string, logger *slog.Logger, opts ...Option) (*Agent, error) {
	a := &Agent{
		client:     client,
		cache:      cache,
		licenseKey: licenseKey,
		domain:     domain,
		version:    version,
		grace:      DefaultGracePeriod,
		freshness:  DefaultFreshness,
		logger:     logger.With(slog.String("component", "agent")),
		state:      StateUninitialized,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.hardwareID == "" {
		fp, err := Fingerprint()
		if err != nil {
			return nil, fmt.Errorf("failed to fingerprint machine: %w", err)
		}
		a.hardwareID = fp
	}
	return a, nil
}

// State returns the current lifecycle state
func (a *Agent) State() State {
	return a.state
}

// Denial returns the error kind that blocked the agent, if any
func (a *Agent) Denial() string {
	return a.denial
}

// HardwareID returns the fingerprint this agent presents to the server
func (a *Agent) HardwareID() string {
	return a.hardwareID
}

// Start brings the agent to a decided state. A fresh cached verdict is
// trusted without touching the network; otherwise the agent activates or
// revalidates against the server.
func (a *Agent) Start(ctx context.Context) State {
	cached, ok := a.loadCache()
	if ok && a.now().Sub(cached.ValidatedAt) <= a.freshness {
		a.logger.InfoContext(ctx, "cached verdict is fresh, skipping network",
			"validated_at", cached.ValidatedAt.Format(time.RFC3339))
		a.state = StateActivated
		return a.state
	}

	if !ok {
		return a.activate(ctx)
	}
	return a.Revalidate(ctx)
}

// Revalidate re-checks the license with the server. Denials block the
// agent immediately; an unreachable server defers to the grace window.
func (a *Agent) Revalidate(ctx context.Context) State {
	a.state = StateRevalidating

	verdict, err := a.client.Validate(ctx, a.licenseKey, a.hardwareID, a.domain, a.version)
	if err != nil {
		return a.fallbackToCache(ctx, err)
	}

	if !verdict.Valid {
		a.deny(ctx, verdict.Denial)
		return a.state
	}

	a.recordSuccess(ctx)
	a.state = StateActivated
	return a.state
}

// activate performs first-time activation against the server.
func (a *Agent) activate(ctx context.Context) State {
	a.state = StateActivating

	verdict, err := a.client.Activate(ctx, a.licenseKey, a.hardwareID, a.domain, a.version)
	if err != nil {
		// No prior successful verdict exists, so there is no grace to
		// fall back on.
		a.block(ctx, "ServerUnreachable")
		return a.state
	}

	if !verdict.Valid {
		a.deny(ctx, verdict.Denial)
		return a.state
	}

	a.recordSuccess(ctx)
	a.state = StateActivated
	return a.state
}

// Deactivate releases this machine's binding and clears the cache.
func (a *Agent) Deactivate(ctx context.Context) error {
	verdict, err := a.client.Deactivate(ctx, a.licenseKey, a.hardwareID)
	if err != nil {
		return err
	}
	if !verdict.Valid {
		return errors.New(verdict.Denial)
	}

	if err := a.cache.Clear(); err != nil {
		a.logger.WarnContext(ctx, "failed to clear verdict cache", "error", err.Error())
	}
	a.state = StateDeactivated
	a.denial = ""
	return nil
}

// fallbackToCache decides whether an unreachable server leaves the
// installation running. A verdict inside the grace window keeps the agent
// activated; anything else blocks it.
func (a *Agent) fallbackToCache(ctx context.Context, cause error) State {
	cached, ok := a.loadCache()
	if ok {
		age := a.now().Sub(cached.ValidatedAt)
		if age <= a.grace {
			a.logger.WarnContext(ctx, "server unreachable, running on cached verdict",
				"cause", cause.Error(),
				"verdict_age", age.String(),
				"grace", a.grace.String())
			a.state = StateActivated
			return a.state
		}
		a.logger.ErrorContext(ctx, "cached verdict exceeded grace window",
			"verdict_age", age.String(),
			"grace", a.grace.String())
	}
	a.block(ctx, "ServerUnreachable")
	return a.state
}

// loadCache reads the verdict cache and discards entries recorded for a
// different license or machine.
func (a *Agent) loadCache() (*CachedVerdict, bool) {
	cached, ok := a.cache.Load()
	if !ok {
		return nil, false
	}
	if cached.LicenseKey != a.licenseKey || cached.HardwareID != a.hardwareID {
		a.logger.Warn("cached verdict is for a different license or machine, discarding")
		return nil, false
	}
	return cached, true
}

// recordSuccess caches the positive verdict for offline grace
func (a *Agent) recordSuccess(ctx context.Context) {
	a.denial = ""
	if err := a.cache.Store(a.licenseKey, a.hardwareID, a.now()); err != nil {
		a.logger.WarnContext(ctx, "failed to persist verdict cache", "error", err.Error())
	}
}

// deny handles a definitive business denial from the server. The cached
// verdict is discarded so a restart cannot ride it past the denial.
func (a *Agent) deny(ctx context.Context, denial string) {
	if err := a.cache.Clear(); err != nil {
		a.logger.WarnContext(ctx, "failed to clear verdict cache", "error", err.Error())
	}
	a.block(ctx, denial)
}

func (a *Agent) block(ctx context.Context, denial string) {
	a.state = StateBlocked
	a.denial = denial
	a.logger.ErrorContext(ctx, "license blocked", "denial", denial)
}
