package license

import (
	"context"
	"log/slog"
	"time"

	"licensegate/internal/config"
	"licensegate/internal/infrastructure"
	"licensegate/internal/store"
)

// CallerInfo carries the network identity of the installation making a
// request, recorded on every audit event.
type CallerInfo struct {
	IPAddress string
	UserAgent string
}

// LicenseData is the sanitized projection returned by a successful
// validation. The raw stored record is never returned to callers.
type LicenseData struct {
	CustomerID      uint      `json:"customer_id"`
	CustomerName    string    `json:"customer_name"`
	LicenseType     string    `json:"license_type"`
	MaxUsers        int       `json:"max_users"`
	MaxApplications int       `json:"max_applications"`
	Features        []string  `json:"features"`
	ExpiryDate      time.Time `json:"expiry_date"`
}

// Notifier delivers out-of-band notifications for license events.
// Delivery is fire-and-forget: implementations log failures and never
// return them into the request path.
type Notifier interface {
	NotifyActivation(ctx context.Context, customerEmail, licenseKey, hardwareID string)
	NotifyExpiryWarning(ctx context.Context, customerEmail, licenseKey string, daysLeft int)
	NotifyError(ctx context.Context, licenseKey, kind, detail string)
}

// NopNotifier discards all notifications
type NopNotifier struct{}

func (NopNotifier) NotifyActivation(context.Context, string, string, string) {}
func (NopNotifier) NotifyExpiryWarning(context.Context, string, string, int) {}
func (NopNotifier) NotifyError(context.Context, string, string, string) {}

// Service is the license domain service. It is safe for concurrent use;
// all state lives in the store.
type Service struct {
	store    *store.Store
	audit    *AuditLogger
	notifier Notifier
	metrics  *infrastructure.LicenseMetrics
	logger   *slog.Logger
	cfg      config.LicenseConfig

	// now is injectable for tests
	now func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithNotifier sets the outbound notifier
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics attaches telemetry instruments
func WithMetrics(m *infrastructure.LicenseMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source, used by tests
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates the license domain service
func NewService(st *store.Store, cfg config.LicenseConfig, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:    st,
		notifier: NopNotifier{},
		logger:   logger.With(slog.String("component", "license")),
		cfg:      cfg,
		now:      time.Now,
	}
	s.audit = NewAuditLogger(st, s.logger)
	for _, opt := range opts {
		opt(s)
	}
	s.audit.metrics = s.metrics
	return s
}

// sanitize builds the caller-facing projection of a license row
func sanitize(l *store.License) *LicenseData {
	return &LicenseData{
		CustomerID:      l.CustomerID,
		CustomerName:    l.Customer.Name,
		LicenseType:     l.LicenseType,
		MaxUsers:        l.MaxUsers,
		MaxApplications: l.MaxApplications,
		Features:        append([]string(nil), l.Features...),
		ExpiryDate:      l.ExpiryDate,
	}
}

// recordOperation reports one finished operation to the metrics pipeline
func (s *Service) recordOperation(ctx context.Context, op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	s.metrics.RecordOperation(ctx, op, outcome, time.Since(start).Seconds())
}
