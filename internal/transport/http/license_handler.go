package http

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	licerrors "licensegate/internal/errors"
	"licensegate/internal/infrastructure"
	"licensegate/internal/license"
)

// LicenseHandler serves the license activation and validation protocol
type LicenseHandler struct {
	service  *license.Service
	logger   *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service *license.Service, logger *slog.Logger, tracer trace.Tracer) *LicenseHandler {
	v := validator.New()
	// Report wire field names, not Go struct names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &LicenseHandler{
		service:  service,
		logger:   logger.With(slog.String("handler", "license")),
		validate: v,
		tracer:   tracer,
	}
}

// RegisterRoutes attaches the license protocol endpoints to the router.
// The endpoints live at the root so existing installations keep working.
func (h *LicenseHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(g chi.Router) {
		g.Use(middleware.Timeout(30 * time.Second))

		g.Post("/validate", h.Validate)
		g.Post("/activate", h.Activate)
		g.Post("/deactivate", h.Deactivate)
		g.Post("/heartbeat", h.Heartbeat)
		g.Get("/status/{license_key}", h.Status)
		g.Get("/installations", h.Installations)
		g.Get("/analytics", h.Analytics)
		g.Get("/analytics/export", h.AnalyticsExport)
	})
}

// Routes returns a standalone router with just the protocol endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// ValidateRequest is the validation request payload
type ValidateRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	HardwareID string `json:"hardware_id" validate:"required"`
	Domain     string `json:"domain"`
	Version    string `json:"version"`
}

// ActivateRequest is the activation request payload
type ActivateRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	HardwareID string `json:"hardware_id" validate:"required"`
	Domain     string `json:"domain"`
	Version    string `json:"version"`
}

// DeactivateRequest is the deactivation request payload
type DeactivateRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	HardwareID string `json:"hardware_id" validate:"required"`
}

// HeartbeatRequest is the heartbeat request payload
type HeartbeatRequest struct {
	LicenseKey  string                     `json:"license_key" validate:"required"`
	HardwareID  string                     `json:"hardware_id" validate:"required"`
	Domain      string                     `json:"domain"`
	Version     string                     `json:"version"`
	Performance *license.PerformanceReport `json:"performance,omitempty"`
	Usage       *license.UsageReport       `json:"usage,omitempty"`
}

// decodeAndValidate decodes a JSON body and enforces required fields
// before any store access.
func (h *LicenseHandler) decodeAndValidate(r *http.Request, req interface{}) *licerrors.APIError {
	if err := render.DecodeJSON(r.Body, req); err != nil {
		return licerrors.InvalidBody(err)
	}
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			missing := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				missing = append(missing, strings.ToLower(fe.Field()))
			}
			return licerrors.MissingParameters(missing)
		}
		return licerrors.InvalidBody(err)
	}
	return nil
}

// callerInfo extracts the caller's network identity for the audit trail
func callerInfo(r *http.Request) license.CallerInfo {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip = host
	} else if idx := strings.Index(ip, ","); idx >= 0 {
		ip = strings.TrimSpace(ip[:idx])
	}
	return license.CallerInfo{
		IPAddress: ip,
		UserAgent: r.UserAgent(),
	}
}

// Validate handles POST /validate
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := h.tracer.Start(ctx, "license_handler.validate",
		trace.WithAttributes(attribute.String("http.route", "/validate")))
	defer span.End()

	var req ValidateRequest
	if apiErr := h.decodeAndValidate(r, &req); apiErr != nil {
		respondAPIError(w, r, apiErr, nil)
		return
	}

	data, err := h.service.Validate(ctx, req.LicenseKey, req.HardwareID, req.Domain, req.Version, callerInfo(r))
	if err != nil {
		h.respondLicenseError(w, r, span, err, func(kind string) interface{} {
			return ValidateResult{Valid: false, Error: kind}
		})
		return
	}

	span.SetAttributes(attribute.Bool("license.valid", true))
	respond(w, r, http.StatusOK, "license valid", ValidateResult{Valid: true, LicenseData: data})
}

// Activate handles POST /activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := h.tracer.Start(ctx, "license_handler.activate",
		trace.WithAttributes(attribute.String("http.route", "/activate")))
	defer span.End()

	var req ActivateRequest
	if apiErr := h.decodeAndValidate(r, &req); apiErr != nil {
		respondAPIError(w, r, apiErr, nil)
		return
	}

	err := h.service.Activate(ctx, req.LicenseKey, req.HardwareID, req.Domain, req.Version, callerInfo(r))
	if err != nil {
		h.respondLicenseError(w, r, span, err, func(kind string) interface{} {
			return OperationResult{Success: false, Message: err.Error(), Error: kind}
		})
		return
	}

	respond(w, r, http.StatusOK, "license activated",
		OperationResult{Success: true, Message: "license activated"})
}

// Deactivate handles POST /deactivate
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := h.tracer.Start(ctx, "license_handler.deactivate",
		trace.WithAttributes(attribute.String("http.route", "/deactivate")))
	defer span.End()

	var req DeactivateRequest
	if apiErr := h.decodeAndValidate(r, &req); apiErr != nil {
		respondAPIError(w, r, apiErr, nil)
		return
	}

	err := h.service.Deactivate(ctx, req.LicenseKey, req.HardwareID, callerInfo(r))
	if err != nil {
		h.respondLicenseError(w, r, span, err, func(kind string) interface{} {
			return OperationResult{Success: false, Message: err.Error(), Error: kind}
		})
		return
	}

	respond(w, r, http.StatusOK, "license deactivated",
		OperationResult{Success: true, Message: "license deactivated"})
}

// Heartbeat handles POST /heartbeat
func (h *LicenseHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ctx, span := h.tracer.Start(ctx, "license_handler.heartbeat",
		trace.WithAttributes(attribute.String("http.route", "/heartbeat")))
	defer span.End()

	var req HeartbeatRequest
	if apiErr := h.decodeAndValidate(r, &req); apiErr != nil {
		respondAPIError(w, r, apiErr, nil)
		return
	}

	err := h.service.Heartbeat(ctx, req.LicenseKey, req.HardwareID, req.Domain, req.Version, req.Performance, req.Usage, callerInfo(r))
	if err != nil {
		h.respondLicenseError(w, r, span, err, func(kind string) interface{} {
			return OperationResult{Success: false, Message: err.Error(), Error: kind}
		})
		return
	}

	respond(w, r, http.StatusOK, "heartbeat recorded",
		OperationResult{Success: true, Message: "heartbeat recorded"})
}

// Status handles GET /status/{license_key}
func (h *LicenseHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := chi.URLParam(r, "license_key")
	if key == "" {
		respondAPIError(w, r, licerrors.MissingParameters([]string{"license_key"}), nil)
		return
	}

	status, err := h.service.Status(ctx, key)
	if err != nil {
		if errors.Is(err, licerrors.ErrLicenseNotFound) {
			respondAPIError(w, r, licerrors.LicenseNotFound(), nil)
			return
		}
		h.respondInfraError(w, r, err)
		return
	}

	respond(w, r, http.StatusOK, "license status", status)
}

// Installations handles GET /installations
func (h *LicenseHandler) Installations(w http.ResponseWriter, r *http.Request) {
	installs, err := h.service.Installations(r.Context())
	if err != nil {
		h.respondInfraError(w, r, err)
		return
	}
	respond(w, r, http.StatusOK, "bound installations", installs)
}

// Analytics handles GET /analytics
func (h *LicenseHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	report := h.service.Analytics(r.Context())
	respond(w, r, http.StatusOK, "analytics report", report)
}

// respondLicenseError maps a domain error to the wire. Business-rule
// denials are expected outcomes and return 200 with a structured payload;
// only infrastructure failures surface as 5xx.
func (h *LicenseHandler) respondLicenseError(w http.ResponseWriter, r *http.Request, span trace.Span, err error, payload func(kind string) interface{}) {
	kind := licerrors.ClassifyLicenseError(err)
	span.SetAttributes(attribute.String("license.denial", kind))

	if licerrors.IsBusinessError(err) {
		respond(w, r, http.StatusOK, err.Error(), payload(kind))
		return
	}
	h.respondInfraError(w, r, err)
}

// respondInfraError reports an infrastructure failure without leaking
// internals to the caller.
func (h *LicenseHandler) respondInfraError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	h.logger.ErrorContext(ctx, "request failed",
		slog.String("trace_id", infrastructure.TraceIDFromContext(ctx)),
		slog.String("error", err.Error()))

	if errors.Is(err, licerrors.ErrStoreUnavailable) {
		respondAPIError(w, r, licerrors.StoreUnavailable(), nil)
		return
	}
	respondAPIError(w, r, licerrors.ErrInternalServer, nil)
}
