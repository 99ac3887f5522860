package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"licensegate/internal/config"
	licerrors "licensegate/internal/errors"
	custommw "licensegate/internal/middleware"
)

// RouterOptions carries the collaborators the router wires together
type RouterOptions struct {
	Handler        *LicenseHandler
	Logger         *slog.Logger
	Security       config.SecurityConfig
	MetricsHandler http.Handler // Prometheus scrape handler, optional
}

// NewRouter assembles the full server router: the cross-cutting
// middleware chain, the license protocol endpoints at the root, and the
// operational endpoints.
func NewRouter(opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	r.Use(custommw.RequestID)
	r.Use(custommw.RealIP)
	r.Use(custommw.StructuredLogger(opts.Logger))
	r.Use(custommw.Recoverer(opts.Logger))
	r.Use(custommw.SecurityHeaders)
	if opts.Security.EnableCORS {
		r.Use(custommw.CORS(custommw.CORSConfig{
			AllowedOrigins: opts.Security.AllowedOrigins,
			Logger:         opts.Logger,
		}))
	}
	r.Use(custommw.Compress(5))

	if opts.Security.RateLimit.Enabled {
		limiter := custommw.NewRateLimiter(opts.Security.RateLimit.RPS, opts.Security.RateLimit.Burst, opts.Logger)
		r.Use(limiter.Handler)
	}

	// Unknown routes and wrong methods still answer in the envelope
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		respondAPIError(w, req, licerrors.ErrRouteNotFound, nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		respondAPIError(w, req, licerrors.ErrMethodNotAllowed, nil)
	})

	opts.Handler.RegisterRoutes(r)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		respond(w, req, http.StatusOK, "ok", nil)
	})
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}

	return r
}
