package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/side/eventful/internal/http/features/verification"
	"github.com/side/eventful/internal/http/middleware"
	"github.com/side/eventful/internal/httputil"
)

// DefaultMaxBodySize caps request bodies; verification payloads are a
// few hundred bytes at most.
const DefaultMaxBodySize = 16 * 1024

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger           *slog.Logger
	CodeService      verification.CodeService
	GrantService     verification.GrantService
	IPRequestsPerMin int
	MaxBodySize      int64
}

// NewRouter creates the HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}

	r := chi.NewRouter()

	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.RequestSizeLimit(cfg.MaxBodySize))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	ipLimit := middleware.NoRateLimit()
	if cfg.IPRequestsPerMin > 0 {
		ipLimit = middleware.RateLimit(middleware.RateLimitConfig{
			Requests: cfg.IPRequestsPerMin,
			Window:   time.Minute,
			Logger:   cfg.Logger,
		})
	}

	handler := verification.NewHandler(cfg.Logger, cfg.CodeService, cfg.GrantService)
	r.Group(func(r chi.Router) {
		r.Use(ipLimit)
		r.Post("/v1/verification/request", handler.RequestCode)
		r.Post("/v1/verification/redeem", handler.Redeem)
	})
	r.Post("/v1/grants/validate", handler.ValidateGrant)
	r.Post("/v1/grants/revoke", handler.RevokeGrant)

	return r
}
