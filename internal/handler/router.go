package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"food-auth-service/internal/metrics"
	"food-auth-service/internal/service"
)

const serviceName = "food-auth-service"

// RouterOptions carries everything the router mounts.
type RouterOptions struct {
	Auth    *service.AuthService
	Metrics *metrics.Metrics
	Logger  *zap.Logger

	// Ready runs the dependency health checks behind /ready. Nil means always ready.
	Ready func(ctx context.Context) error

	RequireTLS      bool
	AllowedOrigins  []string
	OTPPerMinute    int
	VerifyPerMinute int
	RequestTimeout  time.Duration
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(opts RouterOptions) chi.Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	allowed := opts.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"https://*"}
	}

	router := chi.NewRouter()

	if opts.RequireTLS {
		router.Use(requireHTTPS)
	}

	// Middleware stack
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(MetricsMiddleware(opts.Metrics))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(timeout))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": serviceName})
	})

	router.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if opts.Ready != nil {
			if err := opts.Ready(r.Context()); err != nil {
				logger.Warn("Readiness check failed", zap.Error(err))
				respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	router.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())

	authHandler := NewAuthHandler(opts.Auth, logger.Named("auth_handler"))
	userHandler := NewUserHandler(opts.Auth, logger.Named("user_handler"))

	router.Route("/api/v1", func(r chi.Router) {
		authHandler.RegisterPublicRoutes(r, perIP(opts.OTPPerMinute), perIP(opts.VerifyPerMinute))

		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(opts.Auth, logger))
			authHandler.RegisterProtectedRoutes(r)
			userHandler.RegisterRoutes(r)
		})
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondWithError(w, http.StatusNotFound, "endpoint not found")
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return router
}

// perIP limits a route per client address; zero disables it.
func perIP(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return nil
	}
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			respondWithError(w, http.StatusTooManyRequests, msgRateLimited)
		}),
	)
}
