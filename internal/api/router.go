package api

import (
	"net/http"
	"time"

	"cdr.dev/slog"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"minder/internal/api/handlers"
	"minder/internal/api/middleware"
	"minder/internal/config"
	"minder/internal/ledger"
	"minder/internal/unlock"
)

// Router sets up all HTTP routes
type Router struct {
	config   *config.Config
	ledger   *ledger.Service
	unlock   *unlock.Service
	log      slog.Logger
	registry *prometheus.Registry
}

// NewRouter creates a new Router
func NewRouter(
	cfg *config.Config,
	ledgerSvc *ledger.Service,
	unlockSvc *unlock.Service,
	log slog.Logger,
	registry *prometheus.Registry,
) *Router {
	return &Router{
		config:   cfg,
		ledger:   ledgerSvc,
		unlock:   unlockSvc,
		log:      log,
		registry: registry,
	}
}

// Setup registers all routes
func (r *Router) Setup() http.Handler {
	broadcaster := handlers.NewBroadcaster()
	metrics := handlers.NewMetrics(r.registry)

	usersHandler := handlers.NewUsersHandler(r.ledger, broadcaster)
	usageHandler := handlers.NewUsageHandler(r.ledger, broadcaster, metrics)
	unlockHandler := handlers.NewUnlockHandler(r.unlock, r.ledger, broadcaster, metrics, !r.config.Production)
	watchHandler := handlers.NewWatchHandler(r.ledger, broadcaster, r.log)

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)

	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		handlers.JSON(w, http.StatusOK, map[string]interface{}{"success": true})
	})
	mux.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))

	// The watch websocket stays outside the logging wrapper: the
	// upgrade needs the raw ResponseWriter to hijack the connection.
	mux.Get("/api/v1/watch", watchHandler.HandleWatch)

	mux.Group(func(g chi.Router) {
		g.Use(middleware.Logger(r.log))
		g.Use(httprate.Limit(
			r.config.RateLimit.RequestsPerMinute,
			time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(rateLimited),
		))

		g.Post("/api/v1/init", usersHandler.HandleInit)
		g.Post("/api/v1/email", usersHandler.HandleEmail)
		g.Post("/api/v1/rules", usersHandler.HandleRules)
		g.Post("/api/v1/heartbeat", usageHandler.HandleHeartbeat)
		g.Post("/api/v1/config", usageHandler.HandleConfig)

		g.Group(func(u chi.Router) {
			u.Use(httprate.Limit(
				r.config.RateLimit.UnlockPerMinute,
				time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(rateLimited),
			))
			u.Post("/api/v1/unlock/request", unlockHandler.HandleRequest)
			u.Post("/api/v1/unlock/verify", unlockHandler.HandleVerify)
		})
	})

	return mux
}

// rateLimited writes the throttle envelope clients key their backoff on.
func rateLimited(w http.ResponseWriter, _ *http.Request) {
	handlers.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
}
