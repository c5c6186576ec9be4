package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"loci/application/services/cascade"
	"loci/application/services/content"
	"loci/application/services/ledger"
	"loci/interfaces/http/rest/handlers"
	"loci/interfaces/http/rest/middleware"
	pkgerrors "loci/pkg/errors"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Options configures the router. Every field except the services and the
// logger is optional.
type Options struct {
	Content *content.Service
	Ledger  *ledger.Service
	Cascade *cascade.Service
	Logger  *zap.Logger

	Auth        middleware.AuthConfig
	Admins      []string
	Limiter     middleware.Limiter
	LimitWindow time.Duration
	Observer    middleware.HTTPObserver
	Metrics     http.Handler
	Tracer      trace.Tracer
	CORSOrigins []string
	Debug       bool
	Ready       ReadinessCheck
}

// Router creates and configures the HTTP router
type Router struct {
	opts       Options
	errHandler *pkgerrors.ErrorHandler
	logger     *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(opts Options) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.LimitWindow == 0 {
		opts.LimitWindow = time.Minute
	}
	return &Router{
		opts:       opts,
		errHandler: pkgerrors.NewErrorHandler(logger, opts.Debug),
		logger:     logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() *chi.Mux {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(middleware.RequestIDHeader)
	router.Use(chimiddleware.RealIP)
	router.Use(rt.errHandler.Middleware)
	router.Use(middleware.Logger(rt.logger))
	if rt.opts.Observer != nil {
		router.Use(middleware.Metrics(rt.opts.Observer))
	}
	if rt.opts.Tracer != nil {
		router.Use(middleware.Tracing(rt.opts.Tracer))
	}
	if len(rt.opts.CORSOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   rt.opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", middleware.GuestSessionHeader},
			ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	router.Get("/health", rt.healthCheck)
	router.Get("/ready", rt.readinessCheck)
	if rt.opts.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", rt.opts.Metrics)
	}

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		rt.errHandler.Handle(w, r, pkgerrors.NewNotFoundError("route", r.URL.Path))
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		err := pkgerrors.NewValidationError("method not allowed")
		err.HTTPStatus = http.StatusMethodNotAllowed
		rt.errHandler.Handle(w, r, err)
	})

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(rt.opts.Auth, rt.errHandler, rt.logger))
		r.Use(middleware.RateLimit(rt.opts.Limiter, rt.opts.LimitWindow, rt.errHandler, rt.logger))

		users := handlers.NewUserHandler(rt.opts.Ledger, rt.opts.Content, rt.errHandler, rt.logger)
		r.Post("/users/me", users.Register)
		r.Put("/users/me/placement", users.SetPlacement)

		contentHandler := handlers.NewContentHandler(rt.opts.Content, rt.errHandler, rt.logger)
		cascadeHandler := handlers.NewCascadeHandler(rt.opts.Cascade, rt.errHandler, rt.logger)

		r.Route("/nexi", func(r chi.Router) {
			r.Post("/", contentHandler.CreateNexus)
			r.Delete("/{id}", cascadeHandler.DeleteNexus)
		})
		r.Route("/notebooks", func(r chi.Router) {
			r.Post("/", contentHandler.CreateNotebook)
			r.Delete("/{id}", cascadeHandler.DeleteNotebook)
		})
		r.Route("/tags", func(r chi.Router) {
			r.Post("/", contentHandler.CreateTag)
			r.Delete("/{id}", cascadeHandler.DeleteTag)
		})
		r.Route("/chunks", func(r chi.Router) {
			r.Post("/", contentHandler.CreateChunk)
			r.Delete("/{id}", cascadeHandler.DeleteChunk)
			r.Post("/{chunkID}/move", contentHandler.MoveChunk)
			r.Post("/{chunkID}/move-top", contentHandler.MoveChunkToTop)
			r.Post("/{chunkID}/move-bottom", contentHandler.MoveChunkToBottom)
		})
		r.Route("/chunk-connections", func(r chi.Router) {
			r.Post("/", contentHandler.CreateChunkConnection)
			r.Delete("/{id}", cascadeHandler.DeleteChunkConnection)
		})
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", contentHandler.CreateConversation)
			r.Delete("/{id}", cascadeHandler.DeleteConversation)
			r.Post("/{conversationID}/messages", contentHandler.AddMessage)
		})

		loci := handlers.NewLocusHandler(rt.opts.Content, rt.errHandler, rt.logger)
		r.Get("/loci/{locusID}/items", loci.ListItems)
		r.Put("/loci/{locusID}/items/order", loci.Reorder)
		r.Post("/content-items/{itemID}/move", loci.MoveItem)

		shards := handlers.NewLedgerHandler(rt.opts.Ledger, rt.errHandler, rt.logger)
		r.Route("/shards", func(r chi.Router) {
			r.Post("/debit", shards.Debit)
			r.Get("/summary", shards.Summary)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin(rt.opts.Admins, rt.errHandler))
			r.Post("/repair", cascadeHandler.Repair)
			r.Post("/shards/credit", shards.Credit)
		})
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// readinessCheck runs the configured dependency check.
func (rt *Router) readinessCheck(w http.ResponseWriter, r *http.Request) {
	if rt.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := rt.opts.Ready(ctx); err != nil {
			rt.logger.Warn("Readiness check failed", zap.Error(err))
			rt.errHandler.Handle(w, r, pkgerrors.NewUnavailableError("storage").WithCause(err))
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}
