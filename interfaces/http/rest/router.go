package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"signals-backend/application/commands/bus"
	querybus "signals-backend/application/queries/bus"
	"signals-backend/interfaces/http/rest/handlers"
	"signals-backend/interfaces/http/rest/middleware"
	"signals-backend/pkg/auth"
	"signals-backend/pkg/errors"
	"signals-backend/pkg/observability"
)

// Router creates and configures the HTTP router
type Router struct {
	commands       *bus.CommandBus
	queries        *querybus.QueryBus
	validator      middleware.TokenValidator
	limiter        *auth.KeyedLimiter
	collector      *observability.Collector
	allowedOrigins []string
	logger         *zap.Logger
	errorHandler   *errors.ErrorHandler
}

// NewRouter creates a new router instance. limiter and collector may be nil.
func NewRouter(
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	validator middleware.TokenValidator,
	limiter *auth.KeyedLimiter,
	collector *observability.Collector,
	allowedOrigins []string,
	logger *zap.Logger,
	errorHandler *errors.ErrorHandler,
) *Router {
	return &Router{
		commands:       commandBus,
		queries:        queryBus,
		validator:      validator,
		limiter:        limiter,
		collector:      collector,
		allowedOrigins: allowedOrigins,
		logger:         logger,
		errorHandler:   errorHandler,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	// Global middleware
	router.Use(chimiddleware.RequestID)
	router.Use(middleware.RequestIDHeader)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))
	if rt.collector != nil {
		router.Use(middleware.Metrics(rt.collector))
	}

	if len(rt.allowedOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   rt.allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	router.Get("/health", rt.healthCheck)
	if rt.collector != nil {
		router.Method(http.MethodGet, "/metrics", rt.collector.Handler())
	}

	h := handlers.NewOrchestrationHandler(rt.commands, rt.queries, rt.logger, rt.errorHandler)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(rt.validator, rt.errorHandler, rt.logger))

		r.Get("/realm/llm-settings", h.GetLLMSettings)
		r.Put("/realm/llm-settings", h.UpdateLLMSettings)

		r.Get("/subjects/{kind}/{id}/reflections", h.ListReflections)
		r.Get("/subjects/{kind}/{id}/syntheses", h.ListSyntheses)

		// Routes that reach an AI provider or mutate state are rate limited per realm.
		r.Group(func(r chi.Router) {
			if rt.limiter != nil {
				r.Use(middleware.RealmRateLimit(rt.limiter, rt.errorHandler))
			}
			r.Post("/signals/{signalID}/analysis", h.RunAnalysis)
			r.Post("/subjects/{kind}/{id}/reflections", h.RunReflection)
			r.Post("/subjects/{kind}/{id}/syntheses", h.RunSynthesis)
			r.Post("/clusters/{clusterID}/members", h.AttachCluster)
			r.Delete("/clusters/{clusterID}/parent", h.DetachCluster)
			r.Post("/reflections/{reflectionID}/annotations", h.AnnotateReflection)
		})
	})

	return router
}

func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}
