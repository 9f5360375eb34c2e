package api

import (
	"buildmysite-backend/internal/handlers"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterDependencies holds all the dependencies required by the router setup,
// primarily handlers and configuration.
type RouterDependencies struct {
	AuthHandler    *handlers.AuthHandler
	ProjectHandler *handlers.ProjectHandlers
	EventsHandler  *handlers.EventsHandler

	JWTSecret      string
	TrustedOrigins []string
	Logger         *zap.Logger
}

// requestTimeout bounds ordinary requests. Streaming routes (long-poll, websocket) are exempt.
const requestTimeout = 60 * time.Second

// NewRouter creates and configures the main Chi router for the application.
func NewRouter(deps RouterDependencies) *chi.Mux {
	if deps.AuthHandler == nil || deps.ProjectHandler == nil || deps.EventsHandler == nil {
		panic("handler dependency is nil in router setup")
	}

	r := chi.NewRouter()

	// --- Base Middleware Stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer)

	// --- CORS Configuration ---
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.TrustedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Requested-With"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	// --- Public Routes (No JWT Required) ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.With(middleware.Timeout(requestTimeout)).Get("/sites/{projectID}", deps.ProjectHandler.HandlePublishedSite)

	r.Route("/v1/auth", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Post("/signup", deps.AuthHandler.HandleSignup)
		r.Post("/login", deps.AuthHandler.HandleLogin)
	})

	// --- Authenticated Routes (JWT Required) ---
	r.Route("/v1/projects", func(r chi.Router) {
		r.Use(JwtAuthMiddleware(deps.JWTSecret, deps.Logger))

		// Streaming routes hold the connection open beyond requestTimeout.
		r.Get("/{projectID}/wait", deps.ProjectHandler.HandleWait)
		r.Get("/{projectID}/events", deps.EventsHandler.HandleProjectEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Post("/", deps.ProjectHandler.HandleCreateProject)
			r.Get("/", deps.ProjectHandler.HandleListProjects)
			r.Get("/{projectID}", deps.ProjectHandler.HandleGetProject)
			r.Delete("/{projectID}", deps.ProjectHandler.HandleDeleteProject)

			r.Get("/{projectID}/timeline", deps.ProjectHandler.HandleGetTimeline)
			r.Post("/{projectID}/revisions", deps.ProjectHandler.HandleRequestRevision)
			r.Delete("/{projectID}/generation", deps.ProjectHandler.HandleDismissGeneration)
			r.Post("/{projectID}/rollback", deps.ProjectHandler.HandleRollback)
			r.Put("/{projectID}/code", deps.ProjectHandler.HandleSaveCode)
			r.Post("/{projectID}/publish", deps.ProjectHandler.HandleTogglePublish)
			r.Get("/{projectID}/versions/{versionID}", deps.ProjectHandler.HandleGetVersion)
		})
	})

	return r
}
