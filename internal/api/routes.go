// Route registration and go-chi router setup.
// Public routes (/health, /auth/*) vs JWT-protected routes (/api/v1/*).
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/planpilot/planpilot/internal/api/handlers"
	apmiddleware "github.com/planpilot/planpilot/internal/api/middleware"
	domainauth "github.com/planpilot/planpilot/internal/domain/auth"
	"github.com/planpilot/planpilot/internal/domain/chat"
	"github.com/planpilot/planpilot/internal/domain/plan"
	"github.com/planpilot/planpilot/internal/domain/settings"
	"github.com/planpilot/planpilot/internal/domain/usage"
	"github.com/planpilot/planpilot/internal/infra/config"
	"github.com/planpilot/planpilot/internal/infra/eventbus"
	"github.com/planpilot/planpilot/internal/infra/llm"
	"github.com/planpilot/planpilot/internal/infra/workitems"
)

// NewRouter creates and configures a new chi router with all routes.
func NewRouter(db *sql.DB, cfg config.Config, log *logrus.Logger) *chi.Mux {
	if log == nil {
		log = logrus.StandardLogger()
	}

	r := chi.NewRouter()

	// Global middleware (runs on all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// ===== PUBLIC ROUTES (no auth required) =====

	// Health check — unauthenticated, used by load balancers and health probes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
	})

	// Auth endpoints — public, no JWT required
	authHandler := handlers.NewAuthHandler(domainauth.NewAuthService(db, log))
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register) // POST /auth/register
		r.Post("/login", authHandler.Login)       // POST /auth/login
	})

	// ===== PROTECTED ROUTES (JWT required via AuthMiddleware) =====

	// All /api/v1/* routes require a valid Bearer JWT token.
	// AuthMiddleware validates the token and injects UserID + WorkspaceID into context.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apmiddleware.AuthMiddleware)
		r.Use(apmiddleware.RequestLogger(log))

		// Shared app services for protected APIs
		bus := eventbus.New()
		recorder := usage.NewRecorder(db, log)
		go recorder.Start(context.Background(), bus)

		settingsSvc := settings.NewService(db)
		orchestrator := chat.NewOrchestrator(nil, llm.FragmentBufferOptions{
			EmitThreshold: cfg.StreamEmitThreshold,
			FlushDelay:    time.Duration(cfg.StreamFlushDelayMS) * time.Millisecond,
			HardLimit:     cfg.StreamHardLimit,
		}, log)
		chatSvc := chat.NewService(settingsSvc, orchestrator, bus)
		itemsClient := workitems.NewClient(cfg.WorkItemsBaseURL, cfg.WorkItemsToken)
		planSvc := plan.NewService(settingsSvc, orchestrator, itemsClient)

		// LLM config endpoints
		configHandler := handlers.NewConfigHandler(settingsSvc)
		r.Route("/configs", func(r chi.Router) {
			r.Post("/", configHandler.CreateConfig)                 // POST /api/v1/configs
			r.Get("/", configHandler.ListConfigs)                   // GET /api/v1/configs
			r.Get("/{id}", configHandler.GetConfig)                 // GET /api/v1/configs/{id}
			r.Put("/{id}", configHandler.UpdateConfig)              // PUT /api/v1/configs/{id}
			r.Put("/{id}/default", configHandler.SetDefaultConfig)  // PUT /api/v1/configs/{id}/default
			r.Delete("/{id}", configHandler.DeleteConfig)           // DELETE /api/v1/configs/{id}
		})

		// Streaming chat endpoint
		chatHandler := handlers.NewChatHandler(chatSvc)
		r.Post("/chat/stream", chatHandler.Chat) // POST /api/v1/chat/stream

		// Plan generation endpoints
		planHandler := handlers.NewPlanHandler(planSvc)
		r.Route("/plan", func(r chi.Router) {
			r.Post("/generate", planHandler.GeneratePlan) // POST /api/v1/plan/generate
			r.Post("/apply", planHandler.ApplyPlan)       // POST /api/v1/plan/apply
		})

		// Usage endpoints
		usageHandler := handlers.NewUsageHandler(recorder)
		r.Route("/usage", func(r chi.Router) {
			r.Get("/", usageHandler.ListUsage)             // GET /api/v1/usage
			r.Get("/summary", usageHandler.SummarizeUsage) // GET /api/v1/usage/summary
		})
	})

	return r
}
