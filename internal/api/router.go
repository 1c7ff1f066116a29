package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/langly/internal/api/handler"
	customMiddleware "github.com/Rrens/langly/internal/api/middleware"
	"github.com/Rrens/langly/internal/assistant"
	"github.com/Rrens/langly/internal/assistant/gemini"
	"github.com/Rrens/langly/internal/assistant/ollama"
	"github.com/Rrens/langly/internal/config"
	"github.com/Rrens/langly/internal/domain"
	"github.com/Rrens/langly/internal/repository/redis"
	"github.com/Rrens/langly/internal/security"
	"github.com/Rrens/langly/internal/service"
)

// Dependencies are the storage and optional collaborators of the router
type Dependencies struct {
	Sessions domain.SessionRepository
	Messages domain.MessageRepository
	DB       handler.Pinger
	// Redis enables history caching and rate limiting when non-nil
	Redis *redis.Client
	// Assistants overrides the providers built from configuration
	Assistants *assistant.Router
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, deps Dependencies) (http.Handler, error) {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize security components
	jwtManager := security.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	authService, err := service.NewAuthService(cfg.Auth.Password, cfg.Auth.PasswordHash, jwtManager)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	// Redis-backed cache and limiter are optional
	var (
		historyCache service.HistoryCache
		flusher      handler.CacheFlusher
		limiter      customMiddleware.Limiter
	)
	if deps.Redis != nil {
		cache := redis.NewHistoryCache(deps.Redis)
		historyCache, flusher = cache, cache
		limiter = redis.NewRateLimiter(
			deps.Redis,
			cfg.Security.RateLimit.RequestsPerMinute,
			cfg.Security.RateLimit.Burst,
		)
	} else {
		log.Info().Msg("Redis disabled: no history cache, no rate limiting")
	}

	assistants := deps.Assistants
	if assistants == nil {
		assistants = NewAssistantRouter(cfg.Assistant)
	}

	// Initialize services
	chatService := service.NewChatService(deps.Sessions, deps.Messages, historyCache)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(authService)
	sessionHandler := handler.NewSessionHandler(chatService)
	socketHandler := handler.NewSocketHandler(authService, assistants, limiter, cfg.Assistant.Timeout, cfg.Assistant.SystemPrompt)
	chatHandler := handler.NewChatHandler(assistants, cfg.Assistant.Timeout, cfg.Assistant.SystemPrompt)

	authMiddleware := customMiddleware.NewAuthMiddleware(authService)
	rateLimitMiddleware := customMiddleware.NewRateLimitMiddleware(limiter)

	r.Route("/api", func(r chi.Router) {
		// The socket lives outside the request timeout
		r.Get("/socket", socketHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			if cfg.Server.MiddlewareTimeout > 0 {
				r.Use(middleware.Timeout(cfg.Server.MiddlewareTimeout))
			}

			r.Get("/health", handler.HealthCheck)
			r.Get("/ready", handler.ReadyCheck(deps.DB))

			r.Post("/auth/login", authHandler.Login)

			// Protected routes
			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.Authenticate)
				r.Use(rateLimitMiddleware.Limit)

				r.Get("/auth/verify", authHandler.Verify)
				r.Get("/assistant/providers", handler.ListProviders(assistants))
				if flusher != nil {
					r.Post("/cache/flush", handler.FlushCache(flusher))
				}

				r.Post("/chat", chatHandler.Ask)

				r.Route("/chat/sessions", func(r chi.Router) {
					r.Get("/", sessionHandler.List)
					r.Post("/", sessionHandler.Create)

					r.Route("/{sessionID}", func(r chi.Router) {
						r.Patch("/", sessionHandler.Rename)
						r.Delete("/", sessionHandler.Delete)
						r.Get("/messages", sessionHandler.ListMessages)
						r.Post("/messages", sessionHandler.SaveMessage)
					})
				})
			})
		})
	})

	return r, nil
}

// NewAssistantRouter registers the configured assistant providers
func NewAssistantRouter(cfg config.AssistantConfig) *assistant.Router {
	router := assistant.NewRouter(cfg.DefaultProvider)
	tools := assistant.NewToolbox(assistant.ClockTool{})

	log.Info().Msgf("Initializing assistant providers. Default: %s", cfg.DefaultProvider)

	if cfg.Ollama.Host != "" {
		log.Info().Str("host", cfg.Ollama.Host).Msg("Registering Ollama provider")
		router.RegisterProvider(ollama.NewProvider(cfg.Ollama, tools))
	}
	if cfg.Gemini.APIKey != "" {
		log.Info().Int("key_len", len(cfg.Gemini.APIKey)).Msg("Registering Gemini provider")
		router.RegisterProvider(gemini.NewProvider(cfg.Gemini, tools))
	} else {
		log.Warn().Msg("Gemini API Key is empty, skipping registration")
	}

	return router
}
