package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/redmonkez12/accountd/internal/auth"
	"github.com/redmonkez12/accountd/internal/config"
	"github.com/redmonkez12/accountd/internal/httputil"
	"github.com/redmonkez12/accountd/internal/logging"
)

// NewRouter creates and configures the HTTP router. metricsHandler may be nil.
func NewRouter(cfg *config.Config, authHandler *auth.Handler, authMiddleware *auth.Middleware, metricsHandler http.Handler, logger *logging.Logger) *chi.Mux {
	r := chi.NewRouter()

	// CORS - must be first
	if len(cfg.Server.TrustedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.Server.TrustedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           300, // 5 minutes
		}))
	}

	r.Use(SecurityHeaders(!cfg.Server.IsDevelopment()))
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	if cfg.Server.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Compress(5))

	r.Get("/health", handleHealth)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	// Production builds will not have this route at all
	if cfg.Server.IsDevelopment() {
		logger.Info("swagger UI enabled", "path", "/swagger/*")
		r.Get("/swagger/*", httpSwagger.WrapHandler)
	}

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/verify-email", authHandler.VerifyEmail)
		r.Post("/resend-code", authHandler.ResendCode)
		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.Post("/forgot-password", authHandler.ForgotPassword)
		r.Post("/reset-password/{token}", authHandler.ResetPassword)

		r.With(authMiddleware.RequireAuth).Get("/check-auth", authHandler.CheckAuth)
	})

	r.NotFound(httputil.NotFound)
	r.MethodNotAllowed(httputil.MethodNotAllowed)

	return r
}

// handleHealth is a simple health check endpoint
// @Summary      Health check
// @Description  Check if the API is running
// @Tags         health
// @Produce      json
// @Success      200 {object} map[string]string
// @Router       /health [get]
func handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, r, map[string]string{"status": "api is running"}, http.StatusOK)
}
