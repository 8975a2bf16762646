package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nexocrm/authsvc/internal/auth"
	"github.com/nexocrm/authsvc/internal/handlers"
	"github.com/nexocrm/authsvc/internal/services"
	"github.com/rs/zerolog/log"
)

const requestTimeout = 60 * time.Second

// Deps are the collaborators the HTTP layer is built from. Avatars and
// Health may be nil.
type Deps struct {
	Auth           *services.AuthService
	Users          *services.UserService
	Roles          *services.RoleService
	Avatars        *services.AvatarService
	Tokens         *auth.TokenManager
	Health         handlers.Pinger
	AllowedOrigins []string
}

// NewRouter builds the chi router serving /healthz and the /api tree.
func NewRouter(deps Deps) *chi.Mux {
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		accessLog,
		middleware.Timeout(requestTimeout),
		cors.Handler(cors.Options{
			AllowedOrigins:   deps.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: false,
			MaxAge:           300,
		}),
	)

	guard := handlers.NewGuard(deps.Tokens)

	var avatarHandler *handlers.AvatarHandler
	if deps.Avatars != nil {
		avatarHandler = handlers.NewAvatarHandler(deps.Avatars)
	}

	router.Get("/healthz", handlers.Healthz(deps.Health))
	router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			handlers.AuthRouter(r, handlers.NewAuthHandler(deps.Auth))
		})
		r.Route("/users", func(r chi.Router) {
			handlers.UserRouter(r, guard, handlers.NewUserHandler(deps.Users), avatarHandler)
		})
		r.Route("/roles", func(r chi.Router) {
			handlers.RoleRouter(r, guard, handlers.NewRoleHandler(deps.Roles))
		})
	})
	return router
}

// accessLog writes one zerolog line per request.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			event := log.Info()
			if status >= http.StatusInternalServerError {
				event = log.Error()
			}
			event.
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_ip", r.RemoteAddr).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("latency", time.Since(start)).
				Msg("request")
		}()
		next.ServeHTTP(ww, r)
	})
}
