package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"pairchat/internal/config"
	"pairchat/internal/domain"
	"pairchat/internal/presence"
	"pairchat/internal/service"
	"pairchat/internal/ws"

	_ "pairchat/docs"
)

// Deps are the services the router exposes.
type Deps struct {
	Config        *config.Config
	Logger        *zap.Logger
	Registry      *presence.Registry
	Auth          *service.AuthService
	Users         *service.UserService
	Conversations *service.ConversationService
	Messages      *service.MessageService
}

// NewRouter constructs the main HTTP router and wires routes and middleware.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	cfg := d.Config

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(d.Logger))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": cfg.AppName,
			"version": "1.0.0",
			"docs":    "/docs",
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "healthy",
			"online": d.Registry.Len(),
		})
	})

	// Swagger documentation
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/doc.json"), //The url pointing to API definition
	))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Request timeouts apply to the REST surface only; /ws is long-lived.
		r.Use(middleware.Timeout(60 * time.Second))

		// Auth routes (no auth required)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", handleRegister(d.Auth, d.Logger))
			r.Post("/login", handleLogin(d.Auth, d.Logger))
		})

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(d.Auth, d.Logger))

			r.Get("/auth/me", handleMe())

			r.Route("/users", func(r chi.Router) {
				r.Get("/discover", handleDiscover(d.Users, d.Registry, d.Logger))
				r.Get("/online", handleListOnlineUsers(d.Registry))
				r.Get("/{userID}", handleGetUser(d.Users, d.Logger))
			})

			r.Route("/messages", func(r chi.Router) {
				r.Post("/", handleSendMessage(d.Messages, d.Logger))
				r.Get("/{userID}", handleMessagesBetween(d.Messages, d.Logger))
			})

			r.Route("/chats", func(r chi.Router) {
				r.Get("/recent", handleListRecent(d.Conversations, d.Logger))
				r.Get("/saved", handleListSaved(d.Conversations, d.Logger))
				r.Put("/save", handleSaveChat(d.Conversations, d.Logger))
				r.Put("/mark-as-read", handleMarkAsRead(d.Conversations, d.Logger))
				r.Get("/open/{userID}", handleOpenChat(d.Conversations, d.Logger))
			})
		})
	})

	// WebSocket endpoint
	r.Get("/ws", ws.MakeHandler(ws.Deps{
		Registry:       d.Registry,
		Auth:           d.Auth,
		Messages:       d.Messages,
		Conversations:  d.Conversations,
		AllowedOrigins: cfg.CORSOrigins,
		Logger:         d.Logger,
	}))

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps domain errors to status codes. Unclassified errors are
// logged and answered with a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var status int
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	default:
		logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body", domain.ErrInvalidInput)
	}
	return nil
}

func userIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid user id", domain.ErrInvalidInput)
	}
	return id, nil
}
