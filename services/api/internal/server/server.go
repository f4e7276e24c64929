package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"bookie/internal/ratelimit"
	"bookie/internal/util"
	"bookie/pkg/auth"
	"bookie/pkg/domain"
	"bookie/services/api/internal/app"
	"bookie/services/api/internal/hub"
)

const defaultMaxAvatarBytes = 5 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                        *app.App
	Hub                        *hub.Hub
	Redis                      redis.UniversalClient
	AllowedOrigins             []string
	TrustedProxies             []string
	SignupRateLimitPerMinute   int
	LoginRateLimitPerMinute    int
	RefreshRateLimitPerMinute  int
	PasswordRateLimitPerMinute int
	AIChatRateLimitPerMinute   int
	MaxAvatarBytes             int64
	Logger                     *slog.Logger
}

// Server exposes the HTTP API.
type Server struct {
	app            *app.App
	hub            *hub.Hub
	router         chi.Router
	logger         *slog.Logger
	allowedOrigins []string
	trustedProxies *util.TrustedProxies
	maxAvatarBytes int64

	signupLimiter   ratelimit.Limiter
	loginLimiter    ratelimit.Limiter
	refreshLimiter  ratelimit.Limiter
	passwordLimiter ratelimit.Limiter
	aiChatLimiter   ratelimit.Limiter
}

// New constructs the server with routes configured. Rate limiters are shared
// through Redis when a client is given and per-process otherwise.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	if cfg.Hub == nil {
		return nil, errors.New("realtime hub is required")
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	newLimiter := func(name string, limit, fallback int) (ratelimit.Limiter, error) {
		if limit <= 0 {
			limit = fallback
		}
		var (
			limiter ratelimit.Limiter
			err     error
		)
		if cfg.Redis != nil {
			limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.Redis, "bookie:api:ratelimit:"+name, limit, time.Minute)
		} else {
			limiter, err = ratelimit.NewMemoryLimiter(limit, time.Minute)
		}
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		app:            cfg.App,
		hub:            cfg.Hub,
		logger:         logger,
		allowedOrigins: cfg.AllowedOrigins,
		trustedProxies: trusted,
		maxAvatarBytes: cfg.MaxAvatarBytes,
	}
	if s.maxAvatarBytes <= 0 {
		s.maxAvatarBytes = defaultMaxAvatarBytes
	}
	if s.signupLimiter, err = newLimiter("signup", cfg.SignupRateLimitPerMinute, 5); err != nil {
		return nil, err
	}
	if s.loginLimiter, err = newLimiter("login", cfg.LoginRateLimitPerMinute, 10); err != nil {
		return nil, err
	}
	if s.refreshLimiter, err = newLimiter("refresh", cfg.RefreshRateLimitPerMinute, 20); err != nil {
		return nil, err
	}
	if s.passwordLimiter, err = newLimiter("password", cfg.PasswordRateLimitPerMinute, 10); err != nil {
		return nil, err
	}
	if s.aiChatLimiter, err = newLimiter("ai_chat", cfg.AIChatRateLimitPerMinute, 20); err != nil {
		return nil, err
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the shared middleware chain.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.router
	h = util.WithCORS(s.allowedOrigins, h)
	h = util.WithSecurityHeaders(h)
	h = util.WithRequestLog("api", h)
	h = util.WithRequestID(h)
	return otelhttp.NewHandler(h, "bookie-api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Get("/healthz", s.handleHealth)

	// JSON routes get a request timeout; streaming ones must not.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Post("/api/auth/signup", s.handleSignup)
		r.Post("/api/auth/login", s.handleLogin)
		r.Post("/api/auth/refresh", s.handleRefresh)
		r.Post("/api/auth/logout", s.handleLogout)

		r.Get("/api/me", s.authenticated(s.handleMe))
		r.Patch("/api/me", s.authenticated(s.handleUpdateMe))
		r.Delete("/api/me", s.authenticated(s.handleDeactivateMe))
		r.Post("/api/me/password", s.authenticated(s.handleChangePassword))
		r.Post("/api/me/avatar", s.authenticated(s.handleUploadAvatar))

		r.Get("/api/users", s.authenticated(s.handleListUsers))
		r.Get("/api/users/{id}", s.authenticated(s.handleUserProfile))
		r.Get("/api/users/{id}/events", s.authenticated(s.handleUserEvents))

		r.Get("/api/books/search", s.authenticated(s.handleSearchBooks))
		r.Get("/api/me/library", s.authenticated(s.handleLibrary))
		r.Post("/api/me/library", s.authenticated(s.handleAddToLibrary))
		r.Delete("/api/me/library/{isbn}", s.authenticated(s.handleRemoveFromLibrary))
		r.Get("/api/me/top3", s.authenticated(s.handleTop3))
		r.Put("/api/me/top3", s.authenticated(s.handleReplaceTop3))

		r.Get("/api/events", s.authenticated(s.handleListEvents))
		r.Post("/api/events", s.authenticated(s.handleCreateEvent))
		r.Delete("/api/events/{id}", s.authenticated(s.handleDeleteEvent))
		r.Post("/api/events/{id}/signup", s.authenticated(s.handleEventSignup))
		r.Delete("/api/events/{id}/signup", s.authenticated(s.handleEventUnsignup))
		r.Get("/api/events/{id}/users", s.authenticated(s.handleEventUsers))

		r.Post("/api/chat/create-or-join-channel-by-isbn", s.authenticated(s.handleCreateOrJoinByISBN))
		r.Post("/api/chat/create-or-join-channel", s.authenticated(s.handleCreateOrJoinByTitle))
		r.Post("/api/chat/join-channel/{id}", s.authenticated(s.handleJoinChannel))
		r.Post("/api/chat/leave-channel/{id}", s.authenticated(s.handleLeaveChannel))
		r.Get("/api/chat/channels/{id}", s.authenticated(s.handleChannelDetail))
		r.Delete("/api/chat/channels/{id}", s.authenticated(s.handleDeleteChannel))
		r.Get("/api/chat/public-channels", s.authenticated(s.handlePublicChannels))
		r.Get("/api/chat/my-channels", s.authenticated(s.handleMyChannels))

		r.Get("/api/ai-chat/random-book", s.authenticated(s.handleRandomBook))
	})

	r.Group(func(r chi.Router) {
		r.Post("/api/ai-chat", s.authenticated(s.handleAIChat))
		r.Get("/api/realtime", s.handleRealtime)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "recurso no encontrado")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "método no permitido")
	})
	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "api.authorize", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "no autorizado")
			return
		}
		user, ok := s.app.UserFromToken(token)
		if !ok {
			s.audit(r, "api.authorize", "fail", "reason", "invalid_token")
			writeError(w, http.StatusUnauthorized, "no autorizado")
			return
		}
		next(w, r, user)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", s.clientIP(r),
		"request_id", util.RequestIDFromRequest(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		s.logger.Info("security_event", logAttrs...)
		return
	}
	s.logger.Warn("security_event", logAttrs...)
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trustedProxies)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter ratelimit.Limiter, msg string) bool {
	key := r.URL.Path + "|" + s.clientIP(r)
	if limiter.Allow(r.Context(), key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

var errorStatuses = []struct {
	err    error
	status int
}{
	{app.ErrUsernameRequired, http.StatusBadRequest},
	{app.ErrInvalidUsername, http.StatusBadRequest},
	{app.ErrEmailRequired, http.StatusBadRequest},
	{app.ErrPasswordRequired, http.StatusBadRequest},
	{auth.ErrPasswordTooShort, http.StatusBadRequest},
	{auth.ErrPasswordTooLong, http.StatusBadRequest},
	{auth.ErrPasswordWeak, http.StatusBadRequest},
	{app.ErrRefreshTokenRequired, http.StatusBadRequest},
	{app.ErrAboutTooLong, http.StatusBadRequest},
	{app.ErrTooManyGenres, http.StatusBadRequest},
	{app.ErrUnsupportedImage, http.StatusBadRequest},
	{app.ErrISBNRequired, http.StatusBadRequest},
	{app.ErrTitleRequired, http.StatusBadRequest},
	{app.ErrInvalidTop3, http.StatusBadRequest},
	{app.ErrTop3NotInLibrary, http.StatusBadRequest},
	{app.ErrEventFieldMissing, http.StatusBadRequest},
	{app.ErrInvalidEventDate, http.StatusBadRequest},
	{app.ErrInvalidEventTime, http.StatusBadRequest},
	{app.ErrMessageRequired, http.StatusBadRequest},
	{app.ErrMessageTooLong, http.StatusBadRequest},
	{app.ErrInvalidCredentials, http.StatusUnauthorized},
	{app.ErrInvalidRefreshToken, http.StatusUnauthorized},
	{app.ErrUserDisabled, http.StatusForbidden},
	{app.ErrNotEventCreator, http.StatusForbidden},
	{app.ErrNotChannelCreator, http.StatusForbidden},
	{app.ErrUserNotFound, http.StatusNotFound},
	{app.ErrBookNotInLibrary, http.StatusNotFound},
	{app.ErrEventNotFound, http.StatusNotFound},
	{app.ErrChannelNotFound, http.StatusNotFound},
	{app.ErrNoRandomBook, http.StatusNotFound},
	{app.ErrEmailAlreadyExists, http.StatusConflict},
	{app.ErrUsernameTaken, http.StatusConflict},
	{app.ErrAlreadySignedUp, http.StatusConflict},
	{app.ErrNotSignedUp, http.StatusConflict},
	{app.ErrNotChannelMember, http.StatusConflict},
	{app.ErrCatalogUnavailable, http.StatusBadGateway},
	{app.ErrStorageUnavailable, http.StatusServiceUnavailable},
}

// writeAppError maps application errors to statuses. Unknown errors are
// logged and reported as 500 without details.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			writeError(w, e.status, e.err.Error())
			return
		}
	}
	util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "error interno del servidor")
}
