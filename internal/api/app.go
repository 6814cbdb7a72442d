package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-listsync/internal/auth"
	"github.com/npezzotti/go-listsync/internal/chat"
	"github.com/npezzotti/go-listsync/internal/config"
	"github.com/npezzotti/go-listsync/internal/database"
	"github.com/npezzotti/go-listsync/internal/ratelimit"
	"github.com/npezzotti/go-listsync/internal/server"
	"github.com/npezzotti/go-listsync/internal/votes"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type App struct {
	log            zerolog.Logger
	repo           database.ChatRepository
	hub            *server.Hub
	chat           *chat.Controller
	unread         *chat.Counter
	votes          *votes.Tally
	verifier       auth.Verifier
	limiter        *ratelimit.Limiter
	idem           *ratelimit.Idempotency
	allowedOrigins []string
	handler        http.Handler
	srv            *http.Server
}

type Option func(*App)

// WithRateLimit throttles message sends per user.
func WithRateLimit(l *ratelimit.Limiter) Option {
	return func(a *App) { a.limiter = l }
}

// WithIdempotency rejects replays of requests carrying a seen
// Idempotency-Key header.
func WithIdempotency(i *ratelimit.Idempotency) Option {
	return func(a *App) { a.idem = i }
}

func NewApp(mux *http.ServeMux, logger zerolog.Logger, repo database.ChatRepository, hub *server.Hub,
	ctrl *chat.Controller, counter *chat.Counter, tally *votes.Tally, verifier auth.Verifier,
	cfg *config.Config, opts ...Option) *App {
	s := &App{
		log:            logger.With().Str("component", "api").Logger(),
		repo:           repo,
		hub:            hub,
		chat:           ctrl,
		unread:         counter,
		votes:          tally,
		verifier:       verifier,
		allowedOrigins: cfg.AllowedOrigins,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/messages/{kind}/{id}", s.authMiddleware(s.rateLimit("send", s.sendMessage)))
	mux.HandleFunc("GET /api/messages/{kind}/{id}", s.authMiddleware(s.getMessages))
	mux.HandleFunc("PUT /api/messages/read/{kind}/{id}", s.authMiddleware(s.markRead))
	mux.HandleFunc("DELETE /api/messages/{id}", s.authMiddleware(s.deleteForMe))
	mux.HandleFunc("DELETE /api/messages/all/{id}", s.authMiddleware(s.deleteForEveryone))
	mux.HandleFunc("GET /api/messages/unread", s.authMiddleware(s.getUnread))
	mux.HandleFunc("GET /api/messages/unread/list/{listId}", s.authMiddleware(s.getListUnread))
	mux.HandleFunc("GET /api/messages/unread/item/{itemId}", s.authMiddleware(s.getItemUnread))
	mux.HandleFunc("POST /api/votes/vote", s.authMiddleware(s.castVote))
	mux.HandleFunc("GET /api/votes/item/{itemId}", s.authMiddleware(s.getVotes))
	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization", idempotencyHeader}),
		handlers.AllowCredentials(),
	)(mux)

	h = handlers.CombinedLoggingHandler(logger.With().Str("component", "access").Logger(), h)
	h = s.errorHandler(h)
	s.handler = otelhttp.NewHandler(h, "listsync")

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: s.handler,
	}

	return s
}

func (s *App) Handler() http.Handler {
	return s.handler
}

func (s *App) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting server")
	return s.srv.ListenAndServe()
}

func (s *App) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
