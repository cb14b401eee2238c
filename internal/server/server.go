package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"teamchat/internal/auth"
	"teamchat/internal/chat"
	"teamchat/internal/fanout"
)

const shutdownTimeout = 10 * time.Second

// Services are the chat components exposed over HTTP
type Services struct {
	Accounts   *chat.Accounts
	Membership *chat.Membership
	Messages   *chat.Messages
	Presence   *chat.Presence
	Hub        *fanout.Hub
	Tokens     *auth.Tokens
}

// Server defines fields used in HTTP processing
type Server struct {
	logger        *zap.SugaredLogger
	httpServer    *http.Server
	hub           *fanout.Hub
	afterShutdown []func()
}

// NewServer returns new Server struct with provided zap.SugaredLogger and chat services
func NewServer(logger *zap.SugaredLogger, svc Services, opts ...Option) (*Server, error) {
	if svc.Accounts == nil || svc.Membership == nil || svc.Messages == nil ||
		svc.Presence == nil || svc.Hub == nil || svc.Tokens == nil {
		return nil, fmt.Errorf("server: all services must be provided")
	}

	cfg := &config{
		httpServer: &http.Server{Addr: ":5000"},
		timeoutMsg: `{"message":"Request timed out"}`,
	}
	for _, opt := range opts {
		opt.apply(cfg)
	}

	h := &handler{
		logger:       logger,
		accounts:     svc.Accounts,
		membership:   svc.Membership,
		messages:     svc.Messages,
		presence:     svc.Presence,
		hub:          svc.Hub,
		tokens:       svc.Tokens,
		cookieSecure: cfg.cookieSecure,
		checkOrigin:  originChecker(cfg.allowedOrigins),
	}

	cfg.httpServer.Handler = h.routes(logger.Desugar(), cfg)

	return &Server{
		logger:        logger,
		httpServer:    cfg.httpServer,
		hub:           svc.Hub,
		afterShutdown: cfg.afterShutdown,
	}, nil
}

func (h *handler) routes(logger *zap.Logger, cfg *config) http.Handler {
	r := chi.NewRouter()
	r.Use(logRequest(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.health)

	r.Route("/api", func(r chi.Router) {
		if cfg.timeout > 0 {
			r.Use(func(next http.Handler) http.Handler {
				return http.TimeoutHandler(next, cfg.timeout, cfg.timeoutMsg)
			})
		}

		r.With(enforcePOSTJSON).Post("/auth/register", h.register)
		r.With(enforcePOSTJSON).Post("/auth/login", h.login)
		r.Post("/auth/logout", h.logout)

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate)

			r.Get("/auth/me", h.me)

			r.Get("/channels", h.listChannels)
			r.With(enforcePOSTJSON).Post("/channels", h.createChannel)
			r.Post("/channels/{id}/join", h.joinChannel)
			r.Post("/channels/{id}/leave", h.leaveChannel)
			r.Get("/channels/{id}/messages", h.listMessages)
			r.With(enforcePOSTJSON).Post("/channels/{id}/messages", h.createMessage)

			r.Post("/presence/heartbeat", h.heartbeat)
			r.Get("/presence/online", h.onlineUsers)
			r.Get("/presence/users/{id}", h.userStatus)
		})
	})

	r.With(h.authenticate).Get("/ws", h.serveWS)

	return r
}

// Handler returns root http.Handler of the server
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start calls ListenAndServe on http.Server instance inside Server struct
// and implements graceful shutdown via goroutine waiting for signals
func (s *Server) Start() error {
	idleConnsClosed := make(chan struct{})

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		s.logger.Info("Shutting down HTTP server")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Errorf("srv.Shutdown: %v", err)
		}
		s.logger.Info("HTTP server is stopped")

		// hijacked websocket connections are not tracked by http.Server
		if err := s.hub.Shutdown(shutdownTimeout); err != nil {
			s.logger.Errorf("hub.Shutdown: %v", err)
		}
		s.logger.Info("Websocket hub is stopped")

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("s.httpServer.ListenAndServe: %v", err)
	}

	<-idleConnsClosed

	for _, f := range s.afterShutdown {
		f()
	}

	return nil
}
