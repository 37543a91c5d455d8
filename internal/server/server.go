package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eims-app/apiserver/config"
	"github.com/eims-app/apiserver/internal/auth"
	"github.com/eims-app/apiserver/internal/db"
	"github.com/eims-app/apiserver/internal/handlers"
	"github.com/eims-app/apiserver/internal/logger"
	"github.com/eims-app/apiserver/internal/mail"
	"github.com/eims-app/apiserver/internal/metrics"
	"github.com/eims-app/apiserver/internal/mq"
	"github.com/eims-app/apiserver/internal/ratelimit"
	"github.com/eims-app/apiserver/internal/services"
	"github.com/eims-app/apiserver/internal/storage"
	"github.com/eims-app/apiserver/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	shutdownTimeout  = 10 * time.Second
	rateLimitMessage = "Too many requests from this IP, please try again in an hour!"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	closers    []io.Closer
	log        zerolog.Logger
}

// Deps are the collaborators the router is built from.
type Deps struct {
	Auth    *services.AuthService
	Users   *services.UserService
	Photos  *storage.PhotoStore
	Limiter *ratelimit.Limiter
	Metrics *metrics.Metrics
	DB      handlers.Pinger
	BaseURL string
	// TrustProxy mounts RealIP so the limiter and access log see the
	// forwarded client address.
	TrustProxy bool
	Log        zerolog.Logger
}

// New connects every backing service named in cfg and builds the server.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{log: log}
	fail := func(err error) (*Server, error) {
		s.closeAll()
		return nil, err
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return fail(fmt.Errorf("open database: %w", err))
	}
	s.closers = append(s.closers, dbConn)

	m := metrics.New()

	mailer, err := s.newMailer(ctx, cfg)
	if err != nil {
		return fail(err)
	}

	var photos *storage.PhotoStore
	backend, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return fail(fmt.Errorf("open storage: %w", err))
	}
	if backend != nil {
		if c, ok := backend.(io.Closer); ok {
			s.closers = append(s.closers, c)
		}
		photos = storage.NewPhotoStore(backend)
	}

	var limiter *ratelimit.Limiter
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.closers = append(s.closers, rdb)
		limiter = ratelimit.NewLimiter(rdb, "api", cfg.Redis.RateLimit, cfg.Redis.Window)
	}

	users := services.NewUserService(store.NewUserRepository(dbConn), auth.NewBcryptHasher(cfg.Auth.BcryptCost))
	authService := services.NewAuthService(
		users,
		auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		mailer,
		cfg.Auth.ResetTokenTTL,
		services.WithMetrics(m),
		services.WithLogger(log),
	)

	s.router = NewRouter(Deps{
		Auth:       authService,
		Users:      users,
		Photos:     photos,
		Limiter:    limiter,
		Metrics:    m,
		DB:         dbConn,
		BaseURL:    cfg.BaseURL,
		TrustProxy: cfg.TrustProxy,
		Log:        log,
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func (s *Server) newMailer(ctx context.Context, cfg config.Config) (services.Mailer, error) {
	if cfg.Mail.Transport == "queue" {
		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, queue)
		return mail.NewQueueMailer(queue, cfg.Mail.Channel), nil
	}
	transport, err := mail.NewTransport(cfg.Mail.Transport, cfg.Mail)
	if err != nil {
		return nil, err
	}
	return mail.NewMailer(transport, cfg.Auth.ResetTokenTTL), nil
}

// NewRouter builds the HTTP routes.
func NewRouter(d Deps) *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	if d.TrustProxy {
		router.Use(middleware.RealIP)
	}
	router.Use(
		logger.Middleware(d.Log),
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)
	router.NotFound(handlers.NotFound)
	router.MethodNotAllowed(handlers.MethodNotAllowed)

	router.Get("/healthz", handlers.Healthz(d.DB))
	if d.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	router.Route("/api", func(r chi.Router) {
		if d.Limiter != nil {
			r.Use(ratelimit.Middleware(d.Limiter, ratelimit.ClientIP, rateLimitMessage, handlers.WriteError))
		}
		r.Route("/v1/users", func(r chi.Router) {
			handlers.UsersRouter(r, d.Auth, d.Users, d.Photos, d.BaseURL)
		})
	})
	return router
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("server listening")
	return s.httpServer.ListenAndServe()
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.closeAll()
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown drains in-flight requests and releases backing connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.closeAll()
	return err
}

func (s *Server) closeAll() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.log.Warn().Err(err).Msg("close failed")
		}
	}
	s.closers = nil
}
