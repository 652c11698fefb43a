// Package httpapi exposes the dispatch engine over HTTP: account
// management, raw event ingest, webhook control and long-poll pulls.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/watzon/userbot-api-server/internal/account"
	"github.com/watzon/userbot-api-server/internal/dispatch"
	"github.com/watzon/userbot-api-server/pkg/logx"
)

// Config carries the listener settings, already parsed.
type Config struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8081"
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 5 * time.Second
	}
	// WriteTimeout must outlast the longest permitted poll; zero keeps
	// the stdlib default of no limit, which is what long polls need.
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 120 * time.Second
	}
	return c
}

// Server wires the engine and the account store behind a chi router.
type Server struct {
	cfg    Config
	engine *dispatch.Engine
	store  account.Store
	log    logx.Logger

	httpSrv *http.Server
}

func NewServer(cfg Config, engine *dispatch.Engine, store account.Store, log logx.Logger) *Server {
	s := &Server{
		cfg:    cfg.withDefaults(),
		engine: engine,
		store:  store,
		log:    log.With(logx.String("component", "httpapi")),
	}
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}
	return s
}

// Router builds the route tree. Exposed separately so tests can drive
// handlers without a listener.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)

	r.Route("/accounts", func(r chi.Router) {
		r.Get("/", s.handleListAccounts)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetAccount)
			r.Put("/", s.handlePutAccount)
			r.Delete("/", s.handleDeleteAccount)

			r.Post("/events", s.handleIngestEvent)
			r.Post("/getUpdates", s.handleGetUpdates)
			r.Post("/setWebhook", s.handleSetWebhook)
			r.Post("/deleteWebhook", s.handleDeleteWebhook)
		})
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("http api listening", logx.String("addr", s.cfg.Addr))
		errc <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(sctx); err != nil {
		return err
	}
	return nil
}
