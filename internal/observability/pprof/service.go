// Package pprof serves the runtime profiling endpoints on a separate,
// optional listener so they never share a port with the public API.
package pprof

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"github.com/watzon/userbot-api-server/pkg/logx"
)

type Config struct {
	Enabled bool
	Addr    string // default "127.0.0.1:6061"

	// Token guards the endpoints when the listener is not loopback.
	// Loopback binds need no token; non-loopback binds without one are
	// refused unless AllowInsecure is set.
	Token         string
	AllowInsecure bool
}

type Service struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Service {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6061"
	}
	return &Service{cfg: cfg, log: log.With(logx.String("component", "pprof"))}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

// Run serves until ctx is cancelled. Returns an error on refused
// insecure configuration or listener failure.
func (s *Service) Run(ctx context.Context) error {
	if !s.cfg.Enabled {
		<-ctx.Done()
		return nil
	}
	if err := s.checkExposure(); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", hpprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.withToken(mux),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("pprof listening", logx.String("addr", s.cfg.Addr))
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

func (s *Service) checkExposure() error {
	host, _, err := net.SplitHostPort(s.cfg.Addr)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	loopback := ip != nil && ip.IsLoopback()
	if host == "localhost" {
		loopback = true
	}
	if loopback || s.cfg.Token != "" || s.cfg.AllowInsecure {
		return nil
	}
	return errors.New("pprof bound to non-loopback address without a token")
}

func (s *Service) withToken(next http.Handler) http.Handler {
	if s.cfg.Token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("Authorization")
		got = strings.TrimPrefix(got, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
