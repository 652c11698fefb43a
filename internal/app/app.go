// Package app assembles the process: config, logging, account store,
// dispatch engine, HTTP API and background maintenance, all run under
// one supervisor.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/watzon/userbot-api-server/internal/account"
	"github.com/watzon/userbot-api-server/internal/config"
	"github.com/watzon/userbot-api-server/internal/dispatch"
	"github.com/watzon/userbot-api-server/internal/eventbus"
	"github.com/watzon/userbot-api-server/internal/httpapi"
	"github.com/watzon/userbot-api-server/internal/observability/pprof"
	"github.com/watzon/userbot-api-server/internal/provider"
	"github.com/watzon/userbot-api-server/internal/runtime/supervisor"
	"github.com/watzon/userbot-api-server/pkg/logx"
)

type App struct {
	cfgm   *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	bus    eventbus.Bus
	store  account.Store
	engine *dispatch.Engine
	api    *httpapi.Server
	maint  *maintenance
	prof   *pprof.Service

	sup *supervisor.Supervisor
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgm.SetLogger(log.With(logx.String("component", "config")))

	busyTimeout, err := config.ParseDurationOrDefault("accounts.busy_timeout", cfg.Accounts.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := account.Open(account.Config{
		Path:        cfg.Accounts.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("component", "accounts")))
	if err != nil {
		return nil, fmt.Errorf("open account store: %w", err)
	}

	dispatchCfg, err := buildDispatchConfig(cfg.Dispatch)
	if err != nil {
		return nil, err
	}
	bus := eventbus.New()
	engine := dispatch.New(dispatchCfg, bus, log)

	apiCfg, err := buildServerConfig(cfg.Server)
	if err != nil {
		return nil, err
	}
	api := httpapi.NewServer(apiCfg, engine, store, log)

	maint, err := newMaintenance(cfg.Maintenance, engine, store, log)
	if err != nil {
		return nil, err
	}

	var prof *pprof.Service
	if cfg.Pprof != nil {
		prof = pprof.New(pprof.Config{
			Enabled:       cfg.Pprof.Enabled,
			Addr:          cfg.Pprof.Addr,
			Token:         cfg.Pprof.Token,
			AllowInsecure: cfg.Pprof.AllowInsecure,
		}, log)
	}

	return &App{
		cfgm:   cfgm,
		logSvc: logSvc,
		log:    log.With(logx.String("component", "app")),
		bus:    bus,
		store:  store,
		engine: engine,
		api:    api,
		maint:  maint,
		prof:   prof,
	}, nil
}

// Bus exposes the internal event stream (engine activity signals).
func (a *App) Bus() eventbus.Bus { return a.bus }

// Start brings every component up and restores persisted accounts into
// the engine.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	a.engine.Start(a.sup.Context())
	if err := a.restoreAccounts(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("httpapi", a.api.Run)
	a.sup.Go("config-watch", a.cfgm.Watch)
	a.sup.Go0("config-apply", a.applyConfigUpdates)
	a.sup.Go0("bus-debug", a.logBusEvents)
	if a.maint != nil {
		a.maint.start()
	}
	if a.prof != nil && a.prof.Enabled() {
		a.sup.Go("pprof", a.prof.Run)
	}

	a.log.Info("started")
	return nil
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Stop(ctx context.Context) error {
	if a.maint != nil {
		a.maint.stop()
	}
	var firstErr error
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := a.engine.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	a.log.Info("stopped")
	if a.logSvc != nil {
		_ = a.logSvc.Close()
	}
	return firstErr
}

// restoreAccounts loads persisted settings so accounts come back in
// the same delivery mode after a restart.
func (a *App) restoreAccounts(ctx context.Context) error {
	list, err := a.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	for _, s := range list {
		if err := a.engine.SetupForAccount(ctx, s); err != nil {
			a.log.Error("restore account",
				logx.String("account", s.ID),
				logx.Err(err))
			continue
		}
	}
	if len(list) > 0 {
		a.log.Info("accounts restored", logx.Int("count", len(list)))
	}
	return nil
}

// applyConfigUpdates reacts to config file reloads. Logging and the
// engine's runtime tunables apply live; listeners and storage take
// effect on restart.
func (a *App) applyConfigUpdates(ctx context.Context) {
	ch := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			dcfg, err := buildDispatchConfig(cfg.Dispatch)
			if err != nil {
				a.log.Error("config reload: dispatch section rejected", logx.Err(err))
				continue
			}
			if err := a.engine.ApplyConfig(ctx, dcfg); err != nil {
				a.log.Error("config reload: apply dispatch tunables", logx.Err(err))
				continue
			}
			a.log.Info("config reloaded")
		}
	}
}

// logBusEvents surfaces the engine's activity signals at debug level.
func (a *App) logBusEvents(ctx context.Context) {
	ch, unsub := a.bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			a.log.Debug("engine event",
				logx.String("type", ev.Type),
				logx.String("account", ev.Account),
				logx.Any("data", ev.Data))
		}
	}
}

// AttachClient runs a connected provider session under the supervisor,
// feeding its raw events into the engine. The session is restarted
// with backoff if it fails.
func (a *App) AttachClient(c provider.Client) {
	id := c.AccountID()
	log := a.log.With(logx.String("account", id))
	a.sup.GoRestart("provider-"+id, func(ctx context.Context) error {
		out := make(chan provider.Event, 64)
		runErr := make(chan error, 1)
		go func() { runErr <- c.Run(ctx, out) }()
		for {
			select {
			case <-ctx.Done():
				return <-runErr
			case err := <-runErr:
				return err
			case ev := <-out:
				if err := a.engine.SubmitRawEvent(ctx, id, ev); err != nil {
					log.Warn("event rejected", logx.Err(err))
				}
			}
		}
	})
}
