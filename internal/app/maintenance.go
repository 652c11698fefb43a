package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/watzon/userbot-api-server/internal/account"
	"github.com/watzon/userbot-api-server/internal/config"
	"github.com/watzon/userbot-api-server/internal/dispatch"
	"github.com/watzon/userbot-api-server/pkg/logx"
)

// tombstoneRetention is how long deleted account rows are kept before
// the prune job removes them.
const tombstoneRetention = 30 * 24 * time.Hour

// maintenance runs periodic housekeeping on cron schedules: dedup
// sweeps and account-store tombstone pruning.
type maintenance struct {
	cron *cron.Cron
	log  logx.Logger
}

func newMaintenance(cfg *config.MaintenanceConfig, engine *dispatch.Engine, store account.Store, log logx.Logger) (*maintenance, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	m := &maintenance{
		cron: cron.New(),
		log:  log.With(logx.String("component", "maintenance")),
	}

	sweepSpec := cfg.DedupSweep
	if sweepSpec == "" {
		sweepSpec = "*/10 * * * *"
	}
	if _, err := m.cron.AddFunc(sweepSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := engine.SweepDedup(ctx)
		if err != nil {
			m.log.Warn("dedup sweep", logx.Err(err))
			return
		}
		m.log.Debug("dedup sweep done", logx.Int("live_entries", n))
	}); err != nil {
		return nil, fmt.Errorf("maintenance.dedup_sweep %q: %w", sweepSpec, err)
	}

	pruneSpec := cfg.StorePrune
	if pruneSpec == "" {
		pruneSpec = "0 4 * * *"
	}
	if _, err := m.cron.AddFunc(pruneSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := store.Prune(ctx, time.Now().Add(-tombstoneRetention))
		if err != nil {
			m.log.Warn("store prune", logx.Err(err))
			return
		}
		if n > 0 {
			m.log.Info("store prune done", logx.Int64("removed", n))
		}
	}); err != nil {
		return nil, fmt.Errorf("maintenance.store_prune %q: %w", pruneSpec, err)
	}

	return m, nil
}

func (m *maintenance) start() { m.cron.Start() }

func (m *maintenance) stop() {
	<-m.cron.Stop().Done()
}
