package account

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "github.com/watzon/userbot-api-server/pkg/logx"
)

var ErrNotFound = errors.New("account not found")

// Store persists per-account delivery settings so reconfiguration
// survives process restarts. Undelivered updates are deliberately NOT
// persisted (at-least-once, in-memory only).
type Store interface {
	Put(ctx context.Context, s Settings) error
	Get(ctx context.Context, id string) (Settings, error)
	List(ctx context.Context) ([]Settings, error)
	Delete(ctx context.Context, id string) error

	// Prune permanently removes rows tombstoned before the cutoff.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}

// Config configures the store.
//
// An empty Path selects the in-memory backend (settings are lost on
// restart; useful for tests and ephemeral deployments).
type Config struct {
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return NewMemoryStore(), nil
	}
	return openSQLite(cfg, log)
}
