package account

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/watzon/userbot-api-server/internal/update"
	logx "github.com/watzon/userbot-api-server/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Put(ctx context.Context, set Settings) error {
	if err := set.Validate(); err != nil {
		return err
	}
	if set.UpdatedAt.IsZero() {
		set.UpdatedAt = time.Now()
	}
	kinds, err := marshalKinds(set.AllowedKinds)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO accounts(id, mode, webhook_url, webhook_secret, allowed_kinds, updated_at, deleted_at)
		 VALUES(?,?,?,?,?,?,NULL)
		 ON CONFLICT(id) DO UPDATE SET
		   mode=excluded.mode,
		   webhook_url=excluded.webhook_url,
		   webhook_secret=excluded.webhook_secret,
		   allowed_kinds=excluded.allowed_kinds,
		   updated_at=excluded.updated_at,
		   deleted_at=NULL`,
		set.ID, string(set.Mode), nullStr(set.WebhookURL), nullStr(set.WebhookSecret),
		kinds, set.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) Get(ctx context.Context, id string) (Settings, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, mode, webhook_url, webhook_secret, allowed_kinds, updated_at
		 FROM accounts WHERE id = ? AND deleted_at IS NULL`, id)
	set, err := scanSettings(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{}, ErrNotFound
	}
	return set, err
}

func (s *sqliteStore) List(ctx context.Context) ([]Settings, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mode, webhook_url, webhook_secret, allowed_kinds, updated_at
		 FROM accounts WHERE deleted_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Settings
	for rows.Next() {
		set, err := scanSettings(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, set)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().Format(time.RFC3339Nano), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM accounts WHERE deleted_at IS NOT NULL AND deleted_at < ?`,
		cutoff.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSettings(r rowScanner) (Settings, error) {
	var (
		set       Settings
		mode      string
		url       sql.NullString
		secret    sql.NullString
		kinds     sql.NullString
		updatedAt string
	)
	if err := r.Scan(&set.ID, &mode, &url, &secret, &kinds, &updatedAt); err != nil {
		return Settings{}, err
	}

	m, err := ParseMode(mode)
	if err != nil {
		return Settings{}, err
	}
	set.Mode = m
	set.WebhookURL = url.String
	set.WebhookSecret = secret.String

	set.AllowedKinds, err = unmarshalKinds(kinds.String)
	if err != nil {
		return Settings{}, err
	}

	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		set.UpdatedAt = t
	}
	return set, nil
}

func marshalKinds(ks []update.Kind) (any, error) {
	if len(ks) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(ks)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalKinds(raw string) ([]update.Kind, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, err
	}
	return update.ParseKinds(names)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
