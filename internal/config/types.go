package config

type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
	Accounts AccountsConfig `json:"accounts"`

	// Dispatch tunes the update dispatch engine (dedup, albums, webhook
	// retry, long-poll limits). All durations are Go duration strings
	// (e.g. "500ms", "10s", "1m"); omitted fields fall back to the
	// engine defaults documented on dispatch.Config.
	Dispatch DispatchConfig `json:"dispatch"`

	// Maintenance controls background housekeeping jobs (cron specs).
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`

	// Pprof exposes runtime profiling on a private listener.
	Pprof *PprofConfig `json:"pprof,omitempty"`
}

type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default "127.0.0.1:6061"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

type ServerConfig struct {
	// Addr is the HTTP listen address (default "127.0.0.1:8081").
	Addr string `json:"addr,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0
	// (disabled) because long-poll handlers may hold a response open for
	// up to 50 seconds.
	ReadHeaderTimeout string `json:"read_header_timeout,omitempty"`
	WriteTimeout      string `json:"write_timeout,omitempty"`
	IdleTimeout       string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// AccountsConfig controls the persistent account settings store.
//
// Example:
//
//	"accounts": { "path": "./data/accounts.db" }
type AccountsConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DispatchConfig mirrors dispatch.Config with wire-friendly types.
//
// Zero values mean "use the engine default".
type DispatchConfig struct {
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	DedupTTL        string `json:"dedup_ttl,omitempty"`

	AlbumInitialDebounce    string `json:"album_initial_debounce,omitempty"`
	AlbumSubsequentDebounce string `json:"album_subsequent_debounce,omitempty"`

	WebhookRetryMax       int    `json:"webhook_retry_max,omitempty"`
	WebhookAttemptTimeout string `json:"webhook_attempt_timeout,omitempty"`
	WebhookBackoffBase    string `json:"webhook_backoff_base,omitempty"`
	WebhookBackoffMax     string `json:"webhook_backoff_max,omitempty"`
	WebhookRatePerSec     int    `json:"webhook_rate_per_sec,omitempty"`
	WebhookQueueSize      int    `json:"webhook_queue_size,omitempty"`

	PollLimitMax   int    `json:"poll_limit_max,omitempty"`
	PollTimeoutMax string `json:"poll_timeout_max,omitempty"`
	OpsQueueSize   int    `json:"ops_queue_size,omitempty"`
}

// MaintenanceConfig holds cron specs (standard 5-field) for background
// housekeeping.
type MaintenanceConfig struct {
	Enabled bool `json:"enabled"`

	// DedupSweep prunes expired dedup entries (default "*/10 * * * *").
	DedupSweep string `json:"dedup_sweep,omitempty"`

	// StorePrune removes tombstoned rows from the account store
	// (default "0 4 * * *").
	StorePrune string `json:"store_prune,omitempty"`
}
