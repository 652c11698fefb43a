package dispatch

import (
	"time"
)

// Config tunes the update dispatch engine.
//
// All fields are optional; zero values fall back to the defaults below.
type Config struct {
	// Dedup filter: bounded, time-windowed suppression of already-seen
	// (account, item, kind) triples.
	DedupMaxEntries int           // default 10000
	DedupTTL        time.Duration // default 10m

	// Album debounce windows. The initial window covers the gap between
	// a group's first fragment and its follow-up; the subsequent window
	// is the (shorter) restart applied on each additional fragment.
	AlbumInitialDebounce    time.Duration // default 1s
	AlbumSubsequentDebounce time.Duration // default 300ms

	// Webhook delivery: MaxRetries+1 attempts, each bounded by
	// AttemptTimeout, separated by capped exponential backoff with
	// bounded jitter.
	WebhookRetryMax       int           // default 50
	WebhookAttemptTimeout time.Duration // default 5s
	WebhookBackoffBase    time.Duration // default 1s
	WebhookBackoffMax     time.Duration // default 30s
	WebhookJitterMax      time.Duration // default 200ms
	WebhookRatePerSec     int           // default 30
	WebhookQueueSize      int           // default 256

	// WebhookSecretHeader carries the optional shared secret on every
	// attempt. Static value, not an HMAC.
	WebhookSecretHeader string // default "X-Telegram-Bot-Api-Secret-Token"

	// Long-poll limits. PollBufferMax bounds the per-account pending
	// buffer; the oldest updates are dropped past it.
	PollLimitDefault int           // default 100
	PollLimitMax     int           // default 100
	PollTimeoutMax   time.Duration // default 50s
	PollBufferMax    int           // default 1000

	// OpsQueueSize bounds the orchestrator inbox.
	OpsQueueSize int // default 1024
}

func (c Config) withDefaults() Config {
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = 10000
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = 10 * time.Minute
	}
	if c.AlbumInitialDebounce <= 0 {
		c.AlbumInitialDebounce = time.Second
	}
	if c.AlbumSubsequentDebounce <= 0 {
		c.AlbumSubsequentDebounce = 300 * time.Millisecond
	}
	if c.WebhookRetryMax < 0 {
		c.WebhookRetryMax = 0
	} else if c.WebhookRetryMax == 0 {
		c.WebhookRetryMax = 50
	}
	if c.WebhookAttemptTimeout <= 0 {
		c.WebhookAttemptTimeout = 5 * time.Second
	}
	if c.WebhookBackoffBase <= 0 {
		c.WebhookBackoffBase = time.Second
	}
	if c.WebhookBackoffMax <= 0 {
		c.WebhookBackoffMax = 30 * time.Second
	}
	if c.WebhookJitterMax <= 0 {
		c.WebhookJitterMax = 200 * time.Millisecond
	}
	if c.WebhookRatePerSec <= 0 {
		c.WebhookRatePerSec = 30
	}
	if c.WebhookQueueSize <= 0 {
		c.WebhookQueueSize = 256
	}
	if c.WebhookSecretHeader == "" {
		c.WebhookSecretHeader = "X-Telegram-Bot-Api-Secret-Token"
	}
	if c.PollLimitDefault <= 0 {
		c.PollLimitDefault = 100
	}
	if c.PollLimitMax <= 0 {
		c.PollLimitMax = 100
	}
	if c.PollTimeoutMax <= 0 {
		c.PollTimeoutMax = 50 * time.Second
	}
	if c.PollBufferMax <= 0 {
		c.PollBufferMax = 1000
	}
	if c.OpsQueueSize <= 0 {
		c.OpsQueueSize = 1024
	}
	return c
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	Accounts         int    `json:"accounts"`
	Dispatched       uint64 `json:"dispatched"`
	Deduped          uint64 `json:"deduped"`
	Dropped          uint64 `json:"dropped"`
	AlbumsFlushed    uint64 `json:"albums_flushed"`
	WebhookSent      uint64 `json:"webhook_sent"`
	WebhookExhausted uint64 `json:"webhook_exhausted"`
	PollsServed      uint64 `json:"polls_served"`
	DedupEntries     int    `json:"dedup_entries"`
}

// Event bus types published by the engine.
const (
	EventDispatched       = "update.dispatched"
	EventDeduped          = "update.deduped"
	EventDropped          = "update.dropped"
	EventAlbumFlushed     = "album.flushed"
	EventWebhookSent      = "webhook.sent"
	EventWebhookExhausted = "webhook.exhausted"
)
