package app

import (
	"github.com/watzon/userbot-api-server/internal/config"
	"github.com/watzon/userbot-api-server/internal/dispatch"
	"github.com/watzon/userbot-api-server/internal/httpapi"
)

// buildDispatchConfig converts the wire config (duration strings) into
// engine settings. Zero values pass through and take engine defaults.
func buildDispatchConfig(c config.DispatchConfig) (dispatch.Config, error) {
	out := dispatch.Config{
		DedupMaxEntries:   c.DedupMaxEntries,
		WebhookRetryMax:   c.WebhookRetryMax,
		WebhookRatePerSec: c.WebhookRatePerSec,
		WebhookQueueSize:  c.WebhookQueueSize,
		PollLimitMax:      c.PollLimitMax,
		OpsQueueSize:      c.OpsQueueSize,
	}
	var err error
	if out.DedupTTL, err = config.ParseDurationOrDefault("dispatch.dedup_ttl", c.DedupTTL, 0); err != nil {
		return out, err
	}
	if out.AlbumInitialDebounce, err = config.ParseDurationOrDefault("dispatch.album_initial_debounce", c.AlbumInitialDebounce, 0); err != nil {
		return out, err
	}
	if out.AlbumSubsequentDebounce, err = config.ParseDurationOrDefault("dispatch.album_subsequent_debounce", c.AlbumSubsequentDebounce, 0); err != nil {
		return out, err
	}
	if out.WebhookAttemptTimeout, err = config.ParseDurationOrDefault("dispatch.webhook_attempt_timeout", c.WebhookAttemptTimeout, 0); err != nil {
		return out, err
	}
	if out.WebhookBackoffBase, err = config.ParseDurationOrDefault("dispatch.webhook_backoff_base", c.WebhookBackoffBase, 0); err != nil {
		return out, err
	}
	if out.WebhookBackoffMax, err = config.ParseDurationOrDefault("dispatch.webhook_backoff_max", c.WebhookBackoffMax, 0); err != nil {
		return out, err
	}
	if out.PollTimeoutMax, err = config.ParseDurationOrDefault("dispatch.poll_timeout_max", c.PollTimeoutMax, 0); err != nil {
		return out, err
	}
	return out, nil
}

func buildServerConfig(c config.ServerConfig) (httpapi.Config, error) {
	out := httpapi.Config{Addr: c.Addr}
	var err error
	if out.ReadHeaderTimeout, err = config.ParseDurationOrDefault("server.read_header_timeout", c.ReadHeaderTimeout, 0); err != nil {
		return out, err
	}
	if out.WriteTimeout, err = config.ParseDurationOrDefault("server.write_timeout", c.WriteTimeout, 0); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("server.idle_timeout", c.IdleTimeout, 0); err != nil {
		return out, err
	}
	return out, nil
}
