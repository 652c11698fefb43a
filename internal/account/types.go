package account

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/watzon/userbot-api-server/internal/update"
)

// Mode selects how updates leave the engine for an account.
type Mode string

const (
	ModeNone    Mode = "none"
	ModeWebhook Mode = "webhook"
	ModePolling Mode = "polling"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeNone, "":
		return ModeNone, nil
	case ModeWebhook:
		return ModeWebhook, nil
	case ModePolling:
		return ModePolling, nil
	}
	return "", fmt.Errorf("unknown delivery mode %q", s)
}

// Settings is the per-account delivery configuration the engine reads at
// setup and the reconfiguration calls write back.
type Settings struct {
	ID string

	Mode          Mode
	WebhookURL    string
	WebhookSecret string

	// AllowedKinds filters which update kinds are emitted. Empty means
	// all kinds.
	AllowedKinds []update.Kind

	UpdatedAt time.Time
}

var ErrNoID = errors.New("account id is required")

// Validate checks internal consistency (webhook mode needs a target URL,
// and the URL must parse).
func (s Settings) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return ErrNoID
	}
	switch s.Mode {
	case ModeNone, ModePolling:
		return nil
	case ModeWebhook:
		raw := strings.TrimSpace(s.WebhookURL)
		if raw == "" {
			return errors.New("webhook mode requires a url")
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("webhook url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("webhook url: unsupported scheme %q", u.Scheme)
		}
		return nil
	}
	return fmt.Errorf("unknown delivery mode %q", s.Mode)
}
