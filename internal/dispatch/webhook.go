package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/watzon/userbot-api-server/internal/update"
	"github.com/watzon/userbot-api-server/pkg/logx"
)

// ErrExhausted reports that every delivery attempt for one update
// failed. The update is dropped; delivery order for the account is
// preserved by giving up rather than requeueing.
var ErrExhausted = errors.New("webhook retries exhausted")

type webhookTarget struct {
	URL    string
	Secret string
}

// webhookSender posts updates to consumer endpoints with bounded
// retries. One sender is shared by all accounts; per-account pacing
// lives in the rate limiter passed to Send.
//
// Retry pacing lives behind an atomic pointer so a config reload can
// retune it while sender goroutines are mid-delivery.
type webhookSender struct {
	client       *http.Client
	secretHeader string
	tuning       atomic.Pointer[webhookTuning]

	log logx.Logger
}

type webhookTuning struct {
	retryMax       int
	attemptTimeout time.Duration
	backoffBase    time.Duration
	backoffMax     time.Duration
	jitterMax      time.Duration
}

func newWebhookSender(cfg Config, log logx.Logger) *webhookSender {
	s := &webhookSender{
		client:       &http.Client{},
		secretHeader: cfg.WebhookSecretHeader,
		log:          log,
	}
	s.retune(cfg)
	return s
}

// retune swaps the retry pacing. A delivery already in flight keeps
// the attempt count it started with; its next backoff uses the new
// values.
func (s *webhookSender) retune(cfg Config) {
	s.tuning.Store(&webhookTuning{
		retryMax:       cfg.WebhookRetryMax,
		attemptTimeout: cfg.WebhookAttemptTimeout,
		backoffBase:    cfg.WebhookBackoffBase,
		backoffMax:     cfg.WebhookBackoffMax,
		jitterMax:      cfg.WebhookJitterMax,
	})
}

// Send delivers one update, retrying on any transport failure or
// non-2xx response. It blocks between attempts; cancel ctx to abandon
// the update early (account teardown, shutdown).
func (s *webhookSender) Send(ctx context.Context, limiter *rate.Limiter, target webhookTarget, u update.Update) error {
	body, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal update %d: %w", u.ID, err)
	}

	attempts := s.tuning.Load().retryMax + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := s.backoff(attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}

		lastErr = s.attempt(ctx, target, body)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Debug("webhook attempt failed",
			logx.Int64("update_id", u.ID),
			logx.Int("attempt", attempt+1),
			logx.Err(lastErr))
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}

func (s *webhookSender) attempt(ctx context.Context, target webhookTarget, body []byte) error {
	actx, cancel := context.WithTimeout(ctx, s.tuning.Load().attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if target.Secret != "" {
		req.Header.Set(s.secretHeader, target.Secret)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned %s", resp.Status)
	}
	return nil
}

// backoff returns the delay before retry n (0-based): exponential on a
// fixed base, capped, plus uniform jitter.
func (s *webhookSender) backoff(n int) time.Duration {
	t := s.tuning.Load()
	d := t.backoffBase << uint(n)
	if d > t.backoffMax || d <= 0 {
		d = t.backoffMax
	}
	if t.jitterMax > 0 {
		d += time.Duration(rand.Int63n(int64(t.jitterMax)))
	}
	return d
}
