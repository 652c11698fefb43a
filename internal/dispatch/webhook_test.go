package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/watzon/userbot-api-server/internal/update"
	"github.com/watzon/userbot-api-server/pkg/logx"
)

func testSenderConfig(retries int) Config {
	return Config{
		WebhookRetryMax:       retries,
		WebhookAttemptTimeout: 2 * time.Second,
		WebhookBackoffBase:    time.Millisecond,
		WebhookBackoffMax:     5 * time.Millisecond,
		WebhookJitterMax:      time.Millisecond,
		WebhookSecretHeader:   "X-Telegram-Bot-Api-Secret-Token",
	}
}

func TestWebhookSendSuccess(t *testing.T) {
	t.Parallel()
	var gotSecret atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSecret.Store(r.Header.Get("X-Telegram-Bot-Api-Secret-Token"))
		var u update.Update
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if u.ID != 42 {
			t.Errorf("update_id = %d, want 42", u.ID)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newWebhookSender(testSenderConfig(2), logx.Nop())
	err := s.Send(context.Background(), nil, webhookTarget{URL: srv.URL, Secret: "s3cret"}, update.Update{ID: 42})
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if got := gotSecret.Load(); got != "s3cret" {
		t.Fatalf("secret header = %v, want s3cret", got)
	}
}

func TestWebhookSendRetriesThenExhausts(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := newWebhookSender(testSenderConfig(3), logx.Nop())
	err := s.Send(context.Background(), nil, webhookTarget{URL: srv.URL}, update.Update{ID: 1})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("Send error = %v, want ErrExhausted", err)
	}
	if got := attempts.Load(); got != 4 {
		t.Fatalf("attempts = %d, want retries+1 = 4", got)
	}
}

func TestWebhookSendRecoversMidway(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := newWebhookSender(testSenderConfig(5), logx.Nop())
	if err := s.Send(context.Background(), nil, webhookTarget{URL: srv.URL}, update.Update{ID: 1}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestWebhookSendHonorsCancel(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testSenderConfig(1000)
	cfg.WebhookBackoffBase = time.Hour
	cfg.WebhookBackoffMax = time.Hour
	s := newWebhookSender(cfg, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	err := s.Send(ctx, nil, webhookTarget{URL: srv.URL}, update.Update{ID: 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Send error = %v, want context.Canceled", err)
	}
}

func TestWebhookSenderRetune(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := newWebhookSender(testSenderConfig(9), logx.Nop())

	cfg := testSenderConfig(1)
	s.retune(cfg)

	err := s.Send(context.Background(), nil, webhookTarget{URL: srv.URL}, update.Update{ID: 1})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("Send error = %v, want ErrExhausted", err)
	}
	if got := attempts.Load(); got != 2 {
		t.Fatalf("attempts = %d, want retuned retries+1 = 2", got)
	}
}

func TestWebhookBackoffCapped(t *testing.T) {
	t.Parallel()
	cfg := testSenderConfig(0)
	cfg.WebhookBackoffBase = time.Second
	cfg.WebhookBackoffMax = 30 * time.Second
	cfg.WebhookJitterMax = 200 * time.Millisecond
	s := newWebhookSender(cfg, logx.Nop())

	for n := 0; n < 64; n++ {
		want := 30 * time.Second
		if n < 5 {
			want = time.Second << uint(n)
		}
		d := s.backoff(n)
		if d < want || d > want+200*time.Millisecond {
			t.Fatalf("backoff(%d) = %v, want [%v, %v]", n, d, want, want+200*time.Millisecond)
		}
	}
}
