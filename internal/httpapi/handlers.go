package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/watzon/userbot-api-server/internal/account"
	"github.com/watzon/userbot-api-server/internal/dispatch"
	"github.com/watzon/userbot-api-server/internal/provider"
	"github.com/watzon/userbot-api-server/internal/update"
)

// accountBody is the PUT /accounts/{id} request.
type accountBody struct {
	Mode          string   `json:"mode"`
	WebhookURL    string   `json:"webhook_url,omitempty"`
	WebhookSecret string   `json:"webhook_secret,omitempty"`
	AllowedKinds  []string `json:"allowed_kinds,omitempty"`
}

// settingsView is the public projection of account settings. The
// webhook secret never leaves the server.
type settingsView struct {
	ID           string    `json:"id"`
	Mode         string    `json:"mode"`
	WebhookURL   string    `json:"webhook_url,omitempty"`
	AllowedKinds []string  `json:"allowed_kinds,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func viewOf(s account.Settings) settingsView {
	v := settingsView{
		ID:         s.ID,
		Mode:       string(s.Mode),
		WebhookURL: s.WebhookURL,
		UpdatedAt:  s.UpdatedAt,
	}
	for _, k := range s.AllowedKinds {
		v.AllowedKinds = append(v.AllowedKinds, string(k))
	}
	return v
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusView struct {
	Dispatch dispatch.Stats `json:"dispatch"`
	Time     time.Time      `json:"time"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, statusView{
		Dispatch: s.engine.Snapshot(),
		Time:     time.Now().UTC(),
	})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]settingsView, 0, len(list))
	for _, a := range list {
		views = append(views, viewOf(a))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	got, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(got))
}

// handlePutAccount creates or reconfigures an account: settings are
// persisted first, then the live engine state follows.
func (s *Server) handlePutAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body accountBody
	if err := decodeBody(r, &body); err != nil {
		s.badRequest(w, fmt.Errorf("decode account body: %w", err))
		return
	}
	mode, err := account.ParseMode(body.Mode)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	kinds, err := update.ParseKinds(body.AllowedKinds)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	settings := account.Settings{
		ID:            id,
		Mode:          mode,
		WebhookURL:    body.WebhookURL,
		WebhookSecret: body.WebhookSecret,
		AllowedKinds:  kinds,
		UpdatedAt:     time.Now().UTC(),
	}
	if err := settings.Validate(); err != nil {
		s.badRequest(w, err)
		return
	}

	if err := s.store.Put(r.Context(), settings); err != nil {
		s.writeError(w, err)
		return
	}

	status := http.StatusCreated
	err = s.engine.SetupForAccount(r.Context(), settings)
	if errors.Is(err, dispatch.ErrAccountExists) {
		status = http.StatusOK
		err = s.engine.ReconfigureAccount(r.Context(), settings)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, status, viewOf(settings))
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	engErr := s.engine.TeardownForAccount(r.Context(), id)
	if engErr != nil && !errors.Is(engErr, dispatch.ErrUnknownAccount) {
		s.writeError(w, engErr)
		return
	}
	storeErr := s.store.Delete(r.Context(), id)
	if storeErr != nil && !errors.Is(storeErr, account.ErrNotFound) {
		s.writeError(w, storeErr)
		return
	}
	if engErr != nil && storeErr != nil {
		s.writeError(w, dispatch.ErrUnknownAccount)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

// handleIngestEvent accepts one raw provider event for an account.
func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	var env provider.Envelope
	if err := decodeBody(r, &env); err != nil {
		s.badRequest(w, fmt.Errorf("decode event envelope: %w", err))
		return
	}
	ev, err := env.Decode()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.SubmitRawEvent(r.Context(), chi.URLParam(r, "id"), ev); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// pollBody is the getUpdates request; timeout is in whole seconds.
type pollBody struct {
	Offset  int64 `json:"offset,omitempty"`
	Limit   int   `json:"limit,omitempty"`
	Timeout int   `json:"timeout,omitempty"`
}

func (s *Server) handleGetUpdates(w http.ResponseWriter, r *http.Request) {
	body := pollBody{}
	if r.ContentLength != 0 {
		if err := decodeBody(r, &body); err != nil {
			s.badRequest(w, fmt.Errorf("decode poll body: %w", err))
			return
		}
	}
	got, err := s.engine.GetUpdates(r.Context(), chi.URLParam(r, "id"), dispatch.PollRequest{
		Offset:  body.Offset,
		Limit:   body.Limit,
		Timeout: time.Duration(body.Timeout) * time.Second,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	if got == nil {
		got = []update.Update{}
	}
	s.writeJSON(w, http.StatusOK, got)
}

type webhookBody struct {
	URL    string `json:"url"`
	Secret string `json:"secret,omitempty"`
}

func (s *Server) handleSetWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body webhookBody
	if err := decodeBody(r, &body); err != nil {
		s.badRequest(w, fmt.Errorf("decode webhook body: %w", err))
		return
	}
	if err := s.engine.SetWebhook(r.Context(), id, body.URL, body.Secret); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.persistMode(r, id, account.ModeWebhook, body.URL, body.Secret); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "webhook set"})
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.DeleteWebhook(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.persistMode(r, id, account.ModePolling, "", ""); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "webhook deleted"})
}

// persistMode mirrors a live delivery-mode switch into the store so a
// restart comes back in the same mode.
func (s *Server) persistMode(r *http.Request, id string, mode account.Mode, url, secret string) error {
	settings, err := s.store.Get(r.Context(), id)
	if errors.Is(err, account.ErrNotFound) {
		// Engine-only account (not persisted); nothing to mirror.
		return nil
	}
	if err != nil {
		return err
	}
	settings.Mode = mode
	settings.WebhookURL = url
	settings.WebhookSecret = secret
	settings.UpdatedAt = time.Now().UTC()
	return s.store.Put(r.Context(), settings)
}
