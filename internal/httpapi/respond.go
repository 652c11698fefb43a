package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/watzon/userbot-api-server/internal/account"
	"github.com/watzon/userbot-api-server/internal/dispatch"
	"github.com/watzon/userbot-api-server/internal/provider"
	"github.com/watzon/userbot-api-server/pkg/logx"
)

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("write response", logx.Err(err))
	}
}

// writeError maps engine and store errors onto HTTP statuses: usage
// errors are 409, unknown accounts 404, bad input 400.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dispatch.ErrUnknownAccount), errors.Is(err, account.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, dispatch.ErrWebhookActive), errors.Is(err, dispatch.ErrAccountExists):
		status = http.StatusConflict
	case errors.Is(err, provider.ErrUnknownType), errors.Is(err, account.ErrNoID):
		status = http.StatusBadRequest
	case errors.Is(err, dispatch.ErrStopped):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", logx.Err(err))
	}
	s.writeJSON(w, status, errorBody{Error: err.Error()})
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
