package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"postpilot/internal/lifecycle"
)

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Field   string `json:"field,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func dataBody(data any) envelope {
	return envelope{Success: true, Data: data}
}

func errorBody(message string) envelope {
	return envelope{Success: false, Message: message}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeDomainError maps the lifecycle taxonomy onto status codes. Validation
// and transition failures are distinct so clients can distinguish "fix the
// request" from "refresh and retry"; everything else is a generic 500.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var verr *lifecycle.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: verr.Reason, Field: verr.Field})
		return
	}
	if errors.Is(err, lifecycle.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	var terr *lifecycle.IllegalTransitionError
	if errors.As(err, &terr) {
		writeJSON(w, http.StatusConflict, errorBody(terr.Error()))
		return
	}
	s.log.Error().Err(err).Msg("request failed")
	writeJSON(w, http.StatusInternalServerError, errorBody("server error"))
}
