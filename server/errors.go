package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bcgov/nr-ai-form/core"
	"github.com/bcgov/nr-ai-form/gateway"
)

// ConnectionLostDetail is returned to callers when a gateway channel fails.
const ConnectionLostDetail = "Connection to agent server lost. Please retry."

type errorBody struct {
	Detail string `json:"detail"`
}

// statusFor maps an error to its HTTP status and caller-facing detail.
func statusFor(err error) (int, string) {
	var verr *core.ValidationError
	var cerr *core.ConnectionError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, core.ErrNoBranches):
		return http.StatusServiceUnavailable, err.Error()
	case errors.As(err, &cerr), errors.Is(err, gateway.ErrClosed):
		return http.StatusServiceUnavailable, ConnectionLostDetail
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

func writeError(w http.ResponseWriter, err error) {
	status, detail := statusFor(err)
	writeDetail(w, status, detail)
}
