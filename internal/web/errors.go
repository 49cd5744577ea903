package web

// errors.go maps domain errors to HTTP responses.
//
// Every error is logged with its request ID. Clients get the error text
// for 4xx responses and a generic message for 5xx, plus a stable code.

import (
	"context"
	"errors"
	"net/http"

	"github.com/JonMunkholm/dropload/internal/jobs"
	"github.com/JonMunkholm/dropload/internal/loader"
	"github.com/JonMunkholm/dropload/internal/logging"
)

// errBadRequest marks request problems found by the handlers themselves.
var errBadRequest = errors.New("bad request")

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps err to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, loader.ErrInvalidRequest):
		return http.StatusBadRequest, "BAD_REQUEST"
	case errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound, "JOB_NOT_FOUND"
	case errors.Is(err, jobs.ErrAlreadyActive):
		return http.StatusConflict, "JOB_ACTIVE"
	case errors.Is(err, jobs.ErrTooManyJobs):
		return http.StatusServiceUnavailable, "TOO_MANY_JOBS"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

// respondError logs err and writes the matching JSON error response.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)

	log := logging.Category(r.Context(), logging.CategoryHTTP)
	log.Log(r.Context(), logging.LevelForStatus(status), "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", code,
		"error", err.Error(),
	)

	msg := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		msg = "internal error, see server logs"
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}
	writeJSON(w, r, status, ErrorResponse{Error: msg, Code: code})
}
