package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/rmax-ai/linkd/pkg/errs"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	Timestamp string `json:"timestamp"`
}

func errorBody(kind, message string, status int) ErrorResponse {
	return ErrorResponse{
		Error:     kind,
		Message:   message,
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindBadRequest:
		return http.StatusBadRequest
	case errs.KindUnauthenticated:
		return http.StatusUnauthorized
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindTimeout:
		return http.StatusServiceUnavailable
	case errs.KindPartialFailure:
		return http.StatusAccepted
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. PartialFailure is a success for the caller: the
// state change is committed and its event is queued.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errs.KindOf(err)
	status := statusFor(kind)

	if kind == errs.KindPartialFailure {
		writeJSON(w, r, status, SuccessResponse{Success: true, EventsPending: true})
		return
	}
	if kind == errs.KindTimeout {
		w.Header().Set("Retry-After", "1")
	}

	message := "internal error"
	if status < http.StatusInternalServerError || kind == errs.KindTimeout {
		message = err.Error()
		var e *errs.Error
		if errors.As(err, &e) && e.Msg != "" {
			message = e.Msg
		}
	} else {
		slog.Error("request_failed", "trace_id", getTraceID(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeJSON(w, r, status, errorBody(string(kind), message, status))
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed_to_encode_response", "trace_id", getTraceID(r.Context()), "error", err)
	}
}
