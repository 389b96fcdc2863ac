package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/keepsake/internal/pipeline"
)

// Error codes returned in the {code, message} envelope.
const (
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeInvalidRequest   = string(pipeline.CodeInvalidRequest)
	CodeNotFound         = string(pipeline.CodeNotFound)
	CodeProcessingFailed = string(pipeline.CodeProcessingFailed)
	CodeInternal         = string(pipeline.CodeInternal)
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func httpError(w http.ResponseWriter, status int, code string, format string, args ...any) {
	writeJSON(w, status, errorResponse{Code: code, Message: fmt.Sprintf(format, args...)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writePipelineError maps a pipeline failure to its HTTP status. Only the
// public message leaves the process; the cause is logged.
func writePipelineError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var pe *pipeline.Error
	if !errors.As(err, &pe) {
		logger.Error("unexpected pipeline error", "error", err)
		httpError(w, http.StatusInternalServerError, CodeInternal, "An unexpected error occurred")
		return
	}
	if pe.Err != nil {
		logger.Warn("pipeline request failed", "code", pe.Code, "error", pe.Err)
	}
	httpError(w, statusForCode(pe.Code), string(pe.Code), "%s", pe.Message)
}

func statusForCode(code pipeline.Code) int {
	switch code {
	case pipeline.CodeInvalidRequest:
		return http.StatusBadRequest
	case pipeline.CodeNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	httpError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Only POST requests are allowed")
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	httpError(w, http.StatusNotFound, CodeNotFound, "Route not found")
}

// recoverer turns a handler panic into a 500 envelope.
func recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic in handler", "path", r.URL.Path, "panic", rec)
					httpError(w, http.StatusInternalServerError, CodeInternal, "An unexpected error occurred")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
