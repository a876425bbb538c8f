package wwerrors

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitRunFailed   = 1 // at least one job failed
	ExitUsage       = 2 // configuration or validation error
	ExitEnvironment = 3 // host environment unusable
)

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch GetCategory(err) {
	case CategoryConfig, CategoryValidation:
		return ExitUsage
	case CategoryEnvironment:
		return ExitEnvironment
	default:
		return ExitRunFailed
	}
}

// HTTPStatus maps an error to an HTTP status code for the daemon's servers.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch GetCategory(err) {
	case CategoryValidation, CategoryConfig:
		return http.StatusBadRequest
	case CategoryAuth:
		return http.StatusUnauthorized
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryNetwork, CategoryGit:
		return http.StatusBadGateway
	case CategoryRun:
		return http.StatusUnprocessableEntity
	case CategoryDaemon:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// httpErrorResponse is the canonical JSON error payload.
type httpErrorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

// WriteHTTP writes the error as a JSON response with the mapped status and
// logs it at a level matching its severity.
func WriteHTTP(w http.ResponseWriter, err error) {
	if err == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	payload := httpErrorResponse{Error: err.Error()}
	if e, ok := As(err); ok {
		payload.Error = e.Message
		payload.Code = string(e.Category)
		payload.Retryable = e.Retryable
		if len(e.Context) > 0 {
			payload.Details = e.Context
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(err))
	if encodeErr := json.NewEncoder(w).Encode(payload); encodeErr != nil {
		slog.Error("failed to encode error response", "error", encodeErr)
	}

	logHTTPError(err)
}

func logHTTPError(err error) {
	e, ok := As(err)
	if !ok {
		slog.Error("unclassified error", "error", err)
		return
	}
	attrs := []any{"category", string(e.Category)}
	if e.Retryable {
		attrs = append(attrs, "retryable", true)
	}
	switch e.Severity {
	case SeverityInfo:
		slog.Info(e.Message, attrs...)
	case SeverityWarning:
		slog.Warn(e.Message, attrs...)
	default:
		slog.Error(e.Message, attrs...)
	}
}
