package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/and161185/sonickeeper/internal/errs"
)

// Result is the body of every response.
type Result struct {
	OK      bool      `json:"ok"`
	Code    errs.Code `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

var codeStatus = map[errs.Code]int{
	errs.CodeOK:                     http.StatusOK,
	errs.CodeInvalidIdentifier:      http.StatusBadRequest,
	errs.CodeValidation:             http.StatusBadRequest,
	errs.CodeMismatchedConfirmation: http.StatusBadRequest,
	errs.CodeMissingToken:           http.StatusBadRequest,
	errs.CodeWrongPassword:          http.StatusForbidden,
	errs.CodeUnauthenticated:        http.StatusUnauthorized,
	errs.CodeInvalidCredentials:     http.StatusUnauthorized,
	errs.CodeUnauthorized:           http.StatusForbidden,
	errs.CodeNotFound:               http.StatusNotFound,
	errs.CodeDuplicateName:          http.StatusConflict,
	errs.CodeRateLimited:            http.StatusTooManyRequests,
	errs.CodeExternalService:        http.StatusBadGateway,
	errs.CodeStorageUnavailable:     http.StatusServiceUnavailable,
	errs.CodeInternal:               http.StatusInternalServerError,
}

// StatusOf maps a result code onto an HTTP status.
func StatusOf(c errs.Code) int {
	if s, ok := codeStatus[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // best-effort write, the client may be gone
		json.NewEncoder(w).Encode(v)
	}
}

func writeOK(w http.ResponseWriter, status int, msg string, data any) {
	writeJSON(w, status, Result{OK: true, Code: errs.CodeOK, Message: msg, Data: data})
}

// writeError renders err as a Result. Internal and storage failures are
// logged; their details never reach the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.CodeOf(err)
	switch {
	case code == errs.CodeInternal && r.Context().Err() != nil:
		// client went away, nothing useful to send
		s.log.Debug("request canceled", zap.String("path", r.URL.Path), zap.Error(err))
	case code == errs.CodeInternal || code == errs.CodeStorageUnavailable:
		s.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	case code == errs.CodeExternalService:
		s.log.Warn("external service failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, StatusOf(code), Result{OK: false, Code: code, Message: errs.MessageOf(err)})
}
