package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/roach88/wallet/internal/resource"
)

// errorBody is the JSON envelope of every failed request.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    resource.ErrorCode `json:"code"`
	Message string             `json:"message"`
	Field   string             `json:"field,omitempty"`
	ID      string             `json:"id,omitempty"`
}

// codeInternal is reported for failures outside the typed taxonomy.
const codeInternal resource.ErrorCode = "INTERNAL"

// statusFor maps an error code to an HTTP status.
func statusFor(code resource.ErrorCode) int {
	switch code {
	case resource.CodeValidation:
		return http.StatusBadRequest
	case resource.CodeNotFound:
		return http.StatusNotFound
	case resource.CodeCannotDeleteDefault, resource.CodeConflict:
		return http.StatusConflict
	case resource.CodeUnavailable:
		return http.StatusServiceUnavailable
	case resource.CodeUnauthenticated:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	detail := errorDetail{Code: codeInternal, Message: "internal error"}

	var re *resource.Error
	if errors.As(err, &re) {
		detail.Code = re.Code
		detail.Message = re.Message
		detail.Field = re.Field
		detail.ID = re.ID
	}

	status := statusFor(detail.Code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		s.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	if resource.Retryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
