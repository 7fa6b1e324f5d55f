package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/redmonkez12/accountd/internal/logging"
)

// Adapter-level error codes. Domain codes come from the auth package.
const (
	CodeInvalidRequestBody = "INVALID_REQUEST_BODY"
	CodeTooManyRequests    = "TOO_MANY_REQUESTS"
	CodeCooldownActive     = "COOLDOWN_ACTIVE"
	CodeMissingAuth        = "MISSING_AUTH"
	CodeInvalidAuthHeader  = "INVALID_AUTH_HEADER"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeInternalError      = "INTERNAL_ERROR"
)

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// MessageResponse is a success response that carries only a message.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// RespondJSON sends a JSON response with the given status code.
// Logs encoding errors to avoid silent failures.
func RespondJSON(w http.ResponseWriter, r *http.Request, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.GetLoggerFromContext(r.Context()).Error("failed to encode JSON response", "error", err.Error())
	}
}

// RespondMessage sends {success:true, message}.
func RespondMessage(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	RespondJSON(w, r, MessageResponse{Success: true, Message: message}, statusCode)
}

// RespondErrorWithCode sends a JSON error response with a machine-readable error code.
func RespondErrorWithCode(w http.ResponseWriter, r *http.Request, message string, code string, statusCode int) {
	RespondJSON(w, r, ErrorResponse{Message: message, Code: code}, statusCode)
}

// NotFound answers unknown routes in the same envelope as every other error.
func NotFound(w http.ResponseWriter, r *http.Request) {
	RespondErrorWithCode(w, r, "resource not found", CodeNotFound, http.StatusNotFound)
}

func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	RespondErrorWithCode(w, r, "method not allowed", CodeMethodNotAllowed, http.StatusMethodNotAllowed)
}
