package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// ErrorResponse is the JSON body of every error returned by the API
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorType string `json:"errorType"`
	RequestID string `json:"requestId,omitempty"`
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, r *http.Request, status int, errorType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:     message,
		ErrorType: errorType,
		RequestID: GetRequestID(r.Context()),
	})
}

// Recoverer turns panics into a 500 JSON response
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logger.Error("panic serving request",
						"panic", err,
						"path", r.URL.Path,
						"request_id", GetRequestID(r.Context()),
						"stack", string(debug.Stack()),
					)
					WriteError(w, r, http.StatusInternalServerError, "SERVER_ERROR", "Something went wrong. Please try again.")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// NotFoundHandler handles 404 errors
func NotFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "The requested resource does not exist.")
	})
}

// MethodNotAllowedHandler handles 405 errors
func MethodNotAllowedHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed for this endpoint.")
	})
}
