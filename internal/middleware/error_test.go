package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"function-ticketing-platform/internal/logging"
)

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestRecoverer(t *testing.T) {
	handler := RequestID(Recoverer(logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("POST", "/api/registrations", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	body := decodeError(t, rr)
	assert.Equal(t, "SERVER_ERROR", body.ErrorType)
	assert.Equal(t, rr.Header().Get(RequestIDHeader), body.RequestID)
}

func TestRecoverer_PassesThrough(t *testing.T) {
	handler := Recoverer(logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	rr := httptest.NewRecorder()
	NotFoundHandler().ServeHTTP(rr, httptest.NewRequest("GET", "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rr).ErrorType)

	rr = httptest.NewRecorder()
	MethodNotAllowedHandler().ServeHTTP(rr, httptest.NewRequest("DELETE", "/api/registrations", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, "METHOD_NOT_ALLOWED", decodeError(t, rr).ErrorType)
}

func TestCORSMiddleware(t *testing.T) {
	handler := CORSMiddleware(DefaultCORSConfig([]string{"https://register.example.org", "*.lodge.example"}))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	tests := []struct {
		name        string
		method      string
		origin      string
		preflight   bool
		wantStatus  int
		wantAllowed bool
	}{
		{name: "allowed origin", method: "POST", origin: "https://register.example.org", wantStatus: http.StatusOK, wantAllowed: true},
		{name: "wildcard subdomain", method: "GET", origin: "https://harmony.lodge.example", wantStatus: http.StatusOK, wantAllowed: true},
		{name: "preflight", method: "OPTIONS", origin: "https://register.example.org", preflight: true, wantStatus: http.StatusNoContent, wantAllowed: true},
		{name: "unknown origin", method: "POST", origin: "https://evil.example", wantStatus: http.StatusOK},
		{name: "lookalike domain", method: "POST", origin: "https://evillodge.example", wantStatus: http.StatusOK},
		{name: "wildcard parent domain", method: "POST", origin: "https://lodge.example", wantStatus: http.StatusOK},
		{name: "no origin", method: "GET", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/registrations", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", "POST")
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantAllowed {
				assert.Equal(t, tt.origin, rr.Header().Get("Access-Control-Allow-Origin"))
				if tt.preflight {
					assert.Equal(t, "GET, POST, OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))
				}
			} else {
				assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	rr := httptest.NewRecorder()
	SecurityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Empty(t, rr.Header().Get("Strict-Transport-Security"))
}
