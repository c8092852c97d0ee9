package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"function-ticketing-platform/internal/logging"
)

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, "production")

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	})

	req := httptest.NewRequest("POST", "/api/registrations", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rr := httptest.NewRecorder()

	RequestID(Logging(logger)(handler)).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "created", rr.Body.String())

	logOutput := buf.String()
	assert.Contains(t, logOutput, `"method":"POST"`)
	assert.Contains(t, logOutput, `"path":"/api/registrations"`)
	assert.Contains(t, logOutput, `"status":201`)
	assert.Contains(t, logOutput, `"bytes":7`)
	assert.Contains(t, logOutput, `"ip":"127.0.0.1"`)
	assert.Contains(t, logOutput, rr.Header().Get(RequestIDHeader))
}

func TestLogging_ServerErrorsLogAtErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, "production")

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	Logging(logger)(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	assert.Contains(t, buf.String(), `"level":"ERROR"`)
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, rr.Header().Get(RequestIDHeader))
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(RequestIDHeader, "upstream-123")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, "upstream-123", seen)
	})

	t.Run("oversized id replaced", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(RequestIDHeader, strings.Repeat("x", 100))
		handler.ServeHTTP(httptest.NewRecorder(), req)

		assert.Len(t, seen, 36)
	})
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		expected   string
	}{
		{
			name:       "X-Forwarded-For first hop",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"},
			remoteAddr: "10.0.0.2:1234",
			expected:   "203.0.113.7",
		},
		{
			name:       "X-Real-IP",
			headers:    map[string]string{"X-Real-IP": "203.0.113.8"},
			remoteAddr: "10.0.0.2:1234",
			expected:   "203.0.113.8",
		},
		{
			name:       "RemoteAddr host",
			remoteAddr: "192.168.1.1:12345",
			expected:   "192.168.1.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, ClientIP(req))
		})
	}
}
