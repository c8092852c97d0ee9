package middleware

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig returns the configuration for the registration API
func DefaultCORSConfig(origins []string) CORSConfig {
	return CORSConfig{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader, "Retry-After"},
		MaxAge:         86400,
	}
}

// CORSMiddleware answers preflight requests and sets CORS headers for
// allowed origins only. Requests from other origins pass through untouched
// and the browser enforces the policy.
func CORSMiddleware(config CORSConfig) func(http.Handler) http.Handler {
	methods := strings.Join(config.AllowedMethods, ", ")
	headers := strings.Join(config.AllowedHeaders, ", ")
	exposed := strings.Join(config.ExposedHeaders, ", ")
	maxAge := ""
	if config.MaxAge > 0 {
		maxAge = strconv.Itoa(config.MaxAge)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || !isOriginAllowed(origin, config.AllowedOrigins) {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			if config.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if exposed != "" {
				h.Set("Access-Control-Expose-Headers", exposed)
			}

			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if !preflight {
				next.ServeHTTP(w, r)
				return
			}

			if methods != "" {
				h.Set("Access-Control-Allow-Methods", methods)
			}
			if headers != "" {
				h.Set("Access-Control-Allow-Headers", headers)
			}
			if maxAge != "" {
				h.Set("Access-Control-Max-Age", maxAge)
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

// isOriginAllowed matches exact origins, "*", and "*.domain" patterns. A
// wildcard matches subdomains of domain only, never domain itself.
func isOriginAllowed(origin string, allowedOrigins []string) bool {
	var host string
	if u, err := url.Parse(origin); err == nil {
		host = u.Hostname()
	}

	for _, allowed := range allowedOrigins {
		switch {
		case allowed == "*" || allowed == origin:
			return true
		case strings.Contains(allowed, "*."):
			_, domain, _ := strings.Cut(allowed, "*.")
			if host != "" && strings.HasSuffix(host, "."+domain) {
				return true
			}
		}
	}
	return false
}

// SecurityHeadersMiddleware adds security headers suitable for a JSON API
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		if r.TLS != nil {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}
