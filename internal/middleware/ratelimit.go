package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"
)

// RateLimiter counts attempts per key over a sliding window
type RateLimiter struct {
	attempts    map[string][]time.Time
	mutex       sync.Mutex
	maxAttempts int
	window      time.Duration
	now         func() time.Time
}

// NewRateLimiter creates a rate limiter allowing maxAttempts per window
func NewRateLimiter(maxAttempts int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		attempts:    make(map[string][]time.Time),
		maxAttempts: maxAttempts,
		window:      window,
		now:         time.Now,
	}
}

// Allow records an attempt for key and reports whether it is within the
// limit. Rejected attempts are not recorded.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	valid := rl.prune(key, now)
	if len(valid) >= rl.maxAttempts {
		return false
	}
	rl.attempts[key] = append(valid, now)
	return true
}

// RetryAfter returns how long until key may try again
func (rl *RateLimiter) RetryAfter(key string) time.Duration {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	valid := rl.prune(key, now)
	if len(valid) < rl.maxAttempts {
		return 0
	}
	// The oldest attempt in the window expires first.
	return valid[0].Add(rl.window).Sub(now)
}

// prune drops attempts outside the window. Callers hold rl.mutex.
func (rl *RateLimiter) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-rl.window)
	attempts := rl.attempts[key]

	var valid []time.Time
	for _, attempt := range attempts {
		if attempt.After(cutoff) {
			valid = append(valid, attempt)
		}
	}

	if len(valid) == 0 {
		delete(rl.attempts, key)
	} else {
		rl.attempts[key] = valid
	}
	return valid
}

// Cleanup removes expired entries every interval until ctx is done
func (rl *RateLimiter) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.mutex.Lock()
			now := rl.now()
			for key := range rl.attempts {
				rl.prune(key, now)
			}
			rl.mutex.Unlock()
		}
	}
}

// RateLimit limits POST requests per client IP
func RateLimit(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			ip := ClientIP(r)
			if !rl.Allow(ip) {
				wait := rl.RetryAfter(ip)
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(math.Ceil(wait.Seconds()))))
				WriteError(w, r, http.StatusTooManyRequests, "RATE_LIMITED",
					"Too many registration attempts. Please try again in "+wait.Round(time.Second).String()+".")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
