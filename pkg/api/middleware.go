package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimitConfig holds the rate limiter settings.
type rateLimitConfig struct {
	rps   rate.Limit
	burst int
}

// WriteRateLimiter throttles the verify-family routes: a process-wide token
// bucket plus a per-IP limiter of one request per 30 seconds.
type WriteRateLimiter struct {
	global   *rate.Limiter
	visitors map[string]*visitor
	mu       sync.Mutex
	config   rateLimitConfig
}

// visitor tracks the rate limiter and last seen time for an IP.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewWriteRateLimiter creates the write-path limiter. globalRPS and
// globalBurst size the shared bucket.
func NewWriteRateLimiter(globalRPS, globalBurst int) *WriteRateLimiter {
	rl := &WriteRateLimiter{
		global:   rate.NewLimiter(rate.Limit(globalRPS), globalBurst),
		visitors: make(map[string]*visitor),
		config: rateLimitConfig{
			rps:   rate.Every(30 * time.Second),
			burst: 1,
		},
	}
	go rl.cleanupVisitors()
	return rl
}

// getVisitor retrieves the limiter for a given IP, creating if necessary.
func (rl *WriteRateLimiter) getVisitor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists {
		limiter := rate.NewLimiter(rl.config.rps, rl.config.burst)
		rl.visitors[ip] = &visitor{limiter, time.Now()}
		return limiter
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// cleanupVisitors removes stale visitor entries to prevent memory leaks.
// Checks every minute, removes entries older than 3 minutes.
func (rl *WriteRateLimiter) cleanupVisitors() {
	for {
		time.Sleep(1 * time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// Middleware returns a Handler enforcing both limits.
func (rl *WriteRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.global.Allow() {
			WriteTooManyRequests(w, 5)
			return
		}
		if !rl.getVisitor(clientIP(r)).Allow() {
			WriteTooManyRequests(w, 30)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// No port or odd format; strip ipv6 brackets if present.
		ip = strings.TrimSuffix(strings.TrimPrefix(r.RemoteAddr, "["), "]")
	}
	return ip
}

// RequireSecret guards the webhook receivers with a constant-time comparison
// of the AUTHORIZATION header against the configured secret.
func RequireSecret(secret string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("AUTHORIZATION")
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			WriteUnauthorized(w, "invalid authorization")
			return
		}
		next.ServeHTTP(w, r)
	})
}
