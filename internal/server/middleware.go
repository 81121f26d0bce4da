package server

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Chain composes middleware so the first argument runs outermost.
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// RecoveryMiddleware turns a downstream panic into a 500 instead of a
// dead connection, logging the stack.
func RecoveryMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Printf("PANIC_RECOVERED | method=%s path=%s error=%v\n%s",
						r.Method, r.URL.Path, err, debug.Stack())
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeadersMiddleware sets baseline response headers. The API serves
// machine-readable JSON, so responses are never cacheable or frameable.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}

// CORSConfig holds the allowed origins. Origins can be replaced at runtime
// by a config reload.
type CORSConfig struct {
	mu      sync.RWMutex
	origins []string
}

// NewCORSConfig creates a CORSConfig allowing the given origins. "*"
// allows every origin; "*.example.com" allows any subdomain.
func NewCORSConfig(origins []string) *CORSConfig {
	return &CORSConfig{origins: origins}
}

// SetAllowedOrigins replaces the origin allowlist.
func (c *CORSConfig) SetAllowedOrigins(origins []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.origins = origins
}

func (c *CORSConfig) allowOrigin(origin string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, allowed := range c.origins {
		if allowed == "*" {
			return "*", true
		}
		if origin == "" {
			continue
		}
		if allowed == origin {
			return origin, true
		}
		if strings.HasPrefix(allowed, "*.") && strings.HasSuffix(origin, strings.TrimPrefix(allowed, "*")) {
			return origin, true
		}
	}
	return "", false
}

// CORSMiddleware answers preflight requests and sets Access-Control
// headers for allowed origins.
func CORSMiddleware(cors *CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin, ok := cors.allowOrigin(r.Header.Get("Origin")); ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientLimiter pairs a limiter with its last use so idle clients can be
// evicted.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out a token-bucket limiter per client IP.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
}

// idleEviction is how long a client must be quiet before its limiter is
// dropped.
const idleEviction = 3 * time.Minute

// NewRateLimiter creates a RateLimiter allowing perSecond sustained
// requests with the given burst per client.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(perSecond),
		burst:   burst,
	}
	go rl.evictIdle()
	return rl
}

// SetLimits changes the sustained rate and burst, including for clients
// already being tracked.
func (rl *RateLimiter) SetLimits(perSecond float64, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.limit = rate.Limit(perSecond)
	rl.burst = burst
	for _, c := range rl.clients {
		c.limiter.SetLimit(rl.limit)
		c.limiter.SetBurst(burst)
	}
}

// Allow reports whether a request from ip fits its budget, consuming one
// token when it does.
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.limiterFor(ip).Allow()
}

// Limit is the current sustained rate in requests per second.
func (rl *RateLimiter) Limit() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return float64(rl.limit)
}

// Remaining is the whole number of tokens ip has left right now.
func (rl *RateLimiter) Remaining(ip string) int {
	n := int(rl.limiterFor(ip).Tokens())
	if n < 0 {
		return 0
	}
	return n
}

func (rl *RateLimiter) limiterFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = time.Now()
	return c.limiter
}

func (rl *RateLimiter) evictIdle() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		for ip, c := range rl.clients {
			if time.Since(c.lastSeen) > idleEviction {
				delete(rl.clients, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// RateLimitMiddleware rejects clients over their budget with 429 and
// reports the budget in X-RateLimit headers.
func RateLimitMiddleware(limiter *RateLimiter, ips *ClientIPResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ips.ClientIP(r)
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%g", limiter.Limit()))

			if !limiter.Allow(ip) {
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", "1")
				log.Printf("RATE_LIMIT_EXCEEDED | ip=%s", ip)
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", limiter.Remaining(ip)))
			next.ServeHTTP(w, r)
		})
	}
}

// statusWriter captures the status code written downstream.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// RequestLogMiddleware assigns each request an id, echoes it in
// X-Request-ID, and logs method, path, status and duration. A caller
// supplied X-Request-ID is kept so ids can follow a request across
// services.
func RequestLogMiddleware(logger *log.Logger, ips *ClientIPResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", requestID)

			wrapped := newStatusWriter(w)
			next.ServeHTTP(wrapped, r)

			logger.Printf("REQUEST | id=%s ip=%s method=%s path=%s status=%d duration=%.3fs",
				requestID, ips.ClientIP(r), r.Method, r.URL.Path, wrapped.status,
				time.Since(start).Seconds())
		})
	}
}

// ClientIPResolver extracts the client IP from a request. Forwarded
// headers are honored only when the direct peer is a trusted proxy,
// otherwise any client could spoof its way past the rate limiter.
type ClientIPResolver struct {
	mu    sync.RWMutex
	cidrs []*net.IPNet
}

// NewClientIPResolver creates a resolver trusting the given proxies.
// Entries are CIDR ranges or bare IPs; invalid entries are skipped with a
// log line. With no trusted proxies every request resolves to its direct
// peer.
func NewClientIPResolver(proxies []string) *ClientIPResolver {
	r := &ClientIPResolver{}
	r.SetTrustedProxies(proxies)
	return r
}

// SetTrustedProxies replaces the trusted proxy set.
func (r *ClientIPResolver) SetTrustedProxies(proxies []string) {
	cidrs := make([]*net.IPNet, 0, len(proxies))
	for _, p := range proxies {
		if _, ipNet, err := net.ParseCIDR(p); err == nil {
			cidrs = append(cidrs, ipNet)
			continue
		}
		if ip := net.ParseIP(p); ip != nil {
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			cidrs = append(cidrs, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		log.Printf("TRUSTED_PROXY_SKIPPED | entry=%q is not an IP or CIDR", p)
	}

	r.mu.Lock()
	r.cidrs = cidrs
	r.mu.Unlock()
}

func (r *ClientIPResolver) trusts(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cidr := range r.cidrs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP resolves the originating client address. X-Forwarded-For wins
// over X-Real-IP; both must carry a parseable address to count.
func (r *ClientIPResolver) ClientIP(req *http.Request) string {
	connIP := req.RemoteAddr
	if host, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		connIP = host
	}

	if !r.trusts(connIP) {
		return connIP
	}

	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if xri := strings.TrimSpace(req.Header.Get("X-Real-IP")); xri != "" {
		if net.ParseIP(xri) != nil {
			return xri
		}
	}
	return connIP
}
