package server

import (
	"fmt"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	nbytes int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.nbytes += n
	return n, err
}

func newRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// clientIP extracts the best-effort client IP from headers or RemoteAddr.
func clientIP(r *http.Request) string {
	// X-Forwarded-For may contain a comma-separated list; take the first
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return rip
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i > 0 {
		return host[:i]
	}
	return host
}

// rateLimiter keeps one token bucket per key.
type rateLimiter struct {
	mu      sync.Mutex
	rps     float64
	burst   int
	buckets map[string]*rate.Limiter
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	if burst <= 0 {
		burst = int(math.Max(1, rps))
	}
	return &rateLimiter{rps: rps, burst: burst, buckets: make(map[string]*rate.Limiter)}
}

func (rl *rateLimiter) enabled() bool { return rl != nil && rl.rps > 0 }

// allow reports whether a request with key is allowed now and, if not, the
// whole seconds until the next token.
func (rl *rateLimiter) allow(key string) (bool, int) {
	if !rl.enabled() {
		return true, 0
	}
	rl.mu.Lock()
	lim := rl.buckets[key]
	if lim == nil {
		lim = rate.NewLimiter(rate.Limit(rl.rps), rl.burst)
		rl.buckets[key] = lim
	}
	rl.mu.Unlock()

	now := time.Now()
	if lim.AllowN(now, 1) {
		return true, 0
	}
	res := lim.ReserveN(now, 1)
	wait := res.DelayFrom(now)
	res.CancelAt(now)
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return false, secs
}

// normalizePath bounds metric and limiter label cardinality.
func normalizePath(p string) string {
	switch p {
	case "/healthz", "/search", "/stats", "/reload", "/metrics":
		return p
	}
	return "/other"
}

// rateLimitMiddleware enforces RPS limits across global, path, and client scopes.
// SIFTSEARCH_RATE_LIMIT_RPS is the fallback for the scope-specific keys.
func rateLimitMiddleware(next http.Handler) http.Handler {
	// read env once on first use
	var once sync.Once
	var limiters []struct {
		rl  *rateLimiter
		key func(*http.Request) string
	}
	setup := func() {
		base := parseFloatEnv("SIFTSEARCH_RATE_LIMIT_RPS")
		burst := int(parseFloatEnv("SIFTSEARCH_RATE_LIMIT_BURST"))
		pick := func(key string) float64 {
			if v := parseFloatEnv(key); v != -1 {
				return v
			}
			return base
		}
		add := func(rps float64, key func(*http.Request) string) {
			limiters = append(limiters, struct {
				rl  *rateLimiter
				key func(*http.Request) string
			}{newRateLimiter(rps, burst), key})
		}
		add(pick("SIFTSEARCH_RATE_LIMIT_GLOBAL_RPS"), func(*http.Request) string { return "global" })
		add(pick("SIFTSEARCH_RATE_LIMIT_PATH_RPS"), func(r *http.Request) string { return "path:" + normalizePath(r.URL.Path) })
		add(pick("SIFTSEARCH_RATE_LIMIT_IP_RPS"), func(r *http.Request) string { return "ip:" + clientIP(r) })
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(setup)
		// deny if any scope exceeds
		for _, l := range limiters {
			if !l.rl.enabled() {
				continue
			}
			if ok, wait := l.rl.allow(l.key(r)); !ok {
				w.Header().Set("Retry-After", strconv.Itoa(wait))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func parseFloatEnv(key string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return -1
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
		return f
	}
	return -1
}

func (a *API) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		// request-id propagation: accept client-provided or generate
		reqID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = newRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		dur := time.Since(start)
		a.log.Info("http.req",
			"req_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"userAgent", r.UserAgent(),
			"remoteIP", clientIP(r),
			"status", rec.status,
			"duration_ms", int(dur/time.Millisecond),
			"bytes", rec.nbytes,
		)
		a.metrics.observeRequest(r.Method, normalizePath(r.URL.Path), fmt.Sprintf("%d", rec.status), dur)
	})
}

// authorize checks the optional bearer token. Accepts
// Authorization: Bearer <token> or query param ?token=...
func (a *API) authorize(w http.ResponseWriter, r *http.Request) bool {
	tok := a.cfg.Token
	if tok == "" {
		return true
	}
	hdr := r.Header.Get("Authorization")
	if strings.HasPrefix(hdr, "Bearer ") && strings.TrimSpace(hdr[len("Bearer "):]) == tok {
		return true
	}
	if r.URL.Query().Get("token") == tok {
		return true
	}
	writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
	return false
}
