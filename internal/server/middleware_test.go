package server

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"siftsearch/internal/config"
)

func TestRequestIDGenerated(t *testing.T) {
	a := newTestAPI(t, config.ServerConfig{})
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	id := rr.Header().Get("X-Request-ID")
	if len(id) != 32 {
		t.Fatalf("expected 32-char request id, got %q", id)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	a := newTestAPI(t, config.ServerConfig{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "abc123" {
		t.Fatalf("want propagated id, got %q", got)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:4567"
	if got := clientIP(req); got != "10.0.0.5" {
		t.Fatalf("remote addr: %q", got)
	}
	req.Header.Set("X-Real-IP", "10.0.0.9")
	if got := clientIP(req); got != "10.0.0.9" {
		t.Fatalf("x-real-ip: %q", got)
	}
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	if got := clientIP(req); got != "1.2.3.4" {
		t.Fatalf("xff: %q", got)
	}
}

func TestRateLimitGlobal(t *testing.T) {
	t.Setenv("SIFTSEARCH_RATE_LIMIT_GLOBAL_RPS", "1")
	a := newTestAPI(t, config.ServerConfig{})
	h := a.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("first request: %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("want 429, got %d", rr.Code)
	}
	ra, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	if err != nil || ra < 1 {
		t.Fatalf("bad Retry-After %q", rr.Header().Get("Retry-After"))
	}
	if e := decodeError(t, rr); e.Error != "rate_limited" || e.Code != 429 {
		t.Fatalf("unexpected body: %+v", e)
	}
}

func TestRateLimitPathScope(t *testing.T) {
	t.Setenv("SIFTSEARCH_RATE_LIMIT_PATH_RPS", "1")
	a := newTestAPI(t, config.ServerConfig{})
	h := a.Handler()

	for _, p := range []string{"/healthz", "/stats"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, p, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: first request limited: %d", p, rr.Code)
		}
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second /healthz: want 429, got %d", rr.Code)
	}
}

func TestRateLimitIPScope(t *testing.T) {
	t.Setenv("SIFTSEARCH_RATE_LIMIT_IP_RPS", "1")
	a := newTestAPI(t, config.ServerConfig{})
	h := a.Handler()

	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}
	if send("1.1.1.1") != http.StatusOK || send("2.2.2.2") != http.StatusOK {
		t.Fatalf("distinct clients should each get a token")
	}
	if send("1.1.1.1") != http.StatusTooManyRequests {
		t.Fatalf("repeat client should be limited")
	}
}

func TestRateLimitDisabledByDefault(t *testing.T) {
	a := newTestAPI(t, config.ServerConfig{})
	h := a.Handler()
	for i := 0; i < 20; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d limited", i)
		}
	}
}

func TestAuthorizeToken(t *testing.T) {
	a := newTestAPI(t, config.ServerConfig{Token: "s3cret"})
	h := a.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rr.Code != http.StatusUnauthorized || decodeError(t, rr).Error != "unauthorized" {
		t.Fatalf("want 401, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("bearer: want 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stats?token=s3cret", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("query token: want 200, got %d", rr.Code)
	}

	// health stays open for probes
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz should not need a token: %d", rr.Code)
	}
}
