package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientIP(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.0.2.7"})
	if err != nil {
		t.Fatalf("parse proxies: %v", err)
	}

	tests := []struct {
		name   string
		remote string
		xff    string
		xri    string
		want   string
	}{
		{name: "untrusted peer ignores forwarded for", remote: "203.0.113.9:4000", xff: "198.51.100.1", want: "203.0.113.9"},
		{name: "untrusted peer ignores real ip", remote: "203.0.113.9:4000", xri: "198.51.100.1", want: "203.0.113.9"},
		{name: "trusted peer uses forwarded for", remote: "10.1.2.3:4000", xff: "198.51.100.1", want: "198.51.100.1"},
		{name: "skips trusted hops from the right", remote: "10.1.2.3:4000", xff: "1.1.1.1, 198.51.100.1, 192.0.2.7", want: "198.51.100.1"},
		{name: "trusted peer uses real ip", remote: "192.0.2.7:80", xri: "198.51.100.2", want: "198.51.100.2"},
		{name: "trusted peer without headers", remote: "10.1.2.3:4000", want: "10.1.2.3"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xri != "" {
				req.Header.Set("X-Real-IP", tc.xri)
			}
			if got := proxies.ClientIP(req); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestParseTrustedProxiesRejectsGarbage(t *testing.T) {
	if _, err := ParseTrustedProxies([]string{"not-an-ip"}); err == nil {
		t.Fatalf("expected error for invalid entry")
	}
}

func TestRateLimitIgnoresSpoofedHeaders(t *testing.T) {
	limiter := NewIPRateLimiter(2)
	handler := rateLimitMiddleware(limiter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
		req.RemoteAddr = "203.0.113.9:4000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected third request from one peer to be limited, got %v", codes)
	}
	if n := limiter.Len(); n != 1 {
		t.Fatalf("expected one tracked client, got %d", n)
	}
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewIPRateLimiter(60)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		limiter.limiter(fmt.Sprintf("198.51.100.%d", i))
	}
	if n := limiter.Len(); n != 5 {
		t.Fatalf("expected 5 clients, got %d", n)
	}

	now = now.Add(limiterIdleTTL + time.Minute)
	limiter.limiter("203.0.113.9")
	if n := limiter.Len(); n != 1 {
		t.Fatalf("expected idle clients evicted, got %d", n)
	}
}
