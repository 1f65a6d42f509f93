package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterRefill(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 60, BurstSize: 2})
	rl.now = func() time.Time { return now }

	if !rl.Allow("10.0.0.1") || !rl.Allow("10.0.0.1") {
		t.Fatal("burst requests should be allowed")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("request beyond the burst should be refused")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("clients should have separate buckets")
	}

	now = now.Add(time.Second)
	if !rl.Allow("10.0.0.1") {
		t.Error("one token should refill after a second at 60/min")
	}
}

func TestRateLimiterSweep(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerMinute: 60, BurstSize: 1})
	rl.now = func() time.Time { return now }

	rl.Allow("10.0.0.1")
	now = now.Add(3 * time.Minute)
	rl.Allow("10.0.0.2")
	now = now.Add(3 * time.Minute)

	if removed := rl.sweep(); removed != 1 {
		t.Errorf("sweep() = %d, want 1", removed)
	}
	if len(rl.buckets) != 1 {
		t.Errorf("%d buckets left, want 1", len(rl.buckets))
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	_, ts := newTestServer(t, Config{RateLimit: 60, RateBurst: 2})

	for i := 0; i < 2; i++ {
		resp, _ := do(t, http.MethodGet, ts.URL+"/health", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d = %d", i, resp.StatusCode)
		}
		if resp.Header.Get("X-RateLimit-Limit") != "60" {
			t.Errorf("X-RateLimit-Limit = %q", resp.Header.Get("X-RateLimit-Limit"))
		}
	}

	resp, env := do(t, http.MethodGet, ts.URL+"/health", "")
	if resp.StatusCode != http.StatusTooManyRequests || env.Error.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("third request = %d %+v", resp.StatusCode, env.Error)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "192.0.2.1:5000", "192.0.2.1"},
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "10.0.0.1:80", "203.0.113.9"},
		{"real ip", map[string]string{"X-Real-IP": " 203.0.113.7 "}, "10.0.0.1:80", "203.0.113.7"},
		{"garbage header", map[string]string{"X-Forwarded-For": "not-an-ip"}, "[2001:db8::1]:443", "2001:db8::1"},
		{"unparseable", nil, "somewhere", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := getClientIP(r); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsOriginAllowed(t *testing.T) {
	allowed := []string{"https://app.example.org", "*.bible.test"}
	tests := []struct {
		origin string
		want   bool
	}{
		{"https://app.example.org", true},
		{"https://other.example.org", false},
		{"https://read.bible.test", true},
		{"https://evilbible.test", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isOriginAllowed(tt.origin, allowed); got != tt.want {
			t.Errorf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
	if !isOriginAllowed("https://anything", []string{"*"}) {
		t.Error("* should allow every origin")
	}
}
