package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"eadash.io/internal/obs"
)

func TestRateLimitExceeded(t *testing.T) {
	t.Cleanup(obs.SetLogger(zap.NewNop()))
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequestID(RateLimit(base, rate.Every(time.Minute), 1, ClientIP{}))

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req.Clone(context.Background()))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first call 200, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req.Clone(context.Background()))
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr2.Code)
	}
	retry, err := strconv.Atoi(rr2.Header().Get("Retry-After"))
	if err != nil || retry < 1 || retry > 60 {
		t.Fatalf("unexpected Retry-After %q", rr2.Header().Get("Retry-After"))
	}

	var body map[string]any
	if err := json.Unmarshal(rr2.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode rate limit body: %v", err)
	}
	if body["error"] == "" {
		t.Fatalf("expected error message in body")
	}
	if body["request_id"] == "" {
		t.Fatalf("expected request_id in body")
	}

	other := req.Clone(context.Background())
	other.RemoteAddr = "10.0.0.2:1234"
	rr3 := httptest.NewRecorder()
	handler.ServeHTTP(rr3, other)
	if rr3.Code != http.StatusOK {
		t.Fatalf("limit must be per client, got %d", rr3.Code)
	}
}

func TestRateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	t.Cleanup(obs.SetLogger(zap.NewNop()))
	admitted := 0
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		admitted++
		w.WriteHeader(http.StatusOK)
	})
	handler := RateLimit(base, rate.Every(time.Minute/5), 5, ClientIP{})

	var last int
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		req.Header.Set("X-Forwarded-For", "203.0.113."+strconv.Itoa(i))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		last = rr.Code
	}
	if admitted != 5 {
		t.Fatalf("admitted %d requests from one peer, want 5", admitted)
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after rotating X-Forwarded-For, got %d", last)
	}
}

func TestRateLimitBehindTrustedProxy(t *testing.T) {
	t.Cleanup(obs.SetLogger(zap.NewNop()))
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	proxies := NewClientIP([]netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")})
	handler := RateLimit(base, rate.Every(time.Minute), 1, proxies)

	send := func(xff string) int {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		req.Header.Set("X-Forwarded-For", xff)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}
	if code := send("198.51.100.7"); code != http.StatusOK {
		t.Fatalf("first client: %d", code)
	}
	if code := send("198.51.100.8"); code != http.StatusOK {
		t.Fatalf("distinct clients behind the proxy must not share a bucket: %d", code)
	}
	// A spoofed leftmost entry does not change the hop the proxy appended.
	if code := send("1.2.3.4, 198.51.100.7"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for repeated client, got %d", code)
	}
}

func TestClientIPResolve(t *testing.T) {
	proxies := NewClientIP([]netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.168.1.1/32"),
	})
	cases := []struct {
		name   string
		ips    ClientIP
		remote string
		xff    string
		want   string
	}{
		{"no proxies trusted", ClientIP{}, "10.0.0.1:80", "203.0.113.9", "10.0.0.1"},
		{"untrusted peer", proxies, "198.51.100.1:80", "203.0.113.9", "198.51.100.1"},
		{"trusted peer", proxies, "10.0.0.1:80", "203.0.113.9", "203.0.113.9"},
		{"proxy chain", proxies, "10.0.0.1:80", "203.0.113.9, 192.168.1.1", "203.0.113.9"},
		{"spoofed prefix", proxies, "10.0.0.1:80", "6.6.6.6, 203.0.113.9", "203.0.113.9"},
		{"garbage hop", proxies, "10.0.0.1:80", "nonsense", "10.0.0.1"},
		{"all trusted", proxies, "10.0.0.1:80", "10.1.1.1", "10.1.1.1"},
		{"no header", proxies, "10.0.0.1:80", "", "10.0.0.1"},
		{"ipv6 peer", ClientIP{}, "[2001:db8::1]:443", "", "2001:db8::1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if got := tc.ips.Resolve(req); got != tc.want {
				t.Fatalf("Resolve() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestLoginIsRateLimitedPerClient(t *testing.T) {
	api := newTestAPI(t, WithLoginRate(rate.Every(time.Minute/5), 5))

	for i := 0; i < 5; i++ {
		resp := api.do(http.MethodPost, "/auth/login", map[string]string{"email": adminEmail, "password": "wrong"}, nil)
		expectStatus(t, resp, http.StatusUnauthorized)
		resp.Body.Close()
	}
	resp := api.do(http.MethodPost, "/auth/login", map[string]string{"email": adminEmail, "password": adminPassword}, nil)
	expectStatus(t, resp, http.StatusTooManyRequests)
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	resp.Body.Close()
}

func TestLoggingJSONEmitsStructuredEntry(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	t.Cleanup(obs.SetLogger(zap.New(core)))

	handler := RequestID(LoggingJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/log-test", nil)
	req.Header.Set("X-Request-ID", "req-123")
	req.RemoteAddr = "127.0.0.1:1234"

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	entries := logs.FilterMessage("request_complete").All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	for _, key := range []string{"request_id", "method", "path", "status", "duration_ms", "remote"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("expected key %q in log entry", key)
		}
	}
	if fields["status"] != int64(http.StatusTeapot) {
		t.Fatalf("unexpected status: %v", fields["status"])
	}
	if fields["request_id"] != "req-123" {
		t.Fatalf("client request id not propagated: %v", fields["request_id"])
	}
	if rr.Header().Get("X-Request-ID") != "req-123" {
		t.Fatalf("response must echo the request id")
	}
}

func TestCORSAllowsConfiguredOrigins(t *testing.T) {
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), []string{"http://localhost:3000"})

	req := httptest.NewRequest(http.MethodOptions, "/applications/APP-001", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight status %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("origin not allowed")
	}
	if got := rr.Header().Get("Access-Control-Allow-Headers"); !slices.Contains(strings.Split(got, ","), "If-Match") {
		t.Fatalf("If-Match must be an allowed header, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected origin allowed")
	}
}

func TestCORSWildcardOmitsCredentials(t *testing.T) {
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), []string{"*", "http://localhost:3000"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://anywhere.example")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("wildcard must answer with a literal *, got %q", got)
	}
	if rr.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Fatal("wildcard origins must not be credentialed")
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" ||
		rr.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("listed origin must stay credentialed: %v", rr.Header())
	}
}

func TestMaxBodyBytesRejectsLargeBodies(t *testing.T) {
	api := newTestAPI(t)
	admin := bearer(api.login(adminEmail, adminPassword).AccessToken)

	big := make([]byte, api.api.cfg.HTTP.MaxBodyBytes+1)
	for i := range big {
		big[i] = 'a'
	}
	resp := api.do(http.MethodPost, "/applications", map[string]any{"name": string(big)}, admin)
	expectStatus(t, resp, http.StatusRequestEntityTooLarge)
	resp.Body.Close()
}
