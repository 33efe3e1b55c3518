package geocode

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type captureWarner struct {
	mu       sync.Mutex
	messages []string
}

func (c *captureWarner) Notify(source, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, source+": "+message)
}

func (c *captureWarner) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func newTestResolver(t *testing.T, handler http.HandlerFunc, warner Warner) (*Resolver, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	r := New(Config{
		BaseURL:  srv.URL,
		Throttle: time.Millisecond,
	}, warner, nil)
	return r, srv
}

func TestResolveReturnsDisplayName(t *testing.T) {
	var gotUA atomic.Value
	r, _ := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		gotUA.Store(req.Header.Get("User-Agent"))
		if req.URL.Query().Get("format") != "json" {
			t.Errorf("expected format=json, got %q", req.URL.Query().Get("format"))
		}
		json.NewEncoder(w).Encode(map[string]string{"display_name": "1 Main St, Springfield"})
	}, nil)

	addr := r.Resolve(context.Background(), 40.0, -75.0)
	if addr != "1 Main St, Springfield" {
		t.Fatalf("unexpected address %q", addr)
	}
	if ua, _ := gotUA.Load().(string); ua == "" {
		t.Fatalf("reverse lookup must send a User-Agent header")
	}
}

func TestResolveCachesByRoundedCoordinates(t *testing.T) {
	var calls int64
	r, _ := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt64(&calls, 1)
		json.NewEncoder(w).Encode(map[string]string{"display_name": "Cached Lane"})
	}, nil)

	first := r.Resolve(context.Background(), 40.1234561, -75.7654321)
	// Differs only past the sixth decimal place; same cache key.
	second := r.Resolve(context.Background(), 40.1234564, -75.7654323)
	if first != "Cached Lane" || second != "Cached Lane" {
		t.Fatalf("unexpected addresses %q, %q", first, second)
	}
	if n := atomic.LoadInt64(&calls); n != 1 {
		t.Fatalf("expected exactly one network lookup, got %d", n)
	}
	if r.CacheLen() != 1 {
		t.Fatalf("expected one cache entry, got %d", r.CacheLen())
	}
}

func TestResolveDegradesToUnknownOnServerError(t *testing.T) {
	warner := &captureWarner{}
	r, _ := newTestResolver(t, func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}, warner)

	addr := r.Resolve(context.Background(), 10.0, 10.0)
	if addr != Unknown {
		t.Fatalf("expected Unknown on server error, got %q", addr)
	}
	if warner.Count() != 1 {
		t.Fatalf("expected one warning, got %d", warner.Count())
	}
	// Failures are not cached; the next call retries.
	_ = r.Resolve(context.Background(), 10.0, 10.0)
	if warner.Count() != 2 {
		t.Fatalf("expected retry to warn again, got %d", warner.Count())
	}
}

func TestResolveHonorsContextCancellation(t *testing.T) {
	r := New(Config{
		BaseURL:  "http://127.0.0.1:0",
		Throttle: time.Hour,
	}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if addr := r.Resolve(ctx, 1.0, 2.0); addr != Unknown {
		t.Fatalf("cancelled resolve should return Unknown, got %q", addr)
	}
}

func TestCacheKeyRounding(t *testing.T) {
	if CacheKey(1.2345669, 2.0) != CacheKey(1.2345671, 2.0) {
		t.Fatalf("keys within rounding granularity should match")
	}
	if CacheKey(1.2345, 2.0) == CacheKey(1.2346, 2.0) {
		t.Fatalf("distinct coordinates should produce distinct keys")
	}
}

func TestLRUCacheEvictsOldest(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", "1")
	c.put("b", "2")
	if _, ok := c.get("a"); !ok {
		t.Fatalf("a should still be cached")
	}
	c.put("c", "3")
	// b was least recently used.
	if _, ok := c.get("b"); ok {
		t.Fatalf("b should have been evicted")
	}
	if _, ok := c.get("a"); !ok {
		t.Fatalf("a was recently used and should survive")
	}
	if _, ok := c.get("c"); !ok {
		t.Fatalf("c should be cached")
	}
}
