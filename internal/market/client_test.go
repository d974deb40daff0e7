package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testPacing 把所有间隔调到接近零，测试不用等真实节奏
func testPacing() Pacing {
	return Pacing{
		High:            time.Millisecond,
		Normal:          time.Millisecond,
		Low:             time.Millisecond,
		Provider:        time.Millisecond,
		DefaultCooldown: 60 * time.Second,
		RetryBase:       time.Millisecond,
		RetryCap:        10 * time.Millisecond,
		MaxAttempts:     3,
		DedupWindow:     30 * time.Second,
	}
}

func newTestClient(srvURL string) *Client {
	c := NewClient(srvURL, "", NewState())
	c.pacing = testPacing()
	return c
}

func TestRateLimitSetsCooldownAndBlocksNextCall(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	ctx := context.Background()

	_, err := c.Get(ctx, "/simple/price", nil, []string{"bitcoin", "ethereum"}, PriorityHigh)
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("want RateLimitError, got %v", err)
	}
	if rl.RetryAfter < 29*time.Second || rl.RetryAfter > 31*time.Second {
		t.Fatalf("RetryAfter = %v, want ~30s", rl.RetryAfter)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("429 must not be retried in-call, hits = %d", got)
	}

	// 冷却期内的后续调用必须直接失败，不发网络请求
	_, err = c.Get(ctx, "/simple/price", nil, []string{"bitcoin", "ethereum"}, PriorityHigh)
	if !errors.As(err, &rl) {
		t.Fatalf("call during cooldown: want RateLimitError, got %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("cooldown call must skip network, hits = %d", got)
	}
}

func TestRateLimitShrinksBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	before := c.state.BatchSize()

	_, _ = c.Get(context.Background(), "/coins/markets", nil, []string{"bitcoin"}, PriorityNormal)

	want := clampBatch(int(float64(before) * 0.8))
	if got := c.state.BatchSize(); got != want {
		t.Fatalf("batch after 429 = %d, want %d", got, want)
	}
}

func TestRetriesTransientErrorsThenSucceeds(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"bitcoin":{"usd":60000}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	body, err := c.Get(context.Background(), "/simple/price", nil, []string{"bitcoin"}, PriorityHigh)
	if err != nil {
		t.Fatalf("expected success after retries: %v", err)
	}
	if len(body) == 0 {
		t.Fatalf("empty body")
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("hits = %d, want 3", got)
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Get(context.Background(), "/nope", nil, nil, PriorityHigh)
	var te *TransportError
	if !errors.As(err, &te) || te.Status != http.StatusNotFound {
		t.Fatalf("want TransportError 404, got %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("4xx should not be retried, hits = %d", got)
	}
}

func TestConcurrentIdenticalRequestsShareOneFlight(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		time.Sleep(80 * time.Millisecond)
		w.Write([]byte(`{"bitcoin":{"usd":60000}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// ids 顺序不同也应命中同一个在途请求
			ids := []string{"bitcoin", "ethereum"}
			if i%2 == 1 {
				ids = []string{"ethereum", "bitcoin"}
			}
			_, errs[i] = c.Get(ctx, "/simple/price", nil, ids, PriorityHigh)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("identical concurrent requests should share one flight, hits = %d", got)
	}
}

func TestTrendingIDsParsesProviderShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"coins":[{"item":{"id":"bitcoin"}},{"item":{"id":"solana"}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	ids, err := c.TrendingIDs(context.Background(), PriorityNormal)
	if err != nil {
		t.Fatalf("TrendingIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != "bitcoin" || ids[1] != "solana" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestValidationErrorOnMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.SimplePrice(context.Background(), []string{"bitcoin"}, "usd", PriorityHigh)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want ValidationError, got %v", err)
	}
}

func TestBackoffStaysWithinBounds(t *testing.T) {
	p := defaultPacing()
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoff(p, attempt)
		if d < p.RetryBase {
			t.Fatalf("attempt %d: backoff %v below floor %v", attempt, d, p.RetryBase)
		}
		if d > p.RetryCap {
			t.Fatalf("attempt %d: backoff %v above cap %v", attempt, d, p.RetryCap)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d := parseRetryAfter("30", time.Minute); d != 30*time.Second {
		t.Fatalf("numeric retry-after = %v", d)
	}
	if d := parseRetryAfter("", time.Minute); d != time.Minute {
		t.Fatalf("missing retry-after should use default, got %v", d)
	}
	if d := parseRetryAfter("garbage", time.Minute); d != time.Minute {
		t.Fatalf("bad retry-after should use default, got %v", d)
	}
}
