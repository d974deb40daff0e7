package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LJTian/CoinPulse/internal/cache"
	"github.com/LJTian/CoinPulse/internal/market"
)

type fakeMarket struct {
	ids     []string
	idsErr  error
	coins   []market.Coin
	coinErr error
}

func (f *fakeMarket) TrendingIDs(_ context.Context, _ market.Priority) ([]string, error) {
	return f.ids, f.idsErr
}

func (f *fakeMarket) MarketsByIDs(_ context.Context, _ []string, _ string, _ market.Priority) ([]market.Coin, error) {
	return f.coins, f.coinErr
}

func TestTrendingFiltersToRequestedIDs(t *testing.T) {
	api := &fakeMarket{
		ids: []string{"bitcoin", "solana"},
		coins: []market.Coin{
			{ID: "bitcoin", CurrentPrice: 60000},
			{ID: "dogecoin", CurrentPrice: 0.1}, // 提供方多塞的条目
			{ID: "solana", CurrentPrice: 150},
		},
	}
	s := NewTrendingService(api, cache.New(cache.NewMemoryBackend()), "usd")

	res, err := s.Fetch(context.Background(), false)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(res.Data) != 2 {
		t.Fatalf("filtered coins = %d, want 2: %+v", len(res.Data), res.Data)
	}
	for _, cn := range res.Data {
		if cn.ID == "dogecoin" {
			t.Fatalf("unrequested id must be filtered out")
		}
	}
}

func TestTrendingServesFreshCache(t *testing.T) {
	api := &fakeMarket{ids: []string{"bitcoin"}, coins: []market.Coin{{ID: "bitcoin"}}}
	s := NewTrendingService(api, cache.New(cache.NewMemoryBackend()), "usd")
	ctx := context.Background()

	if _, err := s.Fetch(ctx, false); err != nil {
		t.Fatalf("first fetch: %v", err)
	}

	api.idsErr = errors.New("should not be called")
	res, err := s.Fetch(ctx, false)
	if err != nil {
		t.Fatalf("cached fetch: %v", err)
	}
	if !res.FromCache {
		t.Fatalf("second fetch should be cached")
	}
}

func TestTrendingStaleFallbackThenError(t *testing.T) {
	api := &fakeMarket{ids: []string{"bitcoin"}, coins: []market.Coin{{ID: "bitcoin"}}}
	c := cache.New(cache.NewMemoryBackend())
	s := NewTrendingService(api, c, "usd")
	s.freshTTL = 20 * time.Millisecond
	ctx := context.Background()

	if _, err := s.Fetch(ctx, false); err != nil {
		t.Fatalf("seed fetch: %v", err)
	}
	time.Sleep(40 * time.Millisecond)

	api.idsErr = &market.RateLimitError{RetryAfter: 30 * time.Second}
	res, err := s.Fetch(ctx, false)
	if err != nil {
		t.Fatalf("stale fallback should succeed: %v", err)
	}
	if !res.FromCache {
		t.Fatalf("fallback result should be flagged FromCache")
	}

	// 缓存清掉之后，限流错误必须原样上抛，调用方要能分辨
	c.Remove(ctx, "service:trending")
	_, err = s.Fetch(ctx, false)
	var rl *market.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("want RateLimitError, got %v", err)
	}
}

func TestQuotesCacheKeyIgnoresIDOrder(t *testing.T) {
	if quoteKey([]string{"b", "a"}, "usd") != quoteKey([]string{"a", "b"}, "usd") {
		t.Fatalf("quote key must not depend on id order")
	}
	if quoteKey([]string{"a"}, "usd") == quoteKey([]string{"a"}, "eur") {
		t.Fatalf("quote key must include currency")
	}
}
