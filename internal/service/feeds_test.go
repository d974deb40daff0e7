package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LJTian/CoinPulse/internal/cache"
	"github.com/LJTian/CoinPulse/internal/rss"
)

// fakeEngine 可编程的引擎替身
type fakeEngine struct {
	articles []rss.Article
	errs     []error
	calls    int
}

func (f *fakeEngine) FetchAll(_ context.Context, _ []string, _ bool) ([]rss.Article, []error) {
	f.calls++
	return f.articles, f.errs
}

func newFeedService(engine feedEngine) (*feedService, *cache.Cache) {
	c := cache.New(cache.NewMemoryBackend())
	return &feedService{
		engine:      engine,
		cache:       c,
		key:         "service:test",
		feeds:       []string{"https://feed.example/rss"},
		freshTTL:    time.Minute,
		staleWindow: time.Hour,
	}, c
}

func TestFetchCachesLiveResult(t *testing.T) {
	engine := &fakeEngine{articles: []rss.Article{
		{ID: "1", URL: "https://a/1", Title: "One", PublishedAt: 2},
		{ID: "2", URL: "https://a/2", Title: "Two", PublishedAt: 1},
	}}
	s, _ := newFeedService(engine)
	ctx := context.Background()

	first := s.Fetch(ctx, false)
	if first.FromCache {
		t.Fatalf("first fetch should be live")
	}
	if len(first.Data) != 2 {
		t.Fatalf("live data = %d items", len(first.Data))
	}

	second := s.Fetch(ctx, false)
	if !second.FromCache {
		t.Fatalf("second fetch should come from fresh cache")
	}
	if second.CacheAge < 0 {
		t.Fatalf("cache age should be non-negative: %v", second.CacheAge)
	}
	if engine.calls != 1 {
		t.Fatalf("engine called %d times, want 1", engine.calls)
	}
}

func TestFetchForceBypassesFreshCache(t *testing.T) {
	engine := &fakeEngine{articles: []rss.Article{{ID: "1", URL: "https://a/1", Title: "One"}}}
	s, _ := newFeedService(engine)
	ctx := context.Background()

	s.Fetch(ctx, false)
	res := s.Fetch(ctx, true)
	if res.FromCache {
		t.Fatalf("forced fetch must not serve cache")
	}
	if engine.calls != 2 {
		t.Fatalf("engine called %d times, want 2", engine.calls)
	}
}

func TestFetchFallsBackToStaleThenEmpty(t *testing.T) {
	engine := &fakeEngine{articles: []rss.Article{{ID: "1", URL: "https://a/1", Title: "One"}}}
	s, c := newFeedService(engine)
	s.freshTTL = 20 * time.Millisecond
	ctx := context.Background()

	// 先写入缓存，等新鲜 TTL 过期
	s.Fetch(ctx, false)
	time.Sleep(40 * time.Millisecond)

	// 此后在线抓取只返回错误
	engine.articles = nil
	engine.errs = []error{errors.New("boom")}

	res := s.Fetch(ctx, false)
	if !res.FromCache {
		t.Fatalf("exhausted live fetch should serve stale cache")
	}
	if len(res.Data) != 1 {
		t.Fatalf("stale data = %d items", len(res.Data))
	}

	// 连陈旧缓存都没有时返回空列表，不报错
	c.Remove(ctx, "service:test")
	empty := s.Fetch(ctx, false)
	if empty.Data == nil || len(empty.Data) != 0 {
		t.Fatalf("want empty non-nil slice, got %#v", empty.Data)
	}
}

func TestFetchDedupesAcrossSources(t *testing.T) {
	engine := &fakeEngine{articles: []rss.Article{
		{ID: "1", URL: "https://a/1", Title: "Same Story", PublishedAt: 100},
		{ID: "2", URL: "https://b/1", Title: "same story", PublishedAt: 200},
	}}
	s, _ := newFeedService(engine)

	res := s.Fetch(context.Background(), false)
	if len(res.Data) != 1 {
		t.Fatalf("cross-source duplicate should collapse, got %d", len(res.Data))
	}
	if res.Data[0].PublishedAt != 200 {
		t.Fatalf("newest duplicate should win: %+v", res.Data[0])
	}
}
