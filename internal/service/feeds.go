package service

import (
	"context"
	"log"
	"time"

	"github.com/LJTian/CoinPulse/internal/cache"
	"github.com/LJTian/CoinPulse/internal/collector"
	"github.com/LJTian/CoinPulse/internal/rss"
)

// Result 是 UI 层唯一依赖的服务返回结构
type Result struct {
	Data      []rss.Article `json:"data"`
	FromCache bool          `json:"fromCache"`
	CacheAge  time.Duration `json:"cacheAge,omitempty"`
}

type feedEngine interface {
	FetchAll(ctx context.Context, urls []string, force bool) ([]rss.Article, []error)
}

// feedService 新闻类服务的公共骨架：
// 新鲜缓存 → 在线抓取 → 陈旧缓存 → 空列表，永不向调用方报错。
type feedService struct {
	engine feedEngine
	cache  *cache.Cache
	key    string
	feeds  []string
	extras []collector.Fetcher

	freshTTL    time.Duration
	staleWindow time.Duration
}

func (s *feedService) Fetch(ctx context.Context, force bool) Result {
	var cached []rss.Article
	entry, has := s.cache.GetStale(ctx, s.key, &cached, s.staleWindow)
	if !force && has && entry.Fresh() {
		return Result{Data: cached, FromCache: true, CacheAge: entry.Age()}
	}

	live, errs := s.engine.FetchAll(ctx, s.feeds, force)
	for _, f := range s.extras {
		items, err := f.Fetch()
		if err != nil {
			log.Printf("%s: extra source %s failed: %v", s.key, f.Name(), err)
			errs = append(errs, err)
			continue
		}
		live = append(live, items...)
	}

	if len(live) > 0 {
		live = rss.Dedupe(live)
		s.cache.Set(ctx, s.key, live, s.freshTTL)
		return Result{Data: live}
	}

	// 全军覆没：退陈旧缓存，并明确告知调用方这是缓存数据
	if has {
		log.Printf("%s: live fetch exhausted (%d errors), serving stale cache age=%v",
			s.key, len(errs), entry.Age())
		return Result{Data: cached, FromCache: true, CacheAge: entry.Age()}
	}
	return Result{Data: []rss.Article{}}
}

// NewsService 聚合加密新闻源（RSS + 无 RSS 的头条页）
type NewsService struct {
	feedService
}

func NewNewsService(engine *rss.Engine, c *cache.Cache, feeds []string, extras ...collector.Fetcher) *NewsService {
	return &NewsService{feedService{
		engine:      engine,
		cache:       c,
		key:         "service:news",
		feeds:       feeds,
		extras:      extras,
		freshTTL:    10 * time.Minute,
		staleWindow: time.Hour,
	}}
}

// FundraisingService 聚合融资/募资类源
type FundraisingService struct {
	feedService
}

func NewFundraisingService(engine *rss.Engine, c *cache.Cache, feeds []string) *FundraisingService {
	return &FundraisingService{feedService{
		engine:      engine,
		cache:       c,
		key:         "service:fundraising",
		feeds:       feeds,
		freshTTL:    15 * time.Minute,
		staleWindow: 2 * time.Hour,
	}}
}
