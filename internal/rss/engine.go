package rss

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/LJTian/CoinPulse/internal/cache"
	"github.com/LJTian/CoinPulse/internal/throttle"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/semaphore"
)

const (
	maxItemsPerFeed = 50
	maxFeedBytes    = 8 << 20 // 8MB，正常 RSS 远小于这个数

	defaultConcurrency  = 3
	defaultFetchTimeout = 10 * time.Second
	defaultFreshTTL     = 30 * time.Minute
	defaultStaleWindow  = 6 * time.Hour

	userAgent  = "CoinPulseBot/1.0 (+https://github.com/LJTian/CoinPulse)"
	acceptFeed = "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8"
)

// Engine 并发抓取多个独立的 RSS/Atom 源并归一化。
// 全局并发上限 + 每主机 1 req/s 的限流，单个源失败不影响整批。
type Engine struct {
	client   *http.Client
	parser   *gofeed.Parser
	cache    *cache.Cache
	throttle *throttle.HostThrottle
	sem      *semaphore.Weighted

	// 测试和特殊部署时可调
	FetchTimeout time.Duration
	FreshTTL     time.Duration
	StaleWindow  time.Duration
}

// cachedFeed 缓存里存的按源快照，校验头在缓存信封上
type cachedFeed struct {
	Source   string    `json:"source"`
	Articles []Article `json:"articles"`
}

func NewEngine(c *cache.Cache) *Engine {
	return &Engine{
		client:       &http.Client{Timeout: 15 * time.Second},
		parser:       gofeed.NewParser(),
		cache:        c,
		throttle:     throttle.NewHostThrottle(time.Second),
		sem:          semaphore.NewWeighted(defaultConcurrency),
		FetchTimeout: defaultFetchTimeout,
		FreshTTL:     defaultFreshTTL,
		StaleWindow:  defaultStaleWindow,
	}
}

// FetchAll 并发抓取所有源，收集成功的结果并跨源去重。
// 失败的源只记一条日志和一个错误，不中断整批。
func (e *Engine) FetchAll(ctx context.Context, urls []string, force bool) ([]Article, []error) {
	var (
		mu   sync.Mutex
		all  []Article
		errs []error
		wg   sync.WaitGroup
	)

	for _, u := range urls {
		wg.Add(1)
		go func(feedURL string) {
			defer wg.Done()
			if err := e.sem.Acquire(ctx, 1); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return
			}
			defer e.sem.Release(1)

			traceID := uuid.NewString()[:8]
			articles, err := e.FetchOne(ctx, feedURL, force, traceID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				log.Printf("rss: feed %s failed (trace=%s): %v", feedURL, traceID, err)
				return
			}
			all = append(all, articles...)
		}(u)
	}
	wg.Wait()

	return Dedupe(all), errs
}

// FetchOne 抓取单个源：缓存优先，miss 或 force 时带校验头发条件请求，
// 304 直接复用缓存条目；硬失败时退回陈旧缓存，再不行才返回错误。
func (e *Engine) FetchOne(ctx context.Context, feedURL string, force bool, traceID string) ([]Article, error) {
	key := feedKey(feedURL)

	// 一次读取同时拿到新鲜判断、条件请求校验头和失败兜底数据
	var stale cachedFeed
	staleEntry, hasStale := e.cache.GetStale(ctx, key, &stale, e.StaleWindow)
	if !force && hasStale && staleEntry.Fresh() {
		return markFromCache(stale.Articles), nil
	}

	host := hostOf(feedURL)
	if err := e.throttle.Acquire(ctx, host); err != nil {
		return nil, err
	}
	defer e.throttle.Release(host)

	cctx, cancel := context.WithTimeout(ctx, e.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("rss: build request %s: %w", feedURL, err)
	}
	req.Header.Set("Accept", acceptFeed)
	req.Header.Set("User-Agent", userAgent)
	if hasStale {
		if staleEntry.ETag != "" {
			req.Header.Set("If-None-Match", staleEntry.ETag)
		}
		if staleEntry.LastModified != "" {
			req.Header.Set("If-Modified-Since", staleEntry.LastModified)
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		// 网络错误或超时：只影响这一个源
		if hasStale {
			log.Printf("rss: fetch %s failed, serving stale cache (trace=%s): %v", feedURL, traceID, err)
			return markFromCache(stale.Articles), nil
		}
		return nil, fmt.Errorf("rss: fetch %s: %w", feedURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		// 内容没变：复用缓存条目，不重新解析，只把 TTL 续上
		e.cache.SetWithValidators(ctx, key, stale, e.FreshTTL, staleEntry.ETag, staleEntry.LastModified)
		return markFromCache(stale.Articles), nil
	}
	if resp.StatusCode != http.StatusOK {
		if hasStale {
			log.Printf("rss: %s status %d, serving stale cache (trace=%s)", feedURL, resp.StatusCode, traceID)
			return markFromCache(stale.Articles), nil
		}
		return nil, fmt.Errorf("rss: %s unexpected status %d", feedURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		if hasStale {
			return markFromCache(stale.Articles), nil
		}
		return nil, fmt.Errorf("rss: read %s: %w", feedURL, err)
	}

	feed, err := e.parser.ParseString(string(body))
	if err != nil {
		// 解析失败按该源零条目降级，不往上抛
		log.Printf("rss: parse %s failed, degrading to empty (trace=%s): %v", feedURL, traceID, err)
		if hasStale {
			return markFromCache(stale.Articles), nil
		}
		return []Article{}, nil
	}

	items := feed.Items
	if len(items) > maxItemsPerFeed {
		items = items[:maxItemsPerFeed]
	}
	source := strings.TrimSpace(feed.Title)
	if source == "" {
		source = host
	}

	now := time.Now()
	articles := make([]Article, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		articles = append(articles, normalize(it, source, feedURL, now))
	}

	e.cache.SetWithValidators(ctx, key, cachedFeed{Source: source, Articles: articles},
		e.FreshTTL, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"))
	return articles, nil
}

func feedKey(feedURL string) string {
	return fmt.Sprintf("rss:feed:%016x", xxhash.Sum64String(feedURL))
}

func hostOf(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host
	}
	return raw
}

func markFromCache(articles []Article) []Article {
	out := make([]Article, len(articles))
	copy(out, articles)
	for i := range out {
		out[i].FromCache = true
	}
	return out
}
