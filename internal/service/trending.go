package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/LJTian/CoinPulse/internal/cache"
	"github.com/LJTian/CoinPulse/internal/market"
)

type marketAPI interface {
	TrendingIDs(ctx context.Context, prio market.Priority) ([]string, error)
	MarketsByIDs(ctx context.Context, ids []string, vsCurrency string, prio market.Priority) ([]market.Coin, error)
}

// TrendingResult 热门币种 + 行情数据
type TrendingResult struct {
	Data      []market.Coin `json:"data"`
	FromCache bool          `json:"fromCache"`
	CacheAge  time.Duration `json:"cacheAge,omitempty"`
}

// TrendingService 两步编排：先拿提供方的热门 id 列表，再用行情接口补数据。
// 与新闻服务不同，缓存兜底也失败时错误会上抛，调用方需要区分限流和其它失败。
type TrendingService struct {
	api        marketAPI
	cache      *cache.Cache
	vsCurrency string

	freshTTL    time.Duration
	staleWindow time.Duration
}

func NewTrendingService(api marketAPI, c *cache.Cache, vsCurrency string) *TrendingService {
	return &TrendingService{
		api:         api,
		cache:       c,
		vsCurrency:  vsCurrency,
		freshTTL:    5 * time.Minute,
		staleWindow: 30 * time.Minute,
	}
}

func (s *TrendingService) Fetch(ctx context.Context, force bool) (TrendingResult, error) {
	const key = "service:trending"

	var cached []market.Coin
	entry, has := s.cache.GetStale(ctx, key, &cached, s.staleWindow)
	if !force && has && entry.Fresh() {
		return TrendingResult{Data: cached, FromCache: true, CacheAge: entry.Age()}, nil
	}

	prio := market.PriorityNormal
	if force {
		prio = market.PriorityHigh
	}

	coins, err := s.fetchLive(ctx, prio)
	if err == nil && len(coins) > 0 {
		s.cache.Set(ctx, key, coins, s.freshTTL)
		return TrendingResult{Data: coins}, nil
	}

	if has {
		log.Printf("trending: live fetch failed (%v), serving stale cache age=%v", err, entry.Age())
		return TrendingResult{Data: cached, FromCache: true, CacheAge: entry.Age()}, nil
	}
	if err == nil {
		err = fmt.Errorf("trending: provider returned no coins")
	}
	return TrendingResult{}, err
}

func (s *TrendingService) fetchLive(ctx context.Context, prio market.Priority) ([]market.Coin, error) {
	ids, err := s.api.TrendingIDs(ctx, prio)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	// 第二步是补数据性质的请求，非用户触发时降为低优先级
	enrichPrio := market.PriorityLow
	if prio == market.PriorityHigh {
		enrichPrio = prio
	}
	coins, err := s.api.MarketsByIDs(ctx, ids, s.vsCurrency, enrichPrio)
	if err != nil {
		return nil, err
	}

	// 只保留第一步请求过的 id，提供方多给的条目一律丢弃
	requested := make(map[string]bool, len(ids))
	for _, id := range ids {
		requested[id] = true
	}
	out := make([]market.Coin, 0, len(coins))
	for _, cn := range coins {
		if requested[cn.ID] {
			out = append(out, cn)
		}
	}
	return out, nil
}
