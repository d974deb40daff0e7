package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/LJTian/CoinPulse/internal/cache"
	"github.com/LJTian/CoinPulse/internal/market"
)

type priceAPI interface {
	SimplePrice(ctx context.Context, ids []string, vsCurrency string, prio market.Priority) (map[string]map[string]float64, error)
}

// QuoteResult 简单报价：币种 id -> 货币 -> 价格
type QuoteResult struct {
	Data      map[string]map[string]float64 `json:"data"`
	FromCache bool                          `json:"fromCache"`
	CacheAge  time.Duration                 `json:"cacheAge,omitempty"`
}

// QuoteService 行情报价的薄封装，价格波动快所以 TTL 很短
type QuoteService struct {
	api        priceAPI
	cache      *cache.Cache
	vsCurrency string

	freshTTL    time.Duration
	staleWindow time.Duration
}

func NewQuoteService(api priceAPI, c *cache.Cache, vsCurrency string) *QuoteService {
	return &QuoteService{
		api:         api,
		cache:       c,
		vsCurrency:  vsCurrency,
		freshTTL:    time.Minute,
		staleWindow: 10 * time.Minute,
	}
}

func (s *QuoteService) Fetch(ctx context.Context, ids []string, force bool) (QuoteResult, error) {
	key := quoteKey(ids, s.vsCurrency)

	var cached map[string]map[string]float64
	entry, has := s.cache.GetStale(ctx, key, &cached, s.staleWindow)
	if !force && has && entry.Fresh() {
		return QuoteResult{Data: cached, FromCache: true, CacheAge: entry.Age()}, nil
	}

	prio := market.PriorityNormal
	if force {
		prio = market.PriorityHigh
	}

	prices, err := s.api.SimplePrice(ctx, ids, s.vsCurrency, prio)
	if err == nil && len(prices) > 0 {
		s.cache.Set(ctx, key, prices, s.freshTTL)
		return QuoteResult{Data: prices}, nil
	}

	if has {
		log.Printf("quotes: live fetch failed (%v), serving stale cache age=%v", err, entry.Age())
		return QuoteResult{Data: cached, FromCache: true, CacheAge: entry.Age()}, nil
	}
	if err == nil {
		err = fmt.Errorf("quotes: provider returned no prices")
	}
	return QuoteResult{}, err
}

// quoteKey ids 排序后拼进缓存键，保证相同集合命中同一条目
func quoteKey(ids []string, vs string) string {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	return "service:quotes:" + vs + ":" + strings.Join(sorted, ",")
}
