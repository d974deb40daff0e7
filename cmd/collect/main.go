package main

import (
	"context"
	"log"

	"github.com/LJTian/CoinPulse/internal/cache"
	"github.com/LJTian/CoinPulse/internal/collector"
	"github.com/LJTian/CoinPulse/internal/config"
	"github.com/LJTian/CoinPulse/internal/market"
	"github.com/LJTian/CoinPulse/internal/rss"
	"github.com/LJTian/CoinPulse/internal/service"
	"github.com/LJTian/CoinPulse/internal/storage"
	"github.com/redis/go-redis/v9"
)

// 只执行一轮采集后退出的命令行入口：适合手动触发或排查上游问题
func main() {
	cfg := config.Load()
	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	var kv *cache.Cache
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("warn: redis ping failed, using in-memory cache: %v", err)
		kv = cache.New(cache.NewMemoryBackend())
		rdb = nil
	} else {
		kv = cache.New(cache.NewRedisBackend(rdb))
	}

	engine := rss.NewEngine(kv)
	client := market.NewClient(cfg.MarketAPIBase, cfg.MarketAPIKey, market.NewState())

	var extras []collector.Fetcher
	if cfg.HeadlinePageURL != "" {
		extras = append(extras, &collector.HeadlineFetcher{PageURL: cfg.HeadlinePageURL})
	}

	news := service.NewNewsService(engine, kv, cfg.NewsFeeds, extras...)
	fundraising := service.NewFundraisingService(engine, kv, cfg.FundraisingFeeds)
	trending := service.NewTrendingService(client, kv, cfg.VsCurrency)

	newsRes := news.Fetch(ctx, true)
	log.Printf("collect news: %d articles (fromCache=%v)", len(newsRes.Data), newsRes.FromCache)

	frRes := fundraising.Fetch(ctx, true)
	log.Printf("collect fundraising: %d articles (fromCache=%v)", len(frRes.Data), frRes.FromCache)

	if trRes, err := trending.Fetch(ctx, true); err != nil {
		log.Printf("collect trending failed: %v", err)
	} else {
		log.Printf("collect trending: %d coins (fromCache=%v)", len(trRes.Data), trRes.FromCache)
	}

	if cfg.PostgresDSN != "" {
		store, err := storage.NewStore(cfg.PostgresDSN, rdb)
		if err != nil {
			log.Fatalf("init store failed: %v", err)
		}
		all := append(newsRes.Data, frRes.Data...)
		if err := store.SaveBatch(all); err != nil {
			log.Printf("archive batch failed: %v", err)
		} else {
			log.Printf("archived %d articles", len(all))
		}
	}

	stats := client.State().Snapshot()
	log.Printf("provider stats: total=%d ok=%d batch=%d", stats.TotalRequests, stats.SuccessfulRequests, stats.BatchSize)
}
