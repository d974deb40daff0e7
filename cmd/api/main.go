package main

import (
	"context"
	"log"

	"github.com/LJTian/CoinPulse/internal/api"
	"github.com/LJTian/CoinPulse/internal/cache"
	"github.com/LJTian/CoinPulse/internal/collector"
	"github.com/LJTian/CoinPulse/internal/config"
	"github.com/LJTian/CoinPulse/internal/market"
	"github.com/LJTian/CoinPulse/internal/rss"
	"github.com/LJTian/CoinPulse/internal/scheduler"
	"github.com/LJTian/CoinPulse/internal/service"
	"github.com/LJTian/CoinPulse/internal/storage"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()

	kv, rdb := newCache(cfg)
	engine := rss.NewEngine(kv)
	client := market.NewClient(cfg.MarketAPIBase, cfg.MarketAPIKey, market.NewState())

	var extras []collector.Fetcher
	if cfg.HeadlinePageURL != "" {
		extras = append(extras, &collector.HeadlineFetcher{PageURL: cfg.HeadlinePageURL})
	}

	news := service.NewNewsService(engine, kv, cfg.NewsFeeds, extras...)
	fundraising := service.NewFundraisingService(engine, kv, cfg.FundraisingFeeds)
	trending := service.NewTrendingService(client, kv, cfg.VsCurrency)
	quotes := service.NewQuoteService(client, kv, cfg.VsCurrency)

	// 归档是可选能力：没配 DSN 就只用缓存
	var store *storage.Store
	if cfg.PostgresDSN != "" {
		var err error
		store, err = storage.NewStore(cfg.PostgresDSN, rdb)
		if err != nil {
			log.Fatalf("init store failed: %v", err)
		}
	} else {
		log.Println("archive disabled: POSTGRES_DSN not set")
	}

	jobs := []scheduler.Job{
		{
			Name:     "news",
			CronSpec: cfg.NewsCronSpec,
			Run: func(ctx context.Context) {
				res := news.Fetch(ctx, false)
				if store != nil && !res.FromCache && len(res.Data) > 0 {
					if err := store.SaveBatch(res.Data); err != nil {
						log.Printf("archive news failed: %v", err)
					}
				}
			},
		},
		{
			Name:     "fundraising",
			CronSpec: cfg.FundraisingCronSpec,
			Run: func(ctx context.Context) {
				res := fundraising.Fetch(ctx, false)
				if store != nil && !res.FromCache && len(res.Data) > 0 {
					if err := store.SaveBatch(res.Data); err != nil {
						log.Printf("archive fundraising failed: %v", err)
					}
				}
			},
		},
		{
			Name:     "trending",
			CronSpec: cfg.TrendingCronSpec,
			Run: func(ctx context.Context) {
				if _, err := trending.Fetch(ctx, false); err != nil {
					log.Printf("refresh trending failed: %v", err)
				}
			},
		},
	}

	s, err := scheduler.New(jobs)
	if err != nil {
		log.Fatalf("init scheduler failed: %v", err)
	}
	s.Start()

	r := gin.Default()
	// 桌面端 UI 从本地源发请求，放开跨域
	r.Use(cors.Default())

	apiServer := api.NewServer(news, fundraising, trending, quotes, store)
	apiServer.RegisterRoutes(r)

	addr := ":" + cfg.AppPort
	log.Printf("starting api server at %s ...", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("server exit: %v", err)
	}
}

// newCache Redis 不可用时退回进程内存缓存，服务照常启动
func newCache(cfg *config.Config) (*cache.Cache, *redis.Client) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Printf("warn: redis ping failed, falling back to in-memory cache: %v", err)
		return cache.New(cache.NewMemoryBackend()), nil
	}
	return cache.New(cache.NewRedisBackend(rdb)), rdb
}
