package config

import (
	"log"
	"os"
	"strings"
	"time"
)

type Config struct {
	AppPort string

	// 为空时归档功能关闭，只用 Redis 缓存（桌面端/开发环境常见）
	PostgresDSN string
	RedisAddr   string

	// 行情 API（CoinGecko 风格），Key 可选，免费档可以不配
	MarketAPIBase string
	MarketAPIKey  string
	VsCurrency    string

	NewsFeeds        []string
	FundraisingFeeds []string
	HeadlinePageURL  string

	NewsCronSpec        string
	FundraisingCronSpec string
	TrendingCronSpec    string
}

var defaultNewsFeeds = []string{
	"https://cointelegraph.com/rss",
	"https://www.coindesk.com/arc/outboundfeeds/rss/",
	"https://decrypt.co/feed",
	"https://bitcoinmagazine.com/.rss/full/",
}

var defaultFundraisingFeeds = []string{
	"https://www.theblock.co/rss.xml",
	"https://blockworks.co/feed",
}

func Load() *Config {
	cfg := &Config{
		AppPort:     getEnv("APP_PORT", "9000"),
		PostgresDSN: getEnv("POSTGRES_DSN", ""),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6380"),

		MarketAPIBase: getEnv("MARKET_API_BASE", "https://api.coingecko.com/api/v3"),
		MarketAPIKey:  getEnv("MARKET_API_KEY", ""),
		VsCurrency:    getEnv("VS_CURRENCY", "usd"),

		NewsFeeds:        getEnvList("NEWS_FEEDS", defaultNewsFeeds),
		FundraisingFeeds: getEnvList("FUNDRAISING_FEEDS", defaultFundraisingFeeds),
		HeadlinePageURL:  getEnv("HEADLINE_PAGE_URL", "https://www.coindesk.com/markets"),

		NewsCronSpec:        getEnv("NEWS_CRON_SPEC", "*/10 * * * *"),
		FundraisingCronSpec: getEnv("FUNDRAISING_CRON_SPEC", "*/15 * * * *"),
		TrendingCronSpec:    getEnv("TRENDING_CRON_SPEC", "*/5 * * * *"),
	}

	log.Printf("config loaded: port=%s feeds=%d fundraising=%d market=%s",
		cfg.AppPort, len(cfg.NewsFeeds), len(cfg.FundraisingFeeds), cfg.MarketAPIBase)
	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvList 逗号分隔的列表型环境变量，空白项会被丢弃
func getEnvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// Now returns current time, 方便后续做可测试封装
func Now() time.Time {
	return time.Now()
}
