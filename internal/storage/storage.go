package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/LJTian/CoinPulse/internal/rss"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Article 归档表：缓存只管新鲜度，历史数据落到这里
type Article struct {
	ID          string    `gorm:"primaryKey;size:40" json:"id"`
	Title       string    `gorm:"size:512" json:"title"`
	URL         string    `gorm:"size:1024;uniqueIndex" json:"url"`
	Source      string    `gorm:"size:128;index" json:"source"`
	Summary     string    `gorm:"size:600" json:"summary"`
	ImageURL    string    `gorm:"size:1024" json:"imageUrl"`
	PublishedAt time.Time `gorm:"index" json:"publishedAt"`
	// 源头没给可解析日期时为 true，排序展示时可以降权
	DateApproximate bool              `json:"dateApproximate"`
	ExtraData       datatypes.JSONMap `gorm:"type:jsonb" json:"extraData"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Store struct {
	DB    *gorm.DB
	Redis *redis.Client
}

func NewStore(dsn string, rdb *redis.Client) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Article{}); err != nil {
		return nil, err
	}
	return &Store{DB: db, Redis: rdb}, nil
}

// toValidUTF8 入库前规范为合法 UTF-8，避免 PostgreSQL invalid byte sequence 错误
func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "�")
}

// truncateRunesDB 按 rune 截断，保证不超过 varchar 字段长度
func truncateRunesDB(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	s = strings.TrimSpace(s)
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}

// SaveBatch 归档一批文章，以 URL 作为幂等键：已存在时更新标题/摘要等展示字段
func (s *Store) SaveBatch(items []rss.Article) error {
	for _, it := range items {
		title := truncateRunesDB(toValidUTF8(it.Title), 512)
		summary := truncateRunesDB(toValidUTF8(it.Summary), 600)
		n := &Article{
			ID:              it.ID,
			Title:           title,
			URL:             it.URL,
			Source:          it.Source,
			Summary:         summary,
			ImageURL:        it.ImageURL,
			PublishedAt:     time.UnixMilli(it.PublishedAt),
			DateApproximate: it.IsDateApproximate,
			ExtraData: datatypes.JSONMap{
				"fetchedAt": it.FetchedAt,
			},
		}

		if err := s.DB.Where("url = ?", it.URL).FirstOrCreate(n).Error; err != nil {
			return err
		}
		_ = s.DB.Model(n).Updates(map[string]any{
			"title":        title,
			"summary":      summary,
			"image_url":    it.ImageURL,
			"published_at": time.UnixMilli(it.PublishedAt),
		}).Error
	}
	return nil
}

// ListArticles 按来源返回归档文章，带 5 分钟的 Redis 列表缓存
func (s *Store) ListArticles(source string, limit int) ([]Article, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	ctx := context.Background()
	cacheKey := fmt.Sprintf("coinpulse:archive:list:%s:%d", source, limit)

	if s.Redis != nil {
		if bs, err := s.Redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached []Article
			if err := json.Unmarshal(bs, &cached); err == nil {
				return cached, nil
			}
		}
	}

	var list []Article
	db := s.DB.Model(&Article{})
	if source != "" {
		db = db.Where("source = ?", source)
	}
	if err := db.Order("published_at DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, err
	}

	const listCacheTTL = 5 * time.Minute
	if s.Redis != nil && len(list) > 0 {
		if bs, err := json.Marshal(list); err == nil {
			if err := s.Redis.Set(ctx, cacheKey, bs, listCacheTTL).Err(); err != nil {
				log.Printf("storage: cache archive list failed: %v", err)
			}
		}
	}
	return list, nil
}
