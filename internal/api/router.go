package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/LJTian/CoinPulse/internal/market"
	"github.com/LJTian/CoinPulse/internal/service"
	"github.com/LJTian/CoinPulse/internal/storage"
	"github.com/gin-gonic/gin"
)

type Server struct {
	news        *service.NewsService
	fundraising *service.FundraisingService
	trending    *service.TrendingService
	quotes      *service.QuoteService
	store       *storage.Store // 可为 nil，归档接口返回 503
}

func NewServer(news *service.NewsService, fundraising *service.FundraisingService,
	trending *service.TrendingService, quotes *service.QuoteService, store *storage.Store) *Server {
	return &Server{
		news:        news,
		fundraising: fundraising,
		trending:    trending,
		quotes:      quotes,
		store:       store,
	}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/news", s.listNews)
		v1.GET("/fundraising", s.listFundraising)
		v1.GET("/trending", s.listTrending)
		v1.GET("/markets", s.listQuotes)
		v1.GET("/archive", s.listArchive)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func forced(c *gin.Context) bool {
	return c.Query("force") == "1"
}

func (s *Server) listNews(c *gin.Context) {
	res := s.news.Fetch(c.Request.Context(), forced(c))
	c.JSON(http.StatusOK, gin.H{
		"code":       "ok",
		"message":    "success",
		"data":       res.Data,
		"fromCache":  res.FromCache,
		"cacheAgeMs": res.CacheAge.Milliseconds(),
	})
}

func (s *Server) listFundraising(c *gin.Context) {
	res := s.fundraising.Fetch(c.Request.Context(), forced(c))
	c.JSON(http.StatusOK, gin.H{
		"code":       "ok",
		"message":    "success",
		"data":       res.Data,
		"fromCache":  res.FromCache,
		"cacheAgeMs": res.CacheAge.Milliseconds(),
	})
}

func (s *Server) listTrending(c *gin.Context) {
	res, err := s.trending.Fetch(c.Request.Context(), forced(c))
	if err != nil {
		s.renderMarketError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":       "ok",
		"message":    "success",
		"data":       res.Data,
		"fromCache":  res.FromCache,
		"cacheAgeMs": res.CacheAge.Milliseconds(),
	})
}

func (s *Server) listQuotes(c *gin.Context) {
	idsParam := c.DefaultQuery("ids", "bitcoin,ethereum")
	ids := make([]string, 0, 8)
	for _, id := range strings.Split(idsParam, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	res, err := s.quotes.Fetch(c.Request.Context(), ids, forced(c))
	if err != nil {
		s.renderMarketError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":       "ok",
		"message":    "success",
		"data":       res.Data,
		"fromCache":  res.FromCache,
		"cacheAgeMs": res.CacheAge.Milliseconds(),
	})
}

func (s *Server) listArchive(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    "archive_disabled",
			"message": "archive storage is not configured",
		})
		return
	}

	source := c.Query("source")
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}

	items, err := s.store.ListArticles(source, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "internal server error",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    "ok",
		"message": "success",
		"data":    items,
	})
}

// renderMarketError 限流要让前端拿到确切的等待时间，其余一律内部错误
func (s *Server) renderMarketError(c *gin.Context, err error) {
	var rl *market.RateLimitError
	if errors.As(err, &rl) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":          "rate_limited",
			"message":       "upstream rate limited, retry later",
			"retryAfterSec": int(rl.RetryAfter.Seconds() + 0.5),
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    "internal_error",
		"message": "internal server error",
	})
}
