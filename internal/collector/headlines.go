package collector

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/LJTian/CoinPulse/internal/rss"
	"github.com/cespare/xxhash/v2"
	"github.com/gocolly/colly/v2"
)

const headlineMaxItems = 30

// Fetcher 抽象一个非 RSS 的文章来源
type Fetcher interface {
	Name() string
	Fetch() ([]rss.Article, error)
}

// HeadlineFetcher 抓取没有 RSS 的行情/新闻首页头条。
// 页面结构可能调整，这里基于常见的卡片式 DOM 做尽力而为的解析。
type HeadlineFetcher struct {
	PageURL string
}

func (h *HeadlineFetcher) Name() string {
	return "headlines"
}

func (h *HeadlineFetcher) Fetch() ([]rss.Article, error) {
	log.Printf("collector: fetch headlines from %s ...", h.PageURL)

	page, err := url.Parse(h.PageURL)
	if err != nil {
		return nil, err
	}
	source := strings.TrimPrefix(page.Host, "www.")

	c := colly.NewCollector(
		colly.AllowedDomains(page.Host),
		colly.UserAgent("CoinPulseBot/1.0"),
	)
	c.SetRequestTimeout(10 * time.Second)

	now := time.Now()
	results := make([]rss.Article, 0, headlineMaxItems)
	seen := make(map[string]bool)

	c.OnHTML("article, div[class*='card'], div[class*='story']", func(e *colly.HTMLElement) {
		if len(results) >= headlineMaxItems {
			return
		}

		title := strings.TrimSpace(e.ChildText("h1, h2, h3, h4"))
		if title == "" {
			return
		}

		href := e.ChildAttr("a[href]", "href")
		if href == "" {
			return
		}
		link := e.Request.AbsoluteURL(href)
		if link == "" || seen[link] {
			return
		}
		seen[link] = true

		desc := strings.TrimSpace(e.ChildText("p"))

		results = append(results, rss.Article{
			ID:                headlineID(link, title),
			URL:               link,
			Source:            source,
			Title:             title,
			Summary:           rss.EnsureSummary("", desc, source, title),
			PublishedAt:       now.UnixMilli(),
			IsDateApproximate: true, // 列表页拿不到可靠的发布时间
			FetchedAt:         now.UnixMilli(),
		})
	})

	if err := c.Visit(h.PageURL); err != nil {
		return nil, err
	}
	c.Wait()

	if len(results) == 0 {
		log.Printf("collector: headlines got 0 items from %s", h.PageURL)
	}
	return results, nil
}

func headlineID(link, title string) string {
	h := xxhash.New()
	h.Write([]byte(link))
	h.Write([]byte{0})
	h.Write([]byte(title))
	return fmt.Sprintf("%016x", h.Sum64())
}
