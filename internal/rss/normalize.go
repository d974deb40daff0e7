package rss

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/cespare/xxhash/v2"
	"github.com/mmcdole/gofeed"
)

const (
	maxTitleRunes   = 200
	maxSummaryRunes = 300
	// 摘要候选低于这个长度就换下一级兜底
	minViableSummaryRunes = 50
)

// 常见的跟踪参数，规范化 URL 时全部剔除
var trackingParams = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"ref":     true,
	"ref_src": true,
	"mc_cid":  true,
	"mc_eid":  true,
}

// normalize 把 gofeed 的条目转成统一的 Article。
// 每个字段都按"可能缺失"处理，单字段解析失败只影响该字段。
func normalize(item *gofeed.Item, sourceName, feedURL string, fetchedAt time.Time) Article {
	link := canonicalURL(item.Link)
	title := truncateRunes(stripHTML(item.Title), maxTitleRunes)

	published := fetchedAt
	approximate := true
	if t, ok := itemTime(item); ok {
		published = t
		approximate = false
	}

	return Article{
		ID:                articleID(item.GUID, item.Link, item.Title, feedURL),
		URL:               link,
		Source:            sourceName,
		Title:             title,
		Summary:           EnsureSummary(item.Content, item.Description, sourceName, title),
		ImageURL:          resolveImage(item),
		PublishedAt:       published.UnixMilli(),
		IsDateApproximate: approximate,
		FetchedAt:         fetchedAt.UnixMilli(),
	}
}

// articleID 稳定的内容指纹：优先源 GUID，否则 link+title+feedURL。
// 同一条目跨运行生成的 id 必须一致。
func articleID(guid, link, title, feedURL string) string {
	basis := strings.TrimSpace(guid)
	if basis == "" {
		basis = link + "|" + title + "|" + feedURL
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(basis))
}

// canonicalURL 去掉跟踪参数与 fragment，解析失败时原样返回
func canonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	q := u.Query()
	for k := range q {
		if trackingParams[strings.ToLower(k)] || strings.HasPrefix(strings.ToLower(k), "utm_") {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String()
}

func itemTime(item *gofeed.Item) (time.Time, bool) {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed, true
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed, true
	}
	// gofeed 没认出来的日期格式再交给 dateparse 兜底
	for _, raw := range []string{item.Published, item.Updated} {
		if raw == "" {
			continue
		}
		if t, err := dateparse.ParseAny(raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// resolveImage 按优先级找配图：enclosure → media:content → media:thumbnail → 正文首个 <img>
func resolveImage(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if !isImageURL(enc.URL) {
			continue
		}
		if enc.Type == "" || strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	if media, ok := item.Extensions["media"]; ok {
		for _, name := range []string{"content", "thumbnail"} {
			for _, ext := range media[name] {
				if u := ext.Attrs["url"]; isImageURL(u) {
					return u
				}
			}
		}
	}
	// 条目级 <image> 不在标准阶梯里，只作媒体扩展之后的补充
	if item.Image != nil && isImageURL(item.Image.URL) {
		return item.Image.URL
	}
	for _, html := range []string{item.Content, item.Description} {
		if u := firstImageSrc(html); isImageURL(u) {
			return u
		}
	}
	return ""
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".avif": true,
}

// isImageURL 尽力而为地判断是不是一张图：绝对 http(s) 地址，
// 路径要么没有扩展名（CDN 动态图常见），要么是已知图片扩展名
func isImageURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	return ext == "" || imageExts[ext]
}

func firstImageSrc(html string) string {
	if html == "" || !strings.Contains(html, "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img").First().Attr("src")
	return src
}

// EnsureSummary 保证摘要非空且不含 HTML：
// content → description 逐级尝试，都不够长就合成一句兜底文案。
func EnsureSummary(content, description, sourceName, title string) string {
	for _, candidate := range []string{content, description} {
		text := stripHTML(candidate)
		if len([]rune(text)) >= minViableSummaryRunes {
			return truncateRunes(text, maxSummaryRunes)
		}
	}
	return fmt.Sprintf("Article from %s: %s", sourceName, title)
}

// stripHTML 去标签、解实体、压缩空白。goquery 的 Text() 顺带完成实体解码。
// RSS 描述里双重转义很常见（&lt;p&gt;...），解一次实体会把标签还原出来，
// 所以反复剥离直到结果稳定为止。
func stripHTML(s string) string {
	s = strings.TrimSpace(s)
	for i := 0; i < 4 && strings.ContainsAny(s, "<&"); i++ {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
		if err != nil {
			break
		}
		next := doc.Text()
		if next == s {
			break
		}
		s = next
	}
	return strings.Join(strings.Fields(s), " ")
}

// truncateRunes 按 rune 截断并补省略号
func truncateRunes(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit]) + "…"
}
