package rss

import (
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Dedupe 跨源去重：先按发布时间倒序，再按规范化 URL 与标题哈希
// 各保留首个出现的条目。同一篇稿子被多个源转载（标题几乎一致）只留最新的。
// 幂等：Dedupe(Dedupe(xs)) == Dedupe(xs)。
func Dedupe(articles []Article) []Article {
	out := make([]Article, 0, len(articles))
	out = append(out, articles...)

	// 稳定排序：时间相同的保持输入相对顺序
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PublishedAt > out[j].PublishedAt
	})

	seenURL := make(map[string]bool, len(out))
	seenTitle := make(map[uint64]bool, len(out))

	kept := out[:0]
	for _, a := range out {
		th := titleHash(a.Title)
		if (a.URL != "" && seenURL[a.URL]) || seenTitle[th] {
			continue
		}
		if a.URL != "" {
			seenURL[a.URL] = true
		}
		seenTitle[th] = true
		kept = append(kept, a)
	}
	return kept
}

// titleHash 标题小写后取 64 位 xxhash。
// 老版本只用 MD5 前 8 个十六进制字符，64 位哈希把碰撞概率压到可忽略。
func titleHash(title string) uint64 {
	return xxhash.Sum64String(strings.ToLower(strings.TrimSpace(title)))
}
