package rss

// Article 所有新闻/融资条目归一化后的统一结构，时间一律 epoch 毫秒
type Article struct {
	ID                string `json:"id"`
	URL               string `json:"url"`
	Source            string `json:"source"`
	Title             string `json:"title"`
	Summary           string `json:"summary"`
	ImageURL          string `json:"imageUrl,omitempty"`
	PublishedAt       int64  `json:"publishedAt"`
	IsDateApproximate bool   `json:"isDateApproximate,omitempty"`
	FetchedAt         int64  `json:"fetchedAt"`
	FromCache         bool   `json:"fromCache"`
}
