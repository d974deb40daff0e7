package market

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
)

// Coin /coins/markets 返回的单个币种行情
type Coin struct {
	ID             string  `json:"id"`
	Symbol         string  `json:"symbol"`
	Name           string  `json:"name"`
	Image          string  `json:"image"`
	CurrentPrice   float64 `json:"current_price"`
	MarketCap      float64 `json:"market_cap"`
	PriceChange24h float64 `json:"price_change_percentage_24h"`
}

// MarketsByIDs 按当前自适应批大小分批拉取行情。
// 任何一批失败则整体失败（限流错误要尽快往上传，别再打后续批次）。
func (c *Client) MarketsByIDs(ctx context.Context, ids []string, vsCurrency string, prio Priority) ([]Coin, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	out := make([]Coin, 0, len(ids))
	for start := 0; start < len(ids); {
		size := c.state.BatchSize()
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		q := url.Values{}
		q.Set("vs_currency", vsCurrency)
		q.Set("per_page", strconv.Itoa(len(chunk)))
		body, err := c.Get(ctx, "/coins/markets", q, chunk, prio)
		if err != nil {
			return nil, err
		}

		var coins []Coin
		if err := json.Unmarshal(body, &coins); err != nil {
			return nil, &ValidationError{Endpoint: "/coins/markets", Err: err}
		}
		out = append(out, coins...)
		start = end
	}
	return out, nil
}

// SimplePrice 简单报价：id -> 货币 -> 价格
func (c *Client) SimplePrice(ctx context.Context, ids []string, vsCurrency string, prio Priority) (map[string]map[string]float64, error) {
	q := url.Values{}
	q.Set("vs_currencies", vsCurrency)
	body, err := c.Get(ctx, "/simple/price", q, ids, prio)
	if err != nil {
		return nil, err
	}

	var prices map[string]map[string]float64
	if err := json.Unmarshal(body, &prices); err != nil {
		return nil, &ValidationError{Endpoint: "/simple/price", Err: err}
	}
	return prices, nil
}

// TrendingIDs 返回提供方当前的热门币种 id 列表
func (c *Client) TrendingIDs(ctx context.Context, prio Priority) ([]string, error) {
	body, err := c.Get(ctx, "/search/trending", nil, nil, prio)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Coins []struct {
			Item struct {
				ID string `json:"id"`
			} `json:"item"`
		} `json:"coins"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &ValidationError{Endpoint: "/search/trending", Err: err}
	}

	ids := make([]string, 0, len(payload.Coins))
	for _, cn := range payload.Coins {
		if cn.Item.ID != "" {
			ids = append(ids, cn.Item.ID)
		}
	}
	return ids, nil
}
