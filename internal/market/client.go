package market

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const maxResponseBytes = 4 << 20 // 4MB，/coins/markets 全量批也用不了这么多

// Priority 请求优先级：只影响发出前的最小间隔，不做抢占式调度
type Priority int

const (
	PriorityHigh   Priority = iota // 用户主动触发
	PriorityNormal                 // 周期性批量刷新
	PriorityLow                    // 后台补数据
)

// Pacing 所有节奏参数集中在一处，测试时可以整体调小
type Pacing struct {
	High     time.Duration
	Normal   time.Duration
	Low      time.Duration
	Provider time.Duration // 距上一次请求完成的最小间隔

	DefaultCooldown time.Duration // 429 未带 Retry-After 时的冷却
	RetryBase       time.Duration
	RetryCap        time.Duration
	MaxAttempts     int
	DedupWindow     time.Duration
}

func defaultPacing() Pacing {
	return Pacing{
		High:            500 * time.Millisecond,
		Normal:          2 * time.Second,
		Low:             5 * time.Second,
		Provider:        1500 * time.Millisecond,
		DefaultCooldown: 60 * time.Second,
		RetryBase:       100 * time.Millisecond,
		RetryCap:        10 * time.Second,
		MaxAttempts:     3,
		DedupWindow:     30 * time.Second,
	}
}

// Client 面向单个限流 JSON API 提供方的请求调度器。
// 负责优先级间隔、全局冷却、去重、重试与自适应批大小。
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	state   *State
	pacing  Pacing

	pmu     sync.Mutex
	pending map[string]*pendingCall
}

// pendingCall 在途请求：相同请求的并发调用共享同一个结果
type pendingCall struct {
	done    chan struct{}
	body    []byte
	err     error
	created time.Time
}

func NewClient(baseURL, apiKey string, state *State) *Client {
	if state == nil {
		state = NewState()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
		state:   state,
		pacing:  defaultPacing(),
		pending: make(map[string]*pendingCall),
	}
}

func (c *Client) State() *State { return c.state }

// Get 发起一次受控请求。相同 (endpoint, ids) 的并发调用只会产生一个网络请求。
func (c *Client) Get(ctx context.Context, endpoint string, query url.Values, ids []string, prio Priority) ([]byte, error) {
	key := requestKey(endpoint, ids)
	now := time.Now()

	c.pmu.Lock()
	c.sweepPendingLocked(now)
	if p, ok := c.pending[key]; ok {
		c.pmu.Unlock()
		select {
		case <-p.done:
			return p.body, p.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p := &pendingCall{done: make(chan struct{}), created: now}
	c.pending[key] = p
	c.pmu.Unlock()

	body, err := c.do(ctx, endpoint, query, ids, prio)

	p.body, p.err = body, err
	close(p.done)
	c.pmu.Lock()
	if c.pending[key] == p {
		delete(c.pending, key)
	}
	c.pmu.Unlock()

	return body, err
}

func (c *Client) do(ctx context.Context, endpoint string, query url.Values, ids []string, prio Priority) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.pacing.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, backoff(c.pacing, attempt)); err != nil {
				return nil, err
			}
		}

		// 冷却期内不发任何网络请求，立即失败
		if remaining := c.state.CooldownRemaining(time.Now()); remaining > 0 {
			return nil, &RateLimitError{RetryAfter: remaining}
		}

		at := c.state.reserveDispatch(time.Now(), c.spacing(prio), c.pacing.Provider)
		if err := sleepCtx(ctx, time.Until(at)); err != nil {
			return nil, err
		}

		body, retryable, err := c.doOnce(ctx, endpoint, query, ids)
		if err == nil {
			c.state.RecordOutcome(true)
			return body, nil
		}

		var rl *RateLimitError
		if errors.As(err, &rl) {
			// 429 不在本次调用内重试，冷却已经设置好
			return nil, err
		}

		c.state.RecordOutcome(false)
		lastErr = err
		if !retryable {
			return nil, err
		}
		log.Printf("market: %s attempt %d failed: %v", endpoint, attempt+1, err)
	}
	return nil, lastErr
}

// doOnce 单次 HTTP 往返。第二个返回值表示该错误是否值得重试。
func (c *Client) doOnce(ctx context.Context, endpoint string, query url.Values, ids []string) ([]byte, bool, error) {
	u := c.baseURL + endpoint
	q := url.Values{}
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if len(ids) > 0 {
		q.Set("ids", strings.Join(ids, ","))
	}
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false, &TransportError{Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "CoinPulseBot/1.0 (+https://github.com/LJTian/CoinPulse)")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	c.state.markCompletion(time.Now())
	if err != nil {
		return nil, true, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	// 诊断用，不参与正确性
	if remaining := resp.Header.Get("X-RateLimit-Remaining"); remaining != "" {
		log.Printf("market: ratelimit remaining=%s reset=%s", remaining, resp.Header.Get("X-RateLimit-Reset"))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), c.pacing.DefaultCooldown)
		c.state.ExtendCooldown(time.Now().Add(retryAfter))
		c.state.OnRateLimited()
		c.state.RecordOutcome(false)
		log.Printf("market: 429 from %s, cooling down %v", endpoint, retryAfter)
		return nil, false, &RateLimitError{RetryAfter: retryAfter}

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, true, &TransportError{Err: err}
		}
		return body, false, nil

	case resp.StatusCode >= 500:
		return nil, true, &TransportError{Status: resp.StatusCode}

	default:
		return nil, false, &TransportError{Status: resp.StatusCode}
	}
}

func (c *Client) spacing(prio Priority) time.Duration {
	switch prio {
	case PriorityHigh:
		return c.pacing.High
	case PriorityLow:
		return c.pacing.Low
	default:
		return c.pacing.Normal
	}
}

// sweepPendingLocked 清掉超过去重窗口还没结束的在途条目，
// 防止一个慢调用无限期压住后续同样的请求。调用方需持有 pmu。
func (c *Client) sweepPendingLocked(now time.Time) {
	for k, p := range c.pending {
		if now.Sub(p.created) > c.pacing.DedupWindow {
			delete(c.pending, k)
		}
	}
}

// requestKey 对 (endpoint, 排序后的 ids) 做哈希，作为去重键
func requestKey(endpoint string, ids []string) string {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	h := sha1.New()
	h.Write([]byte(endpoint))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(h.Sum(nil))
}

// parseRetryAfter 支持秒数和 HTTP 日期两种写法
func parseRetryAfter(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return def
}

// backoff 指数退避 ±20% 抖动，下限 RetryBase，上限 RetryCap
func backoff(p Pacing, attempt int) time.Duration {
	d := p.RetryBase << (attempt - 1)
	if d > p.RetryCap {
		d = p.RetryCap
	}
	jitter := 1 + (rand.Float64()*0.4 - 0.2)
	d = time.Duration(float64(d) * jitter)
	if d < p.RetryBase {
		d = p.RetryBase
	}
	if d > p.RetryCap {
		d = p.RetryCap
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
