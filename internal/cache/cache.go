package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"
)

// KeyPrefix 所有缓存键统一加前缀，避免与同一个 Redis 里的其它业务冲突
const KeyPrefix = "coinpulse:"

// maxRetention 后端层面的兜底 TTL：过了陈旧窗口也没人会再读，交给后端自动清理
const maxRetention = 24 * time.Hour

var ErrMiss = errors.New("cache: miss")

// Backend 抽象底层 KV 存储，任何支持按字符串键 get/set/del 的实现都可以
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, retention time.Duration) error
	Del(ctx context.Context, key string) error
}

// Entry 是缓存条目的统一信封。过期判断只看 Expiry 字段，
// 后端自身的 TTL 仅用于垃圾回收，这样过期后仍可做陈旧兜底读取。
type Entry struct {
	Data         json.RawMessage `json:"data"`
	Timestamp    int64           `json:"timestamp"` // 写入时间，epoch 毫秒
	Expiry       int64           `json:"expiry"`    // Timestamp + TTL
	ETag         string          `json:"etag,omitempty"`
	LastModified string          `json:"lastModified,omitempty"`
}

// Age 条目距离写入过去了多久
func (e Entry) Age() time.Duration {
	return time.Since(time.UnixMilli(e.Timestamp))
}

// Fresh 条目是否还在自身 TTL 内。配合 GetStale 使用：
// 一次读取同时回答"有没有"和"新不新"，避免先 Get 把过期条目清掉、
// 随后的陈旧兜底读取扑空。
func (e Entry) Fresh() bool {
	return time.Now().UnixMilli() <= e.Expiry
}

type Cache struct {
	backend Backend
}

func New(backend Backend) *Cache {
	return &Cache{backend: backend}
}

// Set 写入一个条目，expiry = now + ttl。写失败只记日志：
// 缓存是尽力而为的一层，不能因为写失败影响主流程。
func (c *Cache) Set(ctx context.Context, key string, data any, ttl time.Duration) {
	c.SetWithValidators(ctx, key, data, ttl, "", "")
}

// SetWithValidators 同 Set，额外记录条件请求用的 ETag / Last-Modified
func (c *Cache) SetWithValidators(ctx context.Context, key string, data any, ttl time.Duration, etag, lastModified string) {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Printf("cache: marshal %s failed: %v", key, err)
		return
	}
	now := time.Now()
	entry := Entry{
		Data:         raw,
		Timestamp:    now.UnixMilli(),
		Expiry:       now.Add(ttl).UnixMilli(),
		ETag:         etag,
		LastModified: lastModified,
	}
	bs, err := json.Marshal(entry)
	if err != nil {
		log.Printf("cache: marshal entry %s failed: %v", key, err)
		return
	}
	if err := c.backend.Set(ctx, KeyPrefix+key, bs, maxRetention); err != nil {
		log.Printf("cache: set %s failed: %v", key, err)
	}
}

// Get 读取未过期的条目并反序列化到 out。已过期的条目会被清除并按不存在处理。
func (c *Cache) Get(ctx context.Context, key string, out any) (Entry, bool) {
	entry, ok := c.load(ctx, key)
	if !ok {
		return Entry{}, false
	}
	if time.Now().UnixMilli() > entry.Expiry {
		// 过期即失效；陈旧读取要走 GetStale 显式表达
		_ = c.backend.Del(ctx, KeyPrefix+key)
		return Entry{}, false
	}
	return c.decode(key, entry, out)
}

// GetStale 陈旧兜底读取：条目超过自身 Expiry 也接受，
// 只要写入时间还在 window 之内。只应在线上抓取失败后调用。
func (c *Cache) GetStale(ctx context.Context, key string, out any, window time.Duration) (Entry, bool) {
	entry, ok := c.load(ctx, key)
	if !ok {
		return Entry{}, false
	}
	if time.Since(time.UnixMilli(entry.Timestamp)) > window {
		return Entry{}, false
	}
	return c.decode(key, entry, out)
}

// Validators 只取条件请求需要的校验头，不关心数据是否过期
func (c *Cache) Validators(ctx context.Context, key string) (etag, lastModified string) {
	entry, ok := c.load(ctx, key)
	if !ok {
		return "", ""
	}
	return entry.ETag, entry.LastModified
}

func (c *Cache) Remove(ctx context.Context, key string) {
	if err := c.backend.Del(ctx, KeyPrefix+key); err != nil {
		log.Printf("cache: del %s failed: %v", key, err)
	}
}

func (c *Cache) load(ctx context.Context, key string) (Entry, bool) {
	bs, err := c.backend.Get(ctx, KeyPrefix+key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			log.Printf("cache: get %s failed: %v", key, err)
		}
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal(bs, &entry); err != nil {
		log.Printf("cache: corrupt entry %s, dropping: %v", key, err)
		_ = c.backend.Del(ctx, KeyPrefix+key)
		return Entry{}, false
	}
	return entry, true
}

func (c *Cache) decode(key string, entry Entry, out any) (Entry, bool) {
	if out == nil {
		return entry, true
	}
	if err := json.Unmarshal(entry.Data, out); err != nil {
		log.Printf("cache: decode %s failed: %v", key, err)
		return Entry{}, false
	}
	return entry, true
}
