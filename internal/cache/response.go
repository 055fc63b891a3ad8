package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Status 通过 X-Cache 响应头暴露给调用方
type Status string

const (
	StatusHit   Status = "HIT"
	StatusStale Status = "STALE"
	StatusMiss  Status = "MISS"
)

// Loader 在未命中或需要重新验证时向上游取数
type Loader func(ctx context.Context) ([]byte, error)

type entry struct {
	StoredAt time.Time `json:"stored_at"`
	Body     []byte    `json:"body"`
}

// ResponseCache 按新鲜度窗口缓存上游响应：
// 新鲜期内直接命中，过期但在 stale 窗口内先返回旧值并在后台刷新，超出窗口则同步回源。
// 失败结果从不写入缓存。nil 的 *ResponseCache 等价于直接调用 Loader。
type ResponseCache struct {
	store  Store
	fresh  time.Duration
	stale  time.Duration
	logger *zap.Logger
	now    func() time.Time

	group singleflight.Group
	bg    sync.WaitGroup
}

func NewResponseCache(store Store, fresh, stale time.Duration, logger *zap.Logger) *ResponseCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResponseCache{
		store:  store,
		fresh:  fresh,
		stale:  stale,
		logger: logger.With(zap.String("component", "cache")),
		now:    time.Now,
	}
}

// Get 返回 key 对应的响应体以及命中状态
func (c *ResponseCache) Get(ctx context.Context, key string, load Loader) ([]byte, Status, error) {
	if c == nil {
		body, err := load(ctx)
		return body, StatusMiss, err
	}

	if e, ok := c.lookup(ctx, key); ok {
		age := c.now().Sub(e.StoredAt)
		switch {
		case age < c.fresh:
			return e.Body, StatusHit, nil
		case age < c.fresh+c.stale:
			c.revalidate(ctx, key, load)
			return e.Body, StatusStale, nil
		}
	}

	body, err := c.fill(ctx, key, load)
	if err != nil {
		return nil, StatusMiss, err
	}
	return body, StatusMiss, nil
}

// Ping 检查后端存储是否可用
func (c *ResponseCache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.store.Ping(ctx)
}

// Wait 等待所有后台刷新结束，用于关闭流程
func (c *ResponseCache) Wait() {
	if c == nil {
		return
	}
	c.bg.Wait()
}

func (c *ResponseCache) lookup(ctx context.Context, key string) (entry, bool) {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			// 存储不可用时退化为直接回源
			c.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		}
		return entry{}, false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn("Dropping malformed cache entry", zap.String("key", key), zap.Error(err))
		return entry{}, false
	}
	return e, true
}

// fill 合并同一 key 上几乎同时发生的回源请求。
// 共享的回源不跟随任何一个调用方的取消，只受网关自身超时约束。
func (c *ResponseCache) fill(ctx context.Context, key string, load Loader) ([]byte, error) {
	shareCtx := context.WithoutCancel(ctx)
	v, err, shared := c.group.Do(key, func() (any, error) {
		body, err := load(shareCtx)
		if err != nil {
			return nil, err
		}
		c.save(shareCtx, key, body)
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("Shared in-flight upstream call", zap.String("key", key))
	}
	return v.([]byte), nil
}

func (c *ResponseCache) revalidate(ctx context.Context, key string, load Loader) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		if _, err := c.fill(ctx, key, load); err != nil {
			c.logger.Warn("Background revalidation failed", zap.String("key", key), zap.Error(err))
		}
	}()
}

func (c *ResponseCache) save(ctx context.Context, key string, body []byte) {
	raw, err := json.Marshal(entry{StoredAt: c.now(), Body: body})
	if err != nil {
		c.logger.Warn("Failed to encode cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, key, raw, c.fresh+c.stale); err != nil {
		c.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}
