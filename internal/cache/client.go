package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	rd "github.com/redis/go-redis/v9"

	rediskey "seckill/pkg/redis"
)

var (
	// ErrCacheLoadTimeout 穿透路径等待重建锁超过重试上限。
	ErrCacheLoadTimeout = errors.New("cache load timeout: rebuild lock busy")
)

const (
	// 穿透路径抢锁失败时的重试间隔与上限（上限兜底，不无限自旋）。
	lockRetryInterval = 20 * time.Millisecond
	lockMaxRetries    = 50

	// 逻辑过期异步重建的并发上限
	rebuildWorkers = 10

	rebuildTimeout = 5 * time.Second
)

// redisData 逻辑过期包装：过期时间内嵌在 value 里，
// 存储层 TTL 恒为 0（不过期），新鲜度只看 ExpireTime。
type redisData struct {
	Data       json.RawMessage `json:"data"`
	ExpireTime time.Time       `json:"expire_time"`
}

// Client 缓存读加速器：空值缓存防穿透，逻辑过期 + 单飞重建防击穿。
type Client struct {
	rdb     *rd.Client
	lockTTL time.Duration
	nullTTL time.Duration

	// 进程内重复加载合并；跨进程仍靠分布式锁
	sf singleflight.Group

	// 有界重建池：满了就放弃本轮重建，继续返回旧值
	rebuildSem chan struct{}
}

func NewClient(rdb *rd.Client, nullTTL, lockTTL time.Duration) *Client {
	return &Client{
		rdb:        rdb,
		lockTTL:    lockTTL,
		nullTTL:    nullTTL,
		rebuildSem: make(chan struct{}, rebuildWorkers),
	}
}

// Set 序列化后写入缓存，带存储层 TTL。
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	return c.rdb.Set(ctx, key, b, ttl).Err()
}

// SetWithLogicalExpire 写入逻辑过期缓存；存储层不设 TTL。
func (c *Client) SetWithLogicalExpire(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	data := redisData{
		Data:       b,
		ExpireTime: time.Now().Add(ttl),
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	return c.rdb.Set(ctx, key, payload, 0).Err()
}

// Delete 主动失效（写库后删缓存）。
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// QueryWithPassThrough 缓存穿透防护查询。
// 命中返回；命中空值（""）返回 nil 表示不存在；
// 未命中时抢重建锁、双重检查后回源，查不到则写短 TTL 空值。
// 返回 (nil, nil) 表示对象不存在。
func QueryWithPassThrough[T any](ctx context.Context, c *Client, prefix string, id uint,
	ttl time.Duration, loader func(context.Context, uint) (*T, error)) (*T, error) {

	key := fmt.Sprintf("%s%d", prefix, id)

	for attempt := 0; attempt <= lockMaxRetries; attempt++ {
		val, err := c.rdb.Get(ctx, key).Result()
		if err == nil {
			// 缓存击中空值：对象不存在
			if val == "" {
				return nil, nil
			}
			var out T
			if err := json.Unmarshal([]byte(val), &out); err != nil {
				return nil, fmt.Errorf("cache unmarshal %s: %w", key, err)
			}
			return &out, nil
		}
		if !errors.Is(err, rd.Nil) {
			return nil, fmt.Errorf("cache get %s: %w", key, err)
		}

		// 未命中：进程内先合并，再抢跨进程重建锁
		res, err, _ := c.sf.Do(key, func() (any, error) {
			return rebuildPassThrough(ctx, c, key, id, ttl, loader)
		})
		if err != nil {
			if errors.Is(err, errLockBusy) {
				time.Sleep(lockRetryInterval)
				continue
			}
			return nil, err
		}
		return res.(*T), nil
	}

	return nil, ErrCacheLoadTimeout
}

// errLockBusy 重建锁被其他进程占用，调用方回到读缓存重试。
var errLockBusy = errors.New("cache rebuild lock busy")

func rebuildPassThrough[T any](ctx context.Context, c *Client, key string, id uint,
	ttl time.Duration, loader func(context.Context, uint) (*T, error)) (*T, error) {

	lock := rediskey.NewLock(c.rdb, key)
	ok, err := lock.TryLock(ctx, c.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("cache lock %s: %w", key, err)
	}
	if !ok {
		return nil, errLockBusy
	}
	defer func() {
		if err := lock.Unlock(ctx); err != nil {
			log.Error().Err(err).Str("key", key).Msg("cache unlock failed")
		}
	}()

	// 双重检查：抢到锁时别人可能刚重建完
	val, err := c.rdb.Get(ctx, key).Result()
	if err == nil {
		if val == "" {
			return nil, nil
		}
		var out T
		if err := json.Unmarshal([]byte(val), &out); err != nil {
			return nil, fmt.Errorf("cache unmarshal %s: %w", key, err)
		}
		return &out, nil
	}
	if !errors.Is(err, rd.Nil) {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}

	out, err := loader(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("cache loader %s: %w", key, err)
	}
	if out == nil {
		// 空值缓存：短 TTL 挡住同一个不存在 key 的反复回源
		if err := c.rdb.Set(ctx, key, "", c.nullTTL).Err(); err != nil {
			return nil, fmt.Errorf("cache set null %s: %w", key, err)
		}
		return nil, nil
	}
	if err := c.Set(ctx, key, out, ttl); err != nil {
		return nil, err
	}
	return out, nil
}

// QueryWithLogicalExpire 逻辑过期查询，假定缓存已预热。
// 完全未命中返回 (nil, nil)；过期时非阻塞抢锁触发异步重建，
// 当前调用方总是立刻拿到（可能略旧的）数据。
func QueryWithLogicalExpire[T any](ctx context.Context, c *Client, prefix string, id uint,
	ttl time.Duration, loader func(context.Context, uint) (*T, error)) (*T, error) {

	key := fmt.Sprintf("%s%d", prefix, id)

	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, rd.Nil) {
		// 未预热：该策略不同步回源
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}

	data, out, err := decodeLogical[T](key, val)
	if err != nil {
		return nil, err
	}
	if data.ExpireTime.After(time.Now()) {
		return out, nil
	}

	// 已过期：抢锁失败说明重建已在途，直接返回旧值
	lock := rediskey.NewLock(c.rdb, key)
	ok, err := lock.TryLock(ctx, c.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("cache lock %s: %w", key, err)
	}
	if !ok {
		return out, nil
	}

	// 双重检查：并发重建者可能刚写入新值
	val2, err := c.rdb.Get(ctx, key).Result()
	if err == nil {
		data2, out2, derr := decodeLogical[T](key, val2)
		if derr == nil && data2.ExpireTime.After(time.Now()) {
			if err := lock.Unlock(ctx); err != nil {
				log.Error().Err(err).Str("key", key).Msg("cache unlock failed")
			}
			return out2, nil
		}
	}

	// 异步重建；池满则放弃本轮，锁立即归还
	select {
	case c.rebuildSem <- struct{}{}:
		go func() {
			defer func() { <-c.rebuildSem }()
			rebuildCtx, cancel := context.WithTimeout(context.Background(), rebuildTimeout)
			defer cancel()
			defer func() {
				if err := lock.Unlock(rebuildCtx); err != nil {
					log.Error().Err(err).Str("key", key).Msg("cache unlock failed")
				}
			}()

			fresh, err := loader(rebuildCtx, id)
			if err != nil {
				log.Error().Err(err).Str("key", key).Msg("cache rebuild load failed")
				return
			}
			if err := c.SetWithLogicalExpire(rebuildCtx, key, fresh, ttl); err != nil {
				log.Error().Err(err).Str("key", key).Msg("cache rebuild write failed")
			}
		}()
	default:
		if err := lock.Unlock(ctx); err != nil {
			log.Error().Err(err).Str("key", key).Msg("cache unlock failed")
		}
	}

	return out, nil
}

func decodeLogical[T any](key, val string) (redisData, *T, error) {
	var data redisData
	if err := json.Unmarshal([]byte(val), &data); err != nil {
		return redisData{}, nil, fmt.Errorf("cache unmarshal %s: %w", key, err)
	}
	var out T
	if err := json.Unmarshal(data.Data, &out); err != nil {
		return redisData{}, nil, fmt.Errorf("cache unmarshal %s: %w", key, err)
	}
	return data, &out, nil
}
