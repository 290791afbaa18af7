package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// luaUnlock 仅当锁值与持有者令牌一致时才删除。
// GET 与 DEL 必须在服务端一次执行：锁过期后被他人抢到时，
// 慢持有者的延迟释放不能误删新锁。
const luaUnlock = `
local lockKey = KEYS[1]
local token = ARGV[1]
if redis.call('GET', lockKey) == token then
  return redis.call('DEL', lockKey)
end
return 0
`

var unlockScript = rd.NewScript(luaUnlock)

// Lock 基于 Redis 的进程间互斥锁。
// 非阻塞获取：拿不到直接返回 false，重试策略由调用方决定。
type Lock struct {
	rdb   *rd.Client
	key   string
	token string
}

// NewLock 创建名为 name 的锁，令牌对每个 Lock 实例唯一。
func NewLock(rdb *rd.Client, name string) *Lock {
	return &Lock{
		rdb:   rdb,
		key:   LockKey(name),
		token: uuid.New().String(),
	}
}

// TryLock SETNX 抢锁，ttl 为自动过期时间（崩溃兜底）。
func (l *Lock) TryLock(ctx context.Context, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, l.key, l.token, ttl).Result()
}

// Unlock 校验令牌后释放锁；令牌不匹配时不做任何事。
func (l *Lock) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
}
