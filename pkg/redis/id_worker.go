package redis

import (
	"context"
	"fmt"
	"time"

	rd "github.com/redis/go-redis/v9"
)

const (
	// beginTimestamp 2025-01-01 00:00:00 UTC，ID 时间戳的纪元起点。
	beginTimestamp = 1735689600
	// countBits 低位序列号位数。
	countBits = 32
)

// IDWorker 生成全局唯一、按时间递增的 64 位 ID。
// 高位为相对纪元的秒数，低 32 位为按业务、按天的 Redis 自增序列；
// 计数器键按日期轮转，天然每日归零。
type IDWorker struct {
	rdb *rd.Client
}

func NewIDWorker(rdb *rd.Client) *IDWorker {
	return &IDWorker{rdb: rdb}
}

// NextID 返回 biz 业务下的下一个 ID。
// Redis 不可达时直接报错，调用方不得本地编造 ID。
func (w *IDWorker) NextID(ctx context.Context, biz string) (int64, error) {
	now := time.Now().UTC()
	timestamp := now.Unix() - beginTimestamp

	date := now.Format("2006:01:02")
	seq, err := w.rdb.Incr(ctx, CounterKey(biz, date)).Result()
	if err != nil {
		return 0, fmt.Errorf("id worker incr: %w", err)
	}

	return timestamp<<countBits | seq, nil
}
