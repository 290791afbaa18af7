package inventory

import (
	"context"
	"fmt"
	"strconv"

	rd "github.com/redis/go-redis/v9"

	rediskey "seckill/pkg/redis"
)

// ReserveResult 预占结果，区分业务失败原因，不是笼统的布尔值。
type ReserveResult int

const (
	ReserveOk ReserveResult = iota
	ReserveOutOfStock
	ReserveDuplicate
)

// luaReserve 库存判断、一人一单判断、扣减、打标、入流，服务端一次执行。
// 三步必须不可分割：否则两个请求可能同时看到 stock=1 并都扣减。
// KEYS[1]=库存key KEYS[2]=已购集合key KEYS[3]=订单stream
// ARGV[1]=voucherId ARGV[2]=userId ARGV[3]=orderId ARGV[4]=amount
// 返回 0 成功 / 1 库存不足 / 2 重复下单
const luaReserve = `
local stockKey = KEYS[1]
local orderKey = KEYS[2]
local streamKey = KEYS[3]
local voucherId = ARGV[1]
local userId = ARGV[2]
local orderId = ARGV[3]
local amount = ARGV[4]

if tonumber(redis.call('GET', stockKey) or '0') <= 0 then
  return 1
end
if redis.call('SISMEMBER', orderKey, userId) == 1 then
  return 2
end
redis.call('DECRBY', stockKey, 1)
redis.call('SADD', orderKey, userId)
redis.call('XADD', streamKey, '*',
  'order_id', orderId, 'voucher_id', voucherId, 'user_id', userId, 'amount', amount)
return 0
`

var reserveScript = rd.NewScript(luaReserve)

// Gate 秒杀库存闸口。只操作 Redis 侧的库存计数与已购标记，
// 关系库的对账由队列消费端异步完成，热路径不碰 DB。
type Gate struct {
	rdb *rd.Client
}

func NewGate(rdb *rd.Client) *Gate {
	return &Gate{rdb: rdb}
}

// TryReserve 原子预占一件库存并把订单投入 Stream。
func (g *Gate) TryReserve(ctx context.Context, voucherID uint, userID, orderID, amount int64) (ReserveResult, error) {
	keys := []string{
		rediskey.StockKey(voucherID),
		rediskey.SeckillOrdersKey(voucherID),
		rediskey.OrderStream,
	}
	res, err := reserveScript.Run(ctx, g.rdb, keys,
		strconv.FormatUint(uint64(voucherID), 10),
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(orderID, 10),
		strconv.FormatInt(amount, 10),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("reserve script: %w", err)
	}

	switch res {
	case 0:
		return ReserveOk, nil
	case 1:
		return ReserveOutOfStock, nil
	case 2:
		return ReserveDuplicate, nil
	default:
		return 0, fmt.Errorf("reserve script: unexpected result %d", res)
	}
}

// PreloadStock 将 DB 库存预热到 Redis，并清空该券的已购标记。
func (g *Gate) PreloadStock(ctx context.Context, voucherID uint, stock int64) error {
	pipe := g.rdb.TxPipeline()
	pipe.Set(ctx, rediskey.StockKey(voucherID), stock, 0)
	pipe.Del(ctx, rediskey.SeckillOrdersKey(voucherID))
	_, err := pipe.Exec(ctx)
	return err
}

// Stock 查询 Redis 中的实时库存；key 不存在视为 0。
func (g *Gate) Stock(ctx context.Context, voucherID uint) (int64, error) {
	val, err := g.rdb.Get(ctx, rediskey.StockKey(voucherID)).Int64()
	if err == rd.Nil {
		return 0, nil
	}
	return val, err
}
