package redis

import "fmt"

// StockKey 秒杀券实时库存键名。
func StockKey(voucherID uint) string {
	return fmt.Sprintf("seckill:stock:%d", voucherID)
}

// SeckillOrdersKey 记录某张券已下单用户的集合（一人一单标记）。
func SeckillOrdersKey(voucherID uint) string {
	return fmt.Sprintf("seckill:orders:%d", voucherID)
}

// LockKey 分布式互斥锁键名。
func LockKey(name string) string {
	return "lock:" + name
}

// OrderLockName 按用户串行化落单的锁名。
func OrderLockName(userID int64) string {
	return fmt.Sprintf("order:%d", userID)
}

// CacheShopKey 店铺缓存键前缀。
const CacheShopKey = "cache:shop:"

// CacheVoucherKey 秒杀券缓存键前缀。
const CacheVoucherKey = "cache:voucher:"

// LoginTokenKey 登录态 Hash 键名。
func LoginTokenKey(token string) string {
	return "login:token:" + token
}

// LoginCodeKey 手机验证码键名。
func LoginCodeKey(phone string) string {
	return "login:code:" + phone
}

// CounterKey ID 生成器按业务、按天自增计数器键名。
func CounterKey(biz, date string) string {
	return fmt.Sprintf("icr:%s:%s", biz, date)
}

// OrderStream 订单异步落库使用的 Stream 键名。
const OrderStream = "stream.orders"

// RateLimitKey 按用户的购买限流键名。
func RateLimitKey(userID int64) string {
	return fmt.Sprintf("rate_limit:seckill:user:%d", userID)
}
