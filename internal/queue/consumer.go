package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"seckill/internal/model"
	rediskey "seckill/pkg/redis"
)

// Consumer 从 Redis Stream 消费订单，落库后 ACK。
// Stream 本身保证至少一次投递，落库按 (voucher_id, user_id) 幂等，
// 两者叠加对外表现为恰好一次。
type Consumer struct {
	rdb      *rd.Client
	db       *gorm.DB
	producer *Producer // 可为 nil，不影响下单主流程

	stream   string
	group    string
	consumer string
	lockTTL  time.Duration
}

func NewConsumer(rdb *rd.Client, db *gorm.DB, producer *Producer, group, consumer string, lockTTL time.Duration) *Consumer {
	return &Consumer{
		rdb:      rdb,
		db:       db,
		producer: producer,
		stream:   rediskey.OrderStream,
		group:    group,
		consumer: consumer,
		lockTTL:  lockTTL,
	}
}

// Run 阻塞消费直到 ctx 取消。
// 启动先清一遍 pending（崩溃重启后补投递），之后尾部阻塞读新消息；
// 任何读取/处理失败都回到 pending 扫描，清空后再继续尾读。
func (c *Consumer) Run(ctx context.Context) {
	if err := c.ensureGroup(ctx); err != nil {
		log.Error().Err(err).Str("stream", c.stream).Msg("create consumer group failed")
		return
	}
	c.drainPending(ctx)

	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := c.read(ctx, ">", 2*time.Minute)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, rd.Nil) {
				log.Error().Err(err).Msg("read order stream failed")
				c.drainPending(ctx)
			}
			continue
		}
		for _, msg := range msgs {
			if err := c.handle(ctx, msg); err != nil {
				log.Error().Err(err).Str("entry", msg.ID).Msg("handle order failed")
				c.drainPending(ctx)
				break
			}
		}
	}
}

// ensureGroup 建组，组已存在（BUSYGROUP）视为成功。
func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (c *Consumer) read(ctx context.Context, id string, block time.Duration) ([]rd.XMessage, error) {
	res, err := c.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, id},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, rd.Nil
	}
	return res[0].Messages, nil
}

// drainPending 重放本消费者已投递未 ACK 的条目，直到 pending 清空。
func (c *Consumer) drainPending(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := c.read(ctx, "0", 0)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("read pending orders failed")
			time.Sleep(200 * time.Millisecond)
			continue
		}
		if len(msgs) == 0 {
			return // pending 已清空
		}
		if err := c.handle(ctx, msgs[0]); err != nil {
			log.Error().Err(err).Str("entry", msgs[0].ID).Msg("handle pending order failed")
			time.Sleep(200 * time.Millisecond)
		}
	}
}

// handle 处理单条订单消息：解析、加用户锁、落库、ACK。
// 返回错误时不 ACK，条目留在 pending 等待重试。
func (c *Consumer) handle(ctx context.Context, xm rd.XMessage) error {
	msg, err := parseOrderEntry(xm.Values)
	if err != nil {
		// 脏消息重试也不会变好，ACK 丢弃避免卡死队列
		log.Warn().Err(err).Str("entry", xm.ID).Msg("drop malformed order entry")
		return c.ack(ctx, xm.ID)
	}

	lock := rediskey.NewLock(c.rdb, rediskey.OrderLockName(msg.UserID))
	ok, err := lock.TryLock(ctx, c.lockTTL)
	if err != nil {
		return err
	}
	if !ok {
		// 同一用户的订单正在处理，说明是重复投递，直接拒绝
		log.Warn().Int64("user_id", msg.UserID).Int64("order_id", msg.OrderID).
			Msg("user order already in flight, reject duplicate delivery")
		return c.ack(ctx, xm.ID)
	}
	defer func() {
		if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Int64("user_id", msg.UserID).Msg("release order lock failed")
		}
	}()

	if err := c.persist(msg); err != nil {
		return err
	}
	if err := c.ack(ctx, xm.ID); err != nil {
		return err
	}

	if c.producer != nil {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := c.producer.Publish(pubCtx, msg); err != nil {
			// 事件投递失败不回滚订单，仅记录
			log.Error().Err(err).Int64("order_id", msg.OrderID).Msg("publish order event failed")
		}
	}
	return nil
}

// errDuplicateOrder 让事务整体回滚，避免重复投递把库存多扣一次。
var errDuplicateOrder = errors.New("duplicate order")

// persist 事务内扣减库存并写订单，按 (voucher_id, user_id) 幂等。
func (c *Consumer) persist(msg OrderMessage) error {
	err := c.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Order{}).
			Where("voucher_id = ? AND user_id = ?", msg.VoucherID, msg.UserID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil // 已入库，重复投递
		}

		res := tx.Model(&model.Voucher{}).
			Where("id = ? AND stock > 0", msg.VoucherID).
			UpdateColumn("stock", gorm.Expr("stock - 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Redis 预扣成功但库里没货，留在 pending 里等人工对账
			return errors.New("db stock deduction affected no rows")
		}

		order := model.Order{
			OrderID:   msg.OrderID,
			UserID:    msg.UserID,
			VoucherID: msg.VoucherID,
			Amount:    msg.Amount,
			Status:    model.OrderStatusUnpaid,
		}
		if err := tx.Create(&order).Error; err != nil {
			if looksLikeUniqueViolation(err) {
				return errDuplicateOrder
			}
			return err
		}
		return nil
	})
	if errors.Is(err, errDuplicateOrder) {
		return nil // 并发重复投递撞上唯一索引，视为已成功
	}
	return err
}

func (c *Consumer) ack(ctx context.Context, id string) error {
	return c.rdb.XAck(ctx, c.stream, c.group, id).Err()
}

func looksLikeUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "unique") || strings.Contains(s, "duplicate")
}
