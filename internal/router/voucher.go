package router

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"seckill/internal/cache"
	"seckill/internal/config"
	"seckill/internal/inventory"
	"seckill/internal/middleware"
	"seckill/internal/model"
	rediskey "seckill/pkg/redis"
)

func voucherLoader(db *gorm.DB) func(context.Context, uint) (*model.Voucher, error) {
	return func(ctx context.Context, id uint) (*model.Voucher, error) {
		var v model.Voucher
		err := db.WithContext(ctx).First(&v, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &v, nil
	}
}

// createVoucher 创建秒杀券（含活动时间窗校验）。
func createVoucher(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Title     string `json:"title" binding:"required"`
			Stock     int64  `json:"stock" binding:"required,min=1"`
			SalePrice int64  `json:"sale_price" binding:"required,min=1"`
			BeginTime string `json:"begin_time" binding:"required"`
			EndTime   string `json:"end_time" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		begin, err := time.Parse(time.RFC3339, req.BeginTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "begin_time 格式错误，请用 RFC3339"})
			return
		}
		end, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "end_time 格式错误，请用 RFC3339"})
			return
		}
		if !end.After(begin) {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "end_time 必须晚于 begin_time"})
			return
		}

		v := &model.Voucher{
			Title:     req.Title,
			Stock:     req.Stock,
			SalePrice: req.SalePrice,
			BeginTime: begin,
			EndTime:   end,
		}
		if err := db.Create(v).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": v})
	}
}

// preloadVoucher 把 DB 库存预热进 Redis，并清掉旧的券缓存。
// 秒杀开始前必须先调用，否则 Lua 扣减按无库存处理。
func preloadVoucher(db *gorm.DB, gate *inventory.Gate, cc *cache.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUintParam(c, "voucher_id")
		if !ok {
			return
		}
		var v model.Voucher
		if err := db.First(&v, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "优惠券不存在"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}

		ctx := c.Request.Context()
		if err := gate.PreloadStock(ctx, v.ID, v.Stock); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		key := rediskey.CacheVoucherKey + strconv.FormatUint(uint64(v.ID), 10)
		if err := cc.Delete(ctx, key); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "预热成功", "data": gin.H{"stock": v.Stock}})
	}
}

// getStock 查询 Redis 中的实时剩余库存。
func getStock(gate *inventory.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUintParam(c, "voucher_id")
		if !ok {
			return
		}
		stock, err := gate.Stock(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"stock": stock}})
	}
}

// seckillVoucher 秒杀下单入口。
// 1. 缓存读券，校验活动时间窗
// 2. 生成时间有序订单号
// 3. Lua 原子判库存 + 判重复 + 扣减 + 入 Stream
// 成功即返回订单号，落库由后台消费者异步完成。
func seckillVoucher(db *gorm.DB, cc *cache.Client, gate *inventory.Gate,
	idWorker *rediskey.IDWorker, cfg config.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUintParam(c, "voucher_id")
		if !ok {
			return
		}
		userID := middleware.UserID(c)
		ctx := c.Request.Context()

		voucher, err := cache.QueryWithPassThrough(ctx, cc,
			rediskey.CacheVoucherKey, id, cfg.CacheTTL, voucherLoader(db))
		if err != nil {
			if errors.Is(err, cache.ErrCacheLoadTimeout) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"code": 503, "msg": "系统繁忙，请稍后再试"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if voucher == nil {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "优惠券不存在"})
			return
		}

		now := time.Now()
		if now.Before(voucher.BeginTime) {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "秒杀尚未开始"})
			return
		}
		if now.After(voucher.EndTime) {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "秒杀已经结束"})
			return
		}

		orderID, err := idWorker.NextID(ctx, "order")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}

		res, err := gate.TryReserve(ctx, voucher.ID, userID, orderID, voucher.SalePrice)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		switch res {
		case inventory.ReserveOutOfStock:
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "库存不足"})
		case inventory.ReserveDuplicate:
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "不可重复下单"})
		default:
			c.JSON(http.StatusOK, gin.H{
				"code": 0,
				"data": gin.H{
					"order_id": strconv.FormatInt(orderID, 10),
					"status":   "pending",
				},
			})
		}
	}
}

// getResult 查询订单异步落库结果。
// 未落库时返回 processing，抢购成功但消费者尚未处理完都会短暂停留在该状态。
func getResult(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, err := strconv.ParseInt(c.Param("order_id"), 10, 64)
		if err != nil || orderID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "订单号无效"})
			return
		}

		var order model.Order
		err = db.Where("order_id = ? AND user_id = ?", orderID, middleware.UserID(c)).
			First(&order).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusOK, gin.H{
				"code": 0,
				"data": gin.H{"status": "processing", "order_id": strconv.FormatInt(orderID, 10)},
			})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"code": 0,
			"data": gin.H{"status": "created", "order": order},
		})
	}
}
