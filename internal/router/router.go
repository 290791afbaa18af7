package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"seckill/internal/cache"
	"seckill/internal/config"
	"seckill/internal/inventory"
	"seckill/internal/middleware"
	rediskey "seckill/pkg/redis"
)

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, db *gorm.DB, rdb *rd.Client, cfg config.AppConfig) {
	cc := cache.NewClient(rdb, cfg.CacheNullTTL, cfg.LockTTL)
	gate := inventory.NewGate(rdb)
	idWorker := rediskey.NewIDWorker(rdb)

	auth := middleware.TokenAuth(rdb, cfg.LoginTTL)
	admin := middleware.AdminAuth(cfg.AdminToken)
	rate := middleware.RedisRateLimit(rdb, cfg.BuyRateLimit, cfg.BuyRateWindow)

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})

	// 登录
	r.POST("/api/user/code", sendCode(rdb))
	r.POST("/api/user/login", login(db, rdb, cfg.LoginTTL))
	r.GET("/api/user/me", auth, me(db))

	// 店铺（读路径走缓存加速器）
	r.POST("/api/shop", admin, createShop(db))
	r.GET("/api/shop/:id", queryShop(db, cc, cfg))
	r.GET("/api/shop/hot/:id", queryHotShop(db, cc, cfg))
	r.POST("/api/shop/warmup/:id", admin, warmupShop(db, cc, cfg))
	r.PUT("/api/shop/:id", admin, updateShop(db, cc))

	// 秒杀券
	r.POST("/api/voucher", admin, createVoucher(db))
	r.POST("/api/seckill/preload/:voucher_id", admin, preloadVoucher(db, gate, cc))
	r.GET("/api/seckill/stock/:voucher_id", getStock(gate))
	r.POST("/api/seckill/voucher/:voucher_id", auth, rate, seckillVoucher(db, cc, gate, idWorker, cfg))
	r.GET("/api/seckill/result/:order_id", auth, getResult(db))
}
