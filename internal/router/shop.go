package router

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"seckill/internal/cache"
	"seckill/internal/config"
	"seckill/internal/model"
	rediskey "seckill/pkg/redis"
)

// shopLoader 回源查店铺，(nil, nil) 表示不存在。
func shopLoader(db *gorm.DB) func(context.Context, uint) (*model.Shop, error) {
	return func(ctx context.Context, id uint) (*model.Shop, error) {
		var shop model.Shop
		err := db.WithContext(ctx).First(&shop, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &shop, nil
	}
}

// queryShop 普通读路径：缓存穿透防护 + 互斥重建。
func queryShop(db *gorm.DB, cc *cache.Client, cfg config.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUintParam(c, "id")
		if !ok {
			return
		}
		shop, err := cache.QueryWithPassThrough(c.Request.Context(), cc,
			rediskey.CacheShopKey, id, cfg.CacheTTL, shopLoader(db))
		if err != nil {
			if errors.Is(err, cache.ErrCacheLoadTimeout) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"code": 503, "msg": "系统繁忙，请稍后再试"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if shop == nil {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "店铺不存在"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": shop})
	}
}

// queryHotShop 热点读路径：逻辑过期，只读预热过的缓存，永不回源阻塞。
func queryHotShop(db *gorm.DB, cc *cache.Client, cfg config.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUintParam(c, "id")
		if !ok {
			return
		}
		shop, err := cache.QueryWithLogicalExpire(c.Request.Context(), cc,
			rediskey.CacheShopKey, id, cfg.CacheTTL, shopLoader(db))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		if shop == nil {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "店铺未预热或不存在"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": shop})
	}
}

// warmupShop 把店铺以逻辑过期形式预热进缓存。
func warmupShop(db *gorm.DB, cc *cache.Client, cfg config.AppConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUintParam(c, "id")
		if !ok {
			return
		}
		var shop model.Shop
		if err := db.First(&shop, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "店铺不存在"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		key := rediskey.CacheShopKey + strconv.FormatUint(uint64(id), 10)
		if err := cc.SetWithLogicalExpire(c.Request.Context(), key, &shop, cfg.CacheTTL); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "预热成功"})
	}
}

func createShop(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name    string `json:"name" binding:"required"`
			Address string `json:"address"`
			AvgCost int64  `json:"avg_cost" binding:"omitempty,min=0"`
			Score   int    `json:"score" binding:"omitempty,min=0,max=50"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		shop := &model.Shop{Name: req.Name, Address: req.Address, AvgCost: req.AvgCost, Score: req.Score}
		if err := db.Create(shop).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": shop})
	}
}

// updateShop 先更新 DB 再删缓存，下次读时重建。
func updateShop(db *gorm.DB, cc *cache.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUintParam(c, "id")
		if !ok {
			return
		}
		var req struct {
			Name    string `json:"name"`
			Address string `json:"address"`
			AvgCost int64  `json:"avg_cost"`
			Score   int    `json:"score"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}

		updates := map[string]any{}
		if req.Name != "" {
			updates["name"] = req.Name
		}
		if req.Address != "" {
			updates["address"] = req.Address
		}
		if req.AvgCost > 0 {
			updates["avg_cost"] = req.AvgCost
		}
		if req.Score > 0 {
			updates["score"] = req.Score
		}
		if len(updates) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "没有需要更新的字段"})
			return
		}

		res := db.Model(&model.Shop{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": res.Error.Error()})
			return
		}
		if res.RowsAffected == 0 {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "店铺不存在"})
			return
		}

		key := rediskey.CacheShopKey + strconv.FormatUint(uint64(id), 10)
		if err := cc.Delete(c.Request.Context(), key); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "更新成功"})
	}
}

func parseUintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || v == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "ID无效"})
		return 0, false
	}
	return uint(v), true
}
