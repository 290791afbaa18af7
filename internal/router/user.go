package router

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"seckill/internal/middleware"
	"seckill/internal/model"
	rediskey "seckill/pkg/redis"
)

var phonePattern = regexp.MustCompile(`^1[3-9]\d{9}$`)

const codeTTL = 2 * time.Minute

// sendCode 发送登录验证码。没接短信网关，验证码直接打日志。
func sendCode(rdb *rd.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Phone string `json:"phone" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		if !phonePattern.MatchString(req.Phone) {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "手机号格式错误"})
			return
		}

		code := fmt.Sprintf("%06d", rand.IntN(1000000))
		key := rediskey.LoginCodeKey(req.Phone)
		if err := rdb.Set(c.Request.Context(), key, code, codeTTL).Err(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}

		log.Info().Str("phone", req.Phone).Str("code", code).Msg("login code issued")
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "验证码已发送"})
	}
}

// login 验证码登录：校验验证码、按手机号建/查用户、发 token，
// 会话以 hash 形式存 Redis，由认证中间件滑动续期。
func login(db *gorm.DB, rdb *rd.Client, loginTTL time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Phone string `json:"phone" binding:"required"`
			Code  string `json:"code" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		if !phonePattern.MatchString(req.Phone) {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "手机号格式错误"})
			return
		}

		ctx := c.Request.Context()
		codeKey := rediskey.LoginCodeKey(req.Phone)
		cached, err := rdb.Get(ctx, codeKey).Result()
		if err != nil || cached != req.Code {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "验证码错误或已过期"})
			return
		}
		rdb.Del(ctx, codeKey)

		var user model.User
		err = db.Where("phone = ?", req.Phone).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			user = model.User{
				Phone:    req.Phone,
				NickName: "user_" + req.Phone[len(req.Phone)-4:],
			}
			err = db.Create(&user).Error
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}

		token := uuid.New().String()
		tokenKey := rediskey.LoginTokenKey(token)
		err = rdb.HSet(ctx, tokenKey,
			"id", strconv.FormatUint(uint64(user.ID), 10),
			"nick_name", user.NickName,
		).Err()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		rdb.Expire(ctx, tokenKey, loginTTL)

		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"token": token}})
	}
}

// me 返回当前登录用户。
func me(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var user model.User
		if err := db.First(&user, middleware.UserID(c)).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "用户不存在"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": user})
	}
}
