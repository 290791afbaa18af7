package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"

	rediskey "seckill/pkg/redis"
)

const ctxUserIDKey = "userID"

// TokenAuth 校验登录态：Authorization 头带 token，
// 会话存在 Redis hash 里，命中后顺便续期。
func TokenAuth(rdb *rd.Client, loginTTL time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if token == "" {
			abortUnauthorized(c)
			return
		}

		key := rediskey.LoginTokenKey(token)
		session, err := rdb.HGetAll(c.Request.Context(), key).Result()
		if err != nil || len(session) == 0 {
			abortUnauthorized(c)
			return
		}
		userID, err := strconv.ParseInt(session["id"], 10, 64)
		if err != nil || userID <= 0 {
			abortUnauthorized(c)
			return
		}

		// 活跃用户滑动续期
		rdb.Expire(c.Request.Context(), key, loginTTL)

		c.Set(ctxUserIDKey, userID)
		c.Next()
	}
}

// UserID 取出登录用户 ID，只在 TokenAuth 之后的 handler 里使用。
func UserID(c *gin.Context) int64 {
	return c.GetInt64(ctxUserIDKey)
}

// AdminAuth 管理接口的简单口令校验（预热、补录等运维入口）。
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("X-Admin-Token") != token {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code": 403,
				"msg":  "无权限",
			})
			return
		}
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code": 401,
		"msg":  "未登录或登录已过期",
	})
}
