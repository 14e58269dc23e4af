package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const rateLimitWindow = time.Second

// RateLimit caps upload requests per user (or per IP before auth) to max
// per second. A nil client or a non-positive max disables the limit.
func RateLimit(rdb *redis.Client, max int64, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rdb == nil || max <= 0 {
			c.Next()
			return
		}

		who := CurrentUserID(c)
		if who == "" {
			who = c.ClientIP()
		}
		if who == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := fmt.Sprintf("portal:rate_limit:%s:%d", who, time.Now().Unix())

		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			c.Next()
			return
		}
		if count == 1 {
			rdb.PExpire(ctx, key, rateLimitWindow+time.Second)
		}

		if count > max {
			if log != nil {
				log.Warn("rate limited", zap.String("who", who), zap.String("path", c.Request.URL.Path))
			}
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"ok":      0,
				"code":    http.StatusTooManyRequests,
				"message": "Too many uploads, please slow down",
			})
			return
		}

		c.Next()
	}
}
