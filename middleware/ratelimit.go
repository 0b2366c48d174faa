package middleware

import (
	"encoding/json"
	"time"

	"github.com/didip/tollbooth"
	"github.com/didip/tollbooth/limiter"
	"github.com/didip/tollbooth_gin"
	"github.com/gin-gonic/gin"
)

// RateLimit 按客户端IP限流分析接口
func RateLimit(requestsPerSecond float64) gin.HandlerFunc {
	message := map[string]any{
		"success": false,
		"message": "rate limit exceeded, please slow down",
	}
	jsonMessage, _ := json.Marshal(message)

	lmt := tollbooth.NewLimiter(requestsPerSecond, &limiter.ExpirableOptions{
		DefaultExpirationTTL: time.Minute,
	})
	lmt.SetMessageContentType("application/json")
	lmt.SetMessage(string(jsonMessage))

	return tollbooth_gin.LimitHandler(lmt)
}
