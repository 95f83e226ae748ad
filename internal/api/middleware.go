// internal/api/middleware.go
package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/Corphon/AdaptBrain/internal/utils"
)

const (
	requestIDKey    = "request_id"
	requestIDHeader = "X-Request-ID"
)

// requestIDMiddleware 为每个请求分配ID，沿用客户端传入的值
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// accessLogMiddleware 记录访问日志和接口指标
func accessLogMiddleware() gin.HandlerFunc {
	metrics := utils.GetMetricsCollector()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		duration := time.Since(start)
		status := c.Writer.Status()
		metrics.RecordAPIRequest(route, c.Request.Method, status, duration)

		fields := map[string]interface{}{
			"method":     c.Request.Method,
			"route":      route,
			"status":     status,
			"latency_ms": duration.Milliseconds(),
			"request_id": c.GetString(requestIDKey),
		}
		if status >= http.StatusInternalServerError {
			utils.GetLogger().Warn("HTTP请求", fields)
		} else {
			utils.GetLogger().Debug("HTTP请求", fields)
		}
	}
}

// recoveryMiddleware 捕获 panic 并返回标准错误信封
func recoveryMiddleware(rh *ResponseHelper) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				utils.GetLogger().Error("请求处理发生panic", map[string]interface{}{
					"path":       c.Request.URL.Path,
					"request_id": c.GetString(requestIDKey),
					"panic":      r,
				})
				utils.GetMetricsCollector().RecordError("panic", "api")
				rh.InternalError(c, "服务器内部错误")
				c.Abort()
			}
		}()
		c.Next()
	}
}

// corsMiddleware 实现跨域资源共享
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RateLimiter 按客户端IP划分的令牌桶
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idle     time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter 每个客户端每 window 最多 n 次，允许瞬时突发 n 次
func NewRateLimiter(n int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(window / time.Duration(n)),
		burst:    n,
		idle:     window * 3,
	}
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	// 顺带清理长时间未出现的客户端
	for k, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.idle {
			delete(rl.visitors, k)
		}
	}

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Allow 判断该客户端当前是否还有令牌
func (rl *RateLimiter) Allow(key string) bool {
	return rl.get(key).Allow()
}

// Middleware 超出限制时返回429
func (rl *RateLimiter) Middleware(rh *ResponseHelper) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.Header("X-RateLimit-Limit", strconv.Itoa(rl.burst))
			c.Header("Retry-After", "60")
			rh.Error(c, http.StatusTooManyRequests, ErrorRateLimited, "请求过于频繁，请稍后再试")
			c.Abort()
			return
		}
		c.Next()
	}
}

// GenerationRateLimit 模型调用类接口：每分钟20次
func GenerationRateLimit() *RateLimiter {
	return NewRateLimiter(20, time.Minute)
}
