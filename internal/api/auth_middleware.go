// internal/api/auth_middleware.go
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Corphon/AdaptBrain/internal/auth"
	"github.com/Corphon/AdaptBrain/internal/utils"
)

const sessionKey = "session_id"

// AuthGate 可选的访问控制：配置了访问密钥时，接口需携带由密钥换取的会话令牌
type AuthGate struct {
	accessKey string
	tokens    *auth.TokenConfig
}

// NewAuthGate accessKey 为空时返回 nil，即不启用访问控制
func NewAuthGate(accessKey string, expiration time.Duration) (*AuthGate, error) {
	if accessKey == "" {
		return nil, nil
	}
	tokens, err := auth.NewTokenConfig(expiration)
	if err != nil {
		return nil, err
	}
	return &AuthGate{accessKey: accessKey, tokens: tokens}, nil
}

// Enabled 是否启用访问控制
func (g *AuthGate) Enabled() bool {
	return g != nil
}

// Middleware 校验 Authorization: Bearer <token>；WebSocket 无法设置请求头，改用 ?token=
func (g *AuthGate) Middleware(rh *ResponseHelper) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.Enabled() || isPublicEndpoint(c.Request.URL.Path) {
			c.Next()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			rh.Error(c, http.StatusUnauthorized, ErrorUnauthorized, "需要访问令牌")
			c.Abort()
			return
		}

		session, err := auth.ParseToken(token, g.tokens)
		if err != nil {
			utils.GetLogger().Warn("访问令牌校验失败", map[string]interface{}{
				"path":  c.Request.URL.Path,
				"error": err,
			})
			rh.Error(c, http.StatusUnauthorized, ErrorUnauthorized, err.Error())
			c.Abort()
			return
		}

		c.Set(sessionKey, session.ID)
		c.Next()
	}
}

func isPublicEndpoint(path string) bool {
	switch path {
	case "/api/health", "/api/auth/login", "/metrics":
		return true
	}
	return false
}

// LoginRequest 用访问密钥换取会话令牌
type LoginRequest struct {
	AccessKey string `json:"access_key" binding:"required"`
}

// Login 未启用访问控制时直接返回空令牌
func (h *Handler) Login(c *gin.Context) {
	if !h.Auth.Enabled() {
		h.Response.Success(c, gin.H{"enabled": false})
		return
	}

	var req LoginRequest
	if !h.bind(c, &req) {
		return
	}
	if !auth.CheckAccessKey(req.AccessKey, h.Auth.accessKey) {
		utils.GetLogger().Warn("访问密钥错误", map[string]interface{}{"ip": c.ClientIP()})
		h.Response.Error(c, http.StatusUnauthorized, ErrorUnauthorized, "访问密钥错误")
		return
	}

	token, err := auth.GenerateToken(uuid.NewString(), h.Auth.tokens)
	if err != nil {
		h.Response.InternalError(c, "签发令牌失败", err.Error())
		return
	}
	h.Response.Success(c, gin.H{
		"enabled":    true,
		"token":      token,
		"expires_in": int(h.Auth.tokens.Expiration.Seconds()),
	})
}
