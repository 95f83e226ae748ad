// internal/auth/auth.go
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("无效的访问令牌")
	ErrTokenExpired = errors.New("访问令牌已过期")
)

// TokenConfig 会话令牌签名参数
type TokenConfig struct {
	Secret     []byte
	Expiration time.Duration
}

// Session 已签发的工作台会话
type Session struct {
	ID        string `json:"id"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// NewTokenConfig 以随机密钥创建配置；进程重启后旧令牌失效
func NewTokenConfig(expiration time.Duration) (*TokenConfig, error) {
	secret, err := GenerateSecureKey(32)
	if err != nil {
		return nil, fmt.Errorf("生成签名密钥失败: %w", err)
	}
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}
	return &TokenConfig{Secret: secret, Expiration: expiration}, nil
}

// CheckAccessKey 常量时间比较访问密钥
func CheckAccessKey(given, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(expected)) == 1
}

// GenerateToken 为会话签发令牌：base64(payload).base64(hmac)
func GenerateToken(sessionID string, config *TokenConfig) (string, error) {
	if len(config.Secret) == 0 {
		return "", errors.New("缺少签名密钥")
	}

	now := time.Now()
	payload := fmt.Sprintf("%s|%d|%d", sessionID, now.Add(config.Expiration).Unix(), now.Unix())

	encodedPayload := base64.RawURLEncoding.EncodeToString([]byte(payload))
	encodedSignature := base64.RawURLEncoding.EncodeToString(sign(config.Secret, []byte(payload)))
	return encodedPayload + "." + encodedSignature, nil
}

// ParseToken 校验签名与有效期
func ParseToken(tokenString string, config *TokenConfig) (*Session, error) {
	if len(config.Secret) == 0 {
		return nil, errors.New("缺少签名密钥")
	}

	encodedPayload, encodedSignature, ok := strings.Cut(tokenString, ".")
	if !ok {
		return nil, ErrInvalidToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(encodedPayload)
	if err != nil {
		return nil, ErrInvalidToken
	}
	signature, err := base64.RawURLEncoding.DecodeString(encodedSignature)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !hmac.Equal(signature, sign(config.Secret, payload)) {
		return nil, ErrInvalidToken
	}

	parts := strings.Split(string(payload), "|")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}
	expiresAt, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}
	issuedAt, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if time.Now().Unix() > expiresAt {
		return nil, ErrTokenExpired
	}

	return &Session{ID: parts[0], IssuedAt: issuedAt, ExpiresAt: expiresAt}, nil
}

func sign(secret, payload []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(payload)
	return h.Sum(nil)
}

// GenerateSecureKey 生成随机密钥
func GenerateSecureKey(length int) ([]byte, error) {
	if length <= 0 {
		length = 32
	}
	key := make([]byte, length)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}
