// internal/utils/ids.go
package utils

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewID 项目、知识文件、脚本段使用的随机 ID
func NewID() string {
	return uuid.NewString()
}

// NewSortableID 按时间递增的 ID，用于对话消息
func NewSortableID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}
