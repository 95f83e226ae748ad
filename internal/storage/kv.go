// internal/storage/kv.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrKeyNotFound 键不存在
var ErrKeyNotFound = errors.New("key not found")

// KVStore 持久化契约：一个键对应一份完整的序列化值，后写覆盖先写
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

var validKey = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

func checkKey(key string) error {
	if !validKey.MatchString(key) {
		return fmt.Errorf("非法的存储键: %q", key)
	}
	return nil
}

// Backend 存储后端类型
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open 根据后端类型打开存储
func Open(backend, dataDir string) (KVStore, error) {
	switch backend {
	case "", BackendFile:
		return NewFileStorage(dataDir)
	case BackendSQLite:
		return NewSQLiteStore(dataDir)
	default:
		return nil, fmt.Errorf("不支持的存储后端: %s", backend)
	}
}
