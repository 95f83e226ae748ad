// internal/storage/file_storage.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Corphon/AdaptBrain/internal/utils"
)

// FileStorage 以 JSON 文件实现 KVStore，每个键一个文件
type FileStorage struct {
	BaseDir string

	// 文件级别锁
	locks *LockManager

	// 简单缓存
	cache        map[string]*CacheEntry
	cacheMutex   sync.RWMutex
	cacheExpiry  time.Duration
	maxCacheSize int

	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// CacheEntry 缓存条目
type CacheEntry struct {
	Data      []byte
	Timestamp time.Time
}

// NewFileStorage 创建文件存储服务
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}

	fs := &FileStorage{
		BaseDir:      baseDir,
		locks:        NewLockManager(30*time.Minute, 200),
		cache:        make(map[string]*CacheEntry),
		cacheExpiry:  5 * time.Minute,
		maxCacheSize: 100,
		stopCleanup:  make(chan struct{}),
	}

	// 启动缓存清理
	go fs.cacheCleanupLoop(2 * time.Minute)

	return fs, nil
}

func (fs *FileStorage) pathFor(key string) string {
	return filepath.Join(fs.BaseDir, key+".json")
}

// Set 原子写入：先写临时文件再重命名
func (fs *FileStorage) Set(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath := fs.pathFor(key)

	return fs.locks.WithLock(fullPath, func() error {
		tempPath := fullPath + ".tmp"
		if err := os.WriteFile(tempPath, value, 0644); err != nil {
			return fmt.Errorf("保存临时文件失败: %w", err)
		}

		if err := os.Rename(tempPath, fullPath); err != nil {
			if removeErr := os.Remove(tempPath); removeErr != nil {
				utils.GetLogger().Warn("清理临时文件失败", map[string]interface{}{
					"path":  tempPath,
					"error": removeErr,
				})
			}
			return fmt.Errorf("保存文件失败: %w", err)
		}

		fs.updateCache(fullPath, value)
		return nil
	})
}

// Get 读取键值，优先命中缓存
func (fs *FileStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fullPath := fs.pathFor(key)

	if data, ok := fs.cached(fullPath); ok {
		return data, nil
	}

	var content []byte
	err := fs.locks.WithReadLock(fullPath, func() error {
		// 双重检查缓存
		if data, ok := fs.cached(fullPath); ok {
			content = data
			return nil
		}

		data, err := os.ReadFile(fullPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return ErrKeyNotFound
			}
			return fmt.Errorf("读取文件失败: %w", err)
		}
		fs.updateCache(fullPath, data)
		content = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return content, nil
}

// Delete 删除键，不存在时不报错
func (fs *FileStorage) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	fullPath := fs.pathFor(key)

	return fs.locks.WithLock(fullPath, func() error {
		if err := os.Remove(fullPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("删除文件失败: %w", err)
		}
		fs.invalidateCache(fullPath)
		return nil
	})
}

// Close 停止后台缓存清理
func (fs *FileStorage) Close() error {
	fs.closeOnce.Do(func() { close(fs.stopCleanup) })
	return nil
}

func (fs *FileStorage) cached(path string) ([]byte, bool) {
	fs.cacheMutex.RLock()
	defer fs.cacheMutex.RUnlock()
	entry, exists := fs.cache[path]
	if !exists || time.Since(entry.Timestamp) >= fs.cacheExpiry {
		return nil, false
	}
	return entry.Data, true
}

// 缓存管理
func (fs *FileStorage) updateCache(path string, data []byte) {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()

	cp := append([]byte(nil), data...)
	fs.cache[path] = &CacheEntry{
		Data:      cp,
		Timestamp: time.Now(),
	}
}

func (fs *FileStorage) cacheCleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-fs.stopCleanup:
			return
		case <-ticker.C:
			fs.cleanupExpiredCache()
			fs.enforceMaxCacheSize()
			fs.locks.Cleanup()
		}
	}
}

// 清理过期缓存
func (fs *FileStorage) cleanupExpiredCache() {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()

	now := time.Now()
	for path, entry := range fs.cache {
		if now.Sub(entry.Timestamp) > fs.cacheExpiry {
			delete(fs.cache, path)
		}
	}
}

// enforceMaxCacheSize enforces the maximum cache size by removing oldest entries
func (fs *FileStorage) enforceMaxCacheSize() {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()

	if len(fs.cache) <= fs.maxCacheSize {
		return
	}

	type cacheEntryWithTime struct {
		key       string
		timestamp time.Time
	}

	entries := make([]cacheEntryWithTime, 0, len(fs.cache))
	for key, entry := range fs.cache {
		entries = append(entries, cacheEntryWithTime{key: key, timestamp: entry.Timestamp})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].timestamp.Before(entries[j].timestamp)
	})

	removeCount := len(entries) - fs.maxCacheSize
	for i := 0; i < removeCount; i++ {
		delete(fs.cache, entries[i].key)
	}
	utils.GetLogger().Debug("缓存大小限制执行", map[string]interface{}{"removed": removeCount})
}

// invalidateCache 清除指定路径的缓存
func (fs *FileStorage) invalidateCache(path string) {
	fs.cacheMutex.Lock()
	defer fs.cacheMutex.Unlock()

	delete(fs.cache, path)
}
