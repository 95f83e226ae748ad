// internal/storage/lock_manager.go
package storage

import (
	"sync"
	"time"
)

// LockManager 按键管理读写锁，长时间未使用的锁会被回收
type LockManager struct {
	mu      sync.Mutex
	locks   map[string]*lockInfo
	lockTTL time.Duration
	maxIdle int
}

type lockInfo struct {
	mutex    sync.RWMutex
	lastUsed time.Time
	refs     int // 正在使用或等待该锁的调用数，大于0时不回收
}

// NewLockManager 创建锁管理器；maxIdle 为触发回收的锁数量阈值
func NewLockManager(lockTTL time.Duration, maxIdle int) *LockManager {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}
	if maxIdle <= 0 {
		maxIdle = 200
	}
	return &LockManager{
		locks:   make(map[string]*lockInfo),
		lockTTL: lockTTL,
		maxIdle: maxIdle,
	}
}

func (lm *LockManager) acquire(key string) *lockInfo {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	info, ok := lm.locks[key]
	if !ok {
		info = &lockInfo{}
		lm.locks[key] = info
	}
	info.refs++
	info.lastUsed = time.Now()
	return info
}

func (lm *LockManager) release(info *lockInfo) {
	lm.mu.Lock()
	info.refs--
	info.lastUsed = time.Now()
	lm.mu.Unlock()
}

// WithLock 在键的写锁保护下执行
func (lm *LockManager) WithLock(key string, fn func() error) error {
	info := lm.acquire(key)
	defer lm.release(info)

	info.mutex.Lock()
	defer info.mutex.Unlock()
	return fn()
}

// WithReadLock 在键的读锁保护下执行
func (lm *LockManager) WithReadLock(key string, fn func() error) error {
	info := lm.acquire(key)
	defer lm.release(info)

	info.mutex.RLock()
	defer info.mutex.RUnlock()
	return fn()
}

// Len 当前持有的锁数量
func (lm *LockManager) Len() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return len(lm.locks)
}

// Cleanup 锁数量超过阈值时回收空闲超时的锁，返回回收数量
func (lm *LockManager) Cleanup() int {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if len(lm.locks) <= lm.maxIdle {
		return 0
	}
	removed := 0
	now := time.Now()
	for key, info := range lm.locks {
		if info.refs == 0 && now.Sub(info.lastUsed) > lm.lockTTL {
			delete(lm.locks, key)
			removed++
		}
	}
	return removed
}
