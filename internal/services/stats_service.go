// internal/services/stats_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/Corphon/AdaptBrain/internal/storage"
	"github.com/Corphon/AdaptBrain/internal/utils"
)

// StatsKey 用量统计的存储键
const StatsKey = "usage_stats"

// UsageStats 表示API使用统计
type UsageStats struct {
	TodayRequests int            `json:"today_requests"`
	MonthlyTokens int            `json:"monthly_tokens"`
	DailyStats    map[string]int `json:"daily_stats"`
	MonthlyStats  map[string]int `json:"monthly_stats"`
	LastUpdated   time.Time      `json:"last_updated"`
}

// StatsService 提供API使用统计功能
type StatsService struct {
	store       storage.KVStore
	mutex       sync.Mutex
	cachedStats *UsageStats

	// 批量保存控制
	isDirty      bool
	lastSaveTime time.Time
	saveInterval time.Duration

	now  func() time.Time
	stop chan struct{}
	done chan struct{}
}

// NewStatsService 创建统计服务实例并启动定时保存
func NewStatsService(store storage.KVStore) *StatsService {
	service := &StatsService{
		store:        store,
		saveInterval: 30 * time.Second,
		now:          time.Now,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	go service.periodicSave()
	return service
}

func newEmptyStats(now time.Time) *UsageStats {
	return &UsageStats{
		DailyStats:   make(map[string]int),
		MonthlyStats: make(map[string]int),
		LastUpdated:  now,
	}
}

// initStatsUnlocked 初始化统计数据（无锁版本）
func (s *StatsService) initStatsUnlocked() {
	loaded, err := s.loadStats()
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			utils.GetLogger().Warn("加载统计数据失败，重新开始统计", map[string]interface{}{"error": err})
		}
		s.cachedStats = newEmptyStats(s.now())
		return
	}
	s.cachedStats = loaded
}

// loadStats 从存储加载统计数据
func (s *StatsService) loadStats() (*UsageStats, error) {
	data, err := s.store.Get(context.Background(), StatsKey)
	if err != nil {
		return nil, err
	}

	var stats UsageStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("failed to parse stats data: %w", err)
	}

	// 确保映射已初始化
	if stats.DailyStats == nil {
		stats.DailyStats = make(map[string]int)
	}
	if stats.MonthlyStats == nil {
		stats.MonthlyStats = make(map[string]int)
	}
	return &stats, nil
}

// rollPeriod 跨天或跨月时重置计数
func (s *StatsService) rollPeriod(now time.Time) {
	stats := s.cachedStats
	if now.Format("2006-01-02") != stats.LastUpdated.Format("2006-01-02") {
		stats.TodayRequests = 0
		s.isDirty = true
	}
	if now.Format("2006-01") != stats.LastUpdated.Format("2006-01") {
		stats.MonthlyTokens = 0
		s.isDirty = true
	}
}

// GetUsageStats 获取API使用统计
func (s *StatsService) GetUsageStats() *UsageStats {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.cachedStats == nil {
		s.initStatsUnlocked()
	}

	now := s.now()
	s.rollPeriod(now)
	if s.isDirty {
		s.cachedStats.LastUpdated = now
	}

	return &UsageStats{
		TodayRequests: s.cachedStats.TodayRequests,
		MonthlyTokens: s.cachedStats.MonthlyTokens,
		DailyStats:    copyIntMap(s.cachedStats.DailyStats),
		MonthlyStats:  copyIntMap(s.cachedStats.MonthlyStats),
		LastUpdated:   s.cachedStats.LastUpdated,
	}
}

func copyIntMap(original map[string]int) map[string]int {
	out := make(map[string]int, len(original))
	maps.Copy(out, original)
	return out
}

// RecordAPIRequest 记录一次模型调用
func (s *StatsService) RecordAPIRequest(tokens int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.cachedStats == nil {
		s.initStatsUnlocked()
	}

	now := s.now()
	s.rollPeriod(now)

	today := now.Format("2006-01-02")
	month := now.Format("2006-01")

	s.cachedStats.TodayRequests++
	s.cachedStats.MonthlyTokens += tokens
	s.cachedStats.DailyStats[today]++
	s.cachedStats.MonthlyStats[month] += tokens
	s.cachedStats.LastUpdated = now
	s.isDirty = true

	// 标记为需要保存，间隔过长时才立即写入
	if now.Sub(s.lastSaveTime) > s.saveInterval {
		return s.saveStatsImmediate()
	}
	return nil
}

func (s *StatsService) saveStatsImmediate() error {
	if !s.isDirty || s.cachedStats == nil {
		return nil
	}

	data, err := json.Marshal(s.cachedStats)
	if err != nil {
		return fmt.Errorf("failed to serialize stats: %w", err)
	}
	if err := s.store.Set(context.Background(), StatsKey, data); err != nil {
		return err
	}
	s.isDirty = false
	s.lastSaveTime = s.now()
	return nil
}

// periodicSave 定时保存，Close 时退出
func (s *StatsService) periodicSave() {
	defer close(s.done)
	ticker := time.NewTicker(s.saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mutex.Lock()
			if err := s.saveStatsImmediate(); err != nil {
				utils.GetLogger().Warn("定时保存统计数据失败", map[string]interface{}{"error": err})
			}
			s.mutex.Unlock()
		case <-s.stop:
			return
		}
	}
}

// ResetStats 重置统计数据
func (s *StatsService) ResetStats() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.cachedStats = newEmptyStats(s.now())
	s.isDirty = true
	return s.saveStatsImmediate()
}

// Close 停止定时保存并写入未保存的数据
func (s *StatsService) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done

	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.saveStatsImmediate()
}
