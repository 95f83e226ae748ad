// internal/services/config_service.go
package services

import (
	"slices"
	"sync"
	"time"

	"github.com/Corphon/AdaptBrain/internal/config"
	apperrors "github.com/Corphon/AdaptBrain/internal/errors"
	"github.com/Corphon/AdaptBrain/internal/llm"
	"github.com/Corphon/AdaptBrain/internal/utils"
)

// ConfigService 提供配置管理功能
type ConfigService struct {
	// 配置变更事件订阅者
	subscribers []ConfigChangeSubscriber

	// 配置历史记录
	changeHistory []ConfigChangeRecord

	mu sync.RWMutex
}

// ConfigChangeSubscriber 配置变更订阅者接口
type ConfigChangeSubscriber interface {
	OnConfigChanged(oldConfig, newConfig *config.AppConfig)
}

// ConfigChangeRecord 配置变更记录，不包含密钥明文
type ConfigChangeRecord struct {
	Timestamp time.Time `json:"timestamp"`
	ChangedBy string    `json:"changed_by"`
	Section   string    `json:"section"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
}

// LLMSettings 设置页展示的模型配置
type LLMSettings struct {
	Provider      string   `json:"provider"`
	Providers     []string `json:"providers"`
	APIKeyMasked  string   `json:"api_key_masked"`
	BaseURL       string   `json:"base_url,omitempty"`
	FastModel     string   `json:"fast_model"`
	ProModel      string   `json:"pro_model"`
	SupportedList []string `json:"supported_models"`
}

// NewConfigService 创建配置服务实例
func NewConfigService() *ConfigService {
	return &ConfigService{
		subscribers:   make([]ConfigChangeSubscriber, 0),
		changeHistory: make([]ConfigChangeRecord, 0, 100),
	}
}

// GetLLMSettings 当前模型设置，密钥脱敏
func (s *ConfigService) GetLLMSettings() LLMSettings {
	cfg := config.GetCurrentConfig()
	return LLMSettings{
		Provider:      cfg.LLMProvider,
		Providers:     llm.ListProviders(),
		APIKeyMasked:  utils.MaskSecret(cfg.LLMConfig["api_key"]),
		BaseURL:       cfg.LLMConfig["base_url"],
		FastModel:     cfg.LLMConfig["fast_model"],
		ProModel:      cfg.LLMConfig["pro_model"],
		SupportedList: llm.GetSupportedModelsForProvider(cfg.LLMProvider),
	}
}

// UpdateLLMConfig 更新LLM提供商和配置，空值保留原设置
func (s *ConfigService) UpdateLLMConfig(provider string, configMap map[string]string, changedBy string) error {
	if provider != "" && !slices.Contains(llm.ListProviders(), provider) {
		return apperrors.NewValidationError("不支持的模型服务: "+provider, nil)
	}

	oldConfig := config.GetCurrentConfig()
	if err := config.UpdateLLMConfig(provider, configMap); err != nil {
		return apperrors.NewProcessingError("保存模型配置失败", err)
	}
	newConfig := config.GetCurrentConfig()

	s.recordChange("llm_provider", oldConfig.LLMProvider, newConfig.LLMProvider, changedBy)
	for _, key := range []string{"base_url", "fast_model", "pro_model"} {
		if oldConfig.LLMConfig[key] != newConfig.LLMConfig[key] {
			s.recordChange(key, oldConfig.LLMConfig[key], newConfig.LLMConfig[key], changedBy)
		}
	}
	if oldConfig.LLMConfig["api_key"] != newConfig.LLMConfig["api_key"] {
		s.recordChange("api_key", utils.MaskSecret(oldConfig.LLMConfig["api_key"]), utils.MaskSecret(newConfig.LLMConfig["api_key"]), changedBy)
	}

	s.notifySubscribers(oldConfig, newConfig)
	return nil
}

// SubscribeToChanges 订阅配置变更事件
func (s *ConfigService) SubscribeToChanges(subscriber ConfigChangeSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers = append(s.subscribers, subscriber)
}

// notifySubscribers 同步通知，返回时新配置已生效
func (s *ConfigService) notifySubscribers(oldConfig, newConfig *config.AppConfig) {
	s.mu.RLock()
	subscribers := make([]ConfigChangeSubscriber, len(s.subscribers))
	copy(subscribers, s.subscribers)
	s.mu.RUnlock()

	for _, subscriber := range subscribers {
		subscriber.OnConfigChanged(oldConfig, newConfig)
	}
}

// GetChangeHistory 获取配置变更历史
func (s *ConfigService) GetChangeHistory(limit int) []ConfigChangeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.changeHistory) {
		limit = len(s.changeHistory)
	}

	history := make([]ConfigChangeRecord, limit)
	copy(history, s.changeHistory[len(s.changeHistory)-limit:])
	return history
}

// recordChange 记录配置变更
func (s *ConfigService) recordChange(section, oldValue, newValue, changedBy string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 限制历史记录数量，避免无限增长
	if len(s.changeHistory) >= 1000 {
		s.changeHistory = s.changeHistory[1:]
	}

	s.changeHistory = append(s.changeHistory, ConfigChangeRecord{
		Timestamp: time.Now(),
		ChangedBy: changedBy,
		Section:   section,
		OldValue:  oldValue,
		NewValue:  newValue,
	})
}
