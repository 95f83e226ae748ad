// internal/services/llm_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Corphon/AdaptBrain/internal/config"
	apperrors "github.com/Corphon/AdaptBrain/internal/errors"
	"github.com/Corphon/AdaptBrain/internal/llm"
	"github.com/Corphon/AdaptBrain/internal/models"
	"github.com/Corphon/AdaptBrain/internal/utils"
)

var ErrLLMNotReady = errors.New("llm service not ready")

// LLMService 持有当前的模型提供者，负责档位到模型的映射和调用统计
type LLMService struct {
	providerMutex sync.RWMutex
	provider      llm.Provider
	providerName  string
	fastModel     string
	proModel      string
	readyState    string

	metrics *utils.MetricsCollector
	stats   *StatsService
}

// NewLLMService 根据当前配置创建服务；配置不完整时返回未就绪的服务而不是错误
func NewLLMService(stats *StatsService) *LLMService {
	service := &LLMService{
		readyState: "Uninitialized",
		metrics:    utils.GetMetricsCollector(),
		stats:      stats,
	}

	cfg := config.GetCurrentConfig()
	if cfg.LLMProvider == "" || cfg.LLMConfig["api_key"] == "" {
		service.readyState = "API key not configured"
		return service
	}

	if err := service.UpdateProvider(cfg.LLMProvider, cfg.LLMConfig); err != nil {
		utils.GetLogger().Warn("LLM提供者初始化失败", map[string]interface{}{
			"provider": cfg.LLMProvider,
			"error":    err,
		})
	}
	return service
}

// NewLLMServiceWithProvider 直接注入提供者
func NewLLMServiceWithProvider(provider llm.Provider, fastModel, proModel string) *LLMService {
	return &LLMService{
		provider:     provider,
		providerName: provider.GetName(),
		fastModel:    fastModel,
		proModel:     proModel,
		readyState:   "Ready",
		metrics:      utils.GetMetricsCollector(),
	}
}

// SetStats 绑定用量统计
func (s *LLMService) SetStats(stats *StatsService) {
	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()
	s.stats = stats
}

// UpdateProvider 更新LLM服务的提供商
func (s *LLMService) UpdateProvider(providerName string, cfg map[string]string) error {
	provider, err := llm.GetProvider(providerName, cfg)
	if err != nil {
		s.providerMutex.Lock()
		s.readyState = fmt.Sprintf("Configuration failed: %v", err)
		s.providerMutex.Unlock()
		return err
	}

	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	s.provider = provider
	s.providerName = providerName
	s.fastModel = firstModel(cfg["fast_model"], cfg["default_model"], config.DefaultFastModel)
	s.proModel = firstModel(cfg["pro_model"], cfg["default_model"], config.DefaultProModel)
	s.readyState = "Ready"

	utils.GetLogger().Info("LLM提供者已更新", map[string]interface{}{
		"provider":   providerName,
		"fast_model": s.fastModel,
		"pro_model":  s.proModel,
	})
	return nil
}

func firstModel(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// IsReady 返回服务是否已就绪
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil
}

// GetProviderStatus 返回服务是否就绪以及可读描述
func (s *LLMService) GetProviderStatus() (bool, string) {
	if s == nil {
		return false, "LLM服务实例未初始化"
	}
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil, s.readyState
}

// GetProviderName 当前提供者名称
func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

// ResolveModel 档位到模型名称
func (s *LLMService) ResolveModel(tier models.ModelTier) string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	if tier == models.TierLogicFast {
		return s.fastModel
	}
	return s.proModel
}

func (s *LLMService) current() (llm.Provider, string, *StatsService, error) {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	if s.provider == nil {
		return nil, "", nil, apperrors.NewUpstreamError("模型服务未配置，请先在设置中填写API密钥", ErrLLMNotReady)
	}
	return s.provider, s.providerName, s.stats, nil
}

// Complete 单次调用。失败统一包装为 upstream 错误，不重试
func (s *LLMService) Complete(ctx context.Context, op string, tier models.ModelTier, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	provider, name, stats, err := s.current()
	if err != nil {
		return nil, err
	}
	if req.Model == "" {
		req.Model = s.ResolveModel(tier)
	}

	done := s.metrics.TrackLLMCall(name, op)
	resp, err := provider.CompleteText(ctx, req)
	if err != nil {
		done(0, err)
		utils.GetLogger().Error("模型调用失败", map[string]interface{}{
			"operation": op,
			"model":     req.Model,
			"error":     err,
		})
		return nil, apperrors.NewUpstreamError("模型服务调用失败，请重试", err)
	}
	done(resp.TokensUsed, nil)

	if stats != nil {
		if err := stats.RecordAPIRequest(resp.TokensUsed); err != nil {
			utils.GetLogger().Warn("记录用量失败", map[string]interface{}{"error": err})
		}
	}

	utils.GetLogger().Debug("模型调用完成", map[string]interface{}{
		"operation": op,
		"model":     resp.ModelName,
		"tokens":    resp.TokensUsed,
	})
	return resp, nil
}

// Stream 流式调用，返回按顺序的文本片段
func (s *LLMService) Stream(ctx context.Context, op string, tier models.ModelTier, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	provider, name, stats, err := s.current()
	if err != nil {
		return nil, err
	}
	if req.Model == "" {
		req.Model = s.ResolveModel(tier)
	}

	done := s.metrics.TrackLLMCall(name, op)
	upstream, err := provider.StreamCompletion(ctx, req)
	if err != nil {
		done(0, err)
		return nil, apperrors.NewUpstreamError("模型服务连接失败，请重试", err)
	}

	out := make(chan llm.StreamResponse)
	go func() {
		defer close(out)
		var streamErr error
		for frame := range upstream {
			if frame.Err != nil {
				streamErr = frame.Err
			}
			select {
			case out <- frame:
			case <-ctx.Done():
				streamErr = ctx.Err()
				// 排空上游，避免其 goroutine 阻塞
				for range upstream {
				}
				done(0, streamErr)
				return
			}
		}
		done(0, streamErr)
		if stats != nil && streamErr == nil {
			_ = stats.RecordAPIRequest(0)
		}
	}()
	return out, nil
}

// OnConfigChanged 设置页修改模型配置后重建提供者
func (s *LLMService) OnConfigChanged(_, newConfig *config.AppConfig) {
	if newConfig.LLMConfig["api_key"] == "" {
		return
	}
	if err := s.UpdateProvider(newConfig.LLMProvider, newConfig.LLMConfig); err != nil {
		utils.GetLogger().Error("应用新的模型配置失败", map[string]interface{}{
			"provider": newConfig.LLMProvider,
			"error":    err,
		})
	}
}
