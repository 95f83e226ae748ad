// internal/services/init.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/Corphon/AdaptBrain/internal/app"
	"github.com/Corphon/AdaptBrain/internal/config"
	"github.com/Corphon/AdaptBrain/internal/di"
	"github.com/Corphon/AdaptBrain/internal/storage"
	"github.com/Corphon/AdaptBrain/internal/utils"

	// 注册模型提供者
	_ "github.com/Corphon/AdaptBrain/internal/llm/providers/anthropic"
	_ "github.com/Corphon/AdaptBrain/internal/llm/providers/gemini"
	_ "github.com/Corphon/AdaptBrain/internal/llm/providers/openai"
)

// InitServices 按依赖顺序初始化全部服务并注册到容器，返回释放函数
func InitServices(ctx context.Context, container *di.Container, cfg *config.AppConfig) (func(), error) {
	store, err := storage.Open(cfg.StorageBackend, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("打开存储失败: %w", err)
	}

	stats := NewStatsService(store)
	llmService := NewLLMService(stats)

	if err := RegisterServices(ctx, container, store, llmService, stats); err != nil {
		_ = stats.Close()
		_ = store.Close()
		return nil, err
	}

	cleanup := func() {
		if err := stats.Close(); err != nil {
			utils.GetLogger().Warn("保存统计数据失败", map[string]interface{}{"error": err})
		}
		if err := store.Close(); err != nil {
			utils.GetLogger().Warn("关闭存储失败", map[string]interface{}{"error": err})
		}
	}
	return cleanup, nil
}

// RegisterServices 用给定的存储和模型服务组装其余服务
func RegisterServices(ctx context.Context, container *di.Container, store storage.KVStore, llmService *LLMService, stats *StatsService) error {
	state := app.NewState()
	knowledge := NewKnowledgeStore()
	progress := NewProgressService()

	if stats != nil {
		llmService.SetStats(stats)
	}
	configService := NewConfigService()
	configService.SubscribeToChanges(llmService)

	gateway := NewGatewayService(llmService, nil)

	projects, err := NewProjectService(ctx, store, knowledge, state)
	if err != nil {
		return fmt.Errorf("加载项目列表失败: %w", err)
	}
	segments := NewSegmentService(gateway, knowledge, state, projects, progress)
	season := NewSeasonService(gateway, knowledge, state, projects)
	projects.AddResetter(segments)
	projects.AddResetter(season)

	characters := NewCharacterService(gateway, knowledge, projects)
	chat := NewChatService(gateway, state, progress)
	export := NewExportService(knowledge, segments)

	container.Register(di.ServiceStorage, store)
	container.Register(di.ServiceState, state)
	container.Register(di.ServiceKnowledge, knowledge)
	container.Register(di.ServiceProgress, progress)
	container.Register(di.ServiceStats, stats)
	container.Register(di.ServiceLLM, llmService)
	container.Register(di.ServiceConfig, configService)
	container.Register(di.ServiceGateway, gateway)
	container.Register(di.ServiceProjects, projects)
	container.Register(di.ServiceSegments, segments)
	container.Register(di.ServiceSeason, season)
	container.Register(di.ServiceCharacters, characters)
	container.Register(di.ServiceChat, chat)
	container.Register(di.ServiceExport, export)

	go cleanupProgress(ctx, progress)

	utils.GetLogger().Info("服务初始化完成", map[string]interface{}{
		"services": len(container.GetNames()),
		"projects": len(projects.List()),
	})
	return nil
}

// cleanupProgress 定期清理已结束的任务记录
func cleanupProgress(ctx context.Context, progress *ProgressService) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			progress.CleanupCompletedTasks(time.Hour)
		}
	}
}
