// internal/api/router.go
package api

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/AdaptBrain/internal/app"
	"github.com/Corphon/AdaptBrain/internal/config"
	"github.com/Corphon/AdaptBrain/internal/di"
	"github.com/Corphon/AdaptBrain/internal/services"
	"github.com/Corphon/AdaptBrain/internal/utils"
)

// NewHandlerFromContainer 只从容器获取服务，不创建新实例
func NewHandlerFromContainer(container *di.Container) (*Handler, error) {
	var errs []error
	resolve := func(name string, assign func(interface{}) bool) {
		if !assign(container.Get(name)) {
			errs = append(errs, errors.New("服务未正确初始化: "+name))
		}
	}

	h := &Handler{Response: NewResponseHelper()}
	resolve(di.ServiceState, func(v interface{}) (ok bool) { h.State, ok = v.(*app.State); return })
	resolve(di.ServiceKnowledge, func(v interface{}) (ok bool) { h.Knowledge, ok = v.(*services.KnowledgeStore); return })
	resolve(di.ServiceProjects, func(v interface{}) (ok bool) { h.Projects, ok = v.(*services.ProjectService); return })
	resolve(di.ServiceSegments, func(v interface{}) (ok bool) { h.Segments, ok = v.(*services.SegmentService); return })
	resolve(di.ServiceSeason, func(v interface{}) (ok bool) { h.Season, ok = v.(*services.SeasonService); return })
	resolve(di.ServiceCharacters, func(v interface{}) (ok bool) { h.Characters, ok = v.(*services.CharacterService); return })
	resolve(di.ServiceChat, func(v interface{}) (ok bool) { h.Chat, ok = v.(*services.ChatService); return })
	resolve(di.ServiceExport, func(v interface{}) (ok bool) { h.Export, ok = v.(*services.ExportService); return })
	resolve(di.ServiceProgress, func(v interface{}) (ok bool) { h.Progress, ok = v.(*services.ProgressService); return })
	resolve(di.ServiceConfig, func(v interface{}) (ok bool) { h.Config, ok = v.(*services.ConfigService); return })
	resolve(di.ServiceStats, func(v interface{}) (ok bool) { h.Stats, ok = v.(*services.StatsService); return })
	resolve(di.ServiceLLM, func(v interface{}) (ok bool) { h.LLM, ok = v.(*services.LLMService); return })
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	h.Hub = NewChatHub(h.Progress)
	return h, nil
}

// SetupRouter 配置HTTP路由；WebSocket 广播随 ctx 结束
func SetupRouter(ctx context.Context, container *di.Container, debug bool) (*gin.Engine, error) {
	handler, err := NewHandlerFromContainer(container)
	if err != nil {
		return nil, err
	}
	gate, err := NewAuthGate(config.GetCurrentConfig().AccessKey, 24*time.Hour)
	if err != nil {
		return nil, err
	}
	handler.Auth = gate
	if gate.Enabled() {
		utils.GetLogger().Info("已启用访问密钥保护", nil)
	}

	go handler.Hub.Run(ctx)
	return NewRouter(handler, debug), nil
}

// NewRouter 注册全部路由
func NewRouter(handler *Handler, debug bool) *gin.Engine {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(requestIDMiddleware())
	r.Use(recoveryMiddleware(handler.Response))
	r.Use(accessLogMiddleware())
	r.Use(corsMiddleware())
	r.Use(handler.Auth.Middleware(handler.Response))

	// 调用模型的接口单独限流
	generation := GenerationRateLimit().Middleware(handler.Response)

	r.GET("/metrics", gin.WrapH(utils.GetMetricsCollector().Handler()))
	r.GET("/ws/chat", handler.ChatWebSocket)

	api := r.Group("/api")
	{
		api.GET("/health", handler.Health)
		api.POST("/auth/login", NewRateLimiter(10, time.Minute).Middleware(handler.Response), handler.Login)

		// ===============================
		// 项目
		// ===============================
		projects := api.Group("/projects")
		{
			projects.GET("", handler.ListProjects)
			projects.POST("", handler.CreateProject)
			projects.POST("/close", handler.CloseProject)
			projects.GET("/:id", handler.GetProject)
			projects.DELETE("/:id", handler.DeleteProject)
			projects.POST("/:id/open", handler.OpenProject)
		}

		// ===============================
		// 知识库
		// ===============================
		knowledge := api.Group("/knowledge")
		{
			knowledge.GET("", handler.ListKnowledge)
			knowledge.POST("", handler.AddKnowledge)
			knowledge.GET("/guess", handler.GuessCategory)
			knowledge.DELETE("/:id", handler.RemoveKnowledge)
			knowledge.PUT("/:id/category", handler.ReassignCategory)
			knowledge.PUT("/:id/content", handler.UpdateKnowledgeContent)
		}

		// ===============================
		// 季度规划
		// ===============================
		season := api.Group("/season")
		{
			season.POST("/analyze", generation, handler.AnalyzeFocus)
			season.POST("/plan", generation, handler.PlanSeason)
			season.POST("/summary", generation, handler.PlotSummary)
			season.POST("/save", handler.SaveSeason)
			season.GET("/draft", handler.GetSeasonDraft)
			season.PUT("/draft", handler.UpdateSeasonDraft)
			season.POST("/tab", handler.SelectSeasonTab)
		}

		// ===============================
		// 脚本段
		// ===============================
		segments := api.Group("/segments")
		{
			segments.GET("", handler.ListSegments)
			segments.POST("/generate", generation, handler.GenerateSegment)
			segments.PUT("/:id", handler.UpdateSegment)
			segments.POST("/:id/focus", handler.FocusSegment)
		}
		api.GET("/progress/:taskID", handler.GetProgress)

		// ===============================
		// 人物提取
		// ===============================
		characters := api.Group("/characters")
		{
			characters.POST("/extract", generation, handler.ExtractCharacters)
			characters.POST("/save", handler.SaveBible)
		}

		// ===============================
		// 导出
		// ===============================
		export := api.Group("/export")
		{
			export.GET("/knowledge/:id", handler.ExportKnowledge)
			export.GET("/segments", handler.ExportSegments)
			export.POST("/characters", handler.ExportCharacters)
		}

		// ===============================
		// 界面状态与编辑上下文
		// ===============================
		api.GET("/state", handler.GetState)
		api.POST("/state/navigate", handler.Navigate)
		api.POST("/state/back", handler.Back)
		api.GET("/context", handler.GetContext)
		api.PUT("/context", handler.WriteContext)

		// ===============================
		// 对话
		// ===============================
		chat := api.Group("/chat")
		{
			chat.GET("/messages", handler.GetChatMessages)
			chat.POST("/messages", generation, handler.SendChat)
			chat.POST("/apply/:id", handler.ApplyChatMessage)
			chat.POST("/clear", handler.ClearChat)
		}

		// ===============================
		// 设置与统计
		// ===============================
		api.GET("/settings", handler.GetSettings)
		api.PUT("/settings/llm", handler.UpdateLLMConfig)
		api.GET("/settings/history", handler.GetConfigHistory)
		api.GET("/stats", handler.GetStats)
		api.POST("/stats/reset", handler.ResetStats)
	}

	return r
}
