// internal/api/handlers.go
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/AdaptBrain/internal/app"
	"github.com/Corphon/AdaptBrain/internal/models"
	"github.com/Corphon/AdaptBrain/internal/services"
)

// generationTimeout 单次模型生成的最长等待时间，与客户端断开无关
const generationTimeout = 5 * time.Minute

// Handler 处理API请求
type Handler struct {
	State      *app.State
	Knowledge  *services.KnowledgeStore
	Projects   *services.ProjectService
	Segments   *services.SegmentService
	Season     *services.SeasonService
	Characters *services.CharacterService
	Chat       *services.ChatService
	Export     *services.ExportService
	Progress   *services.ProgressService
	Config     *services.ConfigService
	Stats      *services.StatsService
	LLM        *services.LLMService
	Hub        *ChatHub
	// 未配置访问密钥时为 nil
	Auth *AuthGate

	Response *ResponseHelper
}

// generationContext 生成任务不随请求取消，避免刷新页面丢弃已付费的调用
func generationContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(c.Request.Context()), generationTimeout)
}

// bind 解析JSON请求体，失败时已写出400
func (h *Handler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.Response.BadRequest(c, "无效的请求参数", err.Error())
		return false
	}
	return true
}

// ===============================
// 健康检查
// ===============================

// Health 服务状态
func (h *Handler) Health(c *gin.Context) {
	ready, status := h.LLM.GetProviderStatus()
	h.Response.Success(c, gin.H{
		"status":       "ok",
		"llm_ready":    ready,
		"llm_status":   status,
		"llm_provider": h.LLM.GetProviderName(),
		"step":         h.State.Step(),
		"ws_clients":   h.Hub.Count(),
	})
}

// ===============================
// 项目
// ===============================

// CreateProjectRequest 新建项目
type CreateProjectRequest struct {
	Title         string `json:"title" binding:"required"`
	FrequencyMode string `json:"frequency_mode"`
}

func (h *Handler) ListProjects(c *gin.Context) {
	h.Response.Success(c, h.Projects.List())
}

func (h *Handler) CreateProject(c *gin.Context) {
	var req CreateProjectRequest
	if !h.bind(c, &req) {
		return
	}
	mode := models.FrequencyMode(req.FrequencyMode)
	if req.FrequencyMode == "" {
		mode = models.FrequencyMale
	}

	project, err := h.Projects.Create(c.Request.Context(), req.Title, mode)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Created(c, project)
}

func (h *Handler) GetProject(c *gin.Context) {
	project, err := h.Projects.Get(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, project)
}

func (h *Handler) DeleteProject(c *gin.Context) {
	if err := h.Projects.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, nil, "项目已删除")
}

// OpenProject 切换到项目并进入知识库页面
func (h *Handler) OpenProject(c *gin.Context) {
	project, err := h.Projects.Open(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{
		"project": project,
		"state":   h.State.Snapshot(),
	})
}

func (h *Handler) CloseProject(c *gin.Context) {
	h.Projects.Close()
	h.Response.Success(c, h.State.Snapshot())
}

// ===============================
// 知识库
// ===============================

// AddKnowledgeRequest 上传资料；分类必须由用户确认，/knowledge/guess 只提供建议
type AddKnowledgeRequest struct {
	Name     string `json:"name" binding:"required"`
	Content  string `json:"content"`
	Category string `json:"category" binding:"required"`
}

// CategoryRequest 修改分类
type CategoryRequest struct {
	Category string `json:"category" binding:"required"`
}

// ContentRequest 修改正文
type ContentRequest struct {
	Content string `json:"content"`
}

func (h *Handler) ListKnowledge(c *gin.Context) {
	if category := c.Query("category"); category != "" {
		cat, err := models.ParseFileCategory(category)
		if err != nil {
			h.Response.BadRequest(c, err.Error())
			return
		}
		h.Response.Success(c, h.Knowledge.FilterByCategory(cat))
		return
	}
	h.Response.Success(c, h.Knowledge.List())
}

func (h *Handler) AddKnowledge(c *gin.Context) {
	var req AddKnowledgeRequest
	if !h.bind(c, &req) {
		return
	}
	file, err := h.Knowledge.Add(req.Name, req.Content, models.FileCategory(req.Category))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Created(c, file)
}

func (h *Handler) RemoveKnowledge(c *gin.Context) {
	h.Knowledge.Remove(c.Param("id"))
	h.Response.Success(c, nil, "资料已删除")
}

func (h *Handler) ReassignCategory(c *gin.Context) {
	var req CategoryRequest
	if !h.bind(c, &req) {
		return
	}
	file, err := h.Knowledge.ReassignCategory(c.Param("id"), models.FileCategory(req.Category))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, file)
}

func (h *Handler) UpdateKnowledgeContent(c *gin.Context) {
	var req ContentRequest
	if !h.bind(c, &req) {
		return
	}
	file, err := h.Knowledge.UpdateContent(c.Param("id"), req.Content)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, file)
}

// GuessCategory 上传前的分类提示
func (h *Handler) GuessCategory(c *gin.Context) {
	filename := c.Query("filename")
	if filename == "" {
		h.Response.BadRequest(c, "缺少文件名")
		return
	}
	category := services.GuessCategory(filename)
	h.Response.Success(c, gin.H{
		"category": category,
		"label":    category.Label(),
	})
}

// ===============================
// 季度规划
// ===============================

// AnalyzeFocusRequest 改编侧重分析
type AnalyzeFocusRequest struct {
	NovelID string               `json:"novel_id"`
	Mode    models.FrequencyMode `json:"mode,omitempty"`
}

// SeasonTabRequest 页签操作
type SeasonTabRequest struct {
	Tab string `json:"tab"`
}

// SeasonDraftRequest 编辑草稿
type SeasonDraftRequest struct {
	Tab     string `json:"tab" binding:"required"`
	Content string `json:"content"`
}

func (h *Handler) AnalyzeFocus(c *gin.Context) {
	var req AnalyzeFocusRequest
	if !h.bind(c, &req) {
		return
	}
	ctx, cancel := generationContext(c)
	defer cancel()

	focus, err := h.Season.AnalyzeFocus(ctx, req.NovelID, req.Mode)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"focus": focus})
}

func (h *Handler) PlanSeason(c *gin.Context) {
	var req services.PlanRequest
	if !h.bind(c, &req) {
		return
	}
	ctx, cancel := generationContext(c)
	defer cancel()

	plan, err := h.Season.Plan(ctx, req)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"plan": plan, "draft": h.Season.Draft()})
}

func (h *Handler) PlotSummary(c *gin.Context) {
	var req services.SynopsisRequest
	if !h.bind(c, &req) {
		return
	}
	ctx, cancel := generationContext(c)
	defer cancel()

	synopsis, err := h.Season.PlotSummary(ctx, req)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"synopsis": synopsis, "draft": h.Season.Draft()})
}

func (h *Handler) GetSeasonDraft(c *gin.Context) {
	h.Response.Success(c, h.Season.Draft())
}

func (h *Handler) SelectSeasonTab(c *gin.Context) {
	var req SeasonTabRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.Season.SelectTab(req.Tab); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, h.Season.Draft())
}

func (h *Handler) UpdateSeasonDraft(c *gin.Context) {
	var req SeasonDraftRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.Season.UpdateDraft(req.Tab, req.Content); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, h.Season.Draft())
}

func (h *Handler) SaveSeason(c *gin.Context) {
	var req SeasonTabRequest
	// 请求体可为空，默认保存当前页签
	_ = c.ShouldBindJSON(&req)

	file, err := h.Season.Save(req.Tab)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Created(c, file, "已保存到知识库")
}

// ===============================
// 脚本段
// ===============================

// GenerateSegmentRequest 追加或重新生成
type GenerateSegmentRequest struct {
	services.SegmentRequest
	TargetID string `json:"target_id,omitempty"`
}

func (h *Handler) ListSegments(c *gin.Context) {
	h.Response.Success(c, h.Segments.List())
}

func (h *Handler) GenerateSegment(c *gin.Context) {
	var req GenerateSegmentRequest
	if !h.bind(c, &req) {
		return
	}
	ctx, cancel := generationContext(c)
	defer cancel()

	seg, err := h.Segments.Generate(ctx, req.SegmentRequest, req.TargetID)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{
		"segment":            seg,
		"next_episode_start": h.Segments.List().NextEpisodeStart,
	})
}

func (h *Handler) UpdateSegment(c *gin.Context) {
	var req ContentRequest
	if !h.bind(c, &req) {
		return
	}
	seg, err := h.Segments.UpdateContent(c.Param("id"), req.Content)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, seg)
}

func (h *Handler) FocusSegment(c *gin.Context) {
	if err := h.Segments.Focus(c.Param("id")); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, h.State.Snapshot())
}

// GetProgress 查询生成任务状态
func (h *Handler) GetProgress(c *gin.Context) {
	tracker, ok := h.Progress.GetTracker(c.Param("taskID"))
	if !ok {
		h.Response.NotFound(c, "任务")
		return
	}
	h.Response.Success(c, tracker.Snapshot())
}

// ===============================
// 人物提取
// ===============================

// ExtractCharactersRequest 选择要分析的资料
type ExtractCharactersRequest struct {
	SourceID string `json:"source_id"`
}

// SaveBibleRequest 保存人设圣经
type SaveBibleRequest struct {
	SourceName string                    `json:"source_name"`
	Profiles   []models.CharacterProfile `json:"profiles"`
}

func (h *Handler) ExtractCharacters(c *gin.Context) {
	var req ExtractCharactersRequest
	if !h.bind(c, &req) {
		return
	}
	ctx, cancel := generationContext(c)
	defer cancel()

	profiles, err := h.Characters.Extract(ctx, req.SourceID)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"profiles": profiles, "count": len(profiles)})
}

func (h *Handler) SaveBible(c *gin.Context) {
	var req SaveBibleRequest
	if !h.bind(c, &req) {
		return
	}
	file, err := h.Characters.SaveBible(req.SourceName, req.Profiles)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Created(c, file, "人设圣经已保存")
}

// ===============================
// 导出
// ===============================

// exportFormat 解析 format 参数；json 表示返回信封而不是附件
func exportFormat(c *gin.Context) (string, bool) {
	format := c.DefaultQuery("format", "markdown")
	if strings.EqualFold(format, "json") {
		return c.DefaultQuery("as", "markdown"), true
	}
	return format, false
}

func (h *Handler) ExportKnowledge(c *gin.Context) {
	format, asJSON := exportFormat(c)
	result, err := h.Export.ExportKnowledgeFile(c.Param("id"), format)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.ExportResponse(c, result, asJSON)
}

func (h *Handler) ExportSegments(c *gin.Context) {
	format, asJSON := exportFormat(c)
	result, err := h.Export.ExportSegments(format)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.ExportResponse(c, result, asJSON)
}

func (h *Handler) ExportCharacters(c *gin.Context) {
	var req SaveBibleRequest
	if !h.bind(c, &req) {
		return
	}
	format, asJSON := exportFormat(c)
	result, err := h.Export.ExportCharacters(req.SourceName, req.Profiles, format)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.ExportResponse(c, result, asJSON)
}

// ===============================
// 界面状态与编辑上下文
// ===============================

// NavigateRequest 导航目标
type NavigateRequest struct {
	Step string `json:"step" binding:"required"`
}

func (h *Handler) GetState(c *gin.Context) {
	h.Response.Success(c, h.State.Snapshot())
}

func (h *Handler) Navigate(c *gin.Context) {
	var req NavigateRequest
	if !h.bind(c, &req) {
		return
	}
	step, ok := models.LookupStep(req.Step)
	if !ok {
		h.Response.BadRequest(c, "未知的页面: "+req.Step)
		return
	}
	h.State.NavigateTo(step)
	h.Response.Success(c, h.State.Snapshot())
}

func (h *Handler) Back(c *gin.Context) {
	h.State.Back()
	h.Response.Success(c, h.State.Snapshot())
}

func (h *Handler) GetContext(c *gin.Context) {
	ctxHandler := h.State.Context()
	if ctxHandler == nil {
		h.Response.Success(c, gin.H{"active": false})
		return
	}
	h.Response.Success(c, gin.H{
		"active":  true,
		"name":    ctxHandler.Name(),
		"content": ctxHandler.Read(),
	})
}

func (h *Handler) WriteContext(c *gin.Context) {
	var req ContentRequest
	if !h.bind(c, &req) {
		return
	}
	ctxHandler := h.State.Context()
	if ctxHandler == nil {
		h.Response.Error(c, http.StatusUnprocessableEntity, ErrorNoContext, "当前没有可编辑的区域")
		return
	}
	ctxHandler.Write(req.Content)
	h.Response.Success(c, gin.H{"name": ctxHandler.Name()})
}

// ===============================
// 对话
// ===============================

// ChatRequest 非流式发送
type ChatRequest struct {
	Message string `json:"message" binding:"required"`
}

func (h *Handler) GetChatMessages(c *gin.Context) {
	h.Response.Success(c, h.Chat.Messages())
}

// SendChat 发送消息并等待完整回复；流式输出走 /ws/chat
func (h *Handler) SendChat(c *gin.Context) {
	var req ChatRequest
	if !h.bind(c, &req) {
		return
	}
	ctx, cancel := generationContext(c)
	defer cancel()

	var navigated models.AppStep
	reply, err := h.Chat.Send(ctx, req.Message, func(u services.ChatUpdate) {
		if u.Navigate != "" {
			navigated = u.Navigate
		}
	})
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{
		"message":  reply,
		"navigate": navigated,
	})
}

func (h *Handler) ApplyChatMessage(c *gin.Context) {
	name, err := h.Chat.ApplyToContext(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"context": name}, "已应用到"+name)
}

func (h *Handler) ClearChat(c *gin.Context) {
	h.Chat.Clear()
	h.Response.Success(c, h.Chat.Messages())
}

// ===============================
// 设置与统计
// ===============================

// UpdateLLMConfigRequest 更新模型配置
type UpdateLLMConfigRequest struct {
	Provider string            `json:"provider"`
	Config   map[string]string `json:"config"`
}

func (h *Handler) GetSettings(c *gin.Context) {
	ready, status := h.LLM.GetProviderStatus()
	h.Response.Success(c, gin.H{
		"llm":       h.Config.GetLLMSettings(),
		"llm_ready": ready,
		"status":    status,
	})
}

func (h *Handler) UpdateLLMConfig(c *gin.Context) {
	var req UpdateLLMConfigRequest
	if !h.bind(c, &req) {
		return
	}
	if err := h.Config.UpdateLLMConfig(req.Provider, req.Config, c.ClientIP()); err != nil {
		h.Response.FromError(c, err)
		return
	}
	ready, status := h.LLM.GetProviderStatus()
	h.Response.Success(c, gin.H{
		"llm":       h.Config.GetLLMSettings(),
		"llm_ready": ready,
		"status":    status,
	}, "模型配置已更新")
}

func (h *Handler) GetConfigHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	h.Response.Success(c, h.Config.GetChangeHistory(limit))
}

func (h *Handler) GetStats(c *gin.Context) {
	h.Response.Success(c, h.Stats.GetUsageStats())
}

func (h *Handler) ResetStats(c *gin.Context) {
	if err := h.Stats.ResetStats(); err != nil {
		h.Response.InternalError(c, "重置统计失败", err.Error())
		return
	}
	h.Response.Success(c, h.Stats.GetUsageStats())
}
