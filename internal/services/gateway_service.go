// internal/services/gateway_service.go
package services

import (
	"context"
	"strings"

	"github.com/Corphon/AdaptBrain/internal/llm"
	"github.com/Corphon/AdaptBrain/internal/models"
	"github.com/Corphon/AdaptBrain/internal/prompts"
	"github.com/Corphon/AdaptBrain/internal/utils"
)

const (
	// SummaryDelimiter 脚本正文与摘要之间的分隔符
	SummaryDelimiter = "---SUMMARY---"
	// NoSummarySentinel 模型未输出分隔符时的摘要
	NoSummarySentinel = "无摘要生成"

	// FocusUnavailableText 分析失败时界面可展示的提示
	FocusUnavailableText = "分析服务暂时不可用，请稍后重试。"
	focusEmptyText       = "无法生成建议，请手动输入。"
	outlineEmptyText     = "生成大纲失败，请重试。"
	summaryEmptyText     = "生成剧情大纲失败，请重试。"
)

// 调用名称，用于指标与日志
const (
	opAnalyzeFocus      = "analyze_focus"
	opPlanOutline       = "plan_outline"
	opGenerateSegment   = "generate_segment"
	opExtractCharacters = "extract_characters"
	opPlotSummary       = "plot_summary"
	opStreamChat        = "stream_chat"
)

// Completer 网关依赖的调用能力，由 LLMService 实现
type Completer interface {
	Complete(ctx context.Context, op string, tier models.ModelTier, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	Stream(ctx context.Context, op string, tier models.ModelTier, req llm.CompletionRequest) (<-chan llm.StreamResponse, error)
}

// GatewayService 所有模型调用的唯一入口：拼装提示词并解析响应格式。
// 不缓存、不重试，失败直接返回给调用方。
type GatewayService struct {
	llm     Completer
	prompts *prompts.Catalogue
}

func NewGatewayService(completer Completer, catalogue *prompts.Catalogue) *GatewayService {
	if catalogue == nil {
		catalogue = prompts.MustDefault()
	}
	return &GatewayService{llm: completer, prompts: catalogue}
}

// SeasonParams 季度规划参数
type SeasonParams struct {
	SeasonName   string `json:"season_name"`
	EpisodeCount string `json:"episode_count"`
	Focus        string `json:"focus"`
}

// SegmentInput 单段脚本生成的全部输入
type SegmentInput struct {
	Novel           string
	Format          string
	Style           string
	Outline         string
	Bible           string
	Mode            models.FrequencyMode
	Range           string
	PreviousSummary string
	PreviousTail    string
	Tier            models.ModelTier
}

// SegmentResult 生成结果
type SegmentResult struct {
	Content string `json:"content"`
	Summary string `json:"summary"`
}

// ChatTurn 流式对话的输入
type ChatTurn struct {
	History     []models.ChatMessage
	Message     string
	ContextText string
	ContextName string
}

func (g *GatewayService) complete(ctx context.Context, op string, tier models.ModelTier, system, prompt string, temperature float32, jsonOut bool) (string, error) {
	resp, err := g.llm.Complete(ctx, op, tier, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     llm.UserPrompt(prompt),
		Temperature:  temperature,
		JSONResponse: jsonOut,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// AnalyzeFocus 改编侧重建议，短文本
func (g *GatewayService) AnalyzeFocus(ctx context.Context, novel string, mode models.FrequencyMode) (string, error) {
	prompt, err := g.prompts.Render(prompts.AnalyzeFocus, struct {
		Audience string
		Novel    string
	}{mode.Audience(), novel})
	if err != nil {
		return "", err
	}

	text, err := g.complete(ctx, opAnalyzeFocus, models.TierLogicFast, "", prompt, 0.7, false)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return focusEmptyText, nil
	}
	return text, nil
}

// PlanOutline 季度改编大纲（Markdown）
func (g *GatewayService) PlanOutline(ctx context.Context, novel string, params SeasonParams, mode models.FrequencyMode, tier models.ModelTier) (string, error) {
	prompt, err := g.prompts.Render(prompts.SeasonPlan, struct {
		SeasonName   string
		EpisodeCount string
		Focus        string
		ModeLabel    string
		Novel        string
	}{params.SeasonName, params.EpisodeCount, params.Focus, mode.Label(), novel})
	if err != nil {
		return "", err
	}

	text, err := g.complete(ctx, opPlanOutline, tierOr(tier, models.TierCreativePro), g.prompts.ArchitectSystem(mode), prompt, 0.6, false)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return outlineEmptyText, nil
	}
	return text, nil
}

// GenerateSegment 生成一段脚本并按分隔符拆出摘要
func (g *GatewayService) GenerateSegment(ctx context.Context, in SegmentInput) (SegmentResult, error) {
	prompt, err := g.prompts.Render(prompts.Segment, struct {
		SegmentInput
		Delimiter string
	}{in, SummaryDelimiter})
	if err != nil {
		return SegmentResult{}, err
	}

	text, err := g.complete(ctx, opGenerateSegment, tierOr(in.Tier, models.TierCreativePro), g.prompts.ScriptSystem(in.Mode), prompt, 0.7, false)
	if err != nil {
		return SegmentResult{}, err
	}
	return SplitSegmentResponse(text), nil
}

// SplitSegmentResponse 以第一个分隔符拆分；没有分隔符或分隔符后为空时摘要为固定占位
func SplitSegmentResponse(text string) SegmentResult {
	content, summary, found := strings.Cut(text, SummaryDelimiter)
	if !found {
		return SegmentResult{Content: strings.TrimSpace(text), Summary: NoSummarySentinel}
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		summary = NoSummarySentinel
	}
	return SegmentResult{Content: strings.TrimSpace(content), Summary: summary}
}

// ExtractCharacters 提取人物档案；模型输出无法解析时返回空列表而不是错误
func (g *GatewayService) ExtractCharacters(ctx context.Context, script string, mode models.FrequencyMode) ([]models.CharacterProfile, error) {
	prompt, err := g.prompts.Render(prompts.ExtractCharacters, struct{ Script string }{script})
	if err != nil {
		return nil, err
	}

	text, err := g.complete(ctx, opExtractCharacters, models.TierLogicFast, "", prompt, 0.3, true)
	if err != nil {
		return nil, err
	}
	return ParseCharacterProfiles(text), nil
}

// ParseCharacterProfiles 从可能夹杂说明文字的输出中恢复人物数组
func ParseCharacterProfiles(text string) []models.CharacterProfile {
	var profiles []models.CharacterProfile
	if !DecodeFirstJSONArray(text, &profiles) {
		utils.GetLogger().Warn("人物提取结果无法解析，返回空列表", map[string]interface{}{
			"length": utils.RuneLen(text),
		})
		return []models.CharacterProfile{}
	}

	out := make([]models.CharacterProfile, 0, len(profiles))
	for _, p := range profiles {
		if strings.TrimSpace(p.Name) == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// GeneratePlotSummary 商业剧情梗概，novel 可为空
func (g *GatewayService) GeneratePlotSummary(ctx context.Context, plan, style, novel string) (string, error) {
	prompt, err := g.prompts.Render(prompts.PlotSummary, struct {
		Plan  string
		Style string
		Novel string
	}{plan, style, novel})
	if err != nil {
		return "", err
	}

	text, err := g.complete(ctx, opPlotSummary, models.TierCreativePro, g.prompts.System.PlotSummary, prompt, 0.5, false)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return summaryEmptyText, nil
	}
	return text, nil
}

// BuildChatMessages 组装对话历史：跳过仍在流式输出的消息，编辑上下文只注入到新消息
func (g *GatewayService) BuildChatMessages(turn ChatTurn) ([]llm.Message, error) {
	messages := make([]llm.Message, 0, len(turn.History)+1)
	for _, h := range turn.History {
		if h.IsStreaming {
			continue
		}
		role := llm.RoleUser
		if h.Role == models.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: h.Text})
	}

	prompt := turn.Message
	if turn.ContextText != "" {
		rendered, err := g.prompts.Render(prompts.ChatContext, struct {
			ContextName string
			Context     string
			Message     string
		}{turn.ContextName, turn.ContextText, turn.Message})
		if err != nil {
			return nil, err
		}
		prompt = rendered
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: prompt}), nil
}

// StreamChat 流式对话，片段按顺序输出
func (g *GatewayService) StreamChat(ctx context.Context, turn ChatTurn, commandInstruction string) (<-chan llm.StreamResponse, error) {
	messages, err := g.BuildChatMessages(turn)
	if err != nil {
		return nil, err
	}

	system := g.prompts.System.Chat
	if commandInstruction != "" {
		system += "\n" + commandInstruction
	}

	return g.llm.Stream(ctx, opStreamChat, models.TierLogicFast, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     messages,
		Temperature:  0.7,
	})
}

func tierOr(tier, fallback models.ModelTier) models.ModelTier {
	if tier.Valid() {
		return tier
	}
	return fallback
}
