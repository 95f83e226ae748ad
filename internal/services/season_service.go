// internal/services/season_service.go
package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Corphon/AdaptBrain/internal/app"
	apperrors "github.com/Corphon/AdaptBrain/internal/errors"
	"github.com/Corphon/AdaptBrain/internal/models"
	"github.com/Corphon/AdaptBrain/internal/utils"
)

// 季度规划的两个页签
const (
	PlanTabStructure = "STRUCTURE"
	PlanTabSynopsis  = "SYNOPSIS"

	defaultSeasonName   = "第一季：初入江湖"
	defaultEpisodeCount = "60-100"
	planRequiredText    = "请先生成【结构规划】(步骤1)，再生成剧情梗概。"
)

// PlanRequest 结构规划参数
type PlanRequest struct {
	NovelID      string               `json:"novel_id"`
	SeasonName   string               `json:"season_name"`
	EpisodeCount string               `json:"episode_count"`
	Focus        string               `json:"focus"`
	Mode         models.FrequencyMode `json:"mode,omitempty"`
	Tier         models.ModelTier     `json:"tier,omitempty"`
}

// SynopsisRequest 剧情梗概参数；PlanText 为空时使用当前草稿
type SynopsisRequest struct {
	PlanText string `json:"plan_text,omitempty"`
	NovelID  string `json:"novel_id,omitempty"`
	StyleID  string `json:"style_id,omitempty"`
}

// SeasonDraft 规划页当前的编辑内容
type SeasonDraft struct {
	SeasonName string `json:"season_name"`
	Plan       string `json:"plan"`
	Synopsis   string `json:"synopsis"`
	ActiveTab  string `json:"active_tab"`
}

// SeasonService 季度改编规划：侧重分析、结构规划、剧情梗概
type SeasonService struct {
	mu    sync.Mutex
	draft SeasonDraft

	gateway   *GatewayService
	knowledge *KnowledgeStore
	state     *app.State
	modes     ModeSource
}

func NewSeasonService(gateway *GatewayService, knowledge *KnowledgeStore, state *app.State, modes ModeSource) *SeasonService {
	s := &SeasonService{
		draft:     SeasonDraft{SeasonName: defaultSeasonName, ActiveTab: PlanTabStructure},
		gateway:   gateway,
		knowledge: knowledge,
		state:     state,
		modes:     modes,
	}
	state.OnStepChange(func(_, to models.AppStep) {
		if to == models.StepSeasonPlanner {
			s.mu.Lock()
			s.registerLocked()
			s.mu.Unlock()
		}
	})
	return s
}

// Draft 当前草稿
func (s *SeasonService) Draft() SeasonDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// Reset 切换项目时清空草稿
func (s *SeasonService) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = SeasonDraft{SeasonName: defaultSeasonName, ActiveTab: PlanTabStructure}
}

// SelectTab 切换页签，编辑上下文随之切换
func (s *SeasonService) SelectTab(tab string) error {
	if tab != PlanTabStructure && tab != PlanTabSynopsis {
		return apperrors.NewValidationError("未知的页签: "+tab, nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft.ActiveTab = tab
	s.registerLocked()
	return nil
}

func (s *SeasonService) registerLocked() {
	if s.state.Step() != models.StepSeasonPlanner {
		return
	}
	season := s.draft.SeasonName
	if s.draft.ActiveTab == PlanTabSynopsis {
		s.state.RegisterContext(app.FuncHandler{
			Label:   fmt.Sprintf("剧情大纲 (%s)", season),
			ReadFn:  func() string { return s.Draft().Synopsis },
			WriteFn: func(text string) { s.setDraftText(PlanTabSynopsis, text) },
		})
		return
	}
	s.state.RegisterContext(app.FuncHandler{
		Label:   fmt.Sprintf("季度结构规划 (%s)", season),
		ReadFn:  func() string { return s.Draft().Plan },
		WriteFn: func(text string) { s.setDraftText(PlanTabStructure, text) },
	})
}

func (s *SeasonService) setDraftText(tab, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tab == PlanTabSynopsis {
		s.draft.Synopsis = text
	} else {
		s.draft.Plan = text
	}
}

// UpdateDraft 手动编辑当前页签的内容
func (s *SeasonService) UpdateDraft(tab, text string) error {
	if tab != PlanTabStructure && tab != PlanTabSynopsis {
		return apperrors.NewValidationError("未知的页签: "+tab, nil)
	}
	s.setDraftText(tab, text)
	return nil
}

func (s *SeasonService) novel(id string) (models.KnowledgeFile, error) {
	f, ok := s.knowledge.Get(id)
	if id == "" {
		f, ok = s.knowledge.FirstOfCategory(models.CategoryNovel)
	}
	if !ok || f.Category != models.CategoryNovel {
		return models.KnowledgeFile{}, apperrors.NewPreconditionError(novelRequiredText)
	}
	return f, nil
}

func (s *SeasonService) mode(m models.FrequencyMode) models.FrequencyMode {
	if m.Valid() {
		return m
	}
	if s.modes != nil {
		return s.modes.ActiveMode()
	}
	return models.FrequencyMale
}

// AnalyzeFocus 生成改编侧重建议
func (s *SeasonService) AnalyzeFocus(ctx context.Context, novelID string, mode models.FrequencyMode) (string, error) {
	novel, err := s.novel(novelID)
	if err != nil {
		return "", err
	}
	return s.gateway.AnalyzeFocus(ctx, novel.Content, s.mode(mode))
}

// Plan 生成季度结构规划并写入草稿
func (s *SeasonService) Plan(ctx context.Context, req PlanRequest) (string, error) {
	novel, err := s.novel(req.NovelID)
	if err != nil {
		return "", err
	}

	params := SeasonParams{
		SeasonName:   strings.TrimSpace(req.SeasonName),
		EpisodeCount: strings.TrimSpace(req.EpisodeCount),
		Focus:        strings.TrimSpace(req.Focus),
	}
	if params.SeasonName == "" {
		params.SeasonName = defaultSeasonName
	}
	if params.EpisodeCount == "" {
		params.EpisodeCount = defaultEpisodeCount
	}

	plan, err := s.gateway.PlanOutline(ctx, novel.Content, params, s.mode(req.Mode), req.Tier)
	if err != nil {
		utils.GetMetricsCollector().RecordGeneration("season_plan", false)
		return "", err
	}
	utils.GetMetricsCollector().RecordGeneration("season_plan", true)

	s.mu.Lock()
	s.draft.SeasonName = params.SeasonName
	s.draft.Plan = plan
	s.draft.ActiveTab = PlanTabStructure
	s.registerLocked()
	s.mu.Unlock()
	return plan, nil
}

// PlotSummary 根据结构规划生成剧情梗概
func (s *SeasonService) PlotSummary(ctx context.Context, req SynopsisRequest) (string, error) {
	plan := req.PlanText
	if plan == "" {
		plan = s.Draft().Plan
	}
	if strings.TrimSpace(plan) == "" {
		return "", apperrors.NewPreconditionError(planRequiredText)
	}

	var novel, style string
	if f, ok := s.knowledge.Get(req.NovelID); ok {
		novel = f.Content
	}
	if f, ok := s.knowledge.Get(req.StyleID); ok {
		style = f.Content
	}

	synopsis, err := s.gateway.GeneratePlotSummary(ctx, plan, style, novel)
	if err != nil {
		utils.GetMetricsCollector().RecordGeneration("plot_summary", false)
		return "", err
	}
	utils.GetMetricsCollector().RecordGeneration("plot_summary", true)

	s.mu.Lock()
	s.draft.Synopsis = synopsis
	s.draft.ActiveTab = PlanTabSynopsis
	s.registerLocked()
	s.mu.Unlock()
	return synopsis, nil
}

// Save 把当前页签的内容存入知识库
func (s *SeasonService) Save(tab string) (models.KnowledgeFile, error) {
	draft := s.Draft()
	if tab == "" {
		tab = draft.ActiveTab
	}

	content, suffix := draft.Plan, "结构规划"
	switch tab {
	case PlanTabStructure:
	case PlanTabSynopsis:
		content, suffix = draft.Synopsis, "剧情梗概"
	default:
		return models.KnowledgeFile{}, apperrors.NewValidationError("未知的页签: "+tab, nil)
	}
	if strings.TrimSpace(content) == "" {
		return models.KnowledgeFile{}, apperrors.NewPreconditionError("没有可保存的" + suffix)
	}
	return s.knowledge.Add(fmt.Sprintf("%s-%s", draft.SeasonName, suffix), content, models.CategorySeasonOutline)
}
