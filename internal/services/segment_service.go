// internal/services/segment_service.go
package services

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/Corphon/AdaptBrain/internal/app"
	apperrors "github.com/Corphon/AdaptBrain/internal/errors"
	"github.com/Corphon/AdaptBrain/internal/models"
	"github.com/Corphon/AdaptBrain/internal/utils"
)

const (
	// TailRunes 传给下一段的上一段结尾长度
	TailRunes = 1000
	// FirstEpisode 新项目的起始集数
	FirstEpisode = 1

	novelRequiredText = "请先选择一本原著小说"
)

// SegmentGenerator 单段生成能力，由 GatewayService 实现
type SegmentGenerator interface {
	GenerateSegment(ctx context.Context, in SegmentInput) (SegmentResult, error)
}

// ModeSource 提供当前项目的频段
type ModeSource interface {
	ActiveMode() models.FrequencyMode
}

// SegmentRequest 生成请求，参考资料均以知识库文件ID引用
type SegmentRequest struct {
	NovelID   string           `json:"novel_id"`
	FormatID  string           `json:"format_id,omitempty"`
	StyleID   string           `json:"style_id,omitempty"`
	OutlineID string           `json:"outline_id,omitempty"`
	BibleID   string           `json:"bible_id,omitempty"`
	Tier      models.ModelTier `json:"tier,omitempty"`
	// AutoSelect 为空的引用使用该分类的第一份资料
	AutoSelect bool `json:"auto_select,omitempty"`
}

// SegmentService 维护脚本段链与下一集指针，保证多次独立调用之间的剧情连贯
type SegmentService struct {
	mu               sync.Mutex
	segments         []models.ScriptSegment
	nextEpisodeStart int
	focusedID        string
	generating       bool
	// epoch 在 Reset 时递增，旧项目的在途结果会被丢弃
	epoch uint64

	gate      *semaphore.Weighted
	generator SegmentGenerator
	knowledge *KnowledgeStore
	state     *app.State
	modes     ModeSource
	progress  *ProgressService
	metrics   *utils.MetricsCollector
}

func NewSegmentService(generator SegmentGenerator, knowledge *KnowledgeStore, state *app.State, modes ModeSource, progress *ProgressService) *SegmentService {
	s := &SegmentService{
		nextEpisodeStart: FirstEpisode,
		gate:             semaphore.NewWeighted(1),
		generator:        generator,
		knowledge:        knowledge,
		state:            state,
		modes:            modes,
		progress:         progress,
		metrics:          utils.GetMetricsCollector(),
	}

	// 进入脚本页面时重新登记焦点段落
	state.OnStepChange(func(_, to models.AppStep) {
		if to == models.StepScriptGenerator {
			s.mu.Lock()
			s.registerFocusLocked()
			s.mu.Unlock()
		}
	})
	return s
}

// List 当前段列表快照
func (s *SegmentService) List() models.SegmentList {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SegmentList{
		Segments:         append([]models.ScriptSegment{}, s.segments...),
		NextEpisodeStart: s.nextEpisodeStart,
		IsGenerating:     s.generating,
		FocusedID:        s.focusedID,
	}
}

// Reset 切换项目时清空
func (s *SegmentService) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = nil
	s.nextEpisodeStart = FirstEpisode
	s.focusedID = ""
	s.epoch++
	if h := s.state.Context(); h != nil && isSegmentHandler(h) {
		s.state.ClearContext()
	}
}

func (s *SegmentService) indexLocked(id string) int {
	for i := range s.segments {
		if s.segments[i].ID == id {
			return i
		}
	}
	return -1
}

// resolveInput 在任何网络调用之前完成前置检查
func (s *SegmentService) resolveInput(req SegmentRequest) (SegmentInput, models.KnowledgeFile, error) {
	novel, ok := s.lookup(req.NovelID, models.CategoryNovel, req.AutoSelect)
	if !ok || novel.Category != models.CategoryNovel {
		return SegmentInput{}, models.KnowledgeFile{}, apperrors.NewPreconditionError(novelRequiredText)
	}

	mode := models.FrequencyMale
	if s.modes != nil {
		mode = s.modes.ActiveMode()
	}

	in := SegmentInput{
		Novel: novel.Content,
		Mode:  mode,
		Tier:  req.Tier,
	}
	if f, ok := s.lookup(req.FormatID, models.CategoryFormatRef, req.AutoSelect); ok {
		in.Format = f.Content
	}
	if f, ok := s.lookup(req.StyleID, models.CategoryStyleRef, req.AutoSelect); ok {
		in.Style = f.Content
	}
	if f, ok := s.lookup(req.OutlineID, models.CategorySeasonOutline, req.AutoSelect); ok {
		in.Outline = f.Content
	}
	if f, ok := s.lookup(req.BibleID, models.CategoryCharacterBible, req.AutoSelect); ok {
		in.Bible = f.Content
	}
	return in, novel, nil
}

func (s *SegmentService) lookup(id string, category models.FileCategory, auto bool) (models.KnowledgeFile, bool) {
	if id != "" {
		return s.knowledge.Get(id)
	}
	if auto {
		return s.knowledge.FirstOfCategory(category)
	}
	return models.KnowledgeFile{}, false
}

// Generate targetID 为空时追加新段，否则重新生成该段
func (s *SegmentService) Generate(ctx context.Context, req SegmentRequest, targetID string) (models.ScriptSegment, error) {
	if !s.gate.TryAcquire(1) {
		return models.ScriptSegment{}, apperrors.NewBusyError("正在生成中，请等待当前任务完成")
	}
	defer s.gate.Release(1)

	in, novel, err := s.resolveInput(req)
	if err != nil {
		return models.ScriptSegment{}, err
	}

	if targetID == "" {
		return s.appendSegment(ctx, in, novel)
	}
	return s.regenerateSegment(ctx, in, targetID)
}

func (s *SegmentService) setGenerating(v bool) {
	s.mu.Lock()
	s.generating = v
	s.mu.Unlock()
}

func (s *SegmentService) appendSegment(ctx context.Context, in SegmentInput, novel models.KnowledgeFile) (models.ScriptSegment, error) {
	s.mu.Lock()
	in.Range = models.EpisodeRangeLabel(s.nextEpisodeStart)
	if n := len(s.segments); n > 0 {
		prev := s.segments[n-1]
		in.PreviousSummary = prev.Summary
		in.PreviousTail = utils.TailRunes(prev.Content, TailRunes)
	}
	placeholder := models.ScriptSegment{
		ID:        utils.NewID(),
		Range:     in.Range,
		IsLoading: true,
	}
	s.segments = append(s.segments, placeholder)
	s.generating = true
	epoch := s.epoch
	s.mu.Unlock()
	defer s.setGenerating(false)

	tracker := s.progress.StartTask(placeholder.ID, "append", "正在生成 "+in.Range, placeholder)
	res, err := s.generator.GenerateSegment(ctx, in)

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		tracker.Fail("项目已切换", nil)
		return models.ScriptSegment{}, apperrors.NewConflictError("项目已切换，本次生成结果已丢弃", nil)
	}

	idx := s.indexLocked(placeholder.ID)
	if err != nil {
		// 追加失败不留下任何痕迹，集数指针不动
		if idx >= 0 {
			s.segments = append(s.segments[:idx], s.segments[idx+1:]...)
		}
		s.registerFocusLocked()
		s.mu.Unlock()

		s.metrics.RecordGeneration("append", false)
		tracker.Fail(err.Error(), placeholder)
		utils.GetLogger().Error("脚本段生成失败", map[string]interface{}{"range": in.Range, "error": err})
		return models.ScriptSegment{}, err
	}

	seg := placeholder
	seg.Content = res.Content
	seg.Summary = res.Summary
	seg.IsLoading = false
	if idx >= 0 {
		s.segments[idx] = seg
	}
	s.nextEpisodeStart += models.EpisodesPerSegment
	s.focusedID = ""
	s.registerFocusLocked()
	s.mu.Unlock()

	// 项目切换与写入互斥，切换后不再把旧项目的脚本写进新项目
	sameProject := func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.epoch == epoch
	}
	_, filed, err := s.knowledge.AddIf(fmt.Sprintf("脚本-%s-%s", novel.Name, seg.Range), seg.Content, models.CategoryGeneratedScript, sameProject)
	switch {
	case err != nil:
		utils.GetLogger().Warn("保存脚本到知识库失败", map[string]interface{}{"range": seg.Range, "error": err})
	case !filed:
		utils.GetLogger().Info("项目已切换，脚本未写入知识库", map[string]interface{}{"range": seg.Range})
	}

	s.metrics.RecordGeneration("append", true)
	tracker.Complete("已生成 "+seg.Range, seg)
	utils.GetLogger().Info("脚本段生成完成", map[string]interface{}{
		"range":   seg.Range,
		"content": utils.RuneLen(seg.Content),
	})
	return seg, nil
}

func (s *SegmentService) regenerateSegment(ctx context.Context, in SegmentInput, targetID string) (models.ScriptSegment, error) {
	s.mu.Lock()
	idx := s.indexLocked(targetID)
	if idx < 0 {
		s.mu.Unlock()
		return models.ScriptSegment{}, apperrors.NewNotFoundError("脚本段不存在: "+targetID, nil)
	}

	// 连贯上下文取列表中的前一段，在调用开始时快照
	target := s.segments[idx]
	in.Range = target.Range
	if idx > 0 {
		prev := s.segments[idx-1]
		in.PreviousSummary = prev.Summary
		in.PreviousTail = utils.TailRunes(prev.Content, TailRunes)
	}
	s.segments[idx].IsLoading = true
	s.generating = true
	epoch := s.epoch
	s.mu.Unlock()
	defer s.setGenerating(false)

	tracker := s.progress.StartTask(target.ID, "regenerate", "正在重新生成 "+target.Range, target)
	res, err := s.generator.GenerateSegment(ctx, in)

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		tracker.Fail("项目已切换", nil)
		return models.ScriptSegment{}, apperrors.NewConflictError("项目已切换，本次生成结果已丢弃", nil)
	}

	idx = s.indexLocked(targetID)
	if idx < 0 {
		s.mu.Unlock()
		tracker.Fail("脚本段已不存在", nil)
		return models.ScriptSegment{}, apperrors.NewNotFoundError("脚本段不存在: "+targetID, nil)
	}

	if err != nil {
		// 重新生成失败保留原内容
		s.segments[idx].IsLoading = false
		kept := s.segments[idx]
		s.mu.Unlock()

		s.metrics.RecordGeneration("regenerate", false)
		tracker.Fail(err.Error(), kept)
		utils.GetLogger().Error("脚本段重新生成失败", map[string]interface{}{"range": kept.Range, "error": err})
		return models.ScriptSegment{}, err
	}

	s.segments[idx].Content = res.Content
	s.segments[idx].Summary = res.Summary
	s.segments[idx].IsLoading = false
	seg := s.segments[idx]
	s.focusedID = ""
	s.registerFocusLocked()
	s.mu.Unlock()

	s.metrics.RecordGeneration("regenerate", true)
	tracker.Complete("已重新生成 "+seg.Range, seg)
	return seg, nil
}

// UpdateContent 手动编辑或应用AI修改，不影响顺序
func (s *SegmentService) UpdateContent(id, content string) (models.ScriptSegment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return models.ScriptSegment{}, apperrors.NewNotFoundError("脚本段不存在: "+id, nil)
	}
	s.segments[idx].Content = content
	return s.segments[idx], nil
}

// Focus 用户点击某一段时，该段成为对话助手的编辑目标
func (s *SegmentService) Focus(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(id) < 0 {
		return apperrors.NewNotFoundError("脚本段不存在: "+id, nil)
	}
	s.focusedID = id
	s.registerFocusLocked()
	return nil
}

// registerFocusLocked 登记焦点段；没有显式焦点时取最新完成的一段
func (s *SegmentService) registerFocusLocked() {
	target := -1
	if s.focusedID != "" {
		target = s.indexLocked(s.focusedID)
	}
	if target < 0 {
		s.focusedID = ""
		for i := len(s.segments) - 1; i >= 0; i-- {
			if !s.segments[i].IsLoading {
				target = i
				break
			}
		}
	}
	if target < 0 || s.state.Step() != models.StepScriptGenerator {
		return
	}
	s.state.RegisterContext(s.handlerFor(s.segments[target]))
}

// segmentHandler 把一段脚本暴露给对话助手
type segmentHandler struct {
	app.FuncHandler
}

func isSegmentHandler(h app.ContextHandler) bool {
	_, ok := h.(segmentHandler)
	return ok
}

func (s *SegmentService) handlerFor(seg models.ScriptSegment) app.ContextHandler {
	id := seg.ID
	return segmentHandler{app.FuncHandler{
		Label: fmt.Sprintf("脚本 (%s)", seg.Range),
		ReadFn: func() string {
			s.mu.Lock()
			defer s.mu.Unlock()
			if idx := s.indexLocked(id); idx >= 0 {
				return s.segments[idx].Content
			}
			return ""
		},
		WriteFn: func(text string) {
			if _, err := s.UpdateContent(id, text); err != nil {
				utils.GetLogger().Warn("应用修改失败，脚本段已不存在", map[string]interface{}{"segment_id": id})
			}
		},
	}}
}
