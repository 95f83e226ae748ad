package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/AdaptBrain/internal/app"
	apperrors "github.com/Corphon/AdaptBrain/internal/errors"
	"github.com/Corphon/AdaptBrain/internal/models"
)

// scriptedGenerator 按调用次序返回结果并记录输入
type scriptedGenerator struct {
	mu      sync.Mutex
	inputs  []SegmentInput
	fail    map[int]error
	block   chan struct{}
	started chan struct{}
}

func (g *scriptedGenerator) GenerateSegment(ctx context.Context, in SegmentInput) (SegmentResult, error) {
	g.mu.Lock()
	n := len(g.inputs)
	g.inputs = append(g.inputs, in)
	err := g.fail[n]
	block, started := g.block, g.started
	g.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return SegmentResult{}, err
	}
	return SegmentResult{
		Content: fmt.Sprintf("content-%d %s", n, in.Range),
		Summary: fmt.Sprintf("summary-%d", n),
	}, nil
}

func (g *scriptedGenerator) calls() []SegmentInput {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]SegmentInput(nil), g.inputs...)
}

type fixedMode models.FrequencyMode

func (m fixedMode) ActiveMode() models.FrequencyMode { return models.FrequencyMode(m) }

type segmentFixture struct {
	svc       *SegmentService
	gen       *scriptedGenerator
	knowledge *KnowledgeStore
	state     *app.State
	novel     models.KnowledgeFile
}

func newSegmentFixture(t *testing.T) *segmentFixture {
	t.Helper()
	f := &segmentFixture{
		gen:       &scriptedGenerator{fail: map[int]error{}},
		knowledge: NewKnowledgeStore(),
		state:     app.NewState(),
	}
	novel, err := f.knowledge.Add("斗破苍穹", "原著正文", models.CategoryNovel)
	require.NoError(t, err)
	f.novel = novel
	f.svc = NewSegmentService(f.gen, f.knowledge, f.state, fixedMode(models.FrequencyFemale), NewProgressService())
	return f
}

func (f *segmentFixture) req() SegmentRequest {
	return SegmentRequest{NovelID: f.novel.ID}
}

func TestAppendAdvancesEpisodePointer(t *testing.T) {
	f := newSegmentFixture(t)
	ctx := context.Background()

	const n = 4
	for i := 0; i < n; i++ {
		_, err := f.svc.Generate(ctx, f.req(), "")
		require.NoError(t, err)
	}

	list := f.svc.List()
	assert.Equal(t, FirstEpisode+3*n, list.NextEpisodeStart)
	require.Len(t, list.Segments, n)
	for i, seg := range list.Segments {
		start := FirstEpisode + 3*i
		assert.Equal(t, fmt.Sprintf("%d-%d集", start, start+2), seg.Range)
		assert.False(t, seg.IsLoading)
	}
	assert.False(t, list.IsGenerating)

	calls := f.gen.calls()
	assert.Empty(t, calls[0].PreviousSummary)
	assert.Empty(t, calls[0].PreviousTail)
	assert.Equal(t, "summary-0", calls[1].PreviousSummary)
	assert.Equal(t, list.Segments[0].Content, calls[1].PreviousTail)
	assert.Equal(t, models.FrequencyFemale, calls[1].Mode)
}

func TestAppendRegistersGeneratedScript(t *testing.T) {
	f := newSegmentFixture(t)
	seg, err := f.svc.Generate(context.Background(), f.req(), "")
	require.NoError(t, err)

	scripts := f.knowledge.FilterByCategory(models.CategoryGeneratedScript)
	require.Len(t, scripts, 1)
	assert.Equal(t, "脚本-斗破苍穹-1-3集", scripts[0].Name)
	assert.Equal(t, seg.Content, scripts[0].Content)
}

func TestFailedAppendLeavesNoResidue(t *testing.T) {
	f := newSegmentFixture(t)
	ctx := context.Background()

	_, err := f.svc.Generate(ctx, f.req(), "")
	require.NoError(t, err)
	before := f.svc.List()

	f.gen.fail[1] = apperrors.NewUpstreamError("模型服务调用失败，请重试", errors.New("boom"))
	_, err = f.svc.Generate(ctx, f.req(), "")
	require.Error(t, err)
	assert.True(t, apperrors.IsUpstreamError(err))

	after := f.svc.List()
	assert.Equal(t, before.Segments, after.Segments)
	assert.Equal(t, before.NextEpisodeStart, after.NextEpisodeStart)
	assert.Len(t, f.knowledge.FilterByCategory(models.CategoryGeneratedScript), 1)
}

func TestFailedRegenerateKeepsContent(t *testing.T) {
	f := newSegmentFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.Generate(ctx, f.req(), "")
		require.NoError(t, err)
	}
	target := f.svc.List().Segments[1]

	f.gen.fail[2] = errors.New("network down")
	_, err := f.svc.Generate(ctx, f.req(), target.ID)
	require.Error(t, err)

	list := f.svc.List()
	assert.Equal(t, target.Content, list.Segments[1].Content)
	assert.Equal(t, target.Summary, list.Segments[1].Summary)
	assert.False(t, list.Segments[1].IsLoading)
	assert.Equal(t, 7, list.NextEpisodeStart)
}

func TestRegenerateUsesIndexPredecessor(t *testing.T) {
	f := newSegmentFixture(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := f.svc.Generate(ctx, f.req(), "")
		require.NoError(t, err)
	}
	segs := f.svc.List().Segments

	long := strings.Repeat("前", 500) + strings.Repeat("尾", 1000)
	_, err := f.svc.UpdateContent(segs[0].ID, long)
	require.NoError(t, err)

	regen, err := f.svc.Generate(ctx, f.req(), segs[1].ID)
	require.NoError(t, err)

	last := f.gen.calls()[4]
	assert.Equal(t, segs[0].Summary, last.PreviousSummary)
	assert.Equal(t, strings.Repeat("尾", 1000), last.PreviousTail)
	assert.Equal(t, segs[1].Range, last.Range)

	list := f.svc.List()
	assert.Equal(t, 13, list.NextEpisodeStart)
	assert.Equal(t, regen.ID, list.Segments[1].ID)
	assert.Equal(t, "summary-4", list.Segments[1].Summary)
	for i := range segs {
		assert.Equal(t, segs[i].ID, list.Segments[i].ID, "重新生成不应改变顺序")
	}
}

func TestRegenerateFirstSegmentHasNoContinuity(t *testing.T) {
	f := newSegmentFixture(t)
	ctx := context.Background()
	_, _ = f.svc.Generate(ctx, f.req(), "")
	_, _ = f.svc.Generate(ctx, f.req(), "")

	first := f.svc.List().Segments[0]
	_, err := f.svc.Generate(ctx, f.req(), first.ID)
	require.NoError(t, err)
	last := f.gen.calls()[2]
	assert.Empty(t, last.PreviousSummary)
	assert.Empty(t, last.PreviousTail)
}

func TestRegenerateMissingTarget(t *testing.T) {
	f := newSegmentFixture(t)
	_, err := f.svc.Generate(context.Background(), f.req(), "nope")
	assert.True(t, apperrors.IsNotFoundError(err))
	assert.Empty(t, f.gen.calls())
}

func TestMissingNovelIsPrecondition(t *testing.T) {
	f := newSegmentFixture(t)
	ctx := context.Background()

	_, err := f.svc.Generate(ctx, SegmentRequest{}, "")
	require.Error(t, err)
	assert.True(t, apperrors.IsPreconditionError(err))
	assert.Contains(t, err.Error(), "请先选择一本原著小说")

	// 非小说分类同样视为未选择
	style, _ := f.knowledge.Add("文笔", "x", models.CategoryStyleRef)
	_, err = f.svc.Generate(ctx, SegmentRequest{NovelID: style.ID}, "")
	assert.True(t, apperrors.IsPreconditionError(err))

	assert.Empty(t, f.gen.calls())
	assert.Empty(t, f.svc.List().Segments)
}

func TestAutoSelectUsesFirstOfCategory(t *testing.T) {
	f := newSegmentFixture(t)
	_, _ = f.knowledge.Add("排版A", "format-a", models.CategoryFormatRef)
	_, _ = f.knowledge.Add("排版B", "format-b", models.CategoryFormatRef)
	_, _ = f.knowledge.Add("人设", "bible", models.CategoryCharacterBible)

	_, err := f.svc.Generate(context.Background(), SegmentRequest{AutoSelect: true, Tier: models.TierLogicFast}, "")
	require.NoError(t, err)

	in := f.gen.calls()[0]
	assert.Equal(t, "原著正文", in.Novel)
	assert.Equal(t, "format-a", in.Format)
	assert.Equal(t, "bible", in.Bible)
	assert.Empty(t, in.Style)
	assert.Equal(t, models.TierLogicFast, in.Tier)
}

func TestConcurrentGenerationIsRejected(t *testing.T) {
	f := newSegmentFixture(t)
	f.gen.block = make(chan struct{})
	f.gen.started = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Generate(context.Background(), f.req(), "")
		done <- err
	}()
	<-f.gen.started

	during := f.svc.List()
	assert.True(t, during.IsGenerating)
	require.Len(t, during.Segments, 1)
	assert.True(t, during.Segments[0].IsLoading)

	_, err := f.svc.Generate(context.Background(), f.req(), "")
	require.Error(t, err)
	assert.True(t, apperrors.IsBusyError(err))
	assert.Len(t, f.svc.List().Segments, 1)

	close(f.gen.block)
	require.NoError(t, <-done)
	assert.Equal(t, 4, f.svc.List().NextEpisodeStart)
	assert.Len(t, f.gen.calls(), 1)
}

func TestResetDiscardsInFlightResult(t *testing.T) {
	f := newSegmentFixture(t)
	f.gen.block = make(chan struct{})
	f.gen.started = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Generate(context.Background(), f.req(), "")
		done <- err
	}()
	<-f.gen.started

	f.svc.Reset()
	close(f.gen.block)

	err := <-done
	assert.True(t, apperrors.IsConflictError(err))
	list := f.svc.List()
	assert.Empty(t, list.Segments)
	assert.Equal(t, FirstEpisode, list.NextEpisodeStart)
	assert.Empty(t, f.knowledge.FilterByCategory(models.CategoryGeneratedScript))
}

func TestSwitchAfterGenerationSkipsFilingScript(t *testing.T) {
	f := newSegmentFixture(t)
	f.gen.block = make(chan struct{})
	f.gen.started = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Generate(context.Background(), f.req(), "")
		done <- err
	}()
	<-f.gen.started

	// 项目切换先拿到知识库，生成结果随后到达并排队写入
	entered := make(chan struct{})
	release := make(chan struct{})
	switched := make(chan error, 1)
	go func() {
		switched <- f.knowledge.Switch(func() ([]models.KnowledgeFile, error) {
			close(entered)
			<-release
			f.svc.Reset()
			return []models.KnowledgeFile{f.novel}, nil
		})
	}()
	<-entered

	close(f.gen.block)
	require.Eventually(t, func() bool {
		return f.svc.List().NextEpisodeStart != FirstEpisode
	}, time.Second, time.Millisecond)
	close(release)

	require.NoError(t, <-switched)
	require.NoError(t, <-done)
	assert.Empty(t, f.knowledge.FilterByCategory(models.CategoryGeneratedScript))
	assert.Empty(t, f.svc.List().Segments)
}

func TestFocusRegistersContextHandler(t *testing.T) {
	f := newSegmentFixture(t)
	ctx := context.Background()
	f.state.NavigateTo(models.StepScriptGenerator)

	_, _ = f.svc.Generate(ctx, f.req(), "")
	_, _ = f.svc.Generate(ctx, f.req(), "")
	segs := f.svc.List().Segments

	h := f.state.Context()
	require.NotNil(t, h)
	assert.Equal(t, "脚本 (4-6集)", h.Name())
	assert.Equal(t, segs[1].Content, h.Read())

	require.NoError(t, f.svc.Focus(segs[0].ID))
	h = f.state.Context()
	assert.Equal(t, "脚本 (1-3集)", h.Name())
	h.Write("应用后的内容")
	assert.Equal(t, "应用后的内容", f.svc.List().Segments[0].Content)

	// 列表变化后回到最新一段
	_, _ = f.svc.Generate(ctx, f.req(), "")
	assert.Equal(t, "脚本 (7-9集)", f.state.Context().Name())

	// 离开页面清除，回来后重新登记
	f.state.NavigateTo(models.StepWorkflowSelect)
	assert.Nil(t, f.state.Context())
	f.state.NavigateTo(models.StepScriptGenerator)
	require.NotNil(t, f.state.Context())
	assert.Equal(t, "脚本 (7-9集)", f.state.Context().Name())

	f.svc.Reset()
	assert.Nil(t, f.state.Context())
}

func TestFocusOutsideScriptPageDoesNotRegister(t *testing.T) {
	f := newSegmentFixture(t)
	_, _ = f.svc.Generate(context.Background(), f.req(), "")
	assert.Nil(t, f.state.Context())
	assert.True(t, apperrors.IsNotFoundError(f.svc.Focus("missing")))
}

func TestGenerationPublishesProgress(t *testing.T) {
	f := newSegmentFixture(t)
	events, cancel := f.svc.progress.Subscribe()
	defer cancel()

	_, err := f.svc.Generate(context.Background(), f.req(), "")
	require.NoError(t, err)

	first := <-events
	second := <-events
	assert.Equal(t, EventGenerationStarted, first.Type)
	assert.Equal(t, EventGenerationCompleted, second.Type)
	assert.Equal(t, first.TaskID, second.TaskID)
}
