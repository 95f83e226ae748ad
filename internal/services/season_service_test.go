package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/AdaptBrain/internal/app"
	apperrors "github.com/Corphon/AdaptBrain/internal/errors"
	"github.com/Corphon/AdaptBrain/internal/llm/llmtest"
	"github.com/Corphon/AdaptBrain/internal/models"
)

func newSeasonFixture(t *testing.T, replies ...llmtest.Reply) (*SeasonService, *KnowledgeStore, *app.State, *llmtest.Provider) {
	t.Helper()
	gw, fake := newTestGateway(replies...)
	knowledge := NewKnowledgeStore()
	state := app.NewState()
	return NewSeasonService(gw, knowledge, state, fixedMode(models.FrequencyFemale)), knowledge, state, fake
}

func TestSeasonPlanRequiresNovel(t *testing.T) {
	svc, _, _, fake := newSeasonFixture(t)
	_, err := svc.Plan(context.Background(), PlanRequest{})
	assert.True(t, apperrors.IsPreconditionError(err))
	_, err = svc.AnalyzeFocus(context.Background(), "", "")
	assert.True(t, apperrors.IsPreconditionError(err))
	assert.Empty(t, fake.Requests())
}

func TestSeasonPlanFillsDraftAndContext(t *testing.T) {
	svc, knowledge, state, fake := newSeasonFixture(t, llmtest.Reply{Text: "# 第一季规划"})
	_, _ = knowledge.Add("原著", "正文", models.CategoryNovel)
	state.NavigateTo(models.StepSeasonPlanner)

	plan, err := svc.Plan(context.Background(), PlanRequest{SeasonName: "第二季"})
	require.NoError(t, err)
	assert.Equal(t, "# 第一季规划", plan)

	req := fake.Last()
	assert.Contains(t, req.Messages[0].Content, "60-100")
	assert.Contains(t, req.SystemPrompt, "女频改编准则")

	h := state.Context()
	require.NotNil(t, h)
	assert.Equal(t, "季度结构规划 (第二季)", h.Name())
	assert.Equal(t, plan, h.Read())
	h.Write("修改后的规划")
	assert.Equal(t, "修改后的规划", svc.Draft().Plan)
}

func TestSeasonSynopsisNeedsPlan(t *testing.T) {
	svc, knowledge, state, fake := newSeasonFixture(t, llmtest.Reply{Text: "规划"}, llmtest.Reply{Text: "梗概"})
	_, err := svc.PlotSummary(context.Background(), SynopsisRequest{})
	assert.True(t, apperrors.IsPreconditionError(err))
	assert.Empty(t, fake.Requests())

	novel, _ := knowledge.Add("原著", "正文", models.CategoryNovel)
	_, err = svc.Plan(context.Background(), PlanRequest{NovelID: novel.ID})
	require.NoError(t, err)

	state.NavigateTo(models.StepSeasonPlanner)
	synopsis, err := svc.PlotSummary(context.Background(), SynopsisRequest{NovelID: novel.ID})
	require.NoError(t, err)
	assert.Equal(t, "梗概", synopsis)
	assert.Contains(t, fake.Last().Messages[0].Content, "规划")
	assert.Contains(t, fake.Last().Messages[0].Content, "正文")
	assert.Equal(t, "剧情大纲 (第一季：初入江湖)", state.Context().Name())

	require.NoError(t, svc.SelectTab(PlanTabStructure))
	assert.Equal(t, "季度结构规划 (第一季：初入江湖)", state.Context().Name())
}

func TestSeasonSave(t *testing.T) {
	svc, knowledge, _, _ := newSeasonFixture(t, llmtest.Reply{Text: "规划正文"})
	_, err := svc.Save(PlanTabStructure)
	assert.True(t, apperrors.IsPreconditionError(err))

	novel, _ := knowledge.Add("原著", "正文", models.CategoryNovel)
	_, err = svc.Plan(context.Background(), PlanRequest{NovelID: novel.ID, SeasonName: "第一季"})
	require.NoError(t, err)

	f, err := svc.Save("")
	require.NoError(t, err)
	assert.Equal(t, "第一季-结构规划", f.Name)
	assert.Equal(t, models.CategorySeasonOutline, f.Category)
	assert.Equal(t, "规划正文", f.Content)

	_, err = svc.Save("OTHER")
	assert.True(t, apperrors.IsValidationError(err))
}

func TestSeasonReset(t *testing.T) {
	svc, _, _, _ := newSeasonFixture(t)
	require.NoError(t, svc.UpdateDraft(PlanTabSynopsis, "x"))
	svc.Reset()
	assert.Empty(t, svc.Draft().Synopsis)
	assert.Equal(t, PlanTabStructure, svc.Draft().ActiveTab)
}
