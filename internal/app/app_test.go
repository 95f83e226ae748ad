package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Corphon/AdaptBrain/internal/models"
)

func newHandler(name string, text *string) FuncHandler {
	return FuncHandler{
		Label:   name,
		ReadFn:  func() string { return *text },
		WriteFn: func(s string) { *text = s },
	}
}

func TestNavigateClearsContext(t *testing.T) {
	s := NewState()
	assert.Equal(t, models.StepProjectHub, s.Step())

	text := "大纲"
	s.NavigateTo(models.StepSeasonPlanner)
	s.RegisterContext(newHandler("季度结构规划", &text))
	assert.NotNil(t, s.Context())

	s.NavigateTo(models.StepScriptGenerator)
	assert.Nil(t, s.Context())
}

func TestNavigateSameStepKeepsContext(t *testing.T) {
	s := NewState()
	text := ""
	s.NavigateTo(models.StepScriptGenerator)
	s.RegisterContext(newHandler("脚本 (1-3集)", &text))

	s.NavigateTo(models.StepScriptGenerator)
	if s.Context() == nil {
		t.Fatal("停留在同一步骤时不应清除编辑上下文")
	}
}

func TestBackTable(t *testing.T) {
	cases := []struct {
		from models.AppStep
		want models.AppStep
	}{
		{models.StepProjectHub, models.StepProjectHub},
		{models.StepKnowledgeBase, models.StepKnowledgeBase},
		{models.StepWorkflowSelect, models.StepKnowledgeBase},
		{models.StepSeasonPlanner, models.StepWorkflowSelect},
		{models.StepScriptGenerator, models.StepWorkflowSelect},
		{models.StepOutlineGenerator, models.StepWorkflowSelect},
	}

	for _, tc := range cases {
		t.Run(string(tc.from), func(t *testing.T) {
			s := NewState()
			s.NavigateTo(tc.from)
			text := "x"
			s.RegisterContext(newHandler("h", &text))

			got := s.Back()
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.want, s.Step())
			assert.Nil(t, s.Context())
		})
	}
}

func TestRegisterContextReplaces(t *testing.T) {
	s := NewState()
	a, b := "A", "B"
	s.RegisterContext(newHandler("first", &a))
	s.RegisterContext(newHandler("second", &b))

	h := s.Context()
	assert.Equal(t, "second", h.Name())
	h.Write("B2")
	assert.Equal(t, "B2", b)
	assert.Equal(t, "A", a)
	assert.Equal(t, "second", s.Snapshot().ContextName)
}

func TestStepListener(t *testing.T) {
	s := NewState()
	var got []models.AppStep
	s.OnStepChange(func(_, to models.AppStep) { got = append(got, to) })

	s.NavigateTo(models.StepKnowledgeBase)
	s.NavigateTo(models.StepKnowledgeBase)
	s.NavigateTo(models.StepWorkflowSelect)
	assert.Equal(t, []models.AppStep{models.StepKnowledgeBase, models.StepWorkflowSelect}, got)
}
