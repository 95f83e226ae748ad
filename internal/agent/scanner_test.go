package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/AdaptBrain/internal/models"
)

type recorder struct {
	steps []models.AppStep
}

func (r *recorder) NavigateTo(step models.AppStep) {
	r.steps = append(r.steps, step)
}

func feedAll(s *Scanner, chunks ...string) string {
	var out string
	for _, c := range chunks {
		out = s.Feed(c)
	}
	return out
}

func TestScannerStripsTokenAndNavigatesOnce(t *testing.T) {
	nav := &recorder{}
	s := NewScanner(nav)

	out := feedAll(s, "Hello [[CMD:SCR", "IPT_GENERATOR]] wor", "ld")
	assert.Equal(t, "Hello  world", out)
	assert.Equal(t, []models.AppStep{models.StepScriptGenerator}, nav.steps)
	assert.True(t, s.Matched())
	assert.Equal(t, "SCRIPT_GENERATOR", s.Target())
}

func TestScannerSecondTokenDoesNotNavigate(t *testing.T) {
	nav := &recorder{}
	s := NewScanner(nav)

	out := feedAll(s, "[[CMD:KNOWLEDGE_BASE]]好的", "，然后 [[CMD:SCRIPT_GENERATOR]] 继续")
	require.Len(t, nav.steps, 1)
	assert.Equal(t, models.StepKnowledgeBase, nav.steps[0])
	assert.Equal(t, "好的，然后  继续", out)
}

func TestScannerPartialTokenIsShownUntilComplete(t *testing.T) {
	nav := &recorder{}
	s := NewScanner(nav)

	assert.Equal(t, "[[CMD:OUT", s.Feed("[[CMD:OUT"))
	assert.Empty(t, nav.steps)
	assert.Equal(t, "正在跳转", s.Feed("LINE_WORKFLOW]]正在跳转"))
	assert.Equal(t, []models.AppStep{models.StepSeasonPlanner}, nav.steps)
}

func TestScannerUnknownTargetIgnored(t *testing.T) {
	nav := &recorder{}
	s := NewScanner(nav)

	out := feedAll(s, "A[[CMD:SELF_DESTRUCT]]B")
	assert.Equal(t, "AB", out)
	assert.Empty(t, nav.steps)
	assert.True(t, s.Matched())
	_, ok := s.Step()
	assert.False(t, ok)

	// 未知目标同样占用本次回复的导航机会
	s.Feed("[[CMD:KNOWLEDGE_BASE]]")
	assert.Empty(t, nav.steps)
}

func TestScannerPlainChat(t *testing.T) {
	nav := &recorder{}
	s := NewScanner(nav)

	out := feedAll(s, "没有", "指令[CMD:X]")
	assert.Equal(t, "没有指令[CMD:X]", out)
	assert.False(t, s.Matched())
	assert.Empty(t, nav.steps)
}

func TestScannerAliases(t *testing.T) {
	nav := &recorder{}
	NewScanner(nav).Feed("[[CMD:CHARACTER_EXTRACTOR]]")
	assert.Equal(t, []models.AppStep{models.StepOutlineGenerator}, nav.steps)
}

func TestScannerNilNavigator(t *testing.T) {
	s := NewScanner(nil)
	assert.Equal(t, "x", s.Feed("[[CMD:KNOWLEDGE_BASE]]x"))
}

func TestInstructionListsTargets(t *testing.T) {
	text := Instruction()
	for _, tok := range []string{"KNOWLEDGE_BASE", "OUTLINE_WORKFLOW", "SCRIPT_GENERATOR", "CHARACTER_EXTRACTOR"} {
		assert.Contains(t, text, tok)
		_, ok := models.LookupStep(tok)
		assert.True(t, ok, tok)
	}
}
