package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/AdaptBrain/internal/models"
)

func TestDefaultCatalogueCompiles(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	for _, name := range []string{AnalyzeFocus, SeasonPlan, Segment, ExtractCharacters, PlotSummary, ChatContext} {
		assert.Contains(t, c.compiled, name)
	}
	assert.NotEmpty(t, c.System.Base)
	assert.NotEqual(t, c.ModeInstruction(models.FrequencyMale), c.ModeInstruction(models.FrequencyFemale))
}

func TestClipTruncatesByRune(t *testing.T) {
	c := MustDefault()
	novel := strings.Repeat("甲", 15000) + "乙乙乙"

	out, err := c.Render(AnalyzeFocus, struct {
		Audience string
		Novel    string
	}{Audience: models.FrequencyMale.Audience(), Novel: novel})
	require.NoError(t, err)

	assert.Contains(t, out, strings.Repeat("甲", 15000))
	assert.NotContains(t, out, "乙")
	assert.Contains(t, out, "男频（热血/升级/爽文）")
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, err := MustDefault().Render("nope", nil)
	assert.Error(t, err)
}

func TestParseRejectsBrokenTemplate(t *testing.T) {
	_, err := Parse([]byte("templates:\n  bad: \"{{ .X \"\n"))
	assert.Error(t, err)
}
