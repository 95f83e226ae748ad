package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/AdaptBrain/internal/errors"
	"github.com/Corphon/AdaptBrain/internal/llm/llmtest"
	"github.com/Corphon/AdaptBrain/internal/models"
)

func TestFormatBible(t *testing.T) {
	got := FormatBible([]models.CharacterProfile{
		{Name: "萧炎", Gender: "男", Age: "15", Personality: "坚韧", Appearance: "黑袍", Relation: "主角"},
		{Name: "药老", Gender: "男", Age: "未知", Personality: "睿智", Appearance: "白发", Relation: "师父"},
	})
	want := "【姓名】：萧炎\n【性别/年龄】：男 / 15\n【性格】：坚韧\n【外貌】：黑袍\n【人物关系】：主角\n---\n" +
		"【姓名】：药老\n【性别/年龄】：男 / 未知\n【性格】：睿智\n【外貌】：白发\n【人物关系】：师父\n---"
	assert.Equal(t, want, got)
	assert.Empty(t, FormatBible(nil))
}

func TestCharacterExtractAndSave(t *testing.T) {
	gw, fake := newTestGateway(llmtest.Reply{Text: `好的：[{"name":"萧炎","gender":"男","age":"15"}]`})
	knowledge := NewKnowledgeStore()
	svc := NewCharacterService(gw, knowledge, fixedMode(models.FrequencyMale))

	_, err := svc.Extract(context.Background(), "missing")
	assert.True(t, apperrors.IsPreconditionError(err))
	assert.Empty(t, fake.Requests())

	script, _ := knowledge.Add("脚本-斗破-1-3集", "萧炎登场", models.CategoryGeneratedScript)
	profiles, err := svc.Extract(context.Background(), script.ID)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "萧炎", profiles[0].Name)
	assert.Contains(t, fake.Last().Messages[0].Content, "萧炎登场")

	bible, err := svc.SaveBible(script.Name, profiles)
	require.NoError(t, err)
	assert.Equal(t, "人设圣经-脚本-斗破-1-3集", bible.Name)
	assert.Equal(t, models.CategoryCharacterBible, bible.Category)

	_, err = svc.SaveBible("x", nil)
	assert.True(t, apperrors.IsPreconditionError(err))
}
