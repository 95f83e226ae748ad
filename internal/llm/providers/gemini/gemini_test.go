package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/Corphon/AdaptBrain/internal/llm"
)

func TestToContentsMapsRoles(t *testing.T) {
	contents := toContents([]llm.Message{
		{Role: llm.RoleUser, Content: "你好"},
		{Role: llm.RoleAssistant, Content: "在的"},
		{Role: llm.RoleSystem, Content: "规则"},
	})

	require.Len(t, contents, 3)
	assert.Equal(t, string(genai.RoleUser), contents[0].Role)
	assert.Equal(t, string(genai.RoleModel), contents[1].Role)
	assert.Equal(t, string(genai.RoleUser), contents[2].Role)

	require.Len(t, contents[1].Parts, 1)
	assert.Equal(t, "在的", contents[1].Parts[0].Text)
}

func TestPrepareBuildsConfig(t *testing.T) {
	p := &Provider{defaultModel: "gemini-3-flash-preview"}

	model, contents, cfg := p.prepare(llm.CompletionRequest{
		Messages:     llm.UserPrompt("提取人物"),
		SystemPrompt: "你是编剧",
		MaxTokens:    512,
		Temperature:  0.3,
		JSONResponse: true,
	})

	assert.Equal(t, "gemini-3-flash-preview", model)
	require.Len(t, contents, 1)
	assert.Equal(t, "application/json", cfg.ResponseMIMEType)
	assert.Equal(t, int32(512), cfg.MaxOutputTokens)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.3, *cfg.Temperature, 1e-6)
	require.NotNil(t, cfg.SystemInstruction)
	require.Len(t, cfg.SystemInstruction.Parts, 1)
	assert.Equal(t, "你是编剧", cfg.SystemInstruction.Parts[0].Text)
}

func TestPreparePlainText(t *testing.T) {
	p := &Provider{defaultModel: "gemini-3-flash-preview"}

	model, _, cfg := p.prepare(llm.CompletionRequest{
		Messages: llm.UserPrompt("x"),
		Model:    "gemini-2.5-pro",
	})

	assert.Equal(t, "gemini-2.5-pro", model)
	assert.Empty(t, cfg.ResponseMIMEType)
	assert.Nil(t, cfg.SystemInstruction)
	assert.Zero(t, cfg.MaxOutputTokens)
}

func TestInitializeRequiresAPIKey(t *testing.T) {
	p := &Provider{}
	assert.Error(t, p.Initialize(map[string]string{}))
	assert.Nil(t, p.client)
}
