package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Corphon/AdaptBrain/internal/app"
	apperrors "github.com/Corphon/AdaptBrain/internal/errors"
	"github.com/Corphon/AdaptBrain/internal/llm/llmtest"
	"github.com/Corphon/AdaptBrain/internal/models"
)

func newChatFixture(replies ...llmtest.Reply) (*ChatService, *app.State, *llmtest.Provider) {
	gw, fake := newTestGateway(replies...)
	state := app.NewState()
	return NewChatService(gw, state, NewProgressService()), state, fake
}

func TestChatStartsWithGreeting(t *testing.T) {
	chat, _, _ := newChatFixture()
	msgs := chat.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleAssistant, msgs[0].Role)
	assert.Equal(t, ChatGreeting, msgs[0].Text)
}

func TestChatSendStreamsAndNavigatesOnce(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	chat, state, fake := newChatFixture(llmtest.Reply{
		Chunks: []string{"Hello [[CMD:SCRIPT", "_GENERATOR]] wor", "ld [[CMD:KNOWLEDGE_BASE]]"},
	})
	state.NavigateTo(models.StepSeasonPlanner)

	var updates []ChatUpdate
	var navigations []models.AppStep
	reply, err := chat.Send(context.Background(), "  去写剧本  ", func(u ChatUpdate) {
		updates = append(updates, u)
		if u.Navigate != "" {
			navigations = append(navigations, u.Navigate)
		}
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello  world ", reply.Text)
	assert.False(t, reply.IsStreaming)
	assert.Equal(t, []models.AppStep{models.StepScriptGenerator}, navigations)
	assert.Equal(t, models.StepScriptGenerator, state.Step())

	require.NotEmpty(t, updates)
	assert.True(t, updates[len(updates)-1].Done)
	for _, u := range updates {
		assert.NotContains(t, u.Message.Text, "[[CMD:")
	}

	msgs := chat.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "去写剧本", msgs[1].Text)
	assert.Equal(t, reply, msgs[2])

	req := fake.Last()
	assert.Contains(t, req.SystemPrompt, "[[CMD:目标]]")
	require.Len(t, req.Messages, 2)
	assert.Equal(t, ChatGreeting, req.Messages[0].Content)
}

func TestChatInjectsActiveContext(t *testing.T) {
	chat, state, fake := newChatFixture(llmtest.Reply{Chunks: []string{"改好了"}})
	text := "第一场 日 内"
	state.RegisterContext(app.FuncHandler{Label: "脚本 (1-3集)", ReadFn: func() string { return text }})

	_, err := chat.Send(context.Background(), "润色", nil)
	require.NoError(t, err)

	last := fake.Last().Messages
	prompt := last[len(last)-1].Content
	assert.Contains(t, prompt, "脚本 (1-3集)")
	assert.Contains(t, prompt, "第一场 日 内")
	assert.Contains(t, prompt, "润色")
}

func TestChatStreamFailureShowsApology(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	chat, _, _ := newChatFixture(llmtest.Reply{Chunks: []string{"半句"}, StreamErr: errors.New("reset by peer")})
	reply, err := chat.Send(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsUpstreamError(err))
	assert.Equal(t, ChatDisconnectedText, reply.Text)
	assert.False(t, reply.IsStreaming)

	msgs := chat.Messages()
	assert.Equal(t, ChatDisconnectedText, msgs[len(msgs)-1].Text)
	assert.False(t, msgs[len(msgs)-1].IsStreaming)
}

func TestChatConnectFailureShowsApology(t *testing.T) {
	chat, _, _ := newChatFixture(llmtest.Reply{Err: llmtest.ErrScripted})
	reply, err := chat.Send(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.Equal(t, ChatDisconnectedText, reply.Text)
	assert.False(t, reply.IsStreaming)
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	chat, _, fake := newChatFixture()
	_, err := chat.Send(context.Background(), "   ", nil)
	assert.True(t, apperrors.IsValidationError(err))
	assert.Empty(t, fake.Requests())
	assert.Len(t, chat.Messages(), 1)
}

func TestChatApplyToContext(t *testing.T) {
	chat, state, _ := newChatFixture(llmtest.Reply{Chunks: []string{"新版本大纲"}})
	reply, err := chat.Send(context.Background(), "重写", nil)
	require.NoError(t, err)

	_, err = chat.ApplyToContext(reply.ID)
	assert.True(t, apperrors.IsPreconditionError(err))

	target := "旧大纲"
	state.RegisterContext(app.FuncHandler{
		Label:   "季度结构规划",
		ReadFn:  func() string { return target },
		WriteFn: func(s string) { target = s },
	})
	name, err := chat.ApplyToContext(reply.ID)
	require.NoError(t, err)
	assert.Equal(t, "季度结构规划", name)
	assert.Equal(t, "新版本大纲", target)

	user := chat.Messages()[1]
	_, err = chat.ApplyToContext(user.ID)
	assert.True(t, apperrors.IsValidationError(err))
	_, err = chat.ApplyToContext("missing")
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestChatClear(t *testing.T) {
	chat, _, _ := newChatFixture(llmtest.Reply{Chunks: []string{"x"}})
	_, _ = chat.Send(context.Background(), "hi", nil)
	chat.Clear()
	assert.Len(t, chat.Messages(), 1)
}
