package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/AdaptBrain/internal/llm/llmtest"
	"github.com/Corphon/AdaptBrain/internal/models"
	"github.com/Corphon/AdaptBrain/internal/services"
)

func dialChat(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestChatWebSocketStreamsAndNavigates(t *testing.T) {
	env := newTestEnv(t, llmtest.Reply{Chunks: []string{"好的", "[[CMD:SCRIPT_", "GENERATOR]]"}})
	conn := dialChat(t, env)

	first := readMessage(t, conn)
	require.Equal(t, wsTypeHistory, first.Type)
	require.Len(t, first.Messages, 1)
	assert.Equal(t, models.RoleAssistant, first.Messages[0].Role)

	require.NoError(t, conn.WriteJSON(wsInbound{Type: wsTypeMessageIn, Message: "去写脚本"}))

	var done *models.ChatMessage
	var navigated models.AppStep
	for done == nil || navigated == "" {
		msg := readMessage(t, conn)
		switch msg.Type {
		case wsTypeDone:
			done = msg.Message
		case wsTypeNavigate:
			navigated = msg.Step
		case wsTypeChunk:
			assert.NotContains(t, msg.Message.Text, "[[CMD")
		case wsTypeError:
			t.Fatalf("unexpected error message: %s", msg.Error)
		}
	}

	assert.Equal(t, "好的", done.Text)
	assert.False(t, done.IsStreaming)
	assert.Equal(t, models.StepScriptGenerator, navigated)
	assert.Equal(t, models.StepScriptGenerator, env.handler.State.Step())
}

func TestChatWebSocketPingAndUnknownType(t *testing.T) {
	env := newTestEnv(t)
	conn := dialChat(t, env)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(wsInbound{Type: wsTypePingIn}))
	assert.Equal(t, wsTypePong, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(wsInbound{Type: "bogus"}))
	msg := readMessage(t, conn)
	assert.Equal(t, wsTypeError, msg.Type)
	assert.Equal(t, ErrorBadRequest, msg.Code)
}

func TestChatWebSocketUpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	conn := dialChat(t, env)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(wsInbound{Type: wsTypeMessageIn, Message: "你好"}))

	for {
		msg := readMessage(t, conn)
		if msg.Type == wsTypeDone {
			assert.Equal(t, services.ChatDisconnectedText, msg.Message.Text)
			return
		}
		if msg.Type == wsTypeError {
			assert.Equal(t, ErrorLLMServiceUnavailable, msg.Code)
			return
		}
	}
}

func TestHubForwardsProgressEvents(t *testing.T) {
	env := newTestEnv(t)
	conn := dialChat(t, env)
	readMessage(t, conn)

	require.Eventually(t, func() bool { return env.handler.Hub.Count() == 1 }, time.Second, 10*time.Millisecond)
	env.handler.State.NavigateTo(models.StepWorkflowSelect)
	env.handler.Progress.Publish(services.ProgressEvent{Type: services.EventNavigate, Data: models.StepWorkflowSelect})

	msg := readMessage(t, conn)
	assert.Equal(t, wsTypeNavigate, msg.Type)
	assert.Equal(t, models.StepWorkflowSelect, msg.Step)
	assert.Equal(t, models.StepWorkflowSelect.Title(), msg.Title)
}
