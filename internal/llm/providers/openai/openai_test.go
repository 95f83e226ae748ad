package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/AdaptBrain/internal/llm"
)

func TestCompleteTextSendsMessagesAndFormat(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"model":"m-1","choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],"usage":{"total_tokens":12}}`)
	}))
	defer srv.Close()

	p, err := New(srv.URL, map[string]string{"api_key": "sk-test", "default_model": "m-default"})
	require.NoError(t, err)

	resp, err := p.CompleteText(context.Background(), llm.CompletionRequest{
		SystemPrompt: "sys",
		Messages:     llm.UserPrompt("hi"),
		Temperature:  0.6,
		JSONResponse: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 12, resp.TokensUsed)
	assert.Equal(t, "m-1", resp.ModelName)

	assert.Equal(t, "m-default", got["model"])
	assert.InDelta(t, 0.6, got["temperature"], 0.0001)
	assert.Equal(t, map[string]interface{}{"type": "json_object"}, got["response_format"])
	msgs := got["messages"].([]interface{})
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]interface{})["role"])
	assert.Equal(t, "hi", msgs[1].(map[string]interface{})["content"])
}

func TestCompleteTextSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := New(srv.URL, map[string]string{"api_key": "k"})
	require.NoError(t, err)

	_, err = p.CompleteText(context.Background(), llm.CompletionRequest{Messages: llm.UserPrompt("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestStreamCompletionOrderedChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, true, body["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"Hello ", "[[CMD:", "SCRIPT_GENERATOR]]", " world"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", piece)
		}
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p, err := New(srv.URL, map[string]string{"api_key": "k"})
	require.NoError(t, err)

	ch, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{Messages: llm.UserPrompt("x")})
	require.NoError(t, err)

	var sb strings.Builder
	var done bool
	for frame := range ch {
		require.NoError(t, frame.Err)
		sb.WriteString(frame.Text)
		done = done || frame.Done
	}
	assert.True(t, done)
	assert.Equal(t, "Hello [[CMD:SCRIPT_GENERATOR]] world", sb.String())
}

func TestReadEventStreamReportsProviderError(t *testing.T) {
	out := make(chan llm.StreamResponse, 4)
	body := strings.NewReader("data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n" +
		"data: {\"error\":{\"message\":\"overloaded\"}}\n")
	ReadEventStream(context.Background(), body, "m", out)
	close(out)

	var frames []llm.StreamResponse
	for f := range out {
		frames = append(frames, f)
	}
	require.Len(t, frames, 2)
	assert.Equal(t, "a", frames[0].Text)
	assert.EqualError(t, frames[1].Err, "overloaded")
}

func TestReadEventStreamTruncatedWithoutDone(t *testing.T) {
	out := make(chan llm.StreamResponse, 4)
	body := strings.NewReader("data: {\"choices\":[{\"delta\":{\"content\":\"半句\"}}]}\n\n")
	ReadEventStream(context.Background(), body, "m", out)
	close(out)

	var frames []llm.StreamResponse
	for f := range out {
		frames = append(frames, f)
	}
	require.Len(t, frames, 2)
	assert.Equal(t, "半句", frames[0].Text)
	assert.True(t, frames[1].Done)
	assert.ErrorIs(t, frames[1].Err, llm.ErrStreamTruncated)
}

func TestPresetsRegistered(t *testing.T) {
	names := llm.ListProviders()
	for _, name := range []string{"openai", "openrouter", "qwen", "glm", "grok", "githubmodels"} {
		assert.Contains(t, names, name)
	}

	_, err := llm.GetProvider("openrouter", map[string]string{})
	assert.Error(t, err, "缺少密钥应初始化失败")
}
