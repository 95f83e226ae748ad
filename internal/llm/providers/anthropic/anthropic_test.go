package anthropic

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

func newTestProvider(t *testing.T, url string) llm.Provider {
	t.Helper()
	p, err := llm.GetProvider("anthropic", map[string]string{"api_key": "ak", "base_url": url + "/"})
	require.NoError(t, err)
	return p
}

func TestCompleteTextLiftsSystemPrompt(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak", r.Header.Get("X-Api-Key"))
		assert.Equal(t, defaultAPIVersion, r.Header.Get("Anthropic-Version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"model":"claude-x","stop_reason":"end_turn","content":[{"type":"text","text":"你好"}],"usage":{"input_tokens":3,"output_tokens":4}}`)
	}))
	defer srv.Close()

	resp, err := newTestProvider(t, srv.URL).CompleteText(context.Background(), llm.CompletionRequest{
		SystemPrompt: "sys",
		Messages:     llm.UserPrompt("hi"),
		JSONResponse: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "你好", resp.Text)
	assert.Equal(t, 7, resp.TokensUsed)
	assert.Equal(t, "claude-x", resp.ModelName)

	assert.True(t, strings.HasPrefix(got["system"].(string), "sys"))
	assert.Contains(t, got["system"], "JSON")
	assert.EqualValues(t, defaultMaxTokens, got["max_tokens"])
	msgs := got["messages"].([]interface{})
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].(map[string]interface{})["role"])
}

func TestCompleteTextHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", 529)
	}))
	defer srv.Close()

	_, err := newTestProvider(t, srv.URL).CompleteText(context.Background(), llm.CompletionRequest{Messages: llm.UserPrompt("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "529")
}

func TestStreamCompletionDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\"}\n\n")
		for _, piece := range []string{"第一", "[[CMD:SEASON_", "PLANNER]]"} {
			fmt.Fprintf(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":%q}}\n\n", piece)
		}
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	stream, err := newTestProvider(t, srv.URL).StreamCompletion(context.Background(), llm.CompletionRequest{Messages: llm.UserPrompt("x")})
	require.NoError(t, err)

	var text strings.Builder
	done := false
	for frame := range stream {
		require.NoError(t, frame.Err)
		text.WriteString(frame.Text)
		done = done || frame.Done
	}
	assert.Equal(t, "第一[[CMD:SEASON_PLANNER]]", text.String())
	assert.True(t, done)
}

func TestStreamCompletionErrorFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"半\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"error\",\"error\":{\"message\":\"overloaded\"}}\n\n")
	}))
	defer srv.Close()

	stream, err := newTestProvider(t, srv.URL).StreamCompletion(context.Background(), llm.CompletionRequest{Messages: llm.UserPrompt("x")})
	require.NoError(t, err)

	var last llm.StreamResponse
	for frame := range stream {
		last = frame
	}
	require.Error(t, last.Err)
	assert.Equal(t, "overloaded", last.Err.Error())
}

func TestStreamCompletionTruncatedWithoutStop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"半\"}}\n\n")
	}))
	defer srv.Close()

	stream, err := newTestProvider(t, srv.URL).StreamCompletion(context.Background(), llm.CompletionRequest{Messages: llm.UserPrompt("x")})
	require.NoError(t, err)

	var text strings.Builder
	var last llm.StreamResponse
	for frame := range stream {
		text.WriteString(frame.Text)
		last = frame
	}
	assert.Equal(t, "半", text.String())
	assert.True(t, last.Done)
	assert.ErrorIs(t, last.Err, llm.ErrStreamTruncated)
}
