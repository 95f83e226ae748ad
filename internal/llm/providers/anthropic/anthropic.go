// internal/llm/providers/anthropic/anthropic.go
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Corphon/AdaptBrain/internal/llm"
)

const (
	defaultBaseURL    = "https://api.anthropic.com"
	defaultAPIVersion = "2023-06-01"
	defaultMaxTokens  = 8192
)

func init() {
	llm.Register("anthropic", func() llm.Provider {
		return &Provider{
			recommendedModels: []string{
				"claude-sonnet-4-5",
				"claude-haiku-4-5",
				"claude-opus-4-1",
			},
			baseURL:    defaultBaseURL,
			apiVersion: defaultAPIVersion,
		}
	})
}

// Provider Anthropic Messages API 客户端
type Provider struct {
	apiKey            string
	baseURL           string
	apiVersion        string
	client            *http.Client
	defaultModel      string
	recommendedModels []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := config["api_key"]
	if apiKey == "" {
		return errors.New("anthropic api密钥未提供")
	}

	p.apiKey = apiKey
	p.client = &http.Client{Timeout: 10 * time.Minute}

	p.defaultModel = "claude-sonnet-4-5"
	if model := config["default_model"]; model != "" {
		p.defaultModel = model
	}
	if baseURL := config["base_url"]; baseURL != "" {
		p.baseURL = baseURL
	}
	p.baseURL = strings.TrimRight(p.baseURL, "/")
	if apiVersion := config["api_version"]; apiVersion != "" {
		p.apiVersion = apiVersion
	}
	return nil
}

func (p *Provider) GetName() string {
	return "Anthropic Claude"
}

func (p *Provider) GetSupportedModels() []string {
	return append([]string(nil), p.recommendedModels...)
}

// messagesRequest 线上请求体；system 不属于消息列表
type messagesRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []llm.Message `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float32       `json:"temperature"`
	Stream      bool          `json:"stream,omitempty"`
}

func (p *Provider) newRequest(ctx context.Context, req llm.CompletionRequest, stream bool) (*http.Request, string, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	system := req.SystemPrompt
	if req.JSONResponse {
		system = strings.TrimSpace(system + "\n只输出JSON，不要输出任何解释文字。")
	}

	// 历史中的 system 消息并入 system 字段
	messages := make([]llm.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			system = strings.TrimSpace(system + "\n" + m.Content)
			continue
		}
		messages = append(messages, m)
	}

	body, err := json.Marshal(messagesRequest{
		Model:       model,
		System:      system,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", p.apiKey)
	httpReq.Header.Set("Anthropic-Version", p.apiVersion)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	return httpReq, model, nil
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	httpReq, model, err := p.newRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("anthropic api错误(%d): %s", httpResp.StatusCode, string(body))
	}

	var response struct {
		Model      string `json:"model"`
		StopReason string `json:"stop_reason"`
		Content    []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("解析Anthropic响应失败: %w", err)
	}

	var text strings.Builder
	for _, content := range response.Content {
		if content.Type == "text" {
			text.WriteString(content.Text)
		}
	}
	if text.Len() == 0 {
		return nil, llm.ErrEmptyResponse
	}
	if response.Model != "" {
		model = response.Model
	}

	return &llm.CompletionResponse{
		Text:         text.String(),
		FinishReason: response.StopReason,
		TokensUsed:   response.Usage.InputTokens + response.Usage.OutputTokens,
		PromptTokens: response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
		ModelName:    model,
		ProviderName: p.GetName(),
	}, nil
}

// StreamCompletion 实现流式响应
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	httpReq, model, err := p.newRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		httpResp.Body.Close()
		return nil, fmt.Errorf("anthropic api错误(%d): %s", httpResp.StatusCode, string(body))
	}

	respChan := make(chan llm.StreamResponse)
	go func() {
		defer httpResp.Body.Close()
		defer close(respChan)
		readEvents(ctx, httpResp.Body, model, respChan)
	}()
	return respChan, nil
}

// readEvents 解析 content_block_delta 帧，直到 message_stop；提前 EOF 视为中断
func readEvents(ctx context.Context, body io.Reader, model string, out chan<- llm.StreamResponse) {
	send := func(r llm.StreamResponse) bool {
		select {
		case out <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}

	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				err = llm.ErrStreamTruncated
			}
			send(llm.StreamResponse{FinishReason: "error", Done: true, Err: err})
			return
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var frame struct {
			Type  string `json:"type"`
			Delta struct {
				Type       string `json:"type"`
				Text       string `json:"text"`
				StopReason string `json:"stop_reason"`
			} `json:"delta"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(line), &frame); err != nil {
			continue
		}

		switch frame.Type {
		case "content_block_delta":
			if frame.Delta.Text != "" {
				if !send(llm.StreamResponse{Text: frame.Delta.Text, ModelName: model}) {
					return
				}
			}
		case "message_stop":
			send(llm.StreamResponse{FinishReason: "stop", ModelName: model, Done: true})
			return
		case "error":
			msg := "anthropic stream error"
			if frame.Error != nil {
				msg = frame.Error.Message
			}
			send(llm.StreamResponse{FinishReason: "error", Done: true, Err: errors.New(msg)})
			return
		}
	}
}
