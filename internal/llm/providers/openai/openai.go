// internal/llm/providers/openai/openai.go
package openai

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

// preset 兼容 /chat/completions 协议的服务商
type preset struct {
	displayName  string
	baseURL      string
	defaultModel string
	models       []string
}

var presets = map[string]preset{
	"openai": {
		displayName:  "OpenAI",
		baseURL:      "https://api.openai.com/v1",
		defaultModel: "gpt-4o",
		models:       []string{"gpt-4o", "gpt-4o-mini", "o3-mini"},
	},
	"openrouter": {
		displayName:  "OpenRouter",
		baseURL:      "https://openrouter.ai/api/v1",
		defaultModel: "google/gemini-2.5-flash",
		models:       []string{"google/gemini-2.5-flash", "google/gemini-2.5-pro", "qwen/qwen3-235b-a22b:free"},
	},
	"qwen": {
		displayName:  "Qwen",
		baseURL:      "https://dashscope.aliyuncs.com/compatible-mode/v1",
		defaultModel: "qwen-plus",
		models:       []string{"qwen-plus", "qwen-max", "qwen-long"},
	},
	"glm": {
		displayName:  "GLM",
		baseURL:      "https://open.bigmodel.cn/api/paas/v4",
		defaultModel: "glm-4",
		models:       []string{"glm-4", "glm-4-flash", "glm-4-long"},
	},
	"grok": {
		displayName:  "Grok",
		baseURL:      "https://api.x.ai/v1",
		defaultModel: "grok-3",
		models:       []string{"grok-3", "grok-3-mini"},
	},
	"githubmodels": {
		displayName:  "GitHub Models",
		baseURL:      "https://models.inference.ai.azure.com",
		defaultModel: "gpt-4o-mini",
		models:       []string{"gpt-4o", "gpt-4o-mini"},
	},
}

func init() {
	for name, ps := range presets {
		ps := ps
		llm.Register(name, func() llm.Provider {
			return &Provider{preset: ps, baseURL: ps.baseURL}
		})
	}
}

// Provider OpenAI 兼容的聊天补全客户端
type Provider struct {
	preset       preset
	apiKey       string
	baseURL      string
	client       *http.Client
	defaultModel string
	httpReferer  string
	appName      string
}

// New 直接构造，测试或自定义网关使用
func New(baseURL string, config map[string]string) (*Provider, error) {
	p := &Provider{preset: preset{displayName: "OpenAI-Compatible"}, baseURL: baseURL}
	if err := p.Initialize(config); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := config["api_key"]
	if apiKey == "" {
		return fmt.Errorf("%s API密钥未提供", p.GetName())
	}

	p.apiKey = apiKey
	p.client = &http.Client{Timeout: 10 * time.Minute}

	p.defaultModel = p.preset.defaultModel
	if model := config["default_model"]; model != "" {
		p.defaultModel = model
	}

	if baseURL := config["base_url"]; baseURL != "" {
		p.baseURL = baseURL
	}
	p.baseURL = strings.TrimRight(p.baseURL, "/")

	p.appName = config["app_name"]
	if p.appName == "" {
		p.appName = "AdaptBrain"
	}
	p.httpReferer = config["http_referer"]

	return nil
}

func (p *Provider) GetName() string {
	return p.preset.displayName
}

func (p *Provider) GetSupportedModels() []string {
	return append([]string(nil), p.preset.models...)
}

// chatRequest 线上请求体
type chatRequest struct {
	Model          string                 `json:"model"`
	Messages       []llm.Message          `json:"messages"`
	Temperature    float32                `json:"temperature"`
	MaxTokens      int                    `json:"max_tokens,omitempty"`
	Stream         bool                   `json:"stream,omitempty"`
	ResponseFormat map[string]string      `json:"response_format,omitempty"`
	extra          map[string]interface{}
}

func (p *Provider) buildBody(req llm.CompletionRequest, stream bool) ([]byte, string, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := make([]llm.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: req.SystemPrompt})
	}
	messages = append(messages, req.Messages...)

	body := chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
		extra:       req.ExtraParams,
	}
	if req.JSONResponse {
		body.ResponseFormat = map[string]string{"type": "json_object"}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, "", err
	}
	if len(body.extra) == 0 {
		return data, model, nil
	}

	// 额外参数并入顶层
	merged := map[string]interface{}{}
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, "", err
	}
	for k, v := range body.extra {
		merged[k] = v
	}
	data, err = json.Marshal(merged)
	return data, model, err
}

func (p *Provider) newRequest(ctx context.Context, body []byte, stream bool) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if p.httpReferer != "" {
		httpReq.Header.Set("HTTP-Referer", p.httpReferer)
	}
	httpReq.Header.Set("X-Title", p.appName)
	return httpReq, nil
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	body, model, err := p.buildBody(req, false)
	if err != nil {
		return nil, err
	}

	httpReq, err := p.newRequest(ctx, body, false)
	if err != nil {
		return nil, err
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("%s API错误(%d): %s", p.GetName(), httpResp.StatusCode, string(errBody))
	}

	var response struct {
		Choices []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
		Model string `json:"model"`
	}

	if err := json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("解析%s响应失败: %w", p.GetName(), err)
	}

	if len(response.Choices) == 0 {
		return nil, llm.ErrEmptyResponse
	}

	if response.Model != "" {
		model = response.Model
	}

	return &llm.CompletionResponse{
		Text:         response.Choices[0].Message.Content,
		FinishReason: response.Choices[0].FinishReason,
		TokensUsed:   response.Usage.TotalTokens,
		PromptTokens: response.Usage.PromptTokens,
		OutputTokens: response.Usage.CompletionTokens,
		ModelName:    model,
		ProviderName: p.GetName(),
	}, nil
}

// StreamCompletion 实现流式响应
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	body, model, err := p.buildBody(req, true)
	if err != nil {
		return nil, err
	}

	httpReq, err := p.newRequest(ctx, body, true)
	if err != nil {
		return nil, err
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		httpResp.Body.Close()
		return nil, fmt.Errorf("%s API错误(%d): %s", p.GetName(), httpResp.StatusCode, string(errBody))
	}

	respChan := make(chan llm.StreamResponse)

	go func() {
		defer httpResp.Body.Close()
		defer close(respChan)
		ReadEventStream(ctx, httpResp.Body, model, respChan)
	}()

	return respChan, nil
}

// ReadEventStream 解析 `data: <json>` 帧直到 [DONE]，按顺序写入 out；缺少 [DONE] 时以 ErrStreamTruncated 结束
func ReadEventStream(ctx context.Context, body io.Reader, model string, out chan<- llm.StreamResponse) {
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
				// 没有 [DONE] 的结束按连接中断处理
				err = llm.ErrStreamTruncated
			}
			send(llm.StreamResponse{FinishReason: "error", Done: true, Err: err})
			return
		}

		line = strings.TrimSpace(line)

		// 空行或注释
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		if line == "[DONE]" {
			send(llm.StreamResponse{FinishReason: "stop", ModelName: model, Done: true})
			return
		}

		var frame struct {
			Model   string `json:"model"`
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(line), &frame); err != nil {
			continue
		}
		if frame.Error != nil {
			send(llm.StreamResponse{FinishReason: "error", Done: true, Err: errors.New(frame.Error.Message)})
			return
		}
		if frame.Model != "" {
			model = frame.Model
		}
		if len(frame.Choices) == 0 {
			continue
		}
		if content := frame.Choices[0].Delta.Content; content != "" {
			if !send(llm.StreamResponse{Text: content, ModelName: model}) {
				return
			}
		}
	}
}
