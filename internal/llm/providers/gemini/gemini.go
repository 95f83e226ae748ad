// internal/llm/providers/gemini/gemini.go
package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/Corphon/AdaptBrain/internal/llm"
)

func init() {
	llm.Register("gemini", func() llm.Provider {
		return &Provider{
			models: []string{
				"gemini-3-pro-preview",
				"gemini-3-flash-preview",
				"gemini-2.5-pro",
				"gemini-2.5-flash",
			},
		}
	})
}

// Provider 通过 genai SDK 调用 Gemini
type Provider struct {
	client       *genai.Client
	defaultModel string
	models       []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := config["api_key"]
	if apiKey == "" {
		return errors.New("Gemini API密钥未提供")
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL := config["base_url"]; baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return fmt.Errorf("创建Gemini客户端失败: %w", err)
	}
	p.client = client

	p.defaultModel = "gemini-3-flash-preview"
	if model := config["default_model"]; model != "" {
		p.defaultModel = model
	}
	return nil
}

func (p *Provider) GetName() string {
	return "Gemini"
}

func (p *Provider) GetSupportedModels() []string {
	return append([]string(nil), p.models...)
}

// toContents 将通用消息转换为 genai 内容，assistant 对应 model 角色
func toContents(messages []llm.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == llm.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return contents
}

func (p *Provider) prepare(req llm.CompletionRequest) (string, []*genai.Content, *genai.GenerateContentConfig) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSONResponse {
		cfg.ResponseMIMEType = "application/json"
	}
	return model, toContents(req.Messages), cfg
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if p.client == nil {
		return nil, errors.New("Gemini客户端未初始化")
	}
	model, contents, cfg := p.prepare(req)

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("Gemini API错误: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, llm.ErrEmptyResponse
	}

	out := &llm.CompletionResponse{
		Text:         resp.Text(),
		FinishReason: string(resp.Candidates[0].FinishReason),
		ModelName:    model,
		ProviderName: p.GetName(),
	}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

// StreamCompletion 实现流式响应
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	if p.client == nil {
		return nil, errors.New("Gemini客户端未初始化")
	}
	model, contents, cfg := p.prepare(req)

	respChan := make(chan llm.StreamResponse)
	go func() {
		defer close(respChan)

		send := func(r llm.StreamResponse) bool {
			select {
			case respChan <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for chunk, err := range p.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
			if err != nil {
				send(llm.StreamResponse{FinishReason: "error", Done: true, Err: err})
				return
			}
			if text := chunk.Text(); text != "" {
				if !send(llm.StreamResponse{Text: text, ModelName: model}) {
					return
				}
			}
		}
		send(llm.StreamResponse{FinishReason: "stop", ModelName: model, Done: true})
	}()

	return respChan, nil
}
