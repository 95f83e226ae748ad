// internal/llm/interface.go
package llm

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// 错误定义
var (
	ErrUnknownProvider = errors.New("未知的AI提供者")
	ErrEmptyResponse   = errors.New("模型未返回任何结果")
	ErrStreamTruncated = errors.New("流式响应未收到结束标记即中断")
)

// 消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 对话中的一条消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest 请求参数标准化
type CompletionRequest struct {
	Messages     []Message              `json:"messages"`
	SystemPrompt string                 `json:"system_prompt,omitempty"`
	MaxTokens    int                    `json:"max_tokens,omitempty"`
	Temperature  float32                `json:"temperature,omitempty"`
	Model        string                 `json:"model,omitempty"`
	JSONResponse bool                   `json:"json_response,omitempty"` // 要求模型只输出 JSON
	ExtraParams  map[string]interface{} `json:"extra_params,omitempty"`
}

// UserPrompt 构造单轮请求
func UserPrompt(prompt string) []Message {
	return []Message{{Role: RoleUser, Content: prompt}}
}

// CompletionResponse 响应结构标准化
type CompletionResponse struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
	TokensUsed   int    `json:"tokens_used,omitempty"`
	PromptTokens int    `json:"prompt_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	ModelName    string `json:"model_name,omitempty"`
	ProviderName string `json:"provider_name,omitempty"`
}

// StreamResponse 流式响应的一帧；Err 非空表示流异常中断
type StreamResponse struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
	ModelName    string `json:"model_name,omitempty"`
	Done         bool   `json:"done"`
	Err          error  `json:"-"`
}

// Provider 定义所有LLM提供者必须实现的接口
type Provider interface {
	// 初始化提供者，传入配置
	Initialize(config map[string]string) error

	// 获取提供者名称
	GetName() string

	// 获取支持的模型列表
	GetSupportedModels() []string

	// 文本生成
	CompleteText(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// 流式响应生成，通道按顺序输出文本片段，结束时关闭
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan StreamResponse, error)
}

// ProviderFactory 提供者工厂
type ProviderFactory func() Provider

var (
	providersMu sync.RWMutex
	providers   = make(map[string]ProviderFactory)
)

// Register 注册提供者工厂
func Register(name string, factory ProviderFactory) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[name] = factory
}

// GetProvider 创建并初始化指定名称的提供者实例
func GetProvider(name string, config map[string]string) (Provider, error) {
	providersMu.RLock()
	factory, exists := providers[name]
	providersMu.RUnlock()
	if !exists {
		return nil, errors.Join(ErrUnknownProvider, errors.New(name))
	}

	provider := factory()
	if err := provider.Initialize(config); err != nil {
		return nil, err
	}
	return provider, nil
}

// ListProviders 返回所有已注册的提供者名称
func ListProviders() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetSupportedModelsForProvider 获取指定提供商支持的模型列表
func GetSupportedModelsForProvider(name string) []string {
	providersMu.RLock()
	factory, exists := providers[name]
	providersMu.RUnlock()
	if !exists {
		return []string{}
	}
	return factory().GetSupportedModels()
}
