// internal/llm/llmtest/fake.go
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/Corphon/AdaptBrain/internal/llm"
)

// ErrScripted 默认的失败错误
var ErrScripted = errors.New("scripted failure")

// Reply 一次调用的预设结果
type Reply struct {
	Text   string
	Chunks []string
	Err    error
	// StreamErr 在输出全部 Chunks 后中断流
	StreamErr error
	// Block 非空时调用会等待该通道关闭
	Block chan struct{}
}

// Provider 按顺序返回预设结果，并记录每次请求
type Provider struct {
	mu       sync.Mutex
	replies  []Reply
	requests []llm.CompletionRequest
}

func New(replies ...Reply) *Provider {
	return &Provider{replies: replies}
}

// Push 追加预设结果
func (p *Provider) Push(replies ...Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, replies...)
}

// Requests 返回已记录的请求
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.CompletionRequest(nil), p.requests...)
}

// Last 最近一次请求
func (p *Provider) Last() llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return llm.CompletionRequest{}
	}
	return p.requests[len(p.requests)-1]
}

func (p *Provider) next(req llm.CompletionRequest) Reply {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.replies) == 0 {
		return Reply{Err: ErrScripted}
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	return r
}

func (p *Provider) Initialize(map[string]string) error { return nil }
func (p *Provider) GetName() string                    { return "fake" }
func (p *Provider) GetSupportedModels() []string       { return []string{"fake-fast", "fake-pro"} }

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	r := p.next(req)
	if r.Block != nil {
		select {
		case <-r.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return &llm.CompletionResponse{
		Text:         r.Text,
		TokensUsed:   len([]rune(r.Text)),
		ModelName:    req.Model,
		ProviderName: "fake",
	}, nil
}

func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	r := p.next(req)
	if r.Err != nil {
		return nil, r.Err
	}

	ch := make(chan llm.StreamResponse)
	go func() {
		defer close(ch)
		for _, c := range r.Chunks {
			select {
			case ch <- llm.StreamResponse{Text: c}:
			case <-ctx.Done():
				return
			}
		}
		final := llm.StreamResponse{Done: true, FinishReason: "stop"}
		if r.StreamErr != nil {
			final = llm.StreamResponse{Done: true, FinishReason: "error", Err: r.StreamErr}
		}
		select {
		case ch <- final:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}
