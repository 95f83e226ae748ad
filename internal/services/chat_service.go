// internal/services/chat_service.go
package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/AdaptBrain/internal/agent"
	"github.com/Corphon/AdaptBrain/internal/app"
	apperrors "github.com/Corphon/AdaptBrain/internal/errors"
	"github.com/Corphon/AdaptBrain/internal/llm"
	"github.com/Corphon/AdaptBrain/internal/models"
	"github.com/Corphon/AdaptBrain/internal/utils"
)

const (
	ChatGreeting         = "你好！我是你的创作助手。我可以帮你修改大纲、润色剧本或提供灵感。"
	ChatDisconnectedText = "抱歉，连接断开了，请重试。"
)

// ChatStreamer 流式对话能力，由 GatewayService 实现
type ChatStreamer interface {
	StreamChat(ctx context.Context, turn ChatTurn, commandInstruction string) (<-chan llm.StreamResponse, error)
}

// ChatUpdate 流式过程中推送给调用方的增量
type ChatUpdate struct {
	Message  models.ChatMessage `json:"message"`
	Done     bool               `json:"done"`
	Navigate models.AppStep     `json:"navigate,omitempty"`
}

// ChatService 侧边对话：会话记录只保存在内存中
type ChatService struct {
	mu       sync.Mutex
	messages []models.ChatMessage
	sending  bool

	streamer ChatStreamer
	state    *app.State
	progress *ProgressService
}

func NewChatService(streamer ChatStreamer, state *app.State, progress *ProgressService) *ChatService {
	s := &ChatService{streamer: streamer, state: state, progress: progress}
	s.Clear()
	return s
}

func newChatMessage(role models.ChatRole, text string) models.ChatMessage {
	return models.ChatMessage{
		ID:        utils.NewSortableID(),
		Role:      role,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

// Clear 清空会话，只保留问候语
func (s *ChatService) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = []models.ChatMessage{newChatMessage(models.RoleAssistant, ChatGreeting)}
}

// Messages 会话记录副本
func (s *ChatService) Messages() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatMessage(nil), s.messages...)
}

func (s *ChatService) setMessage(msg models.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == msg.ID {
			s.messages[i] = msg
			return
		}
	}
}

// Send 发送一条消息并流式接收回复。回复中的导航指令最多生效一次。
func (s *ChatService) Send(ctx context.Context, text string, onUpdate func(ChatUpdate)) (models.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.ChatMessage{}, apperrors.NewValidationError("消息不能为空", nil)
	}
	if onUpdate == nil {
		onUpdate = func(ChatUpdate) {}
	}

	s.mu.Lock()
	if s.sending {
		s.mu.Unlock()
		return models.ChatMessage{}, apperrors.NewBusyError("上一条消息仍在回复中")
	}
	s.sending = true
	history := append([]models.ChatMessage(nil), s.messages...)
	user := newChatMessage(models.RoleUser, text)
	reply := newChatMessage(models.RoleAssistant, "")
	reply.IsStreaming = true
	s.messages = append(s.messages, user, reply)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.sending = false
		s.mu.Unlock()
	}()

	turn := ChatTurn{History: history, Message: text}
	if h := s.state.Context(); h != nil {
		turn.ContextName = h.Name()
		turn.ContextText = h.Read()
	}

	scanner := agent.NewScanner(agent.NavigatorFunc(func(step models.AppStep) {
		s.state.NavigateTo(step)
		s.progress.Publish(ProgressEvent{Type: EventNavigate, Data: step, Message: step.Title()})
		onUpdate(ChatUpdate{Message: reply, Navigate: step})
		utils.GetLogger().Info("对话指令触发导航", map[string]interface{}{"step": step})
	}))

	failed := false
	stream, err := s.streamer.StreamChat(ctx, turn, agent.Instruction())
	if err != nil {
		failed = true
		utils.GetLogger().Error("对话请求失败", map[string]interface{}{"error": err})
	} else {
		for frame := range stream {
			if frame.Err != nil {
				failed = true
				utils.GetLogger().Error("对话流中断", map[string]interface{}{"error": frame.Err})
				continue
			}
			if frame.Text == "" {
				continue
			}
			reply.Text = scanner.Feed(frame.Text)
			s.setMessage(reply)
			onUpdate(ChatUpdate{Message: reply})
		}
		if ctx.Err() != nil {
			failed = true
		}
	}

	if failed {
		reply.Text = ChatDisconnectedText
	}
	reply.IsStreaming = false
	s.setMessage(reply)
	onUpdate(ChatUpdate{Message: reply, Done: true})

	if failed {
		return reply, apperrors.NewUpstreamError(ChatDisconnectedText, err)
	}
	return reply, nil
}

// ApplyToContext 将助手回复写入当前编辑区域，返回该区域名称
func (s *ChatService) ApplyToContext(messageID string) (string, error) {
	s.mu.Lock()
	var msg *models.ChatMessage
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			m := s.messages[i]
			msg = &m
			break
		}
	}
	s.mu.Unlock()

	if msg == nil {
		return "", apperrors.NewNotFoundError("消息不存在: "+messageID, nil)
	}
	if msg.Role != models.RoleAssistant || msg.IsStreaming {
		return "", apperrors.NewValidationError("只能应用已完成的助手回复", nil)
	}

	h := s.state.Context()
	if h == nil {
		return "", apperrors.NewPreconditionError("当前没有可应用修改的编辑区域")
	}
	h.Write(msg.Text)
	utils.GetLogger().Info("已应用助手回复", map[string]interface{}{"context": h.Name(), "message_id": messageID})
	return h.Name(), nil
}
