// internal/api/websocket_handlers.go
package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	apperrors "github.com/Corphon/AdaptBrain/internal/errors"
	"github.com/Corphon/AdaptBrain/internal/services"
	"github.com/Corphon/AdaptBrain/internal/utils"
)

// ChatWebSocket 对话通道：接收 chat_message，推送 chat_chunk / chat_done / navigate / progress
func (h *Handler) ChatWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.GetLogger().Warn("WebSocket升级失败", map[string]interface{}{"error": err})
		return
	}

	// 连接断开时中止进行中的回复
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newWSClient(conn)
	h.Hub.register(client)
	defer h.Hub.unregister(client)
	go client.writePump()

	client.enqueue(wsMessage{Type: wsTypeHistory, Messages: h.Chat.Messages()})
	h.readLoop(ctx, client)
}

func (h *Handler) readLoop(ctx context.Context, client *wsClient) {
	conn := client.conn
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				utils.GetLogger().Warn("WebSocket读取失败", map[string]interface{}{"error": err})
			}
			return
		}

		switch in.Type {
		case wsTypeMessageIn:
			go h.streamChat(ctx, client, in.Message)
		case wsTypeClearIn:
			h.Chat.Clear()
			client.enqueue(wsMessage{Type: wsTypeHistory, Messages: h.Chat.Messages()})
		case wsTypePingIn:
			client.enqueue(wsMessage{Type: wsTypePong})
		default:
			client.enqueue(wsMessage{Type: wsTypeError, Code: ErrorBadRequest, Error: "未知的消息类型: " + in.Type})
		}
	}
}

// streamChat 把回复增量推给发起的连接；导航由 ChatHub 统一广播
func (h *Handler) streamChat(ctx context.Context, client *wsClient, text string) {
	_, err := h.Chat.Send(ctx, strings.TrimSpace(text), func(u services.ChatUpdate) {
		if u.Navigate != "" {
			return
		}
		msg := u.Message
		typ := wsTypeChunk
		if u.Done {
			typ = wsTypeDone
		}
		client.enqueue(wsMessage{Type: typ, Message: &msg})
	})
	if err == nil {
		return
	}

	_, code := statusForError(err)
	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	client.enqueue(wsMessage{Type: wsTypeError, Code: code, Error: message})
}
