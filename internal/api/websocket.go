// internal/api/websocket.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Corphon/AdaptBrain/internal/models"
	"github.com/Corphon/AdaptBrain/internal/services"
	"github.com/Corphon/AdaptBrain/internal/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// 推送给客户端的消息类型
const (
	wsTypeHistory   = "chat_history"
	wsTypeChunk     = "chat_chunk"
	wsTypeDone      = "chat_done"
	wsTypeNavigate  = "navigate"
	wsTypeProgress  = "progress"
	wsTypeError     = "error"
	wsTypePong      = "pong"
	wsTypeMessageIn = "chat_message"
	wsTypeClearIn   = "chat_clear"
	wsTypePingIn    = "ping"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 本地工作台，前端与服务同源或经由开发代理
		return true
	},
}

// wsMessage 服务端推送的消息
type wsMessage struct {
	Type      string                  `json:"type"`
	Message   *models.ChatMessage     `json:"message,omitempty"`
	Messages  []models.ChatMessage    `json:"messages,omitempty"`
	Step      models.AppStep          `json:"step,omitempty"`
	Title     string                  `json:"title,omitempty"`
	Event     *services.ProgressEvent `json:"event,omitempty"`
	Error     string                  `json:"error,omitempty"`
	Code      string                  `json:"code,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// wsInbound 客户端发来的消息
type wsInbound struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// wsClient 一个 WebSocket 连接
type wsClient struct {
	conn      *websocket.Conn
	send      chan []byte
	mu        sync.Mutex
	closed    bool
	createdAt time.Time
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		createdAt: time.Now(),
	}
}

// enqueue 序列化并放入发送队列；队列满或已关闭时丢弃
func (c *wsClient) enqueue(msg wsMessage) bool {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		utils.GetLogger().Error("序列化WebSocket消息失败", map[string]interface{}{"type": msg.Type, "error": err})
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		utils.GetLogger().Warn("WebSocket发送队列已满，消息被丢弃", map[string]interface{}{"type": msg.Type})
		return false
	}
}

// close 关闭发送队列，writePump 随之退出并关闭连接
func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ChatHub 管理全部对话连接，并把进度与导航事件广播给它们
type ChatHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	metrics *utils.MetricsCollector

	events      <-chan services.ProgressEvent
	unsubscribe func()
}

// NewChatHub 创建时即订阅，Run 之前发生的事件也会被转发
func NewChatHub(progress *services.ProgressService) *ChatHub {
	events, unsubscribe := progress.Subscribe()
	return &ChatHub{
		clients:     make(map[*wsClient]struct{}),
		metrics:     utils.GetMetricsCollector(),
		events:      events,
		unsubscribe: unsubscribe,
	}
}

// Run 转发进度事件直到 ctx 结束，然后关闭所有连接
func (h *ChatHub) Run(ctx context.Context) {
	defer h.unsubscribe()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case evt, ok := <-h.events:
			if !ok {
				return
			}
			h.broadcast(eventMessage(evt))
		}
	}
}

// eventMessage 导航事件单独成类，其余作为进度推送
func eventMessage(evt services.ProgressEvent) wsMessage {
	if evt.Type == services.EventNavigate {
		step, _ := evt.Data.(models.AppStep)
		return wsMessage{Type: wsTypeNavigate, Step: step, Title: step.Title(), Timestamp: evt.Timestamp}
	}
	return wsMessage{Type: wsTypeProgress, Event: &evt, Timestamp: evt.Timestamp}
}

func (h *ChatHub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.SocketOpened()
	utils.GetLogger().Info("WebSocket客户端已连接", map[string]interface{}{"clients": h.Count()})
}

func (h *ChatHub) unregister(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	c.close()
	if ok {
		h.metrics.SocketClosed()
		utils.GetLogger().Info("WebSocket客户端已断开", map[string]interface{}{
			"clients":  h.Count(),
			"duration": time.Since(c.createdAt).String(),
		})
	}
}

func (h *ChatHub) broadcast(msg wsMessage) {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(msg)
	}
}

// Count 当前连接数
func (h *ChatHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *ChatHub) shutdown() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
		h.metrics.SocketClosed()
	}
	utils.GetLogger().Info("WebSocket管理器已关闭", map[string]interface{}{"closed": len(clients)})
}
