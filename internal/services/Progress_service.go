// internal/services/Progress_service.go
package services

import (
	"fmt"
	"sync"
	"time"
)

// 事件类型
const (
	EventGenerationStarted   = "generation.started"
	EventGenerationCompleted = "generation.completed"
	EventGenerationFailed    = "generation.failed"
	EventNavigate            = "navigate"
)

// ProgressEvent 推送给订阅者的事件
type ProgressEvent struct {
	Type      string      `json:"type"`
	TaskID    string      `json:"task_id,omitempty"`
	Status    string      `json:"status,omitempty"` // running, completed, failed
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ProgressTracker 跟踪一次长时间运行的任务
type ProgressTracker struct {
	TaskID    string
	Kind      string
	Status    string
	Message   string
	StartTime time.Time
	Done      chan struct{}

	service *ProgressService
	mutex   sync.Mutex
}

// ProgressService 任务进度与事件广播
type ProgressService struct {
	trackers    map[string]*ProgressTracker
	subscribers map[chan ProgressEvent]struct{}
	mutex       sync.RWMutex
}

// NewProgressService 创建进度服务实例
func NewProgressService() *ProgressService {
	return &ProgressService{
		trackers:    make(map[string]*ProgressTracker),
		subscribers: make(map[chan ProgressEvent]struct{}),
	}
}

// Publish 广播事件；订阅者缓冲区满时丢弃该事件
func (s *ProgressService) Publish(evt ProgressEvent) {
	if s == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	for ch := range s.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribe 订阅全部事件，返回取消函数
func (s *ProgressService) Subscribe() (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, 32)

	s.mutex.Lock()
	s.subscribers[ch] = struct{}{}
	s.mutex.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mutex.Lock()
			delete(s.subscribers, ch)
			s.mutex.Unlock()
			close(ch)
		})
	}
}

// StartTask 创建跟踪器并广播开始事件
func (s *ProgressService) StartTask(taskID, kind, message string, data interface{}) *ProgressTracker {
	tracker := &ProgressTracker{
		TaskID:    taskID,
		Kind:      kind,
		Status:    "running",
		Message:   message,
		StartTime: time.Now(),
		Done:      make(chan struct{}),
		service:   s,
	}
	if s == nil {
		return tracker
	}

	s.mutex.Lock()
	s.trackers[taskID] = tracker
	s.mutex.Unlock()

	s.Publish(ProgressEvent{Type: EventGenerationStarted, TaskID: taskID, Status: "running", Message: message, Data: data})
	return tracker
}

// GetTracker 获取进度跟踪器
func (s *ProgressService) GetTracker(taskID string) (*ProgressTracker, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	tracker, exists := s.trackers[taskID]
	return tracker, exists
}

func (t *ProgressTracker) finish(status, evtType, message string, data interface{}) {
	t.mutex.Lock()
	if t.Status != "running" {
		t.mutex.Unlock()
		return
	}
	t.Status = status
	t.Message = message
	close(t.Done)
	t.mutex.Unlock()

	t.service.Publish(ProgressEvent{Type: evtType, TaskID: t.TaskID, Status: status, Message: message, Data: data})
}

// Complete 标记任务完成
func (t *ProgressTracker) Complete(message string, data interface{}) {
	if message == "" {
		message = "任务已完成"
	}
	t.finish("completed", EventGenerationCompleted, message, data)
}

// Fail 标记任务失败
func (t *ProgressTracker) Fail(errorMsg string, data interface{}) {
	t.finish("failed", EventGenerationFailed, fmt.Sprintf("任务失败: %s", errorMsg), data)
}

// CleanupCompletedTasks 清理已完成的任务
func (s *ProgressService) CleanupCompletedTasks(maxAge time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now()
	for id, tracker := range s.trackers {
		tracker.mutex.Lock()
		isCompleted := tracker.Status == "completed" || tracker.Status == "failed"
		isOld := now.Sub(tracker.StartTime) > maxAge
		tracker.mutex.Unlock()

		if isCompleted && isOld {
			delete(s.trackers, id)
		}
	}
}

// TaskStatus 任务状态快照
type TaskStatus struct {
	TaskID    string    `json:"task_id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	StartTime time.Time `json:"start_time"`
}

// Snapshot 当前状态
func (t *ProgressTracker) Snapshot() TaskStatus {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return TaskStatus{
		TaskID:    t.TaskID,
		Kind:      t.Kind,
		Status:    t.Status,
		Message:   t.Message,
		StartTime: t.StartTime,
	}
}
