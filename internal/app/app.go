// internal/app/app.go
package app

import (
	"sync"

	"github.com/Corphon/AdaptBrain/internal/models"
)

// ContextHandler 当前获得焦点的编辑区域，对话助手通过它读写正文
type ContextHandler interface {
	Name() string
	Read() string
	Write(text string)
}

// FuncHandler 用函数拼装 ContextHandler
type FuncHandler struct {
	Label   string
	ReadFn  func() string
	WriteFn func(string)
}

func (h FuncHandler) Name() string { return h.Label }

func (h FuncHandler) Read() string {
	if h.ReadFn == nil {
		return ""
	}
	return h.ReadFn()
}

func (h FuncHandler) Write(text string) {
	if h.WriteFn != nil {
		h.WriteFn(text)
	}
}

// StepListener 步骤变化回调
type StepListener func(from, to models.AppStep)

// State 应用的根状态：当前步骤、活动项目和编辑上下文。
// 由唯一的根控制器持有，叶子组件通过方法修改，不直接访问字段。
type State struct {
	mu              sync.RWMutex
	step            models.AppStep
	activeProjectID string
	handler         ContextHandler
	listeners       []StepListener
}

// NewState 初始处于项目中心
func NewState() *State {
	return &State{step: models.StepProjectHub}
}

// Snapshot 对外展示的状态
type Snapshot struct {
	Step            models.AppStep `json:"step"`
	Title           string         `json:"title"`
	ActiveProjectID string         `json:"active_project_id,omitempty"`
	ContextName     string         `json:"context_name,omitempty"`
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Step:            s.step,
		Title:           s.step.Title(),
		ActiveProjectID: s.activeProjectID,
	}
	if s.handler != nil {
		snap.ContextName = s.handler.Name()
	}
	return snap
}

// OnStepChange 注册步骤变化监听
func (s *State) OnStepChange(l StepListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *State) Step() models.AppStep {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.step
}

// NavigateTo 切换步骤；离开当前页面时清除编辑上下文
func (s *State) NavigateTo(step models.AppStep) {
	s.mu.Lock()
	from := s.step
	if from == step {
		s.mu.Unlock()
		return
	}
	s.step = step
	s.handler = nil
	listeners := append([]StepListener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l(from, step)
	}
}

// Back 返回上一级
func (s *State) Back() models.AppStep {
	s.mu.RLock()
	cur := s.step
	s.mu.RUnlock()

	var target models.AppStep
	switch cur {
	case models.StepProjectHub, models.StepKnowledgeBase:
		s.ClearContext()
		return cur
	case models.StepWorkflowSelect:
		target = models.StepKnowledgeBase
	default:
		target = models.StepWorkflowSelect
	}
	s.NavigateTo(target)
	return target
}

// ActiveProjectID 当前打开的项目
func (s *State) ActiveProjectID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeProjectID
}

func (s *State) SetActiveProject(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeProjectID = id
}

// RegisterContext 整体替换当前编辑上下文
func (s *State) RegisterContext(h ContextHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

func (s *State) ClearContext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = nil
}

// Context 当前编辑上下文，没有时返回 nil
func (s *State) Context() ContextHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handler
}
