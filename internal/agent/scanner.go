// internal/agent/scanner.go
package agent

import (
	"regexp"
	"strings"

	"github.com/Corphon/AdaptBrain/internal/models"
)

// commandPattern 带内导航指令，例如 [[CMD:SCRIPT_GENERATOR]]
var commandPattern = regexp.MustCompile(`\[\[CMD:([A-Z_]+)\]\]`)

// Navigator 由界面外壳提供的导航能力
type Navigator interface {
	NavigateTo(step models.AppStep)
}

// NavigatorFunc 函数适配
type NavigatorFunc func(step models.AppStep)

func (f NavigatorFunc) NavigateTo(step models.AppStep) { f(step) }

// Scanner 在流式响应中识别导航指令。
// 每个回复只触发一次导航，之后出现的指令只做剔除。
type Scanner struct {
	buf     strings.Builder
	matched bool
	target  string
	step    models.AppStep
	known   bool
	nav     Navigator
}

// NewScanner nav 可以为 nil，此时只剔除指令不导航
func NewScanner(nav Navigator) *Scanner {
	return &Scanner{nav: nav}
}

// Feed 追加一个片段，返回去掉指令后的完整显示文本
func (s *Scanner) Feed(chunk string) string {
	s.buf.WriteString(chunk)
	text := s.buf.String()

	if !s.matched {
		if m := commandPattern.FindStringSubmatch(text); m != nil {
			s.matched = true
			s.target = m[1]
			s.step, s.known = models.LookupStep(m[1])
			if s.known && s.nav != nil {
				s.nav.NavigateTo(s.step)
			}
		}
	}
	return s.display(text)
}

func (s *Scanner) display(text string) string {
	if !s.matched {
		return text
	}
	return commandPattern.ReplaceAllString(text, "")
}

// Text 当前的显示文本
func (s *Scanner) Text() string {
	return s.display(s.buf.String())
}

// Raw 未处理的累计文本
func (s *Scanner) Raw() string {
	return s.buf.String()
}

// Matched 是否已识别到指令（无论目标是否有效）
func (s *Scanner) Matched() bool {
	return s.matched
}

// Target 第一个指令的原始目标名
func (s *Scanner) Target() string {
	return s.target
}

// Step 解析后的目标步骤；目标未知时 ok 为 false
func (s *Scanner) Step() (models.AppStep, bool) {
	return s.step, s.known
}
