// internal/prompts/prompts.go
package prompts

import (
	"bytes"
	_ "embed"
	"fmt"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"gopkg.in/yaml.v3"

	"github.com/Corphon/AdaptBrain/internal/models"
	"github.com/Corphon/AdaptBrain/internal/utils"
)

//go:embed prompts.yaml
var catalogueYAML []byte

// 模板名称
const (
	AnalyzeFocus      = "analyze_focus"
	SeasonPlan        = "season_plan"
	Segment           = "segment"
	ExtractCharacters = "extract_characters"
	PlotSummary       = "plot_summary"
	ChatContext       = "chat_context"
)

// Catalogue 系统指令与提示词模板
type Catalogue struct {
	System struct {
		Base        string `yaml:"base"`
		Male        string `yaml:"male"`
		Female      string `yaml:"female"`
		Architect   string `yaml:"architect"`
		PlotSummary string `yaml:"plot_summary"`
		Chat        string `yaml:"chat"`
	} `yaml:"system"`
	Templates map[string]string `yaml:"templates"`

	compiled map[string]*template.Template
}

var (
	defaultCatalogue *Catalogue
	loadOnce         sync.Once
	loadErr          error
)

// Default 返回内置目录，首次调用时解析
func Default() (*Catalogue, error) {
	loadOnce.Do(func() {
		defaultCatalogue, loadErr = Parse(catalogueYAML)
	})
	return defaultCatalogue, loadErr
}

// MustDefault 内置目录解析失败属于构建错误
func MustDefault() *Catalogue {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// Parse 解析 YAML 并编译全部模板
func Parse(data []byte) (*Catalogue, error) {
	var c Catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("解析提示词目录失败: %w", err)
	}

	funcs := sprig.TxtFuncMap()
	// clip 按字符截取前缀，sprig 的 trunc 按字节截取会切断中文
	funcs["clip"] = func(s string, n int) string { return utils.TruncateRunes(s, n) }

	c.compiled = make(map[string]*template.Template, len(c.Templates))
	for name, body := range c.Templates {
		tpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(body)
		if err != nil {
			return nil, fmt.Errorf("编译模板 %s 失败: %w", name, err)
		}
		c.compiled[name] = tpl
	}
	return &c, nil
}

// Render 渲染指定模板
func (c *Catalogue) Render(name string, data interface{}) (string, error) {
	tpl, ok := c.compiled[name]
	if !ok {
		return "", fmt.Errorf("提示词模板不存在: %s", name)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("渲染模板 %s 失败: %w", name, err)
	}
	return buf.String(), nil
}

// ModeInstruction 频段指令块
func (c *Catalogue) ModeInstruction(mode models.FrequencyMode) string {
	if mode == models.FrequencyMale {
		return c.System.Male
	}
	return c.System.Female
}

// ScriptSystem 脚本生成的系统指令：基础红线 + 频段指令
func (c *Catalogue) ScriptSystem(mode models.FrequencyMode) string {
	return c.System.Base + "\n" + c.ModeInstruction(mode)
}

// ArchitectSystem 季度规划的系统指令
func (c *Catalogue) ArchitectSystem(mode models.FrequencyMode) string {
	return c.System.Architect + "\n" + c.ModeInstruction(mode)
}
