// internal/models/step.go
package models

// AppStep 界面步骤
type AppStep string

const (
	StepProjectHub       AppStep = "PROJECT_HUB"
	StepKnowledgeBase    AppStep = "KNOWLEDGE_BASE"
	StepWorkflowSelect   AppStep = "WORKFLOW_SELECT"
	StepSeasonPlanner    AppStep = "SEASON_PLANNER"
	StepScriptGenerator  AppStep = "SCRIPT_GENERATOR"
	StepOutlineGenerator AppStep = "OUTLINE_GENERATOR"
)

// AllSteps 全部可导航步骤
var AllSteps = []AppStep{
	StepProjectHub,
	StepKnowledgeBase,
	StepWorkflowSelect,
	StepSeasonPlanner,
	StepScriptGenerator,
	StepOutlineGenerator,
}

// stepAliases 指令令牌中出现的别名
var stepAliases = map[string]AppStep{
	"OUTLINE_WORKFLOW":    StepSeasonPlanner,
	"CHARACTER_EXTRACTOR": StepOutlineGenerator,
}

// LookupStep 将指令目标解析为步骤，未知目标返回 false
func LookupStep(target string) (AppStep, bool) {
	for _, s := range AllSteps {
		if string(s) == target {
			return s, true
		}
	}
	s, ok := stepAliases[target]
	return s, ok
}

// Title 页面标题
func (s AppStep) Title() string {
	switch s {
	case StepProjectHub:
		return "项目中心"
	case StepKnowledgeBase:
		return "第一阶段：知识库构建"
	case StepWorkflowSelect:
		return "第二阶段：选择工作流"
	case StepSeasonPlanner:
		return "核心工作台：季度改编规划"
	case StepScriptGenerator:
		return "核心工作台：剧情脚本生成"
	case StepOutlineGenerator:
		return "辅助工具：人物大纲提取"
	default:
		return string(s)
	}
}
