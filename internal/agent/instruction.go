// internal/agent/instruction.go
package agent

import (
	"fmt"
	"strings"

	"github.com/Corphon/AdaptBrain/internal/models"
)

// 指令令牌可用的目标及其说明
var commandTargets = []struct {
	token string
	desc  string
}{
	{string(models.StepKnowledgeBase), "用户想要上传文件、管理知识库"},
	{"OUTLINE_WORKFLOW", "用户想要进行季度规划、生成大纲"},
	{string(models.StepScriptGenerator), "用户想要生成剧本、写脚本"},
	{"CHARACTER_EXTRACTOR", "用户想要提取人物、生成人设"},
	{string(models.StepWorkflowSelect), "用户想要返回工作流选择"},
}

// Instruction 追加到对话系统指令中的导航说明
func Instruction() string {
	var b strings.Builder
	b.WriteString("【导航能力】：当用户明确表达想要前往某个功能页面时，请在回复的最开头输出一个指令令牌，格式为 [[CMD:目标]]，然后再正常回答。\n可用目标：\n")
	for _, t := range commandTargets {
		fmt.Fprintf(&b, "- %s：%s\n", t.token, t.desc)
	}
	b.WriteString("每次回复最多输出一个指令令牌；用户没有导航意图时不要输出。")
	return b.String()
}
