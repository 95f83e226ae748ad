// internal/models/knowledge.go
package models

import (
	"fmt"
	"time"
)

// FileCategory 知识库文件分类
type FileCategory string

const (
	CategoryNovel           FileCategory = "NOVEL"            // 原著小说
	CategoryFormatRef       FileCategory = "FORMAT_REF"       // 排版参考
	CategoryStyleRef        FileCategory = "STYLE_REF"        // 文笔参考
	CategorySeasonOutline   FileCategory = "SEASON_OUTLINE"   // 季度/剧情大纲
	CategoryCharacterBible  FileCategory = "CHARACTER_BIBLE"  // 人设圣经
	CategoryGeneratedScript FileCategory = "GENERATED_SCRIPT" // 已生成的脚本
	CategoryOther           FileCategory = "OTHER"
)

// AllCategories 按界面展示顺序排列
var AllCategories = []FileCategory{
	CategoryNovel,
	CategoryFormatRef,
	CategoryStyleRef,
	CategorySeasonOutline,
	CategoryCharacterBible,
	CategoryGeneratedScript,
	CategoryOther,
}

// Valid 判断分类是否属于封闭集合
func (c FileCategory) Valid() bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}

// Label 返回分类的中文名称
func (c FileCategory) Label() string {
	switch c {
	case CategoryNovel:
		return "原著小说"
	case CategoryFormatRef:
		return "排版参考"
	case CategoryStyleRef:
		return "文笔参考"
	case CategorySeasonOutline:
		return "季度大纲"
	case CategoryCharacterBible:
		return "人设圣经"
	case CategoryGeneratedScript:
		return "已生成脚本"
	case CategoryOther:
		return "其他"
	default:
		return string(c)
	}
}

// ParseFileCategory 解析外部传入的分类字符串
func ParseFileCategory(s string) (FileCategory, error) {
	c := FileCategory(s)
	if !c.Valid() {
		return "", fmt.Errorf("未知的文件分类: %q", s)
	}
	return c, nil
}

// KnowledgeFile 知识库中的一份文本资料
type KnowledgeFile struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Category   FileCategory `json:"category"`
	Content    string       `json:"content"`
	UploadedAt time.Time    `json:"uploaded_at"`
}
