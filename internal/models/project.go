// internal/models/project.go
package models

import (
	"fmt"
	"time"
)

// FrequencyMode 受众频段，创建后不可修改
type FrequencyMode string

const (
	FrequencyMale   FrequencyMode = "MALE"   // 男频
	FrequencyFemale FrequencyMode = "FEMALE" // 女频
)

func (m FrequencyMode) Valid() bool {
	return m == FrequencyMale || m == FrequencyFemale
}

// Label 用于提示词中的频段描述
func (m FrequencyMode) Label() string {
	if m == FrequencyMale {
		return "男频 (Male Frequency)"
	}
	return "女频 (Female Frequency)"
}

// Audience 市场分析中使用的受众偏好描述
func (m FrequencyMode) Audience() string {
	if m == FrequencyMale {
		return "男频（热血/升级/爽文）"
	}
	return "女频（情感/大女主/甜宠/虐恋）"
}

func ParseFrequencyMode(s string) (FrequencyMode, error) {
	m := FrequencyMode(s)
	if !m.Valid() {
		return "", fmt.Errorf("未知的频段模式: %q", s)
	}
	return m, nil
}

// ModelTier 模型档位
type ModelTier string

const (
	TierLogicFast   ModelTier = "LOGIC_FAST"   // 快，逻辑好，大窗口
	TierCreativePro ModelTier = "CREATIVE_PRO" // 慢，文笔佳
)

func (t ModelTier) Valid() bool {
	return t == TierLogicFast || t == TierCreativePro
}

// Project 一个改编项目，拥有独立的知识库
type Project struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Files         []KnowledgeFile `json:"files"`
	LastModified  time.Time       `json:"last_modified"`
	FrequencyMode FrequencyMode   `json:"frequency_mode"`
}

// Clone 返回深拷贝，避免调用方修改内部状态
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Files = append([]KnowledgeFile(nil), p.Files...)
	return &cp
}

// ProjectSummary 项目列表展示用的摘要
type ProjectSummary struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	FileCount     int           `json:"file_count"`
	LastModified  time.Time     `json:"last_modified"`
	FrequencyMode FrequencyMode `json:"frequency_mode"`
	Active        bool          `json:"active"`
}
