// internal/services/character_service.go
package services

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/Corphon/AdaptBrain/internal/errors"
	"github.com/Corphon/AdaptBrain/internal/models"
	"github.com/Corphon/AdaptBrain/internal/utils"
)

// CharacterService 从脚本或小说中提取人物档案并生成人设圣经
type CharacterService struct {
	gateway   *GatewayService
	knowledge *KnowledgeStore
	modes     ModeSource
}

func NewCharacterService(gateway *GatewayService, knowledge *KnowledgeStore, modes ModeSource) *CharacterService {
	return &CharacterService{gateway: gateway, knowledge: knowledge, modes: modes}
}

// Extract 分析任意一份资料中的登场人物
func (s *CharacterService) Extract(ctx context.Context, sourceID string) ([]models.CharacterProfile, error) {
	source, ok := s.knowledge.Get(sourceID)
	if !ok {
		return nil, apperrors.NewPreconditionError("请先选择要分析的文件")
	}

	mode := models.FrequencyMale
	if s.modes != nil {
		mode = s.modes.ActiveMode()
	}

	profiles, err := s.gateway.ExtractCharacters(ctx, source.Content, mode)
	if err != nil {
		utils.GetMetricsCollector().RecordGeneration("characters", false)
		return nil, err
	}
	utils.GetMetricsCollector().RecordGeneration("characters", true)

	utils.GetLogger().Info("人物提取完成", map[string]interface{}{
		"source": source.Name,
		"count":  len(profiles),
	})
	return profiles, nil
}

// FormatBible 人设圣经的文本格式
func FormatBible(profiles []models.CharacterProfile) string {
	blocks := make([]string, 0, len(profiles))
	for _, p := range profiles {
		blocks = append(blocks, fmt.Sprintf("【姓名】：%s\n【性别/年龄】：%s / %s\n【性格】：%s\n【外貌】：%s\n【人物关系】：%s\n---",
			p.Name, p.Gender, p.Age, p.Personality, p.Appearance, p.Relation))
	}
	return strings.Join(blocks, "\n")
}

// SaveBible 保存为人设圣经，供脚本生成时选用
func (s *CharacterService) SaveBible(sourceName string, profiles []models.CharacterProfile) (models.KnowledgeFile, error) {
	if len(profiles) == 0 {
		return models.KnowledgeFile{}, apperrors.NewPreconditionError("没有可保存的人物档案")
	}
	if strings.TrimSpace(sourceName) == "" {
		sourceName = "未知来源"
	}
	return s.knowledge.Add("人设圣经-"+sourceName, FormatBible(profiles), models.CategoryCharacterBible)
}
