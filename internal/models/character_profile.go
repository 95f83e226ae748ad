// internal/models/character_profile.go
package models

import (
	"encoding/json"
)

// CharacterProfile 从剧本中提取出的人物档案
type CharacterProfile struct {
	Name              string `json:"name"`
	Gender            string `json:"gender"`
	Age               string `json:"age"`
	Relation          string `json:"relation"`
	Personality       string `json:"personality"`
	Appearance        string `json:"appearance"`
	AppearanceChapter string `json:"appearanceChapter"`
}

// UnmarshalJSON 兼容 firstAppearance 字段名
func (p *CharacterProfile) UnmarshalJSON(data []byte) error {
	type plain CharacterProfile
	var aux struct {
		plain
		FirstAppearance string `json:"firstAppearance"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*p = CharacterProfile(aux.plain)
	if p.AppearanceChapter == "" {
		p.AppearanceChapter = aux.FirstAppearance
	}
	return nil
}
