// internal/models/segment.go
package models

import "fmt"

// EpisodesPerSegment 每段脚本覆盖的集数
const EpisodesPerSegment = 3

// ScriptSegment 一段生成的剧集脚本
type ScriptSegment struct {
	ID        string `json:"id"`
	Range     string `json:"range"` // 例如 "1-3集"
	Content   string `json:"content"`
	Summary   string `json:"summary"` // 下一段的前情提要
	IsLoading bool   `json:"is_loading"`
}

// EpisodeRangeLabel 根据起始集数生成区间标签
func EpisodeRangeLabel(start int) string {
	return fmt.Sprintf("%d-%d集", start, start+EpisodesPerSegment-1)
}

// SegmentList 脚本段列表与下一集指针的快照
type SegmentList struct {
	Segments         []ScriptSegment `json:"segments"`
	NextEpisodeStart int             `json:"next_episode_start"`
	IsGenerating     bool            `json:"is_generating"`
	FocusedID        string          `json:"focused_id,omitempty"`
}
