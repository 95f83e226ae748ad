// internal/models/export.go
package models

import (
	"time"
)

// 导出格式
const (
	ExportMarkdown = "markdown"
	ExportHTML     = "html"
	ExportText     = "txt"
)

// ExportResult 导出结果
type ExportResult struct {
	Title       string    `json:"title"`
	Format      string    `json:"format"`
	ExportType  string    `json:"export_type"` // knowledge, segments, characters
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Content     string    `json:"content"`
	GeneratedAt time.Time `json:"generated_at"`
}
