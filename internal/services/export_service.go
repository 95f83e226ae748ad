// internal/services/export_service.go
package services

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	apperrors "github.com/Corphon/AdaptBrain/internal/errors"
	"github.com/Corphon/AdaptBrain/internal/models"
)

// ExportService 导出知识库资料、脚本段链和人物档案
type ExportService struct {
	knowledge *KnowledgeStore
	segments  *SegmentService
	markdown  goldmark.Markdown
}

func NewExportService(knowledge *KnowledgeStore, segments *SegmentService) *ExportService {
	return &ExportService{
		knowledge: knowledge,
		segments:  segments,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			// 剧本依赖换行排版
			goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
		),
	}
}

// NormalizeExportFormat 统一格式名称
func NormalizeExportFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "md", "markdown":
		return models.ExportMarkdown, nil
	case "html", "htm", "doc":
		return models.ExportHTML, nil
	case "txt", "text":
		return models.ExportText, nil
	default:
		return "", apperrors.NewValidationError("不支持的导出格式: "+format, nil)
	}
}

// ExportKnowledgeFile 导出单份资料
func (s *ExportService) ExportKnowledgeFile(id, format string) (*models.ExportResult, error) {
	f, ok := s.knowledge.Get(id)
	if !ok {
		return nil, apperrors.NewNotFoundError("资料不存在: "+id, nil)
	}
	return s.render("knowledge", f.Name, f.Content, format)
}

// ExportSegments 按顺序导出全部已完成的脚本段
func (s *ExportService) ExportSegments(format string) (*models.ExportResult, error) {
	list := s.segments.List()

	var b strings.Builder
	count := 0
	for _, seg := range list.Segments {
		if seg.IsLoading {
			continue
		}
		if count > 0 {
			b.WriteString("\n\n---\n\n")
		}
		fmt.Fprintf(&b, "## 第%s\n\n%s\n", seg.Range, seg.Content)
		count++
	}
	if count == 0 {
		return nil, apperrors.NewPreconditionError("还没有可导出的脚本")
	}
	return s.render("segments", "剧情脚本", b.String(), format)
}

// ExportCharacters 人物档案导出为表格
func (s *ExportService) ExportCharacters(sourceName string, profiles []models.CharacterProfile, format string) (*models.ExportResult, error) {
	if len(profiles) == 0 {
		return nil, apperrors.NewPreconditionError("没有可导出的人物档案")
	}

	var b strings.Builder
	b.WriteString("| 姓名 | 性别 | 年龄 | 性格 | 外貌 | 人物关系 | 首次登场 |\n")
	b.WriteString("|---|---|---|---|---|---|---|\n")
	cell := func(v string) string {
		v = strings.ReplaceAll(v, "|", "\\|")
		return strings.ReplaceAll(v, "\n", " ")
	}
	for _, p := range profiles {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s |\n",
			cell(p.Name), cell(p.Gender), cell(p.Age), cell(p.Personality),
			cell(p.Appearance), cell(p.Relation), cell(p.AppearanceChapter))
	}

	title := "人物档案"
	if sourceName != "" {
		title = "人物档案-" + sourceName
	}
	return s.render("characters", title, b.String(), format)
}

func (s *ExportService) render(exportType, title, body, format string) (*models.ExportResult, error) {
	format, err := NormalizeExportFormat(format)
	if err != nil {
		return nil, err
	}

	result := &models.ExportResult{
		Title:       title,
		Format:      format,
		ExportType:  exportType,
		GeneratedAt: time.Now(),
	}

	switch format {
	case models.ExportHTML:
		content, err := s.toHTML(title, body)
		if err != nil {
			return nil, err
		}
		result.Content = content
		result.FileName = title + ".html"
		result.ContentType = "text/html; charset=utf-8"
	case models.ExportText:
		result.Content = body
		result.FileName = title + ".txt"
		result.ContentType = "text/plain; charset=utf-8"
	default:
		result.Content = fmt.Sprintf("# %s\n\n%s", title, body)
		result.FileName = title + ".md"
		result.ContentType = "text/markdown; charset=utf-8"
	}
	return result, nil
}

func (s *ExportService) toHTML(title, body string) (string, error) {
	var rendered bytes.Buffer
	if err := s.markdown.Convert([]byte(body), &rendered); err != nil {
		return "", apperrors.NewProcessingError("渲染HTML失败", err)
	}

	var content strings.Builder
	content.WriteString(`<!DOCTYPE html>
<html lang="zh-CN">
<head>
    <meta charset="UTF-8">
    <title>`)
	content.WriteString(html.EscapeString(title))
	content.WriteString(`</title>
    <style>
        body { font-family: 'Microsoft YaHei', -apple-system, 'Segoe UI', Arial, sans-serif; max-width: 960px; margin: 0 auto; padding: 20px; line-height: 1.7; color: #333; }
        h1 { border-bottom: 3px solid #3498db; padding-bottom: 10px; }
        table { border-collapse: collapse; width: 100%; }
        th, td { border: 1px solid #ddd; padding: 8px; vertical-align: top; }
        th { background-color: #f2f2f2; }
    </style>
</head>
<body>
<h1>`)
	content.WriteString(html.EscapeString(title))
	content.WriteString("</h1>\n")
	content.Write(rendered.Bytes())
	content.WriteString("</body>\n</html>\n")
	return content.String(), nil
}
