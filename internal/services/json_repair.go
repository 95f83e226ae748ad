// internal/services/json_repair.go
package services

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"
)

// 清理JSON字符串中的噪声
var jsonNoiseReplacer = strings.NewReplacer(
	"```json", "",
	"```", "",
	"\ufeff", "",
	"\u00a0", " ",
	"\u2028", "\n",
	"\u2029", "\n",
)

// 字符串外的全角结构标点
var structuralPunctuationMap = map[rune]rune{
	'：': ':',
	'，': ',',
	'［': '[',
	'］': ']',
	'｛': '{',
	'｝': '}',
}

// 弯引号等成对引号
var quotePairs = map[rune]rune{
	'“': '”',
	'„': '”',
	'「': '」',
	'『': '』',
}

var trailingCommaPattern = regexp.MustCompile(`,\s*([\]}])`)

// extractBalanced 从第一个 open 开始做括号计数，忽略字符串字面量中的括号
func extractBalanced(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// normalizeJSONStructure 把字符串外的全角标点与弯引号替换为 ASCII
func normalizeJSONStructure(s string) string {
	var builder strings.Builder
	builder.Grow(len(s))
	inString := false
	escaped := false
	closing := '"'

	for _, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == closing || r == '"':
				inString = false
				closing = '"'
				builder.WriteRune('"')
				continue
			}
			builder.WriteRune(r)
			continue
		}

		if replacement, ok := structuralPunctuationMap[r]; ok {
			builder.WriteRune(replacement)
			continue
		}
		if c, ok := quotePairs[r]; ok {
			inString = true
			closing = c
			builder.WriteRune('"')
			continue
		}
		if r == '"' {
			inString = true
			closing = '"'
		}
		builder.WriteRune(r)
	}
	return builder.String()
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\u2060':
			return -1
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)
}

// DecodeFirstJSONArray 找到原始输出中第一个括号平衡的 [...] 并解码到 v。
// 先按原样解析，失败后再尝试规范化标点和去掉尾逗号。
func DecodeFirstJSONArray(raw string, v interface{}) bool {
	s := stripControl(jsonNoiseReplacer.Replace(raw))

	candidate, ok := extractBalanced(s, '[', ']')
	if !ok {
		// 全角方括号包裹的数组
		candidate, ok = extractBalanced(normalizeJSONStructure(s), '[', ']')
		if !ok {
			return false
		}
	}

	if json.Unmarshal([]byte(candidate), v) == nil {
		return true
	}

	repaired := trailingCommaPattern.ReplaceAllString(normalizeJSONStructure(candidate), "$1")
	return json.Unmarshal([]byte(repaired), v) == nil
}
