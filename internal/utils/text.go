// internal/utils/text.go
package utils

import "unicode/utf8"

// TruncateRunes 截取文本前 maxRunes 个字符，按字符而非字节计数，保证不切断中文
func TruncateRunes(text string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxRunes])
}

// TailRunes 返回文本最后 maxRunes 个字符
func TailRunes(text string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	n := utf8.RuneCountInString(text)
	if n <= maxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[n-maxRunes:])
}

// RuneLen 字符数
func RuneLen(text string) int {
	return utf8.RuneCountInString(text)
}
