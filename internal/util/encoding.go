package util

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// 设备回显中常见的非 UTF-8 编码，按优先级尝试
var legacyEncodings = []encoding.Encoding{
	simplifiedchinese.GB18030,
	charmap.Windows1252,
	charmap.ISO8859_1,
}

// EnsureUTF8 将可能为旧编码的回显转换为 UTF-8，已是合法 UTF-8 时原样返回
func EnsureUTF8(s string) string {
	b := []byte(s)
	if len(b) == 0 || utf8.Valid(b) {
		return s
	}
	for _, enc := range legacyEncodings {
		if out, ok := decode(enc, b); ok {
			return out
		}
	}
	return strings.ToValidUTF8(s, "�")
}

func decode(enc encoding.Encoding, b []byte) (string, bool) {
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(b), enc.NewDecoder()))
	if err != nil || !utf8.Valid(decoded) {
		return "", false
	}
	return string(decoded), true
}

// LineFilter 过滤回显中的分页提示等噪声行
type LineFilter struct {
	Prefixes        []string
	Contains        []string
	CaseInsensitive bool
}

// Apply 删除命中前缀或子串的行，并统一换行符为 \n
func (f LineFilter) Apply(output string) string {
	output = strings.ReplaceAll(output, "\r\n", "\n")
	if len(f.Prefixes) == 0 && len(f.Contains) == 0 {
		return output
	}
	norm := func(s string) string {
		if f.CaseInsensitive {
			return strings.ToLower(s)
		}
		return s
	}

	lines := strings.Split(output, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if f.drop(norm(line), norm) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func (f LineFilter) drop(line string, norm func(string) string) bool {
	trimmed := strings.TrimSpace(line)
	for _, p := range f.Prefixes {
		if p != "" && strings.HasPrefix(trimmed, strings.TrimSpace(norm(p))) {
			return true
		}
	}
	for _, c := range f.Contains {
		if c != "" && strings.Contains(line, norm(c)) {
			return true
		}
	}
	return false
}
