package logger

import (
	"strings"

	"github.com/sirupsen/logrus"
)

const defaultExcerptLines = 5

// Excerpt 命令回显的首尾若干行
type Excerpt struct {
	Head  []string `json:"head"`
	Tail  []string `json:"tail"`
	Total int      `json:"total"`
}

// NewExcerpt 截取输出的首尾各 n 行，总行数不超过 n 时 Tail 为空
func NewExcerpt(output string, n int) Excerpt {
	if n <= 0 {
		n = defaultExcerptLines
	}
	output = strings.ReplaceAll(output, "\r\n", "\n")
	output = strings.TrimRight(output, "\n")
	if output == "" {
		return Excerpt{}
	}

	lines := strings.Split(output, "\n")
	ex := Excerpt{Total: len(lines)}
	if len(lines) <= n {
		ex.Head = lines
		return ex
	}
	ex.Head = lines[:n]
	tailStart := len(lines) - n
	if tailStart < n {
		tailStart = n
	}
	ex.Tail = lines[tailStart:]
	return ex
}

func (e Excerpt) String() string {
	if e.Total == 0 {
		return ""
	}
	s := "head: [" + strings.Join(e.Head, " ⟩ ") + "]"
	if len(e.Tail) > 0 {
		s += ", tail: [" + strings.Join(e.Tail, " ⟩ ") + "]"
	}
	return s
}

// DebugCommandOutput 在 debug 级别记录命令回显的首尾行
func DebugCommandOutput(device, command, output string, maxLines int) {
	if GetLogger().Level < logrus.DebugLevel {
		return
	}
	ex := NewExcerpt(output, maxLines)
	if ex.Total == 0 {
		return
	}
	WithFields(logrus.Fields{
		"device":  device,
		"command": command,
		"lines":   ex.Total,
	}).Debugf("command output %s", ex)
}
