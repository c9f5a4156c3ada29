package textfsm

import (
	"errors"
	"fmt"
)

var (
	// ErrTemplateSyntax 模板加载失败（可用 errors.Is 判断）
	ErrTemplateSyntax = errors.New("textfsm: template syntax error")
	// ErrEngine 状态机无法继续推进（Continue 循环超过上限）
	ErrEngine = errors.New("textfsm: engine error")
)

// TemplateSyntaxError 模板语法错误，携带出错行号与原因
type TemplateSyntaxError struct {
	Source string // 模板文件名，可为空
	Line   int    // 1-based，0 表示整体性错误（如缺少 Start）
	Msg    string
}

func (e *TemplateSyntaxError) Error() string {
	loc := ""
	switch {
	case e.Source != "" && e.Line > 0:
		loc = fmt.Sprintf("%s:%d: ", e.Source, e.Line)
	case e.Source != "":
		loc = e.Source + ": "
	case e.Line > 0:
		loc = fmt.Sprintf("line %d: ", e.Line)
	}
	return "textfsm: " + loc + e.Msg
}

func (e *TemplateSyntaxError) Is(target error) bool { return target == ErrTemplateSyntax }

// EngineError 同一输入行的重复评估次数超过上限
type EngineError struct {
	Line  int // 输入行号（1-based）
	State string
	Limit int
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("textfsm: line %d re-evaluated more than %d times (state %q)", e.Line, e.Limit, e.State)
}

func (e *EngineError) Is(target error) bool { return target == ErrEngine }

// RuleError 模板中的 Error 动作被触发
type RuleError struct {
	Line    int
	State   string
	Message string
	Input   string
}

func (e *RuleError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "state error raised"
	}
	return fmt.Sprintf("textfsm: %s (line %d, state %q): %q", msg, e.Line, e.State, e.Input)
}

func syntaxErr(line int, format string, args ...interface{}) *TemplateSyntaxError {
	return &TemplateSyntaxError{Line: line, Msg: fmt.Sprintf(format, args...)}
}
