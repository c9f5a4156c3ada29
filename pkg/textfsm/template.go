// Package textfsm 实现模板驱动的文本解析状态机。
//
// 模板由 Value 定义与若干状态组成，状态内为按序匹配的规则；
// 引擎逐行执行模板，将设备命令回显转换为有序的记录列表。
// 模板格式与 TextFSM（ntc-templates）保持兼容。
package textfsm

import (
	"regexp"
	"strings"
)

// 保留状态名
const (
	StateStart = "Start"
	StateEnd   = "End"
	StateEOF   = "EOF"
)

const maxNameLen = 48

// Option Value 选项位集合
type Option uint8

const (
	// Required 发射记录时该字段为空则丢弃整条记录
	Required Option = 1 << iota
	// List 多次匹配追加为列表
	List
	// Filldown 记录发射后保留该值，直到被覆盖或 Clearall
	Filldown
	// Key 标记唯一性字段（仅做信息用途）
	Key
	// Fillup 赋值时向前回填之前记录中该列的空值
	Fillup
)

var optionNames = []struct {
	opt  Option
	name string
}{
	{Required, "Required"},
	{List, "List"},
	{Filldown, "Filldown"},
	{Key, "Key"},
	{Fillup, "Fillup"},
}

func parseOption(s string) (Option, bool) {
	for _, o := range optionNames {
		if o.name == s {
			return o.opt, true
		}
	}
	return 0, false
}

// Has 判断是否包含指定选项
func (o Option) Has(opt Option) bool { return o&opt != 0 }

func (o Option) String() string {
	parts := make([]string, 0, len(optionNames))
	for _, n := range optionNames {
		if o.Has(n.opt) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, ",")
}

// Value 字段定义
type Value struct {
	Name    string
	Regex   string // 含外层括号的正则片段
	Options Option
}

// Has 判断字段选项
func (v Value) Has(opt Option) bool { return v.Options.Has(opt) }

// LineOp 行操作
type LineOp uint8

const (
	OpNext LineOp = iota
	OpContinue
	OpError
)

func (op LineOp) String() string {
	switch op {
	case OpContinue:
		return "Continue"
	case OpError:
		return "Error"
	default:
		return "Next"
	}
}

// RecordOp 记录操作
type RecordOp uint8

const (
	OpNoRecord RecordOp = iota
	OpRecord
	OpClear
	OpClearall
)

func (op RecordOp) String() string {
	switch op {
	case OpRecord:
		return "Record"
	case OpClear:
		return "Clear"
	case OpClearall:
		return "Clearall"
	default:
		return "NoRecord"
	}
}

// Rule 状态内的单条匹配规则
type Rule struct {
	Pattern      string // 模板中的原始正则（未展开）
	LineOp       LineOp
	RecordOp     RecordOp
	NewState     string // 为空表示保持当前状态
	ErrorMessage string
	Line         int // 模板中的行号

	re *regexp.Regexp
	// groups[i] 为第 i 个子匹配对应的字段下标，-1 表示非字段分组
	groups []int
}

// Regexp 返回展开 ${VAR} 后的正则表达式
func (r Rule) Regexp() string {
	if r.re == nil {
		return ""
	}
	return r.re.String()
}

// Template 已加载的模板，加载完成后只读，可被多个 goroutine 并发使用
type Template struct {
	values     []Value
	valueIndex map[string]int
	states     map[string][]Rule
	stateOrder []string
}

// Header 按声明顺序返回字段名
func (t *Template) Header() []string {
	out := make([]string, len(t.values))
	for i, v := range t.values {
		out[i] = v.Name
	}
	return out
}

// Values 返回字段定义副本
func (t *Template) Values() []Value {
	out := make([]Value, len(t.values))
	copy(out, t.values)
	return out
}

// Value 按名称查找字段定义
func (t *Template) Value(name string) (Value, bool) {
	i, ok := t.valueIndex[name]
	if !ok {
		return Value{}, false
	}
	return t.values[i], true
}

// States 按声明顺序返回状态名
func (t *Template) States() []string {
	out := make([]string, len(t.stateOrder))
	copy(out, t.stateOrder)
	return out
}

// Rules 返回指定状态的规则副本
func (t *Template) Rules(state string) []Rule {
	rules, ok := t.states[state]
	if !ok {
		return nil
	}
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// KeyFields 按声明顺序返回标记为 Key 的字段名
func (t *Template) KeyFields() []string {
	keys := make([]string, 0)
	for _, v := range t.values {
		if v.Has(Key) {
			keys = append(keys, v.Name)
		}
	}
	return keys
}

func (t *Template) hasState(name string) bool {
	_, ok := t.states[name]
	return ok
}
