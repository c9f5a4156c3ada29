package textfsm

import "strings"

// DefaultMaxReevaluations 单行默认允许的 Continue 重复评估次数
const DefaultMaxReevaluations = 1000

type runConfig struct {
	maxReevaluations int
}

// RunOption 单次解析的可选参数
type RunOption func(*runConfig)

// WithMaxReevaluations 设置单行重复评估上限，n <= 0 时使用默认值
func WithMaxReevaluations(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.maxReevaluations = n
		}
	}
}

// ParseText 对输入文本执行模板，按发射顺序返回记录。
//
// 未匹配的行被跳过，不视为错误。返回 *EngineError 或 *RuleError 时，
// 同时返回出错前已发射的记录。
func (t *Template) ParseText(text string, opts ...RunOption) ([]Record, error) {
	cfg := runConfig{maxReevaluations: DefaultMaxReevaluations}
	for _, opt := range opts {
		opt(&cfg)
	}

	store := newValueStore(t.values)
	state := StateStart
	for i, line := range splitLines(text) {
		next, err := t.checkLine(store, state, line, i+1, cfg.maxReevaluations)
		if err != nil {
			return store.records, err
		}
		state = next
		if state == StateEnd || state == StateEOF {
			break
		}
	}

	// 输入结束时隐式 Record，除非以 End 结束或模板显式声明了 EOF 状态
	if state != StateEnd && !t.hasState(StateEOF) {
		store.emit()
	}
	return store.records, nil
}

// ParseTextToMaps 与 ParseText 相同，记录转换为以字段名为键的 map
func (t *Template) ParseTextToMaps(text string, opts ...RunOption) ([]map[string]interface{}, error) {
	records, err := t.ParseText(text, opts...)
	out := make([]map[string]interface{}, len(records))
	for i, r := range records {
		out[i] = r.Map()
	}
	return out, err
}

// checkLine 在当前状态下处理一行，返回处理后的状态
func (t *Template) checkLine(store *valueStore, state, line string, lineNo, limit int) (string, error) {
	rules := t.states[state]
	evals := 0
	for i := 0; i < len(rules); i++ {
		r := &rules[i]
		loc := r.re.FindStringSubmatchIndex(line)
		if loc == nil {
			continue
		}
		store.assign(r.groups, line, loc)

		if r.LineOp == OpError {
			return state, &RuleError{Line: lineNo, State: state, Message: r.ErrorMessage, Input: line}
		}

		switch r.RecordOp {
		case OpRecord:
			store.emit()
		case OpClear:
			store.clear()
		case OpClearall:
			store.clearAll()
		}

		if r.NewState != "" {
			state = r.NewState
		}
		if r.LineOp != OpContinue {
			return state, nil
		}

		if r.NewState != "" {
			if state == StateEnd || state == StateEOF {
				return state, nil
			}
			// 只有切换状态的 Continue 会重新扫描，才计入上限
			evals++
			if evals > limit {
				return state, &EngineError{Line: lineNo, State: state, Limit: limit}
			}
			// 切换状态后从新状态的第一条规则重新评估同一行
			rules = t.states[state]
			i = -1
		}
	}
	return state, nil
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
