package textfsm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

var (
	identRe     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	stateNameRe = regexp.MustCompile(`^\w+$`)
	commentRe   = regexp.MustCompile(`^\s*#`)
	// 动作以最后一个 "空白->" 分隔
	matchActionRe = regexp.MustCompile(`^(.*)\s->(.*)$`)
)

// ParseFile 从文件加载模板，语法错误中带上文件名
func ParseFile(path string) (*Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open template %s: %w", path, err)
	}
	defer f.Close()

	t, err := Parse(f)
	if err != nil {
		var se *TemplateSyntaxError
		if errors.As(err, &se) {
			se.Source = path
		}
		return nil, err
	}
	return t, nil
}

// ParseString 从字符串加载模板
func ParseString(s string) (*Template, error) {
	return Parse(strings.NewReader(s))
}

// Parse 读取模板源文本并构建已校验的模板。
// 任何结构错误都返回 *TemplateSyntaxError，不会返回部分加载的模板。
func Parse(r io.Reader) (*Template, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}

	t := &Template{
		valueIndex: make(map[string]int),
		states:     make(map[string][]Rule),
	}
	p := &loader{t: t, lines: lines, stateLine: make(map[string]int)}

	if err := p.parseValues(); err != nil {
		return nil, err
	}
	if err := p.parseStates(); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), " \t\r"))
	}
	return lines, sc.Err()
}

type loader struct {
	t         *Template
	lines     []string
	pos       int // 下一个待读取行的下标
	stateLine map[string]int
}

// parseValues 解析 Value 块，遇到第一个空行结束
func (p *loader) parseValues() error {
	for ; p.pos < len(p.lines); p.pos++ {
		line := p.lines[p.pos]
		lineNo := p.pos + 1
		if line == "" {
			// 首个 Value 之前的空行忽略
			if len(p.t.values) == 0 {
				continue
			}
			p.pos++
			break
		}
		if commentRe.MatchString(line) {
			continue
		}
		if !strings.HasPrefix(line, "Value ") && !strings.HasPrefix(line, "Value\t") {
			if len(p.t.values) == 0 {
				return syntaxErr(lineNo, "no Value definitions found")
			}
			return syntaxErr(lineNo, "expected blank line after last Value entry")
		}
		v, err := parseValueLine(line, lineNo)
		if err != nil {
			return err
		}
		if _, dup := p.t.valueIndex[v.Name]; dup {
			return syntaxErr(lineNo, "duplicate Value name %q", v.Name)
		}
		p.t.valueIndex[v.Name] = len(p.t.values)
		p.t.values = append(p.t.values, v)
	}
	if len(p.t.values) == 0 {
		return syntaxErr(0, "no Value definitions found")
	}
	return nil
}

func parseValueLine(line string, lineNo int) (Value, error) {
	rest := strings.TrimSpace(line[len("Value"):])
	first, rest := nextToken(rest)
	second, tail := nextToken(rest)
	if first == "" || second == "" {
		return Value{}, syntaxErr(lineNo, "malformed Value line: %q", line)
	}

	var v Value
	if strings.HasPrefix(second, "(") {
		v.Name = first
		v.Regex = rest
	} else {
		if tail == "" {
			return Value{}, syntaxErr(lineNo, "malformed Value line: %q", line)
		}
		opts, err := parseOptions(first, lineNo)
		if err != nil {
			return Value{}, err
		}
		v.Options = opts
		v.Name = second
		v.Regex = tail
	}

	if !identRe.MatchString(v.Name) {
		return Value{}, syntaxErr(lineNo, "invalid Value name %q", v.Name)
	}
	if len(v.Name) > maxNameLen {
		return Value{}, syntaxErr(lineNo, "Value name %q exceeds %d characters", v.Name, maxNameLen)
	}
	if !strings.HasPrefix(v.Regex, "(") || !strings.HasSuffix(v.Regex, ")") {
		return Value{}, syntaxErr(lineNo, "Value %s regex must be enclosed in parentheses: %q", v.Name, v.Regex)
	}
	re, err := regexp.Compile(v.Regex)
	if err != nil {
		return Value{}, syntaxErr(lineNo, "Value %s has invalid regex: %v", v.Name, err)
	}
	for _, n := range re.SubexpNames() {
		if n != "" {
			return Value{}, syntaxErr(lineNo, "Value %s regex must not contain named groups", v.Name)
		}
	}
	return v, nil
}

func parseOptions(s string, lineNo int) (Option, error) {
	var opts Option
	for _, name := range strings.Split(s, ",") {
		o, ok := parseOption(name)
		if !ok {
			return 0, syntaxErr(lineNo, "unknown Value option %q", name)
		}
		if opts.Has(o) {
			return 0, syntaxErr(lineNo, "duplicate Value option %q", name)
		}
		opts |= o
	}
	return opts, nil
}

// parseStates 解析状态块：顶格行为状态名，缩进行为规则
func (p *loader) parseStates() error {
	current := ""
	for ; p.pos < len(p.lines); p.pos++ {
		line := p.lines[p.pos]
		lineNo := p.pos + 1
		if line == "" {
			current = ""
			continue
		}
		if commentRe.MatchString(line) {
			continue
		}

		if line[0] != ' ' && line[0] != '\t' {
			name := line
			if !stateNameRe.MatchString(name) || len(name) > maxNameLen {
				return syntaxErr(lineNo, "invalid state name %q", name)
			}
			if _, dup := p.t.states[name]; dup {
				return syntaxErr(lineNo, "duplicate state %q", name)
			}
			p.t.states[name] = nil
			p.t.stateOrder = append(p.t.stateOrder, name)
			p.stateLine[name] = lineNo
			current = name
			continue
		}

		if current == "" {
			return syntaxErr(lineNo, "rule outside of a state: %q", strings.TrimSpace(line))
		}
		rule, err := p.parseRule(strings.TrimSpace(line), lineNo)
		if err != nil {
			return err
		}
		p.t.states[current] = append(p.t.states[current], rule)
	}
	return nil
}

func (p *loader) parseRule(text string, lineNo int) (Rule, error) {
	if !strings.HasPrefix(text, "^") {
		return Rule{}, syntaxErr(lineNo, "rule must begin with '^': %q", text)
	}

	r := Rule{Pattern: text, Line: lineNo}
	if m := matchActionRe.FindStringSubmatch(text); m != nil {
		r.Pattern = strings.TrimSpace(m[1])
		if err := parseAction(&r, m[2], lineNo); err != nil {
			return Rule{}, err
		}
	}

	expanded, err := p.expand(r.Pattern, lineNo)
	if err != nil {
		return Rule{}, err
	}
	re, err := regexp.Compile(expanded)
	if err != nil {
		return Rule{}, syntaxErr(lineNo, "invalid rule regex %q: %v", r.Pattern, err)
	}
	r.re = re
	r.groups = make([]int, re.NumSubexp()+1)
	seen := make(map[string]bool)
	for i, name := range re.SubexpNames() {
		r.groups[i] = -1
		if name == "" {
			continue
		}
		idx, ok := p.t.valueIndex[name]
		if !ok {
			return Rule{}, syntaxErr(lineNo, "rule references unknown Value %q in named group", name)
		}
		if seen[name] {
			return Rule{}, syntaxErr(lineNo, "Value %q captured more than once in rule", name)
		}
		seen[name] = true
		r.groups[i] = idx
	}
	return r, nil
}

// expand 展开 ${NAME} / $NAME，$$ 表示字面量 $
func (p *loader) expand(pattern string, lineNo int) (string, error) {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c != '$' || i+1 >= len(pattern) {
			b.WriteByte(c)
			continue
		}
		next := pattern[i+1]
		var name string
		switch {
		case next == '$':
			b.WriteByte('$')
			i++
			continue
		case next == '{':
			end := strings.IndexByte(pattern[i+2:], '}')
			if end < 0 {
				return "", syntaxErr(lineNo, "unterminated variable reference in %q", pattern)
			}
			name = pattern[i+2 : i+2+end]
			i += 2 + end
		case isIdentStart(next):
			j := i + 1
			for j < len(pattern) && isIdentChar(pattern[j]) {
				j++
			}
			name = pattern[i+1 : j]
			i = j - 1
		default:
			b.WriteByte('$')
			continue
		}

		idx, ok := p.t.valueIndex[name]
		if !ok {
			return "", syntaxErr(lineNo, "rule references undefined Value %q", name)
		}
		v := p.t.values[idx]
		b.WriteString("(?P<" + v.Name + ">")
		b.WriteString(v.Regex[1:])
	}
	return b.String(), nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// parseAction 解析 "->" 之后的动作：
//
//	[LineOp][.RecordOp] [NewState]
//	Error ["message"]
func parseAction(r *Rule, action string, lineNo int) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return syntaxErr(lineNo, "empty action after '->'")
	}
	tok, rest := nextToken(action)

	lineOp, recordOp, isOp, err := parseOps(tok, lineNo)
	if err != nil {
		return err
	}
	if !isOp {
		// 仅有目标状态
		if rest != "" || !stateNameRe.MatchString(tok) {
			return syntaxErr(lineNo, "malformed action %q", action)
		}
		r.NewState = tok
		return nil
	}
	r.LineOp = lineOp
	r.RecordOp = recordOp

	if lineOp == OpError {
		msg := rest
		if strings.HasPrefix(msg, `"`) {
			if len(msg) < 2 || !strings.HasSuffix(msg, `"`) {
				return syntaxErr(lineNo, "unterminated Error message %s", msg)
			}
			msg = msg[1 : len(msg)-1]
		} else if strings.ContainsAny(msg, " \t") {
			return syntaxErr(lineNo, "Error message with spaces must be quoted: %s", msg)
		}
		r.ErrorMessage = msg
		return nil
	}

	if rest == "" {
		return nil
	}
	if !stateNameRe.MatchString(rest) {
		return syntaxErr(lineNo, "malformed action %q", action)
	}
	r.NewState = rest
	return nil
}

// parseOps 解析 "Next"、"Record"、"Next.Record" 形式的操作符。
// isOp 为 false 表示该记号不是操作符（应视为状态名）。
func parseOps(tok string, lineNo int) (LineOp, RecordOp, bool, error) {
	if head, tail, dotted := strings.Cut(tok, "."); dotted {
		lo, ok := lineOps[head]
		if !ok {
			return 0, 0, false, syntaxErr(lineNo, "unknown line operation %q", head)
		}
		ro, ok := recordOps[tail]
		if !ok {
			return 0, 0, false, syntaxErr(lineNo, "unknown record operation %q", tail)
		}
		if lo == OpError {
			return 0, 0, false, syntaxErr(lineNo, "Error action cannot carry a record operation")
		}
		return lo, ro, true, nil
	}
	if lo, ok := lineOps[tok]; ok {
		return lo, OpNoRecord, true, nil
	}
	if ro, ok := recordOps[tok]; ok {
		return OpNext, ro, true, nil
	}
	return 0, 0, false, nil
}

var lineOps = map[string]LineOp{
	"Next":     OpNext,
	"Continue": OpContinue,
	"Error":    OpError,
}

var recordOps = map[string]RecordOp{
	"NoRecord": OpNoRecord,
	"Record":   OpRecord,
	"Clear":    OpClear,
	"Clearall": OpClearall,
}

func (p *loader) validate() error {
	for _, name := range p.t.stateOrder {
		rules := p.t.states[name]
		reserved := name == StateEnd || name == StateEOF
		if reserved && len(rules) > 0 {
			return syntaxErr(p.stateLine[name], "reserved state %q must not contain rules", name)
		}
		if !reserved && len(rules) == 0 {
			return syntaxErr(p.stateLine[name], "state %q has no rules", name)
		}
		for _, r := range rules {
			if r.NewState == "" || r.NewState == StateEnd || r.NewState == StateEOF {
				continue
			}
			if !p.t.hasState(r.NewState) {
				return syntaxErr(r.Line, "rule targets undefined state %q", r.NewState)
			}
		}
	}
	if !p.t.hasState(StateStart) {
		return syntaxErr(0, "missing %q state", StateStart)
	}
	return nil
}

// nextToken 切出首个空白分隔的记号，rest 保留原始间距（仅去除前导空白）
func nextToken(s string) (tok, rest string) {
	s = strings.TrimLeft(s, " \t")
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimLeft(s[i:], " \t")
}
