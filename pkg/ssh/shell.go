package ssh

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	defaultCommandTimeout = 30 * time.Second
	promptNudgeInterval   = time.Second
	promptNudgeMax        = 10
)

// ShellOptions 交互式会话选项
type ShellOptions struct {
	// PromptSuffixes 提示符后缀，如 "#"、">"
	PromptSuffixes []string
	// Enable 为 true 时先执行 enable，并在出现密码提示时输入 EnablePassword
	Enable         bool
	EnablePassword string
	// PreCommands 在业务命令前执行且不返回结果，如 "terminal length 0"
	PreCommands  []string
	ExitCommands []string
}

// RunShell 在单个 PTY Shell 中依次执行命令，以提示符分隔每条命令的回显。
// 返回与 commands 一一对应的结果；出错时返回已完成的部分结果。
func (c *Client) RunShell(ctx context.Context, commands []string, opts ShellOptions) ([]*CommandResult, error) {
	if len(opts.PromptSuffixes) == 0 {
		opts.PromptSuffixes = []string{"#", ">"}
	}
	timeout := c.config.CommandTimeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	session, err := c.newSession()
	if err != nil {
		return nil, err
	}
	defer session.Close()

	if err := requestPty(session); err != nil {
		return nil, err
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout: %w", err)
	}
	if err := session.Shell(); err != nil {
		return nil, fmt.Errorf("failed to start shell: %w", err)
	}

	sh := &shell{
		stdin:    stdin,
		lines:    make(chan string, 1024),
		stop:     make(chan struct{}),
		suffixes: opts.PromptSuffixes,
		timeout:  timeout,
	}
	defer close(sh.stop)
	go sh.read(stdout)

	if err := sh.waitPrompt(ctx); err != nil {
		return nil, err
	}

	if opts.Enable {
		if err := sh.enable(ctx, opts.EnablePassword); err != nil {
			return nil, err
		}
	}
	for _, pre := range opts.PreCommands {
		if _, err := sh.run(ctx, pre); err != nil {
			return nil, err
		}
	}

	results := make([]*CommandResult, 0, len(commands))
	for _, cmd := range commands {
		res, err := sh.run(ctx, cmd)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}

	exitSeq := opts.ExitCommands
	if len(exitSeq) == 0 {
		exitSeq = []string{"exit"}
	}
	for _, ec := range exitSeq {
		_, _ = stdin.Write([]byte(ec + "\r\n"))
	}
	stdin.Close()
	return results, nil
}

type shell struct {
	stdin    io.Writer
	lines    chan string
	stop     chan struct{}
	suffixes []string
	timeout  time.Duration
	// 首个提示符去掉后缀的部分（通常为主机名）
	prefix string
}

// read 将回显切分为行推入通道；末尾未换行的提示符或密码提示同样作为一行推送
func (s *shell) read(r io.Reader) {
	defer close(s.lines)
	buf := make([]byte, 4096)
	var acc strings.Builder
	for {
		n, err := r.Read(buf)
		if n > 0 {
			acc.Write(buf[:n])
			text := strings.ReplaceAll(acc.String(), "\r\n", "\n")
			parts := strings.Split(text, "\n")
			acc.Reset()
			pending := parts[len(parts)-1]
			for _, line := range parts[:len(parts)-1] {
				if !s.push(sanitize(line)) {
					return
				}
			}
			clean := sanitize(pending)
			if _, ok := promptShape(clean, s.suffixes); ok || isPasswordPrompt(clean) {
				if !s.push(clean) {
					return
				}
			} else {
				acc.WriteString(pending)
			}
		}
		if err != nil {
			if rest := sanitize(acc.String()); rest != "" {
				s.push(rest)
			}
			return
		}
	}
}

func (s *shell) push(line string) bool {
	select {
	case s.lines <- line:
		return true
	case <-s.stop:
		return false
	}
}

// promptShape 单个记号、以提示符后缀结尾且后缀前含字母或数字
func promptShape(line string, suffixes []string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.ContainsAny(trimmed, " \t") {
		return "", false
	}
	for _, suf := range suffixes {
		if !strings.HasSuffix(trimmed, suf) {
			continue
		}
		body := strings.TrimSuffix(trimmed, suf)
		if strings.IndexFunc(body, isAlnum) < 0 {
			return "", false
		}
		return body, true
	}
	return "", false
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// isPrompt 在 promptShape 基础上要求与首个提示符的主机名一致
func (s *shell) isPrompt(line string) bool {
	body, ok := promptShape(line, s.suffixes)
	if !ok {
		return false
	}
	return s.prefix == "" || strings.HasPrefix(body, s.prefix)
}

func isPasswordPrompt(line string) bool {
	lower := strings.ToLower(strings.TrimSpace(line))
	return strings.HasSuffix(lower, "password:")
}

// stripPrompt 去掉行首提示符，得到命令回显主体
func (s *shell) stripPrompt(line string) string {
	trimmed := strings.TrimSpace(line)
	if s.prefix == "" || !strings.HasPrefix(trimmed, s.prefix) {
		return trimmed
	}
	rest := trimmed[len(s.prefix):]
	for _, suf := range s.suffixes {
		if strings.HasPrefix(rest, suf) {
			return strings.TrimSpace(rest[len(suf):])
		}
	}
	return trimmed
}

// waitPrompt 等待登录后的首个提示符并记录主机名前缀；未出现时周期性发送回车诱发
func (s *shell) waitPrompt(ctx context.Context) error {
	deadline := time.NewTimer(s.timeout)
	defer deadline.Stop()
	nudge := time.NewTicker(promptNudgeInterval)
	defer nudge.Stop()
	nudges := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: no prompt within %s", ErrTimeout, s.timeout)
		case <-nudge.C:
			if nudges < promptNudgeMax {
				_, _ = s.stdin.Write([]byte("\r\n"))
				nudges++
			}
		case line, ok := <-s.lines:
			if !ok {
				return fmt.Errorf("%w: session closed before prompt", ErrUnreachable)
			}
			body, ok := promptShape(line, s.suffixes)
			if !ok {
				continue
			}
			s.prefix = body
			if nudges > 0 {
				s.drain()
			}
			return nil
		}
	}
}

// drain 丢弃诱发回车产生的多余提示符
func (s *shell) drain() {
	for {
		select {
		case _, ok := <-s.lines:
			if !ok {
				return
			}
		case <-time.After(200 * time.Millisecond):
			return
		}
	}
}

// run 发送一条命令并收集到下一个提示符为止的回显
func (s *shell) run(ctx context.Context, cmd string) (*CommandResult, error) {
	start := time.Now()
	if _, err := s.stdin.Write([]byte(cmd + "\r\n")); err != nil {
		return nil, fmt.Errorf("failed to write command %q: %w", cmd, err)
	}
	out, _, err := s.collect(ctx, cmd, nil)
	if err != nil {
		return nil, err
	}
	return &CommandResult{Command: cmd, Output: out, Duration: time.Since(start)}, nil
}

// enable 进入特权模式，结束提示符须为 "#"
func (s *shell) enable(ctx context.Context, secret string) error {
	if _, err := s.stdin.Write([]byte("enable\r\n")); err != nil {
		return fmt.Errorf("failed to write enable: %w", err)
	}
	onPassword := func(line string) {
		_, _ = s.stdin.Write([]byte(secret + "\r\n"))
	}
	_, prompt, err := s.collect(ctx, "enable", onPassword)
	if err != nil {
		return err
	}
	if !strings.HasSuffix(prompt, "#") {
		return fmt.Errorf("%w: prompt %q after enable", ErrEnable, prompt)
	}
	return nil
}

// collect 读取回显直到提示符，返回回显与结束提示符
func (s *shell) collect(ctx context.Context, cmd string, onPassword func(string)) (string, string, error) {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	var out strings.Builder
	echoPending := true
	for {
		select {
		case <-ctx.Done():
			return out.String(), "", ctx.Err()
		case <-timer.C:
			return out.String(), "", fmt.Errorf("%w: command %q produced no prompt within %s", ErrTimeout, cmd, s.timeout)
		case line, ok := <-s.lines:
			if !ok {
				return out.String(), "", fmt.Errorf("%w: session closed during %q", ErrUnreachable, cmd)
			}
			if echoPending {
				echoPending = false
				if strings.EqualFold(s.stripPrompt(line), strings.TrimSpace(cmd)) {
					continue
				}
			}
			if s.isPrompt(line) {
				return out.String(), strings.TrimSpace(line), nil
			}
			if onPassword != nil && isPasswordPrompt(line) {
				onPassword(line)
				continue
			}
			out.WriteString(line)
			out.WriteString("\n")
		}
	}
}
