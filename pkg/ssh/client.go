package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Config SSH 客户端配置
type Config struct {
	// ConnectTimeout 拨号与握手的总时间窗口
	ConnectTimeout time.Duration
	// CommandTimeout 单条命令等待提示符的时间窗口
	CommandTimeout time.Duration
	KeepAlive      time.Duration
}

// Client SSH 客户端，一台设备一个连接
type Client struct {
	config     *Config
	connection *ssh.Client
	mutex      sync.RWMutex
	done       chan struct{}
	info       *ConnectionInfo
}

// ConnectionInfo SSH 连接信息
type ConnectionInfo struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"-"`
}

// Address 返回 host:port
func (i *ConnectionInfo) Address() string {
	return net.JoinHostPort(i.Host, fmt.Sprintf("%d", i.Port))
}

// CommandResult 命令执行结果
type CommandResult struct {
	Command  string        `json:"command"`
	Output   string        `json:"output"`
	Duration time.Duration `json:"duration"`
}

// NewClient 创建 SSH 客户端
func NewClient(config *Config) *Client {
	if config == nil {
		config = &Config{}
	}
	return &Client{config: config}
}

// clientConfig 兼容旧设备的算法列表
func clientConfig(info *ConnectionInfo, timeout time.Duration) *ssh.ClientConfig {
	cfg := &ssh.ClientConfig{
		User:            info.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
		Config: ssh.Config{
			KeyExchanges: []string{
				"curve25519-sha256",
				"curve25519-sha256@libssh.org",
				"ecdh-sha2-nistp256",
				"ecdh-sha2-nistp384",
				"ecdh-sha2-nistp521",
				"diffie-hellman-group14-sha256",
				"diffie-hellman-group14-sha1",
				"diffie-hellman-group1-sha1",
				"diffie-hellman-group-exchange-sha256",
				"diffie-hellman-group-exchange-sha1",
			},
			Ciphers: []string{
				"aes128-gcm@openssh.com",
				"aes256-gcm@openssh.com",
				"aes128-ctr",
				"aes192-ctr",
				"aes256-ctr",
				"aes128-cbc",
				"3des-cbc",
			},
			MACs: []string{
				"hmac-sha2-256-etm@openssh.com",
				"hmac-sha2-256",
				"hmac-sha1",
				"hmac-sha1-96",
			},
		},
		HostKeyAlgorithms: []string{
			"rsa-sha2-256",
			"rsa-sha2-512",
			"ssh-rsa",
			"ecdsa-sha2-nistp256",
			"ecdsa-sha2-nistp384",
			"ecdsa-sha2-nistp521",
			"ssh-ed25519",
		},
	}

	// 同时尝试 password 与 keyboard-interactive（Cisco 设备常用后者）
	cfg.Auth = []ssh.AuthMethod{
		ssh.Password(info.Password),
		ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range questions {
				answers[i] = info.Password
			}
			return answers, nil
		}),
	}
	return cfg
}

// Connect 连接 SSH 服务器。失败时错误链中包含 ErrUnreachable / ErrTimeout / ErrAuth 之一。
func (c *Client) Connect(ctx context.Context, info *ConnectionInfo) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.connection != nil {
		return errors.New("ssh client already connected")
	}
	c.info = info
	address := info.Address()

	if c.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", classifyDial(ctx, err), address, err)
	}

	// 握手阶段同样受 ctx 截止时间约束
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, clientConfig(info, c.config.ConnectTimeout))
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: handshake %s: %w", classifyHandshake(err), address, err)
	}
	_ = conn.SetDeadline(time.Time{})

	c.connection = ssh.NewClient(sshConn, chans, reqs)
	c.done = make(chan struct{})
	go c.keepAlive(c.connection, c.done)
	return nil
}

// Close 关闭 SSH 连接
func (c *Client) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.connection == nil {
		return nil
	}
	close(c.done)
	err := c.connection.Close()
	c.connection = nil
	return err
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	c.mutex.RLock()
	conn := c.connection
	c.mutex.RUnlock()
	if conn == nil {
		return false
	}
	_, _, err := conn.SendRequest("keepalive@openssh.com", false, nil)
	return err == nil
}

// keepAlive 定期发送保活请求，连接断开后退出
func (c *Client) keepAlive(conn *ssh.Client, done <-chan struct{}) {
	if c.config.KeepAlive <= 0 {
		return
	}
	ticker := time.NewTicker(c.config.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if _, _, err := conn.SendRequest("keepalive@openssh.com", false, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) newSession() (*ssh.Session, error) {
	c.mutex.RLock()
	conn := c.connection
	c.mutex.RUnlock()
	if conn == nil {
		return nil, errors.New("SSH connection not established")
	}

	// 部分设备在登录后立即打开通道会被拒绝，短暂退避后重试
	backoffs := []time.Duration{0, 200 * time.Millisecond, 500 * time.Millisecond}
	var lastErr error
	for _, d := range backoffs {
		if d > 0 {
			time.Sleep(d)
		}
		sess, err := conn.NewSession()
		if err == nil {
			return sess, nil
		}
		lastErr = err
		if errors.Is(err, io.EOF) {
			break
		}
	}
	return nil, fmt.Errorf("failed to create session: %w", lastErr)
}

func requestPty(session *ssh.Session) error {
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	var lastErr error
	for _, term := range []string{"vt100", "xterm", "dumb"} {
		if lastErr = session.RequestPty(term, 200, 24, modes); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("failed to request pty: %w", lastErr)
}

// sanitize 移除 ANSI 转义序列与不可见控制符，保留行首缩进
func sanitize(s string) string {
	b := make([]byte, 0, len(s))
	skip := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if skip {
			if (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') {
				skip = false
			}
			continue
		}
		if ch == 0x1b {
			skip = true
			continue
		}
		if ch < 0x20 && ch != '\t' {
			continue
		}
		b = append(b, ch)
	}
	return strings.TrimRight(string(b), " \t")
}
