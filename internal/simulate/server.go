package simulate

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/sshcollectorpro/fsmaudit/pkg/logger"
)

// Server 单台模拟设备的 SSH 服务
type Server struct {
	device   Device
	listener net.Listener
	hostKey  ssh.Signer
	log      *logrus.Entry

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// Start 启动模拟设备，监听 device.Listen
func Start(device Device) (*Server, error) {
	device.withDefaults()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to create host key signer: %w", err)
	}

	ln, err := net.Listen("tcp", device.Listen)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", device.Listen, err)
	}

	s := &Server{
		device:   device,
		listener: ln,
		hostKey:  signer,
		conns:    make(map[net.Conn]struct{}),
		log: logger.WithFields(logrus.Fields{
			"component": "simulate",
			"device":    device.Name,
			"addr":      ln.Addr().String(),
		}),
	}
	s.wg.Add(1)
	go s.serve()
	s.log.Info("Simulated device started")
	return s, nil
}

// Addr 返回实际监听地址
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Host 返回监听主机
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port 返回实际监听端口
func (s *Server) Port() int {
	_, p, _ := net.SplitHostPort(s.Addr())
	port, _ := strconv.Atoi(p)
	return port
}

// Device 返回设备描述
func (s *Server) Device() Device {
	return s.device
}

// Close 停止监听并断开所有会话
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.listener.Close()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("Simulated device stopped")
	return err
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.WithError(err).Warn("Accept failed")
			}
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go func(c net.Conn) {
			defer s.wg.Done()
			s.handleConn(c)
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
		}(conn)
	}
}

func (s *Server) serverConfig() *ssh.ServerConfig {
	check := func(user, pass string) error {
		if user == s.device.Username && pass == s.device.Password {
			return nil
		}
		return fmt.Errorf("access denied for %q", user)
	}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			return nil, check(meta.User(), string(password))
		},
		KeyboardInteractiveCallback: func(meta ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			answers, err := challenge(meta.User(), "", []string{"Password: "}, []bool{false})
			if err != nil {
				return nil, err
			}
			if len(answers) != 1 {
				return nil, errors.New("unexpected answer count")
			}
			return nil, check(meta.User(), answers[0])
		},
	}
	cfg.AddHostKey(s.hostKey)
	return cfg
}

func (s *Server) handleConn(nc net.Conn) {
	defer nc.Close()

	conn, chans, reqs, err := ssh.NewServerConn(nc, s.serverConfig())
	if err != nil {
		s.log.WithError(err).Debug("Handshake failed")
		return
	}
	defer conn.Close()
	s.log.WithField("user", conn.User()).Debug("Session authenticated")

	go ssh.DiscardRequests(reqs)

	for ch := range chans {
		if ch.ChannelType() != "session" {
			_ = ch.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := ch.Accept()
		if err != nil {
			s.log.WithError(err).Warn("Channel accept failed")
			continue
		}
		go s.handleSession(channel, requests)
	}
}

// handleSession 只支持 pty-req 与 shell，shell 启动后继续应答其余请求
func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	started := false
	for req := range requests {
		switch req.Type {
		case "pty-req":
			_ = req.Reply(true, nil)
		case "shell":
			if started {
				_ = req.Reply(false, nil)
				continue
			}
			started = true
			_ = req.Reply(true, nil)
			go func() {
				s.runShell(channel)
				_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
				_ = channel.Close()
			}()
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
	if !started {
		_ = channel.Close()
	}
}

// runShell 模拟 IOS 终端：回显输入行，输出命令结果后打印提示符（不换行）
func (s *Server) runShell(channel ssh.Channel) {
	dev := s.device
	privileged := !dev.EnableRequired
	prompt := func() string {
		if privileged {
			return dev.Hostname + "#"
		}
		return dev.Hostname + ">"
	}
	write := func(text string) bool {
		_, err := io.WriteString(channel, text)
		return err == nil
	}

	reader := bufio.NewReader(channel)
	readLine := func() (string, bool) {
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return "", false
		}
		return strings.TrimRight(line, "\r\n"), true
	}

	if !write("\r\n" + prompt()) {
		return
	}
	for {
		line, ok := readLine()
		if !ok {
			return
		}
		cmd := strings.TrimSpace(line)
		if !write(line + "\r\n") {
			return
		}

		switch {
		case cmd == "":
		case strings.EqualFold(cmd, "exit"), strings.EqualFold(cmd, "quit"), strings.EqualFold(cmd, "logout"):
			return
		case strings.EqualFold(cmd, "enable"):
			if !privileged {
				if !write("Password: ") {
					return
				}
				secret, ok := readLine()
				if !ok {
					return
				}
				if secret == dev.EnableSecret {
					privileged = true
				} else {
					s.log.Debug("Enable secret rejected")
					write("\r\n% Bad secrets\r\n")
				}
				write("\r\n")
			}
		case strings.HasPrefix(strings.ToLower(cmd), "terminal length"):
		default:
			out, found := dev.Output(cmd)
			if !found {
				out = "                   ^\r\n% Invalid input detected at '^' marker.\r\n\r\n"
			}
			if !write(out) {
				return
			}
		}
		if !write(prompt()) {
			return
		}
	}
}
