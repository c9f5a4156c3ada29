package ssh

import (
	"context"
	"errors"
	"net"
	"strings"
)

// 连接失败分类
var (
	ErrUnreachable = errors.New("device unreachable")
	ErrTimeout     = errors.New("device timeout")
	ErrAuth        = errors.New("authentication failed")
	ErrEnable      = errors.New("enable mode not reached")
)

// Classify 将错误归类为 ErrUnreachable / ErrTimeout / ErrAuth / ErrEnable 之一，
// 无法归类时返回 nil
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{ErrAuth, ErrTimeout, ErrUnreachable, ErrEnable} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	var oe *net.OpError
	var de *net.DNSError
	if errors.As(err, &oe) || errors.As(err, &de) {
		return ErrUnreachable
	}
	return nil
}

func classifyDial(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ErrTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	return ErrUnreachable
}

func classifyHandshake(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	if strings.Contains(err.Error(), "unable to authenticate") {
		return ErrAuth
	}
	return ErrUnreachable
}
