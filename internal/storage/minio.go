package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sshcollectorpro/fsmaudit/internal/config"
)

// ErrNotConfigured 未配置对象存储
var ErrNotConfigured = errors.New("minio storage not configured")

// RawArchive 将设备原始回显写入 MinIO：{prefix}/{run_id}/{device}/{command}.txt
type RawArchive struct {
	client   *minio.Client
	endpoint string
	bucket   string
	prefix   string
	backoffs []time.Duration

	mu      sync.Mutex
	ensured bool
}

// NewRawArchive 按配置创建归档器，Host 为空时返回 ErrNotConfigured
func NewRawArchive(cfg config.MinioConfig) (*RawArchive, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" || cfg.Port <= 0 {
		return nil, ErrNotConfigured
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("%w: bucket is empty", ErrNotConfigured)
	}
	endpoint := net.JoinHostPort(host, fmt.Sprintf("%d", cfg.Port))
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   32,
	}
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.Secure,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client init failed: %w", err)
	}
	return &RawArchive{
		client:   cli,
		endpoint: endpoint,
		bucket:   bucket,
		prefix:   strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
		backoffs: []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second},
	}, nil
}

// ObjectKey 构造对象路径，设备与命令中的非法字符替换为 "_"
func ObjectKey(prefix, runID, device, command string) string {
	parts := []string{}
	if p := strings.Trim(strings.TrimSpace(prefix), "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, slug(runID), slug(device), slug(command)+".txt")
	return path.Join(parts...)
}

// slug show ip int brief -> show_ip_int_brief
func slug(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '-'
		if ok {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" || out == "." || out == ".." {
		return "_"
	}
	return out
}

// Archive 写入一条原始回显，失败时按退避重试
func (a *RawArchive) Archive(ctx context.Context, runID, device, command, output string) error {
	if err := a.fastCheck(ctx); err != nil {
		return fmt.Errorf("minio connectivity failed to %s: %w", a.endpoint, err)
	}
	if err := a.ensureBucket(ctx); err != nil {
		return fmt.Errorf("minio ensure bucket failed: %w", err)
	}

	key := ObjectKey(a.prefix, runID, device, command)
	data := []byte(output)
	var lastErr error
	for i, backoff := range a.backoffs {
		attemptCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := a.client.PutObject(attemptCtx, a.bucket, key, bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"})
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if i == len(a.backoffs)-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("minio put object %s failed after retries: %w", key, lastErr)
}

func (a *RawArchive) fastCheck(ctx context.Context) error {
	d := &net.Dialer{Timeout: 3 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", a.endpoint)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (a *RawArchive) ensureBucket(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ensured {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	exists, err := a.client.BucketExists(cctx, a.bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := a.client.MakeBucket(cctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return err
		}
	}
	a.ensured = true
	return nil
}
