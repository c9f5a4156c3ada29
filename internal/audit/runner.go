package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sshcollectorpro/fsmaudit/internal/config"
	"github.com/sshcollectorpro/fsmaudit/internal/inventory"
	"github.com/sshcollectorpro/fsmaudit/internal/util"
	"github.com/sshcollectorpro/fsmaudit/pkg/logger"
	"github.com/sshcollectorpro/fsmaudit/pkg/ssh"
)

// Credentials 设备登录凭据，所有设备共用
type Credentials struct {
	Username string
	Password string
	// Secret enable 密码，为空时使用 Password
	Secret string
}

// Options 运行参数
type Options struct {
	Credentials   Credentials
	Port          int
	Concurrent    int
	Retries       int
	RetryBackoff  time.Duration
	DeviceTimeout time.Duration
	SSH           ssh.Config
	Shell         ssh.ShellOptions
	Filter        util.LineFilter
}

// OptionsFromConfig 由配置构造运行参数
func OptionsFromConfig(cfg *config.Config, creds Credentials) Options {
	return Options{
		Credentials:   creds,
		Port:          cfg.SSH.Port,
		Concurrent:    cfg.Collector.Concurrent,
		Retries:       cfg.Collector.RetryFlags,
		RetryBackoff:  time.Second,
		DeviceTimeout: cfg.Collector.DeviceTimeout,
		SSH: ssh.Config{
			ConnectTimeout: cfg.SSH.ConnectTimeout,
			CommandTimeout: cfg.SSH.CommandTimeout,
			KeepAlive:      cfg.SSH.KeepAliveInterval,
		},
		Shell: ssh.ShellOptions{
			PromptSuffixes: cfg.SSH.PromptSuffixes,
			PreCommands:    cfg.SSH.DisablePagingCmds,
			ExitCommands:   cfg.SSH.ExitCommands,
		},
		Filter: util.LineFilter{
			Prefixes:        cfg.Collector.OutputFilter.Prefixes,
			Contains:        cfg.Collector.OutputFilter.Contains,
			CaseInsensitive: cfg.Collector.OutputFilter.CaseInsensitive,
		},
	}
}

// Archiver 保存原始回显
type Archiver interface {
	Archive(ctx context.Context, runID, device, command, output string) error
}

// Store 保存一次运行的结果
type Store interface {
	SaveRun(ctx context.Context, res *Result) error
}

// 失败类别
const (
	FailureUnreachable = "unreachable"
	FailureTimeout     = "timeout"
	FailureAuth        = "auth"
	FailureEnable      = "enable"
	FailureParse       = "parse"
	FailureOther       = "error"
)

// Failure 单台设备失败信息
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// DeviceReport 单台设备的处理结果
type DeviceReport struct {
	Device   string        `json:"device"`
	Rows     [][]string    `json:"rows"`
	Attempts int           `json:"attempts"`
	Failure  *Failure      `json:"failure,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result 一次运行的汇总，Reports 与设备清单顺序一致
type Result struct {
	RunID      string         `json:"run_id"`
	Job        string         `json:"job"`
	Header     []string       `json:"header"`
	Reports    []DeviceReport `json:"reports"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Rows 按设备顺序展开所有行
func (r *Result) Rows() [][]string {
	var rows [][]string
	for _, rep := range r.Reports {
		rows = append(rows, rep.Rows...)
	}
	return rows
}

// Failures 失败的设备报告
func (r *Result) Failures() []DeviceReport {
	var out []DeviceReport
	for _, rep := range r.Reports {
		if rep.Failure != nil {
			out = append(out, rep)
		}
	}
	return out
}

// Runner 对设备清单执行审计任务
type Runner struct {
	opts     Options
	archiver Archiver
	store    Store
}

// RunnerOption 可选组件
type RunnerOption func(*Runner)

// WithArchiver 归档原始回显
func WithArchiver(a Archiver) RunnerOption {
	return func(r *Runner) { r.archiver = a }
}

// WithStore 运行结束后持久化结果
func WithStore(s Store) RunnerOption {
	return func(r *Runner) { r.store = s }
}

// NewRunner 创建执行器
func NewRunner(opts Options, options ...RunnerOption) *Runner {
	if opts.Concurrent < 1 {
		opts.Concurrent = 1
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Port == 0 {
		opts.Port = 22
	}
	r := &Runner{opts: opts}
	for _, o := range options {
		o(r)
	}
	return r
}

// Run 处理全部设备。单台设备失败只记录在报告中，不中断其余设备；
// ctx 取消时尚未开始的设备记为失败并返回 ctx 错误。
func (r *Runner) Run(ctx context.Context, job Job, devices []inventory.Device) (*Result, error) {
	res := &Result{
		RunID:     uuid.NewString(),
		Job:       job.Name(),
		Header:    job.Header(),
		Reports:   make([]DeviceReport, len(devices)),
		StartedAt: time.Now(),
	}
	log := logger.WithFields(logrus.Fields{"run_id": res.RunID, "job": job.Name()})
	log.Infof("Audit started: %d devices, concurrency %d", len(devices), r.opts.Concurrent)

	g := new(errgroup.Group)
	g.SetLimit(r.opts.Concurrent)
	for i, dev := range devices {
		g.Go(func() error {
			res.Reports[i] = r.runDevice(ctx, res.RunID, job, dev)
			return nil
		})
	}
	_ = g.Wait()
	res.FinishedAt = time.Now()

	failed := len(res.Failures())
	log.Infof("Audit finished: %d ok, %d failed, %d rows in %s",
		len(devices)-failed, failed, len(res.Rows()), res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))

	if r.store != nil {
		if err := r.store.SaveRun(ctx, res); err != nil {
			log.WithError(err).Warn("Failed to persist audit run")
		}
	}
	return res, ctx.Err()
}

func (r *Runner) runDevice(ctx context.Context, runID string, job Job, dev inventory.Device) DeviceReport {
	start := time.Now()
	rep := DeviceReport{Device: dev.Entry}
	log := logger.WithDevice(dev.Entry).WithField("run_id", runID)

	var out *DeviceOutput
	var err error
	for attempt := 0; attempt <= r.opts.Retries; attempt++ {
		if ctx.Err() != nil {
			err = ctx.Err()
			break
		}
		if attempt > 0 {
			log.Debugf("Retrying %s (attempt %d)", dev.Entry, attempt+1)
			select {
			case <-ctx.Done():
			case <-time.After(r.opts.RetryBackoff):
			}
		}
		rep.Attempts++
		out, err = r.collect(ctx, runID, job, dev)
		if err == nil || !retryable(err) {
			break
		}
	}

	if err == nil {
		rep.Rows, err = job.Rows(out)
		if err != nil {
			err = &parseError{err: err}
		}
	}
	rep.Duration = time.Since(start)
	if err != nil {
		rep.Failure = classify(dev.Entry, err)
		log.WithError(err).Warn(rep.Failure.Message)
		return rep
	}
	log.Infof("Collected results for %s (%d rows)", dev.Entry, len(rep.Rows))
	return rep
}

// parseError 回显已取得但无法解析
type parseError struct{ err error }

func (e *parseError) Error() string { return "parse failed: " + e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

// retryable 认证与 enable 失败不重试
func retryable(err error) bool {
	switch ssh.Classify(err) {
	case ssh.ErrAuth, ssh.ErrEnable:
		return false
	}
	return !errors.Is(err, context.Canceled)
}

func classify(device string, err error) *Failure {
	f := &Failure{Err: err}
	var pe *parseError
	if errors.As(err, &pe) {
		f.Kind = FailureParse
		f.Message = fmt.Sprintf("Could not parse output from %s: %v", device, pe.err)
		return f
	}
	switch ssh.Classify(err) {
	case ssh.ErrUnreachable:
		f.Kind = FailureUnreachable
		f.Message = fmt.Sprintf("Could not connect to %s", device)
	case ssh.ErrTimeout:
		f.Kind = FailureTimeout
		f.Message = fmt.Sprintf("Timeout connecting to %s", device)
	case ssh.ErrAuth:
		f.Kind = FailureAuth
		f.Message = fmt.Sprintf("Authentication failed with %s", device)
	case ssh.ErrEnable:
		f.Kind = FailureEnable
		f.Message = fmt.Sprintf("Could not enter enable mode on %s", device)
	default:
		f.Kind = FailureOther
		f.Message = fmt.Sprintf("Failed to collect from %s: %v", device, err)
	}
	return f
}

// collect 登录设备执行任务命令，返回过滤并转码后的回显
func (r *Runner) collect(ctx context.Context, runID string, job Job, dev inventory.Device) (*DeviceOutput, error) {
	if r.opts.DeviceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.DeviceTimeout)
		defer cancel()
	}

	cfg := r.opts.SSH
	client := ssh.NewClient(&cfg)
	err := client.Connect(ctx, &ssh.ConnectionInfo{
		Host:     dev.Host,
		Port:     dev.PortOr(r.opts.Port),
		Username: r.opts.Credentials.Username,
		Password: r.opts.Credentials.Password,
	})
	if err != nil {
		return nil, err
	}
	defer client.Close()

	shellOpts := r.opts.Shell
	shellOpts.Enable = job.NeedsEnable()
	shellOpts.EnablePassword = r.opts.Credentials.Secret
	if shellOpts.EnablePassword == "" {
		shellOpts.EnablePassword = r.opts.Credentials.Password
	}
	results, err := client.RunShell(ctx, job.Commands(), shellOpts)
	if err != nil {
		return nil, err
	}

	out := &DeviceOutput{Device: dev, Outputs: make(map[string]string, len(results))}
	for _, res := range results {
		text := util.EnsureUTF8(r.opts.Filter.Apply(res.Output))
		out.Outputs[res.Command] = text
		logger.DebugCommandOutput(dev.Entry, res.Command, text, 5)
		if r.archiver != nil {
			if err := r.archiver.Archive(ctx, runID, dev.Entry, res.Command, text); err != nil {
				logger.WithDevice(dev.Entry).WithError(err).Warnf("Failed to archive output of %q", res.Command)
			}
		}
	}
	return out, nil
}
