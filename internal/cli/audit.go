package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gorm.io/gorm"

	"github.com/sshcollectorpro/fsmaudit/internal/audit"
	"github.com/sshcollectorpro/fsmaudit/internal/config"
	"github.com/sshcollectorpro/fsmaudit/internal/database"
	"github.com/sshcollectorpro/fsmaudit/internal/inventory"
	"github.com/sshcollectorpro/fsmaudit/internal/output"
	"github.com/sshcollectorpro/fsmaudit/internal/storage"
	"github.com/sshcollectorpro/fsmaudit/internal/templates"
	"github.com/sshcollectorpro/fsmaudit/pkg/logger"
	"github.com/sshcollectorpro/fsmaudit/pkg/textfsm"
)

// 凭据环境变量，未设置时交互输入
const (
	envUsername = config.EnvPrefix + "_USERNAME"
	envPassword = config.EnvPrefix + "_PASSWORD"
	envSecret   = config.EnvPrefix + "_SECRET"
)

type jobFlags struct {
	devices    string
	output     string
	username   string
	concurrent int
	retries    int
}

func newJobCmd(a *app, name, short string) *cobra.Command {
	f := &jobFlags{}
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, a, name, f)
		},
	}
	cmd.Flags().StringVarP(&f.devices, "devices", "d", "", "Device list file, one host or host:port per line")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Output CSV file, '-' for stdout (default: output.csv_path or stdout)")
	cmd.Flags().StringVarP(&f.username, "username", "u", "", "Login username (default: $"+envUsername+" or prompt)")
	cmd.Flags().IntVar(&f.concurrent, "concurrent", 0, "Devices processed at once (default: collector.concurrent)")
	cmd.Flags().IntVar(&f.retries, "retries", -1, "Connection retries per device (default: collector.retry_flags)")
	_ = cmd.MarkFlagRequired("devices")
	return cmd
}

func runJob(cmd *cobra.Command, a *app, name string, f *jobFlags) error {
	cfg := a.cfg
	if f.concurrent > 0 {
		cfg.Collector.Concurrent = f.concurrent
	}
	if f.retries >= 0 {
		cfg.Collector.RetryFlags = f.retries
	}

	devices, err := inventory.ReadFile(f.devices)
	if err != nil {
		return err
	}
	reg := templates.NewRegistry(cfg.Templates.Dir)
	job, err := audit.NewJob(name, reg, textfsm.WithMaxReevaluations(cfg.Templates.MaxReevaluations))
	if err != nil {
		return err
	}

	creds, err := promptCredentials(cmd.InOrStdin(), cmd.ErrOrStderr(), f.username)
	if err != nil {
		return err
	}

	runOpts, cleanup, err := runnerOptions(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	csvPath := f.output
	if csvPath == "" {
		csvPath = cfg.Output.CSVPath
	}
	var cw *output.CSVWriter
	if csvPath == "" || csvPath == "-" {
		cw, err = output.NewCSVWriter(nopCloser{cmd.OutOrStdout()}, job.Header())
	} else {
		cw, err = output.CreateCSV(csvPath, job.Header())
	}
	if err != nil {
		return err
	}
	// 出错提前返回时兜底关闭，正常路径的关闭错误由下方返回
	defer cw.Close()

	res, runErr := audit.NewRunner(audit.OptionsFromConfig(cfg, creds), runOpts...).Run(cmd.Context(), job, devices)
	for _, rep := range res.Reports {
		if rep.Failure != nil || len(rep.Rows) == 0 {
			continue
		}
		if err := cw.WriteRows(rep.Rows); err != nil {
			return err
		}
		logger.Infof("Wrote results for %s", rep.Device)
	}
	if err := cw.Close(); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}

	failed := len(res.Failures())
	logger.Infof("Run %s: %d rows, %d of %d devices failed", res.RunID, cw.Rows(), failed, len(devices))
	if failed == len(devices) && failed > 0 {
		return fmt.Errorf("all %d devices failed", failed)
	}
	return nil
}

// runnerOptions 按配置启用持久化与原始回显归档
func runnerOptions(cfg *config.Config) ([]audit.RunnerOption, func(), error) {
	var opts []audit.RunnerOption
	var gdb *gorm.DB
	cleanup := func() {
		if gdb == nil {
			return
		}
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	}

	if cfg.Database.SQLite.Path != "" {
		var err error
		gdb, err = database.Open(cfg.Database.SQLite)
		if err != nil {
			return nil, cleanup, err
		}
		opts = append(opts, audit.WithStore(database.NewRunStore(gdb)))
	}
	if cfg.Storage.Minio.Host != "" {
		archive, err := storage.NewRawArchive(cfg.Storage.Minio)
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		opts = append(opts, audit.WithArchiver(archive))
	}
	return opts, cleanup, nil
}

// promptCredentials 依次取参数、环境变量，最后交互输入。
// 标准输入为终端时密码不回显。
func promptCredentials(in io.Reader, out io.Writer, username string) (audit.Credentials, error) {
	reader := bufio.NewReader(in)
	creds := audit.Credentials{
		Username: username,
		Password: os.Getenv(envPassword),
		Secret:   os.Getenv(envSecret),
	}
	if creds.Username == "" {
		creds.Username = os.Getenv(envUsername)
	}

	var err error
	if creds.Username == "" {
		if creds.Username, err = readLine(reader, out, "Username: ", false, in); err != nil {
			return creds, err
		}
		if creds.Username == "" {
			return creds, fmt.Errorf("username is required")
		}
	}
	if creds.Password == "" {
		if creds.Password, err = readLine(reader, out, "Password: ", true, in); err != nil {
			return creds, err
		}
	}
	if creds.Secret == "" {
		if creds.Secret, err = readLine(reader, out, "Secret (press enter if not in use): ", true, in); err != nil {
			return creds, err
		}
	}
	return creds, nil
}

func readLine(reader *bufio.Reader, out io.Writer, prompt string, secret bool, in io.Reader) (string, error) {
	fmt.Fprint(out, prompt)
	if f, ok := in.(*os.File); ok && secret && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
