// Package cli 实现 fsmaudit 命令行
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sshcollectorpro/fsmaudit/internal/config"
	"github.com/sshcollectorpro/fsmaudit/pkg/logger"
)

// app 各子命令共享的运行时状态
type app struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

// NewRootCmd 构建根命令及全部子命令
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "fsmaudit",
		Short:         "TextFSM template engine and Cisco IOS audit collector",
		Long:          "Parse semi-structured CLI output with TextFSM templates and audit Cisco IOS devices over SSH.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file (default: ./configs/fsmaudit.yaml or ./fsmaudit.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override log.level")

	root.AddCommand(
		newParseCmd(a),
		newJobCmd(a, "inventory", "Collect hostname, hardware, version, SNMP location and uptime"),
		newJobCmd(a, "mgmt", "Find the interface that carries each device's management address"),
		newServeCmd(a),
		newSimulateCmd(a),
	)
	return root
}

// Execute 运行命令行，出错时打印到 stderr 并返回退出码
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.cfg = cfg
	return nil
}
