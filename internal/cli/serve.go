package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/sshcollectorpro/fsmaudit/api/router"
	"github.com/sshcollectorpro/fsmaudit/internal/audit"
	"github.com/sshcollectorpro/fsmaudit/internal/database"
	"github.com/sshcollectorpro/fsmaudit/internal/storage"
	"github.com/sshcollectorpro/fsmaudit/internal/templates"
	"github.com/sshcollectorpro/fsmaudit/pkg/logger"
)

func newServeCmd(a *app) *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if host != "" {
				a.cfg.Server.Host = host
			}
			if port > 0 {
				a.cfg.Server.Port = port
			}
			return runServe(cmd.Context(), a)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Listen host (default: server.host)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (default: server.port)")
	return cmd
}

func runServe(ctx context.Context, a *app) error {
	cfg := a.cfg
	logger.Infof("Starting fsmaudit API on %s", cfg.GetServerAddr())

	reg := templates.NewRegistry(cfg.Templates.Dir)
	if cfg.Templates.Watch && cfg.Templates.Dir != "" {
		if err := reg.Watch(ctx); err != nil {
			logger.Warnf("Template watch disabled: %v", err)
		} else {
			logger.WithField("dir", cfg.Templates.Dir).Info("Watching template dir")
		}
	}

	var gdb *gorm.DB
	if cfg.Database.SQLite.Path != "" {
		if err := database.InitSQLite(cfg.Database.SQLite); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer database.Close()
		gdb = database.GetDB()
	}

	var archiver audit.Archiver
	if cfg.Storage.Minio.Host != "" {
		archive, err := storage.NewRawArchive(cfg.Storage.Minio)
		if err != nil {
			return err
		}
		archiver = archive
	}

	r := router.SetupRouter(router.Dependencies{
		Registry:         reg,
		AuditOptions:     audit.OptionsFromConfig(cfg, audit.Credentials{}),
		MaxReevaluations: cfg.Templates.MaxReevaluations,
		DB:               gdb,
		Archiver:         archiver,
		Mode:             cfg.Server.Mode,
	})

	server := &http.Server{
		Addr:           cfg.GetServerAddr(),
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Server listening on %s (mode %s)", server.Addr, cfg.Server.Mode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server exited")
	return nil
}
