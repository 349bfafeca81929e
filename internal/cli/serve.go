package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openbridge/openbridge/internal/api"
	"github.com/openbridge/openbridge/internal/config"
	"github.com/openbridge/openbridge/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&a.host, "host", "", "bind host, overrides HOST")
	cmd.Flags().IntVar(&a.port, "port", 0, "bind port, overrides PORT")
	return cmd
}

func (a *app) runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.host != "" {
		cfg.Host = a.host
	}
	if a.port != 0 {
		cfg.Port = a.port
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		fmt.Fprintln(a.stderr, "openbridge configuration error")
		for _, err := range errs {
			fmt.Fprintf(a.stderr, "  - %v\n", err)
		}
		fmt.Fprintln(a.stderr, "Fix your environment variables or .env file and retry. Required: UPSTREAM_API_KEY.")
		return errors.New("invalid configuration")
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return err
	}
	defer logger.Sync()

	srv, err := api.New(cfg, logger)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	logger.Info("openbridge started",
		zap.String("addr", srv.Addr()),
		zap.String("state_backend", cfg.StateBackend),
		zap.Bool("trace_enabled", cfg.TraceEnabled))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
		return err
	}
	logger.Info("openbridge stopped")
	return nil
}
