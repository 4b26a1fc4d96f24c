package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/md-rashed-zaman/apptengine/libs/db"
	"github.com/md-rashed-zaman/apptengine/libs/grpcx"
	"github.com/md-rashed-zaman/apptengine/libs/runtime"
	"github.com/md-rashed-zaman/apptengine/services/booking-service/migrations"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.requireDatabase(); err != nil {
				return err
			}
			logger := runtime.NewLogger(cfg.Service, cfg.Env)

			pool, err := db.Open(cmd.Context(), cfg.DatabaseURL, cfg.DB)
			if err != nil {
				return err
			}
			defer pool.Close()
			return db.Migrate(cmd.Context(), pool, migrations.FS, ".", logger)
		},
	}
}

func sweepCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one auto-completion sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			now := time.Now()
			if at != "" {
				if now, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("--at must be RFC3339: %w", err)
				}
			}
			logger := runtime.NewLogger(cfg.Service, cfg.Env)

			eng, err := openEngine(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer eng.pool.Close()

			res, err := eng.manager.AutoCompleteSweep(cmd.Context(), now)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "completed=%d failed=%d\n", res.Count(), len(res.Failures))
			for _, f := range res.Failures {
				fmt.Fprintf(cmd.ErrOrStderr(), "appointment %s: %v\n", f.AppointmentID, f.Err)
			}
			if len(res.Failures) > 0 {
				return fmt.Errorf("%d appointments could not be completed", len(res.Failures))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "sweep as of this RFC3339 instant instead of now")
	return cmd
}

func healthcheckCmd() *cobra.Command {
	var (
		addr    string
		service string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe the gRPC health service of a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				addr = net.JoinHostPort("127.0.0.1", cfg.GRPCPort)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			status, err := grpcx.CheckHealth(ctx, addr, service, timeout)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status.String())
			if status != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("service %q is %s", service, status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "host:port of the gRPC health service (default 127.0.0.1:$GRPC_PORT)")
	cmd.Flags().StringVar(&service, "service", "", "service name to check; empty checks the whole server")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "probe timeout")
	return cmd
}
