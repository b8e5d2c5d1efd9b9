package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BadgerOps/rollcall/internal/backup"
	"github.com/BadgerOps/rollcall/internal/scheduler"
	"github.com/BadgerOps/rollcall/internal/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	serveListen     string
	serveNoSchedule bool
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the backup scheduler",
		Long: `Start the HTTP server exposing the backup API. When schedule.enabled is
set in the config, scheduled backups run in the same process at the
configured interval and old scheduled backups are rotated out.

By default, the server listens on the address configured in the config file
(default: 0.0.0.0:8080). Use --listen to override.`,
		Example: `  rollcall serve
  rollcall serve --listen 127.0.0.1:9000
  rollcall serve --no-schedule`,
		RunE: serveRun,
	}

	cmd.Flags().StringVar(&serveListen, "listen", "", "address to listen on (host:port, defaults to server.listen)")
	cmd.Flags().BoolVar(&serveNoSchedule, "no-schedule", false, "do not run scheduled backups in this process")

	return cmd
}

func serveRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalService == nil {
		return fmt.Errorf("backup service not initialized")
	}

	listen := serveListen
	if listen == "" {
		listen = globalCfg.Server.Listen
	}

	var sched *scheduler.Scheduler
	if globalCfg.Schedule.Enabled && !serveNoSchedule {
		period, err := backup.ParsePeriod(globalCfg.Schedule.Period)
		if err != nil {
			return err
		}
		interval, err := globalCfg.ScheduleInterval()
		if err != nil {
			return err
		}
		sched, err = scheduler.New(globalService, period, globalCfg.Schedule.Retention, interval, logger)
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}
	}

	logger.Info("server starting", "listen", listen, "data_dir", globalCfg.Server.DataDir, "scheduler", sched != nil)

	srv := server.NewServer(globalService, globalMetrics, globalCfg, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Printf("Starting server on %s...\n", listen)
		return srv.Start(listen)
	})

	if sched != nil {
		g.Go(func() error {
			return sched.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "cause", context.Cause(gctx))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Println("Server stopped gracefully")
	return nil
}
