// This file is part of the SKA PST Send project.
//
// Distributed under the terms of the BSD 3-clause new license.
// See LICENSE for more info.

// Command sdp_transfer discovers voltage recorder scans on a local
// capture filesystem, post-processes and replicates them to a remote
// filesystem, registers completed scans with the Data Product
// Dashboard, and reclaims local storage once every worker has finished
// with a scan.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ska-telescope/ska-pst-send/pkg/config"
	"github.com/ska-telescope/ska-pst-send/pkg/dashboard"
	"github.com/ska-telescope/ska-pst-send/pkg/logger"
	"github.com/ska-telescope/ska-pst-send/pkg/metrics"
	"github.com/ska-telescope/ska-pst-send/pkg/service/filesystem"
	"github.com/ska-telescope/ska-pst-send/pkg/supervisor"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run implements sdp_transfer's exit code contract:
// 0 on graceful shutdown, 1 on invalid arguments, 2 on unrecoverable
// runtime error.
func run(args []string) int {
	cfg, err := config.Parse(args)
	if err != nil {
		if _, ok := err.(*config.ValidationError); ok {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		// pflag.ErrHelp: usage has already been printed.
		return 0
	}

	if cfg.Verbose {
		os.Setenv("LOGGING_LEVEL", "debug")
	}
	logger.Initialize()
	log := logger.For(logger.ComponentSupervisor)

	var metricsServer interface{ Shutdown(context.Context) error }
	if cfg.MetricsAddr != "" {
		srv := metrics.SetupMetricsEndpoint(cfg.MetricsAddr, func(err error) {
			log.Errorw("metrics server failed", "error", err)
		})
		metricsServer = srv
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				log.Warnw("failed to shut down metrics server", "error", err)
			}
		}()
	}

	localFS := filesystem.NewDefaultService()
	remoteFS := filesystem.NewDefaultService()
	dashboardClient := dashboard.New(cfg.DataProductDashboard, logger.For(logger.ComponentDashboard))

	sup := supervisor.New(localFS, remoteFS, cfg.LocalPath, cfg.RemotePath, cfg.Subsystem, dashboardClient, log, supervisor.DefaultConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infow("starting sdp_transfer",
		"local_path", cfg.LocalPath, "remote_path", cfg.RemotePath, "subsystem", cfg.Subsystem,
		"dashboard_enabled", dashboardClient.Enabled())

	if err := sup.Run(ctx); err != nil {
		log.Errorw("sdp_transfer exited with error", "error", err)
		return 2
	}

	log.Info("sdp_transfer shut down gracefully")
	return 0
}
