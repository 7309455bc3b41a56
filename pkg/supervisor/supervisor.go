// This file is part of the SKA PST Send project.
//
// Distributed under the terms of the BSD 3-clause new license.
// See LICENSE for more info.

// Package supervisor implements SdpTransfer, the top-level orchestrator
// that owns a ScanManager and the two long-lived workers built on top
// of it, drives Dashboard registration, and coordinates graceful
// shutdown.
package supervisor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ska-telescope/ska-pst-send/pkg/dashboard"
	"github.com/ska-telescope/ska-pst-send/pkg/dataproduct"
	"github.com/ska-telescope/ska-pst-send/pkg/scanmanager"
	"github.com/ska-telescope/ska-pst-send/pkg/scanprocess"
	"github.com/ska-telescope/ska-pst-send/pkg/scantransfer"
	"github.com/ska-telescope/ska-pst-send/pkg/service/filesystem"
)

// Config parameterizes the supervisor's own poll cadence. The two
// workers it starts carry their own Config values.
type Config struct {
	// PollInterval is how often the supervisor discovers/orders/GCs
	// scans and attempts Dashboard registration.
	PollInterval time.Duration
}

// DefaultConfig matches the historical 10-second scan manager poll
// cadence.
func DefaultConfig() Config {
	return Config{PollInterval: 10 * time.Second}
}

// SdpTransfer wires a ScanManager, a ScanProcess, a ScanTransfer and a
// Dashboard client together into the single running sdp_transfer
// process.
type SdpTransfer struct {
	manager   *scanmanager.ScanManager
	process   *scanprocess.ScanProcess
	transfer  *scantransfer.ScanTransfer
	dashboard *dashboard.Client
	localFS   filesystem.Service
	cfg       Config
	logger    *zap.SugaredLogger
}

// New builds an SdpTransfer for one (localRoot, remoteRoot, subsystem)
// deployment. localFS and remoteFS may be the same Service value when
// both trees are reachable from the same host.
func New(localFS, remoteFS filesystem.Service, localRoot, remoteRoot, subsystem string, dashboardClient *dashboard.Client, logger *zap.SugaredLogger, cfg Config) *SdpTransfer {
	manager := scanmanager.New(localFS, localRoot, subsystem, logger)
	process := scanprocess.New(localFS, manager, logger, scanprocess.DefaultConfig())
	transfer := scantransfer.New(localFS, remoteFS, manager, remoteRoot, logger, scantransfer.DefaultConfig())

	return &SdpTransfer{
		manager:   manager,
		process:   process,
		transfer:  transfer,
		dashboard: dashboardClient,
		localFS:   localFS,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run starts both workers and the discovery/registration loop, blocking
// until ctx is cancelled. It waits for both workers to finish their
// in-flight unit of work before returning, then logs a shutdown report
// listing any scans left in the errored state.
func (s *SdpTransfer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	var processErr, transferErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		processErr = s.process.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		transferErr = s.transfer.Run(ctx)
	}()

	s.logger.Info("sdp_transfer running")
	pollErr := s.pollLoop(ctx)

	wg.Wait()
	s.reportShutdown()

	if pollErr != nil {
		return pollErr
	}
	if processErr != nil {
		return processErr
	}
	return transferErr
}

// pollLoop drives ScanManager.Poll and Dashboard registration until ctx
// is cancelled.
func (s *SdpTransfer) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.manager.Poll(ctx); err != nil {
			s.logger.Warnw("scan manager poll failed", "error", err)
		}
		s.registerCompletedScans(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// registerCompletedScans attempts Dashboard registration for every
// scan waiting on it. When no Dashboard is configured, scans are marked
// registered unconditionally so garbage collection is not blocked on an
// endpoint the operator chose not to use.
func (s *SdpTransfer) registerCompletedScans(ctx context.Context) {
	for _, sc := range s.manager.PendingRegistration() {
		triple := sc.Triple()

		if s.dashboard == nil || !s.dashboard.Enabled() {
			if err := s.manager.MarkRegistered(ctx, triple); err != nil {
				s.logger.Warnw("failed to advance unregistered scan to deletable", "scan", triple.String(), "error", err)
			}
			continue
		}

		doc, err := dataproduct.Load(ctx, s.localFS, sc.MetadataFile().Path)
		if err != nil {
			s.logger.Warnw("failed to load metadata document for registration", "scan", triple.String(), "error", err)
			continue
		}

		if err := s.dashboard.Register(ctx, triple, doc); err != nil {
			s.logger.Warnw("dashboard registration failed, will retry next poll", "scan", triple.String(), "error", err)
			continue
		}

		if err := s.manager.MarkRegistered(ctx, triple); err != nil {
			s.logger.Warnw("failed to advance registered scan to deletable", "scan", triple.String(), "error", err)
		}
	}
}

// reportShutdown logs every scan left in the errored state.
func (s *SdpTransfer) reportShutdown() {
	errored := s.manager.ErroredScans()
	if len(errored) == 0 {
		s.logger.Info("sdp_transfer shut down cleanly, no errored scans")
		return
	}

	ids := make([]string, len(errored))
	for i, triple := range errored {
		ids[i] = triple.String()
	}
	s.logger.Errorw("sdp_transfer shut down with errored scans", "count", len(errored), "scans", ids)
}
