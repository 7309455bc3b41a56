// This file is part of the SKA PST Send project.
//
// Distributed under the terms of the BSD 3-clause new license.
// See LICENSE for more info.

// Package scanprocess implements ScanProcess, the long-lived worker
// that drives per-scan local post-processing: invoking the external
// statistics binary for each quiescent pair and finalizing the
// metadata document once scan_completed appears.
package scanprocess

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ska-telescope/ska-pst-send/pkg/backoff"
	"github.com/ska-telescope/ska-pst-send/pkg/dataproduct"
	"github.com/ska-telescope/ska-pst-send/pkg/metrics"
	pstserrors "github.com/ska-telescope/ska-pst-send/pkg/pstsend/errors"
	"github.com/ska-telescope/ska-pst-send/pkg/scan"
	"github.com/ska-telescope/ska-pst-send/pkg/scanmanager"
	"github.com/ska-telescope/ska-pst-send/pkg/service/filesystem"
	"github.com/ska-telescope/ska-pst-send/pkg/statproc"
)

// Config parameterizes the worker's cadence and quiescence gate.
type Config struct {
	// LoopWait is how long the worker sleeps when it has nothing to do
	// (no current scan, or the current scan has no processable pairs).
	LoopWait time.Duration

	// MinimumAge is how long a pair's files must have been untouched
	// before the worker will invoke the stat binary on them.
	MinimumAge time.Duration
}

// DefaultConfig matches the historical loop_wait=2s, minimum_age=10s
// defaults.
func DefaultConfig() Config {
	return Config{LoopWait: 2 * time.Second, MinimumAge: 10 * time.Second}
}

// ScanProcess is the post-processing worker.
type ScanProcess struct {
	fs      filesystem.Service
	manager *scanmanager.ScanManager
	logger  *zap.SugaredLogger
	cfg     Config

	// unprocessable remembers, per scan, which pair keys have already
	// failed fatally so a later pass does not retry them forever.
	unprocessable map[string]map[string]bool
}

// New builds a ScanProcess bound to manager.
func New(fs filesystem.Service, manager *scanmanager.ScanManager, logger *zap.SugaredLogger, cfg Config) *ScanProcess {
	return &ScanProcess{
		fs:            fs,
		manager:       manager,
		logger:        logger,
		cfg:           cfg,
		unprocessable: make(map[string]map[string]bool),
	}
}

// Run drives the outer processing loop until ctx is
// cancelled, at which point it returns nil once its in-flight unit of
// work (one pair) has finished.
func (p *ScanProcess) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		s, lifecycle, ok := p.manager.CurrentForProcess()
		if !ok {
			if !sleep(ctx, p.cfg.LoopWait) {
				return nil
			}
			continue
		}

		if err := s.Refresh(ctx); err != nil {
			p.logger.Warnw("failed to refresh scan for processing", "scan", s.Triple().String(), "error", err)
			if !sleep(ctx, p.cfg.LoopWait) {
				return nil
			}
			continue
		}

		if err := p.processOnce(ctx, s, lifecycle); err != nil {
			if _, cancelled := err.(*pstserrors.CancelledError); cancelled {
				return nil
			}
			p.logger.Errorw("scan processing failed fatally, marking errored", "scan", s.Triple().String(), "error", err)
			metrics.SetScanState(s.Triple().String(), scan.StateErrored, lifecycle.Current())
			if evErr := lifecycle.SendEvent(ctx, scan.EventFail); evErr != nil {
				p.logger.Warnw("failed to transition scan to errored", "scan", s.Triple().String(), "error", evErr)
			}
			continue
		}

		if !sleep(ctx, p.cfg.LoopWait) {
			return nil
		}
	}
}

// processOnce performs one pass over the current scan: processing
// every processable pair, and finalizing once scan_completed has
// appeared and no pairs remain.
func (p *ScanProcess) processOnce(ctx context.Context, s *scan.VoltageRecorderScan, lifecycle *scan.Lifecycle) error {
	triple := s.Triple()

	if lifecycle.Current() == scan.StateRecording && s.IsScanCompleted() {
		if err := lifecycle.SendEvent(ctx, scan.EventScanCompleted); err != nil {
			return err
		}
		metrics.SetScanState(triple.String(), scan.StateScanCompleted, scan.StateRecording)
	}

	if err := p.processAvailablePairs(ctx, s); err != nil {
		return err
	}

	if !s.IsScanCompleted() {
		// Still recording; nothing more to do until scan_completed
		// appears or more pairs become quiescent.
		return nil
	}

	unprocessed := s.UnprocessedPairs()
	if len(unprocessed) > 0 {
		// Not all pairs are quiescent yet even though scan_completed
		// has appeared (e.g. the last pair's files were only just
		// closed); drain them on a later pass.
		return nil
	}

	return p.finalize(ctx, s, lifecycle)
}

// processAvailablePairs invokes the stat binary for every quiescent,
// not-yet-processed, not-already-unprocessable pair.
func (p *ScanProcess) processAvailablePairs(ctx context.Context, s *scan.VoltageRecorderScan) error {
	triple := s.Triple()
	now := time.Now()

	for _, pair := range s.UnprocessedPairs() {
		if p.isUnprocessable(triple, pair.Key) {
			continue
		}
		if !pair.IsQuiescent(now, p.cfg.MinimumAge) {
			continue
		}

		statPath := filepath.Join(s.Root(), "stat", pair.Key+".h5")
		cfg := backoff.DefaultConfig("stat:" + triple.String() + ":" + pair.Key)

		err := backoff.Retry(ctx, cfg, p.logger, func(attempt int) error {
			output, runErr := statproc.Run(ctx, p.fs, triple, pair.DataFile.Path, pair.WeightsFile.Path, statPath)
			if len(output) > 0 {
				p.logger.Debugw("stat binary output", "scan", triple.String(), "pair", pair.Key, "attempt", attempt, "output", string(output))
			}
			if runErr == nil {
				return nil
			}
			var subErr *pstserrors.SubprocessFailedError
			if errors.As(runErr, &subErr) && !subErr.Retryable {
				return backoff.NewPermanentError(runErr)
			}
			return runErr
		})
		if err != nil {
			if ctx.Err() != nil {
				return &pstserrors.CancelledError{Scan: triple, Op: "process pair " + pair.Key}
			}
			// A non-retryable SubprocessFailedError or an exhausted
			// retry budget on a nominally-retryable one both abort
			// this scan: it is marked errored and the worker moves on
			// to the next one. The pair is remembered as unprocessable
			// so a manual recovery pass does not retry it forever.
			p.markUnprocessable(triple, pair.Key)
			return err
		}

		if err := p.recordStat(ctx, s, pair.Key, statPath); err != nil {
			return err
		}
	}

	return nil
}

// recordStat updates the metadata document's processing section after
// a pair's stat file has been generated.
func (p *ScanProcess) recordStat(ctx context.Context, s *scan.VoltageRecorderScan, pairKey, statPath string) error {
	docPath := s.MetadataFile().Path
	doc, err := loadOrCreateDocument(ctx, p.fs, docPath, s.Triple())
	if err != nil {
		return err
	}
	doc.RecordStat(pairKey, statPath)
	if err := dataproduct.Save(ctx, p.fs, docPath, doc); err != nil {
		return &pstserrors.IoErrorError{Path: docPath, Scan: s.Triple(), Err: err}
	}
	s.MetadataFile().InvalidateChecksum()
	return nil
}

// finalize marks the metadata document's processing section complete
// and advances the scan's lifecycle to Processed.
func (p *ScanProcess) finalize(ctx context.Context, s *scan.VoltageRecorderScan, lifecycle *scan.Lifecycle) error {
	docPath := s.MetadataFile().Path
	doc, err := loadOrCreateDocument(ctx, p.fs, docPath, s.Triple())
	if err != nil {
		return err
	}

	doc.Processing.PairsExpected = len(s.EnumeratePairs())
	if doc.Processing.PairsCompleted < doc.Processing.PairsExpected {
		doc.Processing.PairsCompleted = doc.Processing.PairsExpected
	}
	doc.Finalize(time.Now())

	if err := dataproduct.Save(ctx, p.fs, docPath, doc); err != nil {
		return &pstserrors.IoErrorError{Path: docPath, Scan: s.Triple(), Err: err}
	}
	s.MetadataFile().InvalidateChecksum()

	if err := lifecycle.SendEvent(ctx, scan.EventProcessed); err != nil {
		return err
	}
	metrics.SetScanState(s.Triple().String(), scan.StateProcessed, scan.StateScanCompleted)
	p.logger.Infow("scan processing complete", "scan", s.Triple().String(), "pairs", doc.Processing.PairsExpected)
	return nil
}

func loadOrCreateDocument(ctx context.Context, fs filesystem.Service, path string, triple pstserrors.ScanTriple) (*dataproduct.Document, error) {
	exists, err := fs.PathExists(ctx, path)
	if err != nil {
		return nil, &pstserrors.IoErrorError{Path: path, Scan: triple, Err: err}
	}
	if !exists {
		return dataproduct.New(triple.ExecutionBlockID, 0), nil
	}
	return dataproduct.Load(ctx, fs, path)
}

func (p *ScanProcess) isUnprocessable(triple pstserrors.ScanTriple, key string) bool {
	keys, ok := p.unprocessable[triple.String()]
	return ok && keys[key]
}

func (p *ScanProcess) markUnprocessable(triple pstserrors.ScanTriple, key string) {
	keys, ok := p.unprocessable[triple.String()]
	if !ok {
		keys = make(map[string]bool)
		p.unprocessable[triple.String()] = keys
	}
	keys[key] = true
}

// sleep waits for d, or returns false early if ctx is cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
