// This file is part of the SKA PST Send project.
//
// Distributed under the terms of the BSD 3-clause new license.
// See LICENSE for more info.

// Package scantransfer implements ScanTransfer, the long-lived worker
// that replicates a scan's artifacts from the local capture filesystem
// to the remote SDP filesystem with checksum verification.
package scantransfer

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ska-telescope/ska-pst-send/pkg/backoff"
	"github.com/ska-telescope/ska-pst-send/pkg/metrics"
	pstserrors "github.com/ska-telescope/ska-pst-send/pkg/pstsend/errors"
	"github.com/ska-telescope/ska-pst-send/pkg/scan"
	"github.com/ska-telescope/ska-pst-send/pkg/scanmanager"
	"github.com/ska-telescope/ska-pst-send/pkg/service/filesystem"
)

// Config parameterizes the worker's cadence.
type Config struct {
	// LoopWait is how long the worker sleeps between passes over the
	// current scan.
	LoopWait time.Duration
}

// DefaultConfig matches the historical 1-second poll between
// transfer passes.
func DefaultConfig() Config {
	return Config{LoopWait: time.Second}
}

// ScanTransfer is the replication worker.
type ScanTransfer struct {
	localFS  filesystem.Service
	remoteFS filesystem.Service
	manager  *scanmanager.ScanManager
	logger   *zap.SugaredLogger
	cfg      Config

	// remoteRoot is the remote tree's root; the remote scan directory
	// is <remoteRoot>/<eb_id>/<subsystem_id>/<scan_id>, mirroring the
	// local layout exactly.
	remoteRoot string
}

// New builds a ScanTransfer bound to manager, replicating into
// remoteRoot via remoteFS (which may be the same Service as localFS
// when both trees live on the same host, or a distinct implementation
// for a mounted remote filesystem).
func New(localFS, remoteFS filesystem.Service, manager *scanmanager.ScanManager, remoteRoot string, logger *zap.SugaredLogger, cfg Config) *ScanTransfer {
	return &ScanTransfer{
		localFS:    localFS,
		remoteFS:   remoteFS,
		manager:    manager,
		logger:     logger,
		cfg:        cfg,
		remoteRoot: remoteRoot,
	}
}

// Run drives the outer transfer loop until ctx is cancelled.
func (t *ScanTransfer) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		local, lifecycle, ok := t.manager.CurrentForTransfer()
		if !ok {
			if !sleep(ctx, t.cfg.LoopWait) {
				return nil
			}
			continue
		}

		if err := local.Refresh(ctx); err != nil {
			t.logger.Warnw("failed to refresh scan for transfer", "scan", local.Triple().String(), "error", err)
			if !sleep(ctx, t.cfg.LoopWait) {
				return nil
			}
			continue
		}

		remote := t.remoteScanFor(local)
		if err := t.transferOnce(ctx, local, remote, lifecycle); err != nil {
			if _, cancelled := err.(*pstserrors.CancelledError); cancelled {
				return nil
			}
			var inv *pstserrors.InvariantViolationError
			if errors.As(err, &inv) {
				t.logger.Errorw("invariant violation, aborting transfer for scan", "scan", local.Triple().String(), "error", err)
				metrics.SetScanState(local.Triple().String(), scan.StateErrored, lifecycle.Current())
				_ = lifecycle.SendEvent(ctx, scan.EventFail)
				continue
			}
			t.logger.Warnw("transfer pass failed, will retry next cycle", "scan", local.Triple().String(), "error", err)
		}

		if !sleep(ctx, t.cfg.LoopWait) {
			return nil
		}
	}
}

// remoteScanFor constructs the Scan view of local's remote counterpart.
// It is built fresh per pass rather than cached on the ScanManager, so
// a stale remote root is never reused across passes.
func (t *ScanTransfer) remoteScanFor(local *scan.VoltageRecorderScan) *scan.VoltageRecorderScan {
	triple := local.Triple()
	remoteRoot := filepath.Join(t.remoteRoot, triple.ExecutionBlockID, triple.SubsystemID, triple.ScanID)
	return scan.NewVoltageRecorderScan(t.remoteFS, remoteRoot, triple)
}

// transferOnce performs one pass: ensure the remote tree exists, copy
// every untransferred file in order, and write transfer_completed once
// nothing remains and processing has finished.
func (t *ScanTransfer) transferOnce(ctx context.Context, local, remote *scan.VoltageRecorderScan, lifecycle *scan.Lifecycle) error {
	if err := t.remoteFS.EnsureDirectory(ctx, remote.Root()); err != nil {
		return &pstserrors.IoErrorError{Path: remote.Root(), Scan: local.Triple(), Err: err}
	}
	if err := remote.Refresh(ctx); err != nil {
		return err
	}

	untransferred, err := local.UntransferredFiles(ctx, remote)
	if err != nil {
		return err
	}

	for _, f := range untransferred {
		if err := t.copyOne(ctx, local, remote, f); err != nil {
			// A single file's retry budget exhausted marks this file
			// errored for this pass; move on to the next file rather
			// it is retried again next pass since it will still
			// appear in untransferred_files.
			t.logger.Warnw("file transfer failed, will retry next pass", "scan", local.Triple().String(), "file", f.Path, "error", err)
			continue
		}
	}

	processed, err := local.IsProcessingCompleted(ctx, t.localFS)
	if err != nil {
		return err
	}

	remaining, err := local.UntransferredFiles(ctx, remote)
	if err != nil {
		return err
	}

	if len(remaining) > 0 || !processed {
		return nil
	}

	return t.writeTransferCompleted(ctx, local, remote, lifecycle)
}

// copyOne copies to a sibling .part name, verifies by checksum,
// atomically renames on match, and retries on mismatch.
func (t *ScanTransfer) copyOne(ctx context.Context, local, remote *scan.VoltageRecorderScan, f *scan.VoltageRecorderFile) error {
	triple := local.Triple()
	rel, err := filepath.Rel(local.Root(), f.Path)
	if err != nil {
		return &pstserrors.IoErrorError{Path: f.Path, Scan: triple, Err: err}
	}
	remotePath := filepath.Join(remote.Root(), rel)
	partPath := remotePath + ".part"

	if err := t.remoteFS.EnsureDirectory(ctx, filepath.Dir(remotePath)); err != nil {
		return &pstserrors.IoErrorError{Path: remotePath, Scan: triple, Err: err}
	}

	cfg := backoff.FileConfig("transfer:" + triple.String() + ":" + rel)
	return backoff.Retry(ctx, cfg, t.logger, func(attempt int) error {
		if err := t.copyChunked(ctx, f.Path, partPath); err != nil {
			return err
		}

		localSum, err := f.Checksum(ctx)
		if err != nil {
			return err
		}
		remoteFile := scan.NewFile(partPath, f.Kind, triple)
		if err := remoteFile.Stat(ctx, t.remoteFS); err != nil {
			return err
		}
		remoteSum, err := remoteFile.Checksum(ctx)
		if err != nil {
			return err
		}

		if localSum != remoteSum || f.Size() != remoteFile.Size() {
			_ = t.remoteFS.Remove(ctx, partPath)
			return backoff.NewTransientError(&pstserrors.ChecksumMismatchError{
				Path: remotePath, Scan: triple, LocalChecksum: localSum, RemoteChecksum: remoteSum,
			})
		}

		if err := t.remoteFS.Rename(ctx, partPath, remotePath); err != nil {
			return &pstserrors.IoErrorError{Path: remotePath, Scan: triple, Err: err}
		}
		metrics.AddBytesTransferred(triple.String(), f.Size())
		return nil
	})
}

// copyChunked streams src (read via the local filesystem service) into
// dst (written via the remote filesystem service) in 1 MiB chunks,
// yielding to ctx cancellation between chunks.
func (t *ScanTransfer) copyChunked(ctx context.Context, src, dst string) error {
	const chunkSize = 1 << 20

	var offset int64
	first := true
	for {
		if ctx.Err() != nil {
			return &pstserrors.CancelledError{Op: "copy " + src}
		}

		chunk, newSize, err := t.localFS.ReadFileRange(ctx, src, offset)
		if err != nil {
			return &pstserrors.IoErrorError{Path: src, Err: err}
		}

		if len(chunk) > 0 {
			if err := t.appendChunk(ctx, dst, chunk, first); err != nil {
				return err
			}
			first = false
		}

		if newSize <= offset+int64(len(chunk)) && len(chunk) < chunkSize {
			break
		}
		if len(chunk) == 0 {
			break
		}
		offset += int64(len(chunk))
	}
	if first {
		// An empty source (e.g. a sentinel) yields no chunk; still
		// create dst so the empty file is replicated.
		return t.appendChunk(ctx, dst, nil, true)
	}
	return nil
}

// appendChunk writes chunk to dst, truncating on the first write of a
// fresh .part file and appending thereafter via AppendFile so the cost
// of each chunk stays independent of how much of dst already exists.
func (t *ScanTransfer) appendChunk(ctx context.Context, dst string, chunk []byte, first bool) error {
	if first {
		return t.remoteFS.WriteFile(ctx, dst, chunk, 0644)
	}
	return t.remoteFS.AppendFile(ctx, dst, chunk, 0644)
}

// writeTransferCompleted writes the transfer_completed sentinel local
// first, then remote, so a crash mid-write never leaves the remote
// side claiming completion the local side hasn't reached.
func (t *ScanTransfer) writeTransferCompleted(ctx context.Context, local, remote *scan.VoltageRecorderScan, lifecycle *scan.Lifecycle) error {
	triple := local.Triple()

	if !local.TransferCompletedFile().Exists() {
		if err := t.localFS.WriteFile(ctx, local.TransferCompletedFile().Path, nil, 0644); err != nil {
			return &pstserrors.IoErrorError{Path: local.TransferCompletedFile().Path, Scan: triple, Err: err}
		}
	}
	if err := t.remoteFS.WriteFile(ctx, remote.TransferCompletedFile().Path, nil, 0644); err != nil {
		return &pstserrors.IoErrorError{Path: remote.TransferCompletedFile().Path, Scan: triple, Err: err}
	}

	if err := lifecycle.SendEvent(ctx, scan.EventTransferred); err != nil {
		return err
	}
	metrics.SetScanState(triple.String(), scan.StateTransferred, lifecycle.Current())
	t.logger.Infow("scan transfer complete", "scan", triple.String())
	return nil
}

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
