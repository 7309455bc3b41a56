// This file is part of the SKA PST Send project.
//
// Distributed under the terms of the BSD 3-clause new license.
// See LICENSE for more info.

// Package scanmanager discovers scan directories under a local root,
// orders them oldest-first, hands the current scan to each worker via
// a single-slot (refresh-latest) handoff, and garbage-collects scans
// once they are complete and registered with the Dashboard.
package scanmanager

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ska-telescope/ska-pst-send/pkg/metrics"
	pstserrors "github.com/ska-telescope/ska-pst-send/pkg/pstsend/errors"
	"github.com/ska-telescope/ska-pst-send/pkg/scan"
	"github.com/ska-telescope/ska-pst-send/pkg/service/filesystem"
)

// record is everything ScanManager tracks for one discovered scan: its
// view of the local filesystem, its lifecycle state machine, and
// whether the Dashboard has acknowledged it (the GC gate).
type record struct {
	scan       *scan.VoltageRecorderScan
	triple     pstserrors.ScanTriple
	lifecycle  *scan.Lifecycle
	modTime    int64
	registered bool
}

// ScanManager owns the set of currently-known scans under
// `<localRoot>/eb-*/<subsystemID>/`.
type ScanManager struct {
	fs          filesystem.Service
	localRoot   string
	subsystemID string
	logger      *zap.SugaredLogger

	mu      sync.Mutex
	records []*record // ordered oldest-first by directory mtime, name tie-break
}

// New builds a ScanManager for one (localRoot, subsystemID) pair.
func New(fs filesystem.Service, localRoot, subsystemID string, logger *zap.SugaredLogger) *ScanManager {
	return &ScanManager{
		fs:          fs,
		localRoot:   localRoot,
		subsystemID: subsystemID,
		logger:      logger,
	}
}

// discoveryGlob is `<local>/eb-*/<subsystem_id>/*`, the exact shape
// used by the historical scan_paths property.
func (m *ScanManager) discoveryGlob() string {
	return filepath.Join(m.localRoot, "eb-*", m.subsystemID, "*")
}

// Poll performs one discovery/ordering/GC cycle. A
// missing or unreadable scan directory is logged and skipped; it
// reappears (or is dropped) on the next cycle, per the failure policy.
func (m *ScanManager) Poll(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.ObserveReconcileTime(metrics.ComponentScanManager, "poll", time.Since(start)) }()

	paths, err := m.fs.Glob(ctx, m.discoveryGlob())
	if err != nil {
		return fmt.Errorf("discover scans under %s: %w", m.localRoot, err)
	}

	m.mu.Lock()
	existing := make(map[string]*record, len(m.records))
	for _, r := range m.records {
		existing[r.scan.Root()] = r
	}
	m.mu.Unlock()

	seen := make(map[string]bool, len(paths))
	var fresh []*record

	for _, path := range paths {
		info, err := m.fs.Stat(ctx, path)
		if err != nil {
			m.logger.Warnw("skipping unreadable scan directory this cycle", "path", path, "error", err)
			continue
		}
		if !info.IsDir() {
			continue
		}
		seen[path] = true

		if r, ok := existing[path]; ok {
			if err := r.scan.Refresh(ctx); err != nil {
				m.logger.Warnw("failed to refresh scan", "path", path, "error", err)
				continue
			}
			r.modTime = info.ModTime().UnixNano()
			fresh = append(fresh, r)
			continue
		}

		triple, err := tripleFromPath(m.localRoot, path)
		if err != nil {
			m.logger.Warnw("skipping scan directory with unexpected layout", "path", path, "error", err)
			continue
		}

		s := scan.NewVoltageRecorderScan(m.fs, path, triple)
		if err := s.Refresh(ctx); err != nil {
			m.logger.Warnw("failed to refresh newly discovered scan", "path", path, "error", err)
			continue
		}

		m.logger.Infow("discovered scan", "scan", triple.String())
		metrics.SetScanState(triple.String(), scan.StateRecording, "")
		fresh = append(fresh, &record{
			scan:      s,
			triple:    triple,
			lifecycle: scan.NewLifecycle(triple.String(), m.logger),
			modTime:   info.ModTime().UnixNano(),
		})
	}

	// Drop scans whose directory disappeared (deleted by us, or by an
	// operator out of band): any record this cycle's glob did not return
	// is dropped, and a directory that is still on disk is picked up
	// again as a newly discovered scan on a later cycle.
	for path, r := range existing {
		if !seen[path] {
			m.logger.Infow("scan directory no longer present, dropping from tracking", "path", path)
			continue
		}
		_ = r
	}

	sort.Slice(fresh, func(i, j int) bool {
		if fresh[i].modTime != fresh[j].modTime {
			return fresh[i].modTime < fresh[j].modTime
		}
		return fresh[i].scan.Root() < fresh[j].scan.Root()
	})

	m.mu.Lock()
	m.records = fresh
	m.mu.Unlock()

	return m.garbageCollect(ctx)
}

// garbageCollect deletes any scan whose local view is complete and
// whose Dashboard registration has succeeded.
func (m *ScanManager) garbageCollect(ctx context.Context) error {
	m.mu.Lock()
	candidates := make([]*record, len(m.records))
	copy(candidates, m.records)
	m.mu.Unlock()

	var kept []*record
	for _, r := range candidates {
		complete, err := r.scan.IsComplete(ctx, m.fs)
		if err != nil {
			m.logger.Warnw("failed to evaluate completeness for GC", "scan", r.triple.String(), "error", err)
			kept = append(kept, r)
			continue
		}
		if complete && r.registered {
			if err := r.scan.Delete(ctx, m.fs); err != nil {
				m.logger.Errorw("failed to delete completed scan", "scan", r.triple.String(), "error", err)
				kept = append(kept, r)
				continue
			}
			m.logger.Infow("deleted completed, registered scan", "scan", r.triple.String())
			metrics.SetScanState(r.triple.String(), scan.StateDeleted, scan.StateDeletable)
			continue
		}
		kept = append(kept, r)
	}

	m.mu.Lock()
	m.records = kept
	m.mu.Unlock()
	return nil
}

// MarkRegistered records that the Dashboard has acknowledged a scan,
// advances its lifecycle from Transferred to Deletable, and authorizes
// garbage collection on the next Poll. Called by the supervisor after a
// successful registration POST (or immediately, when no Dashboard is
// configured).
func (m *ScanManager) MarkRegistered(ctx context.Context, triple pstserrors.ScanTriple) error {
	m.mu.Lock()
	var r *record
	for _, candidate := range m.records {
		if candidate.triple == triple {
			r = candidate
			break
		}
	}
	m.mu.Unlock()
	if r == nil {
		return nil
	}

	if err := r.lifecycle.SendEvent(ctx, scan.EventRegistered); err != nil {
		return err
	}

	m.mu.Lock()
	r.registered = true
	m.mu.Unlock()

	metrics.SetScanState(triple.String(), scan.StateDeletable, scan.StateTransferred)
	return nil
}

// CurrentForProcess returns the oldest scan not yet Processed or
// Errored, along with its lifecycle handle, per the processing
// worker's single-slot handoff.
func (m *ScanManager) CurrentForProcess() (*scan.VoltageRecorderScan, *scan.Lifecycle, bool) {
	return m.current(func(state string) bool {
		return state == scan.StateRecording || state == scan.StateScanCompleted
	})
}

// CurrentForTransfer returns the oldest scan not yet Transferred or
// Errored, per the transfer worker's single-slot handoff.
func (m *ScanManager) CurrentForTransfer() (*scan.VoltageRecorderScan, *scan.Lifecycle, bool) {
	return m.current(func(state string) bool {
		return state != scan.StateTransferred && state != scan.StateDeletable &&
			state != scan.StateDeleted && state != scan.StateErrored
	})
}

func (m *ScanManager) current(eligible func(state string) bool) (*scan.VoltageRecorderScan, *scan.Lifecycle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if eligible(r.lifecycle.Current()) {
			return r.scan, r.lifecycle, true
		}
	}
	return nil, nil, false
}

// PendingRegistration returns scans that have finished transferring but
// have not yet been registered with the Dashboard, for the supervisor's
// registration loop. A successful call to MarkRegistered
// moves a scan out of this set and into StateDeletable.
func (m *ScanManager) PendingRegistration() []*scan.VoltageRecorderScan {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*scan.VoltageRecorderScan
	for _, r := range m.records {
		if r.lifecycle.Current() == scan.StateTransferred && !r.registered {
			out = append(out, r.scan)
		}
	}
	return out
}

// ErroredScans lists every scan currently parked in StateErrored, for
// the supervisor's shutdown report.
func (m *ScanManager) ErroredScans() []pstserrors.ScanTriple {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []pstserrors.ScanTriple
	for _, r := range m.records {
		if r.lifecycle.Current() == scan.StateErrored {
			out = append(out, r.triple)
		}
	}
	return out
}

// tripleFromPath derives (eb_id, subsystem_id, scan_id) from a
// discovered scan directory's path relative to localRoot.
func tripleFromPath(localRoot, path string) (pstserrors.ScanTriple, error) {
	rel, err := filepath.Rel(localRoot, path)
	if err != nil {
		return pstserrors.ScanTriple{}, err
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return pstserrors.ScanTriple{}, fmt.Errorf("expected <eb_id>/<subsystem_id>/<scan_id>, got %q", rel)
	}
	return pstserrors.ScanTriple{ExecutionBlockID: parts[0], SubsystemID: parts[1], ScanID: parts[2]}, nil
}
