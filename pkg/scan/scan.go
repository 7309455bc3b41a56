// This file is part of the SKA PST Send project.
//
// Distributed under the terms of the BSD 3-clause new license.
// See LICENSE for more info.

package scan

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ska-telescope/ska-pst-send/pkg/dataproduct"
	pstserrors "github.com/ska-telescope/ska-pst-send/pkg/pstsend/errors"
	"github.com/ska-telescope/ska-pst-send/pkg/service/filesystem"
)

const (
	scanCompletedName     = "scan_completed"
	transferCompletedName = "transfer_completed"
	scanConfigurationName = "scan_configuration.json"
	obsHeaderName         = "obs.header"
)

// Scan is the polymorphic view over a scan directory. Both
// the local and remote trees implement it via VoltageRecorderScan,
// rooted at different paths but sharing the same on-disk layout.
type Scan interface {
	// Root returns the scan directory's absolute path on this side.
	Root() string

	// Triple identifies the scan.
	Triple() pstserrors.ScanTriple

	// Refresh re-derives the in-memory view from the filesystem. Every
	// other method operates on the most recent Refresh; callers that
	// need a current answer must Refresh first.
	Refresh(ctx context.Context) error

	// EnumeratePairs returns the data/weights pairs found by the last
	// Refresh, in numeric FileNumber order.
	EnumeratePairs() []*Pair

	// UnprocessedPairs returns the subset of EnumeratePairs lacking a
	// stat file.
	UnprocessedPairs() []*Pair

	// IsScanCompleted reports whether the scan_completed sentinel
	// exists on this side.
	IsScanCompleted() bool

	// IsProcessingCompleted reports whether every pair has a stat file
	// and the metadata document's processing section is finalized.
	IsProcessingCompleted(ctx context.Context, fs filesystem.Service) (bool, error)

	// IsTransferCompleted reports whether the transfer_completed
	// sentinel exists on this side.
	IsTransferCompleted() bool

	// IsComplete reports the local-side terminal condition: scan
	// completed, processing completed, and transfer completed.
	IsComplete(ctx context.Context, fs filesystem.Service) (bool, error)

	// Delete removes the scan directory tree. It refuses unless
	// IsComplete holds.
	Delete(ctx context.Context, fs filesystem.Service) error

	// ModTime returns the scan directory's own mtime, used by
	// ScanManager to order scans oldest-first.
	ModTime(ctx context.Context, fs filesystem.Service) (int64, error)
}

// VoltageRecorderScan is the concrete Scan for the PST voltage
// recorder directory layout.
type VoltageRecorderScan struct {
	fs     filesystem.Service
	root   string
	triple pstserrors.ScanTriple

	mu                    sync.Mutex
	pairs                 []*Pair
	configFiles           []*VoltageRecorderFile
	metadataFile          *VoltageRecorderFile
	scanCompletedFile     *VoltageRecorderFile
	transferCompletedFile *VoltageRecorderFile
}

// NewVoltageRecorderScan builds a Scan view rooted at root (e.g.
// `<local>/eb-.../pst-low/scan-id` or the equivalent remote path).
func NewVoltageRecorderScan(fs filesystem.Service, root string, triple pstserrors.ScanTriple) *VoltageRecorderScan {
	return &VoltageRecorderScan{
		fs:                    fs,
		root:                  root,
		triple:                triple,
		metadataFile:          NewFile(filepath.Join(root, dataproduct.FileName), KindMetadata, triple),
		scanCompletedFile:     NewFile(filepath.Join(root, scanCompletedName), KindSentinel, triple),
		transferCompletedFile: NewFile(filepath.Join(root, transferCompletedName), KindSentinel, triple),
	}
}

func (s *VoltageRecorderScan) Root() string                       { return s.root }
func (s *VoltageRecorderScan) Triple() pstserrors.ScanTriple       { return s.triple }

// Refresh globs data/weights/stat artifacts, stats every file this
// scan tracks, and rebuilds the pair list. A missing config, metadata
// or sentinel file is recorded as not present yet; a data, weights or
// stat file that vanishes between the glob and its stat fails the
// Refresh with NotFoundError, as does any I/O error from the glob/stat
// calls themselves.
func (s *VoltageRecorderScan) Refresh(ctx context.Context) error {
	dataPaths, err := s.fs.Glob(ctx, filepath.Join(s.root, "data", "*.dada"))
	if err != nil {
		return fmt.Errorf("glob data files for scan %s: %w", s.triple, err)
	}
	weightsPaths, err := s.fs.Glob(ctx, filepath.Join(s.root, "weights", "*.dada"))
	if err != nil {
		return fmt.Errorf("glob weights files for scan %s: %w", s.triple, err)
	}
	statPaths, err := s.fs.Glob(ctx, filepath.Join(s.root, "stat", "*.h5"))
	if err != nil {
		return fmt.Errorf("glob stat files for scan %s: %w", s.triple, err)
	}
	sort.Slice(dataPaths, func(i, j int) bool {
		if ni, nj := FileNumber(dataPaths[i]), FileNumber(dataPaths[j]); ni != nj {
			return ni < nj
		}
		return dataPaths[i] < dataPaths[j]
	})
	sort.Strings(weightsPaths)

	statByKey := make(map[string]string, len(statPaths))
	for _, p := range statPaths {
		statByKey[PairKey(p)] = p
	}

	weightsByKey := make(map[string]string, len(weightsPaths))
	for _, p := range weightsPaths {
		weightsByKey[PairKey(p)] = p
	}

	pairs := make([]*Pair, 0, len(dataPaths))
	for _, dataPath := range dataPaths {
		key := PairKey(dataPath)
		weightsPath, ok := weightsByKey[key]
		if !ok {
			// Data file arrived without its weights companion yet;
			// a pair is only processable once both members exist,
			// so skip it for now.
			continue
		}

		dataFile := NewFile(dataPath, KindData, s.triple)
		weightsFile := NewFile(weightsPath, KindWeights, s.triple)
		if err := dataFile.Stat(ctx, s.fs); err != nil {
			return err
		}
		if err := weightsFile.Stat(ctx, s.fs); err != nil {
			return err
		}

		pair := &Pair{Key: key, DataFile: dataFile, WeightsFile: weightsFile}
		if statPath, ok := statByKey[key]; ok {
			statFile := NewFile(statPath, KindStat, s.triple)
			if err := statFile.Stat(ctx, s.fs); err != nil {
				return err
			}
			pair.StatFile = statFile
		}
		pairs = append(pairs, pair)
	}

	configFiles := make([]*VoltageRecorderFile, 0, 2)
	for _, name := range []string{scanConfigurationName, obsHeaderName} {
		f := NewFile(filepath.Join(s.root, name), KindConfig, s.triple)
		if err := f.Stat(ctx, s.fs); err == nil {
			configFiles = append(configFiles, f)
		} else if _, isNotFound := err.(*pstserrors.NotFoundError); !isNotFound {
			return err
		}
	}

	if err := s.metadataFile.Stat(ctx, s.fs); err != nil {
		if _, isNotFound := err.(*pstserrors.NotFoundError); !isNotFound {
			return err
		}
	}
	if err := s.scanCompletedFile.Stat(ctx, s.fs); err != nil {
		if _, isNotFound := err.(*pstserrors.NotFoundError); !isNotFound {
			return err
		}
	}
	if err := s.transferCompletedFile.Stat(ctx, s.fs); err != nil {
		if _, isNotFound := err.(*pstserrors.NotFoundError); !isNotFound {
			return err
		}
	}

	s.mu.Lock()
	s.pairs = pairs
	s.configFiles = configFiles
	s.mu.Unlock()
	return nil
}

// EnumeratePairs returns the pairs found by the last Refresh, already
// in FileNumber order because Refresh sorted the underlying data paths
// by that key.
func (s *VoltageRecorderScan) EnumeratePairs() []*Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Pair, len(s.pairs))
	copy(out, s.pairs)
	return out
}

// UnprocessedPairs returns the pairs lacking a stat file.
func (s *VoltageRecorderScan) UnprocessedPairs() []*Pair {
	var out []*Pair
	for _, p := range s.EnumeratePairs() {
		if !p.HasStat() {
			out = append(out, p)
		}
	}
	return out
}

func (s *VoltageRecorderScan) IsScanCompleted() bool {
	return s.scanCompletedFile.Exists()
}

func (s *VoltageRecorderScan) IsTransferCompleted() bool {
	return s.transferCompletedFile.Exists()
}

// IsProcessingCompleted reports whether every pair has a stat file and
// the metadata document's processing section has been finalized. A
// scan with zero pairs passes the stat-file check vacuously and is
// decided by the metadata document alone.
func (s *VoltageRecorderScan) IsProcessingCompleted(ctx context.Context, fs filesystem.Service) (bool, error) {
	if len(s.UnprocessedPairs()) > 0 {
		return false, nil
	}
	if !s.metadataFile.Exists() {
		return false, nil
	}
	doc, err := dataproduct.Load(ctx, fs, s.metadataFile.Path)
	if err != nil {
		return false, err
	}
	return doc.Processing.Done(), nil
}

// IsComplete reports the local-side terminal condition:
// scan completed, processing completed, transfer completed.
func (s *VoltageRecorderScan) IsComplete(ctx context.Context, fs filesystem.Service) (bool, error) {
	if !s.IsScanCompleted() {
		return false, nil
	}
	processed, err := s.IsProcessingCompleted(ctx, fs)
	if err != nil || !processed {
		return false, err
	}
	return s.IsTransferCompleted(), nil
}

// Delete removes the scan directory tree. It refuses unless IsComplete
// holds.
func (s *VoltageRecorderScan) Delete(ctx context.Context, fs filesystem.Service) error {
	complete, err := s.IsComplete(ctx, fs)
	if err != nil {
		return err
	}
	if !complete {
		return &pstserrors.InvariantViolationError{
			Scan:   s.triple,
			Detail: fmt.Sprintf("refusing to delete scan %s: not complete", s.root),
		}
	}
	return fs.RemoveAll(ctx, s.root)
}

// ModTime returns the scan directory's own mtime.
func (s *VoltageRecorderScan) ModTime(ctx context.Context, fs filesystem.Service) (int64, error) {
	info, err := fs.Stat(ctx, s.root)
	if err != nil {
		return 0, fmt.Errorf("stat scan root %s: %w", s.root, err)
	}
	return info.ModTime().UnixNano(), nil
}

// MetadataFile exposes the scan's metadata document handle.
func (s *VoltageRecorderScan) MetadataFile() *VoltageRecorderFile { return s.metadataFile }

// ScanCompletedFile exposes the scan_completed sentinel handle.
func (s *VoltageRecorderScan) ScanCompletedFile() *VoltageRecorderFile { return s.scanCompletedFile }

// TransferCompletedFile exposes the transfer_completed sentinel handle.
func (s *VoltageRecorderScan) TransferCompletedFile() *VoltageRecorderFile {
	return s.transferCompletedFile
}

// ConfigFiles exposes the scan_configuration.json/obs.header handles
// found by the last Refresh.
func (s *VoltageRecorderScan) ConfigFiles() []*VoltageRecorderFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*VoltageRecorderFile, len(s.configFiles))
	copy(out, s.configFiles)
	return out
}

var _ Scan = (*VoltageRecorderScan)(nil)
