// This file is part of the SKA PST Send project.
//
// Distributed under the terms of the BSD 3-clause new license.
// See LICENSE for more info.

// Package scan implements the scan data model: individual on-disk
// artifacts (VoltageRecorderFile), the polymorphic view over a scan
// directory (Scan), its PST-layout specialization
// (VoltageRecorderScan), and the lifecycle state machine that tracks a
// scan from Recording through Deleted.
package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ska-telescope/ska-pst-send/pkg/checksum"
	pstserrors "github.com/ska-telescope/ska-pst-send/pkg/pstsend/errors"
	"github.com/ska-telescope/ska-pst-send/pkg/service/filesystem"
)

// Kind identifies which of the four disjoint artifact categories a
// file belongs to.
type Kind string

const (
	KindData     Kind = "data"
	KindWeights  Kind = "weights"
	KindStat     Kind = "stat"
	KindConfig   Kind = "config"
	KindMetadata Kind = "metadata"
	KindSentinel Kind = "sentinel"
)

// VoltageRecorderFile represents one artifact on one side (local or
// remote) of a scan. Size and ModTime are refreshed by Stat; the
// checksum is computed lazily and cached, since most files are stat'd
// many times (for age/quiescence checks) but checksummed at most once
// per side.
type VoltageRecorderFile struct {
	Path string
	Kind Kind
	Scan pstserrors.ScanTriple

	mu          sync.Mutex
	size        int64
	modTime     int64 // unix nanos; avoids importing time into the zero-value struct literal path
	exists      bool
	checksum    uint64
	checksumSet bool
}

// NewFile builds a VoltageRecorderFile for path, unpopulated until
// Stat is called.
func NewFile(path string, kind Kind, triple pstserrors.ScanTriple) *VoltageRecorderFile {
	return &VoltageRecorderFile{Path: path, Kind: kind, Scan: triple}
}

// Stat refreshes size and mtime from the filesystem, returning
// NotFoundError if the file has vanished since it was last observed.
func (f *VoltageRecorderFile) Stat(ctx context.Context, fs filesystem.Service) error {
	info, err := fs.Stat(ctx, f.Path)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			f.exists = false
			return &pstserrors.NotFoundError{Path: f.Path, Scan: f.Scan}
		}
		return &pstserrors.IoErrorError{Path: f.Path, Scan: f.Scan, Err: err}
	}
	f.exists = true
	f.size = info.Size()
	f.modTime = info.ModTime().UnixNano()
	return nil
}

// Exists reports whether the last Stat call found the file present.
func (f *VoltageRecorderFile) Exists() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists
}

// Size returns the size observed by the last Stat call.
func (f *VoltageRecorderFile) Size() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}

// ModTimeUnixNano returns the mtime observed by the last Stat call.
func (f *VoltageRecorderFile) ModTimeUnixNano() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.modTime
}

// Checksum computes and caches the file's integrity hash. Subsequent
// calls return the cached value without touching the disk again.
func (f *VoltageRecorderFile) Checksum(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	if f.checksumSet {
		defer f.mu.Unlock()
		return f.checksum, nil
	}
	f.mu.Unlock()

	sum, err := checksum.File(ctx, f.Path)
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	f.checksum = sum
	f.checksumSet = true
	f.mu.Unlock()
	return sum, nil
}

// InvalidateChecksum drops the cached checksum, forcing the next call
// to Checksum to recompute it. Used after a file is rewritten in
// place (the metadata document, mid-scan).
func (f *VoltageRecorderFile) InvalidateChecksum() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checksumSet = false
}

// Equals compares f to other by size and checksum; mtime is advisory
// only and never consulted here.
func (f *VoltageRecorderFile) Equals(ctx context.Context, other *VoltageRecorderFile) (bool, error) {
	if f.Size() != other.Size() {
		return false, nil
	}
	fSum, err := f.Checksum(ctx)
	if err != nil {
		return false, err
	}
	oSum, err := other.Checksum(ctx)
	if err != nil {
		return false, err
	}
	return fSum == oSum, nil
}

// FileNumber parses the numeric suffix of a `<utc>_<name>_<NNNNNNNN>`
// stem, mirroring the historical file_number property. Files
// that don't match the three-part naming convention (config, sentinel
// files) return 0, which callers must not treat as a real pair key.
func FileNumber(path string) int {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	parts := strings.Split(stem, "_")
	if len(parts) != 3 {
		return 0
	}
	n, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0
	}
	return n
}

// PairKey extracts the suffix shared by a data/weights pair, which is
// the whole stem for the naming convention this system uses:
// `<utc>_<name>_<NNNNNNNN>.dada`. Both members of a pair share this
// exact stem, so it doubles as the pair's lookup key and as the
// expected `stat/{key}.h5` basename.
func PairKey(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// Age reports how long it has been since the file's last observed
// mtime, as of now. A file that has never been Stat'd (exists is
// false and modTime is zero) reports a zero duration so it is never
// mistaken for quiescent.
func (f *VoltageRecorderFile) Age(now time.Time) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.exists {
		return 0
	}
	return now.Sub(time.Unix(0, f.modTime))
}

func (f *VoltageRecorderFile) String() string {
	return fmt.Sprintf("%s(%s)", f.Path, f.Kind)
}
