// This file is part of the SKA PST Send project.
//
// Distributed under the terms of the BSD 3-clause new license.
// See LICENSE for more info.

package scan

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	pstserrors "github.com/ska-telescope/ska-pst-send/pkg/pstsend/errors"
)

// UntransferredFiles returns every artifact of s (the local scan) whose
// remote counterpart in remote is missing, size-differs, or
// checksum-differs, in transfer priority order: data/weights pairs
// first (largest payload moves first), then stat files,
// then config/header, then the metadata document, then scan_completed.
// transfer_completed is never included; ScanTransfer writes it as a
// terminal step once this list (and processing) is empty.
//
// Both s and remote must have been Refresh'd by the caller first.
func (s *VoltageRecorderScan) UntransferredFiles(ctx context.Context, remote *VoltageRecorderScan) ([]*VoltageRecorderFile, error) {
	var ordered []*VoltageRecorderFile

	for _, pair := range s.EnumeratePairs() {
		ordered = append(ordered, pair.DataFile, pair.WeightsFile)
	}
	for _, pair := range s.EnumeratePairs() {
		if pair.StatFile != nil {
			ordered = append(ordered, pair.StatFile)
		}
	}
	ordered = append(ordered, s.ConfigFiles()...)
	if s.metadataFile.Exists() {
		ordered = append(ordered, s.metadataFile)
	}
	if s.scanCompletedFile.Exists() {
		ordered = append(ordered, s.scanCompletedFile)
	}

	var untransferred []*VoltageRecorderFile
	for _, local := range ordered {
		rel, err := filepath.Rel(s.root, local.Path)
		if err != nil {
			return nil, fmt.Errorf("compute relative path for %s: %w", local.Path, err)
		}
		remotePath := filepath.Join(remote.root, rel)
		remoteFile := NewFile(remotePath, local.Kind, remote.triple)

		if err := remoteFile.Stat(ctx, remote.fs); err != nil {
			// Missing remotely (NotFound) means it needs transfer;
			// any other error is a real I/O failure the caller must
			// see.
			if !isNotFound(err) {
				return nil, err
			}
			untransferred = append(untransferred, local)
			continue
		}

		equal, err := local.Equals(ctx, remoteFile)
		if err != nil {
			return nil, err
		}
		if !equal {
			untransferred = append(untransferred, local)
		}
	}

	return untransferred, nil
}

func isNotFound(err error) bool {
	var nf *pstserrors.NotFoundError
	return errors.As(err, &nf)
}
