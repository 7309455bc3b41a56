// This file is part of the SKA PST Send project.
//
// Distributed under the terms of the BSD 3-clause new license.
// See LICENSE for more info.

// Package statproc invokes the external statistics-generation binary
// for one data/weights pair and classifies its exit status.
package statproc

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"

	pstserrors "github.com/ska-telescope/ska-pst-send/pkg/pstsend/errors"
	"github.com/ska-telescope/ska-pst-send/pkg/service/filesystem"
)

// BinaryName is the external executable this package shells out to.
// It is invoked with the pair's data/weights paths and the target stat
// path, mirroring the historical
// `ska_pst_stat_file_proc -d <data> -w <weights>` contract.
const BinaryName = "ska_pst_stat_file_proc"

// nonRetryableExitCodes are exit codes the binary uses to report a
// condition that will never succeed on retry (malformed input files,
// unsupported format). Any other non-zero exit is treated as
// retryable.
var nonRetryableExitCodes = map[int]bool{
	2: true, // malformed .dada header
	3: true, // unsupported data format
}

// Run invokes the stat binary for one pair, writing its output to
// statPath. It returns the binary's combined stdout/stderr so the
// caller can mirror it to the log, alongside any error. On a non-zero
// exit the error is a SubprocessFailedError with Retryable set
// according to the exit code observed.
func Run(ctx context.Context, fs filesystem.Service, triple pstserrors.ScanTriple, dataPath, weightsPath, statPath string) ([]byte, error) {
	if err := fs.EnsureDirectory(ctx, filepath.Dir(statPath)); err != nil {
		return nil, &pstserrors.IoErrorError{Path: statPath, Scan: triple, Err: err}
	}

	output, err := fs.ExecuteCommand(ctx, BinaryName, "-d", dataPath, "-w", weightsPath, "-o", statPath)
	if err == nil {
		return output, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		if ctx.Err() != nil {
			return output, &pstserrors.CancelledError{Scan: triple, Op: "stat " + strings.Join([]string{dataPath, weightsPath}, ",")}
		}
		return output, &pstserrors.IoErrorError{Path: statPath, Scan: triple, Err: err}
	}

	exitCode := exitErr.ExitCode()

	return output, &pstserrors.SubprocessFailedError{
		Command:   BinaryName,
		ExitCode:  exitCode,
		Retryable: !nonRetryableExitCodes[exitCode],
		Scan:      triple,
	}
}
