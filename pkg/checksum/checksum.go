// This file is part of the SKA PST Send project.
//
// Distributed under the terms of the BSD 3-clause new license.
// See LICENSE for more info.

// Package checksum computes the fast integrity hash used by
// VoltageRecorderFile.checksum(): a streaming xxhash64 over the file
// contents, read in the same 1MiB chunks the filesystem service uses
// so a large data/weights file never needs to be held in memory whole.
package checksum

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	pstserrors "github.com/ska-telescope/ska-pst-send/pkg/pstsend/errors"
)

// chunkSize matches pkg/service/filesystem's ReadFileRange buffer size,
// so both incremental reads and checksum passes touch the disk the
// same way.
const chunkSize = 1 << 20

// File computes the xxhash64 checksum of the file at path, honoring ctx
// cancellation between chunks.
func File(ctx context.Context, path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, &pstserrors.NotFoundError{Path: path}
		}
		return 0, &pstserrors.IoErrorError{Path: path, Err: err}
	}
	defer f.Close()

	h := xxhash.New()
	buf := make([]byte, chunkSize)

	for {
		select {
		case <-ctx.Done():
			return 0, &pstserrors.CancelledError{Op: fmt.Sprintf("checksum %s", path)}
		default:
		}

		n, err := f.Read(buf)
		if n > 0 {
			if _, werr := h.Write(buf[:n]); werr != nil {
				return 0, &pstserrors.IoErrorError{Path: path, Err: werr}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, &pstserrors.IoErrorError{Path: path, Err: err}
		}
	}

	return h.Sum64(), nil
}
