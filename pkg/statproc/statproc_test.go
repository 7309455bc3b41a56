// This file is part of the SKA PST Send project.
//
// Distributed under the terms of the BSD 3-clause new license.
// See LICENSE for more info.

package statproc_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	pstserrors "github.com/ska-telescope/ska-pst-send/pkg/pstsend/errors"
	"github.com/ska-telescope/ska-pst-send/pkg/service/filesystem"
	"github.com/ska-telescope/ska-pst-send/pkg/statproc"
)

// installFakeBinary drops a shell script named statproc.BinaryName onto
// a fresh directory prepended to PATH, so Run's os/exec invocation
// resolves to a script under our control instead of the real binary.
func installFakeBinary(exitCode int) func() {
	return installFakeBinaryWithOutput("", exitCode)
}

func installFakeBinaryWithOutput(stdout string, exitCode int) func() {
	dir, err := os.MkdirTemp("", "statproc-fake")
	Expect(err).NotTo(HaveOccurred())
	script := filepath.Join(dir, statproc.BinaryName)
	Expect(os.WriteFile(script, []byte(fmt.Sprintf("#!/bin/sh\nprintf '%%s' '%s'\nexit %d\n", stdout, exitCode)), 0755)).To(Succeed())

	originalPath := os.Getenv("PATH")
	Expect(os.Setenv("PATH", dir+string(os.PathListSeparator)+originalPath)).To(Succeed())

	return func() {
		os.Setenv("PATH", originalPath)
		os.RemoveAll(dir)
	}
}

var _ = Describe("Run", func() {
	var (
		ctx    context.Context
		fs     filesystem.Service
		dir    string
		triple pstserrors.ScanTriple
	)

	BeforeEach(func() {
		ctx = context.Background()
		fs = filesystem.NewDefaultService()
		dir = GinkgoT().TempDir()
		triple = pstserrors.ScanTriple{ExecutionBlockID: "eb-1", SubsystemID: "pst-low", ScanID: "scan-1"}
	})

	It("succeeds when the binary exits zero", func() {
		restore := installFakeBinary(0)
		defer restore()

		output, err := statproc.Run(ctx, fs, triple, "data.dada", "weights.dada", filepath.Join(dir, "stat", "pair.h5"))
		Expect(err).ToNot(HaveOccurred())
		_ = output
	})

	It("returns the binary's output on success so the caller can log it", func() {
		restore := installFakeBinaryWithOutput("stats: rms=1.2 mean=0.0", 0)
		defer restore()

		output, err := statproc.Run(ctx, fs, triple, "data.dada", "weights.dada", filepath.Join(dir, "stat", "pair.h5"))
		Expect(err).ToNot(HaveOccurred())
		Expect(string(output)).To(ContainSubstring("stats: rms=1.2"))
	})

	It("reports a retryable SubprocessFailedError for an unrecognized exit code", func() {
		restore := installFakeBinary(1)
		defer restore()

		_, err := statproc.Run(ctx, fs, triple, "data.dada", "weights.dada", filepath.Join(dir, "stat", "pair.h5"))
		var subErr *pstserrors.SubprocessFailedError
		Expect(errors.As(err, &subErr)).To(BeTrue())
		Expect(subErr.ExitCode).To(Equal(1))
		Expect(subErr.Retryable).To(BeTrue())
	})

	It("reports a non-retryable SubprocessFailedError for a known-fatal exit code, and still returns its output", func() {
		restore := installFakeBinaryWithOutput("fatal: malformed header", 2)
		defer restore()

		output, err := statproc.Run(ctx, fs, triple, "data.dada", "weights.dada", filepath.Join(dir, "stat", "pair.h5"))
		var subErr *pstserrors.SubprocessFailedError
		Expect(errors.As(err, &subErr)).To(BeTrue())
		Expect(subErr.Retryable).To(BeFalse())
		Expect(string(output)).To(ContainSubstring("fatal: malformed header"))
	})
})
