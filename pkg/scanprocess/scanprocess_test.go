// This file is part of the SKA PST Send project.
//
// Distributed under the terms of the BSD 3-clause new license.
// See LICENSE for more info.

package scanprocess_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/ska-telescope/ska-pst-send/pkg/dataproduct"
	"github.com/ska-telescope/ska-pst-send/pkg/scan"
	"github.com/ska-telescope/ska-pst-send/pkg/scanmanager"
	"github.com/ska-telescope/ska-pst-send/pkg/scanprocess"
	"github.com/ska-telescope/ska-pst-send/pkg/service/filesystem"
	"github.com/ska-telescope/ska-pst-send/pkg/statproc"
)

// installFakeStatBinary drops a fake ska_pst_stat_file_proc onto a
// fresh PATH entry that creates the requested -o output file, mimicking
// the real binary's side effect without depending on it being present.
func installFakeStatBinary() func() {
	dir, err := os.MkdirTemp("", "scanprocess-fake-bin")
	Expect(err).ToNot(HaveOccurred())

	script := "#!/bin/sh\nout=\"\"\nwhile [ $# -gt 0 ]; do\n  case \"$1\" in\n    -o) out=\"$2\"; shift 2;;\n    *) shift;;\n  esac\ndone\nmkdir -p \"$(dirname \"$out\")\"\ntouch \"$out\"\nexit 0\n"
	Expect(os.WriteFile(filepath.Join(dir, statproc.BinaryName), []byte(script), 0755)).To(Succeed())

	originalPath := os.Getenv("PATH")
	Expect(os.Setenv("PATH", dir+string(os.PathListSeparator)+originalPath)).To(Succeed())

	return func() {
		os.Setenv("PATH", originalPath)
		os.RemoveAll(dir)
	}
}

var _ = Describe("ScanProcess", func() {
	It("stats each pair and finalizes the metadata document once scan_completed appears", func() {
		restore := installFakeStatBinary()
		defer restore()

		root := GinkgoT().TempDir()
		scanDir := filepath.Join(root, "eb-1", "pst-low", "scan-1")
		for _, sub := range []string{"data", "weights"} {
			Expect(os.MkdirAll(filepath.Join(scanDir, sub), 0755)).To(Succeed())
		}
		Expect(os.WriteFile(filepath.Join(scanDir, "data", "utc_name_00000001.dada"), []byte("d"), 0644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(scanDir, "weights", "utc_name_00000001.dada"), []byte("w"), 0644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(scanDir, "scan_completed"), nil, 0644)).To(Succeed())

		fs := filesystem.NewDefaultService()
		logger := zap.NewNop().Sugar()
		manager := scanmanager.New(fs, root, "pst-low", logger)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		Expect(manager.Poll(ctx)).To(Succeed())

		worker := scanprocess.New(fs, manager, logger, scanprocess.Config{LoopWait: 20 * time.Millisecond, MinimumAge: 0})
		done := make(chan error, 1)
		go func() { done <- worker.Run(ctx) }()

		Eventually(func() bool {
			doc, err := dataproduct.Load(ctx, fs, filepath.Join(scanDir, dataproduct.FileName))
			if err != nil {
				return false
			}
			return doc.Processing.Done()
		}, 2*time.Second, 10*time.Millisecond).Should(BeTrue())

		s, lifecycle, ok := manager.CurrentForTransfer()
		Expect(ok).To(BeTrue())
		Expect(s.Triple().ScanID).To(Equal("scan-1"))
		Expect(lifecycle.Current()).To(Equal(scan.StateProcessed))

		cancel()
		Eventually(done, time.Second).Should(Receive(BeNil()))
	})
})
