// This file is part of the SKA PST Send project.
//
// Distributed under the terms of the BSD 3-clause new license.
// See LICENSE for more info.

package scanmanager_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/ska-telescope/ska-pst-send/pkg/scan"
	"github.com/ska-telescope/ska-pst-send/pkg/scanmanager"
	"github.com/ska-telescope/ska-pst-send/pkg/service/filesystem"
)

var _ = Describe("ScanManager", func() {
	var (
		ctx     context.Context
		fs      filesystem.Service
		root    string
		manager *scanmanager.ScanManager
	)

	BeforeEach(func() {
		ctx = context.Background()
		fs = filesystem.NewDefaultService()
		root = GinkgoT().TempDir()
		manager = scanmanager.New(fs, root, "pst-low", zap.NewNop().Sugar())
	})

	makeScan := func(eb, id string, age time.Duration) {
		dir := filepath.Join(root, eb, "pst-low", id)
		Expect(os.MkdirAll(filepath.Join(dir, "data"), 0755)).To(Succeed())
		mtime := time.Now().Add(-age)
		Expect(os.Chtimes(dir, mtime, mtime)).To(Succeed())
	}

	It("discovers scans matching <local>/eb-*/<subsystem>/*", func() {
		makeScan("eb-1", "scan-a", time.Minute)
		Expect(manager.Poll(ctx)).To(Succeed())

		s, _, ok := manager.CurrentForProcess()
		Expect(ok).To(BeTrue())
		Expect(s.Triple().ScanID).To(Equal("scan-a"))
	})

	It("orders scans oldest-first", func() {
		makeScan("eb-1", "scan-new", time.Minute)
		makeScan("eb-1", "scan-old", time.Hour)
		Expect(manager.Poll(ctx)).To(Succeed())

		s, _, ok := manager.CurrentForProcess()
		Expect(ok).To(BeTrue())
		Expect(s.Triple().ScanID).To(Equal("scan-old"))
	})

	It("moves a transferred scan through registration into deletable, then garbage collects it", func() {
		makeScan("eb-1", "scan-a", time.Minute)
		Expect(manager.Poll(ctx)).To(Succeed())

		dir := filepath.Join(root, "eb-1", "pst-low", "scan-a")
		Expect(os.WriteFile(filepath.Join(dir, "scan_completed"), nil, 0644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dir, "data_product.yaml"),
			[]byte("processing:\n  pairs_expected: 0\n  pairs_completed: 0\n  completed_at: 2024-01-01T00:00:00Z\n"), 0644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dir, "transfer_completed"), nil, 0644)).To(Succeed())

		_, lifecycle, ok := manager.CurrentForProcess()
		Expect(ok).To(BeTrue())
		Expect(lifecycle.SendEvent(ctx, scan.EventScanCompleted)).To(Succeed())
		Expect(lifecycle.SendEvent(ctx, scan.EventProcessed)).To(Succeed())
		Expect(lifecycle.SendEvent(ctx, scan.EventTransferred)).To(Succeed())

		Expect(manager.Poll(ctx)).To(Succeed())
		pending := manager.PendingRegistration()
		Expect(pending).To(HaveLen(1))

		triple := pending[0].Triple()
		Expect(manager.MarkRegistered(ctx, triple)).To(Succeed())

		Expect(manager.Poll(ctx)).To(Succeed())
		_, statErr := os.Stat(dir)
		Expect(os.IsNotExist(statErr)).To(BeTrue())
	})

	It("lists scans that failed as errored on shutdown", func() {
		makeScan("eb-1", "scan-a", time.Minute)
		Expect(manager.Poll(ctx)).To(Succeed())

		_, lifecycle, ok := manager.CurrentForProcess()
		Expect(ok).To(BeTrue())
		Expect(lifecycle.SendEvent(ctx, scan.EventFail)).To(Succeed())

		Expect(manager.ErroredScans()).To(HaveLen(1))
	})
})
