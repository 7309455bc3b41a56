// This file is part of the SKA PST Send project.
//
// Distributed under the terms of the BSD 3-clause new license.
// See LICENSE for more info.

package scan_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	pstserrors "github.com/ska-telescope/ska-pst-send/pkg/pstsend/errors"
	"github.com/ska-telescope/ska-pst-send/pkg/scan"
	"github.com/ska-telescope/ska-pst-send/pkg/service/filesystem"
)

var _ = Describe("FileNumber and PairKey", func() {
	It("parses the numeric suffix of a three-part stem", func() {
		Expect(scan.FileNumber("/data/2024-01-01-00:00:00_1234_00000001.dada")).To(Equal(1))
	})

	It("returns 0 for names that don't match the three-part convention", func() {
		Expect(scan.FileNumber("/data/scan_configuration.json")).To(Equal(0))
	})

	It("uses the whole stem as the pair key", func() {
		Expect(scan.PairKey("/data/2024-01-01-00:00:00_1234_00000001.dada")).
			To(Equal("2024-01-01-00:00:00_1234_00000001"))
	})
})

var _ = Describe("Pair quiescence", func() {
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

	It("is not quiescent until both files have aged past the minimum", func() {
		dataPath := filepath.Join(dir, "data.dada")
		weightsPath := filepath.Join(dir, "weights.dada")
		Expect(os.WriteFile(dataPath, []byte("d"), 0644)).To(Succeed())
		Expect(os.WriteFile(weightsPath, []byte("w"), 0644)).To(Succeed())

		dataFile := scan.NewFile(dataPath, scan.KindData, triple)
		weightsFile := scan.NewFile(weightsPath, scan.KindWeights, triple)
		Expect(dataFile.Stat(ctx, fs)).To(Succeed())
		Expect(weightsFile.Stat(ctx, fs)).To(Succeed())

		pair := &scan.Pair{Key: "k", DataFile: dataFile, WeightsFile: weightsFile}
		Expect(pair.IsQuiescent(time.Now(), 10*time.Second)).To(BeFalse())
		Expect(pair.IsQuiescent(time.Now().Add(time.Hour), 10*time.Second)).To(BeTrue())
	})
})

var _ = Describe("VoltageRecorderScan", func() {
	var (
		ctx    context.Context
		fs     filesystem.Service
		root   string
		triple pstserrors.ScanTriple
		s      *scan.VoltageRecorderScan
	)

	BeforeEach(func() {
		ctx = context.Background()
		fs = filesystem.NewDefaultService()
		root = GinkgoT().TempDir()
		triple = pstserrors.ScanTriple{ExecutionBlockID: "eb-1", SubsystemID: "pst-low", ScanID: "scan-1"}
		s = scan.NewVoltageRecorderScan(fs, root, triple)

		for _, sub := range []string{"data", "weights", "stat"} {
			Expect(os.MkdirAll(filepath.Join(root, sub), 0755)).To(Succeed())
		}
	})

	writeFile := func(rel string, content string) {
		Expect(os.WriteFile(filepath.Join(root, rel), []byte(content), 0644)).To(Succeed())
	}

	It("only pairs a data file once its weights companion exists", func() {
		writeFile("data/utc_name_00000001.dada", "data")
		Expect(s.Refresh(ctx)).To(Succeed())
		Expect(s.EnumeratePairs()).To(BeEmpty())

		writeFile("weights/utc_name_00000001.dada", "weights")
		Expect(s.Refresh(ctx)).To(Succeed())
		Expect(s.EnumeratePairs()).To(HaveLen(1))
	})

	It("reports a pair as unprocessed until its stat file appears", func() {
		writeFile("data/utc_name_00000001.dada", "data")
		writeFile("weights/utc_name_00000001.dada", "weights")
		Expect(s.Refresh(ctx)).To(Succeed())
		Expect(s.UnprocessedPairs()).To(HaveLen(1))

		writeFile("stat/utc_name_00000001.h5", "stat")
		Expect(s.Refresh(ctx)).To(Succeed())
		Expect(s.UnprocessedPairs()).To(BeEmpty())
	})

	It("refuses to delete an incomplete scan", func() {
		err := s.Delete(ctx, fs)
		var inv *pstserrors.InvariantViolationError
		Expect(err).To(HaveOccurred())
		Expect(errors.As(err, &inv)).To(BeTrue())
	})

	It("deletes once scan_completed, processing and transfer_completed all hold", func() {
		writeFile("scan_completed", "")
		writeFile("data_product.yaml", "processing:\n  pairs_expected: 0\n  pairs_completed: 0\n  completed_at: 2024-01-01T00:00:00Z\n")
		writeFile("transfer_completed", "")
		Expect(s.Refresh(ctx)).To(Succeed())

		complete, err := s.IsComplete(ctx, fs)
		Expect(err).ToNot(HaveOccurred())
		Expect(complete).To(BeTrue())

		Expect(s.Delete(ctx, fs)).To(Succeed())
		_, statErr := os.Stat(root)
		Expect(os.IsNotExist(statErr)).To(BeTrue())
	})
})
