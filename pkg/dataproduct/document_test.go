// This file is part of the SKA PST Send project.
//
// Distributed under the terms of the BSD 3-clause new license.
// See LICENSE for more info.

package dataproduct_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ska-telescope/ska-pst-send/pkg/dataproduct"
	"github.com/ska-telescope/ska-pst-send/pkg/service/filesystem"
)

var _ = Describe("Document", func() {
	var (
		ctx  context.Context
		fs   filesystem.Service
		dir  string
		path string
	)

	BeforeEach(func() {
		ctx = context.Background()
		fs = filesystem.NewDefaultService()
		dir = GinkgoT().TempDir()
		path = filepath.Join(dir, dataproduct.FileName)
	})

	It("is not done until Finalize has been called", func() {
		doc := dataproduct.New("eb-1", 2)
		Expect(doc.Processing.Done()).To(BeFalse())
		doc.Finalize(time.Now())
		Expect(doc.Processing.Done()).To(BeTrue())
	})

	It("accumulates stats and advances the completed counter", func() {
		doc := dataproduct.New("eb-1", 2)
		doc.RecordStat("pair-a", "stat/pair-a.h5")
		doc.RecordStat("pair-b", "stat/pair-b.h5")
		Expect(doc.Processing.PairsCompleted).To(Equal(2))
		Expect(doc.Processing.Stats).To(HaveLen(2))
	})

	It("round-trips through an atomic Save/Load cycle", func() {
		doc := dataproduct.New("eb-1", 1)
		doc.AddFile("data/utc_name_00000001.dada", 1024, "voltage data")
		doc.RecordStat("utc_name_00000001", "stat/utc_name_00000001.h5")
		doc.Finalize(time.Now())

		Expect(dataproduct.Save(ctx, fs, path, doc)).To(Succeed())

		tmpExists, err := fs.PathExists(ctx, path+".tmp")
		Expect(err).ToNot(HaveOccurred())
		Expect(tmpExists).To(BeFalse(), "temp file should have been renamed away")

		loaded, err := dataproduct.Load(ctx, fs, path)
		Expect(err).ToNot(HaveOccurred())
		Expect(loaded.ExecutionBlock).To(Equal("eb-1"))
		Expect(loaded.Files).To(HaveLen(1))
		Expect(loaded.Processing.Done()).To(BeTrue())
	})

	It("marshals to JSON using the documented schema field names", func() {
		doc := dataproduct.New("eb-1", 0)
		body, err := json.Marshal(doc)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(body)).To(ContainSubstring(`"execution_block":"eb-1"`))
		Expect(string(body)).To(ContainSubstring(`"dataproduct_type":"timeseries"`))
	})
})
