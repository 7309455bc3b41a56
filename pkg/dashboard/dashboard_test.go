// This file is part of the SKA PST Send project.
//
// Distributed under the terms of the BSD 3-clause new license.
// See LICENSE for more info.

package dashboard_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/ska-telescope/ska-pst-send/pkg/dashboard"
	"github.com/ska-telescope/ska-pst-send/pkg/dataproduct"
	pstserrors "github.com/ska-telescope/ska-pst-send/pkg/pstsend/errors"
)

var _ = Describe("Client", func() {
	var (
		ctx    context.Context
		triple pstserrors.ScanTriple
		doc    *dataproduct.Document
	)

	BeforeEach(func() {
		ctx = context.Background()
		triple = pstserrors.ScanTriple{ExecutionBlockID: "eb-1", SubsystemID: "pst-low", ScanID: "scan-1"}
		doc = dataproduct.New("eb-1", 0)
	})

	It("reports itself disabled with an empty base URL", func() {
		client := dashboard.New("", zap.NewNop().Sugar())
		Expect(client.Enabled()).To(BeFalse())
	})

	It("posts to /dataproduct/api/addDataProduct with a correlation id", func() {
		var gotPath string
		var gotCorrelationID string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotCorrelationID = r.Header.Get("X-Correlation-Id")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := dashboard.New(server.URL, zap.NewNop().Sugar())
		Expect(client.Register(ctx, triple, doc)).To(Succeed())
		Expect(gotPath).To(Equal("/dataproduct/api/addDataProduct"))
		Expect(gotCorrelationID).ToNot(BeEmpty())
	})

	It("retries a failing endpoint up to 3 attempts before giving up", func() {
		var attempts int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client := dashboard.New(server.URL, zap.NewNop().Sugar())
		err := client.Register(ctx, triple, doc)
		Expect(err).To(HaveOccurred())
		Expect(atomic.LoadInt32(&attempts)).To(Equal(int32(3)))
	})
})
