// This file is part of the SKA PST Send project.
//
// Distributed under the terms of the BSD 3-clause new license.
// See LICENSE for more info.

package config_test

import (
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ska-telescope/ska-pst-send/pkg/config"
)

var _ = Describe("Parse", func() {
	var localPath, remotePath string

	BeforeEach(func() {
		localPath = GinkgoT().TempDir()
		remotePath = GinkgoT().TempDir()
	})

	It("parses the three required positional arguments", func() {
		cfg, err := config.Parse([]string{localPath, remotePath, "pst-low"})
		Expect(err).ToNot(HaveOccurred())
		Expect(cfg.LocalPath).To(Equal(localPath))
		Expect(cfg.RemotePath).To(Equal(remotePath))
		Expect(cfg.Subsystem).To(Equal("pst-low"))
		Expect(cfg.DataProductDashboard).To(BeEmpty())
	})

	It("parses the optional dashboard and verbose flags", func() {
		cfg, err := config.Parse([]string{"--data_product_dashboard", "http://dpd.example", "-v", localPath, remotePath, "pst-low"})
		Expect(err).ToNot(HaveOccurred())
		Expect(cfg.DataProductDashboard).To(Equal("http://dpd.example"))
		Expect(cfg.Verbose).To(BeTrue())
	})

	It("rejects a missing SUBSYSTEM argument", func() {
		_, err := config.Parse([]string{localPath, remotePath})
		Expect(err).To(HaveOccurred())
		var validationErr *config.ValidationError
		Expect(err).To(BeAssignableToTypeOf(validationErr))
	})

	It("rejects a LOCAL_PATH that does not exist", func() {
		_, err := config.Parse([]string{"/no/such/directory", remotePath, "pst-low"})
		Expect(err).To(HaveOccurred())
	})

	It("overrides LOCAL_PATH from PST_DSP_MOUNT when set", func() {
		override := GinkgoT().TempDir()
		os.Setenv(config.EnvLocalPathOverride, override)
		defer os.Unsetenv(config.EnvLocalPathOverride)

		cfg, err := config.Parse([]string{localPath, remotePath, "pst-low"})
		Expect(err).ToNot(HaveOccurred())
		Expect(cfg.LocalPath).To(Equal(override))
	})
})
