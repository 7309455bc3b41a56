// This file is part of the SKA PST Send project.
//
// Distributed under the terms of the BSD 3-clause new license.
// See LICENSE for more info.

// Package config parses the sdp_transfer CLI surface with
// github.com/spf13/pflag, the pflag-based standalone-binary convention
// this codebase borrows from the pack's bureau-viewer example (the
// teacher itself is a long-running agent configured from a YAML file
// on disk, not a one-shot CLI, so its own config package does not
// cover this surface).
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// EnvLocalPathOverride is read to override LocalPath, for containerized
// deployments that mount the capture filesystem at a fixed path
// regardless of what the operator typed on the command line.
const EnvLocalPathOverride = "PST_DSP_MOUNT"

// Config is the parsed and validated CLI surface.
type Config struct {
	LocalPath           string
	RemotePath          string
	Subsystem           string
	DataProductDashboard string
	Verbose             bool
	MetricsAddr         string
}

// ValidationError is returned by Parse when the arguments themselves
// are malformed; callers should exit 1.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// Parse parses args (typically os.Args[1:]) into a Config. help
// requests (-h/--help) are reported via pflag.ErrHelp after usage has
// been printed, so the caller can exit 0; any other flag parsing error
// is returned as a ValidationError.
func Parse(args []string) (*Config, error) {
	flagSet := pflag.NewFlagSet("sdp_transfer", pflag.ContinueOnError)
	flagSet.SetOutput(os.Stderr)

	var cfg Config
	flagSet.StringVar(&cfg.DataProductDashboard, "data_product_dashboard", "", "base URL of the Data Product Dashboard (registration disabled if unset)")
	flagSet.BoolVarP(&cfg.Verbose, "verbose", "v", false, "raise log level to debug")
	flagSet.StringVar(&cfg.MetricsAddr, "metrics_addr", "", "address to serve Prometheus metrics on (disabled if unset)")

	flagSet.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: sdp_transfer [-h] [--data_product_dashboard URL] [-v] LOCAL_PATH REMOTE_PATH SUBSYSTEM")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, err
		}
		return nil, &ValidationError{msg: err.Error()}
	}

	positional := flagSet.Args()
	if len(positional) != 3 {
		return nil, &ValidationError{msg: fmt.Sprintf("expected 3 positional arguments (LOCAL_PATH REMOTE_PATH SUBSYSTEM), got %d", len(positional))}
	}
	cfg.LocalPath = positional[0]
	cfg.RemotePath = positional[1]
	cfg.Subsystem = positional[2]

	if override := os.Getenv(EnvLocalPathOverride); override != "" {
		cfg.LocalPath = override
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate enforces the argument contract: LOCAL_PATH must be an
// existing directory, REMOTE_PATH must be an existing writable
// directory, and SUBSYSTEM must be non-empty.
func (c *Config) validate() error {
	if err := requireDirectory(c.LocalPath, "LOCAL_PATH"); err != nil {
		return err
	}
	if err := requireDirectory(c.RemotePath, "REMOTE_PATH"); err != nil {
		return err
	}
	if info, err := os.Stat(c.RemotePath); err == nil && info.Mode().Perm()&0200 == 0 {
		return &ValidationError{msg: fmt.Sprintf("REMOTE_PATH %q is not writable", c.RemotePath)}
	}
	if c.Subsystem == "" {
		return &ValidationError{msg: "SUBSYSTEM must not be empty"}
	}
	return nil
}

func requireDirectory(path, label string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &ValidationError{msg: fmt.Sprintf("%s %q: %v", label, path, err)}
	}
	if !info.IsDir() {
		return &ValidationError{msg: fmt.Sprintf("%s %q is not a directory", label, path)}
	}
	return nil
}
