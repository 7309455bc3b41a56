// This file is part of the SKA PST Send project.
//
// Distributed under the terms of the BSD 3-clause new license.
// See LICENSE for more info.

// Package dataproduct implements the per-scan metadata document
// (data_product.yaml): its schema, atomic on-disk persistence, and the
// "processing" section that ScanProcess finalizes once every pair has
// a stat file. The schema mirrors the upstream PstMetaData dataclass
// tree (context/config/files/obscore), plus a processing envelope
// this package adds to track per-pair stat completion.
package dataproduct

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ska-telescope/ska-pst-send/pkg/service/filesystem"
)

// FileName is the well-known name of the metadata document within a
// scan directory.
const FileName = "data_product.yaml"

// Context mirrors PstContext: data passed verbatim through from
// OET/TMC as part of resource assignment or configuration.
type Context struct {
	Observer string `yaml:"observer" json:"observer"`
	Intent   string `yaml:"intent" json:"intent"`
	Notes    string `yaml:"notes" json:"notes"`
}

// Config mirrors PstConfig: identifies the software that generated the
// data product.
type Config struct {
	Image   string `yaml:"image" json:"image"`
	Version string `yaml:"version" json:"version"`
}

// File mirrors PstFiles: one entry per artifact recorded in the
// document's file manifest.
type File struct {
	Description string `yaml:"description" json:"description"`
	Path        string `yaml:"path" json:"path"`
	Size        int64  `yaml:"size" json:"size"`
	Status      string `yaml:"status" json:"status"`
}

// ObsCore mirrors PstObsCore, the IVOA ObsCore fields recorded for
// every data product.
type ObsCore struct {
	DataProductType    string  `yaml:"dataproduct_type" json:"dataproduct_type"`
	DataProductSubtype string  `yaml:"dataproduct_subtype" json:"dataproduct_subtype"`
	CalibLevel         int     `yaml:"calib_level" json:"calib_level"`
	ObsID              string  `yaml:"obs_id" json:"obs_id"`
	AccessEstSize      int64   `yaml:"access_estsize" json:"access_estsize"`
	TargetName         string  `yaml:"target_name" json:"target_name"`
	FacilityName       string  `yaml:"facility_name" json:"facility_name"`
	InstrumentName     string  `yaml:"instrument_name" json:"instrument_name"`
	TMin               float64 `yaml:"t_min" json:"t_min"`
	TMax               float64 `yaml:"t_max" json:"t_max"`
	TExptime           float64 `yaml:"t_exptime" json:"t_exptime"`
}

// StatSummary is one per-pair entry recorded in the processing section
// once its stat file has been generated.
type StatSummary struct {
	PairKey  string `yaml:"pair_key" json:"pair_key"`
	StatFile string `yaml:"stat_file" json:"stat_file"`
}

// Processing tracks per-pair stat completion for a scan. It
// records how many pairs the scan is expected to have (fixed once
// scan_completed appears), how many have been reduced to a stat file so
// far, and a per-pair summary list. ScanProcess sets CompletedAt once
// scan_completed exists and every pair has a stat file on disk; at that
// point it sets PairsExpected to the number of pairs found and raises
// PairsCompleted to match if fewer stats were recorded.
type Processing struct {
	PairsExpected  int           `yaml:"pairs_expected" json:"pairs_expected"`
	PairsCompleted int           `yaml:"pairs_completed" json:"pairs_completed"`
	Stats          []StatSummary `yaml:"stats" json:"stats"`
	CompletedAt    *time.Time    `yaml:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// Done reports whether the processing section has been finalized.
func (p *Processing) Done() bool {
	return p.CompletedAt != nil
}

// Document is the top-level metadata document schema, written to
// data_product.yaml in the scan root.
type Document struct {
	Interface      string     `yaml:"interface" json:"interface"`
	ExecutionBlock string     `yaml:"execution_block" json:"execution_block"`
	Context        Context    `yaml:"context" json:"context"`
	Config         Config     `yaml:"config" json:"config"`
	Files          []File     `yaml:"files" json:"files"`
	ObsCore        ObsCore    `yaml:"obscore" json:"obscore"`
	Processing     Processing `yaml:"processing" json:"processing"`
}

// New returns a Document with the SKA interface tag and execution
// block populated, and everything else defaulted.
func New(executionBlock string, pairsExpected int) *Document {
	return &Document{
		Interface:      "https://schema.skao.int/ska-data-product-meta/0.1",
		ExecutionBlock: executionBlock,
		Context:        Context{Intent: "Tied-array beam observation"},
		ObsCore: ObsCore{
			DataProductType:    "timeseries",
			DataProductSubtype: "voltages",
			FacilityName:       "SKA-Observatory",
		},
		Processing: Processing{PairsExpected: pairsExpected},
	}
}

// Load reads and parses the metadata document at path.
func Load(ctx context.Context, fs filesystem.Service, path string) (*Document, error) {
	data, err := fs.ReadFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read data product document %s: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse data product document %s: %w", path, err)
	}
	return &doc, nil
}

// Save persists doc to path atomically: it is marshalled, written to a
// sibling temp file, then renamed over the destination so a reader
// never observes a torn document.
func Save(ctx context.Context, fs filesystem.Service, path string, doc *Document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal data product document: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := fs.WriteFile(ctx, tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp data product document %s: %w", tmpPath, err)
	}
	if err := fs.Rename(ctx, tmpPath, path); err != nil {
		return fmt.Errorf("failed to publish data product document %s: %w", path, err)
	}
	return nil
}

// AddFile appends a manifest entry to doc, keyed by the artifact's path
// relative to the scan root.
func (d *Document) AddFile(relPath string, size int64, description string) {
	d.Files = append(d.Files, File{
		Description: description,
		Path:        filepath.ToSlash(relPath),
		Size:        size,
		Status:      "done",
	})
}

// RecordStat appends a per-pair stat summary and advances the
// completed-pair counter.
func (d *Document) RecordStat(pairKey, statFile string) {
	d.Processing.Stats = append(d.Processing.Stats, StatSummary{PairKey: pairKey, StatFile: statFile})
	d.Processing.PairsCompleted++
}

// Finalize marks the processing section complete. Callers must ensure
// PairsCompleted has reached PairsExpected and scan_completed exists
// before calling this.
func (d *Document) Finalize(now time.Time) {
	t := now
	d.Processing.CompletedAt = &t
}
