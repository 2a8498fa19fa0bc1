// SPDX-License-Identifier: MPL-2.0

package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/invowk/nodefleet/internal/deploy"
)

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ErrUnknownFormat is returned for report paths without a .json, .yaml or .yml extension.
var ErrUnknownFormat = errors.New("unknown report format")

type (
	// Format is a report file encoding.
	Format string

	// Report is one deployment run.
	Report struct {
		Fleet      string          `json:"fleet" yaml:"fleet"`
		FleetFile  string          `json:"fleet_file,omitempty" yaml:"fleet_file,omitempty"`
		StartedAt  time.Time       `json:"started_at" yaml:"started_at"`
		DurationMS int64           `json:"duration_ms" yaml:"duration_ms"`
		Succeeded  int             `json:"succeeded" yaml:"succeeded"`
		Failed     int             `json:"failed" yaml:"failed"`
		Results    []deploy.Result `json:"results" yaml:"results"`
	}
)

// New builds a report from the results of a run that started at started.
func New(fleetName, fleetFile string, started time.Time, results []deploy.Result) Report {
	failed := len(deploy.Failed(results))
	return Report{
		Fleet:      fleetName,
		FleetFile:  fleetFile,
		StartedAt:  started.UTC(),
		DurationMS: time.Since(started).Milliseconds(),
		Succeeded:  len(results) - failed,
		Failed:     failed,
		Results:    results,
	}
}

// FormatFor picks the format from the file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %s (use .json, .yaml or .yml)", ErrUnknownFormat, path)
	}
}

// Encode serializes the report.
func (r Report) Encode(format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode report: %w", err)
		}
		return append(data, '\n'), nil
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return nil, fmt.Errorf("encode report: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encode report: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// WriteFile writes the report to path in the format its extension names.
func (r Report) WriteFile(path string) error {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}
	data, err := r.Encode(format)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
