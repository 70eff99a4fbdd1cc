// Package pipeline orchestrates spec validation, artifact generation, the
// lint gate, and report emission.
package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opd-ai/speccade/pkg/lint"
	"github.com/opd-ai/speccade/pkg/spec"
)

// BackendVersion tags every artifact with the generation backend revision.
// Bump when any change alters output bytes (PNG compression, DSP, emitter
// layout).
const BackendVersion = "speccade-core/1"

// OutputReport records one declared output's result.
type OutputReport struct {
	Path    string                 `json:"path"`
	Hash    string                 `json:"hash,omitempty"`
	Metrics map[string]interface{} `json:"metrics,omitempty"`
}

// Report is the sibling file written next to the spec on every run.
type Report struct {
	SpecHash        string            `json:"spec_hash"`
	Outputs         []OutputReport    `json:"outputs"`
	Lint            []lint.Issue      `json:"lint"`
	Diagnostics     spec.Diagnostics  `json:"diagnostics"`
	BackendVersions map[string]string `json:"backend_versions"`
}

func newReport(specHash string) *Report {
	return &Report{
		SpecHash:        specHash,
		Outputs:         []OutputReport{},
		Lint:            []lint.Issue{},
		Diagnostics:     spec.Diagnostics{},
		BackendVersions: map[string]string{"core": BackendVersion},
	}
}

// reportPath places the report next to the spec, named by asset id.
func reportPath(specPath, assetID string) string {
	return filepath.Join(filepath.Dir(specPath), assetID+".report.json")
}

// writeReport replaces the report atomically.
func writeReport(path string, r *Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return writeFileAtomic(path, append(data, '\n'))
}

// writeFileAtomic writes via a temp file and rename so failures never leave
// a half-written file behind.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".speccade-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
