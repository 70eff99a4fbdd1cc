package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/speccade/pkg/artifact"
	"github.com/opd-ai/speccade/pkg/audio"
	"github.com/opd-ai/speccade/pkg/budget"
	"github.com/opd-ai/speccade/pkg/canon"
	"github.com/opd-ai/speccade/pkg/lint"
	"github.com/opd-ai/speccade/pkg/music"
	"github.com/opd-ai/speccade/pkg/spec"
	"github.com/opd-ai/speccade/pkg/texture"
)

// Options configure a pipeline run.
type Options struct {
	Strict bool
	Lint   lint.Options
	Cache  *Cache
}

// Validate parses and validates a spec, writing the report next to it.
// The returned report carries every diagnostic; the error is non-nil only
// for I/O and parse failures.
func Validate(specPath string, prof *budget.Profile) (*Report, *spec.Spec, error) {
	data, err := os.ReadFile(specPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read spec: %w", err)
	}

	s, err := spec.Parse(data)
	if err != nil {
		return nil, nil, err
	}

	specHash, err := canon.SpecHash(data)
	if err != nil {
		return nil, nil, err
	}

	report := newReport(specHash)
	report.Diagnostics = spec.ValidateContract(s, prof)

	if err := writeReport(reportPath(specPath, s.AssetID), report); err != nil {
		return nil, nil, err
	}

	logrus.WithFields(logrus.Fields{
		"asset_id":  s.AssetID,
		"spec_hash": specHash[:12],
		"errors":    report.Diagnostics.HasErrors(),
	}).Info("validated spec")

	return report, s, nil
}

// renderedArtifact holds one output's bytes until the whole run succeeds.
type renderedArtifact struct {
	path    string
	relPath string
	format  string
	data    []byte
}

// Generate validates, renders every declared output, lints, and writes
// artifacts plus the report. All-or-nothing: a failure before the write
// phase leaves no artifact on disk.
func Generate(specPath, outRoot string, prof *budget.Profile, opts *Options) (*Report, error) {
	data, err := os.ReadFile(specPath)
	if err != nil {
		return nil, fmt.Errorf("read spec: %w", err)
	}
	s, err := spec.Parse(data)
	if err != nil {
		return nil, err
	}
	specHash, err := canon.SpecHash(data)
	if err != nil {
		return nil, err
	}
	report := newReport(specHash)

	report.Diagnostics = spec.ValidateForGenerate(s, prof)
	if report.Diagnostics.HasErrors() {
		if err := writeReport(reportPath(specPath, s.AssetID), report); err != nil {
			return nil, err
		}
		return report, fmt.Errorf("validation failed for %s", s.AssetID)
	}

	if opts == nil {
		opts = &Options{}
	}

	// Cache consultation: if every declared output was already produced for
	// this (spec_hash, target_triple, backend_version) and the bytes on
	// disk still match, skip rendering entirely. Artifacts that passed the
	// lint gate when recorded need no second pass.
	if opts.Cache != nil {
		if outputs, ok := cachedOutputs(opts.Cache, specHash, s, outRoot); ok {
			report.Outputs = outputs
			if err := writeReport(reportPath(specPath, s.AssetID), report); err != nil {
				return nil, err
			}
			logrus.WithFields(logrus.Fields{
				"asset_id":  s.AssetID,
				"spec_hash": specHash[:12],
			}).Info("cache hit, skipped rendering")
			return report, nil
		}
	}

	// Render everything in memory first.
	rendered, lintIssues, err := renderAll(s, specPath, outRoot, prof, opts)
	if err != nil {
		report.Diagnostics = append(report.Diagnostics, spec.Diagnostic{
			Code: spec.CodeBackendParam, Severity: spec.SeverityError,
			Path: "/recipe", Message: err.Error(),
		})
		if d, ok := err.(*spec.Diagnostic); ok {
			report.Diagnostics[len(report.Diagnostics)-1] = *d
		}
		if werr := writeReport(reportPath(specPath, s.AssetID), report); werr != nil {
			return nil, werr
		}
		return report, err
	}
	report.Lint = lintIssues

	// Write phase: artifacts in declared order, each atomically.
	for _, ra := range rendered {
		if err := writeFileAtomic(ra.path, ra.data); err != nil {
			return report, err
		}
		hash, err := artifact.HashBytes(ra.format, ra.data)
		if err != nil {
			return report, err
		}
		report.Outputs = append(report.Outputs, OutputReport{Path: ra.relPath, Hash: hash})
		logrus.WithFields(logrus.Fields{
			"path": ra.relPath,
			"hash": hash[:12],
		}).Info("wrote artifact")
	}

	if opts.Cache != nil && !lint.Failed(report.Lint, opts.Strict) {
		if err := opts.Cache.Store(specHash, report); err != nil {
			logrus.WithError(err).Warn("cache store failed")
		}
	}

	if err := writeReport(reportPath(specPath, s.AssetID), report); err != nil {
		return nil, err
	}

	if lint.Failed(report.Lint, opts.Strict) {
		return report, fmt.Errorf("lint gate failed for %s", s.AssetID)
	}
	return report, nil
}

// cachedOutputs checks every renderable output against the cache. A hit
// requires both a recorded hash and a file at the output path whose
// format-aware hash still matches; any miss or drifted file forces a full
// render.
func cachedOutputs(cache *Cache, specHash string, s *spec.Spec, outRoot string) ([]OutputReport, bool) {
	var outputs []OutputReport
	for _, out := range s.Outputs {
		switch out.Format {
		case "wav", "png", "xm", "it":
		default:
			continue
		}
		want, ok, err := cache.Lookup(specHash, out.Path)
		if err != nil || !ok {
			return nil, false
		}
		got, err := artifact.HashFile(filepath.Join(outRoot, out.Path))
		if err != nil || got != want {
			return nil, false
		}
		outputs = append(outputs, OutputReport{Path: out.Path, Hash: want})
	}
	return outputs, len(outputs) > 0
}

// renderAll dispatches on the recipe kind and produces every output's
// bytes plus the lint findings.
func renderAll(s *spec.Spec, specPath, outRoot string, prof *budget.Profile, opts *Options) ([]renderedArtifact, []lint.Issue, error) {
	var rendered []renderedArtifact
	var issues []lint.Issue

	outPath := func(rel string) string {
		return filepath.Join(outRoot, rel)
	}

	switch s.Recipe.Kind {
	case spec.KindAudio:
		params, err := s.AudioParams()
		if err != nil {
			return nil, nil, err
		}
		buf, err := audio.Render(params, s.Seed32())
		if err != nil {
			return nil, nil, err
		}
		wav := audio.EncodeWAV(buf)
		issues = lint.CheckSamples(buf.Samples, buf.SampleRate, buf.Channels, params, &opts.Lint)
		for _, out := range s.Outputs {
			if out.Format == "wav" {
				rendered = append(rendered, renderedArtifact{
					path: outPath(out.Path), relPath: out.Path, format: "wav", data: wav,
				})
			}
		}

	case spec.KindTexture:
		params, err := s.TextureParams()
		if err != nil {
			return nil, nil, err
		}
		field, err := texture.Render(params, s.Seed32())
		if err != nil {
			return nil, nil, err
		}
		png, err := texture.EncodePNG(field)
		if err != nil {
			return nil, nil, err
		}
		pngIssues, err := lint.CheckPNG(png, params.Tileable, &opts.Lint)
		if err != nil {
			return nil, nil, err
		}
		issues = pngIssues
		for _, out := range s.Outputs {
			if out.Format == "png" {
				rendered = append(rendered, renderedArtifact{
					path: outPath(out.Path), relPath: out.Path, format: "png", data: png,
				})
			}
		}

	case spec.KindTrackerSong, spec.KindTrackerCompose:
		tracker, err := resolveTrackerParams(s, prof)
		if err != nil {
			return nil, nil, err
		}
		samples, err := compileInstruments(tracker, s, specPath)
		if err != nil {
			return nil, nil, err
		}
		issues = lint.CheckTracker(tracker, &opts.Lint)

		for _, out := range s.Outputs {
			var data []byte
			switch out.Format {
			case "xm":
				data, err = music.EmitXM(tracker, samples, s.AssetID)
			case "it":
				data, err = music.EmitIT(tracker, samples, s.AssetID)
			default:
				continue
			}
			if err != nil {
				return nil, nil, err
			}
			rendered = append(rendered, renderedArtifact{
				path: outPath(out.Path), relPath: out.Path, format: out.Format, data: data,
			})
		}

	default:
		return nil, nil, fmt.Errorf("no backend for recipe kind %q", s.Recipe.Kind)
	}

	return rendered, issues, nil
}

// resolveTrackerParams expands compose specs to canonical tracker params,
// or decodes them directly.
func resolveTrackerParams(s *spec.Spec, prof *budget.Profile) (*spec.TrackerParams, error) {
	if s.Recipe.Kind == spec.KindTrackerCompose {
		params, err := s.ComposeParams()
		if err != nil {
			return nil, err
		}
		return music.Expand(params, s.Seed32(), prof)
	}
	return s.TrackerParams()
}

// compileInstruments renders every instrument sample. Refs resolve
// relative to the spec file.
func compileInstruments(tracker *spec.TrackerParams, s *spec.Spec, specPath string) ([]*music.Sample, error) {
	loader := func(ref string) (*spec.AudioParams, uint32, error) {
		refPath := filepath.Join(filepath.Dir(specPath), filepath.FromSlash(ref))
		data, err := os.ReadFile(refPath)
		if err != nil {
			return nil, 0, fmt.Errorf("read instrument ref: %w", err)
		}
		refSpec, err := spec.Parse(data)
		if err != nil {
			return nil, 0, err
		}
		params, err := refSpec.AudioParams()
		if err != nil {
			return nil, 0, err
		}
		return params, refSpec.Seed32(), nil
	}

	sampleRate := 22050
	samples := make([]*music.Sample, len(tracker.Instruments))
	for i := range tracker.Instruments {
		sm, err := music.CompileInstrument(&tracker.Instruments[i], s.Seed32(), i, sampleRate, loader)
		if err != nil {
			return nil, err
		}
		samples[i] = sm
	}
	return samples, nil
}

// Expand runs the compose stage alone and returns the canonical tracker
// params as deterministic JSON.
func Expand(specPath string, prof *budget.Profile) ([]byte, error) {
	data, err := os.ReadFile(specPath)
	if err != nil {
		return nil, fmt.Errorf("read spec: %w", err)
	}
	s, err := spec.Parse(data)
	if err != nil {
		return nil, err
	}
	params, err := s.ComposeParams()
	if err != nil {
		return nil, err
	}
	tracker, err := music.Expand(params, s.Seed32(), prof)
	if err != nil {
		return nil, err
	}

	// Canonical JSON keeps expand output snapshot-stable.
	raw, err := json.Marshal(tracker)
	if err != nil {
		return nil, err
	}
	return canon.CanonicalizeJSON(raw)
}

// Hash hashes an artifact on disk format-aware.
func Hash(path string) (string, error) {
	return artifact.HashFile(path)
}
