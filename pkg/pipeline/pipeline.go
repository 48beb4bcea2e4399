// Package pipeline runs the full batch transform: parse once, build one
// concrete sequence per scan point, optimize against the device memory
// ceiling, and emit artifacts. Scan points share no mutable state, so the
// build stage fans out across workers.
package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"awgc/pkg/awg"
	"awgc/pkg/dsl"
	"awgc/pkg/seq"
	"awgc/pkg/wfile"
)

// Options configures one compilation run.
type Options struct {
	// OutDir receives the artifacts; empty runs a dry compile (feasibility
	// checks without touching the filesystem).
	OutDir string
	// BestEffort continues past failing scan points and reports them
	// collectively instead of aborting on the first semantic error.
	BestEffort bool
	// Repeat overrides the header statistics count when positive. It only
	// ever changes the table repeat field, never the generated samples.
	Repeat int
	// Budget overrides the per-channel sample ceiling; tests only.
	Budget int64
	// Parallelism bounds the build workers; 0 means GOMAXPROCS.
	Parallelism int
	// Registry supplies named presets to the parser; may be nil.
	Registry *dsl.Registry
	// Waves supplies external waveform reference data.
	Waves map[string][]float64
	// Logger receives per-stage progress events.
	Logger zerolog.Logger
}

// Result is the outcome of a successful compilation.
type Result struct {
	Description *seq.SequenceDescription
	Sequences   []*seq.ConcreteSequence
	Artifact    *awg.Artifact
	Report      awg.Report
	Manifest    *wfile.Manifest // nil on a dry compile
	Skipped     []error         // best-effort scan-point failures
}

// Compile runs parse -> build -> optimize -> write. ctx cancellation is
// honored between scan points; an aborted or failed run leaves no partial
// artifacts on disk.
func Compile(ctx context.Context, source string, opts Options) (*Result, error) {
	log := opts.Logger

	desc, err := dsl.Parse(source, opts.Registry)
	if err != nil {
		return nil, errors.Wrap(err, "parse")
	}
	points := seq.ScanPoints(desc)
	log.Debug().Str("sequence", desc.Name).Int("scan_points", len(points)).
		Msg("parsed description")

	built, skipped, err := buildAll(ctx, desc, points, opts)
	if err != nil {
		return nil, err
	}
	if len(built) == 0 {
		return nil, fmt.Errorf("build: every scan point failed: %w", stderrors.Join(skipped...))
	}

	artifact, err := awg.Optimize(built, awg.Options{
		Budget: opts.Budget,
		Repeat: opts.Repeat,
		Waves:  opts.Waves,
	})
	if err != nil {
		return nil, errors.Wrap(err, "optimize")
	}

	result := &Result{
		Description: desc,
		Sequences:   built,
		Artifact:    artifact,
		Report:      artifact.Report(),
		Skipped:     skipped,
	}
	log.Info().Str("sequence", desc.Name).
		Int64("stored_samples", result.Report.TotalSamples).
		Int("table_entries", result.Report.TableEntries).
		Msg("optimized")

	if opts.OutDir != "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		manifest, err := wfile.WriteArtifact(opts.OutDir, artifact)
		if err != nil {
			return nil, errors.Wrap(err, "write")
		}
		result.Manifest = manifest
		log.Info().Str("dir", opts.OutDir).Int("waveforms", len(manifest.Waveforms)).
			Msg("artifacts written")
	}
	return result, nil
}

// buildAll resolves every scan point, fanning out across workers. In
// best-effort mode failing points are collected instead of aborting.
func buildAll(ctx context.Context, desc *seq.SequenceDescription, points []seq.ScanPoint, opts Options) ([]*seq.ConcreteSequence, []error, error) {
	results := make([]*seq.ConcreteSequence, len(points))
	failures := make([]error, len(points))

	workers := opts.Parallelism
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, pt := range points {
		pt := pt
		g.Go(func() error {
			// Cooperative abort between scan points.
			if err := gctx.Err(); err != nil {
				return err
			}
			cs, err := seq.BuildAt(desc, pt)
			if err != nil {
				err = fmt.Errorf("scan point %d: %w", pt.Index, err)
				if opts.BestEffort {
					failures[pt.Index] = err
					return nil
				}
				return err
			}
			results[pt.Index] = cs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, errors.Wrap(err, "build")
	}

	var built []*seq.ConcreteSequence
	var skipped []error
	for i, cs := range results {
		if cs != nil {
			built = append(built, cs)
		} else if failures[i] != nil {
			skipped = append(skipped, failures[i])
			opts.Logger.Warn().Int("scan_point", i).Err(failures[i]).
				Msg("skipping scan point")
		}
	}
	return built, skipped, nil
}

// Estimate parses and builds without optimizing or writing, returning the
// per-scan-point sample estimates the orchestration layer uses to validate
// sweep feasibility before committing hardware time.
func Estimate(ctx context.Context, source string, opts Options) ([]int64, error) {
	desc, err := dsl.Parse(source, opts.Registry)
	if err != nil {
		return nil, errors.Wrap(err, "parse")
	}
	points := seq.ScanPoints(desc)
	built, _, err := buildAll(ctx, desc, points, opts)
	if err != nil {
		return nil, err
	}
	estimates := make([]int64, len(built))
	for i, cs := range built {
		estimates[i] = seq.EstimateSampleCount(cs, desc.SampleRate)
	}
	return estimates, nil
}
