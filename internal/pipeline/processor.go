package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/rasterkit/internal/domain"
	"github.com/dunamismax/rasterkit/internal/ppm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const SourceTypeLocalFile = domain.SourceTypeLocalFile

var (
	ErrUnsupportedSourceType = errors.New("unsupported source_type")
	ErrInvalidFilterStep     = errors.New("invalid filter step")
	ErrInvalidOutputKey      = errors.New("invalid output key")
)

type Request struct {
	JobID      string
	SourceType string
	ObjectKey  string
	OutputKey  string
	Step       domain.FilterStep
}

type Output struct {
	Filter  string `json:"filter"`
	Format  string `json:"format"`
	Path    string `json:"path"`
	Bytes   int    `json:"bytes"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Success bool   `json:"success"`
}

type Result struct {
	SourceBytes int
	Output      Output
}

// Pixels returns the number of pixels the run filtered.
func (r Result) Pixels() int64 {
	return int64(r.Output.Width) * int64(r.Output.Height)
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, data []byte, width, height int) (Output, error)
}

type Processor struct {
	fetcher     Fetcher
	transformer Transformer
	emitter     Emitter
	tracer      trace.Tracer
}

// NewProcessor wires a fetch and emit stage around the raster transformer.
// workers > 1 spreads filter rows across goroutines.
func NewProcessor(fetcher Fetcher, emitter Emitter, workers int) *Processor {
	return &Processor{
		fetcher:     fetcher,
		transformer: newTransformer(workers),
		emitter:     emitter,
		tracer:      otel.Tracer("rasterkit/pipeline"),
	}
}

// NewLocalProcessor reads local files and writes every output under
// outputDir. Output keys are resolved relative to outputDir.
func NewLocalProcessor(outputDir string, workers int) *Processor {
	return NewProcessor(LocalFileFetcher{}, LocalFileEmitter{OutputDir: outputDir, Confined: true}, workers)
}

// Process runs fetch, transform and emit in order. Nothing is emitted unless
// the earlier stages succeed.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if err := req.Step.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidFilterStep, err)
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.process")
	span.SetAttributes(
		attribute.String("job.id", req.JobID),
		attribute.String("job.source_type", req.SourceType),
		attribute.String("filter.name", req.Step.Filter),
		attribute.Int("filter.length", req.Step.Length),
	)
	defer span.End()

	result, err := p.process(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		return Result{}, err
	}
	span.SetStatus(codes.Ok, "processed")
	return result, nil
}

func (p *Processor) process(ctx context.Context, req Request) (Result, error) {
	var sourceBytes []byte
	err := p.stage(ctx, "fetch", func(ctx context.Context) error {
		var err error
		sourceBytes, err = p.fetcher.Fetch(ctx, req)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	var (
		transformed   []byte
		width, height int
	)
	err = p.stage(ctx, "transform", func(ctx context.Context) error {
		var err error
		transformed, width, height, err = p.transformer.Transform(ctx, sourceBytes, req.Step)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("transform stage filter=%s: %w", req.Step.Filter, err)
	}

	var written Output
	err = p.stage(ctx, "emit", func(ctx context.Context) error {
		var err error
		written, err = p.emitter.Emit(ctx, req, transformed, width, height)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("emit stage filter=%s: %w", req.Step.Filter, err)
	}

	return Result{SourceBytes: len(sourceBytes), Output: written}, nil
}

func (p *Processor) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	ctx, span := p.tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name+" failed")
		return err
	}
	return nil
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return data, nil
}

// LocalFileEmitter writes to req.OutputKey when set, otherwise to
// <OutputDir>/<job>/<filter>.ppm. Files appear atomically.
//
// A Confined emitter treats req.OutputKey as a path relative to OutputDir and
// refuses keys that are absolute or climb out of it.
type LocalFileEmitter struct {
	OutputDir string
	Confined  bool
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, data []byte, width, height int) (Output, error) {
	fullPath, err := e.outputPath(req)
	if err != nil {
		return Output{}, err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}
	if err := writeFileAtomic(fullPath, data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return newOutput(req, fullPath, data, width, height), nil
}

func (e LocalFileEmitter) outputPath(req Request) (string, error) {
	key := strings.TrimSpace(req.OutputKey)
	if key != "" && !e.Confined {
		return key, nil
	}
	if strings.TrimSpace(e.OutputDir) == "" {
		return "", errors.New("output directory is required")
	}
	if key == "" {
		return filepath.Join(e.OutputDir, sanitizePathToken(req.JobID), outputFilename(req.Step)), nil
	}
	if !filepath.IsLocal(key) {
		return "", fmt.Errorf("%w: %q escapes the output directory", ErrInvalidOutputKey, key)
	}
	return filepath.Join(e.OutputDir, key), nil
}

func newOutput(req Request, path string, data []byte, width, height int) Output {
	return Output{
		Filter:  req.Step.Filter,
		Format:  ppm.Extension,
		Path:    path,
		Bytes:   len(data),
		Width:   width,
		Height:  height,
		Success: true,
	}
}

// writeFileAtomic writes data to a temp file next to path and renames it into
// place, so readers never observe a partial file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), perm); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func outputFilename(step domain.FilterStep) string {
	name := sanitizePathToken(step.Filter)
	if step.Length > 0 {
		name = fmt.Sprintf("%s_%d", name, step.Length)
	}
	return name + "." + ppm.Extension
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
