package pipeline

import (
	"context"
	"fmt"

	"github.com/dunamismax/rasterkit/internal/domain"
	"github.com/dunamismax/rasterkit/internal/filter"
	"github.com/dunamismax/rasterkit/internal/ppm"
)

type Transformer interface {
	Transform(ctx context.Context, input []byte, step domain.FilterStep) (data []byte, width, height int, err error)
}

func newTransformer(workers int) Transformer {
	return rasterTransformer{engine: filter.Engine{Workers: workers}}
}

// rasterTransformer decodes P3 input, filters it and re-encodes it.
type rasterTransformer struct {
	engine filter.Engine
}

func (t rasterTransformer) Transform(ctx context.Context, input []byte, step domain.FilterStep) ([]byte, int, int, error) {
	select {
	case <-ctx.Done():
		return nil, 0, 0, ctx.Err()
	default:
	}

	kind, err := step.Kind()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrInvalidFilterStep, err)
	}

	grid, err := ppm.DecodeBytes(input)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode source image: %w", err)
	}

	if err := t.engine.Apply(grid, kind, step.Length); err != nil {
		return nil, 0, 0, fmt.Errorf("apply %s: %w", kind, err)
	}

	output, err := ppm.EncodeBytes(grid)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("encode filtered image: %w", err)
	}

	return output, grid.Width(), grid.Height(), nil
}
