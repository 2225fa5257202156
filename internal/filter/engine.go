package filter

import (
	"fmt"

	"github.com/dunamismax/rasterkit/internal/raster"
	"golang.org/x/sync/errgroup"
)

const embossBase = 128

// Engine applies filters, optionally spreading rows across goroutines.
// The zero value runs sequentially.
type Engine struct {
	Workers int
}

// Apply dispatches to the filter identified by kind.
func (e Engine) Apply(g *raster.Grid, kind Kind, length int) error {
	switch kind {
	case Grayscale:
		return e.Grayscale(g)
	case Invert:
		return e.Invert(g)
	case Emboss:
		return e.Emboss(g)
	case MotionBlur:
		return e.MotionBlur(g, length)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFilter, kind)
	}
}

// Grayscale sets every channel to the floored mean of the pixel's three
// channels.
func (e Engine) Grayscale(g *raster.Grid) error {
	return e.eachRow(g, func(_ int, row []raster.Color) error {
		for x, c := range row {
			v := raster.Clamp(floorDiv(c.R+c.G+c.B, 3))
			row[x] = raster.Color{R: v, G: v, B: v}
		}
		return nil
	})
}

// Invert replaces every channel c with 255-c.
func (e Engine) Invert(g *raster.Grid) error {
	return e.eachRow(g, func(_ int, row []raster.Color) error {
		for x, c := range row {
			row[x] = raster.Color{
				R: raster.MaxChannel - c.R,
				G: raster.MaxChannel - c.G,
				B: raster.MaxChannel - c.B,
			}
		}
		return nil
	})
}

// Emboss shades each pixel gray by its difference from the original up-left
// neighbour. The channel difference with the largest magnitude wins, ties
// going to R then G then B, and the result is 128+diff clamped to [0, 255].
// The top row and the left column have no up-left neighbour and become 128.
func (e Engine) Emboss(g *raster.Grid) error {
	if g.Empty() {
		return nil
	}

	src := g.Clone()
	return e.eachRow(g, func(y int, row []raster.Color) error {
		if y == 0 {
			for x := range row {
				row[x] = gray(embossBase)
			}
			return nil
		}

		cur, err := src.Row(y)
		if err != nil {
			return err
		}
		above, err := src.Row(y - 1)
		if err != nil {
			return err
		}

		for x := range row {
			diff := 0
			if x > 0 {
				diff = dominantDiff(cur[x], above[x-1])
			}
			row[x] = gray(raster.Clamp(embossBase + diff))
		}
		return nil
	})
}

// MotionBlur replaces each pixel with the floored mean of itself and up to
// length-1 original pixels to its right, stopping at the row's end. Lengths
// of 0 and 1 leave the grid unchanged; a negative length is rejected.
func (e Engine) MotionBlur(g *raster.Grid, length int) error {
	if length < 0 {
		return fmt.Errorf("%w: motion blur length %d is negative", ErrInvalidArgument, length)
	}
	if length <= 1 {
		return nil
	}

	return e.eachRow(g, func(_ int, row []raster.Color) error {
		// prefix[i] holds the channel sums of the original row[0:i].
		prefix := make([]raster.Color, len(row)+1)
		for x, c := range row {
			prefix[x+1] = raster.Color{
				R: prefix[x].R + c.R,
				G: prefix[x].G + c.G,
				B: prefix[x].B + c.B,
			}
		}

		// A window never extends past the row, so clamp before adding to x.
		window := min(length, len(row))
		for x := range row {
			end := min(len(row), x+window)
			n := end - x
			lo, hi := prefix[x], prefix[end]
			row[x] = raster.Color{
				R: floorDiv(hi.R-lo.R, n),
				G: floorDiv(hi.G-lo.G, n),
				B: floorDiv(hi.B-lo.B, n),
			}
		}
		return nil
	})
}

// eachRow calls fn for every row of g. With more than one worker, rows are
// split into contiguous bands processed concurrently.
func (e Engine) eachRow(g *raster.Grid, fn func(y int, row []raster.Color) error) error {
	if g.Empty() {
		return nil
	}

	height := g.Height()
	workers := min(e.Workers, height)
	if workers <= 1 {
		return rowRange(g, 0, height, fn)
	}

	band := (height + workers - 1) / workers
	var eg errgroup.Group
	for start := 0; start < height; start += band {
		end := min(start+band, height)
		eg.Go(func() error {
			return rowRange(g, start, end, fn)
		})
	}
	return eg.Wait()
}

func rowRange(g *raster.Grid, start, end int, fn func(y int, row []raster.Color) error) error {
	for y := start; y < end; y++ {
		row, err := g.Row(y)
		if err != nil {
			return err
		}
		if err := fn(y, row); err != nil {
			return err
		}
	}
	return nil
}

// dominantDiff returns the channel difference cur-prev with the largest
// magnitude. Ties go to the earlier channel in R, G, B order.
func dominantDiff(cur, prev raster.Color) int {
	diff := cur.R - prev.R
	if d := cur.G - prev.G; abs(d) > abs(diff) {
		diff = d
	}
	if d := cur.B - prev.B; abs(d) > abs(diff) {
		diff = d
	}
	return diff
}

func gray(v int) raster.Color {
	return raster.Color{R: v, G: v, B: v}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
