package raster

import (
	"errors"
	"fmt"
)

const (
	MinChannel = 0
	MaxChannel = 255
)

var (
	ErrInvalidDimension = errors.New("invalid grid dimension")
	ErrOutOfBounds      = errors.New("coordinate out of bounds")
)

// Color is an RGB triple. Channels are ints so filters can accumulate past
// 255 before clamping.
type Color struct {
	R, G, B int
}

// Valid reports whether every channel is within [0, 255].
func (c Color) Valid() bool {
	return inRange(c.R) && inRange(c.G) && inRange(c.B)
}

func inRange(v int) bool {
	return v >= MinChannel && v <= MaxChannel
}

// Clamp constrains v to [0, 255].
func Clamp(v int) int {
	if v < MinChannel {
		return MinChannel
	}
	if v > MaxChannel {
		return MaxChannel
	}
	return v
}

// Grid is a rectangular pixel buffer stored row-major.
type Grid struct {
	width  int
	height int
	pix    []Color
}

// New creates a width x height grid with every pixel black.
func New(width, height int) (*Grid, error) {
	if width < 0 || height < 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimension, width, height)
	}
	return &Grid{
		width:  width,
		height: height,
		pix:    make([]Color, width*height),
	}, nil
}

// Width returns the number of columns.
func (g *Grid) Width() int {
	return g.width
}

// Height returns the number of rows.
func (g *Grid) Height() int {
	return g.height
}

// Empty reports whether the grid holds no pixels.
func (g *Grid) Empty() bool {
	return g.width == 0 || g.height == 0
}

func (g *Grid) contains(x, y int) bool {
	return x >= 0 && x < g.width && y >= 0 && y < g.height
}

func (g *Grid) outOfBounds(x, y int) error {
	return fmt.Errorf("%w: (%d,%d) outside %dx%d", ErrOutOfBounds, x, y, g.width, g.height)
}

// At returns the color at (x, y).
func (g *Grid) At(x, y int) (Color, error) {
	if !g.contains(x, y) {
		return Color{}, g.outOfBounds(x, y)
	}
	return g.pix[y*g.width+x], nil
}

// Set replaces the color at (x, y).
func (g *Grid) Set(x, y int, c Color) error {
	if !g.contains(x, y) {
		return g.outOfBounds(x, y)
	}
	g.pix[y*g.width+x] = c
	return nil
}

// Row returns row y as a slice sharing the grid's storage. Writes through the
// slice modify the grid.
func (g *Grid) Row(y int) ([]Color, error) {
	if y < 0 || y >= g.height {
		return nil, g.outOfBounds(0, y)
	}
	start := y * g.width
	return g.pix[start : start+g.width : start+g.width], nil
}

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	pix := make([]Color, len(g.pix))
	copy(pix, g.pix)
	return &Grid{width: g.width, height: g.height, pix: pix}
}

// Equal reports whether both grids have the same dimensions and pixels.
func (g *Grid) Equal(other *Grid) bool {
	if g == nil || other == nil {
		return g == other
	}
	if g.width != other.width || g.height != other.height {
		return false
	}
	for i := range g.pix {
		if g.pix[i] != other.pix[i] {
			return false
		}
	}
	return true
}

// Pixels returns the number of pixels in the grid.
func (g *Grid) Pixels() int {
	return len(g.pix)
}
