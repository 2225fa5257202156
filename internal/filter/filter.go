// Package filter implements the spatial filters applied to a raster grid.
//
// Every filter mutates the grid in place but computes each output pixel from
// the values the grid held before the filter started.
package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dunamismax/rasterkit/internal/raster"
)

var (
	ErrInvalidArgument = errors.New("invalid filter argument")
	ErrUnknownFilter   = errors.New("unknown filter")
)

// Kind identifies one of the supported filters.
type Kind int

const (
	Grayscale Kind = iota + 1
	Invert
	Emboss
	MotionBlur
)

var kindNames = map[Kind]string{
	Grayscale:  "grayscale",
	Invert:     "invert",
	Emboss:     "emboss",
	MotionBlur: "motionblur",
}

var aliases = map[string]Kind{
	"grayscale":  Grayscale,
	"greyscale":  Grayscale,
	"invert":     Invert,
	"emboss":     Emboss,
	"motionblur": MotionBlur,
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("filter(%d)", int(k))
}

// TakesLength reports whether the filter is parameterized by a length.
func (k Kind) TakesLength() bool {
	return k == MotionBlur
}

// Lookup resolves a filter name, including the "greyscale" spelling.
func Lookup(name string) (Kind, error) {
	kind, ok := aliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownFilter, name)
	}
	return kind, nil
}

// Names returns the canonical filter names in usage order.
func Names() []string {
	return []string{
		Grayscale.String(),
		Invert.String(),
		Emboss.String(),
		MotionBlur.String(),
	}
}

// Apply runs the named filter sequentially over g.
func Apply(g *raster.Grid, name string, length int) error {
	kind, err := Lookup(name)
	if err != nil {
		return err
	}
	return Engine{}.Apply(g, kind, length)
}

// ApplyGrayscale runs Engine.Grayscale sequentially.
func ApplyGrayscale(g *raster.Grid) error { return Engine{}.Grayscale(g) }

// ApplyInvert runs Engine.Invert sequentially.
func ApplyInvert(g *raster.Grid) error { return Engine{}.Invert(g) }

// ApplyEmboss runs Engine.Emboss sequentially.
func ApplyEmboss(g *raster.Grid) error { return Engine{}.Emboss(g) }

// ApplyMotionBlur runs Engine.MotionBlur sequentially.
func ApplyMotionBlur(g *raster.Grid, length int) error { return Engine{}.MotionBlur(g, length) }
