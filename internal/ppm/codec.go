// Package ppm reads and writes the plain-text P3 pixmap format.
package ppm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/dunamismax/rasterkit/internal/raster"
)

const (
	Magic       = "P3"
	MaxValue    = 255
	ContentType = "image/x-portable-pixmap"
	Extension   = "ppm"

	// MaxPixels bounds the allocation a header can request.
	MaxPixels = 1 << 26
)

var (
	ErrDecode = errors.New("ppm decode")
	ErrEncode = errors.New("ppm encode")
)

// Decode reads a P3 image. Comments introduced by '#' are skipped. The
// returned grid is fully populated or nil.
func Decode(r io.Reader) (*raster.Grid, error) {
	tr := newTokenReader(r)

	magic, err := tr.next()
	if err != nil {
		return nil, decodeErr("read magic number: %v", err)
	}
	if magic != Magic {
		return nil, decodeErr("invalid magic number %q", magic)
	}

	width, err := tr.nextInt("width")
	if err != nil {
		return nil, err
	}
	height, err := tr.nextInt("height")
	if err != nil {
		return nil, err
	}
	if err := checkDimensions(width, height); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if width > 0 && height > MaxPixels/width {
		return nil, decodeErr("image %dx%d exceeds %d pixels", width, height, MaxPixels)
	}

	maxValue, err := tr.nextInt("max value")
	if err != nil {
		return nil, err
	}
	if maxValue != MaxValue {
		return nil, decodeErr("unsupported max value %d (want %d)", maxValue, MaxValue)
	}

	grid, err := raster.New(width, height)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	for y := 0; y < height; y++ {
		row, err := grid.Row(y)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		for x := range row {
			var c [3]int
			for ch := range c {
				v, tok, err := tr.nextValue()
				if err != nil {
					if errors.Is(err, io.EOF) {
						return nil, decodeErr("unexpected end of input at pixel (%d,%d): got %d of %d pixels", x, y, y*width+x, width*height)
					}
					return nil, decodeErr("pixel (%d,%d) value %q: %v", x, y, tok, err)
				}
				if v < raster.MinChannel || v > MaxValue {
					return nil, decodeErr("pixel (%d,%d) value %d out of range", x, y, v)
				}
				c[ch] = v
			}
			row[x] = raster.Color{R: c[0], G: c[1], B: c[2]}
		}
	}

	if extra, err := tr.next(); err == nil {
		return nil, decodeErr("unexpected trailing data %q after %d pixels", extra, width*height)
	} else if !errors.Is(err, io.EOF) {
		return nil, decodeErr("read trailing data: %v", err)
	}

	return grid, nil
}

// Encode writes g as P3 with one image row per line. Nothing is written if the
// grid holds a channel outside [0, 255].
func Encode(w io.Writer, g *raster.Grid) error {
	if g == nil {
		return fmt.Errorf("%w: nil grid", ErrEncode)
	}
	if err := checkDimensions(g.Width(), g.Height()); err != nil {
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s\n%d %d\n%d\n", Magic, g.Width(), g.Height(), MaxValue)

	scratch := make([]byte, 0, 16)
	for y := 0; y < g.Height(); y++ {
		row, err := g.Row(y)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrEncode, err)
		}
		for x, c := range row {
			if !c.Valid() {
				return fmt.Errorf("%w: pixel (%d,%d) %+v out of range", ErrEncode, x, y, c)
			}
			if x > 0 {
				buf.WriteByte(' ')
			}
			scratch = strconv.AppendInt(scratch[:0], int64(c.R), 10)
			scratch = append(scratch, ' ')
			scratch = strconv.AppendInt(scratch, int64(c.G), 10)
			scratch = append(scratch, ' ')
			scratch = strconv.AppendInt(scratch, int64(c.B), 10)
			buf.Write(scratch)
		}
		buf.WriteByte('\n')
	}

	if _, err := buf.WriteTo(w); err != nil {
		return fmt.Errorf("%w: write: %v", ErrEncode, err)
	}
	return nil
}

// EncodeBytes is Encode into a fresh byte slice.
func EncodeBytes(g *raster.Grid) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeBytes is Decode over an in-memory image.
func DecodeBytes(data []byte) (*raster.Grid, error) {
	return Decode(bytes.NewReader(data))
}

// checkDimensions rejects grids that claim rows without columns or the
// reverse.
func checkDimensions(width, height int) error {
	if width < 0 || height < 0 {
		return fmt.Errorf("negative dimensions %dx%d", width, height)
	}
	if (width == 0) != (height == 0) {
		return fmt.Errorf("degenerate dimensions %dx%d", width, height)
	}
	return nil
}

func decodeErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDecode, fmt.Sprintf(format, args...))
}

type tokenReader struct {
	r *bufio.Reader
}

func newTokenReader(r io.Reader) *tokenReader {
	return &tokenReader{r: bufio.NewReader(r)}
}

// next returns the next whitespace-separated token, or io.EOF when only
// whitespace and comments remain.
func (t *tokenReader) next() (string, error) {
	var tok []byte
	for {
		b, err := t.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && len(tok) > 0 {
				return string(tok), nil
			}
			return "", err
		}

		switch {
		case b == '#':
			if len(tok) > 0 {
				_ = t.r.UnreadByte()
				return string(tok), nil
			}
			if err := t.skipLine(); err != nil {
				return "", err
			}
		case isSpace(b):
			if len(tok) > 0 {
				return string(tok), nil
			}
		default:
			tok = append(tok, b)
		}
	}
}

func (t *tokenReader) nextInt(what string) (int, error) {
	v, tok, err := t.nextValue()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, decodeErr("unexpected end of input reading %s", what)
		}
		return 0, decodeErr("invalid %s %q: %v", what, tok, err)
	}
	return v, nil
}

// nextValue reads the next token as a decimal integer.
func (t *tokenReader) nextValue() (int, string, error) {
	tok, err := t.next()
	if err != nil {
		return 0, "", err
	}
	v, err := strconv.Atoi(tok)
	if err != nil {
		return 0, tok, err
	}
	return v, tok, nil
}

func (t *tokenReader) skipLine() error {
	for {
		b, err := t.r.ReadByte()
		if err != nil {
			return err
		}
		if b == '\n' || b == '\r' {
			return nil
		}
	}
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}
