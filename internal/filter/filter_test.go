package filter

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/dunamismax/rasterkit/internal/raster"
	"github.com/google/go-cmp/cmp"
)

func TestInvertScenario(t *testing.T) {
	g := scenarioGrid(t)
	if err := ApplyInvert(g); err != nil {
		t.Fatalf("invert: %v", err)
	}

	want := map[[2]int]raster.Color{
		{0, 0}: {R: 245, G: 235, B: 225},
		{1, 0}: {R: 205, G: 195, B: 185},
		{0, 1}: {R: 165, G: 155, B: 145},
		{1, 1}: {R: 125, G: 115, B: 105},
	}
	for xy, c := range want {
		if got := mustAt(t, g, xy[0], xy[1]); got != c {
			t.Fatalf("pixel %v: expected %+v, got %+v", xy, c, got)
		}
	}
}

func TestGrayscaleScenario(t *testing.T) {
	g := scenarioGrid(t)
	if err := ApplyGrayscale(g); err != nil {
		t.Fatalf("grayscale: %v", err)
	}
	if got := mustAt(t, g, 0, 0); got != (raster.Color{R: 20, G: 20, B: 20}) {
		t.Fatalf("expected (20,20,20), got %+v", got)
	}
	if got := mustAt(t, g, 1, 1); got != (raster.Color{R: 140, G: 140, B: 140}) {
		t.Fatalf("expected (140,140,140), got %+v", got)
	}
}

func TestGrayscaleFloorsMean(t *testing.T) {
	g := gridFromRows(t, [][]raster.Color{{{R: 1, G: 1, B: 0}, {R: 255, G: 255, B: 254}}})
	if err := ApplyGrayscale(g); err != nil {
		t.Fatalf("grayscale: %v", err)
	}
	if got := mustAt(t, g, 0, 0); got.R != 0 {
		t.Fatalf("expected floor(2/3)=0, got %d", got.R)
	}
	if got := mustAt(t, g, 1, 0); got.R != 254 {
		t.Fatalf("expected floor(764/3)=254, got %d", got.R)
	}
}

func TestEmbossScenario(t *testing.T) {
	g := scenarioGrid(t)
	if err := ApplyEmboss(g); err != nil {
		t.Fatalf("emboss: %v", err)
	}

	if got := mustAt(t, g, 1, 1); got != (raster.Color{R: 248, G: 248, B: 248}) {
		t.Fatalf("expected (248,248,248) at (1,1), got %+v", got)
	}
	for _, xy := range [][2]int{{0, 0}, {1, 0}, {0, 1}} {
		if got := mustAt(t, g, xy[0], xy[1]); got != (raster.Color{R: 128, G: 128, B: 128}) {
			t.Fatalf("expected edge pixel %v to be 128, got %+v", xy, got)
		}
	}
}

func TestEmbossDominantChannel(t *testing.T) {
	cases := []struct {
		name string
		prev raster.Color
		cur  raster.Color
		want int
	}{
		{"red wins tie with green", raster.Color{R: 100, G: 100, B: 100}, raster.Color{R: 110, G: 90, B: 100}, 138},
		{"green wins tie with blue", raster.Color{R: 100, G: 100, B: 100}, raster.Color{R: 100, G: 80, B: 120}, 108},
		{"largest magnitude negative", raster.Color{R: 50, G: 200, B: 50}, raster.Color{R: 60, G: 0, B: 70}, 0},
		{"blue largest", raster.Color{R: 10, G: 10, B: 10}, raster.Color{R: 15, G: 5, B: 40}, 158},
		{"clamped high", raster.Color{}, raster.Color{R: 255, G: 0, B: 0}, 255},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := gridFromRows(t, [][]raster.Color{
				{tc.prev, {}},
				{{}, tc.cur},
			})
			if err := ApplyEmboss(g); err != nil {
				t.Fatalf("emboss: %v", err)
			}
			got := mustAt(t, g, 1, 1)
			if got != (raster.Color{R: tc.want, G: tc.want, B: tc.want}) {
				t.Fatalf("expected %d on all channels, got %+v", tc.want, got)
			}
		})
	}
}

func TestEmbossReadsOriginalNeighbours(t *testing.T) {
	// A diagonal staircase: if (1,1) were read after being embossed, (2,2)
	// would see 128-based values instead of the originals.
	g := gridFromRows(t, [][]raster.Color{
		{{R: 0}, {R: 0}, {R: 0}},
		{{R: 0}, {R: 50}, {R: 0}},
		{{R: 0}, {R: 0}, {R: 100}},
	})
	if err := ApplyEmboss(g); err != nil {
		t.Fatalf("emboss: %v", err)
	}
	if got := mustAt(t, g, 2, 2); got.R != 178 {
		t.Fatalf("expected 128+(100-50)=178 at (2,2), got %d", got.R)
	}
}

func TestMotionBlurScenario(t *testing.T) {
	g := gridFromRows(t, [][]raster.Color{{{R: 10}, {R: 20}, {R: 30}}})
	if err := ApplyMotionBlur(g, 2); err != nil {
		t.Fatalf("motion blur: %v", err)
	}

	want := []int{15, 25, 30}
	for x, r := range want {
		if got := mustAt(t, g, x, 0); got.R != r {
			t.Fatalf("pixel %d: expected red %d, got %d", x, r, got.R)
		}
	}
}

func TestMotionBlurWindowLongerThanRow(t *testing.T) {
	g := gridFromRows(t, [][]raster.Color{{{G: 1}, {G: 2}, {G: 4}}})
	if err := ApplyMotionBlur(g, 10); err != nil {
		t.Fatalf("motion blur: %v", err)
	}

	want := []int{2, 3, 4} // floor(7/3), floor(6/2), 4
	for x, v := range want {
		if got := mustAt(t, g, x, 0); got.G != v {
			t.Fatalf("pixel %d: expected green %d, got %d", x, v, got.G)
		}
	}
}

func TestMotionBlurHugeLengthMatchesRowWidth(t *testing.T) {
	const width = 5
	for _, length := range []int{math.MaxInt, math.MaxInt - 1, math.MaxInt / 2} {
		for _, workers := range []int{0, 3} {
			huge := randomGrid(t, width, 4, 11)
			capped := huge.Clone()

			engine := Engine{Workers: workers}
			if err := engine.MotionBlur(huge, length); err != nil {
				t.Fatalf("motion blur(%d): %v", length, err)
			}
			if err := engine.MotionBlur(capped, width); err != nil {
				t.Fatalf("motion blur(%d): %v", width, err)
			}
			if diff := cmp.Diff(pixels(t, capped), pixels(t, huge)); diff != "" {
				t.Fatalf("length %d differs from length %d (-want +got):\n%s", length, width, diff)
			}
		}
	}
}

func TestMotionBlurShortLengthIsIdentity(t *testing.T) {
	for _, length := range []int{0, 1} {
		g := randomGrid(t, 7, 5, int64(length))
		before := g.Clone()
		if err := ApplyMotionBlur(g, length); err != nil {
			t.Fatalf("motion blur(%d): %v", length, err)
		}
		if !g.Equal(before) {
			t.Fatalf("motion blur(%d) changed the image", length)
		}
	}
}

func TestMotionBlurRejectsNegativeLength(t *testing.T) {
	g := randomGrid(t, 3, 3, 1)
	before := g.Clone()
	if err := ApplyMotionBlur(g, -1); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if !g.Equal(before) {
		t.Fatal("grid must be untouched after a rejected length")
	}
}

func TestMotionBlurStaysWithinWindowRange(t *testing.T) {
	const length = 4
	g := randomGrid(t, 13, 6, 42)
	src := g.Clone()
	if err := ApplyMotionBlur(g, length); err != nil {
		t.Fatalf("motion blur: %v", err)
	}

	for y := 0; y < g.Height(); y++ {
		for x := 0; x < g.Width(); x++ {
			maxX := min(g.Width()-1, x+length-1)
			lo, hi := windowBounds(t, src, x, maxX, y)
			got := mustAt(t, g, x, y)
			for ch, v := range []int{got.R, got.G, got.B} {
				if v < lo[ch] || v > hi[ch] {
					t.Fatalf("(%d,%d) channel %d = %d outside [%d,%d]", x, y, ch, v, lo[ch], hi[ch])
				}
			}
		}
	}
}

func TestInvertIsSelfInverse(t *testing.T) {
	g := randomGrid(t, 9, 4, 7)
	want := g.Clone()
	if err := ApplyInvert(g); err != nil {
		t.Fatalf("invert: %v", err)
	}
	if err := ApplyInvert(g); err != nil {
		t.Fatalf("invert: %v", err)
	}
	if !g.Equal(want) {
		t.Fatal("invert twice should restore the image")
	}
}

func TestGrayscaleIsIdempotent(t *testing.T) {
	g := randomGrid(t, 9, 4, 11)
	if err := ApplyGrayscale(g); err != nil {
		t.Fatalf("grayscale: %v", err)
	}
	once := g.Clone()
	if err := ApplyGrayscale(g); err != nil {
		t.Fatalf("grayscale: %v", err)
	}
	if !g.Equal(once) {
		t.Fatal("grayscale applied twice differs from once")
	}
}

func TestEmbossOutputInRange(t *testing.T) {
	for seed := int64(0); seed < 5; seed++ {
		g := randomGrid(t, 16, 16, seed)
		if err := ApplyEmboss(g); err != nil {
			t.Fatalf("emboss: %v", err)
		}
		for y := 0; y < g.Height(); y++ {
			for x := 0; x < g.Width(); x++ {
				if c := mustAt(t, g, x, y); !c.Valid() {
					t.Fatalf("seed %d: (%d,%d) out of range: %+v", seed, x, y, c)
				}
			}
		}
	}
}

func TestDegenerateGridsAreUnchanged(t *testing.T) {
	for _, dims := range [][2]int{{0, 0}, {0, 3}, {3, 0}} {
		for _, kind := range []Kind{Grayscale, Invert, Emboss, MotionBlur} {
			g, err := raster.New(dims[0], dims[1])
			if err != nil {
				t.Fatalf("raster.New: %v", err)
			}
			if err := (Engine{}).Apply(g, kind, 3); err != nil {
				t.Fatalf("%s on %v: %v", kind, dims, err)
			}
			if g.Width() != dims[0] || g.Height() != dims[1] {
				t.Fatalf("%s changed dimensions of %v", kind, dims)
			}
		}
	}
}

func TestParallelEngineMatchesSequential(t *testing.T) {
	for _, kind := range []Kind{Grayscale, Invert, Emboss, MotionBlur} {
		for _, workers := range []int{2, 3, 8, 64} {
			seq := randomGrid(t, 31, 17, 99)
			par := seq.Clone()

			if err := (Engine{}).Apply(seq, kind, 5); err != nil {
				t.Fatalf("sequential %s: %v", kind, err)
			}
			if err := (Engine{Workers: workers}).Apply(par, kind, 5); err != nil {
				t.Fatalf("parallel %s: %v", kind, err)
			}
			if diff := cmp.Diff(pixels(t, seq), pixels(t, par)); diff != "" {
				t.Fatalf("%s with %d workers differs (-seq +par):\n%s", kind, workers, diff)
			}
		}
	}
}

func TestLookup(t *testing.T) {
	cases := map[string]Kind{
		"grayscale":  Grayscale,
		"greyscale":  Grayscale,
		" Invert ":   Invert,
		"emboss":     Emboss,
		"MOTIONBLUR": MotionBlur,
	}
	for name, want := range cases {
		got, err := Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", name, err)
		}
		if got != want {
			t.Fatalf("Lookup(%q) = %s, want %s", name, got, want)
		}
	}

	if _, err := Lookup("sharpen"); !errors.Is(err, ErrUnknownFilter) {
		t.Fatalf("expected ErrUnknownFilter, got %v", err)
	}
}

func TestApplyByName(t *testing.T) {
	g := scenarioGrid(t)
	if err := Apply(g, "greyscale", 0); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := mustAt(t, g, 0, 0); got.R != 20 {
		t.Fatalf("expected grayscale result 20, got %d", got.R)
	}

	if err := Apply(g, "blur", 0); !errors.Is(err, ErrUnknownFilter) {
		t.Fatalf("expected ErrUnknownFilter, got %v", err)
	}
}

func TestNames(t *testing.T) {
	want := []string{"grayscale", "invert", "emboss", "motionblur"}
	if diff := cmp.Diff(want, Names()); diff != "" {
		t.Fatalf("unexpected names (-want +got):\n%s", diff)
	}
}

func scenarioGrid(t *testing.T) *raster.Grid {
	t.Helper()
	return gridFromRows(t, [][]raster.Color{
		{{R: 10, G: 20, B: 30}, {R: 50, G: 60, B: 70}},
		{{R: 90, G: 100, B: 110}, {R: 130, G: 140, B: 150}},
	})
}

func gridFromRows(t *testing.T, rows [][]raster.Color) *raster.Grid {
	t.Helper()

	width := 0
	if len(rows) > 0 {
		width = len(rows[0])
	}
	g, err := raster.New(width, len(rows))
	if err != nil {
		t.Fatalf("raster.New: %v", err)
	}
	for y, row := range rows {
		for x, c := range row {
			if err := g.Set(x, y, c); err != nil {
				t.Fatalf("Set(%d,%d): %v", x, y, err)
			}
		}
	}
	return g
}

func randomGrid(t *testing.T, w, h int, seed int64) *raster.Grid {
	t.Helper()

	rng := rand.New(rand.NewSource(seed))
	g, err := raster.New(w, h)
	if err != nil {
		t.Fatalf("raster.New: %v", err)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			_ = g.Set(x, y, raster.Color{R: rng.Intn(256), G: rng.Intn(256), B: rng.Intn(256)})
		}
	}
	return g
}

func mustAt(t *testing.T, g *raster.Grid, x, y int) raster.Color {
	t.Helper()
	c, err := g.At(x, y)
	if err != nil {
		t.Fatalf("At(%d,%d): %v", x, y, err)
	}
	return c
}

func pixels(t *testing.T, g *raster.Grid) [][]raster.Color {
	t.Helper()
	out := make([][]raster.Color, g.Height())
	for y := range out {
		row, err := g.Row(y)
		if err != nil {
			t.Fatalf("Row(%d): %v", y, err)
		}
		out[y] = append([]raster.Color(nil), row...)
	}
	return out
}

func windowBounds(t *testing.T, g *raster.Grid, from, to, y int) (lo, hi [3]int) {
	t.Helper()
	lo = [3]int{256, 256, 256}
	hi = [3]int{-1, -1, -1}
	for x := from; x <= to; x++ {
		c := mustAt(t, g, x, y)
		for ch, v := range []int{c.R, c.G, c.B} {
			lo[ch] = min(lo[ch], v)
			hi[ch] = max(hi[ch], v)
		}
	}
	return lo, hi
}
