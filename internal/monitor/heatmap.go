package monitor

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/stereo.depth/internal/disparity"
)

// maxHeatmapCols bounds the plotted grid width; larger maps are sampled
// with a fixed stride in both axes.
const maxHeatmapCols = 320

// disparityGrid adapts a disparity map to plotter.GridXYZ. Rows are
// flipped so image row 0 is drawn at the top.
type disparityGrid struct {
	m          *disparity.Map
	step       int
	cols, rows int
}

func newDisparityGrid(m *disparity.Map) *disparityGrid {
	step := max(1, int(math.Ceil(float64(m.Width)/maxHeatmapCols)))
	return &disparityGrid{
		m:    m,
		step: step,
		cols: (m.Width + step - 1) / step,
		rows: (m.Height + step - 1) / step,
	}
}

func (g *disparityGrid) Dims() (c, r int) { return g.cols, g.rows }

func (g *disparityGrid) Z(c, r int) float64 {
	x := c * g.step
	y := (g.rows - 1 - r) * g.step
	v, ok := g.m.At(x, y)
	if !ok {
		return math.NaN()
	}
	return v
}

func (g *disparityGrid) X(c int) float64 { return float64(c * g.step) }
func (g *disparityGrid) Y(r int) float64 { return float64(r * g.step) }

// Min and Max pin the colour range to the search window so frames are
// comparable and an all-invalid map still renders.
func (g *disparityGrid) Min() float64 { return float64(g.m.MinDisparity) }
func (g *disparityGrid) Max() float64 {
	return float64(g.m.MinDisparity + g.m.NumDisparities)
}

// writeHeatmap renders m as a PNG heat map. Invalid pixels are black.
func writeHeatmap(w io.Writer, m *disparity.Map) error {
	if m.Width == 0 || m.Height == 0 {
		return fmt.Errorf("empty disparity map")
	}
	g := newDisparityGrid(m)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Disparity seq=%d", m.Seq)
	p.X.Label.Text = "x (px)"
	p.Y.Label.Text = "row from bottom (px)"

	hm := plotter.NewHeatMap(g, palette.Heat(64, 1))
	hm.NaN = color.Black
	hm.Rasterized = true
	p.Add(hm)

	width := 8 * vg.Inch
	height := width * vg.Length(float64(m.Height)/float64(m.Width))
	height = max(height, 2*vg.Inch)
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("failed to create heatmap writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write heatmap: %w", err)
	}
	return nil
}
