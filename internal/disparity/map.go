package disparity

import (
	"math"
	"time"

	"github.com/banshee-data/stereo.depth/internal/frame"
)

// Map is a dense disparity image in raw fixed-point units (pixel
// disparity times Scale). Pixels without a match hold Invalid.
type Map struct {
	Width          int
	Height         int
	Raw            []int16
	Invalid        int16
	MinDisparity   int
	NumDisparities int

	Seq       uint64
	Timestamp time.Time
	TraceID   string
}

func newMap(w, h int, p Params) *Map {
	return &Map{
		Width:          w,
		Height:         h,
		Raw:            make([]int16, w*h),
		Invalid:        p.Invalid(),
		MinDisparity:   p.MinDisparity,
		NumDisparities: p.NumDisparities,
	}
}

// At returns the disparity in pixels at (x, y), or false if the pixel is
// invalid.
func (m *Map) At(x, y int) (float64, bool) {
	r := m.Raw[y*m.Width+x]
	if r == m.Invalid {
		return 0, false
	}
	return float64(r) / Scale, true
}

// VisualScale maps raw values onto 0..255: the largest raw value the
// search can produce lands at the top of the range.
func (m *Map) VisualScale() float64 {
	top := (m.MinDisparity + m.NumDisparities) << FractionalBits
	if top <= 0 {
		top = max(m.NumDisparities, 1) << FractionalBits
	}
	return 255 / float64(top)
}

// Visual rescales raw disparities into an 8-bit gray frame. Invalid pixels
// are 0 and every value is clamped to [0, 255].
func (m *Map) Visual() *frame.Frame {
	f := frame.New(m.Width, m.Height, frame.Gray)
	f.Seq, f.Timestamp, f.TraceID = m.Seq, m.Timestamp, m.TraceID
	scale := m.VisualScale()
	for i, r := range m.Raw {
		if r == m.Invalid {
			continue
		}
		v := math.Round(float64(r) * scale)
		f.Pix[i] = uint8(min(max(v, 0), 255))
	}
	return f
}

// Stats summarizes valid pixels in pixel units.
type Stats struct {
	Valid      int     `json:"valid"`
	ValidRatio float64 `json:"valid_ratio"`
	Mean       float64 `json:"mean"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
}

// Stats computes coverage and range of valid disparities.
func (m *Map) Stats() Stats {
	var s Stats
	sum := 0
	lo, hi := math.MaxInt16, math.MinInt16
	for _, r := range m.Raw {
		if r == m.Invalid {
			continue
		}
		s.Valid++
		v := int(r)
		sum += v
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if len(m.Raw) > 0 {
		s.ValidRatio = float64(s.Valid) / float64(len(m.Raw))
	}
	if s.Valid > 0 {
		s.Mean = float64(sum) / float64(s.Valid) / Scale
		s.Min = float64(lo) / Scale
		s.Max = float64(hi) / Scale
	}
	return s
}
