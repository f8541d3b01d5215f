package disparity

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestVisualClamps(t *testing.T) {
	m := &Map{
		Width: 5, Height: 1,
		Raw:            []int16{math.MinInt16, -16, 48, 64 * 16, math.MaxInt16},
		Invalid:        48,
		MinDisparity:   4,
		NumDisparities: 128,
	}
	scale := m.VisualScale()
	assert.InDelta(t, 255.0/2112.0, scale, 1e-12)

	got := m.Visual().Pix
	want := []byte{0, 0, 0, uint8(math.Round(1024 * scale)), 255}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("visual mismatch (-want +got):\n%s", diff)
	}
}

func TestVisualMonotonic(t *testing.T) {
	p := DefaultParams()
	m := newMap(2048, 1, p)
	for i := range m.Raw {
		m.Raw[i] = int16(p.MinDisparity*Scale + i)
	}
	vis := m.Visual().Pix
	for i := 1; i < len(vis); i++ {
		if vis[i] < vis[i-1] {
			t.Fatalf("visual not monotonic at %d: %d < %d", i, vis[i], vis[i-1])
		}
	}
	assert.Equal(t, uint8(255), vis[len(vis)-1])
}

func TestVisualScaleNegativeRange(t *testing.T) {
	m := &Map{MinDisparity: -64, NumDisparities: 48}
	assert.InDelta(t, 255.0/float64(48*16), m.VisualScale(), 1e-12)
}

func TestStats(t *testing.T) {
	m := &Map{Width: 4, Height: 1, Raw: []int16{-16, 32, 64, 96}, Invalid: -16}
	s := m.Stats()
	assert.Equal(t, 3, s.Valid)
	assert.InDelta(t, 0.75, s.ValidRatio, 1e-12)
	assert.InDelta(t, 4.0, s.Mean, 1e-12)
	assert.Equal(t, 2.0, s.Min)
	assert.Equal(t, 6.0, s.Max)
}

func TestFilterSpeckles(t *testing.T) {
	const w, h = 10, 10
	const invalid = int16(-16)
	raw := make([]int16, w*h)
	for i := range raw {
		raw[i] = 160
	}
	set := func(x, y int, v int16) { raw[y*w+x] = v }
	// 2x2 blob far from the background value.
	set(2, 2, 400)
	set(3, 2, 410)
	set(2, 3, 405)
	set(3, 3, 400)
	// Five-pixel plus shape survives a window of 4.
	for _, p := range [][2]int{{7, 6}, {6, 7}, {7, 7}, {8, 7}, {7, 8}} {
		set(p[0], p[1], 800)
	}

	FilterSpeckles(raw, w, h, invalid, 4, 16)

	for _, p := range [][2]int{{2, 2}, {3, 2}, {2, 3}, {3, 3}} {
		assert.Equal(t, invalid, raw[p[1]*w+p[0]], "speckle at %v", p)
	}
	assert.Equal(t, int16(800), raw[7*w+7])
	assert.Equal(t, int16(160), raw[0])
}

func TestFilterSpecklesDisabled(t *testing.T) {
	raw := []int16{1, 500, 1}
	FilterSpeckles(raw, 3, 1, -16, 0, 16)
	assert.Equal(t, []int16{1, 500, 1}, raw)
	FilterSpeckles(raw, 3, 1, -16, 5, -1)
	assert.Equal(t, []int16{1, 500, 1}, raw)
}
