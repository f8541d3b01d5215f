// Package frame holds the packed pixel buffers that flow between the
// capture, rectification and disparity stages.
package frame

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"time"
)

// ErrDimensionMismatch is returned when two buffers that must share a
// geometry (or a buffer and its expected geometry) disagree.
var ErrDimensionMismatch = errors.New("frame dimension mismatch")

// Channel layouts carried by a Frame.
const (
	Gray = 1
	BGR  = 3
)

// Frame is a packed 8-bit image. Colour frames are stored BGR, row-major,
// with no row padding.
type Frame struct {
	Width    int
	Height   int
	Channels int
	Pix      []byte

	Seq       uint64
	Timestamp time.Time
	TraceID   string
}

// New allocates a zeroed frame.
func New(width, height, channels int) *Frame {
	return &Frame{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]byte, width*height*channels),
	}
}

// Stride is the number of bytes per row.
func (f *Frame) Stride() int { return f.Width * f.Channels }

// SameShape reports whether two frames share width, height and channels.
func (f *Frame) SameShape(o *Frame) bool {
	return f.Width == o.Width && f.Height == o.Height && f.Channels == o.Channels
}

// CheckShape returns ErrDimensionMismatch unless f has the given geometry.
func (f *Frame) CheckShape(width, height, channels int) error {
	if f == nil {
		return fmt.Errorf("nil frame: %w", ErrDimensionMismatch)
	}
	if f.Width != width || f.Height != height || f.Channels != channels {
		return fmt.Errorf("got %dx%dx%d, want %dx%dx%d: %w",
			f.Width, f.Height, f.Channels, width, height, channels, ErrDimensionMismatch)
	}
	if len(f.Pix) != width*height*channels {
		return fmt.Errorf("buffer holds %d bytes, want %d: %w",
			len(f.Pix), width*height*channels, ErrDimensionMismatch)
	}
	return nil
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	c := *f
	c.Pix = append([]byte(nil), f.Pix...)
	return &c
}

// Zero sets every pixel to 0.
func (f *Frame) Zero() {
	clear(f.Pix)
}

// ToGray converts a BGR frame to a new single-channel frame using the
// ITU-R BT.601 luma weights in 14-bit fixed point. Gray frames are cloned.
func (f *Frame) ToGray() *Frame {
	if f.Channels == Gray {
		return f.Clone()
	}
	g := New(f.Width, f.Height, Gray)
	g.Seq, g.Timestamp, g.TraceID = f.Seq, f.Timestamp, f.TraceID
	const (
		wB = 1868
		wG = 9617
		wR = 4899
	)
	for i, j := 0, 0; i < len(g.Pix); i, j = i+1, j+f.Channels {
		b, gg, r := int(f.Pix[j]), int(f.Pix[j+1]), int(f.Pix[j+2])
		g.Pix[i] = uint8((b*wB + gg*wG + r*wR + 1<<13) >> 14)
	}
	return g
}

// Image wraps the frame as an image.Image. Gray frames share Pix with the
// returned *image.Gray; colour frames are converted to RGBA.
func (f *Frame) Image() image.Image {
	r := image.Rect(0, 0, f.Width, f.Height)
	if f.Channels == Gray {
		return &image.Gray{Pix: f.Pix, Stride: f.Width, Rect: r}
	}
	img := image.NewRGBA(r)
	for i, j := 0, 0; j < len(f.Pix); i, j = i+4, j+3 {
		img.Pix[i] = f.Pix[j+2]
		img.Pix[i+1] = f.Pix[j+1]
		img.Pix[i+2] = f.Pix[j]
		img.Pix[i+3] = 0xff
	}
	return img
}

// FromImage builds a frame from any image, keeping one channel for gray
// images and BGR otherwise.
func FromImage(img image.Image) *Frame {
	b := img.Bounds()
	if g, ok := img.(*image.Gray); ok {
		f := New(b.Dx(), b.Dy(), Gray)
		for y := 0; y < f.Height; y++ {
			copy(f.Pix[y*f.Width:(y+1)*f.Width], g.Pix[g.PixOffset(b.Min.X, b.Min.Y+y):])
		}
		return f
	}
	f := New(b.Dx(), b.Dy(), BGR)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			f.Pix[i], f.Pix[i+1], f.Pix[i+2] = c.B, c.G, c.R
			i += 3
		}
	}
	return f
}
