package frame

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
)

// Transform rewrites a frame after retrieval. Implementations may return
// the input frame when they operate in place.
type Transform func(*Frame) *Frame

// FlipMode selects the axis for Flip.
type FlipMode int

const (
	FlipNone FlipMode = iota
	FlipHorizontal
	FlipVertical
	FlipBoth
)

// ParseFlip maps the config strings "", "h", "v" and "hv".
func ParseFlip(s string) (FlipMode, error) {
	switch s {
	case "", "none":
		return FlipNone, nil
	case "h", "horizontal":
		return FlipHorizontal, nil
	case "v", "vertical":
		return FlipVertical, nil
	case "hv", "both":
		return FlipBoth, nil
	}
	return FlipNone, fmt.Errorf("unknown flip mode %q", s)
}

// Flip mirrors a frame in place.
func Flip(mode FlipMode) Transform {
	return func(f *Frame) *Frame {
		if mode == FlipHorizontal || mode == FlipBoth {
			flipRows(f)
		}
		if mode == FlipVertical || mode == FlipBoth {
			flipCols(f)
		}
		return f
	}
}

func flipRows(f *Frame) {
	c := f.Channels
	for y := 0; y < f.Height; y++ {
		row := f.Pix[y*f.Stride() : (y+1)*f.Stride()]
		for l, r := 0, f.Width-1; l < r; l, r = l+1, r-1 {
			for k := 0; k < c; k++ {
				row[l*c+k], row[r*c+k] = row[r*c+k], row[l*c+k]
			}
		}
	}
}

func flipCols(f *Frame) {
	s := f.Stride()
	tmp := make([]byte, s)
	for t, b := 0, f.Height-1; t < b; t, b = t+1, b-1 {
		top := f.Pix[t*s : (t+1)*s]
		bot := f.Pix[b*s : (b+1)*s]
		copy(tmp, top)
		copy(top, bot)
		copy(bot, tmp)
	}
}

// Resize scales a frame with bilinear interpolation. Frames already at
// the target size pass through.
func Resize(width, height int) Transform {
	return func(f *Frame) *Frame {
		if f.Width == width && f.Height == height {
			return f
		}
		src := f.Image()
		r := image.Rect(0, 0, width, height)
		var out *Frame
		if f.Channels == Gray {
			dst := image.NewGray(r)
			draw.BiLinear.Scale(dst, r, src, src.Bounds(), draw.Src, nil)
			out = &Frame{Width: width, Height: height, Channels: Gray, Pix: dst.Pix}
		} else {
			dst := image.NewRGBA(r)
			draw.BiLinear.Scale(dst, r, src, src.Bounds(), draw.Src, nil)
			out = FromImage(dst)
		}
		out.Seq, out.Timestamp, out.TraceID = f.Seq, f.Timestamp, f.TraceID
		return out
	}
}

// GrayTransform converts colour frames to intensity.
func GrayTransform() Transform {
	return func(f *Frame) *Frame { return f.ToGray() }
}

// Chain applies transforms in order.
func Chain(ts ...Transform) Transform {
	return func(f *Frame) *Frame {
		for _, t := range ts {
			f = t(f)
		}
		return f
	}
}

// ParseTransforms builds the chain named by specs for frames of the given
// input size and returns it with the size of the frames it produces.
// Accepted specs are "gray", "flip:<mode>" and "resize:<W>x<H>". An empty
// list yields a nil Transform.
func ParseTransforms(specs []string, width, height int) (Transform, int, int, error) {
	var ts []Transform
	for _, spec := range specs {
		name, arg, _ := strings.Cut(strings.TrimSpace(spec), ":")
		switch name {
		case "gray":
			ts = append(ts, GrayTransform())
		case "flip":
			mode, err := ParseFlip(arg)
			if err != nil {
				return nil, 0, 0, err
			}
			if mode != FlipNone {
				ts = append(ts, Flip(mode))
			}
		case "resize":
			w, h, err := parseSize(arg)
			if err != nil {
				return nil, 0, 0, fmt.Errorf("transform %q: %w", spec, err)
			}
			ts = append(ts, Resize(w, h))
			width, height = w, h
		default:
			return nil, 0, 0, fmt.Errorf("unknown transform %q", spec)
		}
	}
	switch len(ts) {
	case 0:
		return nil, width, height, nil
	case 1:
		return ts[0], width, height, nil
	}
	return Chain(ts...), width, height, nil
}

func parseSize(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(s, "x")
	if !ok {
		return 0, 0, fmt.Errorf("size %q is not WxH", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil {
		return 0, 0, fmt.Errorf("width: %w", err)
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return 0, 0, fmt.Errorf("height: %w", err)
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("size %dx%d must be positive", w, h)
	}
	return w, h, nil
}

// WritePNG encodes the frame as PNG.
func (f *Frame) WritePNG(w io.Writer) error {
	return png.Encode(w, f.Image())
}
