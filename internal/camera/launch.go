package camera

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/banshee-data/stereo.depth/internal/frame"
)

// SinkName is the appsink element name string pipelines must expose.
const SinkName = "sink"

// CSIPipeline builds a launch string for a Jetson CSI sensor through
// nvarguscamerasrc. flipMethod is passed to nvvidconv (0 = none).
func CSIPipeline(sensorID, sensorMode, width, height int, fps float64, flipMethod int) string {
	return fmt.Sprintf(
		"nvarguscamerasrc sensor-id=%d sensor-mode=%d ! "+
			"video/x-raw(memory:NVMM), width=(int)%d, height=(int)%d, format=(string)NV12, framerate=(fraction)%s ! "+
			"nvvidconv flip-method=%d ! "+
			"video/x-raw, width=(int)%d, height=(int)%d, format=(string)BGRx ! "+
			"videoconvert ! video/x-raw, format=(string)BGR ! appsink name=%s",
		sensorID, sensorMode, width, height, Framerate(fps), flipMethod, width, height, SinkName)
}

// RawCaps is the appsink caps every backend pipeline is converted to.
func RawCaps(width, height int, fps float64) string {
	s := fmt.Sprintf("video/x-raw,format=BGR,width=%d,height=%d", width, height)
	if fps > 0 {
		s += ",framerate=" + Framerate(fps)
	}
	return s
}

// Framerate renders fps as a caps fraction, keeping millihertz precision
// for rates such as 29.97.
func Framerate(fps float64) string {
	if fps == float64(int(fps)) {
		return fmt.Sprintf("%d/1", int(fps))
	}
	return fmt.Sprintf("%d/1000", int(fps*1000+0.5))
}

// LaunchString returns the pipeline description for an opaque source.
// Strings that already contain pipeline syntax pass through, gaining a
// named appsink if they have none. URLs and file paths are decoded and
// converted to the array's raw caps.
func LaunchString(src string, width, height int) string {
	tail := fmt.Sprintf("videoconvert ! videoscale ! %s ! appsink name=%s",
		RawCaps(width, height, 0), SinkName)
	switch {
	case strings.Contains(src, "!"):
		if strings.Contains(src, "appsink") {
			return src
		}
		return src + " ! " + tail
	case strings.Contains(src, "://"):
		return fmt.Sprintf("uridecodebin uri=%q ! %s", src, tail)
	default:
		p, err := filepath.Abs(src)
		if err != nil {
			p = src
		}
		return fmt.Sprintf("filesrc location=%q ! decodebin ! %s", p, tail)
	}
}

// DevicePath is the V4L2 node for a local device index.
func DevicePath(index int) string {
	return fmt.Sprintf("/dev/video%d", index)
}

// CopyStrided copies a packed BGR buffer whose rows may carry padding
// into dst, resizing dst as needed.
func CopyStrided(dst *frame.Frame, data []byte, width, height int) error {
	row := width * frame.BGR
	if width <= 0 || height <= 0 || len(data) < row*height {
		return fmt.Errorf("buffer holds %d bytes, want at least %d for %dx%d: %w",
			len(data), row*height, width, height, frame.ErrDimensionMismatch)
	}
	stride := len(data) / height
	n := row * height
	if cap(dst.Pix) < n {
		dst.Pix = make([]byte, n)
	}
	dst.Pix = dst.Pix[:n]
	dst.Width, dst.Height, dst.Channels = width, height, frame.BGR
	if stride == row {
		copy(dst.Pix, data[:n])
		return nil
	}
	for y := 0; y < height; y++ {
		copy(dst.Pix[y*row:(y+1)*row], data[y*stride:y*stride+row])
	}
	return nil
}
