package pipeline

import (
	"fmt"
	"path/filepath"

	"github.com/banshee-data/stereo.depth/internal/frame"
	"github.com/banshee-data/stereo.depth/internal/fsutil"
)

// Sink receives every cycle's result, skipped cycles included. Sinks run
// on the pipeline goroutine; errors are logged and counted.
type Sink interface {
	Consume(*Result) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(*Result) error

func (f SinkFunc) Consume(r *Result) error { return f(r) }

// SnapshotSink writes the raw views and, when computed, the disparity
// image of every Every-th captured cycle to Dir as PNG.
type SnapshotSink struct {
	FS    fsutil.FileSystem
	Dir   string
	Every int

	captured int
}

// NewSnapshotSink creates dir if needed.
func NewSnapshotSink(fsys fsutil.FileSystem, dir string, every int) (*SnapshotSink, error) {
	if every <= 0 {
		return nil, fmt.Errorf("snapshot interval must be positive, got %d", every)
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &SnapshotSink{FS: fsys, Dir: dir, Every: every}, nil
}

func (s *SnapshotSink) Consume(r *Result) error {
	if r.CaptureErr != nil || len(r.Raw) == 0 {
		return nil
	}
	s.captured++
	if (s.captured-1)%s.Every != 0 {
		return nil
	}
	for i, f := range r.Raw {
		if err := s.write(fmt.Sprintf("%08d_view%d.png", r.Seq, i), f); err != nil {
			return err
		}
	}
	if r.Visual == nil {
		return nil
	}
	return s.write(fmt.Sprintf("%08d_disparity.png", r.Seq), r.Visual)
}

func (s *SnapshotSink) write(name string, f *frame.Frame) error {
	path := filepath.Join(s.Dir, name)
	w, err := s.FS.Create(path)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", path, err)
	}
	if err := f.WritePNG(w); err != nil {
		w.Close()
		return fmt.Errorf("snapshot %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("snapshot %s: %w", path, err)
	}
	tracef("wrote %s", path)
	return nil
}
