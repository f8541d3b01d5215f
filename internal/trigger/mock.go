package trigger

import (
	"bytes"
	"sync"

	"go.bug.st/serial"
)

// TestablePort records writes and returns configured errors.
type TestablePort struct {
	mu sync.Mutex

	Written    bytes.Buffer
	WriteError error
	CloseError error
	ShortWrite bool
	Closed     bool
}

func (p *TestablePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.WriteError != nil {
		return 0, p.WriteError
	}
	if p.ShortWrite && len(b) > 0 {
		b = b[:len(b)-1]
	}
	return p.Written.Write(b)
}

func (p *TestablePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return p.CloseError
}

// String returns everything written so far.
func (p *TestablePort) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Written.String()
}

// Opener returns a PortOpener that hands out p and records the mode.
func (p *TestablePort) Opener(mode **serial.Mode) PortOpener {
	return func(_ string, m *serial.Mode) (Port, error) {
		if mode != nil {
			*mode = m
		}
		return p, nil
	}
}
