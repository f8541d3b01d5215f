// Package trigger fires an external exposure pulse before each capture
// cycle. The pulse is a short command written to a microcontroller on a
// serial line, which drives the camera trigger inputs.
package trigger

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"
)

// Port is the part of a serial port the trigger needs.
type Port interface {
	io.Writer
	io.Closer
}

// PortOpener opens the serial device at path.
type PortOpener func(path string, mode *serial.Mode) (Port, error)

// OpenSerialPort is the PortOpener for real hardware.
func OpenSerialPort(path string, mode *serial.Mode) (Port, error) {
	return serial.Open(path, mode)
}

// Serial writes Command to a port each time it fires.
type Serial struct {
	path    string
	command []byte

	mu     sync.Mutex
	port   Port
	closed bool
	fires  atomic.Uint64
	errs   atomic.Uint64
}

// Open opens path with opts through opener.
func Open(path string, opts PortOptions, command string, opener PortOpener) (*Serial, error) {
	if command == "" {
		return nil, errors.New("empty trigger command")
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	if opener == nil {
		opener = OpenSerialPort
	}
	port, err := opener(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open trigger port %s: %w", path, err)
	}
	diagf("trigger on %s at %d baud", path, mode.BaudRate)
	return &Serial{path: path, command: []byte(command), port: port}, nil
}

// Fire writes the trigger command.
func (s *Serial) Fire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("trigger closed")
	}
	n, err := s.port.Write(s.command)
	if err == nil && n != len(s.command) {
		err = io.ErrShortWrite
	}
	if err != nil {
		s.errs.Add(1)
		opsf("trigger write on %s failed: %v", s.path, err)
		return fmt.Errorf("trigger %s: %w", s.path, err)
	}
	s.fires.Add(1)
	tracef("fired %q", s.command)
	return nil
}

// Fires returns the number of successful pulses.
func (s *Serial) Fires() uint64 { return s.fires.Load() }

// Errors returns the number of failed pulses.
func (s *Serial) Errors() uint64 { return s.errs.Load() }

// Close releases the port.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.port.Close()
}

// Disabled is a trigger that never pulses, for free-running cameras.
type Disabled struct{}

func (Disabled) Fire() error  { return nil }
func (Disabled) Close() error { return nil }
