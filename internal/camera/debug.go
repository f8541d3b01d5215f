package camera

import (
	"io"
	"log"
	"time"

	"tailscale.com/types/logger"
)

var (
	opsLogger   *log.Logger
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures the three logging streams for the camera
// package. Pass nil for any writer to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	opsLogger = newLogger("[camera] ", ops)
	diagLogger = newLogger("[camera] ", diag)
	traceLogger = newLogger("[camera] ", trace)
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.Lmsgprefix)
}

// opsf logs to the ops stream (device failures, timeouts).
func opsf(format string, args ...interface{}) {
	if opsLogger != nil {
		opsLogger.Printf(format, args...)
	}
}

// captureLogf is opsf limited per format string, for messages a stuck
// device would otherwise repeat every cycle.
var captureLogf = logger.RateLimitedFn(opsf, 10*time.Second, 3, 16)

// diagf logs to the diag stream (device setup, array state).
func diagf(format string, args ...interface{}) {
	if diagLogger != nil {
		diagLogger.Printf(format, args...)
	}
}

// tracef logs to the trace stream (per-frame capture telemetry).
func tracef(format string, args ...interface{}) {
	if traceLogger != nil {
		traceLogger.Printf(format, args...)
	}
}
