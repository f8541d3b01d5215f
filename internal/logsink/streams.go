package logsink

import "io"

// Streams holds the writers for a package's ops, diag and trace loggers.
// A nil writer disables that stream.
type Streams struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// Streams maps ops to Warning, diag to Info and trace to Debug. Streams
// below the sink's minimum level come back nil so packages skip the
// formatting work entirely.
func (s *Sink) Streams() Streams {
	var st Streams
	if s.Enabled(Warning) {
		st.Ops = s.Writer(Warning)
	}
	if s.Enabled(Info) {
		st.Diag = s.Writer(Info)
	}
	if s.Enabled(Debug) {
		st.Trace = s.Writer(Debug)
	}
	return st
}
