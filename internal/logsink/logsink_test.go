package logsink

import (
	"bytes"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time {
	return time.Date(2024, 7, 9, 14, 3, 5, 42_000_000, time.UTC)
}

func TestLogfFormat(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "stereo.log")
	s, err := Open(path, &console, Debug)
	require.NoError(t, err)
	s.now = fixedNow

	s.Logf(Warning, "camera", "device %d grab failed", 1)
	require.NoError(t, s.Close())

	want := "09/07/2024 14:03:05.042 WARNING: [camera] device 1 grab failed\n"
	assert.Equal(t, want, console.String())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, string(data))
}

func TestMinimumLevel(t *testing.T) {
	var console bytes.Buffer
	s, err := Open("", &console, Warning)
	require.NoError(t, err)

	s.Logf(Info, "", "hidden")
	s.Logf(Critical, "", "shown")
	assert.NotContains(t, console.String(), "hidden")
	assert.Contains(t, console.String(), "CRITICAL: shown")

	st := s.Streams()
	assert.NotNil(t, st.Ops)
	assert.Nil(t, st.Diag)
	assert.Nil(t, st.Trace)
}

func TestWriterWithStdLogger(t *testing.T) {
	var console bytes.Buffer
	s, err := Open("", &console, Debug)
	require.NoError(t, err)
	s.now = fixedNow

	l := log.New(s.Writer(Error), "[calibration] ", log.Lmsgprefix)
	l.Printf("parse %s: bad shape", "calib.json")
	assert.Equal(t, "09/07/2024 14:03:05.042 ERROR: [calibration] parse calib.json: bad shape\n", console.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("console gone") }

func TestWriteFailuresAreAbsorbed(t *testing.T) {
	s, err := Open("", failingWriter{}, Debug)
	require.NoError(t, err)
	s.Logf(Info, "", "one")
	s.Logf(Info, "", "two")
	assert.Equal(t, 2, s.Dropped())
	assert.EqualError(t, s.Close(), "console gone")

	// Writes after Close are discarded.
	s.Logf(Info, "", "three")
	assert.Equal(t, 2, s.Dropped())
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{"debug": Debug, "INFO": Info, "warn": Warning, "Error": Error, "critical": Critical} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
	assert.True(t, strings.HasPrefix(Level(9).String(), "LEVEL("))
}

func TestNilSinkIsSilent(t *testing.T) {
	var s *Sink
	assert.False(t, s.Enabled(Critical))
	s.Logf(Critical, "", "ignored")
}
