package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMockClockAfter(t *testing.T) {
	c := NewMockClock(epoch)
	ch := c.After(2 * time.Second)

	c.Advance(time.Second)
	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-ch:
		assert.Equal(t, epoch.Add(2*time.Second), got)
	default:
		t.Fatal("did not fire at deadline")
	}
	assert.Equal(t, 2*time.Second, c.Since(epoch))
}

func TestMockClockAfterZero(t *testing.T) {
	c := NewMockClock(epoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("zero duration should fire immediately")
	}
}

func TestMockTicker(t *testing.T) {
	c := NewMockClock(epoch)
	tk := c.NewTicker(100 * time.Millisecond)
	assert.Equal(t, 1, c.Tickers())

	c.Advance(50 * time.Millisecond)
	assert.Len(t, tk.C(), 0)

	c.Advance(50 * time.Millisecond)
	assert.Len(t, tk.C(), 1)
	<-tk.C()

	// A long jump delivers a single tick.
	c.Advance(time.Second)
	assert.Len(t, tk.C(), 1)
	<-tk.C()

	tk.Stop()
	assert.Equal(t, 0, c.Tickers())
	c.Advance(time.Second)
	assert.Len(t, tk.C(), 0)
}

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	start := c.Now()
	<-c.After(time.Millisecond)
	assert.GreaterOrEqual(t, c.Since(start), time.Millisecond)

	tk := c.NewTicker(time.Millisecond)
	<-tk.C()
	tk.Stop()
}
