package camera

import (
	"context"
	"sync"
	"sync/atomic"
)

// Mailbox is a single-slot handoff between one producer and one consumer.
// Publish never blocks: a value the consumer has not taken yet is
// replaced and counted as dropped.
type Mailbox[T any] struct {
	mu     sync.Mutex
	val    T
	full   bool
	notify chan struct{}
	drops  atomic.Uint64
	puts   atomic.Uint64
}

// NewMailbox returns an empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{notify: make(chan struct{}, 1)}
}

// Publish stores v, replacing any unconsumed value.
func (m *Mailbox[T]) Publish(v T) {
	m.mu.Lock()
	if m.full {
		m.drops.Add(1)
	}
	m.val = v
	m.full = true
	m.mu.Unlock()
	m.puts.Add(1)

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// TryTake returns the pending value, if any, and empties the slot.
func (m *Mailbox[T]) TryTake() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero T
	if !m.full {
		return zero, false
	}
	v := m.val
	m.val = zero
	m.full = false
	return v, true
}

// Take blocks until a value is available or ctx is done.
func (m *Mailbox[T]) Take(ctx context.Context) (T, error) {
	for {
		if v, ok := m.TryTake(); ok {
			return v, nil
		}
		select {
		case <-m.notify:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Drops returns how many values were overwritten before being taken.
func (m *Mailbox[T]) Drops() uint64 { return m.drops.Load() }

// Published returns the total number of Publish calls.
func (m *Mailbox[T]) Published() uint64 { return m.puts.Load() }
