// Package ringbuffer implements the bounded, thread-safe, overflow-gap-
// inserting event store that backs the timeline.
package ringbuffer

import (
	"sync"

	"github.com/chronos-dev/agent/internal/timeline"
)

// MinCapacity is the minimum ring buffer capacity accepted by New.
const MinCapacity = 100

// DefaultCapacity is used when callers do not override it explicitly.
const DefaultCapacity = 10000

// Buffer is a fixed-capacity, FIFO-overwrite store of timeline events.
// Writers are exclusive; readers may run concurrently and always observe a
// snapshot-consistent window.
type Buffer struct {
	mu            sync.RWMutex
	slots         []timeline.Event
	head          int // next write index
	tail          int // oldest retained index
	size          int
	capacity      int
	overflowCount int64
	totalAppended int64
}

// New creates a ring buffer with the given capacity, clamped up to
// MinCapacity.
func New(capacity int) *Buffer {
	if capacity < MinCapacity {
		capacity = MinCapacity
	}
	return &Buffer{
		slots:    make([]timeline.Event, capacity),
		capacity: capacity,
	}
}

// Append adds an event to the buffer. It returns true if the buffer was at
// capacity, in which case the oldest retained slot is overwritten with a
// synthesized Gap event rather than with evt: once the window is full, a
// dropped event can only be accounted for, not stored, so the slot records
// the loss instead. tail marks the oldest retained slot and stays put while
// the buffer is full, so the gap keeps sorting before the events it
// preceded; head is the sole write cursor in that state, advancing one slot
// per dropped event.
func (b *Buffer) Append(evt timeline.Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalAppended++

	if b.size == b.capacity {
		gap := timeline.NewGap(timeline.OverflowSequence, evt.ThreadName, "buffer overflow", 1, 0)
		b.slots[b.head] = gap
		b.head = (b.head + 1) % b.capacity
		b.overflowCount++
		return true
	}

	b.slots[b.head] = evt
	b.head = (b.head + 1) % b.capacity
	b.size++
	return false
}

// OverflowCount returns the number of events discarded to overflow gaps.
func (b *Buffer) OverflowCount() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.overflowCount
}

// Size returns the current number of retained events (including synthesized
// gaps).
func (b *Buffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Capacity returns the fixed capacity of the buffer.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// TotalAppended returns the total number of Append calls observed, including
// those that resulted in an overflow gap.
func (b *Buffer) TotalAppended() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.totalAppended
}

// GetAll returns every retained event in chronological order, oldest first.
func (b *Buffer) GetAll() []timeline.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.copyFromTail(b.size)
}

// GetRecent returns up to n of the most recently retained events, in
// chronological order.
func (b *Buffer) GetRecent(n int) []timeline.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n > b.size {
		n = b.size
	}
	all := b.copyFromTail(b.size)
	if n <= 0 {
		return nil
	}
	return all[len(all)-n:]
}

// GetRange returns retained events whose sequence number falls within
// [from, to], inclusive, in chronological order. Gap events carrying the
// overflow sentinel sequence are included only if from <= OverflowSequence.
func (b *Buffer) GetRange(from, to int64) []timeline.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	all := b.copyFromTail(b.size)
	out := make([]timeline.Event, 0, len(all))
	for _, e := range all {
		if e.SequenceNo >= from && e.SequenceNo <= to {
			out = append(out, e)
		}
	}
	return out
}

// GetBySource returns retained Snapshot events for the given source id, in
// chronological order.
func (b *Buffer) GetBySource(sourceID string) []timeline.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	all := b.copyFromTail(b.size)
	out := make([]timeline.Event, 0)
	for _, e := range all {
		if e.Kind == timeline.KindSnapshot && e.SourceID == sourceID {
			out = append(out, e)
		}
	}
	return out
}

// copyFromTail must be called with at least a read lock held. It walks the
// ring from tail, since the buffer is not stored in sequence order but
// cycles in place, and returns a fresh slice safe to hand to callers.
func (b *Buffer) copyFromTail(n int) []timeline.Event {
	out := make([]timeline.Event, n)
	idx := b.tail
	for i := 0; i < n; i++ {
		out[i] = b.slots[idx]
		idx = (idx + 1) % b.capacity
	}
	return out
}
