package ringbuffer

import (
	"sync"
	"testing"

	"github.com/chronos-dev/agent/internal/timeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotEvent(seq int64) timeline.Event {
	return timeline.NewSnapshot(seq, "writer", "src-1", timeline.Guaranteed, "string", []byte("v"), nil)
}

// Appending past capacity must insert a synthesized gap in place of the
// overwritten event.
func TestBuffer_OverflowGapInsertion(t *testing.T) {
	buf := New(10)
	for seq := int64(1); seq <= 15; seq++ {
		buf.Append(snapshotEvent(seq))
	}

	require.Equal(t, 10, buf.Size())
	assert.EqualValues(t, 5, buf.OverflowCount())

	all := buf.GetAll()
	require.Len(t, all, 10)
	for i := 0; i < 5; i++ {
		assert.Equal(t, timeline.KindGap, all[i].Kind, "first 5 retained events must be overflow gaps")
	}
	for i := 5; i < 10; i++ {
		assert.Equal(t, timeline.KindSnapshot, all[i].Kind)
		assert.EqualValues(t, 6+(i-5), all[i].SequenceNo)
	}
}

func TestNew_ClampsToMinCapacity(t *testing.T) {
	buf := New(1)
	assert.Equal(t, MinCapacity, buf.Capacity())
}

func TestBuffer_NoOverflowUnderCapacity(t *testing.T) {
	buf := New(100)
	for seq := int64(1); seq <= 50; seq++ {
		overwrote := buf.Append(snapshotEvent(seq))
		assert.False(t, overwrote)
	}
	assert.Equal(t, 50, buf.Size())
	assert.EqualValues(t, 0, buf.OverflowCount())
}

func TestBuffer_GetRecent(t *testing.T) {
	buf := New(MinCapacity)
	for seq := int64(1); seq <= 5; seq++ {
		buf.Append(snapshotEvent(seq))
	}
	recent := buf.GetRecent(2)
	require.Len(t, recent, 2)
	assert.EqualValues(t, 4, recent[0].SequenceNo)
	assert.EqualValues(t, 5, recent[1].SequenceNo)
}

func TestBuffer_GetBySource(t *testing.T) {
	buf := New(MinCapacity)
	buf.Append(timeline.NewSnapshot(1, "w", "a", timeline.Guaranteed, "string", []byte("1"), nil))
	buf.Append(timeline.NewSnapshot(2, "w", "b", timeline.Guaranteed, "string", []byte("2"), nil))
	buf.Append(timeline.NewSnapshot(3, "w", "a", timeline.Guaranteed, "string", []byte("3"), nil))

	got := buf.GetBySource("a")
	require.Len(t, got, 2)
	assert.EqualValues(t, 1, got[0].SequenceNo)
	assert.EqualValues(t, 3, got[1].SequenceNo)
}

// Concurrent readers must observe a coherent window even while a writer
// appends; run with -race.
func TestBuffer_ConcurrentReadersDuringWrites(t *testing.T) {
	buf := New(MinCapacity)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for seq := int64(1); seq <= 500; seq++ {
			buf.Append(snapshotEvent(seq))
		}
	}()

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = buf.GetAll()
				_ = buf.GetRecent(5)
			}
		}()
	}

	wg.Wait()
	assert.LessOrEqual(t, buf.Size(), buf.Capacity())
}

func TestBuffer_OverflowAccounting(t *testing.T) {
	buf := New(MinCapacity)
	total := int64(MinCapacity + 37)
	for seq := int64(1); seq <= total; seq++ {
		buf.Append(snapshotEvent(seq))
	}
	assert.Equal(t, buf.OverflowCount()+int64(buf.Size()), buf.TotalAppended())
}
