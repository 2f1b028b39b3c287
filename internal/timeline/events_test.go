package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSnapshot_DefensiveCopy(t *testing.T) {
	value := []byte("alice")
	hash := []byte{1, 2, 3, 4}
	evt := NewSnapshot(1, "main", "src-1", Guaranteed, "string", value, hash)

	// Mutate the caller's slices after construction.
	value[0] = 'Z'
	hash[0] = 0xFF

	require.True(t, evt.HasCheckpoint)
	assert.Equal(t, []byte("alice"), evt.ValueBytes(), "event must not observe post-construction mutation")
	assert.Equal(t, []byte{1, 2, 3, 4}, evt.CheckpointHash())
}

func TestEvent_ValueBytes_IsACopyEachRead(t *testing.T) {
	evt := NewSnapshot(1, "main", "src-1", Guaranteed, "string", []byte("hello"), nil)
	out := evt.ValueBytes()
	out[0] = 'X'
	assert.Equal(t, []byte("hello"), evt.ValueBytes(), "reads must not alias the stored slice")
}

func TestEvent_Equal_SnapshotSemantics(t *testing.T) {
	a := NewSnapshot(5, "t1", "src-1", Guaranteed, "string", []byte("v"), nil)
	b := NewSnapshot(5, "t2", "src-1", Guaranteed, "string", []byte("v"), nil)
	c := NewSnapshot(6, "t1", "src-1", Guaranteed, "string", []byte("v"), nil)
	gap := NewGap(5, "t1", "overflow", 1, time.Second)

	assert.True(t, a.Equal(b), "thread name must not affect snapshot equality")
	assert.False(t, a.Equal(c), "different sequence numbers must not be equal")
	assert.False(t, a.Equal(gap), "a snapshot is never equal to a non-snapshot event")
}

func TestNewGap_OverflowSentinel(t *testing.T) {
	g := NewGap(OverflowSequence, "writer", "buffer overflow", 1, 0)
	assert.Equal(t, OverflowSequence, g.SequenceNo)
	assert.Equal(t, KindGap, g.Kind)
}

func TestClass_String(t *testing.T) {
	assert.Equal(t, "Guaranteed", Guaranteed.String())
	assert.Equal(t, "Unsafe", Unsafe.String())
}
