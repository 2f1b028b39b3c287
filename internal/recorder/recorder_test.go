package recorder

import (
	"errors"
	"sync"
	"testing"

	"github.com/chronos-dev/agent/internal/ringbuffer"
	"github.com/chronos-dev/agent/internal/timeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	id    string
	class timeline.Class
	value any
	err   error
}

func (f fakeSource) SourceID() string      { return f.id }
func (f fakeSource) DisplayName() string   { return f.id }
func (f fakeSource) Class() timeline.Class { return f.class }
func (f fakeSource) CaptureState() (any, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return f.value, "fakeValue", nil
}

func TestRecorder_Record_EmitsSnapshot(t *testing.T) {
	buf := ringbuffer.New(100)
	r := New(buf, nil, nil, "session-1")

	src := fakeSource{id: "counter", class: timeline.Guaranteed, value: map[string]any{"count": 1}}
	require.NoError(t, r.Record(src, "worker-1"))

	all := buf.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, timeline.KindSnapshot, all[0].Kind)
	assert.Equal(t, "counter", all[0].SourceID)
}

func TestRecorder_Record_CaptureErrorIsNotFatal(t *testing.T) {
	buf := ringbuffer.New(100)
	r := New(buf, nil, nil, "session-1")

	src := fakeSource{id: "broken", class: timeline.Guaranteed, err: errors.New("boom")}
	err := r.Record(src, "worker-1")
	assert.Error(t, err)
	assert.Empty(t, buf.GetAll())
}

func TestRecorder_Record_PanicInCaptureIsRecovered(t *testing.T) {
	buf := ringbuffer.New(100)
	r := New(buf, nil, nil, "session-1")

	src := panicSource{id: "panicky"}
	err := r.Record(src, "worker-1")
	assert.Error(t, err)
}

type panicSource struct{ id string }

func (p panicSource) SourceID() string      { return p.id }
func (p panicSource) DisplayName() string   { return p.id }
func (p panicSource) Class() timeline.Class { return timeline.Guaranteed }
func (p panicSource) CaptureState() (any, string, error) {
	panic("source exploded")
}

func TestRecorder_RedactsSensitiveFieldNames(t *testing.T) {
	buf := ringbuffer.New(100)
	r := New(buf, nil, nil, "session-1")

	src := fakeSource{id: "login", class: timeline.Guaranteed, value: map[string]any{"password": "hunter2", "user": "alice"}}
	require.NoError(t, r.Record(src, "worker-1"))

	evt := buf.GetAll()[0]
	assert.Contains(t, string(evt.ValueBytes()), "REDACTED")
	assert.NotContains(t, string(evt.ValueBytes()), "hunter2")
}

// Adaptive degradation: 201 captures within one bucket
// demotes Full->Reduced with a Gap event reason "Event rate exceeded
// 200/s"; 501 reaches Minimal; 1001 reaches Paused.
func TestRecorder_AdaptiveDegradation_Scenario(t *testing.T) {
	buf := ringbuffer.New(100000)
	r := New(buf, nil, nil, "session-1")

	var gaps []timeline.Event
	var mu sync.Mutex
	r.AddListener(func(evt timeline.Event) {
		if evt.Kind == timeline.KindGap {
			mu.Lock()
			gaps = append(gaps, evt)
			mu.Unlock()
		}
	})

	src := fakeSource{id: "hot-source", class: timeline.Guaranteed, value: 1}

	for i := 0; i < 201; i++ {
		require.NoError(t, r.Record(src, "worker-1"))
	}
	assert.Equal(t, LevelReduced, r.Level())

	for i := 0; i < 300; i++ { // brings total in this bucket to 501
		require.NoError(t, r.Record(src, "worker-1"))
	}
	assert.Equal(t, LevelMinimal, r.Level())

	for i := 0; i < 500; i++ { // brings total in this bucket to 1001
		require.NoError(t, r.Record(src, "worker-1"))
	}
	assert.Equal(t, LevelPaused, r.Level())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, gaps)
	assert.Contains(t, gaps[0].Reason, "200/s")
}

func TestRecorder_ResetRecordingLevel_RestoresFull(t *testing.T) {
	buf := ringbuffer.New(100000)
	r := New(buf, nil, nil, "session-1")
	src := fakeSource{id: "hot-source", class: timeline.Guaranteed, value: 1}

	for i := 0; i < 1001; i++ {
		require.NoError(t, r.Record(src, "worker-1"))
	}
	require.Equal(t, LevelPaused, r.Level())

	r.ResetRecordingLevel()
	assert.Equal(t, LevelFull, r.Level())
}

func TestRecorder_PausedLevelRecordsNothing(t *testing.T) {
	buf := ringbuffer.New(100000)
	r := New(buf, nil, nil, "session-1")
	src := fakeSource{id: "hot-source", class: timeline.Guaranteed, value: 1}

	for i := 0; i < 1001; i++ {
		require.NoError(t, r.Record(src, "worker-1"))
	}

	before := len(buf.GetAll())
	require.NoError(t, r.Record(src, "worker-1"))
	after := len(buf.GetAll())
	assert.Equal(t, before, after)
}

func TestRecorder_ReducedLevelSkipsConditional(t *testing.T) {
	buf := ringbuffer.New(100000)
	r := New(buf, nil, nil, "session-1")
	hot := fakeSource{id: "hot-source", class: timeline.Guaranteed, value: 1}

	for i := 0; i < 201; i++ {
		require.NoError(t, r.Record(hot, "worker-1"))
	}
	require.Equal(t, LevelReduced, r.Level())

	before := len(buf.GetAll())
	conditional := fakeSource{id: "conditional-source", class: timeline.Conditional, value: 1}
	require.NoError(t, r.Record(conditional, "worker-1"))
	assert.Equal(t, before, len(buf.GetAll()))
}
