// Package recorder implements the adaptive state recorder: it captures
// source state on demand, applies redaction, and gates throughput behind a
// one-way degradation ladder driven entirely by a CAS loop over a single
// atomic cell.
package recorder

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chronos-dev/agent/internal/metrics"
	"github.com/chronos-dev/agent/internal/redact"
	"github.com/chronos-dev/agent/internal/registry"
	"github.com/chronos-dev/agent/internal/ringbuffer"
	"github.com/chronos-dev/agent/internal/timeline"
)

// Level is a rung on the degradation ladder. Ordinal order is the demotion
// order: a CAS loop may only move a session's level to a numerically larger
// value until an explicit ResetRecordingLevel call.
type Level int32

const (
	LevelFull Level = iota
	LevelReduced
	LevelMinimal
	LevelPaused
)

func (l Level) String() string {
	switch l {
	case LevelReduced:
		return "Reduced"
	case LevelMinimal:
		return "Minimal"
	case LevelPaused:
		return "Paused"
	default:
		return "Full"
	}
}

// Listener receives every event the recorder emits, whether gated through
// to the ring buffer or not (degradation Gap events always reach
// listeners).
type Listener func(event timeline.Event)

// Recorder captures state from registered sources into a ring buffer,
// applying redaction and a load-shedding degradation ladder.
type Recorder struct {
	buffer    *ringbuffer.Buffer
	redactor  *redact.Strategy
	metrics   *metrics.Metrics
	sessionID string

	// state packs (bucket uint32 | counter uint16 << 32 | level 3 bits << 48)
	// into one atomic cell, updated exclusively by CAS loop.
	state atomic.Uint64
	seq   atomic.Int64

	mu        sync.Mutex
	listeners []Listener
}

// New constructs a Recorder in level Full.
func New(buffer *ringbuffer.Buffer, redactor *redact.Strategy, m *metrics.Metrics, sessionID string) *Recorder {
	if redactor == nil {
		redactor = redact.New()
	}
	r := &Recorder{buffer: buffer, redactor: redactor, metrics: m, sessionID: sessionID}
	r.state.Store(packState(0, 0, LevelFull))
	return r
}

// AddListener registers a callback invoked for every event the recorder
// emits.
func (r *Recorder) AddListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Level returns the recorder's current degradation level.
func (r *Recorder) Level() Level {
	_, _, level := unpackState(r.state.Load())
	return level
}

// ResetRecordingLevel restores Full, the only way to reverse a demotion.
func (r *Recorder) ResetRecordingLevel() {
	for {
		old := r.state.Load()
		bucket, counter, current := unpackState(old)
		if current == LevelFull {
			return
		}
		next := packState(bucket, counter, LevelFull)
		if r.state.CompareAndSwap(old, next) {
			if r.metrics != nil {
				r.metrics.RecordDegradationTransition(current.String(), LevelFull.String())
				r.metrics.SetDegradationLevel(r.sessionID, int(LevelFull))
			}
			return
		}
	}
}

// Record runs the full capture pipeline for source: bucket the event,
// apply the degradation ladder, gate by level, capture, redact, and emit a
// Snapshot event.
func (r *Recorder) Record(source registry.Source, threadName string) error {
	bucket := uint32(time.Now().Unix())

	var newLevel, oldLevel Level
	var counter uint16
	for {
		old := r.state.Load()
		oldBucket, oldCounter, current := unpackState(old)

		if oldBucket != bucket {
			counter = 1
		} else {
			counter = oldCounter + 1
		}

		oldLevel = current
		newLevel = ladderLevel(current, counter)

		next := packState(bucket, counter, newLevel)
		if r.state.CompareAndSwap(old, next) {
			break
		}
	}

	if newLevel != oldLevel {
		r.emitDegradationGap(threadName, counter)
		if r.metrics != nil {
			r.metrics.RecordDegradationTransition(oldLevel.String(), newLevel.String())
			r.metrics.SetDegradationLevel(r.sessionID, int(newLevel))
		}
	}

	if !shouldRecord(newLevel, source.Class()) {
		return nil
	}

	value, valueTypeName, err := captureSafely(source)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordCaptureError(source.SourceID())
		}
		return fmt.Errorf("recorder: capture source %q: %w", source.SourceID(), err)
	}

	redacted := r.redactor.RedactValue(value)
	valueBytes, err := json.Marshal(redacted)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordSerializationError(valueTypeName)
		}
		return fmt.Errorf("recorder: serialize source %q: %w", source.SourceID(), err)
	}

	evt := timeline.NewSnapshot(r.seq.Add(1), threadName, source.SourceID(), source.Class(), valueTypeName, valueBytes, nil)
	r.emit(evt)
	return nil
}

// captureSafely calls source.CaptureState(), converting a panic into an
// error so a misbehaving source can never bring down the recorder.
func captureSafely(source registry.Source) (value any, valueTypeName string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("capture panicked: %v", rec)
		}
	}()
	return source.CaptureState()
}

func (r *Recorder) emitDegradationGap(threadName string, eventsThisSecond uint16) {
	reason := fmt.Sprintf("Event rate exceeded %d/s", degradationThresholdFor(eventsThisSecond))
	evt := timeline.NewGap(r.seq.Add(1), threadName, reason, int(eventsThisSecond), 0)
	r.emit(evt)
}

func (r *Recorder) emit(evt timeline.Event) {
	if r.buffer != nil {
		r.buffer.Append(evt)
	}

	r.mu.Lock()
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	for _, l := range listeners {
		l(evt)
	}
}

// ladderLevel computes the minimum level the degradation ladder demands for
// a given per-second event count, then takes the worse (numerically
// larger) of that and the session's current level — demotion is one-way
// per bucket until ResetRecordingLevel.
func ladderLevel(current Level, eventsThisSecond uint16) Level {
	required := LevelFull
	switch {
	case eventsThisSecond > 1000:
		required = LevelPaused
	case eventsThisSecond > 500:
		required = LevelMinimal
	case eventsThisSecond > 200:
		required = LevelReduced
	}
	if required > current {
		return required
	}
	return current
}

func degradationThresholdFor(eventsThisSecond uint16) int {
	switch {
	case eventsThisSecond > 1000:
		return 1000
	case eventsThisSecond > 500:
		return 500
	default:
		return 200
	}
}

// shouldRecord gates capture by level: Full records everything, Reduced
// skips Conditional sources, Minimal records only Guaranteed, Paused
// records nothing.
func shouldRecord(level Level, class timeline.Class) bool {
	switch level {
	case LevelFull:
		return true
	case LevelReduced:
		return class != timeline.Conditional
	case LevelMinimal:
		return class == timeline.Guaranteed
	default:
		return false
	}
}

func packState(bucket uint32, counter uint16, level Level) uint64 {
	return uint64(bucket) | uint64(counter)<<32 | uint64(level)<<48
}

func unpackState(s uint64) (bucket uint32, counter uint16, level Level) {
	bucket = uint32(s & 0xFFFFFFFF)
	counter = uint16((s >> 32) & 0xFFFF)
	level = Level((s >> 48) & 0x7)
	return
}
