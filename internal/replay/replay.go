// Package replay implements the replay controller and its state machine:
// Idle -> Preflight -> Replaying -> {Paused <-> Replaying} -> {Completed |
// Aborted}.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chronos-dev/agent/internal/chronoserr"
	"github.com/chronos-dev/agent/internal/metrics"
	"github.com/chronos-dev/agent/internal/refusal"
	"github.com/chronos-dev/agent/internal/registry"
	"github.com/chronos-dev/agent/internal/sandbox"
	"github.com/chronos-dev/agent/internal/timeline"
	"github.com/chronos-dev/agent/internal/verifier"
)

// State is a node in the replay state machine.
type State int

const (
	StateIdle State = iota
	StatePreflight
	StateReplaying
	StatePaused
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StatePreflight:
		return "Preflight"
	case StateReplaying:
		return "Replaying"
	case StatePaused:
		return "Paused"
	case StateCompleted:
		return "Completed"
	case StateAborted:
		return "Aborted"
	default:
		return "Idle"
	}
}

// ErrAborted is returned by StartReplay when the controller was aborted
// mid-iteration by a concurrent Abort call.
var ErrAborted = errors.New("replay: aborted")

// DivergenceRecord is one verification outcome observed during replay.
type DivergenceRecord struct {
	SequenceNo int64
	Divergence verifier.Divergence
	Message    string
}

// AckCache records which checkpoints have been acknowledged during replay.
// The Redis-backed implementation is a diagnostics convenience only:
// correctness of replay never depends on it, so a nil AckCache or a Redis
// error degrades silently to the in-memory implementation's behavior.
type AckCache interface {
	MarkAcknowledged(ctx context.Context, checkpointID string) error
}

// memoryAckCache is the default, dependency-free AckCache.
type memoryAckCache struct {
	mu    sync.Mutex
	acked map[string]bool
}

// NewMemoryAckCache returns an in-process AckCache.
func NewMemoryAckCache() AckCache {
	return &memoryAckCache{acked: make(map[string]bool)}
}

func (c *memoryAckCache) MarkAcknowledged(_ context.Context, checkpointID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked[checkpointID] = true
	return nil
}

// redisAckCache mirrors acknowledgments into Redis for cross-process
// diagnostics visibility. It is optional: construction never fails, and
// every operation's error is logged, not propagated, since the replay
// controller's correctness does not depend on it.
type redisAckCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisAckCache returns an AckCache backed by Redis at addr.
func NewRedisAckCache(addr string, logger *slog.Logger) AckCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisAckCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    1 * time.Hour,
		logger: logger,
	}
}

func (c *redisAckCache) MarkAcknowledged(ctx context.Context, checkpointID string) error {
	if err := c.client.Set(ctx, "chronos:ack:"+checkpointID, time.Now().Unix(), c.ttl).Err(); err != nil {
		c.logger.Warn("replay: redis ack cache write failed", "checkpoint_id", checkpointID, "error", err)
	}
	return nil
}

// Controller runs the replay state machine against a registry, refusal
// engine, sandbox, and verifier.
type Controller struct {
	mu    sync.Mutex
	cond  *sync.Cond
	state State

	refusalEngine *refusal.Engine
	sandbox       *sandbox.Sandbox
	verifier      *verifier.Verifier
	registry      *registry.Registry
	ackCache      AckCache
	metrics       *metrics.Metrics
	logger        *slog.Logger

	divergences []DivergenceRecord
}

// New constructs an idle Controller. ackCache may be nil, in which case an
// in-memory cache is used.
func New(refusalEngine *refusal.Engine, sb *sandbox.Sandbox, v *verifier.Verifier, reg *registry.Registry, ackCache AckCache, m *metrics.Metrics, logger *slog.Logger) *Controller {
	if ackCache == nil {
		ackCache = NewMemoryAckCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		state:         StateIdle,
		refusalEngine: refusalEngine,
		sandbox:       sb,
		verifier:      v,
		registry:      reg,
		ackCache:      ackCache,
		metrics:       m,
		logger:        logger,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Divergences returns every divergence recorded during the most recent
// replay.
func (c *Controller) Divergences() []DivergenceRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]DivergenceRecord, len(c.divergences))
	copy(out, c.divergences)
	return out
}

func (c *Controller) transition(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Pause is legal only while Replaying.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReplaying {
		return fmt.Errorf("replay: pause illegal in state %s", c.state)
	}
	c.state = StatePaused
	c.cond.Broadcast()
	return nil
}

// Resume is legal only while Paused.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePaused {
		return fmt.Errorf("replay: resume illegal in state %s", c.state)
	}
	c.state = StateReplaying
	c.cond.Broadcast()
	return nil
}

// Abort is always legal. It transitions to Aborted and deactivates the
// sandbox.
func (c *Controller) Abort() {
	c.mu.Lock()
	c.state = StateAborted
	c.mu.Unlock()
	c.cond.Broadcast()
	c.sandbox.Deactivate()
}

// StartReplay runs the full replay timeline: preflight refusal check,
// sandbox activation, event-by-event verification, then completion.
func (c *Controller) StartReplay(ctx context.Context, events []timeline.Event) error {
	c.transition(StatePreflight)

	report := c.refusalEngine.Evaluate()
	if c.metrics != nil {
		c.metrics.RecordRefusalDecision(report.IsAllowed)
	}
	if !report.IsAllowed {
		c.transition(StateAborted)
		reasons := make(map[string]string, len(report.BlockingReasons))
		for _, b := range report.BlockingReasons {
			descs := make([]string, 0, len(b.Risks))
			for _, r := range b.Risks {
				descs = append(descs, r.Description)
			}
			reasons[b.SourceID] = strings.Join(descs, "; ")
		}
		return &chronoserr.DeterminismViolationError{Reasons: reasons}
	}

	if conditional := c.registry.GetByClass(timeline.Conditional, timeline.Unsafe); len(conditional) > 0 {
		c.logger.Warn("replay: Conditional/Unsafe sources registered", "count", len(conditional))
	}

	c.sandbox.Activate()
	defer c.sandbox.Deactivate()

	c.mu.Lock()
	c.divergences = nil
	c.mu.Unlock()
	c.transition(StateReplaying)

	for _, evt := range events {
		c.mu.Lock()
		for c.state == StatePaused {
			c.cond.Wait()
		}
		current := c.state
		c.mu.Unlock()

		if current == StateAborted {
			return ErrAborted
		}

		if err := c.processEvent(ctx, evt); err != nil {
			c.transition(StateAborted)
			return err
		}
	}

	c.transition(StateCompleted)
	return nil
}

func (c *Controller) processEvent(ctx context.Context, evt timeline.Event) error {
	switch evt.Kind {
	case timeline.KindSnapshot:
		return c.processSnapshot(ctx, evt)
	case timeline.KindCheckpoint:
		return c.ackCache.MarkAcknowledged(ctx, evt.CheckpointID)
	case timeline.KindGap, timeline.KindLog:
		return nil
	default:
		return nil
	}
}

func (c *Controller) processSnapshot(ctx context.Context, evt timeline.Event) error {
	src, ok := c.registry.Get(evt.SourceID)
	if !ok {
		c.recordDivergence(evt.SequenceNo, verifier.Structural, fmt.Sprintf("source %q not registered", evt.SourceID))
		return fmt.Errorf("replay: missing source %q at sequence %d", evt.SourceID, evt.SequenceNo)
	}

	if !evt.HasCheckpoint {
		return nil
	}

	live, _, err := src.CaptureState()
	if err != nil {
		return fmt.Errorf("replay: capture live state for %q: %w", evt.SourceID, err)
	}

	ok, div, msg := c.verifier.VerifyAgainstCheckpoint(evt.SequenceNo, evt.ValueTypeName, live)
	if c.metrics != nil {
		c.metrics.RecordReplayDivergence(div.String())
	}
	if !ok {
		c.recordDivergence(evt.SequenceNo, div, msg)
		if div.ShouldHalt() {
			return fmt.Errorf("replay: %s divergence at sequence %d: %s", div, evt.SequenceNo, msg)
		}
		return nil
	}

	return c.ackCache.MarkAcknowledged(ctx, fmt.Sprintf("seq-%d", evt.SequenceNo))
}

func (c *Controller) recordDivergence(seq int64, div verifier.Divergence, msg string) {
	c.mu.Lock()
	c.divergences = append(c.divergences, DivergenceRecord{SequenceNo: seq, Divergence: div, Message: msg})
	c.mu.Unlock()
}
