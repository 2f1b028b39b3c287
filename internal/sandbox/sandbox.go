// Package sandbox implements the process-wide guard flag that blocks
// external I/O during replay.
package sandbox

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// OperationType is one of the five guarded categories of external effect.
type OperationType int

const (
	OpNetwork OperationType = iota
	OpDatabase
	OpFileSystem
	OpSystemService
	OpIPC
)

func (o OperationType) String() string {
	switch o {
	case OpNetwork:
		return "Network"
	case OpDatabase:
		return "Database"
	case OpFileSystem:
		return "File-system"
	case OpSystemService:
		return "System-service"
	case OpIPC:
		return "IPC"
	default:
		return "Unknown"
	}
}

// Mode qualifies the access being attempted, since database and
// file-system reads are permitted-but-logged while writes are blocked.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

// BlockedOperation is one record appended to the synchronized log kept
// while the sandbox is active.
type BlockedOperation struct {
	Type        OperationType
	Description string
	Mode        Mode
	Timestamp   time.Time
	Blocked     bool
}

// Sandbox is a single process-wide guard flag over five operation types.
// Activation/deactivation is a single atomic boolean; the blocked-operation
// log is an append-only slice protected by its own mutex.
type Sandbox struct {
	active atomic.Bool
	logger *slog.Logger

	mu  sync.Mutex
	log []BlockedOperation
}

// New returns an inactive Sandbox.
func New(logger *slog.Logger) *Sandbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sandbox{logger: logger}
}

// Activate turns on the guard flag.
func (s *Sandbox) Activate() {
	s.active.Store(true)
}

// Deactivate turns off the guard flag. Callers must invoke this on every
// exit path from a replay, successful or not.
func (s *Sandbox) Deactivate() {
	s.active.Store(false)
}

// IsActive reports whether the sandbox is currently guarding operations.
func (s *Sandbox) IsActive() bool {
	return s.active.Load()
}

// ShouldBlock decides whether an attempted operation must be blocked. When
// the sandbox is inactive this is a no-op that always returns false.
// Database and file-system reads are permitted but still logged; writes to
// either are blocked. Every other guarded operation type is blocked
// outright while active.
func (s *Sandbox) ShouldBlock(opType OperationType, mode Mode, description string) bool {
	if !s.active.Load() {
		return false
	}

	blocked := true
	if (opType == OpDatabase || opType == OpFileSystem) && mode == ModeRead {
		blocked = false
	}

	s.record(BlockedOperation{
		Type:        opType,
		Description: description,
		Mode:        mode,
		Timestamp:   time.Now(),
		Blocked:     blocked,
	})

	if blocked {
		s.logger.Warn("sandbox blocked operation", "type", opType.String(), "mode", mode, "description", description)
	}

	return blocked
}

// Guard is a convenience wrapper: it calls ShouldBlock and, if the
// operation is blocked, returns an error describing it.
func (s *Sandbox) Guard(opType OperationType, mode Mode, description string) error {
	if s.ShouldBlock(opType, mode, description) {
		return fmt.Errorf("sandbox: blocked %s operation: %s", opType, description)
	}
	return nil
}

func (s *Sandbox) record(entry BlockedOperation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, entry)
}

// BlockedOperations returns a copy of every recorded operation attempt
// since the sandbox was created, whether blocked or permitted-but-logged.
func (s *Sandbox) BlockedOperations() []BlockedOperation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BlockedOperation, len(s.log))
	copy(out, s.log)
	return out
}
