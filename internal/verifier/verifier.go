// Package verifier implements checkpoint hashing and divergence
// classification for replay-time verification.
package verifier

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Divergence classifies a discrepancy between recorded and replayed state.
type Divergence int

const (
	None Divergence = iota
	Structural
	Temporal
	Identity
)

func (d Divergence) String() string {
	switch d {
	case Structural:
		return "Structural"
	case Temporal:
		return "Temporal"
	case Identity:
		return "Identity"
	default:
		return "None"
	}
}

// ShouldHalt reports whether this divergence must abort an in-progress
// replay.
func (d Divergence) ShouldHalt() bool { return d == Structural }

// ShouldWarn reports whether this divergence should be surfaced as a
// warning without aborting.
func (d Divergence) ShouldWarn() bool { return d == Temporal }

// Checkpoint is a stored hash computed at record time, keyed by sequence
// number.
type Checkpoint struct {
	Hash      string
	Timestamp time.Time
}

// CanonicalSerializer produces a stable, content-addressable byte
// representation of a value of a given type name. Registering one for a
// Verifiable-class source's type avoids the qualified-type-name fallback's
// false-positive risk.
type CanonicalSerializer func(value any) ([]byte, error)

// Verifier computes and stores checkpoint hashes and compares them against
// live state at replay time. Checkpoints are written once per sequence
// number and read many times during replay, so they live in a sync.Map
// rather than a mutex-guarded map.
type Verifier struct {
	mu          sync.RWMutex
	checkpoints sync.Map // int64 -> Checkpoint
	serializers map[string]CanonicalSerializer
}

// New returns an empty Verifier.
func New() *Verifier {
	return &Verifier{
		serializers: make(map[string]CanonicalSerializer),
	}
}

// RegisterCanonicalSerializer installs a content-addressable serializer for
// a type name, used instead of the qualified-type-name fallback.
func (v *Verifier) RegisterCanonicalSerializer(typeName string, fn CanonicalSerializer) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.serializers[typeName] = fn
}

// CreateCheckpoint computes a SHA-256 hash over a canonical representation
// of state and stores it against seq, returning the hex-encoded hash.
func (v *Verifier) CreateCheckpoint(seq int64, typeName string, state any) (string, error) {
	canon, err := v.canonicalize(typeName, state)
	if err != nil {
		return "", fmt.Errorf("verifier: canonicalize checkpoint state: %w", err)
	}

	sum := sha256.Sum256(canon)
	hash := hex.EncodeToString(sum[:])

	v.checkpoints.Store(seq, Checkpoint{Hash: hash, Timestamp: time.Now()})

	return hash, nil
}

// VerifyAgainstCheckpoint compares the live state's canonical hash against
// the one recorded at seq. A missing checkpoint is always a Structural
// divergence.
func (v *Verifier) VerifyAgainstCheckpoint(seq int64, typeName string, live any) (bool, Divergence, string) {
	raw, ok := v.checkpoints.Load(seq)
	if !ok {
		return false, Structural, fmt.Sprintf("no checkpoint recorded for sequence %d", seq)
	}
	cp := raw.(Checkpoint)

	canon, err := v.canonicalize(typeName, live)
	if err != nil {
		return false, Structural, fmt.Sprintf("failed to canonicalize live state: %v", err)
	}
	sum := sha256.Sum256(canon)
	liveHash := hex.EncodeToString(sum[:])

	if liveHash == cp.Hash {
		return true, None, ""
	}
	return false, Structural, fmt.Sprintf("checkpoint hash mismatch at sequence %d", seq)
}

// canonicalize produces a stable byte representation of state. It prefers a
// registered CanonicalSerializer for typeName; otherwise it falls back to a
// qualified-type-name-based representation, which is a known
// false-positive risk for Verifiable sources whose equality is not content-
// based — callers are expected to register a serializer to avoid it.
func (v *Verifier) canonicalize(typeName string, value any) ([]byte, error) {
	v.mu.RLock()
	fn, ok := v.serializers[typeName]
	v.mu.RUnlock()
	if ok {
		return fn(value)
	}

	if m, ok := value.(map[string]any); ok {
		return canonicalizeMap(m), nil
	}
	if s, ok := value.(string); ok {
		return []byte(typeName + ":" + s), nil
	}
	return []byte(fmt.Sprintf("%s@%v", typeName, value)), nil
}

// canonicalizeMap produces a stable field-wise serialization for pure-data
// shapes represented as maps, sorting keys so iteration order never affects
// the resulting hash.
func canonicalizeMap(m map[string]any) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]byte, 0, 64)
	for _, k := range keys {
		out = append(out, []byte(k)...)
		out = append(out, '=')
		out = append(out, []byte(fmt.Sprintf("%v", m[k]))...)
		out = append(out, ';')
	}
	return out
}
