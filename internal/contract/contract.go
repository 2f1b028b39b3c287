// Package contract implements the developer contract: declared determinism
// tags attached to a type, process-wide overrides, and runtime assertions
// evaluated before replay.
package contract

import (
	"fmt"
	"sync"
	"time"

	"github.com/chronos-dev/agent/internal/timeline"
)

// TagKind identifies which of the closed set of developer tags annotates a
// type or field.
type TagKind int

const (
	TagNone TagKind = iota
	TagDeterministic
	TagVerifiable
	TagConditionalSafe
	TagUnsafe
	TagRedact
	TagIgnore
)

// Tag is the enum-plus-associated-data representation of a developer
// annotation.
type Tag struct {
	Kind       TagKind
	Reason     string // ConditionalSafe, Unsafe
	Author     string // ConditionalSafe
	ReviewDate time.Time
}

// Source identifies where a classification decision originated.
type Source int

const (
	SourceNone Source = iota
	SourceTag
	SourceOverride
	SourceAssertion
)

// Override is a process-wide registered record acknowledging a declared
// class for a type, outside of its own tag.
type Override struct {
	ClassName      string
	DeclaredClass  timeline.Class
	Reason         string
	AcknowledgedAt time.Time
}

// Assertion is a named predicate evaluated before replay; every registered
// assertion must succeed for replay to proceed.
type Assertion struct {
	Name string
	Eval func() error
}

// Registry holds declared tags per type, process-wide overrides, and
// runtime assertions. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	tags       map[string]Tag
	overrides  map[string]Override
	assertions []Assertion
}

// New returns an empty contract registry.
func New() *Registry {
	return &Registry{
		tags:      make(map[string]Tag),
		overrides: make(map[string]Override),
	}
}

// DeclareTag attaches a tag to a fully-qualified type name. Later calls
// replace any previously declared tag for that type.
func (r *Registry) DeclareTag(typeName string, tag Tag) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags[typeName] = tag
}

// RegisterOverride records a process-wide override for a type name.
func (r *Registry) RegisterOverride(typeName string, declaredClass timeline.Class, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[typeName] = Override{
		ClassName:      typeName,
		DeclaredClass:  declaredClass,
		Reason:         reason,
		AcknowledgedAt: time.Now(),
	}
}

// RegisterAssertion adds a named runtime predicate that must succeed before
// replay may proceed.
func (r *Registry) RegisterAssertion(a Assertion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assertions = append(r.assertions, a)
}

// CheckAnnotations resolves the declared class for typeName, applying the
// precedence explicit Unsafe > Deterministic > ConditionalSafe, and falling
// through to a registered override if no tag is present. It returns
// (class, source, reason); class is the zero value and source is SourceNone
// when nothing is declared.
func (r *Registry) CheckAnnotations(typeName string) (class timeline.Class, source Source, reason string) {
	r.mu.RLock()
	tag, hasTag := r.tags[typeName]
	override, hasOverride := r.overrides[typeName]
	r.mu.RUnlock()

	if hasTag {
		switch tag.Kind {
		case TagUnsafe:
			return timeline.Unsafe, SourceTag, tag.Reason
		case TagDeterministic:
			return timeline.Guaranteed, SourceTag, ""
		case TagConditionalSafe:
			return timeline.Conditional, SourceTag, tag.Reason
		case TagVerifiable:
			return timeline.Verifiable, SourceTag, ""
		}
	}

	if hasOverride {
		return override.DeclaredClass, SourceOverride, override.Reason
	}

	return timeline.Conditional, SourceNone, ""
}

// HasExplicitDeterministicTag reports whether typeName carries an explicit
// Deterministic tag, used by the scorer's +10 bonus rule.
func (r *Registry) HasExplicitDeterministicTag(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tag, ok := r.tags[typeName]
	return ok && tag.Kind == TagDeterministic
}

// EvaluateAssertions runs every registered runtime assertion and returns an
// error naming the first one that fails, or nil if all succeed.
func (r *Registry) EvaluateAssertions() error {
	r.mu.RLock()
	assertions := make([]Assertion, len(r.assertions))
	copy(assertions, r.assertions)
	r.mu.RUnlock()

	for _, a := range assertions {
		if err := a.Eval(); err != nil {
			return fmt.Errorf("runtime assertion %q failed: %w", a.Name, err)
		}
	}
	return nil
}
