package contract

import (
	"errors"
	"testing"

	"github.com/chronos-dev/agent/internal/timeline"
	"github.com/stretchr/testify/assert"
)

func TestRegistry_PrecedenceUnsafeBeatsDeterministic(t *testing.T) {
	r := New()
	r.DeclareTag("com.example.Weird", Tag{Kind: TagUnsafe, Reason: "touches disk"})
	class, source, reason := r.CheckAnnotations("com.example.Weird")
	assert.Equal(t, timeline.Unsafe, class)
	assert.Equal(t, SourceTag, source)
	assert.Equal(t, "touches disk", reason)
}

func TestRegistry_FallsBackToOverride(t *testing.T) {
	r := New()
	r.RegisterOverride("com.example.Legacy", timeline.Conditional, "reviewed by team")
	class, source, _ := r.CheckAnnotations("com.example.Legacy")
	assert.Equal(t, timeline.Conditional, class)
	assert.Equal(t, SourceOverride, source)
}

func TestRegistry_NoDeclarationIsSourceNone(t *testing.T) {
	r := New()
	_, source, _ := r.CheckAnnotations("com.example.Unknown")
	assert.Equal(t, SourceNone, source)
}

func TestRegistry_HasExplicitDeterministicTag(t *testing.T) {
	r := New()
	assert.False(t, r.HasExplicitDeterministicTag("com.example.X"))
	r.DeclareTag("com.example.X", Tag{Kind: TagDeterministic})
	assert.True(t, r.HasExplicitDeterministicTag("com.example.X"))
}

func TestRegistry_EvaluateAssertions_FirstFailureWins(t *testing.T) {
	r := New()
	r.RegisterAssertion(Assertion{Name: "ok", Eval: func() error { return nil }})
	r.RegisterAssertion(Assertion{Name: "broken", Eval: func() error { return errors.New("boom") }})
	err := r.EvaluateAssertions()
	assert.ErrorContains(t, err, "broken")
	assert.ErrorContains(t, err, "boom")
}
