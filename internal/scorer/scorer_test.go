package scorer

import (
	"testing"

	"github.com/chronos-dev/agent/internal/classifier"
	"github.com/chronos-dev/agent/internal/timeline"
	"github.com/stretchr/testify/assert"
)

func TestScoreSource_BonusClampedToHundred(t *testing.T) {
	s := ScoreSource("src-1", timeline.Guaranteed, classifier.Analysis{Score: 100}, true)
	assert.Equal(t, 100, s.Score)
	assert.Equal(t, LevelPerfect, s.Level)
	assert.True(t, s.ReplayEligible)
}

func TestScoreSource_IntersectsWithStaticScore(t *testing.T) {
	s := ScoreSource("src-1", timeline.Guaranteed, classifier.Analysis{Score: 40}, false)
	assert.Equal(t, 40, s.Score)
	assert.Equal(t, LevelUnsafe, s.Level)
}

func TestScoreSource_UnsafeClassIsZero(t *testing.T) {
	s := ScoreSource("src-1", timeline.Unsafe, classifier.Analysis{Score: 100}, false)
	assert.Equal(t, 0, s.Score)
	assert.False(t, s.ReplayEligible)
}

// Presence of any Unsafe source must force session.score = 0 and
// replay_eligible = false.
func TestScoreSession_AnyUnsafeForcesZero(t *testing.T) {
	sources := []SourceScore{
		{SourceID: "a", Class: timeline.Guaranteed, Score: 100},
		{SourceID: "b", Class: timeline.Unsafe, Score: 0},
	}
	session := ScoreSession(sources, []int{100, 0})
	assert.Equal(t, 0.0, session.Score)
	assert.False(t, session.ReplayEligible)
	assert.True(t, session.HasUnsafe)
}

func TestScoreSession_NoUnsafeAveragesComponents(t *testing.T) {
	sources := []SourceScore{
		{SourceID: "a", Class: timeline.Guaranteed, Score: 100},
		{SourceID: "b", Class: timeline.Verifiable, Score: 85},
	}
	session := ScoreSession(sources, []int{100, 85})
	// avgStatic = 92.5, avgClassWeighted = (100+85)/2 = 92.5 -> session = 92.5
	assert.InDelta(t, 92.5, session.Score, 0.01)
	assert.True(t, session.ReplayEligible)
}

func TestScoreSession_BelowThresholdNotEligible(t *testing.T) {
	sources := []SourceScore{
		{SourceID: "a", Class: timeline.Conditional, Score: 60},
	}
	session := ScoreSession(sources, []int{60})
	assert.False(t, session.ReplayEligible)
	assert.Equal(t, LevelConditional, session.Level)
}
