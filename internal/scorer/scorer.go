// Package scorer combines the static classifier, developer contract, and
// class-weighted bands into per-source and per-session determinism scores.
package scorer

import (
	"github.com/chronos-dev/agent/internal/classifier"
	"github.com/chronos-dev/agent/internal/timeline"
)

// Level bands a source or session score.
type Level int

const (
	LevelUnsafe Level = iota
	LevelConditional
	LevelHigh
	LevelPerfect
)

func (l Level) String() string {
	switch l {
	case LevelPerfect:
		return "Perfect"
	case LevelHigh:
		return "High"
	case LevelConditional:
		return "Conditional"
	default:
		return "Unsafe"
	}
}

// classBaseScore is the base score for each determinism class, used as the
// starting point when scoring a single source's replay-safety.
var classBaseScore = map[timeline.Class]int{
	timeline.Guaranteed:  100,
	timeline.Verifiable:  85,
	timeline.Conditional: 60,
	timeline.Unsafe:      0,
}

// ReplayEligibleThreshold is the minimum score at which a source (or
// session) is eligible for replay.
const ReplayEligibleThreshold = 80

// SourceScore is the determinism score computed for one registered source.
type SourceScore struct {
	SourceID       string
	Class          timeline.Class
	Score          int
	Level          Level
	ReplayEligible bool
}

// SessionScore aggregates per-source scores into one session-wide verdict.
type SessionScore struct {
	Score          float64
	Level          Level
	ReplayEligible bool
	HasUnsafe      bool
}

// ScoreSource computes a source's score: the class base score intersected
// (by minimum) with the static analyzer score, plus a +10 bonus if an
// explicit Deterministic tag is present, clamped to 100.
func ScoreSource(sourceID string, class timeline.Class, staticAnalysis classifier.Analysis, hasDeterministicTag bool) SourceScore {
	base := classBaseScore[class]
	score := base
	if staticAnalysis.Score < score {
		score = staticAnalysis.Score
	}
	if hasDeterministicTag {
		score += 10
	}
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	return SourceScore{
		SourceID:       sourceID,
		Class:          class,
		Score:          score,
		Level:          levelFor(score),
		ReplayEligible: score >= ReplayEligibleThreshold,
	}
}

func levelFor(score int) Level {
	switch {
	case score >= 100:
		return LevelPerfect
	case score >= 80:
		return LevelHigh
	case score >= 50:
		return LevelConditional
	default:
		return LevelUnsafe
	}
}

// ScoreSession aggregates per-source scores. If any source is Unsafe the
// session score is forced to 0 and replay is never eligible, regardless of
// every other source's score. Otherwise the session score averages the
// static-analyzer scores with the class-weighted average of base scores.
func ScoreSession(sources []SourceScore, staticScores []int) SessionScore {
	for _, s := range sources {
		if s.Class == timeline.Unsafe {
			return SessionScore{Score: 0, Level: LevelUnsafe, ReplayEligible: false, HasUnsafe: true}
		}
	}

	if len(sources) == 0 {
		return SessionScore{Score: 0, Level: LevelUnsafe, ReplayEligible: false}
	}

	avgStatic := average(staticScores)

	classWeights := make([]int, 0, len(sources))
	for _, s := range sources {
		classWeights = append(classWeights, classBaseScore[s.Class])
	}
	avgClassWeighted := average(classWeights)

	score := (avgStatic + avgClassWeighted) / 2

	return SessionScore{
		Score:          score,
		Level:          levelFor(int(score)),
		ReplayEligible: score >= ReplayEligibleThreshold,
	}
}

func average(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}
