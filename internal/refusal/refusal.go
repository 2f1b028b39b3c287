// Package refusal implements the pre-flight gate that decides whether a
// replay may proceed, and if not, why and how to fix it.
package refusal

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/chronos-dev/agent/internal/classifier"
	"github.com/chronos-dev/agent/internal/registry"
	"github.com/chronos-dev/agent/internal/scorer"
	"github.com/chronos-dev/agent/internal/timeline"
)

// Effort bands how much work a mitigation requires.
type Effort int

const (
	EffortLow Effort = iota
	EffortMedium
	EffortHigh
)

func (e Effort) String() string {
	switch e {
	case EffortMedium:
		return "medium"
	case EffortHigh:
		return "high"
	default:
		return "low"
	}
}

// Mitigation is an opaque hint suggesting how to make a source replay-safe.
type Mitigation struct {
	Action string
	Effort Effort
}

// BlockingReason names one source that prevents replay, and why.
type BlockingReason struct {
	SourceID string
	Risks    []classifier.Risk
}

// Report is the outcome of a refusal evaluation.
type Report struct {
	IsAllowed       bool
	Score           float64
	BlockingReasons []BlockingReason
	Mitigations     []Mitigation
}

var mitigationRules = []struct {
	pattern *regexp.Regexp
	action  string
	effort  Effort
}{
	{regexp.MustCompile(`(?i)random`), "inject a fixed seed", EffortMedium},
	{regexp.MustCompile(`(?i)time`), "inject a time provider", EffortMedium},
	{regexp.MustCompile(`(?i)network`), "exclude source, use cached data", EffortLow},
	{regexp.MustCompile(`(?i)database`), "use in-memory database", EffortHigh},
}

const fallbackMitigationAction = "use snapshot mode instead of replay"

// Engine evaluates a session's replay eligibility against the registry and
// the per-source static analyses supplied by the classifier.
type Engine struct {
	registry   *registry.Registry
	classifier *classifier.Classifier
	logger     *slog.Logger

	// analysesFor supplies the static analysis for a given source, so the
	// refusal engine does not need to re-run type analysis itself; the
	// adaptive recorder or host wiring owns the per-type analysis cache.
	analysesFor func(source registry.Source) classifier.Analysis
	hasTag      func(typeName string) bool
	reportCache *Report
}

// New constructs a refusal Engine.
func New(reg *registry.Registry, cls *classifier.Classifier, logger *slog.Logger,
	analysesFor func(registry.Source) classifier.Analysis, hasDeterministicTag func(string) bool) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{registry: reg, classifier: cls, logger: logger, analysesFor: analysesFor, hasTag: hasDeterministicTag}
}

// Evaluate runs the refusal decision and caches the full report for
// GetReport. The emitted log line never includes source ids.
func (e *Engine) Evaluate() Report {
	sources := e.registry.All()

	var blocking []BlockingReason
	var sourceScores []scorer.SourceScore
	var staticScores []int

	for _, s := range sources {
		analysis := e.analysesFor(s)
		staticScores = append(staticScores, analysis.Score)

		ss := scorer.ScoreSource(s.SourceID(), s.Class(), analysis, e.hasTag(analysis.TypeName))
		sourceScores = append(sourceScores, ss)

		if s.Class() == timeline.Unsafe {
			blocking = append(blocking, BlockingReason{SourceID: s.SourceID(), Risks: analysis.Risks})
		}
	}

	session := scorer.ScoreSession(sourceScores, staticScores)

	report := Report{
		IsAllowed: !session.HasUnsafe && session.ReplayEligible,
		Score:     session.Score,
	}
	if len(blocking) > 0 {
		report.BlockingReasons = blocking
		report.Mitigations = mitigationsFor(blocking)
	}

	e.reportCache = &report

	if report.IsAllowed {
		e.logger.Info("refusal evaluation completed", "allowed", true, "score", report.Score)
	} else {
		e.logger.Warn("refusal evaluation completed", "allowed", false, "blocked_source_count", len(blocking))
	}

	return report
}

// GetReport returns the full detail of the most recent evaluation,
// including source ids. This is the only way to retrieve identifying
// detail — the log line emitted by Evaluate deliberately omits it.
func (e *Engine) GetReport() *Report {
	return e.reportCache
}

func mitigationsFor(blocking []BlockingReason) []Mitigation {
	seen := make(map[string]bool)
	var out []Mitigation

	addIfNew := func(m Mitigation) {
		if seen[m.Action] {
			return
		}
		seen[m.Action] = true
		out = append(out, m)
	}

	for _, b := range blocking {
		if len(b.Risks) == 0 {
			addIfNew(Mitigation{Action: fallbackMitigationAction, Effort: EffortLow})
			continue
		}
		for _, risk := range b.Risks {
			matched := false
			desc := strings.ToLower(risk.Description)
			for _, rule := range mitigationRules {
				if rule.pattern.MatchString(desc) {
					addIfNew(Mitigation{Action: rule.action, Effort: rule.effort})
					matched = true
					break
				}
			}
			if !matched {
				addIfNew(Mitigation{Action: fallbackMitigationAction, Effort: EffortLow})
			}
		}
	}

	return out
}
