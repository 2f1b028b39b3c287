package refusal

import (
	"testing"

	"github.com/chronos-dev/agent/internal/classifier"
	"github.com/chronos-dev/agent/internal/registry"
	"github.com/chronos-dev/agent/internal/timeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	id    string
	class timeline.Class
}

func (f fakeSource) SourceID() string                   { return f.id }
func (f fakeSource) DisplayName() string                { return f.id }
func (f fakeSource) Class() timeline.Class              { return f.class }
func (f fakeSource) CaptureState() (any, string, error) { return nil, f.id, nil }

func newEngine(t *testing.T, sources []registry.Source, analyses map[string]classifier.Analysis, tagged map[string]bool) *Engine {
	t.Helper()
	reg := registry.New()
	for _, s := range sources {
		require.NoError(t, reg.Register(s))
	}
	cls := classifier.New()
	analysesFor := func(s registry.Source) classifier.Analysis {
		if a, ok := analyses[s.SourceID()]; ok {
			return a
		}
		return classifier.Analysis{TypeName: s.SourceID(), Score: 100}
	}
	hasTag := func(typeName string) bool { return tagged[typeName] }
	return New(reg, cls, nil, analysesFor, hasTag)
}

// Replay is refused when an Unsafe source is present.
func TestEngine_Evaluate_RefusedWithUnsafeSource(t *testing.T) {
	sources := []registry.Source{
		fakeSource{id: "clock-source", class: timeline.Unsafe},
		fakeSource{id: "counter-source", class: timeline.Guaranteed},
	}
	analyses := map[string]classifier.Analysis{
		"clock-source": {
			TypeName: "clock-source",
			Class:    timeline.Unsafe,
			Score:    0,
			Risks: []classifier.Risk{
				{FieldName: "now", TypeName: "SystemClock", Severity: classifier.SeverityCritical, Description: "time"},
			},
		},
	}
	engine := newEngine(t, sources, analyses, nil)

	report := engine.Evaluate()

	assert.False(t, report.IsAllowed)
	assert.Equal(t, 0.0, report.Score)
	require.Len(t, report.BlockingReasons, 1)
	assert.Equal(t, "clock-source", report.BlockingReasons[0].SourceID)
	require.Len(t, report.Mitigations, 1)
	assert.Equal(t, "inject a time provider", report.Mitigations[0].Action)
	assert.Equal(t, EffortMedium, report.Mitigations[0].Effort)
}

// Replay succeeds when only Guaranteed sources are registered.
func TestEngine_Evaluate_AllowedWithOnlyGuaranteedSources(t *testing.T) {
	sources := []registry.Source{
		fakeSource{id: "a", class: timeline.Guaranteed},
		fakeSource{id: "b", class: timeline.Guaranteed},
	}
	engine := newEngine(t, sources, nil, nil)

	report := engine.Evaluate()

	assert.True(t, report.IsAllowed)
	assert.Empty(t, report.BlockingReasons)
	assert.Empty(t, report.Mitigations)
}

func TestEngine_Evaluate_MitigationsAreDeduped(t *testing.T) {
	sources := []registry.Source{
		fakeSource{id: "net-a", class: timeline.Unsafe},
		fakeSource{id: "net-b", class: timeline.Unsafe},
	}
	analyses := map[string]classifier.Analysis{
		"net-a": {Risks: []classifier.Risk{{Description: "network"}}},
		"net-b": {Risks: []classifier.Risk{{Description: "network"}}},
	}
	engine := newEngine(t, sources, analyses, nil)

	report := engine.Evaluate()

	require.Len(t, report.Mitigations, 1)
	assert.Equal(t, "exclude source, use cached data", report.Mitigations[0].Action)
	assert.Equal(t, EffortLow, report.Mitigations[0].Effort)
}

func TestEngine_Evaluate_UnrecognizedRiskFallsBackToSnapshotMode(t *testing.T) {
	sources := []registry.Source{
		fakeSource{id: "weird-source", class: timeline.Unsafe},
	}
	analyses := map[string]classifier.Analysis{
		"weird-source": {Risks: []classifier.Risk{{Description: "preferences"}}},
	}
	engine := newEngine(t, sources, analyses, nil)

	report := engine.Evaluate()

	require.Len(t, report.Mitigations, 1)
	assert.Equal(t, fallbackMitigationAction, report.Mitigations[0].Action)
}

func TestEngine_GetReport_ReturnsFullDetailAfterEvaluate(t *testing.T) {
	sources := []registry.Source{
		fakeSource{id: "db-source", class: timeline.Unsafe},
	}
	analyses := map[string]classifier.Analysis{
		"db-source": {Risks: []classifier.Risk{{Description: "database"}}},
	}
	engine := newEngine(t, sources, analyses, nil)

	assert.Nil(t, engine.GetReport())

	engine.Evaluate()

	report := engine.GetReport()
	require.NotNil(t, report)
	assert.False(t, report.IsAllowed)
	require.Len(t, report.BlockingReasons, 1)
	assert.Equal(t, "db-source", report.BlockingReasons[0].SourceID)
}

func TestEngine_Evaluate_DeterministicTagBoostsScore(t *testing.T) {
	sources := []registry.Source{
		fakeSource{id: "tagged-source", class: timeline.Conditional},
	}
	analyses := map[string]classifier.Analysis{
		"tagged-source": {TypeName: "tagged-source", Score: 75},
	}
	engine := newEngine(t, sources, analyses, map[string]bool{"tagged-source": true})

	report := engine.Evaluate()

	assert.True(t, report.IsAllowed)
}
