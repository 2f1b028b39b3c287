package chronosagent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronos-dev/agent/internal/timeline"
)

type fakeSource struct {
	id    string
	class timeline.Class
	value any
}

func (f fakeSource) SourceID() string      { return f.id }
func (f fakeSource) DisplayName() string   { return f.id }
func (f fakeSource) Class() timeline.Class { return f.class }
func (f fakeSource) CaptureState() (any, string, error) {
	return f.value, "string", nil
}

func TestNew_DefaultsConfigWhenNoneSupplied(t *testing.T) {
	agent, err := New(Config{})
	require.NoError(t, err)
	assert.NotNil(t, agent)
	assert.NotEmpty(t, agent.IPCAuthToken())
}

func TestAgent_RegisterAndRecord(t *testing.T) {
	agent, err := New(Config{ThreadName: "test-thread"})
	require.NoError(t, err)

	require.NoError(t, agent.RegisterSource(fakeSource{id: "counter", class: timeline.Guaranteed, value: 7}))
	agent.Record()

	assert.Len(t, agent.RegisteredSources(), 1)
}

func TestAgent_DeclareDeterministic_OverridesClassifierSuspicion(t *testing.T) {
	agent, err := New(Config{})
	require.NoError(t, err)

	require.NoError(t, agent.RegisterSource(fakeSource{id: "legacy-random-wrapper", class: timeline.Guaranteed}))
	agent.DeclareDeterministic("legacy-random-wrapper")

	report := agent.EvaluateRefusal()
	assert.True(t, report.IsAllowed)
}

func TestAgent_StartReplay_RefusesOnUnsafeSource(t *testing.T) {
	agent, err := New(Config{})
	require.NoError(t, err)

	require.NoError(t, agent.RegisterSource(fakeSource{id: "clock", class: timeline.Unsafe}))

	err = agent.StartReplay(nil, nil) //nolint:staticcheck // nil context accepted for the preflight-only path under test
	assert.Error(t, err)
}
