// Package chronosagent is the host-facing facade: the thin surface an
// embedding application imports to register state sources, drive recording,
// and query replay eligibility, without reaching into internal/runtime
// directly.
package chronosagent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chronos-dev/agent/internal/config"
	"github.com/chronos-dev/agent/internal/contract"
	"github.com/chronos-dev/agent/internal/refusal"
	"github.com/chronos-dev/agent/internal/registry"
	"github.com/chronos-dev/agent/internal/replay"
	"github.com/chronos-dev/agent/internal/runtime"
	"github.com/chronos-dev/agent/internal/timeline"
)

// Config configures a new Agent.
type Config struct {
	// ConfigPath loads a YAML config file. Ignored if Config is set.
	ConfigPath string

	// Config, if set, is used directly instead of loading ConfigPath.
	Config *config.Config

	// Logger receives every log line the agent and its components emit.
	// Defaults to slog.Default().
	Logger *slog.Logger

	// ThreadName identifies the calling goroutine/thread in every event this
	// agent's Record call emits.
	ThreadName string
}

// Source re-exports registry.Source so callers never need to import
// internal/registry to implement one.
type Source = registry.Source

// TypeDescriptor re-exports runtime.TypeDescriptor.
type TypeDescriptor = runtime.TypeDescriptor

// Agent is an embeddable Chronos recording session.
type Agent struct {
	rt         *runtime.Runtime
	threadName string
	logger     *slog.Logger
}

// New constructs an Agent. If cfg.Config is nil and cfg.ConfigPath is set,
// the file is loaded; a missing or unreadable file falls back to defaults
// rather than failing construction, since an embedded agent must never block
// its host's startup.
func New(cfg Config) (*Agent, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	resolved := cfg.Config
	if resolved == nil {
		resolved = &config.Config{}
		if cfg.ConfigPath != "" {
			loaded, err := config.LoadConfig(cfg.ConfigPath)
			if err != nil {
				logger.Warn("chronosagent: failed to load config file, using defaults", "path", cfg.ConfigPath, "error", err)
			} else {
				resolved = loaded
			}
		}
	}

	rt, err := runtime.New(resolved, logger)
	if err != nil {
		return nil, fmt.Errorf("chronosagent: construct runtime: %w", err)
	}

	threadName := cfg.ThreadName
	if threadName == "" {
		threadName = "main"
	}

	return &Agent{rt: rt, threadName: threadName, logger: logger}, nil
}

// RegisterSource registers a state source to be recorded and, at replay
// time, classified for determinism.
func (a *Agent) RegisterSource(s Source) error {
	return a.rt.RegisterSource(s)
}

// UnregisterSource removes a previously registered source.
func (a *Agent) UnregisterSource(sourceID string) {
	a.rt.UnregisterSource(sourceID)
}

// DescribeSource supplies the declared field shape of a source's type, used
// by the static classifier. Optional: an undescribed source still classifies
// from its type name alone.
func (a *Agent) DescribeSource(sourceID string, desc TypeDescriptor) {
	a.rt.DescribeSource(sourceID, desc)
}

// DeclareDeterministic tags a source's type as explicitly Guaranteed,
// overriding static classification and earning the scorer's confidence
// bonus.
func (a *Agent) DeclareDeterministic(typeName string) {
	a.rt.Contracts.DeclareTag(typeName, contract.Tag{Kind: contract.TagDeterministic})
}

// DeclareConditionallySafe tags a source's type as Conditional with a
// reviewer-supplied justification and review date.
func (a *Agent) DeclareConditionallySafe(typeName, reason, author string, reviewBy time.Time) {
	a.rt.Contracts.DeclareTag(typeName, contract.Tag{
		Kind:       contract.TagConditionalSafe,
		Reason:     reason,
		Author:     author,
		ReviewDate: reviewBy,
	})
}

// RegisterReplayAssertion adds a named predicate that must succeed before
// any replay may proceed.
func (a *Agent) RegisterReplayAssertion(name string, eval func() error) {
	a.rt.Contracts.RegisterAssertion(contract.Assertion{Name: name, Eval: eval})
}

// RegisterCanonicalSerializer installs a content-addressable serializer for
// a source's value type, used at checkpoint time instead of the fallback
// qualified-type-name representation.
func (a *Agent) RegisterCanonicalSerializer(typeName string, fn func(value any) ([]byte, error)) {
	a.rt.Verifier.RegisterCanonicalSerializer(typeName, fn)
}

// Record runs one capture pass over every registered source.
func (a *Agent) Record() {
	a.rt.RecordAll(a.threadName)
}

// RegisteredSources returns every currently registered source.
func (a *Agent) RegisteredSources() []Source {
	return a.rt.RegisteredSources()
}

// EvaluateRefusal runs the refusal engine and returns whether replay is
// currently eligible, together with the reasons and mitigations if not.
func (a *Agent) EvaluateRefusal() refusal.Report {
	return a.rt.EvaluateRefusal()
}

// StartReplay runs a full replay of events. It refuses up front if any
// registered source is Unsafe or the session score falls below the replay
// eligibility threshold.
func (a *Agent) StartReplay(ctx context.Context, events []timeline.Event) error {
	return a.rt.StartReplay(ctx, events)
}

// Divergences returns every divergence recorded during the most recent
// replay.
func (a *Agent) Divergences() []replay.DivergenceRecord {
	return a.rt.Divergences()
}

// IPCAuthToken returns the session token a trusted debugger UI must present
// to connect over IPC.
func (a *Agent) IPCAuthToken() string {
	return a.rt.IPCAuthToken()
}

// ServeIPC accepts and serves debugger UI connections on the configured
// socket until ctx is canceled.
func (a *Agent) ServeIPC(ctx context.Context, onMessage func([]byte)) error {
	return a.rt.ServeIPC(ctx, onMessage)
}

// StartBackgroundMonitoring begins the memory pressure monitor's polling
// loop. Call Shutdown to stop it.
func (a *Agent) StartBackgroundMonitoring() error {
	return a.rt.StartMemoryPolling()
}

// Shutdown stops every background loop the agent started.
func (a *Agent) Shutdown() {
	a.rt.Shutdown()
}
