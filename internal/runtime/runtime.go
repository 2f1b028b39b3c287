// Package runtime assembles the agent's components — registry, recorder,
// classifier, contract registry, refusal engine, sandbox, verifier, replay
// controller, coordinator, IPC server, and memory pressure monitor — into a
// single long-lived object a host process constructs once and drives.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/chronos-dev/agent/internal/chronoserr"
	"github.com/chronos-dev/agent/internal/classifier"
	"github.com/chronos-dev/agent/internal/config"
	"github.com/chronos-dev/agent/internal/contract"
	"github.com/chronos-dev/agent/internal/coordinator"
	"github.com/chronos-dev/agent/internal/ipcserver"
	"github.com/chronos-dev/agent/internal/memorypressure"
	"github.com/chronos-dev/agent/internal/metrics"
	"github.com/chronos-dev/agent/internal/recorder"
	"github.com/chronos-dev/agent/internal/redact"
	"github.com/chronos-dev/agent/internal/refusal"
	"github.com/chronos-dev/agent/internal/registry"
	"github.com/chronos-dev/agent/internal/replay"
	"github.com/chronos-dev/agent/internal/ringbuffer"
	"github.com/chronos-dev/agent/internal/sandbox"
	"github.com/chronos-dev/agent/internal/timeline"
	"github.com/chronos-dev/agent/internal/verifier"
)

// TypeDescriptor is host-supplied static shape information for a source's
// declared type, consumed by the classifier without ever invoking capture.
type TypeDescriptor struct {
	Fields                  map[string]string
	IsTaggedUnionOrPureData bool
}

// Runtime owns every component and wires the callbacks each one needs from
// the others.
type Runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	Metrics     *metrics.Metrics
	Registry    *registry.Registry
	Buffer      *ringbuffer.Buffer
	Redactor    *redact.Strategy
	Recorder    *recorder.Recorder
	Classifier  *classifier.Classifier
	Contracts   *contract.Registry
	Refusal     *refusal.Engine
	Sandbox     *sandbox.Sandbox
	Verifier    *verifier.Verifier
	Replay      *replay.Controller
	Coordinator *coordinator.Coordinator
	IPCServer   *ipcserver.Server
	MemMonitor  *memorypressure.Monitor

	mu          sync.RWMutex
	descriptors map[string]TypeDescriptor
}

// New assembles a Runtime from cfg. Every component is constructed even if
// the host never exercises it, since the refusal engine's analysesFor
// callback must be able to reach the classifier and contract registry from
// the moment it is built.
func New(cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := metrics.New()
	reg := registry.New()
	buf := ringbuffer.New(cfg.RingBuffer.CapacityEvents)
	redactor := redact.New()
	rec := recorder.New(buf, redactor, m, uuid.New().String())
	cls := classifier.New()
	contracts := contract.New()
	sb := sandbox.New(logger)
	vf := verifier.New()

	coord, err := coordinator.New(logger)
	if err != nil {
		return nil, fmt.Errorf("runtime: construct coordinator: %w", err)
	}

	ipcSrv, err := ipcserver.New(logger, m)
	if err != nil {
		return nil, fmt.Errorf("runtime: construct ipc server: %w", err)
	}

	memMon := memorypressure.New(m, logger, nil)

	rt := &Runtime{
		cfg:         cfg,
		logger:      logger,
		Metrics:     m,
		Registry:    reg,
		Buffer:      buf,
		Redactor:    redactor,
		Recorder:    rec,
		Classifier:  cls,
		Contracts:   contracts,
		Sandbox:     sb,
		Verifier:    vf,
		Coordinator: coord,
		IPCServer:   ipcSrv,
		MemMonitor:  memMon,
		descriptors: make(map[string]TypeDescriptor),
	}

	rt.Refusal = refusal.New(reg, cls, logger, rt.analysesFor, contracts.HasExplicitDeterministicTag)
	rt.Replay = replay.New(rt.Refusal, sb, vf, reg, nil, m, logger)

	reg.AddListener(func(evt registry.EventType, sourceID string, class timeline.Class) {
		action := "registered"
		if evt == registry.EventUnregistered {
			action = "unregistered"
		}
		logger.Info("runtime: source "+action, "source_id", sourceID, "class", class.String())
	})

	memMon.AddListener(func(paused bool) {
		logger.Info("runtime: memory pressure state changed", "paused", paused)
	})

	return rt, nil
}

// DescribeSource installs the field shape the classifier uses for a source's
// declared type, keyed by source id as the refusal engine's analysesFor
// callback does throughout this package. Call it once per source before the
// first refusal evaluation; sources left undescribed still classify, purely
// from their type name pattern.
func (rt *Runtime) DescribeSource(sourceID string, desc TypeDescriptor) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.descriptors[sourceID] = desc
}

// analysesFor bridges the classifier and the contract registry for the
// refusal engine: an explicit developer tag or override always wins over
// static pattern classification.
func (rt *Runtime) analysesFor(s registry.Source) classifier.Analysis {
	typeName := s.SourceID()

	if class, src, reason := rt.Contracts.CheckAnnotations(typeName); src != contract.SourceNone {
		analysis := classifier.Analysis{TypeName: typeName, Class: class, Score: 100}
		if class == timeline.Unsafe {
			analysis.Score = 0
			analysis.Risks = []classifier.Risk{{FieldName: typeName, Severity: classifier.SeverityCritical, Description: reason}}
		}
		return analysis
	}

	rt.mu.RLock()
	desc, ok := rt.descriptors[typeName]
	rt.mu.RUnlock()
	if !ok {
		return rt.Classifier.AnalyzeType(typeName, nil, false)
	}
	return rt.Classifier.AnalyzeType(typeName, desc.Fields, desc.IsTaggedUnionOrPureData)
}

// RegisterSource adds a source to the registry, translating the registry's
// generic duplicate-id error into the taxonomy type a host can match on.
func (rt *Runtime) RegisterSource(s registry.Source) error {
	if _, exists := rt.Registry.Get(s.SourceID()); exists {
		return &chronoserr.RegistrationConflictError{SourceID: s.SourceID()}
	}
	return rt.Registry.Register(s)
}

// UnregisterSource removes a source. A no-op if it was never registered.
func (rt *Runtime) UnregisterSource(sourceID string) {
	rt.Registry.Unregister(sourceID)
}

// RegisteredSources returns every currently registered source.
func (rt *Runtime) RegisteredSources() []registry.Source {
	return rt.Registry.All()
}

// RecordAll runs one capture pass over every registered source under
// threadName, skipping the pass entirely while the memory pressure monitor
// has paused recording. Per-source capture errors are logged and counted,
// never returned: one misbehaving source must not stop the others.
func (rt *Runtime) RecordAll(threadName string) {
	if rt.MemMonitor.IsPaused() {
		return
	}
	for _, s := range rt.Registry.All() {
		if err := rt.Recorder.Record(s, threadName); err != nil {
			rt.logger.Warn("runtime: record failed", "source_id", s.SourceID(), "error", err)
		}
	}
}

// EvaluateRefusal runs a fresh refusal evaluation and returns its report.
func (rt *Runtime) EvaluateRefusal() refusal.Report {
	return rt.Refusal.Evaluate()
}

// RefusalReport returns the most recently cached refusal report, or nil if
// EvaluateRefusal has never run.
func (rt *Runtime) RefusalReport() *refusal.Report {
	return rt.Refusal.GetReport()
}

// StartReplay delegates to the replay controller.
func (rt *Runtime) StartReplay(ctx context.Context, events []timeline.Event) error {
	return rt.Replay.StartReplay(ctx, events)
}

// Divergences returns every divergence recorded during the most recent
// replay.
func (rt *Runtime) Divergences() []replay.DivergenceRecord {
	return rt.Replay.Divergences()
}

// IPCAuthToken returns the current IPC session's authentication token, for a
// host to hand to a trusted debugger UI out of band.
func (rt *Runtime) IPCAuthToken() string {
	return rt.IPCServer.AuthToken()
}

// StartMemoryPolling begins the memory pressure monitor's cron-scheduled
// polling using the configured schedule.
func (rt *Runtime) StartMemoryPolling() error {
	return rt.MemMonitor.StartPolling(rt.cfg.MemoryPressure.PollSchedule)
}

// StopMemoryPolling halts the memory pressure monitor's cron schedule.
func (rt *Runtime) StopMemoryPolling() {
	rt.MemMonitor.StopPolling()
}

// ServeIPC listens on the configured socket path and serves accepted
// connections until ctx is canceled. Each connection runs the session
// handshake and the rate-limited framed message loop; inbound messages are
// passed to onMessage, which may be nil.
func (rt *Runtime) ServeIPC(ctx context.Context, onMessage func([]byte)) error {
	if onMessage == nil {
		onMessage = func([]byte) {}
	}

	ln, err := net.Listen("unix", rt.cfg.IPC.SocketPath)
	if err != nil {
		return fmt.Errorf("runtime: listen on ipc socket %q: %w", rt.cfg.IPC.SocketPath, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("runtime: accept ipc connection: %w", err)
			}
		}
		go rt.IPCServer.ServeConnection(conn, onMessage)
	}
}

// Shutdown stops every background loop the Runtime started.
func (rt *Runtime) Shutdown() {
	rt.MemMonitor.StopPolling()
}
