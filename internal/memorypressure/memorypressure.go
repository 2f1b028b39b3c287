// Package memorypressure watches host memory availability and signals the
// recorder to pause or resume. The agent has no OS thread of its own
// running a scheduler, so it polls on a cron schedule and additionally
// accepts external low-memory signals pushed by the host.
package memorypressure

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/chronos-dev/agent/internal/metrics"
)

// PauseThreshold is the available/total fraction below which recording
// pauses.
const PauseThreshold = 0.15

// ResumeThreshold is the available/total fraction above which recording
// resumes.
const ResumeThreshold = 0.25

// Listener is notified on every pause/resume transition.
type Listener func(paused bool)

// StatsReader abstracts the host memory query so tests can stub it without
// touching the real OS.
type StatsReader func() (availableFraction float64, err error)

// Monitor polls host memory availability and exposes pause/resume state.
type Monitor struct {
	reader StatsReader
	logger *slog.Logger
	metric *metrics.Metrics

	cron    *cron.Cron
	entryID cron.EntryID

	paused       atomic.Bool
	pauseCount   atomic.Int64
	pauseStarted atomic.Int64 // unix nanos, 0 if not currently paused
	pausedNanos  atomic.Int64

	mu        sync.Mutex
	listeners []Listener
}

// defaultReader queries real OS memory via gopsutil.
func defaultReader() (float64, error) {
	stat, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	if stat.Total == 0 {
		return 1, nil
	}
	return float64(stat.Available) / float64(stat.Total), nil
}

// New constructs a Monitor using the real OS memory reader. Pass a non-nil
// reader to stub memory stats in tests.
func New(m *metrics.Metrics, logger *slog.Logger, reader StatsReader) *Monitor {
	if reader == nil {
		reader = defaultReader
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{reader: reader, logger: logger, metric: m}
}

// AddListener registers a callback invoked after every pause/resume
// transition commits.
func (mon *Monitor) AddListener(l Listener) {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	mon.listeners = append(mon.listeners, l)
}

// StartPolling begins polling memory availability on the given interval
// using a cron schedule expression such as "@every 2s".
func (mon *Monitor) StartPolling(schedule string) error {
	mon.cron = cron.New()
	id, err := mon.cron.AddFunc(schedule, mon.poll)
	if err != nil {
		return err
	}
	mon.entryID = id
	mon.cron.Start()
	return nil
}

// StopPolling halts the cron schedule, if running.
func (mon *Monitor) StopPolling() {
	if mon.cron != nil {
		ctx := mon.cron.Stop()
		<-ctx.Done()
	}
}

func (mon *Monitor) poll() {
	fraction, err := mon.reader()
	if err != nil {
		mon.logger.Warn("memory pressure poll failed", "error", err)
		return
	}
	mon.evaluate(fraction)
}

// evaluate applies the threshold rule to an available/total fraction.
func (mon *Monitor) evaluate(availableFraction float64) {
	if !mon.paused.Load() && availableFraction < PauseThreshold {
		mon.setPaused(true)
		return
	}
	if mon.paused.Load() && availableFraction > ResumeThreshold {
		mon.setPaused(false)
	}
}

// SignalLowMemory forces a pause regardless of the polled fraction, for OS
// low-memory callbacks and critical component-trim levels.
func (mon *Monitor) SignalLowMemory() {
	mon.setPaused(true)
}

// IsPaused reports the monitor's current pause state.
func (mon *Monitor) IsPaused() bool {
	return mon.paused.Load()
}

// PauseCount returns the total number of pause transitions observed.
func (mon *Monitor) PauseCount() int64 {
	return mon.pauseCount.Load()
}

// TotalPausedDuration returns the accumulated time spent paused across all
// completed pause/resume cycles.
func (mon *Monitor) TotalPausedDuration() time.Duration {
	return time.Duration(mon.pausedNanos.Load())
}

func (mon *Monitor) setPaused(paused bool) {
	if !mon.paused.CompareAndSwap(!paused, paused) {
		return
	}

	if paused {
		mon.pauseCount.Add(1)
		mon.pauseStarted.Store(time.Now().UnixNano())
		if mon.metric != nil {
			mon.metric.RecordMemoryPressurePause()
		}
		mon.logger.Warn("memory pressure pause engaged")
	} else {
		started := mon.pauseStarted.Swap(0)
		if started != 0 {
			mon.pausedNanos.Add(time.Now().UnixNano() - started)
		}
		mon.logger.Info("memory pressure pause lifted")
	}

	mon.mu.Lock()
	listeners := make([]Listener, len(mon.listeners))
	copy(listeners, mon.listeners)
	mon.mu.Unlock()

	for _, l := range listeners {
		l(paused)
	}
}
