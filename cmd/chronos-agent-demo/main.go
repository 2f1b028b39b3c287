// Command chronos-agent-demo runs a standalone Chronos agent with a handful
// of synthetic sources, a Prometheus metrics endpoint, and a periodic
// recording loop — useful for exercising the agent without an embedding host.
package main

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chronos-dev/agent/internal/timeline"
	"github.com/chronos-dev/agent/pkg/chronosagent"
)

// counterSource is a Guaranteed-class demo source: a plain in-memory
// counter, deterministic and replay-safe by construction.
type counterSource struct {
	value atomic.Int64
}

func (c *counterSource) SourceID() string      { return "demo-counter" }
func (c *counterSource) DisplayName() string   { return "Demo Counter" }
func (c *counterSource) Class() timeline.Class { return timeline.Guaranteed }
func (c *counterSource) CaptureState() (any, string, error) {
	return c.value.Load(), "int64", nil
}

// clockSource is an Unsafe-class demo source: it reads the wall clock, a
// classic source of replay divergence.
type clockSource struct{}

func (clockSource) SourceID() string      { return "demo-clock" }
func (clockSource) DisplayName() string   { return "Demo Wall Clock" }
func (clockSource) Class() timeline.Class { return timeline.Unsafe }
func (clockSource) CaptureState() (any, string, error) {
	return time.Now().UnixNano(), "int64", nil
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	agent, err := chronosagent.New(chronosagent.Config{
		ConfigPath: os.Getenv("CHRONOS_CONFIG_PATH"),
		Logger:     logger,
		ThreadName: "demo-main",
	})
	if err != nil {
		logger.Error("chronos-agent-demo: failed to construct agent", "error", err)
		os.Exit(1)
	}
	defer agent.Shutdown()

	counter := &counterSource{}
	if err := agent.RegisterSource(counter); err != nil {
		logger.Error("chronos-agent-demo: failed to register counter source", "error", err)
		os.Exit(1)
	}
	agent.DescribeSource("demo-counter", chronosagent.TypeDescriptor{IsTaggedUnionOrPureData: true})

	if err := agent.RegisterSource(clockSource{}); err != nil {
		logger.Error("chronos-agent-demo: failed to register clock source", "error", err)
		os.Exit(1)
	}

	if err := agent.StartBackgroundMonitoring(); err != nil {
		logger.Warn("chronos-agent-demo: memory pressure monitoring unavailable", "error", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: ":9090", Handler: mux}
	go func() {
		logger.Info("chronos-agent-demo: metrics endpoint listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("chronos-agent-demo: metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := agent.ServeIPC(ctx, nil); err != nil {
			logger.Warn("chronos-agent-demo: ipc server stopped", "error", err)
		}
	}()
	logger.Info("chronos-agent-demo: ipc session token", "token", agent.IPCAuthToken())

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("chronos-agent-demo: shutting down")
			_ = metricsServer.Close()
			return
		case <-ticker.C:
			counter.value.Add(rand.Int63n(10))
			agent.Record()

			report := agent.EvaluateRefusal()
			if !report.IsAllowed {
				logger.Warn("chronos-agent-demo: replay currently refused", "score", report.Score, "blocking_sources", len(report.BlockingReasons))
			}
		}
	}
}
