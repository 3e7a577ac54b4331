// Package main implements the broqueue worker process.
//
// The worker registers its task classes, then runs a pool of worker
// goroutines that fetch and execute requests, publishing results back
// through the broker. It exposes Prometheus metrics and, optionally,
// drives a schedule.yaml file through the beat plugin.
//
// Usage:
//
//	go run ./cmd/worker
//
// Configuration is via environment variables:
//
//	BROQUEUE_REDIS_ADDR     Redis address (default 127.0.0.1:6379)
//	BROQUEUE_CONCURRENCY    worker goroutine count (default: NumCPU)
//	BROQUEUE_QUEUES         comma-separated queue names (default "default")
//	BROQUEUE_METRICS_ADDR   Prometheus /metrics listen address (default :8080)
//	BROQUEUE_SCHEDULE_FILE  optional schedule.yaml path for the beat plugin
package main

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/broqueue/broqueue/pkg/app"
	"github.com/broqueue/broqueue/pkg/broker"
	"github.com/broqueue/broqueue/pkg/logger"
	"github.com/broqueue/broqueue/pkg/plugins"
	"github.com/broqueue/broqueue/pkg/ratelimit"
	"github.com/broqueue/broqueue/pkg/router"
	"github.com/broqueue/broqueue/pkg/task"
	"github.com/broqueue/broqueue/pkg/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	redisAddr := envOr("BROQUEUE_REDIS_ADDR", "127.0.0.1:6379")
	metricsAddr := envOr("BROQUEUE_METRICS_ADDR", ":8080")
	queues := parseQueues(envOr("BROQUEUE_QUEUES", "default"))
	concurrency := envInt("BROQUEUE_CONCURRENCY", 0)

	b, err := broker.NewRedisBroker(redisAddr)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("failed to connect to broker")
	}

	a := app.New(b, router.New(nil, "default"))
	registerTasks(a)

	metrics := plugins.NewMetricsPlugin(prometheus.DefaultRegisterer)
	activePlugins := []plugins.Plugin{
		plugins.NewLoggingPlugin(logger.Default()),
		plugins.NewTaskKillerPlugin(logger.Default()),
		metrics,
	}

	if schedulePath := os.Getenv("BROQUEUE_SCHEDULE_FILE"); schedulePath != "" {
		rules, err := plugins.LoadScheduleFile(schedulePath)
		if err != nil {
			logger.Log.Fatal().Err(err).Msg("failed to load schedule file")
		}
		beat, err := plugins.NewBeatPlugin(a, logger.Default(), 30*time.Second, rules)
		if err != nil {
			logger.Log.Fatal().Err(err).Msg("failed to build beat plugin")
		}
		activePlugins = append(activePlugins, beat)
	}

	go serveMetrics(metricsAddr)
	go collectQueueDepths(context.Background(), b, queues, metrics)

	m := &worker.Master{
		App:          a,
		Queues:       queues,
		Concurrency:  concurrency,
		FetchTimeout: 5 * time.Second,
		ErrorTimeout: 10 * time.Second,
		Plugins:      activePlugins,
		Logger:       logger.Default(),
		RateLimiter:  ratelimit.New(b.Client()),
		RateLimit:    10,
		RateBurst:    20,
	}

	if err := m.Run(); err != nil {
		logger.Log.Warn().Err(err).Msg("worker exiting after cold shutdown")
		os.Exit(1)
	}
	logger.Log.Info().Msg("worker exited cleanly")
}

// registerTasks wires the demonstration task set the worker ships with.
// A real deployment replaces this with its own Task(...) calls.
func registerTasks(a *app.Application) {
	a.Task("broqueue.ping", func(ctx context.Context, inv *task.Invocation) (interface{}, error) {
		return "pong", nil
	}, nil)

	a.Task("broqueue.echo", func(ctx context.Context, inv *task.Invocation) (interface{}, error) {
		if len(inv.Args) == 0 {
			return nil, nil
		}
		return inv.Args[0], nil
	}, nil)

	sleep := 30 * time.Second
	a.Task("broqueue.sleep", func(ctx context.Context, inv *task.Invocation) (interface{}, error) {
		seconds := 1.0
		if len(inv.Args) > 0 {
			if s, ok := inv.Args[0].(float64); ok {
				seconds = s
			}
		}
		select {
		case <-time.After(time.Duration(seconds * float64(time.Second))):
			return "awake", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, func(c *task.Class) {
		c.TimeLimit = &sleep
	})
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Log.Info().Str("addr", addr).Msg("metrics server listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Log.Error().Err(err).Msg("metrics server stopped")
	}
}

// collectQueueDepths periodically samples each queue's pending length
// and feeds it to the metrics plugin's gauge.
func collectQueueDepths(ctx context.Context, b *broker.RedisBroker, queues []string, m *plugins.MetricsPlugin) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, q := range queues {
				depth, err := b.QueueDepth(ctx, q)
				if err != nil {
					continue
				}
				m.SetQueueDepth(q, depth)
			}
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func parseQueues(csv string) []string {
	parts := strings.Split(csv, ",")
	queues := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			queues = append(queues, p)
		}
	}
	return queues
}
