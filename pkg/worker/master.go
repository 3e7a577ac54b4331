// Package worker implements the worker child execution loop and the
// master supervisor, grounded in original_source/broccoli/worker.py's
// Prefork.
//
// The fork/pipe/signal process model is translated to Go: a child
// process becomes a worker goroutine, a duplex
// pipe becomes a buffered event channel, and the raise-window flag
// becomes explicit context cancellation scoping — a drainCtx guarding
// the blocking fetch (canceled on warm shutdown) and a per-task taskCtx
// nested under a coldCtx (canceled immediately on cold shutdown, and by
// TaskKillerPlugin for an individual task past its time limit).
package worker

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/broqueue/broqueue/pkg/errs"
	"github.com/broqueue/broqueue/pkg/logger"
	"github.com/broqueue/broqueue/pkg/plugins"
	"github.com/broqueue/broqueue/pkg/task"
	"github.com/broqueue/broqueue/pkg/types"
)

// AppAccessor is the subset of the Application façade the worker loop
// needs. pkg/app.Application satisfies it structurally; kept local to
// avoid importing pkg/app (which would import pkg/worker nowhere, but
// keeps this package's dependency surface narrow and test-friendly).
type AppAccessor interface {
	GetTask(ctx context.Context, queues []types.QueueName, timeout time.Duration) (*types.TaskRecord, error)
	PutResult(ctx context.Context, taskID types.TaskID, value interface{}, taskErr error) error
	PutTaskReq(ctx context.Context, queue types.QueueName, rec types.TaskRecord) error
	Lookup(name string) (*task.Class, bool)
}

// RateLimiter gates task execution per task name, letting the worker
// shed load for one noisy task without starving the rest. Optional: a
// nil RateLimiter on Master disables the check entirely.
// pkg/ratelimit.RedisLimiter satisfies this structurally.
type RateLimiter interface {
	Allow(ctx context.Context, key string, rate, burst float64) (bool, error)
}

// Master is the worker pool supervisor: it launches Concurrency worker
// goroutines, multiplexes their events, drives the merged plugin
// handler table, and handles warm/cold shutdown.
type Master struct {
	App          AppAccessor
	Queues       []types.QueueName
	Concurrency  int
	ErrorTimeout time.Duration
	FetchTimeout time.Duration
	Plugins      []plugins.Plugin
	Logger       *logger.Logger

	// RateLimiter, if set, gates every task's execution on
	// Allow(ctx, "ratelimit:"+task_name, RateLimit, RateBurst). A denied
	// task is re-queued rather than run, consuming no retry budget.
	RateLimiter RateLimiter
	RateLimit   float64
	RateBurst   float64
}

type workerEvent struct {
	workerID int
	name     string
	fields   map[string]interface{}
}

// workerHandle is the master's handle on a running worker goroutine; it
// satisfies plugins.Worker.
type workerHandle struct {
	id int

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newWorkerHandle(id int) *workerHandle {
	return &workerHandle{id: id}
}

func (h *workerHandle) ID() int { return h.id }

func (h *workerHandle) Interrupt() {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (h *workerHandle) setCancel(cancel context.CancelFunc) {
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()
}

// Run launches the worker pool and blocks until shutdown. It returns
// nil after a clean warm shutdown (every worker drained and exited), or
// *errs.ColdShutdown if a cold shutdown was requested — the caller
// (cmd/worker) is expected to exit non-zero in that case, matching the
// child table's "cold exit (status -1)" row; the master itself doesn't
// wait for workers on a cold shutdown, exactly as Prefork.run's cold
// branch doesn't join.
func (m *Master) Run() error {
	concurrency := m.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	errorTimeout := m.ErrorTimeout
	if errorTimeout <= 0 {
		errorTimeout = 10 * time.Second
	}
	rateLimit, rateBurst := m.RateLimit, m.RateBurst
	if m.RateLimiter != nil && rateLimit <= 0 {
		rateLimit, rateBurst = 10, 20
	}

	drainCtx, cancelDrain := context.WithCancel(context.Background())
	coldCtx, cancelCold := context.WithCancel(context.Background())
	defer cancelDrain()
	defer cancelCold()

	events := make(chan workerEvent, concurrency*4)
	handles := make([]*workerHandle, concurrency)
	var wg sync.WaitGroup
	for i := range handles {
		h := newWorkerHandle(i)
		handles[i] = h
		wg.Add(1)
		go func(h *workerHandle) {
			defer wg.Done()
			runChild(h, m.App, m.Queues, m.FetchTimeout, errorTimeout, drainCtx, coldCtx, m.RateLimiter, rateLimit, rateBurst, events)
		}(h)
	}

	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigCh)

	handlerTable := plugins.MergeHandlers(m.Plugins)
	warmStarted := false

	for {
		timeout, haveTimeout := plugins.MergeIdle(m.Plugins, time.Now())
		var timeoutCh <-chan time.Time
		if haveTimeout {
			timeoutCh = time.After(timeout)
		}

		select {
		case <-workersDone:
			return nil

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGQUIT:
				m.log().Warn("cold shutdown requested", nil)
				cancelDrain()
				cancelCold()
				return &errs.ColdShutdown{}

			case syscall.SIGINT:
				if warmStarted {
					m.log().Warn("cold shutdown requested", nil)
					cancelDrain()
					cancelCold()
					return &errs.ColdShutdown{}
				}
				warmStarted = true
				m.log().Warn("warm shutdown started; hitting Ctrl+C again will terminate all running tasks", nil)
				cancelDrain()

			case syscall.SIGTERM:
				if !warmStarted {
					warmStarted = true
					m.log().Warn("warm shutdown started", nil)
				}
				cancelDrain()
			}

		case ev := <-events:
			for _, h := range handlerTable[ev.name] {
				m.dispatch(h, handles[ev.workerID], ev.fields)
			}

		case <-timeoutCh:
		}
	}
}

func (m *Master) dispatch(h plugins.HandlerFunc, w *workerHandle, fields map[string]interface{}) {
	defer func() {
		if r := recover(); r != nil {
			m.log().Error("plugin handler panicked", map[string]interface{}{"recovered": r})
		}
	}()
	h(w, fields)
}

func (m *Master) log() *logger.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return logger.Default()
}
