package worker

import (
	"context"
	"errors"
	"time"

	"github.com/broqueue/broqueue/pkg/errs"
	"github.com/broqueue/broqueue/pkg/types"
)

// runChild is the per-worker execution loop. drainCtx is canceled on
// warm shutdown and guards the blocking fetch; coldCtx is canceled on
// cold shutdown (or never, on a clean warm drain) and is
// the parent of every task's own cancellable context, so a cold
// shutdown reaches a running task immediately.
func runChild(h *workerHandle, app AppAccessor, queues []types.QueueName, fetchTimeout, errorTimeout time.Duration, drainCtx, coldCtx context.Context, limiter RateLimiter, rateLimit, rateBurst float64, events chan<- workerEvent) {
	emit := func(name string, fields map[string]interface{}) {
		select {
		case events <- workerEvent{workerID: h.id, name: name, fields: fields}:
		case <-coldCtx.Done():
		}
	}
	emit("worker_start", nil)

	for {
		select {
		case <-coldCtx.Done():
			return
		default:
		}

		// Raise window = worker, unless fetchTimeout > 0: a
		// timeout-bounded pop returns on its own, and canceling it here
		// would risk losing a fetched-but-undispatched request between
		// the pop returning and the loop acting on it.
		var fetchCtx context.Context = drainCtx
		if fetchTimeout > 0 {
			fetchCtx = context.Background()
		}

		rec, err := app.GetTask(fetchCtx, queues, fetchTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			var brokerErr *errs.BrokerError
			if errors.As(err, &brokerErr) {
				emit("broker_error", nil)
				if sleepOrDone(errorTimeout, coldCtx) {
					return
				}
				continue
			}
			emit("worker_error", map[string]interface{}{"exc": err})
			continue
		}

		if rec == nil {
			// A timed-out fetch returning absent during a warm drain
			// means there's nothing left to do; leave. Otherwise keep
			// polling.
			if drainCtx.Err() != nil {
				return
			}
			continue
		}

		processOne(h, app, rec, errorTimeout, coldCtx, limiter, rateLimit, rateBurst, emit)

		if drainCtx.Err() != nil {
			return
		}
	}
}

func processOne(h *workerHandle, app AppAccessor, rec *types.TaskRecord, errorTimeout time.Duration, coldCtx context.Context, limiter RateLimiter, rateLimit, rateBurst float64, emit func(string, map[string]interface{})) {
	cls, ok := app.Lookup(rec.Name)
	if !ok {
		emit("task_unknown", map[string]interface{}{"task_name": rec.Name})
		return
	}

	if limiter != nil && !allowTask(app, rec, limiter, rateLimit, rateBurst, emit) {
		return
	}

	inv := cls.NewInvocation(rec.Request, rec.Args, rec.Kwargs)
	startTime := time.Now()

	if expires, ok := inv.Expires(); ok && expires < float64(startTime.Unix()) {
		emit("task_expires", map[string]interface{}{"task_name": rec.Name, "task_id": inv.ID()})
		return
	}

	timeLimit, _ := inv.TimeLimit()
	emit("task_start", map[string]interface{}{
		"task_name":  rec.Name,
		"task_id":    inv.ID(),
		"time_limit": timeLimit,
		"start_time": startTime,
	})

	taskCtx, cancel := context.WithCancel(coldCtx)
	h.setCancel(cancel)
	result, runErr := inv.Run(taskCtx)
	h.setCancel(nil)
	// A body that returns its context's error after Interrupt canceled it
	// (rather than a cold shutdown) is reported as a TaskInterrupt.
	if runErr != nil && errors.Is(runErr, context.Canceled) && taskCtx.Err() != nil && coldCtx.Err() == nil {
		runErr = &errs.TaskInterrupt{}
	}
	cancel()

	runningTime := time.Since(startTime).Seconds()
	putResult := func(value interface{}, taskErr error) {
		for {
			err := app.PutResult(context.Background(), inv.ID(), value, taskErr)
			if err == nil {
				return
			}
			var brokerErr *errs.BrokerError
			if !errors.As(err, &brokerErr) {
				return
			}
			emit("broker_error", nil)
			if sleepOrDone(errorTimeout, coldCtx) {
				return
			}
		}
	}

	var taskInterrupt *errs.TaskInterrupt
	switch {
	case runErr == nil:
		putResult(result, nil)
		emit("task_done", map[string]interface{}{"task_name": rec.Name, "task_id": inv.ID(), "running_time": runningTime})

	case inv.Throws(runErr):
		putResult(nil, runErr)
		emit("task_done", map[string]interface{}{"task_name": rec.Name, "task_id": inv.ID(), "running_time": runningTime})

	case errors.As(runErr, &taskInterrupt):
		putResult(nil, runErr)
		emit("task_interrupt", map[string]interface{}{"task_name": rec.Name, "task_id": inv.ID(), "running_time": runningTime})

	default:
		putResult(nil, runErr)
		emit("task_exception", map[string]interface{}{
			"task_name": rec.Name, "task_id": inv.ID(), "exc": runErr, "running_time": runningTime,
		})
	}
}

// allowTask gates a task on the rate limiter before it runs. A denied
// task is re-queued onto the queue it came from rather than executed,
// consuming none of its retry budget; a limiter error fails open
// (the task runs) to avoid stalling the queue over a broker hiccup.
func allowTask(app AppAccessor, rec *types.TaskRecord, limiter RateLimiter, rate, burst float64, emit func(string, map[string]interface{})) bool {
	allowed, err := limiter.Allow(context.Background(), "ratelimit:"+rec.Name, rate, burst)
	if err != nil {
		emit("broker_error", nil)
		return true
	}
	if allowed {
		return true
	}
	emit("task_rate_limited", map[string]interface{}{"task_name": rec.Name})
	if err := app.PutTaskReq(context.Background(), rec.Request.Queue(), *rec); err != nil {
		emit("broker_error", nil)
	}
	return false
}

// sleepOrDone waits d, returning true early (and not completing the
// sleep) iff coldCtx fires first.
func sleepOrDone(d time.Duration, coldCtx context.Context) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return false
	case <-coldCtx.Done():
		return true
	}
}
