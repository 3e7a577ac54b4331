// Package app implements the Application façade: task registration,
// send_task/get_result/put_result/get_task, over the broker and router
// collaborators handed to New. Nothing is resolved lazily or loaded
// from configuration: the caller builds both collaborators up front.
package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/broqueue/broqueue/pkg/broker"
	"github.com/broqueue/broqueue/pkg/errs"
	"github.com/broqueue/broqueue/pkg/router"
	"github.com/broqueue/broqueue/pkg/task"
	"github.com/broqueue/broqueue/pkg/types"
	"github.com/google/uuid"
)

// Application is the process-local task registry plus the collaborators
// (broker, router) every task and client call goes through.
type Application struct {
	Broker broker.Broker
	Router router.Router

	mu    sync.RWMutex
	tasks map[string]*task.Class
}

// New builds an Application over the given broker and router.
func New(b broker.Broker, r router.Router) *Application {
	return &Application{
		Broker: b,
		Router: r,
		tasks:  map[string]*task.Class{},
	}
}

// Task registers fn as a task class. Registration order doesn't matter;
// duplicate names overwrite, matching broccoli.app.Broccoli._create_task.
func (a *Application) Task(name string, fn task.RunFunc, configure func(*task.Class)) *task.Class {
	c := &task.Class{
		Name:              name,
		Run:               fn,
		App:               a,
		MaxRetries:        3,
		DefaultRetryDelay: 3 * time.Minute,
	}
	if configure != nil {
		configure(c)
	}
	a.mu.Lock()
	a.tasks[name] = c
	a.mu.Unlock()
	return c
}

// Lookup returns the registered class for name, or (nil, false) if
// unregistered.
func (a *Application) Lookup(name string) (*task.Class, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.tasks[name]
	return c, ok
}

// newTaskID mints a fresh task id: a random UUID with hyphens removed,
// a 32-character lowercase hex string.
func newTaskID() types.TaskID {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// SendTask allocates a fresh id, resolves the queue via the router
// (unless the queue argument is non-empty), merges id and queue into the
// request, and pushes the record to the broker. Returns the id.
func (a *Application) SendTask(taskName string, args types.Args, kwargs types.Kwargs, queue types.QueueName, request types.Request) (types.TaskID, error) {
	if request == nil {
		request = types.Request{}
	}
	taskID := newTaskID()
	if queue == "" {
		queue = a.Router.GetQueue(taskName)
	}
	request[types.HeaderQueue] = queue
	request[types.HeaderID] = taskID

	rec := types.TaskRecord{Name: taskName, Request: request, Args: args, Kwargs: kwargs}
	if err := a.Broker.PutTaskReq(context.Background(), queue, rec); err != nil {
		return "", err
	}
	return taskID, nil
}

// GetResult blocks (up to timeout) for a task's result. Absent ->
// *errs.TimedOut. Otherwise unpacks (value, exc): an exc is re-raised
// when raiseException is true, else returned as the value.
func (a *Application) GetResult(ctx context.Context, taskID types.TaskID, timeout time.Duration, raiseException bool) (interface{}, error) {
	rec, err := a.Broker.GetResult(ctx, taskID, timeout)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &errs.TimedOut{TaskID: taskID}
	}
	if rec.Err != nil {
		if raiseException {
			return nil, rec.Err
		}
		return rec.Err, nil
	}
	return rec.Value, nil
}

// PutResult publishes a task's outcome. Exactly one of value, taskErr
// should be meaningful.
func (a *Application) PutResult(ctx context.Context, taskID types.TaskID, value interface{}, taskErr error) error {
	return a.Broker.PutResult(ctx, taskID, value, taskErr)
}

// GetTask fetches the next task wire record from any of the given
// queues, blocking up to timeout (0 = indefinitely).
func (a *Application) GetTask(ctx context.Context, queues []types.QueueName, timeout time.Duration) (*types.TaskRecord, error) {
	return a.Broker.GetTaskReq(ctx, queues, timeout)
}

// PutTaskReq re-enqueues an already-dequeued record onto queue. Used to
// give a task back to the broker without consuming any of its retry
// budget, e.g. after a rate-limit denial.
func (a *Application) PutTaskReq(ctx context.Context, queue types.QueueName, rec types.TaskRecord) error {
	return a.Broker.PutTaskReq(ctx, queue, rec)
}
