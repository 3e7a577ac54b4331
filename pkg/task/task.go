// Package task implements the per-invocation task abstraction: a
// registered Class carrying the user-supplied Run function and header
// defaults, materialized per request into an Invocation, plus the Delay
// sugar that sends a task and hands back a waitable Result.
package task

import (
	"context"
	"time"

	"github.com/broqueue/broqueue/pkg/types"
)

// Sender is the subset of the Application façade a Class needs to
// implement Delay without importing pkg/app (which imports pkg/task),
// avoiding an import cycle.
type Sender interface {
	SendTask(taskName string, args types.Args, kwargs types.Kwargs, queue types.QueueName, request types.Request) (types.TaskID, error)
	GetResult(ctx context.Context, taskID types.TaskID, timeout time.Duration, raiseException bool) (interface{}, error)
}

// RunFunc is the user-supplied task body. It must observe ctx.Done() to
// be interruptible by TaskKiller.
type RunFunc func(ctx context.Context, inv *Invocation) (interface{}, error)

// Class is the registered descriptor for a named task: the run function
// plus the header defaults broccoli.task.Task carries as class
// attributes (throws, expires, time_limit, max_retries,
// default_retry_delay, autoretry_for).
type Class struct {
	Name string
	Run  RunFunc
	App  Sender

	// Throws classifies an error returned by Run as "expected, not
	// exceptional": such errors are published as task_done, not
	// task_exception.
	Throws func(error) bool

	// Expires, if non-nil, is the default expiry deadline (absolute
	// Unix epoch seconds) applied when a request doesn't set its own.
	Expires *float64

	// TimeLimit is the default time_limit applied when a request
	// doesn't set its own.
	TimeLimit *time.Duration

	MaxRetries        int
	DefaultRetryDelay time.Duration

	// AutoretryFor is reserved for future use.
	AutoretryFor []func(error) bool
}

// NewInvocation materializes a fresh task instance from a wire request:
// the request map itself becomes the invocation's headers, exactly as
// broccoli.task.Task.__init__ does (self.__dict__ = request).
func (c *Class) NewInvocation(req types.Request, args types.Args, kwargs types.Kwargs) *Invocation {
	return &Invocation{
		Class:   c,
		Request: req,
		Args:    args,
		Kwargs:  kwargs,
	}
}

// Delay is syntactic sugar: send this task via the application and wrap
// the returned id in a Result.
func (c *Class) Delay(args types.Args, kwargs types.Kwargs, request types.Request) (*Result, error) {
	if request == nil {
		request = types.Request{}
	}
	taskID, err := c.App.SendTask(c.Name, args, kwargs, request.Queue(), request)
	if err != nil {
		return nil, err
	}
	return &Result{app: c.App, taskID: taskID}, nil
}

// Invocation is a per-request activation record: attributes are the
// request map itself (task.ID, task.Queue, and any headers are
// first-class), plus the args/kwargs it was dispatched with.
type Invocation struct {
	Class   *Class
	Request types.Request
	Args    types.Args
	Kwargs  types.Kwargs
}

func (t *Invocation) ID() types.TaskID       { return t.Request.ID() }
func (t *Invocation) Queue() types.QueueName { return t.Request.Queue() }

// Expires resolves the task's effective expiry deadline: the request's
// own "expires" header if set, else the class default.
func (t *Invocation) Expires() (float64, bool) {
	if v, ok := t.Request.Expires(); ok {
		return v, true
	}
	if t.Class.Expires != nil {
		return *t.Class.Expires, true
	}
	return 0, false
}

// TimeLimit resolves the task's effective time limit the same way.
func (t *Invocation) TimeLimit() (time.Duration, bool) {
	if v, ok := t.Request.TimeLimit(); ok {
		return v, true
	}
	if t.Class.TimeLimit != nil {
		return *t.Class.TimeLimit, true
	}
	return 0, false
}

// Throws reports whether err is expected, not exceptional, for this
// task.
func (t *Invocation) Throws(err error) bool {
	return t.Class.Throws != nil && t.Class.Throws(err)
}

// Run invokes the user task body.
func (t *Invocation) Run(ctx context.Context) (interface{}, error) {
	return t.Class.Run(ctx, t)
}

// Result is a waitable handle to a task's eventual outcome, returned by
// Delay.
type Result struct {
	app    Sender
	taskID types.TaskID
}

func (r *Result) TaskID() types.TaskID { return r.taskID }

// Wait blocks (up to timeout, 0 meaning indefinitely) for the task's
// result. If raiseException is true and the task raised, Wait returns
// that error; otherwise the error value is returned as the result
// itself, matching app.get_result's raise_exception flag.
func (r *Result) Wait(ctx context.Context, timeout time.Duration, raiseException bool) (interface{}, error) {
	return r.app.GetResult(ctx, r.taskID, timeout, raiseException)
}
