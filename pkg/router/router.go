// Package router maps a task name to a queue name. Pure, no I/O, no
// failure modes.
package router

import "github.com/broqueue/broqueue/pkg/types"

const defaultQueueName types.QueueName = "default"

// Router resolves which queue a task should be enqueued on.
type Router interface {
	GetQueue(taskName string) types.QueueName
}

// StaticRouter is the reference Router: a static task_name -> queue_name
// table with a configured default (literal "default" unless overridden).
type StaticRouter struct {
	routes       map[string]types.QueueName
	defaultQueue types.QueueName
}

// New builds a StaticRouter. routes may be nil. An empty defaultQueue
// falls back to the literal "default".
func New(routes map[string]types.QueueName, defaultQueue types.QueueName) *StaticRouter {
	if defaultQueue == "" {
		defaultQueue = defaultQueueName
	}
	if routes == nil {
		routes = map[string]types.QueueName{}
	}
	return &StaticRouter{routes: routes, defaultQueue: defaultQueue}
}

func (r *StaticRouter) GetQueue(taskName string) types.QueueName {
	if q, ok := r.routes[taskName]; ok {
		return q
	}
	return r.defaultQueue
}
