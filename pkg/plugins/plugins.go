// Package plugins implements the master-side plugin surfaces, grounded
// in original_source/broccoli/plugins.py's Logging, TaskKiller, and
// CronBeat classes.
package plugins

import "time"

// Worker is the subset of a running worker goroutine a plugin handler
// may act on. pkg/worker's worker handle satisfies this structurally,
// avoiding an import of pkg/worker here (it imports pkg/plugins, not
// the reverse).
type Worker interface {
	// ID identifies the worker for log lines, standing in for the
	// original's child PID.
	ID() int
	// Interrupt cancels whatever task the worker is currently running,
	// the goroutine-cancellation analogue of signaling SIGUSR1 to a
	// specific child PID. A no-op if no task is running.
	Interrupt()
}

// HandlerFunc processes one master-side event, raised by the given
// worker, carrying event-specific fields.
type HandlerFunc func(w Worker, fields map[string]interface{})

// Plugin contributes master-side event handlers merged into the
// supervisor's dispatch table. If multiple plugins register the same
// event, all handlers run in registration order.
type Plugin interface {
	RegisterMasterHandlers() map[string]HandlerFunc
}

// IdlePlugin additionally participates in the supervisor's idle loop.
// MasterIdle is called every iteration; ok is false when the plugin has
// nothing scheduled. The supervisor waits on the minimum of every
// plugin's non-absent return.
type IdlePlugin interface {
	Plugin
	MasterIdle(now time.Time) (d time.Duration, ok bool)
}

// MergeIdle combines the master_idle return of every IdlePlugin among
// plugins into the single minimum non-absent duration the supervisor
// should wait, exactly as Prefork.master_idle's make_run does.
func MergeIdle(plugins []Plugin, now time.Time) (time.Duration, bool) {
	var min time.Duration
	found := false
	for _, p := range plugins {
		ip, ok := p.(IdlePlugin)
		if !ok {
			continue
		}
		d, ok := ip.MasterIdle(now)
		if !ok {
			continue
		}
		if !found || d < min {
			min = d
			found = true
		}
	}
	return min, found
}

// MergeHandlers merges every plugin's RegisterMasterHandlers into a
// single dispatch table, preserving registration order per event.
func MergeHandlers(plugins []Plugin) map[string][]HandlerFunc {
	merged := map[string][]HandlerFunc{}
	for _, p := range plugins {
		for event, h := range p.RegisterMasterHandlers() {
			merged[event] = append(merged[event], h)
		}
	}
	return merged
}
