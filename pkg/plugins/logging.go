package plugins

import (
	"github.com/broqueue/broqueue/pkg/logger"
)

// LoggingPlugin logs worker lifecycle events, gated by the logger's
// level exactly as broccoli.plugins.Logging gates on logging.Logger's
// level: error-and-above events at Error, info-and-above additionally
// at Info, and task_expires additionally at Debug.
type LoggingPlugin struct {
	Logger *logger.Logger
}

// NewLoggingPlugin builds a LoggingPlugin over l.
func NewLoggingPlugin(l *logger.Logger) *LoggingPlugin {
	return &LoggingPlugin{Logger: l}
}

func (p *LoggingPlugin) RegisterMasterHandlers() map[string]HandlerFunc {
	ret := map[string]HandlerFunc{}
	level := p.Logger.Level()

	if level <= logger.LevelError {
		ret["task_exception"] = p.onTaskException
		ret["task_unknown"] = p.onTaskUnknown
		ret["worker_error"] = p.onWorkerError
		ret["broker_error"] = p.onBrokerError
	}

	if level <= logger.LevelInfo {
		ret["worker_start"] = p.onWorkerStart
		ret["task_start"] = p.onTaskStart
		ret["task_done"] = p.onTaskDone
		ret["task_interrupt"] = p.onTaskInterrupt
	}

	if level <= logger.LevelDebug {
		ret["task_expires"] = p.onTaskExpires
	}

	return ret
}

func (p *LoggingPlugin) onWorkerStart(w Worker, fields map[string]interface{}) {
	p.Logger.Info("worker process started", map[string]interface{}{"worker": w.ID()})
}

func (p *LoggingPlugin) onTaskStart(w Worker, fields map[string]interface{}) {
	p.Logger.Info("received task", map[string]interface{}{
		"worker":    w.ID(),
		"task_name": fields["task_name"],
		"task_id":   fields["task_id"],
	})
}

func (p *LoggingPlugin) onTaskDone(w Worker, fields map[string]interface{}) {
	p.Logger.Info("task succeeded", map[string]interface{}{
		"worker":      w.ID(),
		"task_name":   fields["task_name"],
		"task_id":     fields["task_id"],
		"running_time": fields["running_time"],
	})
}

func (p *LoggingPlugin) onTaskInterrupt(w Worker, fields map[string]interface{}) {
	p.Logger.Info("task killed", map[string]interface{}{
		"worker":       w.ID(),
		"task_name":    fields["task_name"],
		"task_id":      fields["task_id"],
		"running_time": fields["running_time"],
	})
}

func (p *LoggingPlugin) onTaskExpires(w Worker, fields map[string]interface{}) {
	p.Logger.Debug("task expired", map[string]interface{}{
		"worker":    w.ID(),
		"task_name": fields["task_name"],
		"task_id":   fields["task_id"],
	})
}

func (p *LoggingPlugin) onTaskUnknown(w Worker, fields map[string]interface{}) {
	p.Logger.Error("received unregistered task", map[string]interface{}{
		"worker":    w.ID(),
		"task_name": fields["task_name"],
	})
}

func (p *LoggingPlugin) onTaskException(w Worker, fields map[string]interface{}) {
	p.Logger.Error("task raised an exception", map[string]interface{}{
		"worker":       w.ID(),
		"task_name":    fields["task_name"],
		"task_id":      fields["task_id"],
		"error":        fields["exc"],
		"running_time": fields["running_time"],
	})
}

func (p *LoggingPlugin) onBrokerError(w Worker, fields map[string]interface{}) {
	p.Logger.Error("broker error", map[string]interface{}{"worker": w.ID()})
}

func (p *LoggingPlugin) onWorkerError(w Worker, fields map[string]interface{}) {
	p.Logger.Error("worker raised an unexpected error", map[string]interface{}{
		"worker": w.ID(),
		"error":  fields["exc"],
	})
}
