package plugins

import (
	"container/heap"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/broqueue/broqueue/pkg/errs"
	"github.com/broqueue/broqueue/pkg/logger"
	"github.com/broqueue/broqueue/pkg/schedule"
	"github.com/broqueue/broqueue/pkg/types"
	yaml "go.yaml.in/yaml/v2"
)

// Sender is the subset of the Application façade BeatPlugin needs to
// enqueue scheduled tasks. Kept local (rather than importing pkg/app)
// for the same reason pkg/task.Sender is: Application already satisfies
// it structurally.
type Sender interface {
	SendTask(taskName string, args types.Args, kwargs types.Kwargs, queue types.QueueName, request types.Request) (types.TaskID, error)
}

// CrontabSpec is the YAML shape of one rule's schedule field.
type CrontabSpec struct {
	Minute      string `yaml:"minute"`
	Hour        string `yaml:"hour"`
	DayOfMonth  string `yaml:"day_of_month"`
	MonthOfYear string `yaml:"month_of_year"`
	DayOfWeek   string `yaml:"day_of_week"`
}

// ScheduleRule is one entry of a schedule.yaml file: the task to send,
// its crontab, and the args/kwargs to send it with. This is the
// idiomatic-Go, safe replacement for original_source/broccoli/
// plugins.py's CronBeat.heap, which eval()'s a Python schedule file;
// schedule.yaml is data, not code.
type ScheduleRule struct {
	Task     string                 `yaml:"task"`
	Schedule CrontabSpec            `yaml:"schedule"`
	Args     []interface{}          `yaml:"args"`
	Kwargs   map[string]interface{} `yaml:"kwargs"`
}

// LoadScheduleFile parses a schedule.yaml file into its named rules.
func LoadScheduleFile(path string) (map[string]ScheduleRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.LoadObjectError{What: path, Err: err}
	}
	var rules map[string]ScheduleRule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, &errs.LoadObjectError{What: path, Err: err}
	}
	return rules, nil
}

type beatEntry struct {
	nextFire time.Time
	seq      *schedule.Sequence
	key      string
	rule     ScheduleRule
}

type beatHeap []beatEntry

func (h beatHeap) Len() int            { return len(h) }
func (h beatHeap) Less(i, j int) bool  { return h[i].nextFire.Before(h[j].nextFire) }
func (h beatHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *beatHeap) Push(x interface{}) { *h = append(*h, x.(beatEntry)) }
func (h *beatHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// BeatPlugin periodically enqueues tasks per a set of cron schedules,
// grounded in original_source/broccoli/plugins.py's CronBeat.
type BeatPlugin struct {
	App          Sender
	Logger       *logger.Logger
	ErrorTimeout time.Duration

	heap    beatHeap
	nextRun time.Time
}

// NewBeatPlugin builds a BeatPlugin over rules, each started from now.
func NewBeatPlugin(app Sender, l *logger.Logger, errorTimeout time.Duration, rules map[string]ScheduleRule) (*BeatPlugin, error) {
	p := &BeatPlugin{App: app, Logger: l, ErrorTimeout: errorTimeout}
	now := time.Now()
	for key, rule := range rules {
		if rule.Task == "" {
			return nil, fmt.Errorf("plugins: schedule rule %q is missing a task", key)
		}
		c, err := schedule.New(rule.Schedule.Minute, rule.Schedule.Hour,
			rule.Schedule.DayOfMonth, rule.Schedule.MonthOfYear, rule.Schedule.DayOfWeek)
		if err != nil {
			return nil, fmt.Errorf("plugins: schedule rule %q: %w", key, err)
		}
		seq := c.Start(now)
		heap.Push(&p.heap, beatEntry{nextFire: seq.Next(), seq: seq, key: key, rule: rule})
	}
	return p, nil
}

func (p *BeatPlugin) RegisterMasterHandlers() map[string]HandlerFunc {
	return nil
}

// MasterIdle drains every due entry, sending its task and rescheduling
// it from its generator. A BrokerError aborts the drain for this tick
// without consuming any entry, matching CronBeat.master_idle.
func (p *BeatPlugin) MasterIdle(now time.Time) (time.Duration, bool) {
	if len(p.heap) == 0 {
		return 0, false
	}
	if !p.nextRun.IsZero() && p.nextRun.After(now) {
		return p.nextRun.Sub(now), true
	}

	for len(p.heap) > 0 && !p.heap[0].nextFire.After(now) {
		e := p.heap[0]
		_, err := p.App.SendTask(e.rule.Task, types.Args(e.rule.Args), types.Kwargs(e.rule.Kwargs), "", nil)
		if err != nil {
			var brokerErr *errs.BrokerError
			if errors.As(err, &brokerErr) {
				if p.Logger != nil {
					p.Logger.Error("beat: can't send task, will retry", map[string]interface{}{
						"task": e.rule.Task, "retry_in": p.ErrorTimeout,
					})
				}
				p.nextRun = now.Add(p.ErrorTimeout)
				return p.ErrorTimeout, true
			}
			return 0, false
		}

		if p.Logger != nil {
			p.Logger.Debug("beat: task sent", map[string]interface{}{"task": e.rule.Task})
		}
		heap.Pop(&p.heap)
		e.nextFire = e.seq.Next()
		heap.Push(&p.heap, e)
	}

	if len(p.heap) == 0 {
		return 0, false
	}
	p.nextRun = p.heap[0].nextFire
	return p.nextRun.Sub(now), true
}
