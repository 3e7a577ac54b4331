package plugins

import (
	"errors"
	"testing"
	"time"

	"github.com/broqueue/broqueue/pkg/errs"
	"github.com/broqueue/broqueue/pkg/logger"
	"github.com/broqueue/broqueue/pkg/types"
)

type fakeWorker struct {
	id          int
	interrupted bool
}

func (w *fakeWorker) ID() int      { return w.id }
func (w *fakeWorker) Interrupt()   { w.interrupted = true }

func TestLoggingPluginGatesByLevel(t *testing.T) {
	l := logger.Default()
	l.SetLevel(logger.LevelError)
	p := NewLoggingPlugin(l)
	handlers := p.RegisterMasterHandlers()

	if _, ok := handlers["task_exception"]; !ok {
		t.Error("expected task_exception handler at error level")
	}
	if _, ok := handlers["task_start"]; ok {
		t.Error("did not expect task_start handler at error level")
	}

	l.SetLevel(logger.LevelDebug)
	handlers = p.RegisterMasterHandlers()
	for _, name := range []string{"task_exception", "task_start", "task_expires"} {
		if _, ok := handlers[name]; !ok {
			t.Errorf("expected %s handler at debug level", name)
		}
	}
}

func TestTaskKillerInterruptsPastDeadline(t *testing.T) {
	p := NewTaskKillerPlugin(logger.Default())
	w := &fakeWorker{id: 1}
	start := time.Now()

	handlers := p.RegisterMasterHandlers()
	handlers["task_start"](w, map[string]interface{}{
		"task_id":    types.TaskID("abc"),
		"time_limit": 10 * time.Millisecond,
		"start_time": start,
	})

	d, ok := p.MasterIdle(start)
	if !ok || d <= 0 {
		t.Fatalf("expected a pending deadline, got %v %v", d, ok)
	}
	if w.interrupted {
		t.Fatal("should not interrupt before the deadline")
	}

	if _, ok := p.MasterIdle(start.Add(20 * time.Millisecond)); ok {
		t.Fatal("expected no further pending deadlines after draining")
	}
	if !w.interrupted {
		t.Fatal("expected the worker to be interrupted past its deadline")
	}
}

func TestTaskKillerSkipsCompletedTasks(t *testing.T) {
	p := NewTaskKillerPlugin(logger.Default())
	w := &fakeWorker{id: 1}
	start := time.Now()

	handlers := p.RegisterMasterHandlers()
	handlers["task_start"](w, map[string]interface{}{
		"task_id":    types.TaskID("abc"),
		"time_limit": 10 * time.Millisecond,
		"start_time": start,
	})
	handlers["task_done"](w, map[string]interface{}{"task_id": types.TaskID("abc")})

	p.MasterIdle(start.Add(20 * time.Millisecond))
	if w.interrupted {
		t.Fatal("a task that already finished must not be interrupted")
	}
}

func TestTaskKillerIgnoresTasksWithoutTimeLimit(t *testing.T) {
	p := NewTaskKillerPlugin(logger.Default())
	w := &fakeWorker{id: 1}

	handlers := p.RegisterMasterHandlers()
	handlers["task_start"](w, map[string]interface{}{"task_id": types.TaskID("abc")})

	if _, ok := p.MasterIdle(time.Now()); ok {
		t.Fatal("expected nothing scheduled for a task without a time limit")
	}
}

type stubSender struct {
	sent []string
	err  error
}

func (s *stubSender) SendTask(taskName string, args types.Args, kwargs types.Kwargs, queue types.QueueName, request types.Request) (types.TaskID, error) {
	if s.err != nil {
		return "", s.err
	}
	s.sent = append(s.sent, taskName)
	return "id", nil
}

func TestBeatPluginFiresOnSchedule(t *testing.T) {
	sender := &stubSender{}
	rules := map[string]ScheduleRule{
		"ping": {Task: "t.ping", Schedule: CrontabSpec{Minute: "*", Hour: "*", DayOfMonth: "*", MonthOfYear: "*", DayOfWeek: "*"}},
	}
	p, err := NewBeatPlugin(sender, logger.Default(), time.Second, rules)
	if err != nil {
		t.Fatalf("NewBeatPlugin: %v", err)
	}

	now := time.Now().Add(2 * time.Minute)
	if _, ok := p.MasterIdle(now); !ok {
		t.Fatal("expected the beat plugin to still have work scheduled")
	}
	if len(sender.sent) == 0 {
		t.Fatal("expected at least one task to be sent within two minutes of minute-granularity firings")
	}
}

func TestBeatPluginRetriesOnBrokerError(t *testing.T) {
	sender := &stubSender{err: &errs.BrokerError{Op: "send_task", Err: errors.New("down")}}
	rules := map[string]ScheduleRule{
		"ping": {Task: "t.ping", Schedule: CrontabSpec{Minute: "*", Hour: "*", DayOfMonth: "*", MonthOfYear: "*", DayOfWeek: "*"}},
	}
	p, err := NewBeatPlugin(sender, logger.Default(), 5*time.Second, rules)
	if err != nil {
		t.Fatalf("NewBeatPlugin: %v", err)
	}

	now := time.Now().Add(2 * time.Minute)
	d, ok := p.MasterIdle(now)
	if !ok {
		t.Fatal("expected a retry timeout, not an empty schedule")
	}
	if d != 5*time.Second {
		t.Fatalf("expected the retry timeout of 5s, got %v", d)
	}
	if len(sender.sent) != 0 {
		t.Fatal("a BrokerError must not consume the schedule entry")
	}
}

func TestBeatPluginRejectsRuleWithoutTask(t *testing.T) {
	rules := map[string]ScheduleRule{
		"bad": {Schedule: CrontabSpec{Minute: "*"}},
	}
	if _, err := NewBeatPlugin(&stubSender{}, logger.Default(), time.Second, rules); err == nil {
		t.Fatal("expected an error for a rule missing its task")
	}
}
