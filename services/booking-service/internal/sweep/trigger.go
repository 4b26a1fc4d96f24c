package sweep

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is the work a trigger fires. now is the trigger's clock reading.
type Task func(ctx context.Context, now time.Time) error

// Serialize returns a Task that never runs concurrently with itself, so
// several triggers can share one task.
func Serialize(task Task) Task {
	var mu sync.Mutex
	return func(ctx context.Context, now time.Time) error {
		mu.Lock()
		defer mu.Unlock()
		return task(ctx, now)
	}
}

// IntervalTrigger fires its task on every tick.
type IntervalTrigger struct {
	name   string
	every  time.Duration
	clock  Clock
	task   Task
	logger *slog.Logger
}

type IntervalConfig struct {
	Name  string
	Every time.Duration
	Clock Clock
}

func NewIntervalTrigger(task Task, logger *slog.Logger, cfg IntervalConfig) *IntervalTrigger {
	if cfg.Every <= 0 {
		cfg.Every = 5 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.Name == "" {
		cfg.Name = "interval"
	}
	return &IntervalTrigger{name: cfg.Name, every: cfg.Every, clock: cfg.Clock, task: task, logger: logger}
}

// Run blocks until ctx is cancelled.
func (t *IntervalTrigger) Run(ctx context.Context) {
	ticker := t.clock.NewTicker(t.every)
	defer ticker.Stop()
	t.logger.Info("sweep trigger started", "trigger", t.name, "every", t.every.String())

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("sweep trigger stopped", "trigger", t.name)
			return
		case <-ticker.C():
			fire(ctx, t.logger, t.name, t.task, t.clock.Now())
		}
	}
}

// DailyTrigger polls on a short interval and fires its task once per
// calendar day, on the first poll at or after the configured time of day.
type DailyTrigger struct {
	name    string
	poll    time.Duration
	hour    int
	minute  int
	loc     *time.Location
	clock   Clock
	task    Task
	logger  *slog.Logger
	lastDay string
}

type DailyConfig struct {
	Name   string
	Poll   time.Duration
	Hour   int
	Minute int
	// Location defines the calendar day. Defaults to UTC.
	Location *time.Location
	Clock    Clock
}

func NewDailyTrigger(task Task, logger *slog.Logger, cfg DailyConfig) *DailyTrigger {
	if cfg.Poll <= 0 {
		cfg.Poll = 30 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.Name == "" {
		cfg.Name = "daily"
	}
	return &DailyTrigger{
		name:   cfg.Name,
		poll:   cfg.Poll,
		hour:   cfg.Hour,
		minute: cfg.Minute,
		loc:    cfg.Location,
		clock:  cfg.Clock,
		task:   task,
		logger: logger,
	}
}

func (t *DailyTrigger) Run(ctx context.Context) {
	ticker := t.clock.NewTicker(t.poll)
	defer ticker.Stop()
	t.logger.Info("sweep trigger started", "trigger", t.name, "poll", t.poll.String(),
		"at", time.Date(0, 1, 1, t.hour, t.minute, 0, 0, time.UTC).Format("15:04"))

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("sweep trigger stopped", "trigger", t.name)
			return
		case <-ticker.C():
			t.tick(ctx, t.clock.Now())
		}
	}
}

// tick fires the task if now is past today's gate and today has not run yet.
// It reports whether the task was fired.
func (t *DailyTrigger) tick(ctx context.Context, now time.Time) bool {
	local := now.In(t.loc)
	y, m, d := local.Date()
	gate := time.Date(y, m, d, t.hour, t.minute, 0, 0, t.loc)
	day := local.Format(time.DateOnly)
	if local.Before(gate) || t.lastDay == day {
		return false
	}
	t.lastDay = day
	fire(ctx, t.logger, t.name, t.task, now)
	return true
}

func fire(ctx context.Context, logger *slog.Logger, name string, task Task, now time.Time) {
	if err := task(ctx, now); err != nil {
		logger.Error("sweep failed", "trigger", name, "err", err)
	}
}
