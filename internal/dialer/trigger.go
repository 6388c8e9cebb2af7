package dialer

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dialer-cli/internal/config"
)

// JobKind names a deferred pipeline job.
type JobKind string

const (
	JobPopulate JobKind = "populate"
	JobSend     JobKind = "send"
)

// Job is a pipeline phase scheduled to run at RunAt for TaskDate.
type Job struct {
	Kind     JobKind   `json:"kind"`
	TaskDate time.Time `json:"task_date"`
	RunAt    time.Time `json:"run_at"`
}

// ID is stable per kind and task date, so scheduling the same job twice is
// a no-op for schedulers that dedupe on it.
func (j Job) ID() string {
	return fmt.Sprintf("dialer-%s-%s", j.Kind, j.TaskDate.Format("2006-01-02"))
}

// Plan is the set of jobs a trigger scheduled for one day.
type Plan struct {
	TaskDate time.Time `json:"task_date"`
	Jobs     []Job     `json:"jobs"`
}

// Scheduler defers a job until its RunAt time.
type Scheduler interface {
	Schedule(ctx context.Context, job Job) error
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a 5-field cron expression or descriptor such as @daily.
func ParseCron(spec string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, eris.Wrapf(err, "dialer: parse cron %q", spec)
	}
	return sched, nil
}

// NextToday returns the next activation of spec strictly after now, provided
// it falls on the same calendar day as now in loc.
func NextToday(spec string, now time.Time, loc *time.Location) (time.Time, bool, error) {
	sched, err := ParseCron(spec)
	if err != nil {
		return time.Time{}, false, err
	}
	local := now.In(loc)
	next := sched.Next(local)
	if next.IsZero() || !sameDay(next, local) {
		return time.Time{}, false, nil
	}
	return next, true, nil
}

// BuildPlan computes today's populate and send jobs from settings.
func BuildPlan(s Settings, now time.Time, loc *time.Location) (*Plan, error) {
	today := startOfDay(now.In(loc))
	plan := &Plan{TaskDate: today}
	if !s.Active {
		return plan, nil
	}

	for _, entry := range []struct {
		kind JobKind
		spec string
	}{
		{JobPopulate, s.PopulateCron},
		{JobSend, s.SendCron},
	} {
		if entry.spec == "" {
			continue
		}
		at, ok, err := NextToday(entry.spec, now, loc)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		plan.Jobs = append(plan.Jobs, Job{Kind: entry.kind, TaskDate: today, RunAt: at})
	}
	return plan, nil
}

// Trigger schedules the day's populate and send jobs.
type Trigger struct {
	features FeatureReader
	cfg      config.DialerConfig
	sched    Scheduler
	loc      *time.Location
	now      func() time.Time
}

// NewTrigger creates a trigger that reads the feature setting from fr.
func NewTrigger(fr FeatureReader, cfg config.DialerConfig, sched Scheduler) (*Trigger, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return &Trigger{
		features: fr,
		cfg:      cfg,
		sched:    sched,
		loc:      loc,
		now:      time.Now,
	}, nil
}

// Fire builds today's plan and hands every job to the scheduler.
func (t *Trigger) Fire(ctx context.Context) (*Plan, error) {
	settings, err := LoadSettings(ctx, t.features, t.cfg)
	if err != nil {
		return nil, err
	}
	if !settings.Active {
		zap.L().Info("dialer: feature inactive, nothing scheduled",
			zap.String("feature", t.cfg.FeatureName))
	}

	plan, err := BuildPlan(settings, t.now(), t.loc)
	if err != nil {
		return nil, err
	}

	for _, job := range plan.Jobs {
		if err := t.sched.Schedule(ctx, job); err != nil {
			return plan, eris.Wrapf(err, "dialer: schedule %s", job.ID())
		}
		zap.L().Info("dialer: job scheduled",
			zap.String("job", job.ID()),
			zap.Time("run_at", job.RunAt),
		)
	}
	return plan, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
