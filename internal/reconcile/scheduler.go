package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultSchedule runs the sweep every five minutes.
const DefaultSchedule = "*/5 * * * *"

// Runner is one reconciliation pass.
type Runner interface {
	Sweep(ctx context.Context) (Report, error)
}

// Scheduler runs a Runner on a cron schedule. A pass that is still running
// when the next one is due causes that one to be skipped, and a panicking
// pass is logged and does not stop the schedule.
type Scheduler struct {
	runner   Runner
	schedule string
	clock    clockwork.Clock
	logger   logrus.FieldLogger
	cron     *cron.Cron
}

// NewScheduler validates schedule and builds a stopped scheduler.
func NewScheduler(runner Runner, schedule string, logger logrus.FieldLogger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("reconcile schedule %q: %w", schedule, err)
	}

	logger = logger.WithField("component", "reconcile")
	cronLogger := newCronLogger(logger, logrus.DebugLevel)
	return &Scheduler{
		runner:   runner,
		schedule: schedule,
		clock:    clockwork.NewRealClock(),
		logger:   logger,
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger), cron.Recover(cronLogger)),
		),
	}, nil
}

// Run starts the schedule and blocks until ctx is cancelled, then waits for
// a running pass to return.
func (s *Scheduler) Run(ctx context.Context) error {
	id, err := s.cron.AddFunc(s.schedule, func() { s.runOnce(ctx) })
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"entry_id": id,
		"schedule": s.schedule,
	}).Info("sweep scheduled")

	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.cron.Remove(id)
	return nil
}

// Next reports when the schedule fires after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	sched, err := cron.ParseStandard(s.schedule)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(t)
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	started := s.clock.Now()
	report, err := s.runner.Sweep(ctx)

	logger := s.logger.WithField("took", s.clock.Since(started))
	if err != nil {
		logger.WithError(err).Error("scheduled sweep failed")
		return
	}
	logger.WithFields(report.Fields()).Debug("scheduled sweep finished")
}

// cronLogger routes cron's own logging into logrus. Info messages go out at
// infoLevel so routine scheduling chatter can be demoted.
type cronLogger struct {
	logger    logrus.FieldLogger
	infoLevel logrus.Level
}

func newCronLogger(logger logrus.FieldLogger, infoLevel logrus.Level) cron.Logger {
	return cronLogger{logger: logger, infoLevel: infoLevel}
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	entry := l.logger.WithFields(kvFields(keysAndValues))
	if l.infoLevel == logrus.DebugLevel {
		entry.Debug(msg)
		return
	}
	entry.Info(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.WithFields(kvFields(keysAndValues)).WithError(err).Error(msg)
}

func kvFields(keysAndValues []any) logrus.Fields {
	fields := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
