package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"streamcheck/pkg/logx"
)

// runScheduled drives the pipeline from a cron schedule until the context
// is cancelled. Runs never overlap: a tick that fires while the previous
// run is still going is skipped.
func (a *App) runScheduled(ctx context.Context) error {
	loc := time.Local
	if tz := a.cfg.Schedule.Timezone; tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("schedule timezone: %w", err)
		}
		loc = l
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(a.cfg.Schedule.Spec); err != nil {
		return fmt.Errorf("schedule spec %q: %w", a.cfg.Schedule.Spec, err)
	}

	running := make(chan struct{}, 1)
	c := cron.New(cron.WithParser(parser), cron.WithLocation(loc))
	_, err := c.AddFunc(a.cfg.Schedule.Spec, func() {
		select {
		case running <- struct{}{}:
		default:
			a.log.Warn("previous run still in progress, skipping tick")
			return
		}
		defer func() { <-running }()

		if err := a.RunOnce(ctx); err != nil {
			a.log.Error("scheduled run failed", logx.Err(err))
		}
	})
	if err != nil {
		return err
	}

	// First pass immediately; the schedule covers subsequent runs.
	if err := a.RunOnce(ctx); err != nil {
		a.log.Error("initial run failed", logx.Err(err))
	}

	c.Start()
	a.log.Info("schedule mode started",
		logx.String("spec", a.cfg.Schedule.Spec), logx.String("tz", loc.String()))

	<-ctx.Done()
	stopCtx := c.Stop()
	// Let an in-flight run's cron wrapper return before exiting.
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
	}
	return nil
}
