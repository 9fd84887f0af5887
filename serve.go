package main

import (
	"context"
	"time"

	"github.com/harrisonrobin/dayblock/pkg/config"
	"github.com/harrisonrobin/dayblock/pkg/daemon"
	"github.com/harrisonrobin/dayblock/pkg/logx"
	"github.com/harrisonrobin/dayblock/pkg/overdue"
)

func runServe(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlags("serve", env)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.LoadFile(env.configPath)
	if err != nil {
		return err
	}
	logs, log := logx.New(cfg.Log)
	defer logs.Close()

	d := daemon.New(env.configPath, jobBuilder(env, log), logs, log)
	return d.Run(ctx)
}

// jobBuilder opens a fresh app per configuration and turns it into the
// plan, sync and sweep jobs.
func jobBuilder(env *cmdEnv, log logx.Logger) daemon.BuildFunc {
	return func(ctx context.Context, cfg *config.Config) ([]daemon.Job, func() error, error) {
		a, err := newAppWithLogger(env.configPath, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		if env.user != "" {
			a.user = env.user
		}
		loc, err := a.days.Location(ctx, a.user)
		if err != nil {
			a.Close()
			return nil, nil, err
		}
		denv := daemon.Env{UserID: a.user, Location: loc, Log: log}

		autoConfirm := cfg.Planning.AutoConfirm
		pl := a.planner(nil)
		if autoConfirm {
			cal, err := a.calendar(ctx)
			if err != nil {
				log.Warn("auto-confirm disabled: calendar unavailable", logx.Err(err))
				autoConfirm = false
			} else {
				pl = a.planner(cal)
			}
		}

		jobs := []daemon.Job{
			daemon.PlanJob(cfg.Schedule.Plan, denv, pl, autoConfirm),
			daemon.SyncJob(cfg.Schedule.Sync, denv, a.syncer(ctx), cfg.HorizonDays),
			daemon.SweepJob(cfg.Schedule.Sweep, denv, sweepFunc(a.sweep)),
		}
		return jobs, a.Close, nil
	}
}

type sweepFunc func(ctx context.Context, now time.Time) (overdue.SweepResult, error)

func (f sweepFunc) Run(ctx context.Context, now time.Time) (overdue.SweepResult, error) {
	return f(ctx, now)
}
