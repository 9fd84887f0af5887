package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/harrisonrobin/dayblock/pkg/config"
	"github.com/harrisonrobin/dayblock/pkg/logx"
)

// BuildFunc turns a configuration into jobs. The returned release func, if
// any, is called once the jobs are no longer scheduled.
type BuildFunc func(ctx context.Context, cfg *config.Config) (jobs []Job, release func() error, err error)

type Daemon struct {
	path  string
	build BuildFunc
	logs  *logx.Service
	log   logx.Logger
	sched *Scheduler

	mu      sync.Mutex
	release func() error
}

// New returns a daemon for the config file at path. logs may be nil; when
// set, reloaded log settings are applied to it.
func New(path string, build BuildFunc, logs *logx.Service, log logx.Logger) *Daemon {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("component", "daemon"))
	return &Daemon{path: path, build: build, logs: logs, log: log, sched: NewScheduler(log)}
}

// Run schedules the configured jobs and reschedules them whenever the config
// file changes. It returns when ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.load(ctx); err != nil {
		return err
	}
	defer d.shutdown()

	if err := os.MkdirAll(filepath.Dir(d.path), 0700); err != nil {
		return err
	}
	reload := make(chan struct{}, 1)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- WatchFile(ctx, d.path, reloadDebounce, d.log, func() {
			select {
			case reload <- struct{}{}:
			default:
			}
		})
	}()

	d.log.Info("daemon running", logx.String("config", d.path))
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-watchErr:
			if err != nil {
				d.log.Warn("config watcher stopped; changes need a restart", logx.Err(err))
			}
			watchErr = nil
		case <-reload:
			if err := d.load(ctx); err != nil {
				d.log.Error("reload failed, keeping previous jobs", logx.Err(err))
				continue
			}
			d.log.Info("config reloaded")
		}
	}
}

func (d *Daemon) load(ctx context.Context) error {
	cfg, err := config.LoadFile(d.path)
	if err != nil {
		return err
	}
	jobs, release, err := d.build(ctx, cfg)
	if err != nil {
		return err
	}
	if err := d.sched.Validate(jobs); err != nil {
		if release != nil {
			_ = release()
		}
		return err
	}
	if d.logs != nil {
		d.logs.Apply(cfg.Log)
	}
	if err := d.sched.Start(ctx, cfg.Location(), jobs); err != nil {
		if release != nil {
			_ = release()
		}
		return err
	}

	d.mu.Lock()
	prev := d.release
	d.release = release
	d.mu.Unlock()
	if prev != nil {
		if err := prev(); err != nil {
			d.log.Warn("release previous jobs failed", logx.Err(err))
		}
	}
	return nil
}

func (d *Daemon) shutdown() {
	d.sched.Stop()
	d.mu.Lock()
	release := d.release
	d.release = nil
	d.mu.Unlock()
	if release != nil {
		if err := release(); err != nil && !errors.Is(err, os.ErrClosed) {
			d.log.Warn("release jobs failed", logx.Err(err))
		}
	}
}

// Scheduler exposes the job scheduler, mostly for status output.
func (d *Daemon) Scheduler() *Scheduler { return d.sched }
