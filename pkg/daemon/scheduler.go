// Package daemon runs dayblock's periodic jobs and reloads them when the
// configuration file changes.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/harrisonrobin/dayblock/pkg/logx"
)

const defaultJobTimeout = 5 * time.Minute

// Job is a named cron job. Spec is a cron expression; empty disables the job.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type Scheduler struct {
	parser cron.Parser
	log    logx.Logger

	mu      sync.Mutex
	c       *cron.Cron
	entries map[string]cron.EntryID
}

func NewScheduler(log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		log:    log.With(logx.String("component", "scheduler")),
	}
}

// Validate parses every enabled job's schedule without scheduling anything.
func (s *Scheduler) Validate(jobs []Job) error {
	var errs []error
	for _, j := range jobs {
		if strings.TrimSpace(j.Spec) == "" {
			continue
		}
		if _, err := s.parser.Parse(j.Spec); err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", j.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Start (re)schedules jobs in loc. A running cron is stopped first, waiting
// for in-flight jobs.
func (s *Scheduler) Start(ctx context.Context, loc *time.Location, jobs []Job) error {
	if err := s.Validate(jobs); err != nil {
		return err
	}
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	entries := make(map[string]cron.EntryID, len(jobs))
	for _, j := range jobs {
		if strings.TrimSpace(j.Spec) == "" {
			s.log.Info("job disabled", logx.String("job", j.Name))
			continue
		}
		id, err := c.AddJob(j.Spec, s.wrap(ctx, j))
		if err != nil {
			return fmt.Errorf("job %s: %w", j.Name, err)
		}
		entries[j.Name] = id
	}
	s.c, s.entries = c, entries
	c.Start()
	s.log.Info("scheduler started", logx.Int("jobs", len(entries)), logx.String("tz", loc.String()))
	return nil
}

func (s *Scheduler) wrap(ctx context.Context, j Job) cron.Job {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	return cron.FuncJob(func() {
		jctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		started := time.Now()
		if err := j.Run(jctx); err != nil {
			s.log.Error("job failed", logx.String("job", j.Name), logx.Duration("took", time.Since(started)), logx.Err(err))
			return
		}
		s.log.Debug("job finished", logx.String("job", j.Name), logx.Duration("took", time.Since(started)))
	})
}

// Next returns the next run time of a scheduled job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[name]
	if !ok || s.c == nil {
		return time.Time{}, false
	}
	return s.c.Entry(id).Next, true
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.c
	s.c, s.entries = nil, nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
		s.log.Info("scheduler stopped")
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
