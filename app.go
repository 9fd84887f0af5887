package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/harrisonrobin/dayblock/pkg/auth"
	"github.com/harrisonrobin/dayblock/pkg/calsync"
	"github.com/harrisonrobin/dayblock/pkg/colors"
	"github.com/harrisonrobin/dayblock/pkg/config"
	"github.com/harrisonrobin/dayblock/pkg/execution"
	"github.com/harrisonrobin/dayblock/pkg/freetime"
	"github.com/harrisonrobin/dayblock/pkg/google"
	"github.com/harrisonrobin/dayblock/pkg/ics"
	"github.com/harrisonrobin/dayblock/pkg/index"
	"github.com/harrisonrobin/dayblock/pkg/insights"
	"github.com/harrisonrobin/dayblock/pkg/logx"
	"github.com/harrisonrobin/dayblock/pkg/overdue"
	"github.com/harrisonrobin/dayblock/pkg/placement"
	"github.com/harrisonrobin/dayblock/pkg/planner"
	"github.com/harrisonrobin/dayblock/pkg/store"
	"github.com/harrisonrobin/dayblock/pkg/store/driver"
)

// app holds everything one command invocation needs.
type app struct {
	path string
	dir  string
	cfg  *config.Config
	user string

	logs *logx.Service
	log  logx.Logger

	store store.Store
	days  *freetime.Engine

	cal     *google.CalendarClient
	colors  *colors.ColorCache
	pending *overdue.Table

	closers []func() error
}

func openApp(path string) (*app, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return newApp(path, cfg)
}

func newApp(path string, cfg *config.Config) (*app, error) {
	logs, log := logx.New(cfg.Log)
	a, err := newAppWithLogger(path, cfg, log)
	if err != nil {
		logs.Close()
		return nil, err
	}
	a.logs = logs
	return a, nil
}

// newAppWithLogger builds an app on a logger owned by the caller.
func newAppWithLogger(path string, cfg *config.Config, log logx.Logger) (*app, error) {
	a := &app{
		path: path,
		dir:  filepath.Dir(path),
		cfg:  cfg,
		user: cfg.User,
		log:  log,
	}
	busy, err := cfg.BusyTimeout()
	if err != nil {
		a.Close()
		return nil, err
	}
	st, err := driver.Open(driver.Config{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path, BusyTimeout: busy}, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st
	a.days = freetime.New(st, freetime.Defaults{
		Timezone:     cfg.Timezone,
		WorkdayStart: cfg.WorkdayStart,
		WorkdayEnd:   cfg.WorkdayEnd,
	})
	return a, nil
}

// Close flushes caches, closes the store and the log sink, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
		a.logs = nil
	}
	return errors.Join(errs...)
}

// today is the current date in the user's zone.
func (a *app) today(ctx context.Context) (string, error) {
	loc, err := a.days.Location(ctx, a.user)
	if err != nil {
		return "", err
	}
	return time.Now().In(loc).Format(time.DateOnly), nil
}

func (a *app) dateOrToday(ctx context.Context, date string) (string, error) {
	if date != "" {
		return date, nil
	}
	return a.today(ctx)
}

func (a *app) authFlow() *auth.Flow {
	return auth.NewFlow(a.dir, a.cfg.Google.Credentials, a.log)
}

// calendar connects to Google Calendar and resolves the focus calendar.
func (a *app) calendar(ctx context.Context) (*google.CalendarClient, error) {
	if a.cal != nil {
		return a.cal, nil
	}
	hc, err := a.authFlow().Client(ctx, google.Scopes)
	if err != nil {
		return nil, err
	}
	return a.connect(ctx, hc)
}

func (a *app) connect(ctx context.Context, hc *http.Client) (*google.CalendarClient, error) {
	srv, err := google.NewService(ctx, hc)
	if err != nil {
		return nil, err
	}
	idx, err := index.New(a.dir)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, idx.Save)
	calID, err := google.ResolveCalendar(ctx, srv, a.cfg.Google.Calendar, idx)
	if err != nil {
		return nil, err
	}
	cc, err := colors.NewColorCache(a.dir)
	if err != nil {
		a.log.Warn("color cache unavailable, using default color", logx.Err(err))
		cc = nil
	} else {
		a.closers = append(a.closers, cc.Save)
		a.colors = cc
	}
	opts := []google.Option{google.WithRateLimit(a.cfg.Google.RequestsPerSecond), google.WithLogger(a.log)}
	if cc != nil {
		opts = append(opts, google.WithColors(cc))
	}
	a.cal = google.NewCalendarClient(srv, calID, opts...)
	return a.cal, nil
}

func (a *app) pendingTable() (*overdue.Table, error) {
	if a.pending != nil {
		return a.pending, nil
	}
	t, err := overdue.NewTable(a.dir, a.log)
	if err != nil {
		return nil, err
	}
	a.pending = t
	return t, nil
}

// planner builds a planner. events may be nil when nothing is confirmed.
func (a *app) planner(events planner.CalendarEventCreator) *planner.Planner {
	opts := []planner.Option{
		planner.WithPrefs(placement.Prefs{
			BufferMinutes:   a.cfg.Planning.BufferMinutes,
			MaxChunkMinutes: a.cfg.Planning.MaxChunkMinutes,
		}),
		planner.WithEventSummary(a.cfg.Planning.EventSummary),
	}
	if events != nil {
		if t, err := a.pendingTable(); err != nil {
			a.log.Warn("overdue table unavailable; confirmed blocks will not be swept", logx.Err(err))
		} else {
			opts = append(opts, planner.WithConfirmHook(t.Recorder(a.cfg.Planning.EventSummary)))
		}
	}
	return planner.New(a.store, a.days, events, a.log, opts...)
}

func (a *app) execution() *execution.Engine {
	return execution.New(a.store, a.log, execution.WithLearning(execution.Learning{
		Alpha:       a.cfg.Learning.Alpha,
		MinEstimate: a.cfg.Learning.MinEstimate,
		MaxEstimate: a.cfg.Learning.MaxEstimate,
	}))
}

func (a *app) insights() *insights.Engine {
	return insights.New(a.store, a.days)
}

// syncer wires the configured busy sources. Google calendars are skipped
// when no token has been cached yet.
func (a *app) syncer(ctx context.Context) *calsync.Syncer {
	var sources []calsync.Source
	if len(a.cfg.Google.BusyCalendars) > 0 {
		cal, err := a.calendar(ctx)
		switch {
		case errors.Is(err, auth.ErrNoToken), errors.Is(err, os.ErrNotExist):
			a.log.Warn("google calendars skipped", logx.Err(err))
		case err != nil:
			a.log.Error("google calendar unavailable", logx.Err(err))
		default:
			for _, id := range a.cfg.Google.BusyCalendars {
				sources = append(sources, calsync.GoogleSource{Client: cal, CalendarID: id})
			}
		}
	}
	if len(a.cfg.ICS) > 0 {
		fetcher := ics.NewFetcher(a.cfg.ICSCacheDir, &http.Client{Timeout: 30 * time.Second}, a.log)
		for _, src := range a.cfg.ICS {
			sources = append(sources, calsync.ICSSource{Fetcher: fetcher, Feed: ics.Source{ID: src.ID, URL: src.URL}})
		}
	}
	return calsync.New(a.store, a.days, a.planner(nil), a.log, sources...)
}
