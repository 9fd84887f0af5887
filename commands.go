package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harrisonrobin/dayblock/pkg/config"
	"github.com/harrisonrobin/dayblock/pkg/google"
	"github.com/harrisonrobin/dayblock/pkg/model"
	"github.com/harrisonrobin/dayblock/pkg/overdue"
	"github.com/harrisonrobin/dayblock/pkg/planner"
	"github.com/harrisonrobin/dayblock/pkg/timeutil"
)

func runAuth(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlags("auth", env)
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := env.open()
	if err != nil {
		return err
	}
	defer a.Close()

	flow := a.authFlow()
	flow.Out = env.errOut
	if err := flow.Login(ctx, google.Scopes); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	return emit(env.out, map[string]string{"token": flow.TokenPath})
}

func runSetCalendar(_ context.Context, env *cmdEnv, args []string) error {
	fs := newFlags("set-calendar", env)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: dayblock set-calendar <name>")
	}
	cfg, err := config.LoadFile(env.configPath)
	if err != nil {
		return err
	}
	cfg.Google.Calendar = fs.Arg(0)
	if err := config.SaveFile(env.configPath, cfg); err != nil {
		return fmt.Errorf("error saving config: %w", err)
	}
	return emit(env.out, map[string]string{"calendar": cfg.Google.Calendar})
}

type taskView struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Notes            string `json:"notes,omitempty"`
	Priority         string `json:"priority"`
	Due              string `json:"due,omitempty"`
	EstimatedMinutes int    `json:"estimated_minutes"`
	ActualMinutes    int    `json:"actual_minutes"`
	Status           string `json:"status"`
	Source           string `json:"source"`
	TodayMinutes     int    `json:"today_minutes"`
}

func viewTask(t model.Task) taskView {
	return taskView{
		ID:               t.ID,
		Title:            t.Title,
		Notes:            t.Notes,
		Priority:         string(t.Priority),
		Due:              t.Due,
		EstimatedMinutes: t.EstimatedMinutes,
		ActualMinutes:    t.ActualMinutes,
		Status:           string(t.Status),
		Source:           t.Source,
	}
}

func runTask(ctx context.Context, env *cmdEnv, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: dayblock task add|list|import")
	}
	switch args[0] {
	case "add":
		return runTaskAdd(ctx, env, args[1:])
	case "list":
		return runTaskList(ctx, env, args[1:])
	case "import":
		return runTaskImport(ctx, env, args[1:])
	default:
		return fmt.Errorf("unknown task command %q", args[0])
	}
}

func runTaskAdd(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlags("task add", env)
	title := fs.StringP("title", "t", "", "task title")
	notes := fs.String("notes", "", "free-form notes")
	prio := fs.StringP("priority", "p", "med", "low, med or high")
	due := fs.String("due", "", "due date YYYY-MM-DD")
	estimate := fs.IntP("estimate", "e", 30, "estimated minutes")
	id := fs.String("id", "", "task id (generated when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *title == "" && fs.NArg() > 0 {
		*title = strings.Join(fs.Args(), " ")
	}
	if strings.TrimSpace(*title) == "" {
		return errors.New("task add: a title is required")
	}
	p := model.Priority(strings.ToLower(*prio))
	switch p {
	case model.PriorityLow, model.PriorityMed, model.PriorityHigh:
	default:
		return fmt.Errorf("task add: unknown priority %q", *prio)
	}
	if *due != "" {
		if _, err := time.Parse(model.DateLayout, *due); err != nil {
			return fmt.Errorf("task add: due: %w", err)
		}
	}
	if *estimate <= 0 {
		return errors.New("task add: estimate must be positive")
	}

	a, err := env.open()
	if err != nil {
		return err
	}
	defer a.Close()

	if *id == "" {
		*id = uuid.NewString()
	}
	t := model.Task{
		ID:               *id,
		UserID:           a.user,
		Title:            *title,
		Notes:            *notes,
		Priority:         p,
		Due:              *due,
		EstimatedMinutes: *estimate,
		Status:           model.StatusTodo,
		Source:           "manual",
	}
	if err := a.store.UpsertTask(ctx, t); err != nil {
		return err
	}
	return emit(env.out, viewTask(t))
}

func runTaskList(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlags("task list", env)
	all := fs.BoolP("all", "a", false, "include done tasks")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := env.open()
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.listTasks(ctx, *all)
	if err != nil {
		return err
	}
	return emit(env.out, out)
}

// listTasks renders the user's tasks with the minutes worked on each today.
func (a *app) listTasks(ctx context.Context, all bool) ([]taskView, error) {
	tasks, err := a.store.ListTasks(ctx, a.user)
	if err != nil {
		return nil, err
	}
	loc, err := a.days.Location(ctx, a.user)
	if err != nil {
		return nil, err
	}
	today, err := timeutil.DayRange(time.Now().In(loc).Format(model.DateLayout), loc)
	if err != nil {
		return nil, err
	}
	out := []taskView{}
	for _, t := range tasks {
		if !all && t.Status == model.StatusDone {
			continue
		}
		v := viewTask(t)
		if v.TodayMinutes, err = a.store.SumToday(ctx, a.user, t.ID, today.Start, today.End); err != nil {
			return nil, fmt.Errorf("sum minutes for %s: %w", t.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func runPropose(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlags("propose", env)
	date := fs.StringP("date", "d", "", "day to plan (default today)")
	include := fs.StringSlice("include", nil, "only plan these task ids")
	exclude := fs.StringSlice("exclude", nil, "never plan these task ids")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := env.open()
	if err != nil {
		return err
	}
	defer a.Close()

	day, err := a.dateOrToday(ctx, *date)
	if err != nil {
		return err
	}
	prop, err := a.planner(nil).Propose(ctx, planner.ProposeRequest{
		UserID:         a.user,
		Date:           day,
		IncludeTaskIDs: splitIDs(*include),
		ExcludeTaskIDs: splitIDs(*exclude),
	})
	if err != nil {
		return err
	}
	return emit(env.out, prop)
}

func runConfirm(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlags("confirm", env)
	proposal := fs.String("proposal", "", "proposal id")
	accept := fs.StringSlice("accept", nil, "confirm only these block ids")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *proposal == "" && fs.NArg() == 1 {
		*proposal = fs.Arg(0)
	}
	a, err := env.open()
	if err != nil {
		return err
	}
	defer a.Close()

	cal, err := a.calendar(ctx)
	if err != nil {
		return err
	}
	res, err := a.planner(cal).ConfirmWithUser(ctx, planner.ConfirmRequest{
		UserID:         a.user,
		ProposalID:     *proposal,
		AcceptBlockIDs: splitIDs(*accept),
	}, a.user)
	if err != nil {
		return err
	}
	return emit(env.out, res)
}

func runReplan(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlags("replan", env)
	date := fs.StringP("date", "d", "", "day to replan (default today)")
	cause := fs.String("cause", string(planner.CauseTaskUpdated), "calendar_changed, shift_by or task_updated")
	event := fs.String("event", "", "external event id for calendar_changed")
	task := fs.String("task", "", "task id for task_updated")
	minutes := fs.Int("minutes", 0, "minutes for shift_by")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := env.open()
	if err != nil {
		return err
	}
	defer a.Close()

	day, err := a.dateOrToday(ctx, *date)
	if err != nil {
		return err
	}
	prop, err := a.planner(nil).Replan(ctx, planner.ReplanRequest{
		UserID: a.user,
		Date:   day,
		Cause: planner.Cause{
			Type:            planner.ParseCauseType(*cause),
			ExternalEventID: *event,
			Minutes:         *minutes,
			TaskID:          *task,
		},
	})
	if err != nil {
		return err
	}
	return emit(env.out, prop)
}

func taskArg(fs interface {
	NArg() int
	Arg(int) string
}, name string) (string, error) {
	if fs.NArg() != 1 {
		return "", fmt.Errorf("usage: dayblock %s <task-id>", name)
	}
	return fs.Arg(0), nil
}

func runStart(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlags("start", env)
	block := fs.String("block", "", "block being worked in")
	if err := fs.Parse(args); err != nil {
		return err
	}
	taskID, err := taskArg(fs, "start")
	if err != nil {
		return err
	}
	a, err := env.open()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.execution().Start(ctx, a.user, taskID, *block)
	if err != nil {
		return err
	}
	return emit(env.out, res)
}

func runStop(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlags("stop", env)
	if err := fs.Parse(args); err != nil {
		return err
	}
	taskID, err := taskArg(fs, "stop")
	if err != nil {
		return err
	}
	a, err := env.open()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.execution().Stop(ctx, a.user, taskID)
	if err != nil {
		return err
	}
	return emit(env.out, res)
}

func runDone(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlags("done", env)
	if err := fs.Parse(args); err != nil {
		return err
	}
	taskID, err := taskArg(fs, "done")
	if err != nil {
		return err
	}
	a, err := env.open()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.execution().Done(ctx, a.user, taskID)
	if err != nil {
		return err
	}
	return emit(env.out, res)
}

func runInsights(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlags("insights", env)
	date := fs.StringP("date", "d", "", "day, or any day of the week with --weekly (default today)")
	weekly := fs.BoolP("weekly", "w", false, "report the Monday-Sunday week")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := env.open()
	if err != nil {
		return err
	}
	defer a.Close()

	day, err := a.dateOrToday(ctx, *date)
	if err != nil {
		return err
	}
	eng := a.insights()
	if *weekly {
		rep, err := eng.Weekly(ctx, a.user, day)
		if err != nil {
			return err
		}
		return emit(env.out, rep)
	}
	rep, err := eng.Daily(ctx, a.user, day)
	if err != nil {
		return err
	}
	return emit(env.out, rep)
}

func runSync(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlags("sync", env)
	date := fs.StringP("date", "d", "", "first day to sync (default today)")
	days := fs.Int("days", 0, "number of days (default horizon_days)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := env.open()
	if err != nil {
		return err
	}
	defer a.Close()

	day, err := a.dateOrToday(ctx, *date)
	if err != nil {
		return err
	}
	if *days <= 0 {
		*days = a.cfg.HorizonDays
	}
	res, err := a.syncer(ctx).Run(ctx, a.user, day, *days)
	if err != nil {
		return err
	}
	return emit(env.out, res)
}

func runSweep(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlags("sweep", env)
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := env.open()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.sweep(ctx, time.Now())
	if err != nil {
		return err
	}
	return emit(env.out, res)
}

// sweep flags missed blocks. Without a calendar connection the table is
// left untouched for the next run.
func (a *app) sweep(ctx context.Context, now time.Time) (overdue.SweepResult, error) {
	t, err := a.pendingTable()
	if err != nil {
		return overdue.SweepResult{}, err
	}
	if t.Len() == 0 {
		return overdue.SweepResult{Flagged: []string{}}, nil
	}
	cal, err := a.calendar(ctx)
	if err != nil {
		return overdue.SweepResult{}, err
	}
	return overdue.NewSweeper(t, a.store, cal, a.log).Run(ctx, now)
}
