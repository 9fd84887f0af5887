package main

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/harrisonrobin/dayblock/pkg/model"
	"github.com/harrisonrobin/dayblock/pkg/orgmode"
	"github.com/harrisonrobin/dayblock/pkg/store"
	"github.com/harrisonrobin/dayblock/pkg/taskwarrior"
)

type importResult struct {
	Added   []string `json:"added"`
	Updated []string `json:"updated"`
	Skipped int      `json:"skipped"`
}

func runTaskImport(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlags("task import", env)
	from := fs.String("from", "taskwarrior", "taskwarrior or org")
	stdin := fs.Bool("stdin", false, "read `task export` JSON from stdin")
	filter := fs.StringSlice("filter", []string{"status:pending"}, "taskwarrior filter")
	tag := fs.String("tag", "", "only import org headlines with this tag")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := env.open()
	if err != nil {
		return err
	}
	defer a.Close()

	var (
		tasks   []model.Task
		skipped int
	)
	switch *from {
	case "taskwarrior", "tw":
		client := taskwarrior.NewClient()
		var raw []taskwarrior.Task
		if *stdin {
			raw, err = client.ParseTasks(env.in)
		} else {
			raw, err = client.GetTasks(ctx, *filter)
		}
		if err != nil {
			return err
		}
		loc, err := a.days.Location(ctx, a.user)
		if err != nil {
			return err
		}
		for _, tw := range raw {
			t, ok := tw.ToTask(a.user, loc)
			if !ok {
				skipped++
				continue
			}
			tasks = append(tasks, t)
		}
	case "org", "orgmode":
		if fs.NArg() == 0 {
			return errors.New("usage: dayblock task import --from org <file.org>...")
		}
		items, err := orgmode.ParseFiles(a.user, fs.Args())
		if err != nil {
			return err
		}
		for _, it := range orgmode.FilterTasks(items, *tag) {
			tasks = append(tasks, it.Task)
		}
	default:
		return fmt.Errorf("unknown import source %q", *from)
	}

	res, err := importTasks(ctx, a.store, tasks)
	if err != nil {
		return err
	}
	res.Skipped += skipped
	return emit(env.out, res)
}

// importTasks upserts tasks. Tasks already known keep their learned estimate,
// their actual minutes, an in-progress status and a done status.
func importTasks(ctx context.Context, repo store.TaskRepository, tasks []model.Task) (importResult, error) {
	res := importResult{Added: []string{}, Updated: []string{}}
	for _, t := range tasks {
		existing, err := repo.GetTask(ctx, t.UserID, t.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			res.Added = append(res.Added, t.ID)
		case err != nil:
			return res, fmt.Errorf("load task %s: %w", t.ID, err)
		default:
			t.EstimatedMinutes = existing.EstimatedMinutes
			t.ActualMinutes = existing.ActualMinutes
			if existing.Status == model.StatusInProgress && t.Status == model.StatusTodo {
				t.Status = model.StatusInProgress
			}
			// An import may finish a task but never reopen one.
			if existing.Status == model.StatusDone && t.Status != model.StatusDone {
				t.Status = model.StatusDone
			}
			if t == existing {
				continue
			}
			res.Updated = append(res.Updated, t.ID)
		}
		if err := repo.UpsertTask(ctx, t); err != nil {
			return res, fmt.Errorf("save task %s: %w", t.ID, err)
		}
	}
	return res, nil
}

// retired reports whether a Taskwarrior task should stop being planned.
func retired(t taskwarrior.Task) bool {
	return t.Status == taskwarrior.DELETED || t.Status == taskwarrior.WAITING || slices.Contains(t.Tags, "BLOCKED")
}
