package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/harrisonrobin/dayblock/pkg/logx"
	"github.com/harrisonrobin/dayblock/pkg/model"
	"github.com/harrisonrobin/dayblock/pkg/planner"
	"github.com/harrisonrobin/dayblock/pkg/store"
	"github.com/harrisonrobin/dayblock/pkg/taskwarrior"
)

// runHook implements Taskwarrior's on-add and on-modify protocol. The
// foreground process echoes the final task and hands the rest to a detached
// background process so Taskwarrior is not kept waiting.
func runHook(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlags("hook", env)
	background := fs.Bool("background", false, "internal use: run in background mode")
	if err := fs.Parse(args); err != nil {
		return err
	}

	data, err := io.ReadAll(env.in)
	if err != nil {
		return err
	}
	client := taskwarrior.NewClient()
	twTasks, err := client.ParseTasks(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("error parsing tasks from stdin: %w", err)
	}
	if len(twTasks) == 0 {
		return nil
	}
	// on-add sends one task, on-modify sends the old and the new version.
	task := twTasks[len(twTasks)-1]

	if !*background {
		// Echo the raw line so attributes dayblock does not model survive.
		lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
		if _, err := fmt.Fprintf(env.out, "%s\n", bytes.TrimSpace(lines[len(lines)-1])); err != nil {
			return err
		}
		return spawnBackground(env, task)
	}

	a, err := env.open()
	if err != nil {
		return err
	}
	defer a.Close()
	_, err = a.applyHookTask(ctx, task)
	return err
}

func spawnBackground(env *cmdEnv, task taskwarrior.Task) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("could not find self: %w", err)
	}
	args := []string{"--config", env.configPath}
	if env.user != "" {
		args = append(args, "--user", env.user)
	}
	cmd := exec.Command(self, append(args, "hook", "--background")...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("could not open stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("could not start background process: %w", err)
	}
	if err := json.NewEncoder(stdin).Encode(task); err != nil {
		return err
	}
	stdin.Close()
	return cmd.Process.Release()
}

type hookResult struct {
	TaskID    string `json:"task_id"`
	Action    string `json:"action"`
	Replanned bool   `json:"replanned"`
}

// applyHookTask stores the task and replans today around it. Deleted,
// waiting and BLOCKED tasks are marked done so they are no longer planned.
func (a *app) applyHookTask(ctx context.Context, tw taskwarrior.Task) (hookResult, error) {
	res := hookResult{TaskID: tw.UUID}
	if retired(tw) {
		err := a.store.SetStatus(ctx, a.user, tw.UUID, model.StatusDone)
		if errors.Is(err, store.ErrNotFound) {
			res.Action = "ignored"
			return res, nil
		}
		if err != nil {
			return res, err
		}
		res.Action = "retired"
		a.dropUpcoming(ctx, tw.UUID)
	} else {
		loc, err := a.days.Location(ctx, a.user)
		if err != nil {
			return res, err
		}
		t, ok := tw.ToTask(a.user, loc)
		if !ok {
			res.Action = "ignored"
			return res, nil
		}
		imp, err := importTasks(ctx, a.store, []model.Task{t})
		if err != nil {
			return res, err
		}
		switch {
		case len(imp.Added) > 0:
			res.Action = "added"
		case len(imp.Updated) > 0:
			res.Action = "updated"
		default:
			res.Action = "unchanged"
			return res, nil
		}
	}

	today, err := a.today(ctx)
	if err != nil {
		return res, err
	}
	_, err = a.planner(nil).Replan(ctx, planner.ReplanRequest{
		UserID: a.user,
		Date:   today,
		Cause:  planner.Cause{Type: planner.CauseTaskUpdated, TaskID: tw.UUID},
	})
	if err != nil {
		a.log.Warn("replan after task change failed", logx.String("task", tw.UUID), logx.Err(err))
		return res, nil
	}
	res.Replanned = true
	return res, nil
}

// dropUpcoming deletes the calendar events of the task's confirmed blocks
// that have not started yet and stops tracking them for the overdue sweep.
func (a *app) dropUpcoming(ctx context.Context, taskID string) {
	now := time.Now()
	horizon := now.AddDate(0, 0, max(a.cfg.HorizonDays, 1)+1)
	blocks, err := a.store.ConfirmedInWindow(ctx, a.user, now, horizon)
	if err != nil {
		a.log.Warn("load confirmed blocks failed", logx.String("task", taskID), logx.Err(err))
		return
	}
	var upcoming []model.TaskBlock
	for _, b := range blocks {
		if b.TaskID == taskID && b.Start.After(now) && b.ExternalEventID != "" {
			upcoming = append(upcoming, b)
		}
	}
	if len(upcoming) == 0 {
		return
	}
	cal, err := a.calendar(ctx)
	if err != nil {
		a.log.Warn("calendar unavailable; events of retired task kept", logx.String("task", taskID), logx.Err(err))
		return
	}
	pending, err := a.pendingTable()
	if err != nil {
		a.log.Warn("overdue table unavailable", logx.Err(err))
	}
	for _, b := range upcoming {
		if err := cal.DeleteEvent(ctx, b.ExternalEventID); err != nil {
			a.log.Warn("delete event failed", logx.String("block", b.ID), logx.String("event", b.ExternalEventID), logx.Err(err))
			continue
		}
		if pending != nil {
			pending.Remove(b.ID)
		}
	}
	if pending != nil {
		if err := pending.Save(); err != nil {
			a.log.Warn("save pending blocks failed", logx.Err(err))
		}
	}
	if a.colors != nil {
		a.colors.Release(taskID)
	}
}
