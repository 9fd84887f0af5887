// Package execution tracks work sessions and learns task estimates from them.
package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/harrisonrobin/dayblock/pkg/logx"
	"github.com/harrisonrobin/dayblock/pkg/model"
	"github.com/harrisonrobin/dayblock/pkg/store"
)

const (
	DefaultAlpha       = 0.3
	DefaultMinEstimate = 15
	DefaultMaxEstimate = 480
	// DefaultEstimate stands in for tasks without a usable estimate.
	DefaultEstimate = 30

	NoRunningSession = "no running session"
)

// ErrAlreadyDone is returned by Done when the task's latest session was
// already completed.
var ErrAlreadyDone = errors.New("task already done")

// Repository is the slice of the store the engine needs.
type Repository interface {
	GetTask(ctx context.Context, userID, taskID string) (model.Task, error)
	SetStatus(ctx context.Context, userID, taskID string, status model.TaskStatus) error
	UpdateEstimateAndStatus(ctx context.Context, userID, taskID string, estimatedMinutes int, status model.TaskStatus) error
	BumpActuals(ctx context.Context, userID, taskID string, minutes int) error
	MarkExecuted(ctx context.Context, blockID string) error
	store.SessionRepository
}

// Learning configures the EMA update of estimates.
type Learning struct {
	Alpha       float64
	MinEstimate int
	MaxEstimate int
}

func DefaultLearning() Learning {
	return Learning{Alpha: DefaultAlpha, MinEstimate: DefaultMinEstimate, MaxEstimate: DefaultMaxEstimate}
}

func (l Learning) normalized() Learning {
	if l.Alpha <= 0 || l.Alpha > 1 {
		l.Alpha = DefaultAlpha
	}
	if l.MinEstimate <= 0 {
		l.MinEstimate = DefaultMinEstimate
	}
	if l.MaxEstimate < l.MinEstimate {
		l.MaxEstimate = max(DefaultMaxEstimate, l.MinEstimate)
	}
	return l
}

// Update blends actual into old and clamps the result.
func (l Learning) Update(old, actual int) int {
	l = l.normalized()
	v := int(math.Round(l.Alpha*float64(actual) + (1-l.Alpha)*float64(old)))
	return min(l.MaxEstimate, max(l.MinEstimate, v))
}

type Engine struct {
	repo     Repository
	learning Learning
	now      func() time.Time
	log      logx.Logger
}

type Option func(*Engine)

func WithLearning(l Learning) Option { return func(e *Engine) { e.learning = l.normalized() } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func New(repo Repository, log logx.Logger, opts ...Option) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		repo:     repo,
		learning: DefaultLearning(),
		now:      time.Now,
		log:      log.With(logx.String("component", "execution")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type StartResult struct {
	SessionID string `json:"session_id"`
}

type StopResult struct {
	Minutes int    `json:"minutes"`
	Note    string `json:"note,omitempty"`
}

type DoneResult struct {
	OldEstimate int `json:"old_estimate"`
	Actual      int `json:"actual"`
	NewEstimate int `json:"new_estimate"`
}

func validate(userID, taskID string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(taskID) == "" {
		return fmt.Errorf("user id and task id are required")
	}
	return nil
}

// Start marks the task in progress and opens a session, closing any
// session left running for it.
func (e *Engine) Start(ctx context.Context, userID, taskID, blockID string) (StartResult, error) {
	if err := validate(userID, taskID); err != nil {
		return StartResult{}, err
	}
	if err := e.repo.SetStatus(ctx, userID, taskID, model.StatusInProgress); err != nil {
		return StartResult{}, fmt.Errorf("mark task in progress: %w", err)
	}
	id, err := e.repo.Start(ctx, userID, taskID, blockID, e.now())
	if err != nil {
		return StartResult{}, fmt.Errorf("start session: %w", err)
	}
	e.log.Info("session started", logx.String("task", taskID), logx.String("session", id), logx.String("block", blockID))
	return StartResult{SessionID: id}, nil
}

// Stop closes the running session and credits its minutes to the task.
func (e *Engine) Stop(ctx context.Context, userID, taskID string) (StopResult, error) {
	if err := validate(userID, taskID); err != nil {
		return StopResult{}, err
	}
	minutes, ok, err := e.repo.Stop(ctx, userID, taskID, e.now())
	if err != nil {
		return StopResult{}, fmt.Errorf("stop session: %w", err)
	}
	if !ok {
		return StopResult{Minutes: 0, Note: NoRunningSession}, nil
	}
	if err := e.repo.BumpActuals(ctx, userID, taskID, minutes); err != nil {
		return StopResult{}, fmt.Errorf("record actuals: %w", err)
	}
	e.log.Info("session stopped", logx.String("task", taskID), logx.Int("minutes", minutes))
	return StopResult{Minutes: minutes}, nil
}

// Done completes the task's latest session, learns a new estimate from it
// and marks the task done.
func (e *Engine) Done(ctx context.Context, userID, taskID string) (DoneResult, error) {
	if err := validate(userID, taskID); err != nil {
		return DoneResult{}, err
	}
	task, err := e.repo.GetTask(ctx, userID, taskID)
	if err != nil {
		return DoneResult{}, err
	}
	oldEstimate := task.EstimatedMinutes
	if oldEstimate <= 0 {
		oldEstimate = DefaultEstimate
	}

	latest, err := e.repo.LatestForTask(ctx, userID, taskID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return DoneResult{}, fmt.Errorf("load session: %w", err)
	case latest.State == model.SessionCompleted && latest.EstimateSnapshot != nil:
		return DoneResult{}, fmt.Errorf("%s: %w", taskID, ErrAlreadyDone)
	}

	session, stopped, err := e.repo.Complete(ctx, userID, taskID, e.now())
	if err != nil {
		return DoneResult{}, fmt.Errorf("complete session: %w", err)
	}
	if err := e.repo.SetEstimateSnapshot(ctx, session.ID, oldEstimate); err != nil {
		return DoneResult{}, fmt.Errorf("snapshot estimate: %w", err)
	}
	if session.BlockID != "" {
		if err := e.repo.MarkExecuted(ctx, session.BlockID); err != nil {
			e.log.Warn("mark block executed failed", logx.String("block", session.BlockID), logx.Err(err))
		}
	}

	worked := 0
	if session.MinutesWorked != nil {
		worked = *session.MinutesWorked
	}
	actual := max(1, worked)
	newEstimate := e.learning.Update(oldEstimate, actual)

	if err := e.repo.UpdateEstimateAndStatus(ctx, userID, taskID, newEstimate, model.StatusDone); err != nil {
		return DoneResult{}, fmt.Errorf("update estimate: %w", err)
	}
	// Minutes of a session closed by an earlier Stop were credited there.
	alreadyCounted := !stopped && session.MinutesWorked != nil
	if !alreadyCounted {
		if err := e.repo.BumpActuals(ctx, userID, taskID, actual); err != nil {
			return DoneResult{}, fmt.Errorf("record actuals: %w", err)
		}
	}

	e.log.Info("task done",
		logx.String("task", taskID),
		logx.Int("old_estimate", oldEstimate),
		logx.Int("actual", actual),
		logx.Int("new_estimate", newEstimate),
	)
	return DoneResult{OldEstimate: oldEstimate, Actual: actual, NewEstimate: newEstimate}, nil
}
