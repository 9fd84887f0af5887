// Package store defines the repositories the planning core depends on.
//
// The core never talks to a database directly; it is handed these interfaces.
// Two implementations live in subpackages:
//   - sqlite: durable store backed by modernc.org/sqlite
//   - memory: process-local store for tests and dry runs
package store

import (
	"context"
	"errors"
	"time"

	"github.com/harrisonrobin/dayblock/pkg/model"
)

// ErrNotFound is returned when a referenced task, block or session is absent.
var ErrNotFound = errors.New("not found")

// TaskRepository reads and updates tasks and user settings.
type TaskRepository interface {
	// GetSchedulable returns the user's todo tasks. A non-empty include list
	// restricts the result to those ids; exclude removes ids.
	GetSchedulable(ctx context.Context, userID string, include, exclude []string) ([]model.Task, error)
	GetTask(ctx context.Context, userID, taskID string) (model.Task, error)
	// GetUserSettings returns ok=false when the user has no stored settings.
	GetUserSettings(ctx context.Context, userID string) (settings model.UserSettings, ok bool, err error)
	PutUserSettings(ctx context.Context, userID string, settings model.UserSettings) error
	UpsertTask(ctx context.Context, task model.Task) error
	ListTasks(ctx context.Context, userID string) ([]model.Task, error)
	SetStatus(ctx context.Context, userID, taskID string, status model.TaskStatus) error
	UpdateEstimateAndStatus(ctx context.Context, userID, taskID string, estimatedMinutes int, status model.TaskStatus) error
	BumpActuals(ctx context.Context, userID, taskID string, minutes int) error
}

// CalendarBusyRepository exposes imported calendar commitments.
type CalendarBusyRepository interface {
	// BusyIntervals returns intervals overlapping [start, end).
	BusyIntervals(ctx context.Context, userID string, start, end time.Time) ([]model.BusyInterval, error)
	EventByExternalID(ctx context.Context, userID, externalID string) (model.BusyInterval, error)
	// ReplaceBusy swaps the source's intervals that overlap [start, end) for
	// the given set and reports external ids that were added, removed or moved.
	ReplaceBusy(ctx context.Context, userID, sourceID string, start, end time.Time, intervals []model.BusyInterval) (changed []string, err error)
}

// BlockRepository owns task blocks and their state transitions.
type BlockRepository interface {
	PersistPlanned(ctx context.Context, userID, proposalID string, blocks []model.TaskBlock) error
	MarkConfirmed(ctx context.Context, blockID, externalEventID string) error
	MarkExecuted(ctx context.Context, blockID string) error
	GetBlock(ctx context.Context, blockID string) (model.TaskBlock, error)
	ConfirmedInWindow(ctx context.Context, userID string, start, end time.Time) ([]model.TaskBlock, error)
	DeletePlannedInWindow(ctx context.Context, userID string, start, end time.Time) error
	DeletePlannedForTaskInWindow(ctx context.Context, userID, taskID string, start, end time.Time) error
	DeletePlannedForDay(ctx context.Context, userID string, dayStart, dayEnd time.Time) error
	// GetByProposal returns the proposal's planned blocks, restricted to
	// acceptIDs when that list is non-empty.
	GetByProposal(ctx context.Context, userID, proposalID string, acceptIDs []string) ([]model.TaskBlock, error)
	DeleteUnacceptedForProposal(ctx context.Context, userID, proposalID string, acceptIDs []string) error
	// ProposalExists reports whether any block in any state carries the proposal id.
	ProposalExists(ctx context.Context, userID, proposalID string) (bool, error)
}

// SessionRepository tracks work sessions.
type SessionRepository interface {
	// Start force-stops any running session for (user, task) and opens a new one.
	Start(ctx context.Context, userID, taskID, blockID string, at time.Time) (sessionID string, err error)
	// Stop closes the latest running session. ok is false when none was running.
	Stop(ctx context.Context, userID, taskID string, at time.Time) (minutes int, ok bool, err error)
	// Complete stops a running session and marks the latest session completed.
	// stopped reports whether a running session was closed by this call.
	Complete(ctx context.Context, userID, taskID string, at time.Time) (session model.WorkSession, stopped bool, err error)
	SetEstimateSnapshot(ctx context.Context, sessionID string, estimate int) error
	SumToday(ctx context.Context, userID, taskID string, dayStart, dayEnd time.Time) (int, error)
	LatestForTask(ctx context.Context, userID, taskID string) (model.WorkSession, error)
}

// InsightsRepository serves the reporting queries.
type InsightsRepository interface {
	// BlocksInRange returns blocks with start >= start and end < end.
	BlocksInRange(ctx context.Context, userID string, start, end time.Time) ([]model.TaskBlock, error)
	// SessionsInRange returns sessions started within [start, end).
	SessionsInRange(ctx context.Context, userID string, start, end time.Time) ([]model.WorkSession, error)
	TasksByIDs(ctx context.Context, ids []string) ([]model.Task, error)
	// CalendarBusyMinutes sums busy durations clipped to [start, end).
	CalendarBusyMinutes(ctx context.Context, userID string, start, end time.Time) (int, error)
}

// Store bundles every repository behind one handle.
type Store interface {
	TaskRepository
	CalendarBusyRepository
	BlockRepository
	SessionRepository
	InsightsRepository
	Close() error
}
