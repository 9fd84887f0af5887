package model

import "time"

type Priority string

const (
	PriorityLow  Priority = "low"
	PriorityMed  Priority = "med"
	PriorityHigh Priority = "high"
)

type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusDone       TaskStatus = "done"
)

// DateLayout is the wire format of calendar dates (due dates, planning days).
const DateLayout = "2006-01-02"

// Task is a unit of backlog work owned by one user.
type Task struct {
	ID     string
	UserID string
	Title  string
	Notes  string

	Priority Priority
	// Due is a calendar date in DateLayout, empty when the task has no deadline.
	Due string

	EstimatedMinutes int
	ActualMinutes    int
	Status           TaskStatus
	Source           string // "manual", "taskwarrior" or "orgmode"
}

// HasDue reports whether the task carries a due date.
func (t Task) HasDue() bool { return t.Due != "" }

// UserSettings holds the per-user scheduling preferences.
type UserSettings struct {
	Timezone     string
	WorkdayStart string // HH:MM
	WorkdayEnd   string // HH:MM
}

// BusyInterval is an externally sourced calendar commitment.
type BusyInterval struct {
	UserID     string
	ExternalID string
	SourceID   string
	Summary    string
	Start      time.Time
	End        time.Time
}
