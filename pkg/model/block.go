package model

import (
	"math"
	"time"
)

type BlockState string

const (
	BlockPlanned   BlockState = "planned"
	BlockConfirmed BlockState = "confirmed"
	BlockExecuted  BlockState = "executed"
)

// TaskBlock is a scheduled slot for (a chunk of) one task.
type TaskBlock struct {
	ID            string
	UserID        string
	TaskID        string
	ProposalID    string
	Start         time.Time
	End           time.Time
	BufferMinutes int
	State         BlockState
	// ExternalEventID is set once the block has been pushed to the calendar.
	ExternalEventID string
	// ChunkIndex is 1-based for split tasks and 0 for single-chunk tasks.
	ChunkIndex int
	Reason     string
}

// Minutes returns the rounded length of the block.
func (b TaskBlock) Minutes() int {
	return MinutesBetween(b.Start, b.End)
}

type SessionState string

const (
	SessionRunning   SessionState = "running"
	SessionStopped   SessionState = "stopped"
	SessionCompleted SessionState = "completed"
)

// WorkSession records one stretch of work on a task.
type WorkSession struct {
	ID      string
	UserID  string
	TaskID  string
	BlockID string
	Start   time.Time
	// End is nil while the session is running.
	End *time.Time
	// MinutesWorked is nil until the session has been stopped.
	MinutesWorked *int
	// EstimateSnapshot is the task estimate recorded when the session completed.
	EstimateSnapshot *int
	State            SessionState
}

// MinutesBetween rounds the distance between two instants to whole minutes.
func MinutesBetween(start, end time.Time) int {
	return int(math.Round(end.Sub(start).Minutes()))
}

// WorkedMinutes is the minutes credited for a session spanning start..end:
// rounded to the minute, never less than one.
func WorkedMinutes(start, end time.Time) int {
	return max(1, MinutesBetween(start, end))
}
