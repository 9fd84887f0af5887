// Package memory is a process-local implementation of store.Store.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrisonrobin/dayblock/pkg/model"
	"github.com/harrisonrobin/dayblock/pkg/store"
	"github.com/harrisonrobin/dayblock/pkg/timeutil"
)

// Store keeps everything in memory. It is safe for concurrent use.
type Store struct {
	mu sync.Mutex

	settings map[string]model.UserSettings
	tasks    []model.Task
	busy     []model.BusyInterval
	blocks   []model.TaskBlock
	sessions []model.WorkSession
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{settings: make(map[string]model.UserSettings)}
}

func (s *Store) Close() error { return nil }

// ---- tasks ----

func (s *Store) GetSchedulable(_ context.Context, userID string, include, exclude []string) ([]model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Task
	for _, t := range s.tasks {
		if t.UserID != userID || t.Status != model.StatusTodo {
			continue
		}
		if len(include) > 0 && !slices.Contains(include, t.ID) {
			continue
		}
		if slices.Contains(exclude, t.ID) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) GetTask(_ context.Context, userID, taskID string) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.taskIndex(userID, taskID)
	if i < 0 {
		return model.Task{}, fmt.Errorf("task %s: %w", taskID, store.ErrNotFound)
	}
	return s.tasks[i], nil
}

func (s *Store) GetUserSettings(_ context.Context, userID string) (model.UserSettings, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.settings[userID]
	return st, ok, nil
}

func (s *Store) PutUserSettings(_ context.Context, userID string, settings model.UserSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[userID] = settings
	return nil
}

func (s *Store) UpsertTask(_ context.Context, task model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if i := s.taskIndex(task.UserID, task.ID); i >= 0 {
		task.ActualMinutes = s.tasks[i].ActualMinutes
		s.tasks[i] = task
		return nil
	}
	s.tasks = append(s.tasks, task)
	return nil
}

func (s *Store) ListTasks(_ context.Context, userID string) ([]model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Task
	for _, t := range s.tasks {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) SetStatus(_ context.Context, userID, taskID string, status model.TaskStatus) error {
	return s.updateTask(userID, taskID, func(t *model.Task) { t.Status = status })
}

func (s *Store) UpdateEstimateAndStatus(_ context.Context, userID, taskID string, estimatedMinutes int, status model.TaskStatus) error {
	return s.updateTask(userID, taskID, func(t *model.Task) {
		t.EstimatedMinutes = estimatedMinutes
		t.Status = status
	})
}

func (s *Store) BumpActuals(_ context.Context, userID, taskID string, minutes int) error {
	return s.updateTask(userID, taskID, func(t *model.Task) { t.ActualMinutes += minutes })
}

func (s *Store) updateTask(userID, taskID string, fn func(*model.Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.taskIndex(userID, taskID)
	if i < 0 {
		return fmt.Errorf("task %s: %w", taskID, store.ErrNotFound)
	}
	fn(&s.tasks[i])
	return nil
}

func (s *Store) taskIndex(userID, taskID string) int {
	for i, t := range s.tasks {
		if t.ID == taskID && t.UserID == userID {
			return i
		}
	}
	return -1
}

// ---- calendar busy ----

func (s *Store) BusyIntervals(_ context.Context, userID string, start, end time.Time) ([]model.BusyInterval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.BusyInterval
	for _, b := range s.busy {
		if b.UserID == userID && b.Start.Before(end) && b.End.After(start) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Store) EventByExternalID(_ context.Context, userID, externalID string) (model.BusyInterval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.busy {
		if b.UserID == userID && b.ExternalID == externalID {
			return b, nil
		}
	}
	return model.BusyInterval{}, fmt.Errorf("calendar event %s: %w", externalID, store.ErrNotFound)
}

func (s *Store) ReplaceBusy(_ context.Context, userID, sourceID string, start, end time.Time, intervals []model.BusyInterval) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := make(map[string]model.BusyInterval)
	kept := s.busy[:0:0]
	for _, b := range s.busy {
		if b.UserID == userID && b.SourceID == sourceID && b.Start.Before(end) && b.End.After(start) {
			old[b.ExternalID] = b
			continue
		}
		kept = append(kept, b)
	}

	seen := make(map[string]bool)
	var changed []string
	for _, b := range intervals {
		b.UserID = userID
		b.SourceID = sourceID
		kept = append(kept, b)
		seen[b.ExternalID] = true
		prev, ok := old[b.ExternalID]
		if !ok || !prev.Start.Equal(b.Start) || !prev.End.Equal(b.End) {
			changed = append(changed, b.ExternalID)
		}
	}
	for id := range old {
		if !seen[id] {
			changed = append(changed, id)
		}
	}
	s.busy = kept
	sort.Strings(changed)
	return changed, nil
}

// ---- blocks ----

func (s *Store) PersistPlanned(_ context.Context, userID, proposalID string, blocks []model.TaskBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range blocks {
		b.UserID = userID
		b.ProposalID = proposalID
		b.State = model.BlockPlanned
		s.blocks = append(s.blocks, b)
	}
	return nil
}

func (s *Store) MarkConfirmed(_ context.Context, blockID, externalEventID string) error {
	return s.updateBlock(blockID, func(b *model.TaskBlock) {
		b.ExternalEventID = externalEventID
		b.State = model.BlockConfirmed
	})
}

func (s *Store) MarkExecuted(_ context.Context, blockID string) error {
	return s.updateBlock(blockID, func(b *model.TaskBlock) { b.State = model.BlockExecuted })
}

func (s *Store) GetBlock(_ context.Context, blockID string) (model.TaskBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.blocks {
		if b.ID == blockID {
			return b, nil
		}
	}
	return model.TaskBlock{}, fmt.Errorf("block %s: %w", blockID, store.ErrNotFound)
}

func (s *Store) updateBlock(blockID string, fn func(*model.TaskBlock)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.blocks {
		if s.blocks[i].ID == blockID {
			fn(&s.blocks[i])
			return nil
		}
	}
	return fmt.Errorf("block %s: %w", blockID, store.ErrNotFound)
}

func (s *Store) ConfirmedInWindow(_ context.Context, userID string, start, end time.Time) ([]model.TaskBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TaskBlock
	for _, b := range s.blocks {
		if b.UserID == userID && b.State == model.BlockConfirmed && b.Start.Before(end) && b.End.After(start) {
			out = append(out, b)
		}
	}
	sortBlocks(out)
	return out, nil
}

func (s *Store) DeletePlannedInWindow(_ context.Context, userID string, start, end time.Time) error {
	s.deleteBlocks(func(b model.TaskBlock) bool {
		return b.UserID == userID && b.State == model.BlockPlanned && b.Start.Before(end) && b.End.After(start)
	})
	return nil
}

func (s *Store) DeletePlannedForTaskInWindow(_ context.Context, userID, taskID string, start, end time.Time) error {
	s.deleteBlocks(func(b model.TaskBlock) bool {
		return b.UserID == userID && b.TaskID == taskID && b.State == model.BlockPlanned &&
			b.Start.Before(end) && b.End.After(start)
	})
	return nil
}

func (s *Store) DeletePlannedForDay(ctx context.Context, userID string, dayStart, dayEnd time.Time) error {
	return s.DeletePlannedInWindow(ctx, userID, dayStart, dayEnd)
}

func (s *Store) GetByProposal(_ context.Context, userID, proposalID string, acceptIDs []string) ([]model.TaskBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TaskBlock
	for _, b := range s.blocks {
		if b.UserID != userID || b.ProposalID != proposalID || b.State != model.BlockPlanned {
			continue
		}
		if len(acceptIDs) > 0 && !slices.Contains(acceptIDs, b.ID) {
			continue
		}
		out = append(out, b)
	}
	sortBlocks(out)
	return out, nil
}

func (s *Store) ProposalExists(_ context.Context, userID, proposalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.blocks {
		if b.UserID == userID && b.ProposalID == proposalID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) DeleteUnacceptedForProposal(_ context.Context, userID, proposalID string, acceptIDs []string) error {
	s.deleteBlocks(func(b model.TaskBlock) bool {
		return b.UserID == userID && b.ProposalID == proposalID && b.State == model.BlockPlanned &&
			!slices.Contains(acceptIDs, b.ID)
	})
	return nil
}

func (s *Store) deleteBlocks(match func(model.TaskBlock) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = slices.DeleteFunc(s.blocks, match)
}

func sortBlocks(bs []model.TaskBlock) {
	sort.SliceStable(bs, func(i, j int) bool { return bs[i].Start.Before(bs[j].Start) })
}

// ---- sessions ----

func (s *Store) Start(_ context.Context, userID, taskID, blockID string, at time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sessions {
		ws := &s.sessions[i]
		if ws.UserID == userID && ws.TaskID == taskID && ws.State == model.SessionRunning {
			end := at
			ws.End = &end
			ws.State = model.SessionStopped
		}
	}
	id := uuid.NewString()
	s.sessions = append(s.sessions, model.WorkSession{
		ID:      id,
		UserID:  userID,
		TaskID:  taskID,
		BlockID: blockID,
		Start:   at,
		State:   model.SessionRunning,
	})
	return id, nil
}

func (s *Store) Stop(_ context.Context, userID, taskID string, at time.Time) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	minutes, ok := s.stopLocked(userID, taskID, at)
	return minutes, ok, nil
}

func (s *Store) stopLocked(userID, taskID string, at time.Time) (int, bool) {
	i := s.latestLocked(userID, taskID, func(ws model.WorkSession) bool { return ws.State == model.SessionRunning })
	if i < 0 {
		return 0, false
	}
	ws := &s.sessions[i]
	minutes := model.WorkedMinutes(ws.Start, at)
	end := at
	ws.End = &end
	ws.MinutesWorked = &minutes
	ws.State = model.SessionStopped
	return minutes, true
}

func (s *Store) Complete(_ context.Context, userID, taskID string, at time.Time) (model.WorkSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, stopped := s.stopLocked(userID, taskID, at)
	i := s.latestLocked(userID, taskID, nil)
	if i < 0 {
		return model.WorkSession{}, stopped, fmt.Errorf("session for task %s: %w", taskID, store.ErrNotFound)
	}
	s.sessions[i].State = model.SessionCompleted
	return s.sessions[i], stopped, nil
}

func (s *Store) SetEstimateSnapshot(_ context.Context, sessionID string, estimate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sessions {
		if s.sessions[i].ID == sessionID {
			v := estimate
			s.sessions[i].EstimateSnapshot = &v
			return nil
		}
	}
	return fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
}

func (s *Store) SumToday(_ context.Context, userID, taskID string, dayStart, dayEnd time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, ws := range s.sessions {
		if ws.UserID != userID || ws.TaskID != taskID || ws.MinutesWorked == nil {
			continue
		}
		if !ws.Start.Before(dayStart) && ws.Start.Before(dayEnd) {
			total += *ws.MinutesWorked
		}
	}
	return total, nil
}

func (s *Store) LatestForTask(_ context.Context, userID, taskID string) (model.WorkSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.latestLocked(userID, taskID, nil)
	if i < 0 {
		return model.WorkSession{}, fmt.Errorf("session for task %s: %w", taskID, store.ErrNotFound)
	}
	return s.sessions[i], nil
}

// latestLocked returns the index of the most recently started matching session.
func (s *Store) latestLocked(userID, taskID string, match func(model.WorkSession) bool) int {
	best := -1
	for i, ws := range s.sessions {
		if ws.UserID != userID || ws.TaskID != taskID {
			continue
		}
		if match != nil && !match(ws) {
			continue
		}
		if best < 0 || !ws.Start.Before(s.sessions[best].Start) {
			best = i
		}
	}
	return best
}

// ---- insights ----

func (s *Store) BlocksInRange(_ context.Context, userID string, start, end time.Time) ([]model.TaskBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TaskBlock
	for _, b := range s.blocks {
		if b.UserID == userID && !b.Start.Before(start) && b.End.Before(end) {
			out = append(out, b)
		}
	}
	sortBlocks(out)
	return out, nil
}

func (s *Store) SessionsInRange(_ context.Context, userID string, start, end time.Time) ([]model.WorkSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.WorkSession
	for _, ws := range s.sessions {
		if ws.UserID == userID && !ws.Start.Before(start) && ws.Start.Before(end) {
			out = append(out, ws)
		}
	}
	return out, nil
}

func (s *Store) TasksByIDs(_ context.Context, ids []string) ([]model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Task
	for _, t := range s.tasks {
		if slices.Contains(ids, t.ID) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) CalendarBusyMinutes(_ context.Context, userID string, start, end time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	window := timeutil.Interval{Start: start, End: end}
	var total time.Duration
	for _, b := range s.busy {
		if b.UserID != userID {
			continue
		}
		total += timeutil.Interval{Start: b.Start, End: b.End}.Clip(window).Duration()
	}
	return int(total.Round(time.Minute).Minutes()), nil
}
