package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harrisonrobin/dayblock/pkg/model"
	"github.com/harrisonrobin/dayblock/pkg/store"
	"github.com/harrisonrobin/dayblock/pkg/timeutil"
)

const sessionColumns = `id, user_id, task_id, block_id, start_ts, end_ts, minutes_worked, est_snapshot, state`

func scanSession(r rowScanner) (model.WorkSession, error) {
	var (
		ws       model.WorkSession
		blockID  sql.NullString
		start    string
		end      sql.NullString
		minutes  sql.NullInt64
		snapshot sql.NullInt64
	)
	if err := r.Scan(&ws.ID, &ws.UserID, &ws.TaskID, &blockID, &start, &end, &minutes, &snapshot, &ws.State); err != nil {
		return ws, err
	}
	ws.BlockID = blockID.String
	var err error
	if ws.Start, err = parseTS(start); err != nil {
		return ws, err
	}
	if end.Valid {
		t, err := parseTS(end.String)
		if err != nil {
			return ws, err
		}
		ws.End = &t
	}
	if minutes.Valid {
		v := int(minutes.Int64)
		ws.MinutesWorked = &v
	}
	if snapshot.Valid {
		v := int(snapshot.Int64)
		ws.EstimateSnapshot = &v
	}
	return ws, nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) Start(ctx context.Context, userID, taskID, blockID string, at time.Time) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	// Dangling running sessions are closed without credit.
	if _, err := tx.ExecContext(ctx,
		`UPDATE task_sessions SET state = ?, end_ts = ? WHERE user_id = ? AND task_id = ? AND state = ?`,
		string(model.SessionStopped), ts(at), userID, taskID, string(model.SessionRunning)); err != nil {
		return "", err
	}

	id := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO task_sessions(id, user_id, task_id, block_id, start_ts, state) VALUES(?,?,?,?,?,?)`,
		id, userID, taskID, nullStr(blockID), ts(at), string(model.SessionRunning)); err != nil {
		return "", err
	}
	return id, tx.Commit()
}

func stopRunning(ctx context.Context, db execer, userID, taskID string, at time.Time) (int, bool, error) {
	var (
		id    string
		start string
	)
	err := db.QueryRowContext(ctx,
		`SELECT id, start_ts FROM task_sessions WHERE user_id = ? AND task_id = ? AND state = ?
		 ORDER BY start_ts DESC LIMIT 1`,
		userID, taskID, string(model.SessionRunning)).Scan(&id, &start)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	startedAt, err := parseTS(start)
	if err != nil {
		return 0, false, err
	}
	minutes := model.WorkedMinutes(startedAt, at)
	if _, err := db.ExecContext(ctx,
		`UPDATE task_sessions SET state = ?, end_ts = ?, minutes_worked = ? WHERE id = ?`,
		string(model.SessionStopped), ts(at), minutes, id); err != nil {
		return 0, false, err
	}
	return minutes, true, nil
}

func (s *Store) Stop(ctx context.Context, userID, taskID string, at time.Time) (int, bool, error) {
	return stopRunning(ctx, s.db, userID, taskID, at)
}

func (s *Store) Complete(ctx context.Context, userID, taskID string, at time.Time) (model.WorkSession, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.WorkSession{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	_, stopped, err := stopRunning(ctx, tx, userID, taskID, at)
	if err != nil {
		return model.WorkSession{}, false, err
	}
	ws, err := scanSession(tx.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM task_sessions WHERE user_id = ? AND task_id = ? ORDER BY start_ts DESC LIMIT 1`,
		userID, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.WorkSession{}, stopped, fmt.Errorf("session for task %s: %w", taskID, store.ErrNotFound)
	}
	if err != nil {
		return model.WorkSession{}, stopped, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE task_sessions SET state = ? WHERE id = ?`,
		string(model.SessionCompleted), ws.ID); err != nil {
		return model.WorkSession{}, stopped, err
	}
	ws.State = model.SessionCompleted
	return ws, stopped, tx.Commit()
}

func (s *Store) SetEstimateSnapshot(ctx context.Context, sessionID string, estimate int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE task_sessions SET est_snapshot = ? WHERE id = ?`, estimate, sessionID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) SumToday(ctx context.Context, userID, taskID string, dayStart, dayEnd time.Time) (int, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(minutes_worked) FROM task_sessions
		 WHERE user_id = ? AND task_id = ? AND start_ts >= ? AND start_ts < ?`,
		userID, taskID, ts(dayStart), ts(dayEnd)).Scan(&total)
	if err != nil {
		return 0, err
	}
	return int(total.Int64), nil
}

func (s *Store) LatestForTask(ctx context.Context, userID, taskID string) (model.WorkSession, error) {
	ws, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM task_sessions WHERE user_id = ? AND task_id = ? ORDER BY start_ts DESC LIMIT 1`,
		userID, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.WorkSession{}, fmt.Errorf("session for task %s: %w", taskID, store.ErrNotFound)
	}
	return ws, err
}

// ---- insights ----

func (s *Store) BlocksInRange(ctx context.Context, userID string, start, end time.Time) ([]model.TaskBlock, error) {
	return s.queryBlocks(ctx,
		`SELECT `+blockColumns+` FROM task_blocks WHERE user_id = ? AND start_ts >= ? AND end_ts < ? ORDER BY start_ts`,
		userID, ts(start), ts(end))
}

func (s *Store) SessionsInRange(ctx context.Context, userID string, start, end time.Time) ([]model.WorkSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM task_sessions WHERE user_id = ? AND start_ts >= ? AND start_ts < ? ORDER BY start_ts`,
		userID, ts(start), ts(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.WorkSession
	for rows.Next() {
		ws, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

func (s *Store) TasksByIDs(ctx context.Context, ids []string) ([]model.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id IN (`+inClause(len(ids))+`) ORDER BY rowid`, stringArgs(ids)...)
}

func (s *Store) CalendarBusyMinutes(ctx context.Context, userID string, start, end time.Time) (int, error) {
	busy, err := s.BusyIntervals(ctx, userID, start, end)
	if err != nil {
		return 0, err
	}
	window := timeutil.Interval{Start: start, End: end}
	var total time.Duration
	for _, b := range busy {
		total += timeutil.Interval{Start: b.Start, End: b.End}.Clip(window).Duration()
	}
	return int(total.Round(time.Minute).Minutes()), nil
}
