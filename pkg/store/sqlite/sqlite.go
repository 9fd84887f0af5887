// Package sqlite implements store.Store on a SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/harrisonrobin/dayblock/pkg/logx"
	"github.com/harrisonrobin/dayblock/pkg/model"
	"github.com/harrisonrobin/dayblock/pkg/store"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// tsLayout is fixed width in UTC so string order equals time order.
const tsLayout = "2006-01-02T15:04:05.000Z07:00"

type Config struct {
	Path        string
	BusyTimeout time.Duration
}

type Store struct {
	db  *sql.DB
	log logx.Logger
}

var _ store.Store = (*Store)(nil)

// Open opens (and migrates) the database at cfg.Path.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", cfg.Path, err)
	}
	log.Debug("sqlite store opened", logx.String("path", cfg.Path))
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ts(t time.Time) string { return t.UTC().Format(tsLayout) }

func parseTS(v string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

// inClause renders "?,?,?" for n placeholders.
func inClause(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(vals []string) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}

// ---- tasks ----

const taskColumns = `id, user_id, title, notes, priority, due_date, est_minutes, actual_minutes, status, source`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (model.Task, error) {
	var (
		t   model.Task
		due sql.NullString
	)
	err := r.Scan(&t.ID, &t.UserID, &t.Title, &t.Notes, &t.Priority, &due,
		&t.EstimatedMinutes, &t.ActualMinutes, &t.Status, &t.Source)
	t.Due = due.String
	return t, err
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetSchedulable(ctx context.Context, userID string, include, exclude []string) ([]model.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = ? AND status = ?`
	args := []any{userID, string(model.StatusTodo)}
	if len(include) > 0 {
		q += ` AND id IN (` + inClause(len(include)) + `)`
		args = append(args, stringArgs(include)...)
	}
	if len(exclude) > 0 {
		q += ` AND id NOT IN (` + inClause(len(exclude)) + `)`
		args = append(args, stringArgs(exclude)...)
	}
	q += ` ORDER BY rowid`
	return s.queryTasks(ctx, q, args...)
}

func (s *Store) GetTask(ctx context.Context, userID, taskID string) (model.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE user_id = ? AND id = ?`, userID, taskID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, fmt.Errorf("task %s: %w", taskID, store.ErrNotFound)
	}
	return t, err
}

func (s *Store) ListTasks(ctx context.Context, userID string) ([]model.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE user_id = ? ORDER BY rowid`, userID)
}

func (s *Store) GetUserSettings(ctx context.Context, userID string) (model.UserSettings, bool, error) {
	var st model.UserSettings
	err := s.db.QueryRowContext(ctx,
		`SELECT tz, workday_start, workday_end FROM user_settings WHERE user_id = ?`, userID,
	).Scan(&st.Timezone, &st.WorkdayStart, &st.WorkdayEnd)
	if errors.Is(err, sql.ErrNoRows) {
		return model.UserSettings{}, false, nil
	}
	if err != nil {
		return model.UserSettings{}, false, err
	}
	return st, true, nil
}

func (s *Store) PutUserSettings(ctx context.Context, userID string, st model.UserSettings) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_settings(user_id, tz, workday_start, workday_end) VALUES(?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET tz=excluded.tz, workday_start=excluded.workday_start, workday_end=excluded.workday_end`,
		userID, st.Timezone, st.WorkdayStart, st.WorkdayEnd)
	return err
}

// UpsertTask inserts or replaces a task's editable fields. Cumulative
// actuals are never overwritten.
func (s *Store) UpsertTask(ctx context.Context, t model.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Source == "" {
		t.Source = "manual"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, user_id, title, notes, priority, due_date, est_minutes, status, source)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET title=excluded.title, notes=excluded.notes, priority=excluded.priority,
		   due_date=excluded.due_date, est_minutes=excluded.est_minutes, status=excluded.status, source=excluded.source`,
		t.ID, t.UserID, t.Title, t.Notes, string(t.Priority), nullStr(t.Due), t.EstimatedMinutes, string(t.Status), t.Source)
	return err
}

func (s *Store) execTask(ctx context.Context, taskID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("task %s: %w", taskID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) SetStatus(ctx context.Context, userID, taskID string, status model.TaskStatus) error {
	return s.execTask(ctx, taskID, `UPDATE tasks SET status = ? WHERE user_id = ? AND id = ?`, string(status), userID, taskID)
}

func (s *Store) UpdateEstimateAndStatus(ctx context.Context, userID, taskID string, est int, status model.TaskStatus) error {
	return s.execTask(ctx, taskID, `UPDATE tasks SET est_minutes = ?, status = ? WHERE user_id = ? AND id = ?`,
		est, string(status), userID, taskID)
}

func (s *Store) BumpActuals(ctx context.Context, userID, taskID string, minutes int) error {
	return s.execTask(ctx, taskID, `UPDATE tasks SET actual_minutes = actual_minutes + ? WHERE user_id = ? AND id = ?`,
		minutes, userID, taskID)
}

// ---- calendar busy ----

func scanBusy(r rowScanner) (model.BusyInterval, error) {
	var (
		b          model.BusyInterval
		start, end string
	)
	if err := r.Scan(&b.UserID, &b.SourceID, &b.ExternalID, &b.Summary, &start, &end); err != nil {
		return b, err
	}
	var err error
	if b.Start, err = parseTS(start); err != nil {
		return b, err
	}
	b.End, err = parseTS(end)
	return b, err
}

const busyColumns = `user_id, source_id, external_id, summary, start_ts, end_ts`

func (s *Store) BusyIntervals(ctx context.Context, userID string, start, end time.Time) ([]model.BusyInterval, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+busyColumns+` FROM calendar_events WHERE user_id = ? AND start_ts < ? AND end_ts > ? ORDER BY start_ts`,
		userID, ts(end), ts(start))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.BusyInterval
	for rows.Next() {
		b, err := scanBusy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) EventByExternalID(ctx context.Context, userID, externalID string) (model.BusyInterval, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+busyColumns+` FROM calendar_events WHERE user_id = ? AND external_id = ? LIMIT 1`, userID, externalID)
	b, err := scanBusy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.BusyInterval{}, fmt.Errorf("calendar event %s: %w", externalID, store.ErrNotFound)
	}
	return b, err
}

func (s *Store) ReplaceBusy(ctx context.Context, userID, sourceID string, start, end time.Time, intervals []model.BusyInterval) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+busyColumns+` FROM calendar_events WHERE user_id = ? AND source_id = ? AND start_ts < ? AND end_ts > ?`,
		userID, sourceID, ts(end), ts(start))
	if err != nil {
		return nil, err
	}
	old := make(map[string]model.BusyInterval)
	for rows.Next() {
		b, err := scanBusy(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		old[b.ExternalID] = b
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM calendar_events WHERE user_id = ? AND source_id = ? AND start_ts < ? AND end_ts > ?`,
		userID, sourceID, ts(end), ts(start)); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(intervals))
	var changed []string
	for _, b := range intervals {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO calendar_events(user_id, source_id, external_id, summary, start_ts, end_ts) VALUES(?,?,?,?,?,?)
			 ON CONFLICT(user_id, source_id, external_id) DO UPDATE SET summary=excluded.summary, start_ts=excluded.start_ts, end_ts=excluded.end_ts`,
			userID, sourceID, b.ExternalID, b.Summary, ts(b.Start), ts(b.End)); err != nil {
			return nil, err
		}
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
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	sort.Strings(changed)
	return changed, nil
}

// ---- blocks ----

const blockColumns = `id, user_id, task_id, proposal_id, start_ts, end_ts, buffer_minutes, state, external_event_id, chunk_index, reason`

func scanBlock(r rowScanner) (model.TaskBlock, error) {
	var (
		b          model.TaskBlock
		start, end string
		ext        sql.NullString
	)
	if err := r.Scan(&b.ID, &b.UserID, &b.TaskID, &b.ProposalID, &start, &end,
		&b.BufferMinutes, &b.State, &ext, &b.ChunkIndex, &b.Reason); err != nil {
		return b, err
	}
	b.ExternalEventID = ext.String
	var err error
	if b.Start, err = parseTS(start); err != nil {
		return b, err
	}
	b.End, err = parseTS(end)
	return b, err
}

func (s *Store) queryBlocks(ctx context.Context, query string, args ...any) ([]model.TaskBlock, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.TaskBlock
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) PersistPlanned(ctx context.Context, userID, proposalID string, blocks []model.TaskBlock) error {
	if len(blocks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, b := range blocks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO task_blocks(id, user_id, task_id, proposal_id, start_ts, end_ts, buffer_minutes, state, chunk_index, reason)
			 VALUES(?,?,?,?,?,?,?,?,?,?)`,
			b.ID, userID, b.TaskID, proposalID, ts(b.Start), ts(b.End), b.BufferMinutes,
			string(model.BlockPlanned), b.ChunkIndex, b.Reason); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) execBlock(ctx context.Context, blockID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("block %s: %w", blockID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) MarkConfirmed(ctx context.Context, blockID, externalEventID string) error {
	return s.execBlock(ctx, blockID, `UPDATE task_blocks SET external_event_id = ?, state = ? WHERE id = ?`,
		externalEventID, string(model.BlockConfirmed), blockID)
}

func (s *Store) MarkExecuted(ctx context.Context, blockID string) error {
	return s.execBlock(ctx, blockID, `UPDATE task_blocks SET state = ? WHERE id = ?`, string(model.BlockExecuted), blockID)
}

func (s *Store) GetBlock(ctx context.Context, blockID string) (model.TaskBlock, error) {
	b, err := scanBlock(s.db.QueryRowContext(ctx, `SELECT `+blockColumns+` FROM task_blocks WHERE id = ?`, blockID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.TaskBlock{}, fmt.Errorf("block %s: %w", blockID, store.ErrNotFound)
	}
	return b, err
}

func (s *Store) ConfirmedInWindow(ctx context.Context, userID string, start, end time.Time) ([]model.TaskBlock, error) {
	return s.queryBlocks(ctx,
		`SELECT `+blockColumns+` FROM task_blocks WHERE user_id = ? AND state = ? AND start_ts < ? AND end_ts > ? ORDER BY start_ts`,
		userID, string(model.BlockConfirmed), ts(end), ts(start))
}

func (s *Store) DeletePlannedInWindow(ctx context.Context, userID string, start, end time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM task_blocks WHERE user_id = ? AND state = ? AND start_ts < ? AND end_ts > ?`,
		userID, string(model.BlockPlanned), ts(end), ts(start))
	return err
}

func (s *Store) DeletePlannedForTaskInWindow(ctx context.Context, userID, taskID string, start, end time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM task_blocks WHERE user_id = ? AND task_id = ? AND state = ? AND start_ts < ? AND end_ts > ?`,
		userID, taskID, string(model.BlockPlanned), ts(end), ts(start))
	return err
}

func (s *Store) DeletePlannedForDay(ctx context.Context, userID string, dayStart, dayEnd time.Time) error {
	return s.DeletePlannedInWindow(ctx, userID, dayStart, dayEnd)
}

func (s *Store) GetByProposal(ctx context.Context, userID, proposalID string, acceptIDs []string) ([]model.TaskBlock, error) {
	q := `SELECT ` + blockColumns + ` FROM task_blocks WHERE user_id = ? AND proposal_id = ? AND state = ?`
	args := []any{userID, proposalID, string(model.BlockPlanned)}
	if len(acceptIDs) > 0 {
		q += ` AND id IN (` + inClause(len(acceptIDs)) + `)`
		args = append(args, stringArgs(acceptIDs)...)
	}
	return s.queryBlocks(ctx, q+` ORDER BY start_ts`, args...)
}

func (s *Store) ProposalExists(ctx context.Context, userID, proposalID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM task_blocks WHERE user_id = ? AND proposal_id = ?)`,
		userID, proposalID).Scan(&exists)
	return exists, err
}

func (s *Store) DeleteUnacceptedForProposal(ctx context.Context, userID, proposalID string, acceptIDs []string) error {
	q := `DELETE FROM task_blocks WHERE user_id = ? AND proposal_id = ? AND state = ?`
	args := []any{userID, proposalID, string(model.BlockPlanned)}
	if len(acceptIDs) > 0 {
		q += ` AND id NOT IN (` + inClause(len(acceptIDs)) + `)`
		args = append(args, stringArgs(acceptIDs)...)
	}
	_, err := s.db.ExecContext(ctx, q, args...)
	return err
}
