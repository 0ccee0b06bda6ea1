package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sandeepkv93/tasksync/internal/model"
)

// Fixed-width so that text comparison orders timestamps, which the due date
// range queries rely on.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const taskColumns = `id, title, notes, due_at, is_completed, category_id, reminder_enabled, reminder_channels,
	reminder_fire_at, repeat_frequency, repeat_interval, repeat_end_at, repeat_anchor, attachment_ids,
	last_completed_at, created_at, updated_at, deleted_at`

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) (*SQLiteRepository, error) {
	if db == nil {
		return nil, errors.New("storage: nil db")
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

// OpenSQLite opens the database at path and brings its schema up to date.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// from splitting across connections.
	db.SetMaxOpenConns(1)
	if err := MigrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	repo, err := NewSQLiteRepository(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) UpsertTask(ctx context.Context, in model.Task) error {
	attachments, err := json.Marshal(nonNilStrings(in.AttachmentIDs))
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			notes = excluded.notes,
			due_at = excluded.due_at,
			is_completed = excluded.is_completed,
			category_id = excluded.category_id,
			reminder_enabled = excluded.reminder_enabled,
			reminder_channels = excluded.reminder_channels,
			reminder_fire_at = excluded.reminder_fire_at,
			repeat_frequency = excluded.repeat_frequency,
			repeat_interval = excluded.repeat_interval,
			repeat_end_at = excluded.repeat_end_at,
			repeat_anchor = excluded.repeat_anchor,
			attachment_ids = excluded.attachment_ids,
			last_completed_at = excluded.last_completed_at,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at`,
		in.ID, in.Title, in.Notes, mustTime(in.DueAt), boolInt(in.IsCompleted), nullString(in.CategoryID),
		boolInt(in.Reminder.Enabled), joinChannels(in.Reminder.Channels), nullTime(in.Reminder.FireAt),
		string(in.RepeatRule.Frequency), in.RepeatRule.Interval, nullTime(in.RepeatRule.EndDate), zeroableTime(in.RepeatRule.Anchor),
		string(attachments), nullTime(in.LastCompletedAt), mustTime(in.CreatedAt), mustTime(in.UpdatedAt), nullTime(in.DeletedAt),
	)
	return err
}

func (r *SQLiteRepository) GetTask(ctx context.Context, id string) (model.Task, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Task{}, ErrNotFound
		}
		return model.Task{}, err
	}
	return task, nil
}

func (r *SQLiteRepository) DeleteTask(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (r *SQLiteRepository) ListTasks(ctx context.Context, filter TaskListFilter) ([]model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if !filter.DueFrom.IsZero() {
		clauses = append(clauses, "due_at >= ?")
		args = append(args, mustTime(filter.DueFrom))
	}
	if !filter.DueTo.IsZero() {
		clauses = append(clauses, "due_at < ?")
		args = append(args, mustTime(filter.DueTo))
	}
	if !filter.IncludeDeleted {
		clauses = append(clauses, "deleted_at IS NULL")
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY due_at ASC, id ASC`
	query += applyPagination(&args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Task, 0)
	for rows.Next() {
		task, scanErr := scanTask(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) UpsertCategory(ctx context.Context, in model.Category) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, icon) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, icon = excluded.icon`,
		in.ID, in.Name, in.Icon,
	)
	return err
}

func (r *SQLiteRepository) DeleteCategory(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, icon FROM categories ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Category, 0)
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Icon); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) AppendOp(ctx context.Context, op model.PendingOp) (int64, error) {
	payload, err := json.Marshal(op.Payload)
	if err != nil {
		return 0, fmt.Errorf("encode op payload: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_ops (task_id, kind, payload, attempts, next_retry_at, last_error, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		op.TaskID, string(op.Kind), string(payload), op.Attempts, nullTime(op.NextRetryAt), op.LastError, mustTime(op.EnqueuedAt),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *SQLiteRepository) UpdateOp(ctx context.Context, op model.PendingOp) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE pending_ops SET attempts = ?, next_retry_at = ?, last_error = ? WHERE seq = ?`,
		op.Attempts, nullTime(op.NextRetryAt), op.LastError, op.Seq,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (r *SQLiteRepository) DeleteOp(ctx context.Context, seq int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pending_ops WHERE seq = ?`, seq)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (r *SQLiteRepository) ListOps(ctx context.Context) ([]model.PendingOp, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT seq, task_id, kind, payload, attempts, next_retry_at, last_error, enqueued_at
		FROM pending_ops ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.PendingOp, 0)
	for rows.Next() {
		var op model.PendingOp
		var kind, payload, enqueued string
		var retry sql.NullString
		if err := rows.Scan(&op.Seq, &op.TaskID, &kind, &payload, &op.Attempts, &retry, &op.LastError, &enqueued); err != nil {
			return nil, err
		}
		op.Kind = model.OpKind(kind)
		if err := json.Unmarshal([]byte(payload), &op.Payload); err != nil {
			return nil, fmt.Errorf("decode op %d payload: %w", op.Seq, err)
		}
		if op.NextRetryAt, err = parseNullableTime(retry); err != nil {
			return nil, err
		}
		if op.EnqueuedAt, err = parseRequiredTime(enqueued); err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetCursor(ctx context.Context, userID string) (model.SyncCursor, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT last_pulled_at FROM sync_cursor WHERE user_id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SyncCursor{UserID: userID}, nil
	}
	if err != nil {
		return model.SyncCursor{}, err
	}
	at, err := parseRequiredTime(raw)
	if err != nil {
		return model.SyncCursor{}, err
	}
	return model.SyncCursor{UserID: userID, LastPulledAt: at}, nil
}

func (r *SQLiteRepository) SaveCursor(ctx context.Context, cursor model.SyncCursor) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_cursor (user_id, last_pulled_at) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET last_pulled_at = excluded.last_pulled_at`,
		cursor.UserID, mustTime(cursor.LastPulledAt),
	)
	return err
}

func (r *SQLiteRepository) GetStreak(ctx context.Context, userID string) (model.StreakState, error) {
	var state model.StreakState
	err := r.db.QueryRowContext(ctx, `SELECT streak_days, last_day FROM streak_state WHERE user_id = ?`, userID).
		Scan(&state.StreakDays, &state.LastTaskAddedDay)
	if errors.Is(err, sql.ErrNoRows) {
		return model.StreakState{}, nil
	}
	return state, err
}

func (r *SQLiteRepository) SaveStreak(ctx context.Context, userID string, state model.StreakState) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO streak_state (user_id, streak_days, last_day) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET streak_days = excluded.streak_days, last_day = excluded.last_day`,
		userID, state.StreakDays, state.LastTaskAddedDay,
	)
	return err
}

func nullTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UTC().Format(sqliteTimeLayout)
}

func zeroableTime(v time.Time) any {
	if v.IsZero() {
		return nil
	}
	return mustTime(v)
}

func mustTime(v time.Time) string {
	return v.UTC().Format(sqliteTimeLayout)
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func parseNullableTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	tm, err := time.Parse(sqliteTimeLayout, v.String)
	if err != nil {
		return nil, err
	}
	return &tm, nil
}

func parseRequiredTime(v string) (time.Time, error) {
	return time.Parse(sqliteTimeLayout, v)
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func joinChannels(chs []model.Channel) string {
	parts := make([]string, 0, len(chs))
	for _, ch := range chs {
		parts = append(parts, string(ch))
	}
	return strings.Join(parts, ",")
}

func splitChannels(raw string) []model.Channel {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]model.Channel, 0, len(parts))
	for _, p := range parts {
		out = append(out, model.Channel(strings.TrimSpace(p)))
	}
	return out
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func applyPagination(args *[]any, limit, offset int) string {
	sql := ""
	if limit > 0 {
		sql += " LIMIT ?"
		*args = append(*args, limit)
	}
	if offset > 0 {
		if limit <= 0 {
			sql += " LIMIT -1"
		}
		sql += " OFFSET ?"
		*args = append(*args, offset)
	}
	return sql
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (model.Task, error) {
	var out model.Task
	var due, created, updated, channels, frequency, attachments string
	var completed, enabled int
	var category, fireAt, endAt, anchor, lastCompleted, deleted sql.NullString
	if err := s.Scan(&out.ID, &out.Title, &out.Notes, &due, &completed, &category, &enabled, &channels,
		&fireAt, &frequency, &out.RepeatRule.Interval, &endAt, &anchor, &attachments,
		&lastCompleted, &created, &updated, &deleted); err != nil {
		return model.Task{}, err
	}

	var err error
	if out.DueAt, err = parseRequiredTime(due); err != nil {
		return model.Task{}, err
	}
	if out.CreatedAt, err = parseRequiredTime(created); err != nil {
		return model.Task{}, err
	}
	if out.UpdatedAt, err = parseRequiredTime(updated); err != nil {
		return model.Task{}, err
	}
	if out.Reminder.FireAt, err = parseNullableTime(fireAt); err != nil {
		return model.Task{}, err
	}
	if out.RepeatRule.EndDate, err = parseNullableTime(endAt); err != nil {
		return model.Task{}, err
	}
	anchorAt, err := parseNullableTime(anchor)
	if err != nil {
		return model.Task{}, err
	}
	if anchorAt != nil {
		out.RepeatRule.Anchor = *anchorAt
	}
	if out.LastCompletedAt, err = parseNullableTime(lastCompleted); err != nil {
		return model.Task{}, err
	}
	if out.DeletedAt, err = parseNullableTime(deleted); err != nil {
		return model.Task{}, err
	}
	if err := json.Unmarshal([]byte(attachments), &out.AttachmentIDs); err != nil {
		return model.Task{}, fmt.Errorf("decode attachments: %w", err)
	}
	if len(out.AttachmentIDs) == 0 {
		out.AttachmentIDs = nil
	}
	if category.Valid {
		id := category.String
		out.CategoryID = &id
	}
	out.IsCompleted = completed == 1
	out.Reminder.Enabled = enabled == 1
	out.Reminder.Channels = splitChannels(channels)
	out.RepeatRule.Frequency = model.Frequency(frequency)
	return out, nil
}

func checkRowsAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
