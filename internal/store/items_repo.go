package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"reminderd/internal/core"
)

var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrReminderNotFound = errors.New("reminder not found")
)

// IsNotFound reports whether err is one of the store's not-found sentinels.
func (s *Store) IsNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrReminderNotFound) ||
		errors.Is(err, ErrLogNotFound)
}

func (s *Store) InsertTask(ctx context.Context, task *core.Task) error {
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	task.Active = true
	var days any
	if len(task.Days) > 0 {
		days = core.FormatDays(task.Days)
	}
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO tasks (content, channel_ref, author_ref, hour, minute, days_of_week, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
	`, task.Content, task.ChannelRef, task.AuthorRef, task.Time.Hour, task.Time.Minute, days,
		task.CreatedAt.Format(time.RFC3339Nano), task.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	task.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("task insert id: %w", err)
	}
	return nil
}

func (s *Store) InsertReminder(ctx context.Context, reminder *core.Reminder) error {
	now := time.Now().UTC()
	reminder.CreatedAt = now
	reminder.UpdatedAt = now
	reminder.Active = true
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO reminders (content, channel_ref, author_ref, hour, minute, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
	`, reminder.Content, reminder.ChannelRef, reminder.AuthorRef, reminder.Time.Hour, reminder.Time.Minute,
		reminder.CreatedAt.Format(time.RFC3339Nano), reminder.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}
	reminder.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reminder insert id: %w", err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id int64) (*core.Task, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, content, channel_ref, author_ref, hour, minute, days_of_week, active, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

func (s *Store) GetReminder(ctx context.Context, id int64) (*core.Reminder, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, content, channel_ref, author_ref, hour, minute, active, created_at, updated_at
		FROM reminders WHERE id = ?
	`, id)
	reminder, err := scanReminder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReminderNotFound
		}
		return nil, err
	}
	return reminder, nil
}

// DeleteTask removes the row only when both id and owner match, so one
// author cannot delete another's task.
func (s *Store) DeleteTask(ctx context.Context, id int64, authorRef string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND author_ref = ?`, id, authorRef)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (s *Store) DeleteReminder(ctx context.Context, id int64, authorRef string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM reminders WHERE id = ? AND author_ref = ?`, id, authorRef)
	if err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrReminderNotFound
	}
	return nil
}

func (s *Store) ListActiveTasks(ctx context.Context) ([]*core.Task, error) {
	return s.listTasks(ctx, true)
}

func (s *Store) ListTasks(ctx context.Context) ([]*core.Task, error) {
	return s.listTasks(ctx, false)
}

func (s *Store) listTasks(ctx context.Context, activeOnly bool) ([]*core.Task, error) {
	query := `
		SELECT id, content, channel_ref, author_ref, hour, minute, days_of_week, active, created_at, updated_at
		FROM tasks`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY id`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()
	var tasks []*core.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *Store) ListActiveReminders(ctx context.Context) ([]*core.Reminder, error) {
	return s.listReminders(ctx, true)
}

func (s *Store) ListReminders(ctx context.Context) ([]*core.Reminder, error) {
	return s.listReminders(ctx, false)
}

func (s *Store) listReminders(ctx context.Context, activeOnly bool) ([]*core.Reminder, error) {
	query := `
		SELECT id, content, channel_ref, author_ref, hour, minute, active, created_at, updated_at
		FROM reminders`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY id`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query reminders: %w", err)
	}
	defer rows.Close()
	var reminders []*core.Reminder
	for rows.Next() {
		reminder, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, reminder)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reminders, nil
}

func (s *Store) InsertCompletion(ctx context.Context, completion *core.Completion) error {
	if completion.CompletedAt.IsZero() {
		completion.CompletedAt = time.Now().UTC()
	}
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO completions (task_id, user_ref, message_ref, completed_at)
		VALUES (?, ?, ?, ?)
	`, completion.TaskID, completion.UserRef, nullableString(completion.MessageRef),
		completion.CompletedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert completion: %w", err)
	}
	completion.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("completion insert id: %w", err)
	}
	return nil
}

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (*core.Task, error) {
	var (
		id         int64
		content    string
		channelRef string
		authorRef  string
		hour       int
		minute     int
		days       sql.NullString
		active     int
		createdAt  string
		updatedAt  string
	)
	if err := scanner.Scan(&id, &content, &channelRef, &authorRef, &hour, &minute, &days, &active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	createdAtT, err := parseStoredTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("task %d: %w", id, err)
	}
	updatedAtT, err := parseStoredTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("task %d: %w", id, err)
	}
	task := &core.Task{
		ID:         id,
		Content:    content,
		ChannelRef: channelRef,
		AuthorRef:  authorRef,
		Time:       core.TimeOfDay{Hour: hour, Minute: minute},
		Active:     active != 0,
		CreatedAt:  createdAtT,
		UpdatedAt:  updatedAtT,
	}
	if days.Valid && days.String != "" {
		parsed, err := core.ParseDays(days.String)
		if err != nil {
			return nil, fmt.Errorf("stored days for task %d: %w", id, err)
		}
		task.Days = parsed
	}
	return task, nil
}

func scanReminder(scanner interface {
	Scan(dest ...any) error
}) (*core.Reminder, error) {
	var (
		id         int64
		content    string
		channelRef string
		authorRef  string
		hour       int
		minute     int
		active     int
		createdAt  string
		updatedAt  string
	)
	if err := scanner.Scan(&id, &content, &channelRef, &authorRef, &hour, &minute, &active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	createdAtT, err := parseStoredTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("reminder %d: %w", id, err)
	}
	updatedAtT, err := parseStoredTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("reminder %d: %w", id, err)
	}
	return &core.Reminder{
		ID:         id,
		Content:    content,
		ChannelRef: channelRef,
		AuthorRef:  authorRef,
		Time:       core.TimeOfDay{Hour: hour, Minute: minute},
		Active:     active != 0,
		CreatedAt:  createdAtT,
		UpdatedAt:  updatedAtT,
	}, nil
}
