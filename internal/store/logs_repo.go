package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"reminderd/internal/core"
)

var ErrLogNotFound = errors.New("log entry not found")

// Streams identifying which table a merged log entry came from.
const (
	StreamSend     = "send"
	StreamActivity = "activity"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 200
)

// LogFilter is a conjunction of optional predicates over the merged log
// stream.
type LogFilter struct {
	Kind       string // substring match
	Status     string // exact match
	ChannelRef string // exact match
	FreeText   string // substring across content/kind/error
}

// LogEntry is one row of the merged send/activity audit stream.
type LogEntry struct {
	ID                 int64
	Stream             string
	Kind               string
	Source             *string
	ChannelRef         *string
	AuthorRef          *string
	Content            *string
	Status             *string
	Error              *string
	ExternalMessageRef *string
	RefID              *int64
	RetryCount         int
	Action             *string
	Emoji              *string
	Metadata           map[string]any
	Timestamp          time.Time
}

func (s *Store) AppendSendLog(ctx context.Context, entry *core.SendLogEntry) error {
	if entry.SentAt.IsZero() {
		entry.SentAt = time.Now().UTC()
	}
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO send_logs (kind, source, channel_ref, author_ref, content, status, error, external_message_ref, ref_id, retry_count, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.Kind, nullableString(entry.Source), entry.ChannelRef, nullableString(entry.AuthorRef),
		nullableString(entry.Content), entry.Status, nullableString(entry.Error),
		nullableString(entry.ExternalMessageRef), nullableInt64(entry.RefID), entry.RetryCount,
		entry.SentAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append send log: %w", err)
	}
	entry.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("send log insert id: %w", err)
	}
	return nil
}

func (s *Store) AppendActivityLog(ctx context.Context, entry *core.ActivityLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	var metadata any
	if entry.Metadata != nil {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("encode activity metadata: %w", err)
		}
		metadata = string(encoded)
	}
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO activity_logs (kind, source, channel_ref, author_ref, status, error, external_message_ref, ref_id, action, emoji, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.Kind, nullableString(entry.Source), nullableString(entry.ChannelRef), nullableString(entry.AuthorRef),
		nullableString(entry.Status), nullableString(entry.Error), nullableString(entry.ExternalMessageRef),
		nullableInt64(entry.RefID), nullableString(entry.Action), nullableString(entry.Emoji), metadata,
		entry.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append activity log: %w", err)
	}
	entry.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("activity log insert id: %w", err)
	}
	return nil
}

func (s *Store) GetSendLog(ctx context.Context, id int64) (*core.SendLogEntry, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, kind, source, channel_ref, author_ref, content, status, error, external_message_ref, ref_id, retry_count, sent_at
		FROM send_logs WHERE id = ?
	`, id)
	entry, err := scanSendLog(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLogNotFound
		}
		return nil, err
	}
	return entry, nil
}

// QueryLogs serves the merged, filtered, cursor-paginated view over both log
// tables. Each table is queried independently with the cursor predicate
// pushed down, ordered (timestamp DESC, id DESC); the union is re-sorted and
// truncated to limit. hasMore reports whether rows beyond the page exist;
// nextCursor is the sort key of the last returned row.
func (s *Store) QueryLogs(ctx context.Context, filter LogFilter, cursorToken string, limit int) ([]LogEntry, bool, string, error) {
	cursor, err := DecodeCursor(cursorToken)
	if err != nil {
		return nil, false, "", err
	}
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}

	sendRows, err := s.querySendLogs(ctx, filter, cursor, limit+1)
	if err != nil {
		return nil, false, "", err
	}
	activityRows, err := s.queryActivityLogs(ctx, filter, cursor, limit+1)
	if err != nil {
		return nil, false, "", err
	}

	merged := append(sendRows, activityRows...)
	sort.Slice(merged, func(i, j int) bool {
		ti, tj := merged[i].Timestamp.UnixMilli(), merged[j].Timestamp.UnixMilli()
		if ti != tj {
			return ti > tj
		}
		return merged[i].ID > merged[j].ID
	})

	hasMore := len(merged) > limit
	if hasMore {
		merged = merged[:limit]
	}
	nextCursor := ""
	if hasMore && len(merged) > 0 {
		last := merged[len(merged)-1]
		nextCursor = Cursor{TimestampMillis: last.Timestamp.UnixMilli(), ID: last.ID}.Encode()
	}
	return merged, hasMore, nextCursor, nil
}

func (s *Store) querySendLogs(ctx context.Context, filter LogFilter, cursor *Cursor, limit int) ([]LogEntry, error) {
	query := `
		SELECT id, kind, source, channel_ref, author_ref, content, status, error, external_message_ref, ref_id, retry_count, sent_at
		FROM send_logs WHERE 1=1`
	var args []any
	query, args = appendFilter(query, args, filter, "content")
	if cursor != nil {
		query += ` AND (sent_at < ? OR (sent_at = ? AND id < ?))`
		args = append(args, cursor.TimestampMillis, cursor.TimestampMillis, cursor.ID)
	}
	query += ` ORDER BY sent_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query send logs: %w", err)
	}
	defer rows.Close()
	var entries []LogEntry
	for rows.Next() {
		sendEntry, err := scanSendLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, sendEntryToLogEntry(sendEntry))
	}
	return entries, rows.Err()
}

func (s *Store) queryActivityLogs(ctx context.Context, filter LogFilter, cursor *Cursor, limit int) ([]LogEntry, error) {
	query := `
		SELECT id, kind, source, channel_ref, author_ref, status, error, external_message_ref, ref_id, action, emoji, metadata, created_at
		FROM activity_logs WHERE 1=1`
	var args []any
	query, args = appendFilter(query, args, filter, "")
	if cursor != nil {
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, cursor.TimestampMillis, cursor.TimestampMillis, cursor.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activity logs: %w", err)
	}
	defer rows.Close()
	var entries []LogEntry
	for rows.Next() {
		entry, err := scanActivityLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// appendFilter adds the shared filter predicates. contentColumn names the
// table's free-text content column; empty when the table has none.
func appendFilter(query string, args []any, filter LogFilter, contentColumn string) (string, []any) {
	if filter.Kind != "" {
		query += ` AND kind LIKE ?`
		args = append(args, "%"+filter.Kind+"%")
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.ChannelRef != "" {
		query += ` AND channel_ref = ?`
		args = append(args, filter.ChannelRef)
	}
	if filter.FreeText != "" {
		pattern := "%" + filter.FreeText + "%"
		if contentColumn != "" {
			query += fmt.Sprintf(` AND (%s LIKE ? OR kind LIKE ? OR error LIKE ?)`, contentColumn)
			args = append(args, pattern, pattern, pattern)
		} else {
			query += ` AND (kind LIKE ? OR error LIKE ?)`
			args = append(args, pattern, pattern)
		}
	}
	return query, args
}

// ClearLogs deletes all rows from both log tables and resets their
// auto-increment counters.
func (s *Store) ClearLogs(ctx context.Context) error {
	for _, table := range []string{"send_logs", "activity_logs"} {
		if _, err := s.DB.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM sqlite_sequence WHERE name IN ('send_logs', 'activity_logs')`); err != nil {
		return fmt.Errorf("reset log sequences: %w", err)
	}
	return nil
}

// Stats aggregates the counters the dashboard's overview needs.
type Stats struct {
	ActiveTasks     int64
	ActiveReminders int64
	SendLogs        int64
	FailedSends     int64
	ActivityLogs    int64
	Completions     int64
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	counts := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(1) FROM tasks WHERE active = 1`, &stats.ActiveTasks},
		{`SELECT COUNT(1) FROM reminders WHERE active = 1`, &stats.ActiveReminders},
		{`SELECT COUNT(1) FROM send_logs`, &stats.SendLogs},
		{`SELECT COUNT(1) FROM send_logs WHERE status = 'failed'`, &stats.FailedSends},
		{`SELECT COUNT(1) FROM activity_logs`, &stats.ActivityLogs},
		{`SELECT COUNT(1) FROM completions`, &stats.Completions},
	}
	for _, c := range counts {
		if err := s.DB.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("stats query: %w", err)
		}
	}
	return stats, nil
}

func scanSendLog(scanner interface {
	Scan(dest ...any) error
}) (*core.SendLogEntry, error) {
	var (
		id         int64
		kind       string
		source     sql.NullString
		channelRef string
		authorRef  sql.NullString
		content    sql.NullString
		status     string
		errMsg     sql.NullString
		messageRef sql.NullString
		refID      sql.NullInt64
		retryCount int
		sentAt     int64
	)
	if err := scanner.Scan(&id, &kind, &source, &channelRef, &authorRef, &content, &status, &errMsg, &messageRef, &refID, &retryCount, &sentAt); err != nil {
		return nil, err
	}
	entry := &core.SendLogEntry{
		ID:         id,
		Kind:       kind,
		ChannelRef: channelRef,
		Status:     core.SendStatus(status),
		RetryCount: retryCount,
		SentAt:     time.UnixMilli(sentAt).UTC(),
	}
	if source.Valid {
		entry.Source = &source.String
	}
	if authorRef.Valid {
		entry.AuthorRef = &authorRef.String
	}
	if content.Valid {
		entry.Content = &content.String
	}
	if errMsg.Valid {
		entry.Error = &errMsg.String
	}
	if messageRef.Valid {
		entry.ExternalMessageRef = &messageRef.String
	}
	if refID.Valid {
		entry.RefID = &refID.Int64
	}
	return entry, nil
}

func sendEntryToLogEntry(entry *core.SendLogEntry) LogEntry {
	channelRef := entry.ChannelRef
	status := string(entry.Status)
	return LogEntry{
		ID:                 entry.ID,
		Stream:             StreamSend,
		Kind:               entry.Kind,
		Source:             entry.Source,
		ChannelRef:         &channelRef,
		AuthorRef:          entry.AuthorRef,
		Content:            entry.Content,
		Status:             &status,
		Error:              entry.Error,
		ExternalMessageRef: entry.ExternalMessageRef,
		RefID:              entry.RefID,
		RetryCount:         entry.RetryCount,
		Timestamp:          entry.SentAt,
	}
}

func scanActivityLog(scanner interface {
	Scan(dest ...any) error
}) (LogEntry, error) {
	var (
		id         int64
		kind       string
		source     sql.NullString
		channelRef sql.NullString
		authorRef  sql.NullString
		status     sql.NullString
		errMsg     sql.NullString
		messageRef sql.NullString
		refID      sql.NullInt64
		action     sql.NullString
		emoji      sql.NullString
		metadata   sql.NullString
		createdAt  int64
	)
	if err := scanner.Scan(&id, &kind, &source, &channelRef, &authorRef, &status, &errMsg, &messageRef, &refID, &action, &emoji, &metadata, &createdAt); err != nil {
		return LogEntry{}, err
	}
	entry := LogEntry{
		ID:        id,
		Stream:    StreamActivity,
		Kind:      kind,
		Timestamp: time.UnixMilli(createdAt).UTC(),
	}
	if source.Valid {
		entry.Source = &source.String
	}
	if channelRef.Valid {
		entry.ChannelRef = &channelRef.String
	}
	if authorRef.Valid {
		entry.AuthorRef = &authorRef.String
	}
	if status.Valid {
		entry.Status = &status.String
	}
	if errMsg.Valid {
		entry.Error = &errMsg.String
	}
	if messageRef.Valid {
		entry.ExternalMessageRef = &messageRef.String
	}
	if refID.Valid {
		entry.RefID = &refID.Int64
	}
	if action.Valid {
		entry.Action = &action.String
	}
	if emoji.Valid {
		entry.Emoji = &emoji.String
	}
	if metadata.Valid && metadata.String != "" {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(metadata.String), &decoded); err == nil {
			entry.Metadata = decoded
		}
	}
	return entry, nil
}
