package store

import (
	"context"
	"fmt"
	"time"

	"reminderd/internal/core"
)

// rotatedTables is recorded on the marker; rotation always covers both log
// tables in one invocation.
const rotatedTables = "send_logs+activity_logs"

// Rotate deletes log rows older than maxAgeDays from both log tables,
// records one RotationMarker with the combined count, and compacts the
// database file. Returns 0 and writes nothing when no rows qualify. This is
// destructive; there is no export step.
func (s *Store) Rotate(ctx context.Context, maxAgeDays int) (int64, error) {
	if maxAgeDays <= 0 {
		return 0, fmt.Errorf("maxAgeDays must be positive, got %d", maxAgeDays)
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays).UnixMilli()

	var sendCount, activityCount int64
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM send_logs WHERE sent_at < ?`, cutoff).Scan(&sendCount); err != nil {
		return 0, fmt.Errorf("count old send logs: %w", err)
	}
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM activity_logs WHERE created_at < ?`, cutoff).Scan(&activityCount); err != nil {
		return 0, fmt.Errorf("count old activity logs: %w", err)
	}
	total := sendCount + activityCount
	if total == 0 {
		return 0, nil
	}

	if _, err := s.DB.ExecContext(ctx, `DELETE FROM send_logs WHERE sent_at < ?`, cutoff); err != nil {
		return 0, fmt.Errorf("delete old send logs: %w", err)
	}
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM activity_logs WHERE created_at < ?`, cutoff); err != nil {
		return 0, fmt.Errorf("delete old activity logs: %w", err)
	}
	if _, err := s.DB.ExecContext(ctx, `
		INSERT INTO log_rotation (table_name, rotated_at, records_archived)
		VALUES (?, ?, ?)
	`, rotatedTables, time.Now().UTC().Format(time.RFC3339Nano), total); err != nil {
		return 0, fmt.Errorf("insert rotation marker: %w", err)
	}
	if _, err := s.DB.ExecContext(ctx, `VACUUM`); err != nil {
		return 0, fmt.Errorf("vacuum: %w", err)
	}
	return total, nil
}

// ListRotations returns rotation markers, newest first.
func (s *Store) ListRotations(ctx context.Context) ([]core.RotationMarker, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, table_name, rotated_at, records_archived
		FROM log_rotation ORDER BY id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list rotations: %w", err)
	}
	defer rows.Close()
	var markers []core.RotationMarker
	for rows.Next() {
		var (
			marker    core.RotationMarker
			rotatedAt string
		)
		if err := rows.Scan(&marker.ID, &marker.TableName, &rotatedAt, &marker.RecordsArchived); err != nil {
			return nil, err
		}
		marker.RotatedAt, err = parseStoredTime(rotatedAt)
		if err != nil {
			return nil, fmt.Errorf("rotation %d: %w", marker.ID, err)
		}
		markers = append(markers, marker)
	}
	return markers, rows.Err()
}
