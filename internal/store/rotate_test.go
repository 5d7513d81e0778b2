package store

import (
	"context"
	"testing"
	"time"

	"reminderd/internal/core"
)

func TestRotateArchivesOldRows(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	old := now.AddDate(0, 0, -40)

	appendSendAt(t, st, "task", "chan-1", core.SendStatusSuccess, old)
	appendSendAt(t, st, "task", "chan-1", core.SendStatusFailed, old.Add(time.Hour))
	appendActivityAt(t, st, "activity:task", old)
	appendSendAt(t, st, "reminder", "chan-1", core.SendStatusSuccess, now)
	appendActivityAt(t, st, "activity:reminder", now)

	archived, err := st.Rotate(ctx, 30)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if archived != 3 {
		t.Fatalf("archived = %d, want 3", archived)
	}

	entries, _, _, err := st.QueryLogs(ctx, LogFilter{}, "", 10)
	if err != nil {
		t.Fatalf("query after rotate: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("surviving entries = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.Timestamp.Before(now.Add(-time.Minute)) {
			t.Fatalf("old entry survived rotation: %+v", e)
		}
	}

	markers, err := st.ListRotations(ctx)
	if err != nil {
		t.Fatalf("list rotations: %v", err)
	}
	if len(markers) != 1 {
		t.Fatalf("markers = %d, want 1", len(markers))
	}
	if markers[0].TableName != "send_logs+activity_logs" || markers[0].RecordsArchived != 3 {
		t.Fatalf("marker = %+v", markers[0])
	}
}

func TestRotateNoopWhenNothingQualifies(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	appendSendAt(t, st, "task", "chan-1", core.SendStatusSuccess, time.Now().UTC())

	archived, err := st.Rotate(ctx, 30)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if archived != 0 {
		t.Fatalf("archived = %d, want 0", archived)
	}
	// No marker is written for an empty rotation.
	markers, err := st.ListRotations(ctx)
	if err != nil {
		t.Fatalf("list rotations: %v", err)
	}
	if len(markers) != 0 {
		t.Fatalf("markers = %d, want 0", len(markers))
	}
}

func TestRotateRejectsNonPositiveAge(t *testing.T) {
	st := openTestStore(t)
	if _, err := st.Rotate(context.Background(), 0); err == nil {
		t.Fatal("expected error for maxAgeDays = 0")
	}
	if _, err := st.Rotate(context.Background(), -5); err == nil {
		t.Fatal("expected error for negative maxAgeDays")
	}
}
