package core

import (
	"time"
)

// ItemKind distinguishes the two schedulable record kinds.
type ItemKind string

const (
	ItemKindTask     ItemKind = "task"
	ItemKindReminder ItemKind = "reminder"
)

// SendStatus describes the outcome of a delivery attempt.
type SendStatus string

const (
	SendStatusSuccess SendStatus = "success"
	SendStatusFailed  SendStatus = "failed"
)

// Well-known send-log kinds. Kind is an open string so callers may record
// their own categories; these are the ones the daemon itself writes.
const (
	LogKindTask     = "task"
	LogKindReminder = "reminder"
	LogKindSendOnce = "send_once"
)

// Sources recorded on log entries to mark where a send originated.
const (
	SourceScheduler = "scheduler"
	SourceHTTP      = "http"
	SourceMCP       = "mcp"
	SourceRetry     = "retry"
)

// TimeOfDay is a wall-clock trigger time.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// Task is a recurring scheduled send, optionally restricted to weekdays.
type Task struct {
	ID         int64
	Content    string
	ChannelRef string
	AuthorRef  string
	Time       TimeOfDay
	Days       []int // weekday numbers 0-6, Sunday=0; nil means every day
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Reminder is a recurring scheduled send that fires every day.
type Reminder struct {
	ID         int64
	Content    string
	ChannelRef string
	AuthorRef  string
	Time       TimeOfDay
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SendLogEntry records one delivery attempt. Rows are append-only; a retry
// produces a new entry instead of mutating the old one.
type SendLogEntry struct {
	ID                 int64
	Kind               string
	Source             *string
	ChannelRef         string
	AuthorRef          *string
	Content            *string
	Status             SendStatus
	Error              *string
	ExternalMessageRef *string
	RefID              *int64
	RetryCount         int
	SentAt             time.Time
}

// ActivityLogEntry records a non-delivery event (creations, deletions,
// completions). Kind is namespaced, e.g. "activity:completion". Append-only.
type ActivityLogEntry struct {
	ID                 int64
	Kind               string
	Source             *string
	ChannelRef         *string
	AuthorRef          *string
	Status             *string
	Error              *string
	ExternalMessageRef *string
	RefID              *int64
	Action             *string
	Emoji              *string
	Metadata           map[string]any
	CreatedAt          time.Time
}

// RotationMarker summarizes one log rotation invocation.
type RotationMarker struct {
	ID              int64
	TableName       string
	RotatedAt       time.Time
	RecordsArchived int64
}

// Completion records that a user marked a task done.
type Completion struct {
	ID          int64
	TaskID      int64
	UserRef     string
	MessageRef  *string
	CompletedAt time.Time
}
