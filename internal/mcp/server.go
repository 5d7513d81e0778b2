package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"reminderd/internal/core"
	"reminderd/internal/store"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes the schedule and log operations as MCP tools over stdio.
type MCPServer struct {
	store     *store.Store
	scheduler *core.Scheduler
	deliverer *core.Deliverer
	logger    *slog.Logger
	location  *time.Location
}

// NewMCPServer creates a new MCP server instance.
func NewMCPServer(st *store.Store, scheduler *core.Scheduler, deliverer *core.Deliverer, logger *slog.Logger, location *time.Location) *MCPServer {
	return &MCPServer{
		store:     st,
		scheduler: scheduler,
		deliverer: deliverer,
		logger:    logger,
		location:  location,
	}
}

// Run starts the MCP server using stdio transport.
func (s *MCPServer) Run() error {
	mcpServer := server.NewMCPServer(
		"reminderd",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)
	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(mcpServer)
}

func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("reminder_add",
		mcp.WithDescription("Create a recurring reminder that fires every day at a fixed time"),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Message to deliver"),
		),
		mcp.WithString("channel_ref",
			mcp.Required(),
			mcp.Description("Target channel reference"),
		),
		mcp.WithString("author_ref",
			mcp.Required(),
			mcp.Description("Reference of the creating user"),
		),
		mcp.WithString("time",
			mcp.Required(),
			mcp.Description("Trigger time in HH:MM, e.g. '09:00'"),
		),
	), s.handleAddReminder)

	mcpServer.AddTool(mcp.NewTool("task_add",
		mcp.WithDescription("Create a recurring task, optionally restricted to weekdays"),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Message to deliver"),
		),
		mcp.WithString("channel_ref",
			mcp.Required(),
			mcp.Description("Target channel reference"),
		),
		mcp.WithString("author_ref",
			mcp.Required(),
			mcp.Description("Reference of the creating user"),
		),
		mcp.WithString("time",
			mcp.Required(),
			mcp.Description("Trigger time in HH:MM"),
		),
		mcp.WithString("days",
			mcp.Description("Comma-separated weekday numbers 0-6 (Sunday=0), e.g. '1,2,3,4,5'; empty means every day"),
		),
	), s.handleAddTask)

	mcpServer.AddTool(mcp.NewTool("schedule_list",
		mcp.WithDescription("List scheduled tasks and reminders"),
	), s.handleScheduleList)

	mcpServer.AddTool(mcp.NewTool("schedule_delete",
		mcp.WithDescription("Delete a task or reminder and cancel its trigger"),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Enum("task", "reminder"),
			mcp.Description("Item kind"),
		),
		mcp.WithNumber("id",
			mcp.Required(),
			mcp.Description("Item id"),
		),
		mcp.WithString("author_ref",
			mcp.Required(),
			mcp.Description("Owner reference; must match the creating user"),
		),
	), s.handleScheduleDelete)

	mcpServer.AddTool(mcp.NewTool("logs_query",
		mcp.WithDescription("Query the merged send/activity log, newest first, cursor-paginated"),
		mcp.WithString("kind",
			mcp.Description("Substring match on kind"),
		),
		mcp.WithString("status",
			mcp.Enum("success", "failed"),
			mcp.Description("Exact status filter"),
		),
		mcp.WithString("channel_ref",
			mcp.Description("Exact channel filter"),
		),
		mcp.WithString("q",
			mcp.Description("Free-text substring across content/kind/error"),
		),
		mcp.WithString("cursor",
			mcp.Description("Pagination cursor from a previous call"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Page size, default 20"),
			mcp.Min(1),
			mcp.Max(100),
		),
	), s.handleLogsQuery)

	mcpServer.AddTool(mcp.NewTool("logs_retry",
		mcp.WithDescription("Replay the delivery behind a failed send-log entry"),
		mcp.WithNumber("log_id",
			mcp.Required(),
			mcp.Description("Send-log entry id"),
		),
	), s.handleLogsRetry)

	mcpServer.AddTool(mcp.NewTool("logs_rotate",
		mcp.WithDescription("Delete log entries older than a retention threshold"),
		mcp.WithNumber("max_age_days",
			mcp.Description("Retention in days, default 30"),
			mcp.Min(1),
		),
	), s.handleLogsRotate)

	mcpServer.AddTool(mcp.NewTool("stats",
		mcp.WithDescription("Aggregate counts: active schedules, log totals, failures"),
	), s.handleStats)

	s.logger.Info("MCP tools registered", "count", 8)
}

func (s *MCPServer) handleAddReminder(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content := strings.TrimSpace(mcp.ParseString(request, "content", ""))
	channelRef := mcp.ParseString(request, "channel_ref", "")
	authorRef := mcp.ParseString(request, "author_ref", "")
	if content == "" || channelRef == "" || authorRef == "" {
		return mcp.NewToolResultError("content, channel_ref and author_ref are required"), nil
	}
	timeOfDay, err := core.ParseTimeOfDay(mcp.ParseString(request, "time", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	reminder := &core.Reminder{
		Content:    content,
		ChannelRef: channelRef,
		AuthorRef:  authorRef,
		Time:       timeOfDay,
	}
	if err := s.store.InsertReminder(ctx, reminder); err != nil {
		s.logger.Error("insert reminder", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to create reminder: %v", err)), nil
	}
	if err := s.scheduler.Register(core.ItemKindReminder, reminder.ID, reminder.Time, nil); err != nil {
		s.logger.Error("register reminder", "reminder_id", reminder.ID, "err", err)
	}
	s.appendActivity(ctx, "activity:reminder", &channelRef, &authorRef, &reminder.ID)

	return mcp.NewToolResultText(fmt.Sprintf("Reminder created\nID: %d\nFires daily at %s", reminder.ID, reminder.Time)), nil
}

func (s *MCPServer) handleAddTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content := strings.TrimSpace(mcp.ParseString(request, "content", ""))
	channelRef := mcp.ParseString(request, "channel_ref", "")
	authorRef := mcp.ParseString(request, "author_ref", "")
	if content == "" || channelRef == "" || authorRef == "" {
		return mcp.NewToolResultError("content, channel_ref and author_ref are required"), nil
	}
	timeOfDay, err := core.ParseTimeOfDay(mcp.ParseString(request, "time", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	days, err := core.ParseDays(mcp.ParseString(request, "days", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	task := &core.Task{
		Content:    content,
		ChannelRef: channelRef,
		AuthorRef:  authorRef,
		Time:       timeOfDay,
		Days:       days,
	}
	if err := s.store.InsertTask(ctx, task); err != nil {
		s.logger.Error("insert task", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to create task: %v", err)), nil
	}
	if err := s.scheduler.Register(core.ItemKindTask, task.ID, task.Time, task.Days); err != nil {
		s.logger.Error("register task", "task_id", task.ID, "err", err)
	}
	s.appendActivity(ctx, "activity:task", &channelRef, &authorRef, &task.ID)

	daysLabel := "every day"
	if len(task.Days) > 0 {
		daysLabel = "days " + core.FormatDays(task.Days)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task created\nID: %d\nFires at %s, %s", task.ID, task.Time, daysLabel)), nil
}

func (s *MCPServer) handleScheduleList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tasks: %v", err)), nil
	}
	reminders, err := s.store.ListReminders(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list reminders: %v", err)), nil
	}
	if len(tasks) == 0 && len(reminders) == 0 {
		return mcp.NewToolResultText("No tasks or reminders."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d task(s), %d reminder(s):\n\n", len(tasks), len(reminders))
	for _, t := range tasks {
		daysLabel := "every day"
		if len(t.Days) > 0 {
			daysLabel = "days " + core.FormatDays(t.Days)
		}
		fmt.Fprintf(&b, "📋 task %d: %q at %s, %s, channel %s\n", t.ID, t.Content, t.Time, daysLabel, t.ChannelRef)
	}
	for _, rem := range reminders {
		fmt.Fprintf(&b, "⏰ reminder %d: %q at %s, every day, channel %s\n", rem.ID, rem.Content, rem.Time, rem.ChannelRef)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleScheduleDelete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind := core.ItemKind(mcp.ParseString(request, "kind", ""))
	id := int64(mcp.ParseFloat64(request, "id", 0))
	authorRef := mcp.ParseString(request, "author_ref", "")
	if id <= 0 || authorRef == "" {
		return mcp.NewToolResultError("id and author_ref are required"), nil
	}

	// Cancel the trigger before acknowledging the delete.
	s.scheduler.Unregister(kind, id)
	var err error
	switch kind {
	case core.ItemKindTask:
		err = s.store.DeleteTask(ctx, id, authorRef)
	case core.ItemKindReminder:
		err = s.store.DeleteReminder(ctx, id, authorRef)
	default:
		return mcp.NewToolResultError("kind must be task or reminder"), nil
	}
	if err != nil {
		if s.store.IsNotFound(err) {
			return mcp.NewToolResultError(fmt.Sprintf("%s %d not found for this author", kind, id)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete: %v", err)), nil
	}
	s.appendActivity(ctx, "activity:"+string(kind), nil, &authorRef, &id)
	return mcp.NewToolResultText(fmt.Sprintf("Deleted %s %d", kind, id)), nil
}

func (s *MCPServer) handleLogsQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.LogFilter{
		Kind:       mcp.ParseString(request, "kind", ""),
		Status:     mcp.ParseString(request, "status", ""),
		ChannelRef: mcp.ParseString(request, "channel_ref", ""),
		FreeText:   mcp.ParseString(request, "q", ""),
	}
	cursor := mcp.ParseString(request, "cursor", "")
	limit := int(mcp.ParseFloat64(request, "limit", 20))

	entries, hasMore, nextCursor, err := s.store.QueryLogs(ctx, filter, cursor, limit)
	if err != nil {
		if errors.Is(err, store.ErrInvalidCursor) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to query logs: %v", err)), nil
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText("No log entries."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d entrie(s):\n\n", len(entries))
	for _, e := range entries {
		status := "-"
		if e.Status != nil {
			status = *e.Status
		}
		fmt.Fprintf(&b, "[%s] %s #%d kind=%s status=%s", e.Timestamp.UTC().Format(time.RFC3339), e.Stream, e.ID, e.Kind, status)
		if e.Error != nil {
			fmt.Fprintf(&b, " error=%q", *e.Error)
		}
		b.WriteString("\n")
	}
	if hasMore {
		fmt.Fprintf(&b, "\nMore available; next cursor: %s\n", nextCursor)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleLogsRetry(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	logID := int64(mcp.ParseFloat64(request, "log_id", 0))
	if logID <= 0 {
		return mcp.NewToolResultError("log_id is required"), nil
	}
	entry, err := s.deliverer.Retry(ctx, logID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("retry failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Retry recorded as entry %d with status %s", entry.ID, entry.Status)), nil
}

func (s *MCPServer) handleLogsRotate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	maxAgeDays := int(mcp.ParseFloat64(request, "max_age_days", 30))
	archived, err := s.store.Rotate(ctx, maxAgeDays)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("rotation failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Archived %d record(s) older than %d day(s)", archived, maxAgeDays)), nil
}

func (s *MCPServer) handleStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load stats: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Active tasks: %d\nActive reminders: %d\nSend logs: %d (failed: %d)\nActivity logs: %d\nCompletions: %d",
		stats.ActiveTasks, stats.ActiveReminders, stats.SendLogs, stats.FailedSends, stats.ActivityLogs, stats.Completions,
	)), nil
}

func (s *MCPServer) appendActivity(ctx context.Context, kind string, channelRef, authorRef *string, refID *int64) {
	source := core.SourceMCP
	entry := &core.ActivityLogEntry{
		Kind:       kind,
		Source:     &source,
		ChannelRef: channelRef,
		AuthorRef:  authorRef,
		RefID:      refID,
	}
	if err := s.store.AppendActivityLog(ctx, entry); err != nil {
		s.logger.Error("append activity log", "kind", kind, "err", err)
	}
}
