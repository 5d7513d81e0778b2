package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"reminderd/internal/core"

	"github.com/go-chi/chi/v5"
)

type addReminderRequest struct {
	Content    string `json:"content"`
	ChannelRef string `json:"channelRef"`
	AuthorRef  string `json:"authorRef"`
	Time       string `json:"time"`
}

type addTaskRequest struct {
	Content    string `json:"content"`
	ChannelRef string `json:"channelRef"`
	AuthorRef  string `json:"authorRef"`
	Time       string `json:"time"`
	Days       string `json:"days,omitempty"`
}

type taskResponse struct {
	ID         int64  `json:"id"`
	Content    string `json:"content"`
	ChannelRef string `json:"channelRef"`
	AuthorRef  string `json:"authorRef"`
	Time       string `json:"time"`
	Days       string `json:"days,omitempty"`
	Active     bool   `json:"active"`
	NextFireAt string `json:"nextFireAt,omitempty"`
	CreatedAt  string `json:"createdAt"`
	UpdatedAt  string `json:"updatedAt"`
}

func (s *Server) handleAddReminder(w http.ResponseWriter, r *http.Request) {
	var req addReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" || req.ChannelRef == "" || req.AuthorRef == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "content, channelRef and authorRef are required")
		return
	}
	timeOfDay, err := core.ParseTimeOfDay(req.Time)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	reminder := &core.Reminder{
		Content:    req.Content,
		ChannelRef: req.ChannelRef,
		AuthorRef:  req.AuthorRef,
		Time:       timeOfDay,
	}
	if err := s.store.InsertReminder(r.Context(), reminder); err != nil {
		s.logger.Error("insert reminder", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to insert reminder")
		return
	}
	if err := s.scheduler.Register(core.ItemKindReminder, reminder.ID, reminder.Time, nil); err != nil {
		s.logger.Error("register reminder", "reminder_id", reminder.ID, "err", err)
	}

	s.appendActivity(r.Context(), &core.ActivityLogEntry{
		Kind:       "activity:reminder",
		Source:     ptrString(core.SourceHTTP),
		ChannelRef: &reminder.ChannelRef,
		AuthorRef:  &reminder.AuthorRef,
		RefID:      &reminder.ID,
		Action:     ptrString("create"),
	})
	writeJSON(w, http.StatusCreated, map[string]int64{"id": reminder.ID})
}

func (s *Server) handleAddTask(w http.ResponseWriter, r *http.Request) {
	var req addTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" || req.ChannelRef == "" || req.AuthorRef == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "content, channelRef and authorRef are required")
		return
	}
	timeOfDay, err := core.ParseTimeOfDay(req.Time)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	days, err := core.ParseDays(req.Days)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	task := &core.Task{
		Content:    req.Content,
		ChannelRef: req.ChannelRef,
		AuthorRef:  req.AuthorRef,
		Time:       timeOfDay,
		Days:       days,
	}
	if err := s.store.InsertTask(r.Context(), task); err != nil {
		s.logger.Error("insert task", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to insert task")
		return
	}
	if err := s.scheduler.Register(core.ItemKindTask, task.ID, task.Time, task.Days); err != nil {
		s.logger.Error("register task", "task_id", task.ID, "err", err)
	}

	s.appendActivity(r.Context(), &core.ActivityLogEntry{
		Kind:       "activity:task",
		Source:     ptrString(core.SourceHTTP),
		ChannelRef: &task.ChannelRef,
		AuthorRef:  &task.AuthorRef,
		RefID:      &task.ID,
		Action:     ptrString("create"),
	})
	writeJSON(w, http.StatusCreated, map[string]int64{"id": task.ID})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks(r.Context())
	if err != nil {
		s.logger.Error("list tasks", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list tasks")
		return
	}
	res := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, s.taskToResponse(t))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListReminders(w http.ResponseWriter, r *http.Request) {
	reminders, err := s.store.ListReminders(r.Context())
	if err != nil {
		s.logger.Error("list reminders", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list reminders")
		return
	}
	res := make([]taskResponse, 0, len(reminders))
	for _, rem := range reminders {
		res = append(res, s.reminderToResponse(rem))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "taskID"))
	if !ok {
		return
	}
	author := strings.TrimSpace(r.URL.Query().Get("author"))
	if author == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "author query parameter is required")
		return
	}

	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		if s.store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		} else {
			s.logger.Error("get task for delete", "task_id", id, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task")
		}
		return
	}
	if task.AuthorRef != author {
		writeError(w, http.StatusNotFound, "not_found", "task not found")
		return
	}

	// Cancel the timer before acknowledging the delete so no fire can start
	// on an already-deleted item.
	s.scheduler.Unregister(core.ItemKindTask, id)
	if err := s.store.DeleteTask(r.Context(), id, author); err != nil {
		if s.store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		} else {
			s.logger.Error("delete task", "task_id", id, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete task")
		}
		return
	}

	s.appendActivity(r.Context(), &core.ActivityLogEntry{
		Kind:       "activity:task",
		Source:     ptrString(core.SourceHTTP),
		ChannelRef: &task.ChannelRef,
		AuthorRef:  &author,
		RefID:      &id,
		Action:     ptrString("delete"),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteReminder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "reminderID"))
	if !ok {
		return
	}
	author := strings.TrimSpace(r.URL.Query().Get("author"))
	if author == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "author query parameter is required")
		return
	}

	reminder, err := s.store.GetReminder(r.Context(), id)
	if err != nil {
		if s.store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "reminder not found")
		} else {
			s.logger.Error("get reminder for delete", "reminder_id", id, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load reminder")
		}
		return
	}
	if reminder.AuthorRef != author {
		writeError(w, http.StatusNotFound, "not_found", "reminder not found")
		return
	}

	s.scheduler.Unregister(core.ItemKindReminder, id)
	if err := s.store.DeleteReminder(r.Context(), id, author); err != nil {
		if s.store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "reminder not found")
		} else {
			s.logger.Error("delete reminder", "reminder_id", id, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete reminder")
		}
		return
	}

	s.appendActivity(r.Context(), &core.ActivityLogEntry{
		Kind:       "activity:reminder",
		Source:     ptrString(core.SourceHTTP),
		ChannelRef: &reminder.ChannelRef,
		AuthorRef:  &author,
		RefID:      &id,
		Action:     ptrString("delete"),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) taskToResponse(task *core.Task) taskResponse {
	res := taskResponse{
		ID:         task.ID,
		Content:    task.Content,
		ChannelRef: task.ChannelRef,
		AuthorRef:  task.AuthorRef,
		Time:       task.Time.String(),
		Days:       core.FormatDays(task.Days),
		Active:     task.Active,
		CreatedAt:  task.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  task.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if next := s.scheduler.NextFire(core.ItemKindTask, task.ID); !next.IsZero() {
		res.NextFireAt = next.UTC().Format(time.RFC3339)
	}
	return res
}

func (s *Server) reminderToResponse(reminder *core.Reminder) taskResponse {
	res := taskResponse{
		ID:         reminder.ID,
		Content:    reminder.Content,
		ChannelRef: reminder.ChannelRef,
		AuthorRef:  reminder.AuthorRef,
		Time:       reminder.Time.String(),
		Active:     reminder.Active,
		CreatedAt:  reminder.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  reminder.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if next := s.scheduler.NextFire(core.ItemKindReminder, reminder.ID); !next.IsZero() {
		res.NextFireAt = next.UTC().Format(time.RFC3339)
	}
	return res
}

func parseID(w http.ResponseWriter, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "id must be a positive integer")
		return 0, false
	}
	return id, true
}
