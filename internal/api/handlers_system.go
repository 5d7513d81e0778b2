package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"reminderd/internal/core"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"uptimeSeconds": int64(time.Since(s.startedAt).Seconds()),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("load stats", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"activeTasks":     stats.ActiveTasks,
		"activeReminders": stats.ActiveReminders,
		"sendLogs":        stats.SendLogs,
		"failedSends":     stats.FailedSends,
		"activityLogs":    stats.ActivityLogs,
		"completions":     stats.Completions,
	})
}

type sendOnceRequest struct {
	Content    string `json:"content"`
	ChannelRef string `json:"channelRef"`
}

func (s *Server) handleSendOnce(w http.ResponseWriter, r *http.Request) {
	var req sendOnceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" || req.ChannelRef == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "content and channelRef are required")
		return
	}

	entry, err := s.deliverer.Deliver(r.Context(), core.DeliveryRequest{
		Kind:       core.LogKindSendOnce,
		Content:    req.Content,
		ChannelRef: req.ChannelRef,
		Source:     core.SourceHTTP,
	})
	if err != nil {
		s.logger.Error("send once", "channel", req.ChannelRef, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to record send")
		return
	}
	if entry.Status == core.SendStatusFailed {
		message := "delivery failed"
		if entry.Error != nil {
			message = *entry.Error
		}
		writeError(w, http.StatusBadGateway, "delivery_failed", message)
		return
	}
	messageRef := ""
	if entry.ExternalMessageRef != nil {
		messageRef = *entry.ExternalMessageRef
	}
	writeJSON(w, http.StatusOK, map[string]string{"messageRef": messageRef})
}

type completeTaskRequest struct {
	TaskID     int64  `json:"taskId"`
	UserRef    string `json:"userRef"`
	MessageRef string `json:"messageRef,omitempty"`
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	var req completeTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if req.TaskID <= 0 || req.UserRef == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "taskId and userRef are required")
		return
	}

	task, err := s.store.GetTask(r.Context(), req.TaskID)
	if err != nil {
		if s.store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
		} else {
			s.logger.Error("get task for completion", "task_id", req.TaskID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task")
		}
		return
	}

	completion := &core.Completion{
		TaskID:  task.ID,
		UserRef: req.UserRef,
	}
	if req.MessageRef != "" {
		completion.MessageRef = &req.MessageRef
	}
	if err := s.store.InsertCompletion(r.Context(), completion); err != nil {
		s.logger.Error("insert completion", "task_id", task.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to record completion")
		return
	}

	s.appendActivity(r.Context(), &core.ActivityLogEntry{
		Kind:       "activity:completion",
		Source:     ptrString(core.SourceHTTP),
		ChannelRef: &task.ChannelRef,
		AuthorRef:  &req.UserRef,
		RefID:      &task.ID,
		Action:     ptrString("complete"),
		Emoji:      ptrString("✅"),
		Metadata:   map[string]any{"messageRef": req.MessageRef},
	})
	writeJSON(w, http.StatusCreated, map[string]int64{"id": completion.ID})
}
