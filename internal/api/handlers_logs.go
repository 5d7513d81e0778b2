package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"reminderd/internal/core"
	"reminderd/internal/store"

	"github.com/go-chi/chi/v5"
)

type logEntryResponse struct {
	ID                 int64          `json:"id"`
	Stream             string         `json:"stream"`
	Kind               string         `json:"kind"`
	Source             *string        `json:"source,omitempty"`
	ChannelRef         *string        `json:"channelRef,omitempty"`
	AuthorRef          *string        `json:"authorRef,omitempty"`
	Content            *string        `json:"content,omitempty"`
	Status             *string        `json:"status,omitempty"`
	Error              *string        `json:"error,omitempty"`
	ExternalMessageRef *string        `json:"externalMessageRef,omitempty"`
	RefID              *int64         `json:"refId,omitempty"`
	RetryCount         int            `json:"retryCount"`
	Action             *string        `json:"action,omitempty"`
	Emoji              *string        `json:"emoji,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	Timestamp          string         `json:"timestamp"`
}

type queryLogsResponse struct {
	Logs       []logEntryResponse `json:"logs"`
	HasMore    bool               `json:"hasMore"`
	NextCursor string             `json:"nextCursor,omitempty"`
}

func (s *Server) handleQueryLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := q.Get("status")
	switch status {
	case "", string(core.SendStatusSuccess), string(core.SendStatusFailed):
	default:
		writeError(w, http.StatusBadRequest, "invalid_input", "status must be success or failed")
		return
	}
	filter := store.LogFilter{
		Kind:       q.Get("kind"),
		Status:     status,
		ChannelRef: q.Get("channelRef"),
		FreeText:   q.Get("q"),
	}
	limit := parseIntDefault(q.Get("limit"), 0)

	entries, hasMore, nextCursor, err := s.store.QueryLogs(r.Context(), filter, q.Get("cursor"), limit)
	if err != nil {
		if errors.Is(err, store.ErrInvalidCursor) {
			writeError(w, http.StatusBadRequest, "invalid_cursor", err.Error())
			return
		}
		s.logger.Error("query logs", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to query logs")
		return
	}

	logs := make([]logEntryResponse, 0, len(entries))
	for _, entry := range entries {
		logs = append(logs, logEntryToResponse(entry))
	}
	writeJSON(w, http.StatusOK, queryLogsResponse{
		Logs:       logs,
		HasMore:    hasMore,
		NextCursor: nextCursor,
	})
}

func (s *Server) handleRetryLog(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, chi.URLParam(r, "logID"))
	if !ok {
		return
	}
	entry, err := s.deliverer.Retry(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrRetryUnsupported):
			writeError(w, http.StatusBadRequest, "unsupported", err.Error())
		case errors.Is(err, core.ErrRetryNotFailed), s.store.IsNotFound(err):
			writeError(w, http.StatusNotFound, "not_found", "no retryable entry with this id")
		default:
			s.logger.Error("retry log", "log_id", id, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to retry delivery")
		}
		return
	}
	writeJSON(w, http.StatusOK, sendLogToResponse(entry))
}

func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearLogs(r.Context()); err != nil {
		s.logger.Error("clear logs", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to clear logs")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rotateRequest struct {
	MaxAgeDays *int `json:"maxAgeDays"`
}

func (s *Server) handleRotateLogs(w http.ResponseWriter, r *http.Request) {
	maxAgeDays := s.rotateMaxAgeDays
	if r.Body != nil {
		var req rotateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.MaxAgeDays != nil {
			maxAgeDays = *req.MaxAgeDays
		}
	}
	if maxAgeDays < 1 {
		writeError(w, http.StatusBadRequest, "invalid_input", "maxAgeDays must be positive")
		return
	}
	archived, err := s.store.Rotate(r.Context(), maxAgeDays)
	if err != nil {
		s.logger.Error("rotate logs", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to rotate logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"archivedRecords": archived,
		"maxAgeDays":      maxAgeDays,
	})
}

func (s *Server) handleListRotations(w http.ResponseWriter, r *http.Request) {
	markers, err := s.store.ListRotations(r.Context())
	if err != nil {
		s.logger.Error("list rotations", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list rotations")
		return
	}
	type rotationResponse struct {
		ID              int64  `json:"id"`
		TableName       string `json:"tableName"`
		RotatedAt       string `json:"rotatedAt"`
		RecordsArchived int64  `json:"recordsArchived"`
	}
	res := make([]rotationResponse, 0, len(markers))
	for _, m := range markers {
		res = append(res, rotationResponse{
			ID:              m.ID,
			TableName:       m.TableName,
			RotatedAt:       m.RotatedAt.UTC().Format(time.RFC3339),
			RecordsArchived: m.RecordsArchived,
		})
	}
	writeJSON(w, http.StatusOK, res)
}

func logEntryToResponse(entry store.LogEntry) logEntryResponse {
	return logEntryResponse{
		ID:                 entry.ID,
		Stream:             entry.Stream,
		Kind:               entry.Kind,
		Source:             entry.Source,
		ChannelRef:         entry.ChannelRef,
		AuthorRef:          entry.AuthorRef,
		Content:            entry.Content,
		Status:             entry.Status,
		Error:              entry.Error,
		ExternalMessageRef: entry.ExternalMessageRef,
		RefID:              entry.RefID,
		RetryCount:         entry.RetryCount,
		Action:             entry.Action,
		Emoji:              entry.Emoji,
		Metadata:           entry.Metadata,
		Timestamp:          entry.Timestamp.UTC().Format(time.RFC3339),
	}
}

func sendLogToResponse(entry *core.SendLogEntry) logEntryResponse {
	status := string(entry.Status)
	channelRef := entry.ChannelRef
	return logEntryResponse{
		ID:                 entry.ID,
		Stream:             store.StreamSend,
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
		Timestamp:          entry.SentAt.UTC().Format(time.RFC3339),
	}
}
