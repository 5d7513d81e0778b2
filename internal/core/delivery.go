package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"reminderd/internal/eventbus"
	"reminderd/internal/notify"
)

// DeliveryStore is the slice of the persistence layer delivery and retry
// touch.
type DeliveryStore interface {
	AppendSendLog(ctx context.Context, entry *SendLogEntry) error
	GetSendLog(ctx context.Context, id int64) (*SendLogEntry, error)
	GetTask(ctx context.Context, id int64) (*Task, error)
	GetReminder(ctx context.Context, id int64) (*Reminder, error)
}

// DeliveryRequest describes one send to an external channel.
type DeliveryRequest struct {
	Kind       string
	RefID      *int64
	Content    string
	ChannelRef string
	AuthorRef  *string
	Source     string
	RetryCount int
}

// Deliverer sends scheduled content and records the outcome. The send-log
// append happens unconditionally: a failed send produces a failed entry, it
// never produces a missing one.
type Deliverer struct {
	store       DeliveryStore
	sender      notify.Sender
	logger      *slog.Logger
	bus         *eventbus.Bus
	sendTimeout time.Duration
}

// NewDeliverer constructs a deliverer. bus may be nil when no stream
// subscribers exist (tests, mcp-only mode).
func NewDeliverer(store DeliveryStore, sender notify.Sender, logger *slog.Logger, bus *eventbus.Bus) *Deliverer {
	return &Deliverer{
		store:       store,
		sender:      sender,
		logger:      logger,
		bus:         bus,
		sendTimeout: 10 * time.Second,
	}
}

// FormatMessage prefixes content with its category marker.
func FormatMessage(kind, content string) string {
	switch kind {
	case LogKindReminder:
		return "⏰ " + content
	case LogKindTask:
		return "📋 " + content
	default:
		return content
	}
}

// Deliver sends the content to the channel and appends a SendLogEntry with
// the outcome. The returned error reports log-write failures only; a send
// failure is visible on the entry's Status, not in the error value, so a
// timer callback never treats an upstream outage as its own crash.
func (d *Deliverer) Deliver(ctx context.Context, req DeliveryRequest) (*SendLogEntry, error) {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	messageRef, sendErr := d.sender.Send(sendCtx, req.ChannelRef, FormatMessage(req.Kind, req.Content))

	entry := &SendLogEntry{
		Kind:       req.Kind,
		ChannelRef: req.ChannelRef,
		AuthorRef:  req.AuthorRef,
		Content:    &req.Content,
		RefID:      req.RefID,
		RetryCount: req.RetryCount,
		SentAt:     time.Now().UTC(),
	}
	if req.Source != "" {
		source := req.Source
		entry.Source = &source
	}
	if sendErr != nil {
		msg := sendErr.Error()
		entry.Status = SendStatusFailed
		entry.Error = &msg
		d.logger.Warn("delivery failed", "kind", req.Kind, "channel", req.ChannelRef, "err", sendErr)
	} else {
		entry.Status = SendStatusSuccess
		if messageRef != "" {
			entry.ExternalMessageRef = &messageRef
		}
	}

	if err := d.store.AppendSendLog(ctx, entry); err != nil {
		d.logger.Error("append send log", "kind", req.Kind, "err", err)
		return entry, fmt.Errorf("append send log: %w", err)
	}
	if d.bus != nil {
		d.bus.Publish(eventbus.StreamSend, entry)
	}
	return entry, nil
}
