package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrRetryUnsupported marks a send-log entry that cannot be replayed: its
// kind has no resolvable source record, or it carries no back-reference.
var ErrRetryUnsupported = errors.New("entry is not retryable")

// ErrRetryNotFailed marks an attempt to retry an entry whose status is not
// failed.
var ErrRetryNotFailed = errors.New("only failed entries can be retried")

// Retry replays the delivery behind a failed send-log entry. The outcome is
// a brand-new SendLogEntry with an incremented retry count; the original row
// is never mutated or deleted. Content is rebuilt from the current source
// row, so an edited task retries with its latest text.
func (d *Deliverer) Retry(ctx context.Context, logID int64) (*SendLogEntry, error) {
	orig, err := d.store.GetSendLog(ctx, logID)
	if err != nil {
		return nil, err
	}
	if orig.Status != SendStatusFailed {
		return nil, ErrRetryNotFailed
	}
	if orig.Kind != LogKindTask && orig.Kind != LogKindReminder {
		return nil, fmt.Errorf("%w: kind %q", ErrRetryUnsupported, orig.Kind)
	}
	if orig.RefID == nil {
		return nil, fmt.Errorf("%w: no source reference", ErrRetryUnsupported)
	}

	req := DeliveryRequest{
		Kind:       orig.Kind,
		RefID:      orig.RefID,
		Source:     SourceRetry,
		RetryCount: orig.RetryCount + 1,
	}
	switch orig.Kind {
	case LogKindTask:
		task, err := d.store.GetTask(ctx, *orig.RefID)
		if err != nil {
			return nil, err
		}
		req.Content = task.Content
		req.ChannelRef = task.ChannelRef
		req.AuthorRef = &task.AuthorRef
	case LogKindReminder:
		reminder, err := d.store.GetReminder(ctx, *orig.RefID)
		if err != nil {
			return nil, err
		}
		req.Content = reminder.Content
		req.ChannelRef = reminder.ChannelRef
		req.AuthorRef = &reminder.AuthorRef
	}
	return d.Deliver(ctx, req)
}
