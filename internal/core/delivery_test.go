package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type fakeSender struct {
	err        error
	messageRef string
	calls      []string
}

func (f *fakeSender) Send(ctx context.Context, channelRef, content string) (string, error) {
	f.calls = append(f.calls, content)
	if f.err != nil {
		return "", f.err
	}
	return f.messageRef, nil
}

type fakeDeliveryStore struct {
	appendErr error
	sendLogs  map[int64]*SendLogEntry
	tasks     map[int64]*Task
	reminders map[int64]*Reminder
	nextID    int64
}

func newFakeDeliveryStore() *fakeDeliveryStore {
	return &fakeDeliveryStore{
		sendLogs:  map[int64]*SendLogEntry{},
		tasks:     map[int64]*Task{},
		reminders: map[int64]*Reminder{},
	}
}

func (f *fakeDeliveryStore) AppendSendLog(ctx context.Context, entry *SendLogEntry) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.nextID++
	entry.ID = f.nextID
	copied := *entry
	f.sendLogs[entry.ID] = &copied
	return nil
}

var errFakeNotFound = errors.New("not found")

func (f *fakeDeliveryStore) GetSendLog(ctx context.Context, id int64) (*SendLogEntry, error) {
	entry, ok := f.sendLogs[id]
	if !ok {
		return nil, errFakeNotFound
	}
	copied := *entry
	return &copied, nil
}

func (f *fakeDeliveryStore) GetTask(ctx context.Context, id int64) (*Task, error) {
	task, ok := f.tasks[id]
	if !ok {
		return nil, errFakeNotFound
	}
	return task, nil
}

func (f *fakeDeliveryStore) GetReminder(ctx context.Context, id int64) (*Reminder, error) {
	reminder, ok := f.reminders[id]
	if !ok {
		return nil, errFakeNotFound
	}
	return reminder, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDeliverSuccess(t *testing.T) {
	store := newFakeDeliveryStore()
	sender := &fakeSender{messageRef: "msg-1"}
	d := NewDeliverer(store, sender, testLogger(), nil)

	refID := int64(7)
	author := "user-1"
	entry, err := d.Deliver(context.Background(), DeliveryRequest{
		Kind:       LogKindReminder,
		RefID:      &refID,
		Content:    "drink water",
		ChannelRef: "chan-1",
		AuthorRef:  &author,
		Source:     SourceScheduler,
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if entry.Status != SendStatusSuccess {
		t.Fatalf("status = %s", entry.Status)
	}
	if entry.ExternalMessageRef == nil || *entry.ExternalMessageRef != "msg-1" {
		t.Fatalf("message ref = %v", entry.ExternalMessageRef)
	}
	if entry.ID == 0 {
		t.Fatal("entry was not persisted")
	}
	if len(sender.calls) != 1 || sender.calls[0] != "⏰ drink water" {
		t.Fatalf("sent content = %v", sender.calls)
	}
}

func TestDeliverFailureStillLogged(t *testing.T) {
	store := newFakeDeliveryStore()
	sender := &fakeSender{err: errors.New("rate limited")}
	d := NewDeliverer(store, sender, testLogger(), nil)

	entry, err := d.Deliver(context.Background(), DeliveryRequest{
		Kind:       LogKindSendOnce,
		Content:    "hello",
		ChannelRef: "chan-1",
		Source:     SourceHTTP,
	})
	// A send failure is not a Deliver error; the outcome lives on the entry.
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if entry.Status != SendStatusFailed {
		t.Fatalf("status = %s", entry.Status)
	}
	if entry.Error == nil || *entry.Error != "rate limited" {
		t.Fatalf("error = %v", entry.Error)
	}
	if len(store.sendLogs) != 1 {
		t.Fatalf("expected failed send to be logged, have %d rows", len(store.sendLogs))
	}
}

func TestDeliverAppendFailureReturnsError(t *testing.T) {
	store := newFakeDeliveryStore()
	store.appendErr = errors.New("disk full")
	d := NewDeliverer(store, &fakeSender{messageRef: "msg"}, testLogger(), nil)

	entry, err := d.Deliver(context.Background(), DeliveryRequest{
		Kind:       LogKindSendOnce,
		Content:    "hello",
		ChannelRef: "chan-1",
	})
	if err == nil {
		t.Fatal("expected error when the log append fails")
	}
	if entry == nil || entry.Status != SendStatusSuccess {
		t.Fatalf("entry = %+v", entry)
	}
}

func TestRetryProducesNewEntry(t *testing.T) {
	store := newFakeDeliveryStore()
	taskID := int64(3)
	store.tasks[taskID] = &Task{
		ID:         taskID,
		Content:    "submit report",
		ChannelRef: "chan-9",
		AuthorRef:  "user-2",
		Active:     true,
	}
	sender := &fakeSender{err: errors.New("boom")}
	d := NewDeliverer(store, sender, testLogger(), nil)

	author := "user-2"
	failed, err := d.Deliver(context.Background(), DeliveryRequest{
		Kind:       LogKindTask,
		RefID:      &taskID,
		Content:    "submit report",
		ChannelRef: "chan-9",
		AuthorRef:  &author,
		Source:     SourceScheduler,
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	// The outage clears; the retry succeeds as a brand-new entry.
	sender.err = nil
	sender.messageRef = "msg-2"
	retried, err := d.Retry(context.Background(), failed.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.ID == failed.ID {
		t.Fatal("retry must produce a new entry, not reuse the failed one")
	}
	if retried.Status != SendStatusSuccess {
		t.Fatalf("retry status = %s", retried.Status)
	}
	if retried.RetryCount != failed.RetryCount+1 {
		t.Fatalf("retry count = %d, want %d", retried.RetryCount, failed.RetryCount+1)
	}
	if retried.Source == nil || *retried.Source != SourceRetry {
		t.Fatalf("retry source = %v", retried.Source)
	}

	// Original row is untouched.
	orig, err := store.GetSendLog(context.Background(), failed.ID)
	if err != nil {
		t.Fatalf("GetSendLog: %v", err)
	}
	if orig.Status != SendStatusFailed {
		t.Fatalf("original status mutated to %s", orig.Status)
	}
}

func TestRetryRejectsNonFailed(t *testing.T) {
	store := newFakeDeliveryStore()
	d := NewDeliverer(store, &fakeSender{messageRef: "msg"}, testLogger(), nil)

	entry, err := d.Deliver(context.Background(), DeliveryRequest{
		Kind:       LogKindSendOnce,
		Content:    "hi",
		ChannelRef: "chan-1",
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if _, err := d.Retry(context.Background(), entry.ID); !errors.Is(err, ErrRetryNotFailed) {
		t.Fatalf("err = %v, want ErrRetryNotFailed", err)
	}
}

func TestRetryRejectsUnsupportedKinds(t *testing.T) {
	store := newFakeDeliveryStore()
	d := NewDeliverer(store, &fakeSender{}, testLogger(), nil)

	// send_once has no source record to rebuild from.
	sendOnce := &SendLogEntry{Kind: LogKindSendOnce, ChannelRef: "c", Status: SendStatusFailed}
	if err := store.AppendSendLog(context.Background(), sendOnce); err != nil {
		t.Fatalf("AppendSendLog: %v", err)
	}
	if _, err := d.Retry(context.Background(), sendOnce.ID); !errors.Is(err, ErrRetryUnsupported) {
		t.Fatalf("err = %v, want ErrRetryUnsupported", err)
	}

	// A task entry without a back-reference cannot be replayed either.
	noRef := &SendLogEntry{Kind: LogKindTask, ChannelRef: "c", Status: SendStatusFailed}
	if err := store.AppendSendLog(context.Background(), noRef); err != nil {
		t.Fatalf("AppendSendLog: %v", err)
	}
	if _, err := d.Retry(context.Background(), noRef.ID); !errors.Is(err, ErrRetryUnsupported) {
		t.Fatalf("err = %v, want ErrRetryUnsupported", err)
	}
}
