package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleStore abstracts the persistence reads the scheduler needs.
type ScheduleStore interface {
	GetTask(ctx context.Context, id int64) (*Task, error)
	GetReminder(ctx context.Context, id int64) (*Reminder, error)
	ListActiveTasks(ctx context.Context) ([]*Task, error)
	ListActiveReminders(ctx context.Context) ([]*Reminder, error)
	IsNotFound(err error) bool
}

// DeliveryHandler is invoked on every trigger firing.
type DeliveryHandler interface {
	Deliver(ctx context.Context, req DeliveryRequest) (*SendLogEntry, error)
}

type scheduleKey struct {
	kind ItemKind
	id   int64
}

// Scheduler keeps one live cron entry per active task/reminder. The registry
// does not persist; Sync rebuilds it from the store at process start.
type Scheduler struct {
	store     ScheduleStore
	deliverer DeliveryHandler
	logger    *slog.Logger
	location  *time.Location

	cron    *cron.Cron
	entryMu sync.RWMutex
	entries map[scheduleKey]cron.EntryID

	ctx context.Context
}

// NewScheduler constructs a scheduler with the given dependencies.
func NewScheduler(store ScheduleStore, deliverer DeliveryHandler, logger *slog.Logger, location *time.Location) *Scheduler {
	if location == nil {
		location = time.Local
	}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(location),
	)
	return &Scheduler{
		store:     store,
		deliverer: deliverer,
		logger:    logger,
		location:  location,
		cron:      c,
		entries:   make(map[scheduleKey]cron.EntryID),
	}
}

// Start begins the scheduling loop. ctx is used for trigger-time store reads
// and deliveries.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
}

// Stop stops the scheduler and returns a context that is done once in-flight
// jobs have finished dispatch.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Sync loads all active tasks and reminders from the store and registers
// each. It must complete before the process serves delivery-affecting calls.
func (s *Scheduler) Sync(ctx context.Context) error {
	tasks, err := s.store.ListActiveTasks(ctx)
	if err != nil {
		return fmt.Errorf("list active tasks: %w", err)
	}
	for _, task := range tasks {
		if err := s.Register(ItemKindTask, task.ID, task.Time, task.Days); err != nil {
			s.logger.Error("register task", "task_id", task.ID, "err", err)
		}
	}
	reminders, err := s.store.ListActiveReminders(ctx)
	if err != nil {
		return fmt.Errorf("list active reminders: %w", err)
	}
	for _, reminder := range reminders {
		if err := s.Register(ItemKindReminder, reminder.ID, reminder.Time, nil); err != nil {
			s.logger.Error("register reminder", "reminder_id", reminder.ID, "err", err)
		}
	}
	return nil
}

// Register starts a recurring trigger for the given item. Any existing entry
// for the same (kind, id) is canceled first so a re-register never results in
// duplicate firings.
func (s *Scheduler) Register(kind ItemKind, id int64, timeOfDay TimeOfDay, days []int) error {
	schedule, err := ParseCron(CronSpec(timeOfDay, days))
	if err != nil {
		return err
	}
	key := scheduleKey{kind: kind, id: id}
	job := func() {
		s.handleFire(kind, id)
	}

	s.entryMu.Lock()
	defer s.entryMu.Unlock()
	if existing, ok := s.entries[key]; ok {
		s.cron.Remove(existing)
	}
	s.entries[key] = s.cron.Schedule(schedule, cron.FuncJob(job))
	return nil
}

// Unregister cancels and removes the trigger for (kind, id). No-op if absent.
func (s *Scheduler) Unregister(kind ItemKind, id int64) {
	s.entryMu.Lock()
	defer s.entryMu.Unlock()
	key := scheduleKey{kind: kind, id: id}
	if entryID, ok := s.entries[key]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, key)
	}
}

// Registered reports whether a live trigger exists for (kind, id).
func (s *Scheduler) Registered(kind ItemKind, id int64) bool {
	s.entryMu.RLock()
	defer s.entryMu.RUnlock()
	_, ok := s.entries[scheduleKey{kind: kind, id: id}]
	return ok
}

// EntryCount returns the number of live triggers.
func (s *Scheduler) EntryCount() int {
	s.entryMu.RLock()
	defer s.entryMu.RUnlock()
	return len(s.entries)
}

// NextFire returns the next trigger time for (kind, id) in the scheduler's
// location, or the zero time when the item is not registered or the cron
// loop has not been started.
func (s *Scheduler) NextFire(kind ItemKind, id int64) time.Time {
	s.entryMu.RLock()
	entryID, ok := s.entries[scheduleKey{kind: kind, id: id}]
	s.entryMu.RUnlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(entryID).Next
}

// handleFire re-fetches the item so a row deleted or deactivated after
// registration never produces a send. An orphaned entry is unregistered on
// the spot.
func (s *Scheduler) handleFire(kind ItemKind, id int64) {
	ctx := s.ctxOrBackground()
	var req DeliveryRequest
	switch kind {
	case ItemKindTask:
		task, err := s.store.GetTask(ctx, id)
		if err != nil {
			s.dropMissing(kind, id, err)
			return
		}
		if !task.Active {
			return
		}
		req = DeliveryRequest{
			Kind:       LogKindTask,
			RefID:      &task.ID,
			Content:    task.Content,
			ChannelRef: task.ChannelRef,
			AuthorRef:  &task.AuthorRef,
			Source:     SourceScheduler,
		}
	case ItemKindReminder:
		reminder, err := s.store.GetReminder(ctx, id)
		if err != nil {
			s.dropMissing(kind, id, err)
			return
		}
		if !reminder.Active {
			return
		}
		req = DeliveryRequest{
			Kind:       LogKindReminder,
			RefID:      &reminder.ID,
			Content:    reminder.Content,
			ChannelRef: reminder.ChannelRef,
			AuthorRef:  &reminder.AuthorRef,
			Source:     SourceScheduler,
		}
	default:
		return
	}

	if _, err := s.deliverer.Deliver(ctx, req); err != nil {
		// Store-level failure; the delivery outcome itself is always in the
		// send log. A failure here must not stop other timers from firing.
		s.logger.Error("scheduled delivery", "kind", kind, "id", id, "err", err)
	}
}

func (s *Scheduler) dropMissing(kind ItemKind, id int64, err error) {
	if s.store.IsNotFound(err) {
		s.Unregister(kind, id)
		return
	}
	s.logger.Error("fetch item for trigger", "kind", kind, "id", id, "err", err)
}

func (s *Scheduler) ctxOrBackground() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}
