// Package ephemeral schedules one-shot message deletes. Every promise is
// persisted before the timer starts, so deletes survive restarts: on startup
// Restore reloads all rows and fires the overdue ones immediately.
package ephemeral

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Trivernis/2b-rs-sub000/internal/gateway"
	"github.com/Trivernis/2b-rs-sub000/internal/message"
	"github.com/Trivernis/2b-rs-sub000/internal/storage"
)

type Scheduler struct {
	gw    gateway.Gateway
	store storage.Store

	mu      sync.Mutex
	pending map[message.Handle]*time.Timer
}

func NewScheduler(gw gateway.Gateway, store storage.Store) *Scheduler {
	return &Scheduler{
		gw:      gw,
		store:   store,
		pending: make(map[message.Handle]*time.Timer),
	}
}

// Restore loads all persisted delete promises and schedules them. Rows whose
// deadline already passed are fired immediately.
func (s *Scheduler) Restore(ctx context.Context) error {
	rows, err := s.store.ListEphemeralMessages(ctx)
	if err != nil {
		return fmt.Errorf("ephemeral: restore: %w", err)
	}
	for _, row := range rows {
		s.schedule(message.Handle{ChannelID: row.ChannelID, MessageID: row.MessageID}, row.DeleteAt)
	}
	if len(rows) > 0 {
		log.Printf("[INFO] [Ephemeral] restored %d scheduled delete(s)", len(rows))
	}
	return nil
}

// ScheduleDelete promises to delete an existing message after timeout.
func (s *Scheduler) ScheduleDelete(ctx context.Context, h message.Handle, timeout time.Duration) error {
	deleteAt := time.Now().Add(timeout)
	err := s.store.CreateEphemeralMessage(ctx, storage.EphemeralMessage{
		ChannelID: h.ChannelID,
		MessageID: h.MessageID,
		DeleteAt:  deleteAt,
	})
	if err != nil {
		return fmt.Errorf("ephemeral: persisting delete promise: %w", err)
	}
	s.schedule(h, deleteAt)
	return nil
}

// Send posts a new message and schedules its deletion after timeout.
func (s *Scheduler) Send(ctx context.Context, channelID string, p *gateway.Payload, timeout time.Duration) (message.Handle, error) {
	h, err := s.gw.SendMessage(channelID, p)
	if err != nil {
		return message.Handle{}, fmt.Errorf("ephemeral: sending message: %w", err)
	}
	if err := s.ScheduleDelete(ctx, h, timeout); err != nil {
		return h, err
	}
	return h, nil
}

// schedule arms the one-shot timer for h. A handle that is already pending
// keeps its existing timer, so the gateway sees at most one delete per
// promise. Deadlines in the past fire immediately.
func (s *Scheduler) schedule(h message.Handle, deleteAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[h]; ok {
		return
	}
	s.pending[h] = time.AfterFunc(time.Until(deleteAt), func() { s.fire(h) })
}

func (s *Scheduler) fire(h message.Handle) {
	if err := s.gw.DeleteMessage(h); err != nil && !errors.Is(err, gateway.ErrNotFound) {
		log.Printf("[WARN] [Ephemeral] deleting message %s/%s failed: %v", h.ChannelID, h.MessageID, err)
	}
	if err := s.store.DeleteEphemeralMessage(context.Background(), h.ChannelID, h.MessageID); err != nil {
		log.Printf("[ERR] [Ephemeral] removing row for %s/%s failed: %v", h.ChannelID, h.MessageID, err)
	}

	s.mu.Lock()
	delete(s.pending, h)
	s.mu.Unlock()
}

// Stop cancels all armed timers. Promises stay persisted and are picked up
// by the next Restore.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, t := range s.pending {
		t.Stop()
		delete(s.pending, h)
	}
}

// PendingCount returns the number of armed timers.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
