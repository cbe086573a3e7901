package message

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultTickPeriod is the interval between registry self-update passes.
const DefaultTickPeriod = 10 * time.Second

// Registry maps live message handles to their event-driven messages and
// demuxes platform events onto them. The registry lock is held only long
// enough to mutate the map or clone entry refs; hooks always run under the
// entry's own lock so a hook may re-enter the registry without deadlocking.
type Registry struct {
	mu      sync.Mutex
	entries map[Handle]*entry
}

type entry struct {
	mu  sync.Mutex
	msg EventDriven
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[Handle]*entry)}
}

// Insert registers msg under h, replacing any previous entry.
func (r *Registry) Insert(h Handle, msg EventDriven) {
	r.mu.Lock()
	r.entries[h] = &entry{msg: msg}
	r.mu.Unlock()
}

// Remove drops the entry for h, if any.
func (r *Registry) Remove(h Handle) {
	r.mu.Lock()
	delete(r.entries, h)
	r.mu.Unlock()
}

// Contains reports whether h is registered.
func (r *Registry) Contains(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[h]
	return ok
}

// Len returns the number of registered messages.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) lookup(h Handle) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[h]
}

// DispatchReactionAdd routes a reaction-added event to the matching message.
// Unknown handles are ignored; hook errors are logged and swallowed so one
// broken message cannot take down the event loop.
func (r *Registry) DispatchReactionAdd(reaction Reaction) {
	e := r.lookup(reaction.Handle)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.msg.OnReactionAdd(reaction); err != nil {
		log.Printf("[ERR] [Registry] reaction-add hook failed for %s/%s: %v",
			reaction.Handle.ChannelID, reaction.Handle.MessageID, err)
	}
}

// DispatchReactionRemove routes a reaction-removed event to the matching message.
func (r *Registry) DispatchReactionRemove(reaction Reaction) {
	e := r.lookup(reaction.Handle)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.msg.OnReactionRemove(reaction); err != nil {
		log.Printf("[ERR] [Registry] reaction-remove hook failed for %s/%s: %v",
			reaction.Handle.ChannelID, reaction.Handle.MessageID, err)
	}
}

// DispatchMessageDelete notifies the matching message that its platform
// message is gone and removes it from the registry. A relocatable message
// whose current handle differs from h deleted the old message itself while
// republishing; the event is stale, so the entry is re-keyed instead of
// frozen. The entry lock makes this reliable: a relocation in flight holds
// it until the new handle is in place.
func (r *Registry) DispatchMessageDelete(h Handle) {
	r.mu.Lock()
	e := r.entries[h]
	delete(r.entries, h)
	r.mu.Unlock()

	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if rel, ok := e.msg.(Relocatable); ok {
		if cur := rel.Handle(); cur != h {
			r.mu.Lock()
			r.entries[cur] = e
			r.mu.Unlock()
			return
		}
	}
	if err := e.msg.OnDeleted(); err != nil {
		log.Printf("[ERR] [Registry] on-deleted hook failed for %s/%s: %v", h.ChannelID, h.MessageID, err)
	}
}

// DispatchMessageDeleteBulk handles a bulk delete as a series of single deletes.
func (r *Registry) DispatchMessageDeleteBulk(handles []Handle) {
	for _, h := range handles {
		r.DispatchMessageDelete(h)
	}
}

// Run drives the periodic tick loop until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, period time.Duration) {
	if period <= 0 {
		period = DefaultTickPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(time.Now())
		}
	}
}

// tick runs one self-update pass: snapshot entries under the registry lock,
// release it, run each Tick under the entry lock, then evict entries that
// froze and re-key entries that relocated.
func (r *Registry) tick(now time.Time) {
	type pair struct {
		h Handle
		e *entry
	}

	r.mu.Lock()
	snapshot := make([]pair, 0, len(r.entries))
	for h, e := range r.entries {
		snapshot = append(snapshot, pair{h, e})
	}
	r.mu.Unlock()

	var frozen []Handle
	moved := make(map[Handle]Handle)
	for _, p := range snapshot {
		p.e.mu.Lock()
		if err := p.e.msg.Tick(now); err != nil {
			log.Printf("[ERR] [Registry] tick failed for %s/%s: %v", p.h.ChannelID, p.h.MessageID, err)
		}
		if p.e.msg.IsFrozen() {
			frozen = append(frozen, p.h)
		} else if rel, ok := p.e.msg.(Relocatable); ok {
			if cur := rel.Handle(); cur != p.h {
				moved[p.h] = cur
			}
		}
		p.e.mu.Unlock()
	}

	if len(frozen) == 0 && len(moved) == 0 {
		return
	}

	r.mu.Lock()
	for _, h := range frozen {
		delete(r.entries, h)
	}
	for old, cur := range moved {
		if e, ok := r.entries[old]; ok {
			delete(r.entries, old)
			r.entries[cur] = e
		}
	}
	r.mu.Unlock()
}
