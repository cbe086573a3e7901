package message

import (
	"errors"
	"testing"
	"time"
)

// fakeMessage is a scriptable EventDriven used across the registry tests.
type fakeMessage struct {
	frozen  bool
	handle  Handle
	ticks   int
	deleted int
	added   []Reaction
	removed []Reaction

	tickErr error
	addErr  error
	onTick  func(*fakeMessage)
}

func (f *fakeMessage) IsFrozen() bool { return f.frozen }

func (f *fakeMessage) Tick(time.Time) error {
	f.ticks++
	if f.onTick != nil {
		f.onTick(f)
	}
	return f.tickErr
}

func (f *fakeMessage) OnDeleted() error {
	f.deleted++
	return nil
}

func (f *fakeMessage) OnReactionAdd(r Reaction) error {
	f.added = append(f.added, r)
	return f.addErr
}

func (f *fakeMessage) OnReactionRemove(r Reaction) error {
	f.removed = append(f.removed, r)
	return nil
}

// Handle makes fakeMessage relocatable, mirroring sticky menus.
func (f *fakeMessage) Handle() Handle { return f.handle }

func handle(id string) Handle {
	return Handle{ChannelID: "chan", MessageID: id}
}

func TestRegistryDispatchReactionAdd(t *testing.T) {
	r := NewRegistry()
	fm := &fakeMessage{handle: handle("1")}
	r.Insert(handle("1"), fm)

	reaction := Reaction{Handle: handle("1"), UserID: "u1", Emoji: "▶"}
	r.DispatchReactionAdd(reaction)

	if len(fm.added) != 1 || fm.added[0] != reaction {
		t.Fatalf("added = %v, want one %v", fm.added, reaction)
	}

	// Unknown handles are dropped silently.
	r.DispatchReactionAdd(Reaction{Handle: handle("nope")})
	if len(fm.added) != 1 {
		t.Fatalf("added = %v after unknown dispatch", fm.added)
	}
}

func TestRegistryDispatchSwallowsHookErrors(t *testing.T) {
	r := NewRegistry()
	fm := &fakeMessage{handle: handle("1"), addErr: errors.New("boom")}
	r.Insert(handle("1"), fm)

	r.DispatchReactionAdd(Reaction{Handle: handle("1")})

	if !r.Contains(handle("1")) {
		t.Fatal("entry evicted after hook error")
	}
}

func TestRegistryDispatchMessageDelete(t *testing.T) {
	r := NewRegistry()
	fm := &fakeMessage{handle: handle("1")}
	r.Insert(handle("1"), fm)

	r.DispatchMessageDelete(handle("1"))

	if fm.deleted != 1 {
		t.Fatalf("deleted = %d, want 1", fm.deleted)
	}
	if r.Contains(handle("1")) {
		t.Fatal("entry still registered after delete")
	}

	// A second delete for the same handle is a no-op.
	r.DispatchMessageDelete(handle("1"))
	if fm.deleted != 1 {
		t.Fatalf("deleted = %d after repeat, want 1", fm.deleted)
	}
}

func TestRegistryDispatchMessageDeleteBulk(t *testing.T) {
	r := NewRegistry()
	a := &fakeMessage{handle: handle("a")}
	b := &fakeMessage{handle: handle("b")}
	r.Insert(handle("a"), a)
	r.Insert(handle("b"), b)

	r.DispatchMessageDeleteBulk([]Handle{handle("a"), handle("b"), handle("c")})

	if a.deleted != 1 || b.deleted != 1 {
		t.Fatalf("deleted = %d/%d, want 1/1", a.deleted, b.deleted)
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistryTickEvictsFrozen(t *testing.T) {
	r := NewRegistry()
	live := &fakeMessage{handle: handle("live")}
	dying := &fakeMessage{handle: handle("dying"), onTick: func(f *fakeMessage) { f.frozen = true }}
	r.Insert(handle("live"), live)
	r.Insert(handle("dying"), dying)

	r.tick(time.Now())

	if live.ticks != 1 || dying.ticks != 1 {
		t.Fatalf("ticks = %d/%d, want 1/1", live.ticks, dying.ticks)
	}
	if !r.Contains(handle("live")) {
		t.Fatal("live entry evicted")
	}
	if r.Contains(handle("dying")) {
		t.Fatal("frozen entry survived the tick")
	}
}

func TestRegistryTickRekeysRelocated(t *testing.T) {
	r := NewRegistry()
	fm := &fakeMessage{handle: handle("old"), onTick: func(f *fakeMessage) { f.handle = handle("new") }}
	r.Insert(handle("old"), fm)

	r.tick(time.Now())

	if r.Contains(handle("old")) {
		t.Fatal("old handle still registered")
	}
	if !r.Contains(handle("new")) {
		t.Fatal("new handle not registered")
	}

	// Events arrive under the new handle afterwards.
	r.DispatchReactionAdd(Reaction{Handle: handle("new"), Emoji: "▶"})
	if len(fm.added) != 1 {
		t.Fatalf("added = %v, want one reaction", fm.added)
	}
}

func TestRegistryStaleDeleteAfterRelocation(t *testing.T) {
	r := NewRegistry()
	fm := &fakeMessage{handle: handle("old")}
	r.Insert(handle("old"), fm)

	// The message republished itself and deleted its old platform message;
	// the registry still maps the old handle when the delete event lands.
	fm.handle = handle("new")
	r.DispatchMessageDelete(handle("old"))

	if fm.deleted != 0 {
		t.Fatalf("deleted = %d, want the stale event ignored", fm.deleted)
	}
	if r.Contains(handle("old")) {
		t.Fatal("old handle still registered")
	}
	if !r.Contains(handle("new")) {
		t.Fatal("relocated entry lost from the registry")
	}

	// A delete for the current handle is genuine.
	r.DispatchMessageDelete(handle("new"))
	if fm.deleted != 1 {
		t.Fatalf("deleted = %d, want 1", fm.deleted)
	}
	if r.Contains(handle("new")) {
		t.Fatal("entry survived a genuine delete")
	}
}

func TestRegistryTickContinuesPastErrors(t *testing.T) {
	r := NewRegistry()
	bad := &fakeMessage{handle: handle("bad"), tickErr: errors.New("boom")}
	good := &fakeMessage{handle: handle("good")}
	r.Insert(handle("bad"), bad)
	r.Insert(handle("good"), good)

	r.tick(time.Now())

	if good.ticks != 1 {
		t.Fatalf("good.ticks = %d, want 1", good.ticks)
	}
	if !r.Contains(handle("bad")) {
		t.Fatal("erroring entry evicted")
	}
}
