package message

import (
	"errors"
	"time"
)

// ErrUninitialized is returned when a component that needs a registry is
// used before one was wired in.
var ErrUninitialized = errors.New("message registry is not installed")

// EventDriven is a live message that reacts to platform events. All hooks of
// one message are serialized by the registry; implementations still guard
// their own state because other components may touch them directly.
type EventDriven interface {
	// IsFrozen reports a terminal state. The registry evicts frozen
	// entries on the tick following the transition.
	IsFrozen() bool
	// Tick runs the periodic self-update, typically a timeout check.
	Tick(now time.Time) error
	// OnDeleted is invoked once when the platform reports the backing
	// message gone. The registry removes the entry afterwards.
	OnDeleted() error
	OnReactionAdd(r Reaction) error
	OnReactionRemove(r Reaction) error
}

// Relocatable is implemented by messages that re-home themselves to a new
// platform message (sticky menus). The tick loop re-keys the registry entry
// when the reported handle differs from the registered one.
type Relocatable interface {
	Handle() Handle
}
