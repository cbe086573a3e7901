// Package menu implements paginated, reaction-controlled messages. A Menu is
// built once via Builder, registered in the message registry and from then on
// driven entirely by reaction and tick events.
package menu

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Trivernis/2b-rs-sub000/internal/gateway"
	"github.com/Trivernis/2b-rs-sub000/internal/message"
)

// Built-in paginator controls, emitted at positions 0..2.
const (
	EmojiPrevious = "◀"
	EmojiClose    = "✖"
	EmojiNext     = "▶"
)

// PageNotFoundError reports a reference to a page index outside the menu.
type PageNotFoundError struct {
	Index int
}

func (e *PageNotFoundError) Error() string {
	return fmt.Sprintf("menu: page %d not found", e.Index)
}

// PageFunc produces the payload for one page on demand. Static pages are
// wrapped by StaticPage; lazy pages may fail, in which case the menu shows an
// error page without advancing.
type PageFunc func() (*gateway.Payload, error)

// StaticPage wraps a fixed payload as a PageFunc.
func StaticPage(p *gateway.Payload) PageFunc {
	return func() (*gateway.Payload, error) { return p, nil }
}

// ActionFunc is a control closure invoked when its emoji is pressed.
type ActionFunc func(gw gateway.Gateway, m *Menu, r message.Reaction) error

type control struct {
	emoji    string
	position int
	help     string
	action   ActionFunc
}

// Menu is a live paginated message. All exported methods lock internally, so
// control closures may call back into the menu they received.
type Menu struct {
	mu sync.Mutex

	gw       gateway.Gateway
	handle   message.Handle
	pages    []PageFunc
	current  int
	controls map[string]*control
	order    []*control
	ownerID  string
	sticky   bool
	deadline time.Time
	data     map[string]any
	closed   bool
	onClosed func()
}

// Handle returns the handle of the backing platform message. It changes when
// a sticky menu republishes itself.
func (m *Menu) Handle() message.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle
}

// CurrentPage returns the index of the page currently shown.
func (m *Menu) CurrentPage() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// PageCount returns the number of pages, including a generated help page.
func (m *Menu) PageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pages)
}

// Data returns the per-menu value stored under key by a control closure.
func (m *Menu) Data(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

// SetData stores a per-menu value for use by control closures.
func (m *Menu) SetData(key string, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = v
}

// DisplayPage renders page i and edits the platform message to match. On a
// page builder failure the current page index is left unchanged and an error
// page is shown instead.
func (m *Menu) DisplayPage(i int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.displayPageLocked(i)
}

func (m *Menu) displayPageLocked(i int) error {
	if i < 0 || i >= len(m.pages) {
		return &PageNotFoundError{Index: i}
	}
	payload, err := m.pages[i]()
	if err != nil {
		_ = m.gw.EditMessage(m.handle, &gateway.Payload{
			Content: fmt.Sprintf("⚠ failed to build page %d: %v", i, err),
		})
		return fmt.Errorf("menu: building page %d: %w", i, err)
	}
	if err := m.gw.EditMessage(m.handle, payload); err != nil {
		return fmt.Errorf("menu: editing message: %w", err)
	}
	m.current = i
	return nil
}

// Refresh re-renders the current page.
func (m *Menu) Refresh() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.displayPageLocked(m.current)
}

// NextPage advances one page, wrapping around at the end.
func (m *Menu) NextPage() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.displayPageLocked((m.current + 1) % len(m.pages))
}

// PreviousPage goes back one page, wrapping around at the start.
func (m *Menu) PreviousPage() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.displayPageLocked((m.current - 1 + len(m.pages)) % len(m.pages))
}

// Close removes the control reactions best-effort and freezes the menu. The
// registry evicts frozen entries on its next tick. Closing twice is a no-op.
func (m *Menu) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	handle := m.handle
	onClosed := m.onClosed
	m.mu.Unlock()

	if err := m.gw.DeleteAllReactions(handle); err != nil {
		log.Printf("[WARN] [Menu] clearing reactions on %s failed: %v", handle.MessageID, err)
	}
	if onClosed != nil {
		onClosed()
	}
	return nil
}

// IsFrozen reports whether the menu reached its terminal state.
func (m *Menu) IsFrozen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Tick closes the menu once its deadline passed and keeps sticky menus at the
// bottom of their channel.
func (m *Menu) Tick(now time.Time) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	if !m.deadline.IsZero() && !now.Before(m.deadline) {
		m.mu.Unlock()
		return m.Close()
	}
	sticky := m.sticky
	m.mu.Unlock()

	if sticky {
		return m.restick()
	}
	return nil
}

// restick republishes the menu when newer messages pushed it up, so it stays
// the last message of its channel. The registry re-keys the entry afterwards
// via the Relocatable interface.
func (m *Menu) restick() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}

	lastID, err := m.gw.ChannelLastMessageID(m.handle.ChannelID)
	if err != nil {
		return fmt.Errorf("menu: checking last message: %w", err)
	}
	if lastID == "" || lastID == m.handle.MessageID {
		return nil
	}

	payload, err := m.pages[m.current]()
	if err != nil {
		return fmt.Errorf("menu: building page %d: %w", m.current, err)
	}
	if err := m.gw.DeleteMessage(m.handle); err != nil {
		log.Printf("[WARN] [Menu] deleting old sticky message %s failed: %v", m.handle.MessageID, err)
	}
	handle, err := m.gw.SendMessage(m.handle.ChannelID, payload)
	if err != nil {
		return fmt.Errorf("menu: republishing sticky message: %w", err)
	}
	m.handle = handle
	for _, c := range m.order {
		if err := m.gw.AddReaction(handle, c.emoji); err != nil {
			log.Printf("[WARN] [Menu] adding control %s failed: %v", c.emoji, err)
		}
	}
	return nil
}

// OnDeleted freezes the menu after its platform message disappeared.
func (m *Menu) OnDeleted() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	onClosed := m.onClosed
	m.mu.Unlock()

	if onClosed != nil {
		onClosed()
	}
	return nil
}

// OnReactionAdd handles a pressed control: the user's reaction is removed so
// the control can be pressed again, non-owner presses are dropped, and the
// matching control closure runs without the menu lock held.
func (m *Menu) OnReactionAdd(r message.Reaction) error {
	if r.UserID == m.gw.BotUserID() {
		return nil
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	handle := m.handle
	owner := m.ownerID
	ctl := m.controls[r.Emoji]
	m.mu.Unlock()

	if owner != "" && r.UserID != owner {
		_ = m.gw.DeleteReaction(handle, r.Emoji, r.UserID)
		return nil
	}
	if err := m.gw.DeleteReaction(handle, r.Emoji, r.UserID); err != nil {
		log.Printf("[WARN] [Menu] removing user reaction %s failed: %v", r.Emoji, err)
	}
	if ctl == nil {
		return nil
	}
	return ctl.action(m.gw, m, r)
}

// OnReactionRemove is a no-op: controls fire on add and the menu removes the
// user's reaction itself.
func (m *Menu) OnReactionRemove(message.Reaction) error { return nil }
