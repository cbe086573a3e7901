package menu

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Trivernis/2b-rs-sub000/internal/gateway"
	"github.com/Trivernis/2b-rs-sub000/internal/message"
)

// Builder collects pages, controls and behaviour flags, then publishes the
// menu with Build. The zero timeout means the menu never self-closes.
type Builder struct {
	gw       gateway.Gateway
	registry *message.Registry

	pages     []PageFunc
	controls  []*control
	timeout   time.Duration
	ownerID   string
	sticky    bool
	startPage int
	helpPage  bool
	onClosed  func()
}

func NewBuilder(gw gateway.Gateway, registry *message.Registry) *Builder {
	return &Builder{gw: gw, registry: registry}
}

// AddPage appends a lazily built page.
func (b *Builder) AddPage(p PageFunc) *Builder {
	b.pages = append(b.pages, p)
	return b
}

// AddStaticPage appends a fixed page.
func (b *Builder) AddStaticPage(p *gateway.Payload) *Builder {
	return b.AddPage(StaticPage(p))
}

// AddControl registers a control emoji. Controls are emitted as reactions in
// ascending position order, which fixes their on-screen order.
func (b *Builder) AddControl(emoji string, position int, action ActionFunc) *Builder {
	return b.AddControlHelp(emoji, position, "", action)
}

// AddControlHelp registers a control together with its help text.
func (b *Builder) AddControlHelp(emoji string, position int, help string, action ActionFunc) *Builder {
	b.controls = append(b.controls, &control{emoji: emoji, position: position, help: help, action: action})
	return b
}

// Paginator installs the built-in previous/close/next controls.
func (b *Builder) Paginator() *Builder {
	b.AddControlHelp(EmojiPrevious, 0, "previous page", func(_ gateway.Gateway, m *Menu, _ message.Reaction) error {
		return m.PreviousPage()
	})
	b.AddControlHelp(EmojiClose, 1, "close this menu", func(_ gateway.Gateway, m *Menu, _ message.Reaction) error {
		return m.Close()
	})
	b.AddControlHelp(EmojiNext, 2, "next page", func(_ gateway.Gateway, m *Menu, _ message.Reaction) error {
		return m.NextPage()
	})
	return b
}

// WithTimeout sets how long the menu stays interactive.
func (b *Builder) WithTimeout(d time.Duration) *Builder {
	b.timeout = d
	return b
}

// WithOwner restricts control presses to one user; other users' reactions
// are removed and ignored.
func (b *Builder) WithOwner(userID string) *Builder {
	b.ownerID = userID
	return b
}

// Sticky makes the menu republish itself below newer messages.
func (b *Builder) Sticky() *Builder {
	b.sticky = true
	return b
}

// StartPage sets the page shown first.
func (b *Builder) StartPage(i int) *Builder {
	b.startPage = i
	return b
}

// WithHelpPage appends a generated page listing every control with help text.
func (b *Builder) WithHelpPage() *Builder {
	b.helpPage = true
	return b
}

// OnClosed registers a callback invoked once when the menu closes or its
// backing message is deleted.
func (b *Builder) OnClosed(fn func()) *Builder {
	b.onClosed = fn
	return b
}

// Build publishes the starting page to the channel, registers the menu and
// emits the control reactions in position order.
func (b *Builder) Build(channelID string) (*Menu, error) {
	if b.registry == nil {
		return nil, message.ErrUninitialized
	}
	ordered := make([]*control, len(b.controls))
	copy(ordered, b.controls)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].position < ordered[j].position })

	pages := b.pages
	if b.helpPage {
		pages = append(pages, StaticPage(helpPayload(ordered)))
	}
	if len(pages) == 0 {
		return nil, &PageNotFoundError{Index: 0}
	}
	if b.startPage < 0 || b.startPage >= len(pages) {
		return nil, &PageNotFoundError{Index: b.startPage}
	}

	payload, err := pages[b.startPage]()
	if err != nil {
		return nil, fmt.Errorf("menu: building page %d: %w", b.startPage, err)
	}
	handle, err := b.gw.SendMessage(channelID, payload)
	if err != nil {
		return nil, fmt.Errorf("menu: publishing: %w", err)
	}

	m := &Menu{
		gw:       b.gw,
		handle:   handle,
		pages:    pages,
		current:  b.startPage,
		controls: make(map[string]*control, len(ordered)),
		order:    ordered,
		ownerID:  b.ownerID,
		sticky:   b.sticky,
		data:     make(map[string]any),
		onClosed: b.onClosed,
	}
	if b.timeout > 0 {
		m.deadline = time.Now().Add(b.timeout)
	}
	for _, c := range ordered {
		m.controls[c.emoji] = c
	}

	b.registry.Insert(handle, m)

	for _, c := range ordered {
		if err := b.gw.AddReaction(handle, c.emoji); err != nil {
			return m, fmt.Errorf("menu: adding control %s: %w", c.emoji, err)
		}
	}
	return m, nil
}

func helpPayload(controls []*control) *gateway.Payload {
	var sb strings.Builder
	sb.WriteString("**Controls**\n")
	for _, c := range controls {
		if c.help == "" {
			continue
		}
		fmt.Fprintf(&sb, "%s — %s\n", c.emoji, c.help)
	}
	return &gateway.Payload{Content: sb.String()}
}
