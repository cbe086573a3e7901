package music

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/Trivernis/2b-rs-sub000/internal/audio"
	"github.com/Trivernis/2b-rs-sub000/internal/gateway"
	"github.com/Trivernis/2b-rs-sub000/internal/menu"
	"github.com/Trivernis/2b-rs-sub000/internal/message"
)

// Equalizer control emojis, emitted in this order.
const (
	EmojiEqClose    = "🗑"
	EmojiEqPrevBand = "◀"
	EmojiEqNextBand = "▶"
	EmojiEqLower    = "➖"
	EmojiEqRaise    = "➕"
)

// eqStep is the gain change per button press.
const eqStep = 0.05

// eqTimeout is how long an equalizer menu stays interactive.
const eqTimeout = 5 * time.Minute

type eqState struct {
	mu   sync.Mutex
	band int
}

func (s *eqState) selected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.band
}

func (s *eqState) move(delta int) {
	s.mu.Lock()
	s.band = (s.band + delta + audio.NumBands) % audio.NumBands
	s.mu.Unlock()
}

// OpenEqualizer publishes an equalizer menu: a bar chart of the 15 band
// gains with a cursor, band selection and ±0.05 adjustment controls. The
// controls are DJ-gated but not bound to the opener, so any DJ may adjust.
func (p *Player) OpenEqualizer(channelID string) (*menu.Menu, error) {
	state := &eqState{}

	render := func() (*gateway.Payload, error) {
		return &gateway.Payload{
			Content: renderEqualizerChart(p.Gains(), state.selected()),
		}, nil
	}

	gated := func(fn func(m *menu.Menu) error) menu.ActionFunc {
		return func(_ gateway.Gateway, m *menu.Menu, r message.Reaction) error {
			if !p.allowed(r) {
				return nil
			}
			return fn(m)
		}
	}

	m, err := menu.NewBuilder(p.deps.Gateway, p.deps.Registry).
		AddPage(render).
		WithTimeout(eqTimeout).
		AddControlHelp(EmojiEqClose, 0, "close the equalizer", gated(func(m *menu.Menu) error {
			h := m.Handle()
			if err := m.Close(); err != nil {
				return err
			}
			if err := p.deps.Gateway.DeleteMessage(h); err != nil && !errors.Is(err, gateway.ErrNotFound) {
				log.Printf("[WARN] [Player] deleting equalizer message %s: %v", h.MessageID, err)
			}
			return nil
		})).
		AddControlHelp(EmojiEqPrevBand, 1, "select previous band", gated(func(m *menu.Menu) error {
			state.move(-1)
			return m.Refresh()
		})).
		AddControlHelp(EmojiEqNextBand, 2, "select next band", gated(func(m *menu.Menu) error {
			state.move(1)
			return m.Refresh()
		})).
		AddControlHelp(EmojiEqLower, 3, "lower the selected band", gated(func(m *menu.Menu) error {
			band := state.selected()
			if err := p.Equalize(band, p.Gains()[band]-eqStep); err != nil {
				return err
			}
			return m.Refresh()
		})).
		AddControlHelp(EmojiEqRaise, 4, "raise the selected band", gated(func(m *menu.Menu) error {
			band := state.selected()
			if err := p.Equalize(band, p.Gains()[band]+eqStep); err != nil {
				return err
			}
			return m.Refresh()
		})).
		Build(channelID)
	if err != nil {
		return nil, fmt.Errorf("music: opening equalizer: %w", err)
	}
	return m, nil
}

// renderEqualizerChart draws the 15 band gains as a vertical bar chart in a
// code block, one column per band, with a cursor under the selected band.
func renderEqualizerChart(gains [audio.NumBands]float64, cursor int) string {
	const eps = 1e-9

	var sb strings.Builder
	fmt.Fprintf(&sb, "Equalizer — band %d (gain %+.2f)\n```\n", cursor+1, gains[cursor])

	for row := 0; row <= 10; row++ {
		level := audio.MaxGain - eqStep*float64(row)
		fmt.Fprintf(&sb, "%+.2f │", level)
		for _, g := range gains {
			filled := false
			switch {
			case level > eps:
				filled = g >= level-eps
			case level < -eps:
				filled = g <= level+eps
			default:
				filled = true // zero axis
			}
			if filled {
				sb.WriteString(" █")
			} else {
				sb.WriteString(" ·")
			}
		}
		sb.WriteString("\n")
	}

	sb.WriteString("      └")
	sb.WriteString(strings.Repeat("──", audio.NumBands))
	sb.WriteString("\n       ")
	for i := 0; i < audio.NumBands; i++ {
		if i == cursor {
			sb.WriteString(" ▲")
		} else {
			sb.WriteString("  ")
		}
	}
	sb.WriteString("\n```")
	return sb.String()
}
