package music

import (
	"strings"
	"testing"

	"github.com/Trivernis/2b-rs-sub000/internal/audio"
	"github.com/Trivernis/2b-rs-sub000/internal/menu"
	"github.com/Trivernis/2b-rs-sub000/internal/message"
)

func TestEqStateWrapsAround(t *testing.T) {
	s := &eqState{}

	s.move(-1)
	if got := s.selected(); got != audio.NumBands-1 {
		t.Fatalf("selected = %d after moving left from 0, want %d", got, audio.NumBands-1)
	}
	s.move(1)
	if got := s.selected(); got != 0 {
		t.Fatalf("selected = %d after moving back, want 0", got)
	}
	for i := 0; i < audio.NumBands; i++ {
		s.move(1)
	}
	if got := s.selected(); got != 0 {
		t.Fatalf("selected = %d after a full loop, want 0", got)
	}
}

func pressEq(t *testing.T, m *menu.Menu, emoji, userID string) {
	t.Helper()
	if err := m.OnReactionAdd(message.Reaction{Handle: m.Handle(), UserID: userID, Emoji: emoji}); err != nil {
		t.Fatalf("pressing %s as %s failed: %v", emoji, userID, err)
	}
}

func TestEqualizerOpenToEveryDJ(t *testing.T) {
	p, _, _, _ := newTestPlayer(t)

	m, err := p.OpenEqualizer("chan")
	if err != nil {
		t.Fatalf("OpenEqualizer() failed: %v", err)
	}

	// Without a DJ role configured anyone may adjust, not just the opener.
	pressEq(t, m, EmojiEqRaise, "alice")
	pressEq(t, m, EmojiEqRaise, "bob")

	if g := p.Gains()[0]; g != 2*eqStep {
		t.Fatalf("gain = %v after two raises, want %v", g, 2*eqStep)
	}
}

func TestEqualizerControlsDJGated(t *testing.T) {
	p, _, _, _ := newTestPlayer(t)
	p.deps.DJCheck = func(_, userID string) bool { return userID == "dj" }

	m, err := p.OpenEqualizer("chan")
	if err != nil {
		t.Fatalf("OpenEqualizer() failed: %v", err)
	}

	pressEq(t, m, EmojiEqRaise, "listener")
	if g := p.Gains()[0]; g != 0 {
		t.Fatalf("gain = %v after a non-DJ press, want 0", g)
	}

	pressEq(t, m, EmojiEqRaise, "dj")
	if g := p.Gains()[0]; g != eqStep {
		t.Fatalf("gain = %v after a DJ press, want %v", g, eqStep)
	}
}

func TestRenderEqualizerChart(t *testing.T) {
	var gains [audio.NumBands]float64
	gains[0] = audio.MaxGain
	gains[14] = -audio.MaxGain

	chart := renderEqualizerChart(gains, 2)

	if !strings.Contains(chart, "band 3") {
		t.Errorf("chart header missing the selected band:\n%s", chart)
	}
	if !strings.Contains(chart, "```") {
		t.Error("chart not fenced as a code block")
	}

	lines := strings.Split(chart, "\n")
	// Header, 11 gain rows, axis, cursor row, closing fence plus the
	// opening fence shares the header line's trailing newline.
	var topRow, zeroRow, bottomRow, cursorRow string
	for _, l := range lines {
		switch {
		case strings.HasPrefix(l, "+0.25"):
			topRow = l
		case strings.HasPrefix(l, "+0.00"):
			zeroRow = l
		case strings.HasPrefix(l, "-0.25"):
			bottomRow = l
		case strings.Contains(l, "▲"):
			cursorRow = l
		}
	}

	if topRow == "" || !strings.HasPrefix(strings.TrimPrefix(topRow, "+0.25 │"), " █") {
		t.Errorf("band 1 not filled at +0.25:\n%s", topRow)
	}
	if bottomRow == "" || !strings.HasSuffix(bottomRow, "█") {
		t.Errorf("band 15 not filled at -0.25:\n%s", bottomRow)
	}
	if zeroRow == "" || strings.Contains(zeroRow, "·") {
		t.Errorf("zero axis should be filled for every band:\n%s", zeroRow)
	}
	if cursorRow == "" {
		t.Fatal("cursor row missing")
	}
	if got := strings.Index(cursorRow, "▲"); got < 0 {
		t.Fatalf("cursor marker missing in %q", cursorRow)
	}
}

func TestRenderEqualizerChartFlat(t *testing.T) {
	var gains [audio.NumBands]float64
	chart := renderEqualizerChart(gains, 0)

	// Only the zero axis row is fully filled on a flat equalizer.
	filledRows := 0
	for _, l := range strings.Split(chart, "\n") {
		if strings.Contains(l, "│") && !strings.Contains(l, "·") {
			filledRows++
		}
	}
	if filledRows != 1 {
		t.Fatalf("flat chart has %d fully filled rows, want just the axis", filledRows)
	}
}
