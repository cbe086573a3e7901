package music

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Trivernis/2b-rs-sub000/internal/audio"
	"github.com/Trivernis/2b-rs-sub000/internal/ephemeral"
	"github.com/Trivernis/2b-rs-sub000/internal/gateway"
	"github.com/Trivernis/2b-rs-sub000/internal/message"
	"github.com/Trivernis/2b-rs-sub000/internal/resolver"
	"github.com/Trivernis/2b-rs-sub000/internal/storage"
)

// fakeTrack records playback steering and forwards Stop to the connection's
// track-end hooks, like the real backend does.
type fakeTrack struct {
	mu      sync.Mutex
	url     string
	stopped bool
	paused  bool
	onEnd   func()
}

func (t *fakeTrack) Stop() error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	onEnd := t.onEnd
	t.mu.Unlock()
	if onEnd != nil {
		onEnd()
	}
	return nil
}

func (t *fakeTrack) Pause() error {
	t.mu.Lock()
	t.paused = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTrack) Resume() error {
	t.mu.Lock()
	t.paused = false
	t.mu.Unlock()
	return nil
}

func (t *fakeTrack) isPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

type fakeConn struct {
	mu       sync.Mutex
	tracks   []*fakeTrack
	playErrs map[string]error
	gains    [audio.NumBands]float64
	onEnd    []func(audio.Track)
}

func (c *fakeConn) Play(url string) (audio.Track, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.playErrs[url]; err != nil {
		return nil, err
	}
	t := &fakeTrack{url: url}
	t.onEnd = func() {
		for _, fn := range c.endHooks() {
			fn(t)
		}
	}
	c.tracks = append(c.tracks, t)
	return t, nil
}

func (c *fakeConn) endHooks() []func(audio.Track) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]func(audio.Track), len(c.onEnd))
	copy(out, c.onEnd)
	return out
}

func (c *fakeConn) Equalize(band int, gain float64) error {
	c.mu.Lock()
	c.gains[band] = gain
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) EqualizeAll(gains [audio.NumBands]float64) error {
	c.mu.Lock()
	c.gains = gains
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) OnTrackStart(func(audio.Track)) {}

func (c *fakeConn) OnTrackEnd(fn func(audio.Track)) {
	c.mu.Lock()
	c.onEnd = append(c.onEnd, fn)
	c.mu.Unlock()
}

func (c *fakeConn) playedURLs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.tracks))
	for i, t := range c.tracks {
		out[i] = t.url
	}
	return out
}

func (c *fakeConn) lastTrack() *fakeTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tracks) == 0 {
		return nil
	}
	return c.tracks[len(c.tracks)-1]
}

type fakeBackend struct {
	mu    sync.Mutex
	conn  *fakeConn
	left  []string
	joins int
}

func (b *fakeBackend) Join(_, _ string) (audio.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.joins++
	if b.conn == nil {
		b.conn = &fakeConn{playErrs: map[string]error{}}
	}
	return b.conn, nil
}

func (b *fakeBackend) Leave(guildID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.left = append(b.left, guildID)
	b.conn = nil
	return nil
}

func (b *fakeBackend) leftCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.left)
}

// fakeResolver maps song URLs to stream URLs, failing for URLs in bad.
type fakeResolver struct {
	bad map[string]bool
}

func (r *fakeResolver) Resolve(_ context.Context, input string) ([]resolver.Song, error) {
	return []resolver.Song{{URL: input, Title: input}}, nil
}

func (r *fakeResolver) StreamURL(_ context.Context, song resolver.Song) (string, error) {
	if r.bad[song.URL] {
		return "", errors.New("resolution failed")
	}
	return "stream://" + song.URL, nil
}

type nullGateway struct {
	mu     sync.Mutex
	nextID int
	sent   []string
}

func (g *nullGateway) SendMessage(channelID string, p *gateway.Payload) (message.Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	g.sent = append(g.sent, p.Content)
	return message.Handle{ChannelID: channelID, MessageID: fmt.Sprintf("m%d", g.nextID)}, nil
}

func (g *nullGateway) sentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

func (g *nullGateway) EditMessage(message.Handle, *gateway.Payload) error  { return nil }
func (g *nullGateway) DeleteMessage(message.Handle) error                  { return nil }
func (g *nullGateway) DeleteAllReactions(message.Handle) error             { return nil }
func (g *nullGateway) AddReaction(message.Handle, string) error            { return nil }
func (g *nullGateway) DeleteReaction(message.Handle, string, string) error { return nil }
func (g *nullGateway) ChannelLastMessageID(string) (string, error)         { return "", nil }
func (g *nullGateway) BotUserID() string                                   { return "bot" }

type nullStore struct{}

func (nullStore) CreateEphemeralMessage(context.Context, storage.EphemeralMessage) error { return nil }
func (nullStore) DeleteEphemeralMessage(context.Context, string, string) error           { return nil }
func (nullStore) ListEphemeralMessages(context.Context) ([]storage.EphemeralMessage, error) {
	return nil, nil
}
func (nullStore) GuildSetting(context.Context, string, string) (string, error)  { return "", nil }
func (nullStore) SetGuildSetting(context.Context, string, string, string) error { return nil }

func newTestPlayer(t *testing.T) (*Player, *fakeBackend, *fakeResolver, *nullGateway) {
	t.Helper()
	gw := &nullGateway{}
	backend := &fakeBackend{}
	res := &fakeResolver{bad: map[string]bool{}}
	deps := PlayerDeps{
		Gateway:   gw,
		Backend:   backend,
		Resolver:  res,
		Registry:  message.NewRegistry(),
		Ephemeral: ephemeral.NewScheduler(gw, nullStore{}),
	}
	return NewPlayer("guild", "chan", deps), backend, res, gw
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPlayerPlayNextNotConnected(t *testing.T) {
	p, _, _, _ := newTestPlayer(t)
	if err := p.PlayNext(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("PlayNext() err = %v, want ErrNotConnected", err)
	}
}

func TestPlayerPlaysQueuedSong(t *testing.T) {
	p, backend, _, _ := newTestPlayer(t)
	if err := p.Join("voice"); err != nil {
		t.Fatalf("Join() failed: %v", err)
	}
	p.Queue().Add(resolver.Song{URL: "a", Title: "a"})

	if err := p.PlayNext(context.Background()); err != nil {
		t.Fatalf("PlayNext() failed: %v", err)
	}

	if got := backend.conn.playedURLs(); len(got) != 1 || got[0] != "stream://a" {
		t.Fatalf("played = %v, want [stream://a]", got)
	}
	if cur := p.Queue().Current(); cur == nil || cur.Title != "a" {
		t.Fatalf("Current() = %v, want a", cur)
	}
	if p.LeaveFlag() {
		t.Fatal("leave flag set while playing")
	}
}

func TestPlayerTrackEndAdvancesQueue(t *testing.T) {
	p, backend, _, _ := newTestPlayer(t)
	_ = p.Join("voice")
	p.Queue().Add(resolver.Song{URL: "a", Title: "a"}, resolver.Song{URL: "b", Title: "b"})
	_ = p.PlayNext(context.Background())

	if err := p.Skip(); err != nil {
		t.Fatalf("Skip() failed: %v", err)
	}

	waitFor(t, func() bool {
		cur := p.Queue().Current()
		return cur != nil && cur.Title == "b"
	}, "the next track to start")
	if got := backend.conn.playedURLs(); len(got) != 2 {
		t.Fatalf("played = %v, want two tracks", got)
	}
}

func TestPlayerSkipsFailingSongs(t *testing.T) {
	p, backend, res, gw := newTestPlayer(t)
	_ = p.Join("voice")
	res.bad["broken"] = true
	p.Queue().Add(resolver.Song{URL: "broken", Title: "broken"}, resolver.Song{URL: "ok", Title: "ok"})

	if err := p.PlayNext(context.Background()); err != nil {
		t.Fatalf("PlayNext() failed: %v", err)
	}

	if got := backend.conn.playedURLs(); len(got) != 1 || got[0] != "stream://ok" {
		t.Fatalf("played = %v, want only the healthy track", got)
	}
	waitFor(t, func() bool { return gw.sentCount() == 1 }, "the skip report")
}

func TestPlayerIdleOnEmptyQueue(t *testing.T) {
	p, _, _, _ := newTestPlayer(t)
	_ = p.Join("voice")

	if err := p.PlayNext(context.Background()); err != nil {
		t.Fatalf("PlayNext() failed: %v", err)
	}
	if p.Queue().Current() != nil {
		t.Fatal("idle player still has a current song")
	}
	if !p.LeaveFlag() {
		t.Fatal("idle player not flagged for auto-leave")
	}
}

func TestPlayerPausePreservedAcrossTracks(t *testing.T) {
	p, backend, _, _ := newTestPlayer(t)
	_ = p.Join("voice")
	p.Queue().Add(resolver.Song{URL: "a", Title: "a"}, resolver.Song{URL: "b", Title: "b"})
	_ = p.PlayNext(context.Background())

	if err := p.TogglePause(); err != nil {
		t.Fatalf("TogglePause() failed: %v", err)
	}
	if !p.Paused() {
		t.Fatal("player not paused")
	}

	_ = p.Skip()
	waitFor(t, func() bool {
		cur := p.Queue().Current()
		return cur != nil && cur.Title == "b"
	}, "the next track to start")

	if track := backend.conn.lastTrack(); track == nil || !track.isPaused() {
		t.Fatal("pause state lost across the track boundary")
	}
}

func TestPlayerStopClearsEverything(t *testing.T) {
	p, backend, _, _ := newTestPlayer(t)
	_ = p.Join("voice")
	p.Queue().Add(
		resolver.Song{URL: "a", Title: "a"},
		resolver.Song{URL: "b", Title: "b"},
		resolver.Song{URL: "c", Title: "c"},
	)
	_ = p.PlayNext(context.Background())

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	if !p.LeaveFlag() {
		t.Fatal("stopped player not flagged for auto-leave")
	}
	waitFor(t, func() bool { return p.Queue().Current() == nil }, "playback to end")
	if got := backend.conn.playedURLs(); len(got) != 1 {
		t.Fatalf("played = %v, want no track after the stopped one", got)
	}
}

func TestPlayerSkipWithoutTrack(t *testing.T) {
	p, _, _, _ := newTestPlayer(t)
	if err := p.Skip(); !errors.Is(err, ErrNoTrackPlaying) {
		t.Fatalf("Skip() err = %v, want ErrNoTrackPlaying", err)
	}
}

func TestPlayerEqualizeClampsAndForwards(t *testing.T) {
	p, backend, _, _ := newTestPlayer(t)
	_ = p.Join("voice")

	if err := p.Equalize(3, 1.5); err != nil {
		t.Fatalf("Equalize() failed: %v", err)
	}
	if g := p.Gains()[3]; g != audio.MaxGain {
		t.Fatalf("gain = %v, want clamped to %v", g, audio.MaxGain)
	}
	backend.conn.mu.Lock()
	forwarded := backend.conn.gains[3]
	backend.conn.mu.Unlock()
	if forwarded != audio.MaxGain {
		t.Fatalf("backend gain = %v, want %v", forwarded, audio.MaxGain)
	}

	if err := p.Equalize(99, 0); err == nil {
		t.Fatal("Equalize(99, 0) accepted an out-of-range band")
	}
}

func TestPlayerAutoLeaveCountdown(t *testing.T) {
	p, _, _, _ := newTestPlayer(t)
	_ = p.Join("voice")
	p.SetLeaveFlag(true)

	for i := 0; i < autoLeaveTicks-1; i++ {
		if p.leaveTick() {
			t.Fatalf("leaveTick() fired after %d tick(s)", i+1)
		}
	}
	if !p.leaveTick() {
		t.Fatalf("leaveTick() did not fire after %d ticks", autoLeaveTicks)
	}
}

func TestPlayerAutoLeaveResetOnActivity(t *testing.T) {
	p, _, _, _ := newTestPlayer(t)
	_ = p.Join("voice")
	p.SetLeaveFlag(true)

	p.leaveTick()
	p.leaveTick()
	p.SetLeaveFlag(false)
	p.SetLeaveFlag(true)

	for i := 0; i < autoLeaveTicks-1; i++ {
		if p.leaveTick() {
			t.Fatal("countdown not reset by activity")
		}
	}
	if !p.leaveTick() {
		t.Fatal("leaveTick() did not fire after a fresh countdown")
	}
}

func TestManagerAutoLeaveDetaches(t *testing.T) {
	gw := &nullGateway{}
	backend := &fakeBackend{}
	deps := PlayerDeps{
		Gateway:   gw,
		Backend:   backend,
		Resolver:  &fakeResolver{},
		Registry:  message.NewRegistry(),
		Ephemeral: ephemeral.NewScheduler(gw, nullStore{}),
	}
	m := NewManager(deps, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := m.GetOrCreate(ctx, "guild", "chan")
	_ = p.Join("voice")
	p.SetLeaveFlag(true)

	waitFor(t, func() bool { return m.Len() == 0 }, "the player to detach")
	if backend.leftCount() != 1 {
		t.Fatalf("Leave called %d times, want 1", backend.leftCount())
	}
}

func TestManagerGetOrCreateReuses(t *testing.T) {
	gw := &nullGateway{}
	deps := PlayerDeps{
		Gateway:   gw,
		Backend:   &fakeBackend{},
		Resolver:  &fakeResolver{},
		Registry:  message.NewRegistry(),
		Ephemeral: ephemeral.NewScheduler(gw, nullStore{}),
	}
	m := NewManager(deps, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := m.GetOrCreate(ctx, "g1", "chan")
	b := m.GetOrCreate(ctx, "g1", "chan")
	if a != b {
		t.Fatal("GetOrCreate returned a second player for the same guild")
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
}
