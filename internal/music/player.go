// Package music implements the per-guild music player: queue, playback
// state machine, the now-playing sticky message and the equalizer menu.
package music

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Trivernis/2b-rs-sub000/internal/audio"
	"github.com/Trivernis/2b-rs-sub000/internal/ephemeral"
	"github.com/Trivernis/2b-rs-sub000/internal/gateway"
	"github.com/Trivernis/2b-rs-sub000/internal/menu"
	"github.com/Trivernis/2b-rs-sub000/internal/message"
	"github.com/Trivernis/2b-rs-sub000/internal/resolver"
)

var (
	ErrNotConnected    = errors.New("music: not connected to a voice channel")
	ErrNoTrackPlaying  = errors.New("music: no track is currently playing")
	ErrNoTracksInQueue = errors.New("music: no tracks in queue")
)

// autoLeaveTicks is the number of auto-leave checks (one per minute) the
// leave flag must survive before the player disconnects.
const autoLeaveTicks = 5

// DefaultAutoLeaveInterval is the pause between auto-leave checks.
const DefaultAutoLeaveInterval = time.Minute

// errorMessageTimeout is how long player error reports stay in the channel.
const errorMessageTimeout = 30 * time.Second

// DJCheckFunc reports whether a user may control playback in a guild.
type DJCheckFunc func(guildID, userID string) bool

// PlayerDeps bundles the collaborators a player needs. DJCheck may be nil,
// which allows everyone.
type PlayerDeps struct {
	Gateway   gateway.Gateway
	Backend   audio.Backend
	Resolver  resolver.Resolver
	Registry  *message.Registry
	Ephemeral *ephemeral.Scheduler
	DJCheck   DJCheckFunc
}

// Player is the per-guild playback state machine. One mutex guards all
// state; it is held across a full PlayNext, so only one queue advance runs
// at a time. Methods that touch the now-playing menu release the lock first
// because rendering reads player state back.
type Player struct {
	mu sync.Mutex

	guildID    string
	msgChannel string
	deps       PlayerDeps

	queue      *Queue
	conn       audio.Conn
	current    audio.Track
	paused     bool
	leaveFlag  bool
	leaveTicks int
	gains      [audio.NumBands]float64

	nowPlaying *menu.Menu

	// onRemove detaches the player from the process-wide mapping; set by
	// the manager.
	onRemove func()
}

func NewPlayer(guildID, msgChannelID string, deps PlayerDeps) *Player {
	return &Player{
		guildID:    guildID,
		msgChannel: msgChannelID,
		deps:       deps,
		queue:      NewQueue(),
		leaveTicks: autoLeaveTicks,
	}
}

// Queue exposes the player's queue for enqueue/shuffle/move operations.
func (p *Player) Queue() *Queue { return p.queue }

// GuildID returns the guild this player belongs to.
func (p *Player) GuildID() string { return p.guildID }

// Join connects the player to a voice channel and hooks queue advancement
// to the backend's track-end event.
func (p *Player) Join(channelID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	conn, err := p.deps.Backend.Join(p.guildID, channelID)
	if err != nil {
		return fmt.Errorf("music: joining voice: %w", err)
	}
	if conn != p.conn {
		p.conn = conn
		conn.OnTrackEnd(func(audio.Track) { p.handleTrackEnd() })
	}
	p.leaveFlag = false
	p.leaveTicks = autoLeaveTicks
	return nil
}

// Connected reports whether the player holds a voice connection.
func (p *Player) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

// Paused reports whether playback is paused.
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Player) handleTrackEnd() {
	go func() {
		if err := p.PlayNext(context.Background()); err != nil {
			log.Printf("[ERR] [Player] advancing queue for guild %s: %v", p.guildID, err)
		}
		p.UpdateNowPlaying()
	}()
}

// PlayNext pops songs off the queue until one of them starts streaming.
// Songs whose resolution or playback fails are reported to the message
// channel and skipped, so dead playlist entries cannot stall the queue.
// An empty queue leaves the player idle and eligible for auto-leave.
func (p *Player) PlayNext(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playNextLocked(ctx)
}

func (p *Player) playNextLocked(ctx context.Context) error {
	if p.conn == nil {
		return ErrNotConnected
	}
	for {
		song, ok := p.queue.Next()
		if !ok {
			p.current = nil
			p.queue.SetCurrent(nil)
			p.leaveFlag = true
			log.Printf("[INFO] [Player] queue drained for guild %s, going idle", p.guildID)
			return nil
		}

		streamURL, err := p.deps.Resolver.StreamURL(ctx, song)
		if err != nil {
			log.Printf("[WARN] [Player] skipping %q: %v", song.Title, err)
			p.reportError(fmt.Sprintf("Skipping **%s**: could not resolve a playable stream.", song.Title))
			continue
		}

		track, err := p.conn.Play(streamURL)
		if err != nil {
			log.Printf("[WARN] [Player] skipping %q: %v", song.Title, err)
			p.reportError(fmt.Sprintf("Skipping **%s**: playback failed to start.", song.Title))
			continue
		}

		p.current = track
		s := song
		p.queue.SetCurrent(&s)
		p.leaveFlag = false
		p.leaveTicks = autoLeaveTicks
		if p.paused {
			// Keep the pause state across song boundaries.
			_ = track.Pause()
		}
		log.Printf("[INFO] [Player] now playing %q in guild %s | queued=%d", song.Title, p.guildID, p.queue.Len())
		return nil
	}
}

// TogglePause flips the pause state and refreshes the now-playing banner.
func (p *Player) TogglePause() error {
	p.mu.Lock()
	p.paused = !p.paused
	track := p.current
	paused := p.paused
	p.mu.Unlock()

	if track != nil {
		var err error
		if paused {
			err = track.Pause()
		} else {
			err = track.Resume()
		}
		if err != nil {
			return fmt.Errorf("music: toggling pause: %w", err)
		}
	}
	p.UpdateNowPlaying()
	return nil
}

// Skip stops the current track; the track-end hook advances the queue.
func (p *Player) Skip() error {
	p.mu.Lock()
	track := p.current
	p.mu.Unlock()

	if track == nil {
		return ErrNoTrackPlaying
	}
	return track.Stop()
}

// Stop clears the queue, stops playback, removes the now-playing message and
// flags the player for auto-leave.
func (p *Player) Stop() error {
	p.mu.Lock()
	p.queue.Clear()
	track := p.current
	p.leaveFlag = true
	p.mu.Unlock()

	if track != nil {
		if err := track.Stop(); err != nil {
			return fmt.Errorf("music: stopping track: %w", err)
		}
	}
	p.closeNowPlaying()
	return nil
}

// Equalize sets one band gain, clamped to the valid range, and forwards it
// to the backend. The local cache drives the equalizer menu rendering.
func (p *Player) Equalize(band int, gain float64) error {
	if band < 0 || band >= audio.NumBands {
		return fmt.Errorf("music: band %d out of range", band)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	g := audio.ClampGain(gain)
	p.gains[band] = g
	if p.conn != nil {
		if err := p.conn.Equalize(band, g); err != nil {
			return fmt.Errorf("music: equalizing: %w", err)
		}
	}
	return nil
}

// EqualizeAll replaces all band gains at once.
func (p *Player) EqualizeAll(gains [audio.NumBands]float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, g := range gains {
		p.gains[i] = audio.ClampGain(g)
	}
	if p.conn != nil {
		if err := p.conn.EqualizeAll(p.gains); err != nil {
			return fmt.Errorf("music: equalizing: %w", err)
		}
	}
	return nil
}

// Gains returns the cached band gains.
func (p *Player) Gains() [audio.NumBands]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gains
}

// SetLeaveFlag marks or unmarks the player for auto-leave.
func (p *Player) SetLeaveFlag(v bool) {
	p.mu.Lock()
	p.leaveFlag = v
	if !v {
		p.leaveTicks = autoLeaveTicks
	}
	p.mu.Unlock()
}

// LeaveFlag reports whether the player is marked for auto-leave.
func (p *Player) LeaveFlag() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.leaveFlag
}

// leaveTick runs one auto-leave check. It returns true when the grace
// window is exhausted and the player should detach. Activity resets the
// countdown to the full grace window.
func (p *Player) leaveTick() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.leaveFlag {
		p.leaveTicks = autoLeaveTicks
		return false
	}
	p.leaveTicks--
	return p.leaveTicks <= 0
}

// detach stops playback, leaves the voice channel, removes the now-playing
// message and drops the player from the process-wide mapping.
func (p *Player) detach() {
	p.mu.Lock()
	track := p.current
	p.current = nil
	p.queue.SetCurrent(nil)
	p.conn = nil
	onRemove := p.onRemove
	p.mu.Unlock()

	if track != nil {
		_ = track.Stop()
	}
	if err := p.deps.Backend.Leave(p.guildID); err != nil {
		log.Printf("[WARN] [Player] leaving voice for guild %s: %v", p.guildID, err)
	}
	p.closeNowPlaying()
	if onRemove != nil {
		onRemove()
	}
	log.Printf("[INFO] [Player] auto-left guild %s after idling", p.guildID)
}

// RunAutoLeave wakes once per interval and detaches the player after the
// leave flag stayed set for the whole grace window. The loop exits when the
// player detached or ctx is cancelled.
func (p *Player) RunAutoLeave(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultAutoLeaveInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.leaveTick() {
				p.detach()
				return
			}
		}
	}
}

// reportError posts a short-lived error message to the player's channel.
// Called with p.mu held; the send itself is fired off the lock.
func (p *Player) reportError(text string) {
	go func() {
		_, err := p.deps.Ephemeral.Send(context.Background(), p.msgChannel,
			&gateway.Payload{Content: "❌ " + text}, errorMessageTimeout)
		if err != nil {
			log.Printf("[ERR] [Player] reporting error to channel %s: %v", p.msgChannel, err)
		}
	}()
}
