package music

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Trivernis/2b-rs-sub000/internal/gateway"
	"github.com/Trivernis/2b-rs-sub000/internal/menu"
	"github.com/Trivernis/2b-rs-sub000/internal/message"
)

// Now-playing control emojis, emitted in this order.
const (
	EmojiStop      = "⏹"
	EmojiPausePlay = "⏯"
	EmojiSkip      = "⏭"
)

// nowPlayingTimeout is how long a now-playing message stays interactive.
const nowPlayingTimeout = 24 * time.Hour

// UpdateNowPlaying reconciles the now-playing message with the player
// state: created when a track plays and no message exists, re-rendered when
// one does, removed when the player is idle.
func (p *Player) UpdateNowPlaying() {
	p.mu.Lock()
	np := p.nowPlaying
	current := p.queue.Current()
	p.mu.Unlock()

	if current == nil {
		p.closeNowPlaying()
		return
	}
	if np == nil {
		if err := p.createNowPlaying(); err != nil {
			log.Printf("[ERR] [Player] creating now-playing message for guild %s: %v", p.guildID, err)
		}
		return
	}
	if err := np.Refresh(); err != nil {
		log.Printf("[ERR] [Player] refreshing now-playing message for guild %s: %v", p.guildID, err)
	}
}

func (p *Player) createNowPlaying() error {
	m, err := menu.NewBuilder(p.deps.Gateway, p.deps.Registry).
		AddPage(p.renderNowPlaying).
		WithTimeout(nowPlayingTimeout).
		Sticky().
		OnClosed(p.clearNowPlayingRef).
		AddControlHelp(EmojiStop, 0, "stop playback", p.controlStop).
		AddControlHelp(EmojiPausePlay, 1, "pause or resume", p.controlPause).
		AddControlHelp(EmojiSkip, 2, "skip to the next track", p.controlSkip).
		Build(p.msgChannel)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.nowPlaying = m
	p.mu.Unlock()
	return nil
}

func (p *Player) renderNowPlaying() (*gateway.Payload, error) {
	current := p.queue.Current()
	if current == nil {
		return &gateway.Payload{Content: "Nothing is playing."}, nil
	}

	banner := "▶️ Playing"
	if p.Paused() {
		banner = "⏸ Paused"
	}
	embed := &discordgo.MessageEmbed{
		Title:       banner,
		Description: fmt.Sprintf("**%s**\nby %s\n%s", current.Title, current.Author, current.URL),
	}
	if current.Thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: current.Thumbnail}
	}
	return &gateway.Payload{Embed: embed}, nil
}

// closeNowPlaying tears down the now-playing message if one exists.
func (p *Player) closeNowPlaying() {
	p.mu.Lock()
	np := p.nowPlaying
	p.nowPlaying = nil
	p.mu.Unlock()

	if np == nil {
		return
	}
	h := np.Handle()
	_ = np.Close()
	if err := p.deps.Gateway.DeleteMessage(h); err != nil && !errors.Is(err, gateway.ErrNotFound) {
		log.Printf("[WARN] [Player] deleting now-playing message %s: %v", h.MessageID, err)
	}
}

// clearNowPlayingRef drops the player's reference once the message closed or
// was deleted externally, so the next update recreates it.
func (p *Player) clearNowPlayingRef() {
	p.mu.Lock()
	p.nowPlaying = nil
	p.mu.Unlock()
}

func (p *Player) allowed(r message.Reaction) bool {
	if p.deps.DJCheck == nil {
		return true
	}
	return p.deps.DJCheck(p.guildID, r.UserID)
}

func (p *Player) controlStop(_ gateway.Gateway, _ *menu.Menu, r message.Reaction) error {
	if !p.allowed(r) {
		return nil
	}
	return p.Stop()
}

func (p *Player) controlPause(_ gateway.Gateway, _ *menu.Menu, r message.Reaction) error {
	if !p.allowed(r) {
		return nil
	}
	return p.TogglePause()
}

func (p *Player) controlSkip(_ gateway.Gateway, _ *menu.Menu, r message.Reaction) error {
	if !p.allowed(r) {
		return nil
	}
	if err := p.Skip(); err != nil && !errors.Is(err, ErrNoTrackPlaying) {
		return err
	}
	return nil
}
