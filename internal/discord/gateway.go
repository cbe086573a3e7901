package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/Trivernis/2b-rs-sub000/internal/gateway"
	"github.com/Trivernis/2b-rs-sub000/internal/message"
)

// SessionGateway implements gateway.Gateway on a discordgo session. Reaction
// publishing is rate limited because building a menu emits a burst of
// reactions and Discord throttles those aggressively.
type SessionGateway struct {
	dg           *discordgo.Session
	reactLimiter *rate.Limiter
}

func NewSessionGateway(dg *discordgo.Session) *SessionGateway {
	return &SessionGateway{
		dg:           dg,
		reactLimiter: rate.NewLimiter(rate.Every(250*time.Millisecond), 4),
	}
}

func (g *SessionGateway) SendMessage(channelID string, p *gateway.Payload) (message.Handle, error) {
	send := &discordgo.MessageSend{Content: p.Content}
	if p.Embed != nil {
		send.Embeds = []*discordgo.MessageEmbed{p.Embed}
	}
	msg, err := g.dg.ChannelMessageSendComplex(channelID, send)
	if err != nil {
		return message.Handle{}, fmt.Errorf("gateway: sending message: %w", err)
	}
	return message.Handle{ChannelID: channelID, MessageID: msg.ID}, nil
}

func (g *SessionGateway) EditMessage(h message.Handle, p *gateway.Payload) error {
	edit := &discordgo.MessageEdit{
		Channel: h.ChannelID,
		ID:      h.MessageID,
		Content: &p.Content,
	}
	embeds := []*discordgo.MessageEmbed{}
	if p.Embed != nil {
		embeds = append(embeds, p.Embed)
	}
	edit.Embeds = &embeds
	if _, err := g.dg.ChannelMessageEditComplex(edit); err != nil {
		return fmt.Errorf("gateway: editing message: %w", wrapNotFound(err))
	}
	return nil
}

func (g *SessionGateway) DeleteMessage(h message.Handle) error {
	if err := g.dg.ChannelMessageDelete(h.ChannelID, h.MessageID); err != nil {
		return fmt.Errorf("gateway: deleting message: %w", wrapNotFound(err))
	}
	return nil
}

func (g *SessionGateway) DeleteAllReactions(h message.Handle) error {
	if err := g.dg.MessageReactionsRemoveAll(h.ChannelID, h.MessageID); err != nil {
		return fmt.Errorf("gateway: clearing reactions: %w", wrapNotFound(err))
	}
	return nil
}

func (g *SessionGateway) AddReaction(h message.Handle, emoji string) error {
	if err := g.reactLimiter.Wait(context.Background()); err != nil {
		return err
	}
	if err := g.dg.MessageReactionAdd(h.ChannelID, h.MessageID, emoji); err != nil {
		return fmt.Errorf("gateway: adding reaction: %w", wrapNotFound(err))
	}
	return nil
}

func (g *SessionGateway) DeleteReaction(h message.Handle, emoji, userID string) error {
	if err := g.dg.MessageReactionRemove(h.ChannelID, h.MessageID, emoji, userID); err != nil {
		return fmt.Errorf("gateway: removing reaction: %w", wrapNotFound(err))
	}
	return nil
}

func (g *SessionGateway) ChannelLastMessageID(channelID string) (string, error) {
	if ch, err := g.dg.State.Channel(channelID); err == nil {
		return ch.LastMessageID, nil
	}
	ch, err := g.dg.Channel(channelID)
	if err != nil {
		return "", fmt.Errorf("gateway: fetching channel: %w", err)
	}
	return ch.LastMessageID, nil
}

func (g *SessionGateway) BotUserID() string {
	if g.dg.State != nil && g.dg.State.User != nil {
		return g.dg.State.User.ID
	}
	return ""
}

// wrapNotFound maps Discord's 404 onto gateway.ErrNotFound so callers can
// treat vanished messages as already handled.
func wrapNotFound(err error) error {
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) && rerr.Response != nil && rerr.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", gateway.ErrNotFound, err)
	}
	return err
}
