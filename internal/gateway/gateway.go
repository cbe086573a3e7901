// Package gateway abstracts the chat platform surface the interactive
// message subsystem needs: sending, editing and deleting messages plus
// reaction management. The Discord-backed implementation lives in the
// discord package; tests substitute fakes.
package gateway

import (
	"errors"

	"github.com/bwmarrin/discordgo"

	"github.com/Trivernis/2b-rs-sub000/internal/message"
)

// ErrNotFound marks a message that no longer exists on the platform.
// Callers deleting best-effort treat it as success.
var ErrNotFound = errors.New("gateway: message not found")

// Payload is the content of an outgoing message. Either field may be empty.
type Payload struct {
	Content string
	Embed   *discordgo.MessageEmbed
}

type Gateway interface {
	SendMessage(channelID string, p *Payload) (message.Handle, error)
	EditMessage(h message.Handle, p *Payload) error
	DeleteMessage(h message.Handle) error
	DeleteAllReactions(h message.Handle) error
	AddReaction(h message.Handle, emoji string) error
	DeleteReaction(h message.Handle, emoji, userID string) error

	// ChannelLastMessageID returns the id of the newest message in the
	// channel, used by sticky menus to detect being scrolled away.
	ChannelLastMessageID(channelID string) (string, error)

	// BotUserID is the id of the account this process runs as. Reactions
	// from it are control-row bookkeeping, not user input.
	BotUserID() string
}
