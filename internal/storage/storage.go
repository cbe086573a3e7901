// Package storage persists the two durable tables of the bot: scheduled
// ephemeral-message deletes and per-guild settings.
package storage

import (
	"context"
	"time"
)

// Guild setting keys recognized by the bot.
const (
	SettingAutoShuffle = "music.autoshuffle"
	SettingAutoDelete  = "bot.autodelete"
	SettingDJRole      = "music.dj-role"
)

// EphemeralMessage is a promise to delete a message at a fixed time. Rows
// survive restarts; the scheduler reloads them on startup.
type EphemeralMessage struct {
	ChannelID string
	MessageID string
	DeleteAt  time.Time
}

type Store interface {
	CreateEphemeralMessage(ctx context.Context, m EphemeralMessage) error
	DeleteEphemeralMessage(ctx context.Context, channelID, messageID string) error
	ListEphemeralMessages(ctx context.Context) ([]EphemeralMessage, error)

	// GuildSetting returns the stored value, or "" when the key is unset.
	GuildSetting(ctx context.Context, guildID, key string) (string, error)
	SetGuildSetting(ctx context.Context, guildID, key, value string) error
}

// BoolSetting interprets a guild setting value as a boolean. Unset and
// unrecognized values read as false.
func BoolSetting(v string) bool {
	switch v {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}
