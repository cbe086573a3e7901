package discord

import (
	"context"
	"log"
	"slices"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Trivernis/2b-rs-sub000/internal/storage"
)

// djCheck reports whether a user may control playback. Guilds without a
// configured DJ role allow everyone. Lookup failures deny, never crash.
func (b *Bot) djCheck(guildID, userID string) bool {
	ctx, cancel := context.WithTimeout(b.ctx, 5*time.Second)
	defer cancel()

	roleID, err := b.store.GuildSetting(ctx, guildID, storage.SettingDJRole)
	if err != nil {
		log.Printf("[WARN] Reading DJ role for guild %s: %v", guildID, err)
		return false
	}
	if roleID == "" {
		return true
	}

	member, err := b.guildMember(guildID, userID)
	if err != nil {
		log.Printf("[WARN] Looking up member %s in guild %s: %v", userID, guildID, err)
		return false
	}
	return slices.Contains(member.Roles, roleID)
}

func (b *Bot) guildMember(guildID, userID string) (*discordgo.Member, error) {
	if m, err := b.dg.State.Member(guildID, userID); err == nil {
		return m, nil
	}
	return b.dg.GuildMember(guildID, userID)
}
