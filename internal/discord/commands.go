package discord

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Trivernis/2b-rs-sub000/internal/gateway"
	"github.com/Trivernis/2b-rs-sub000/internal/menu"
	"github.com/Trivernis/2b-rs-sub000/internal/message"
	"github.com/Trivernis/2b-rs-sub000/internal/resolver"
	"github.com/Trivernis/2b-rs-sub000/internal/storage"
)

// commandReplyTimeout is how long command replies stay in the channel when
// the guild has autodelete enabled.
const commandReplyTimeout = 30 * time.Second

// queuePageSize is the number of queue entries per menu page.
const queuePageSize = 10

func musicCommandDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "music",
		Description: "Control music playback",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "play",
				Description: "Queue a track or playlist",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "input",
						Description: "Link or search query",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionBoolean,
						Name:        "next",
						Description: "Put it at the front of the queue",
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "skip",
				Description: "Skip to the next track",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "pause",
				Description: "Pause or resume playback",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "stop",
				Description: "Stop playback and clear the queue",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "queue",
				Description: "Show the queued tracks",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "shuffle",
				Description: "Shuffle the queue",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "equalizer",
				Description: "Open the equalizer",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "settings",
				Description: "Read or change a guild setting",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "key",
						Description: "Setting to read or change",
						Required:    true,
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: "autoshuffle", Value: storage.SettingAutoShuffle},
							{Name: "autodelete", Value: storage.SettingAutoDelete},
							{Name: "dj-role", Value: storage.SettingDJRole},
						},
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "value",
						Description: "New value; omit to read the current one",
					},
				},
			},
		},
	}
}

func (b *Bot) registerCommands() error {
	appID := b.dg.State.User.ID
	if _, err := b.dg.ApplicationCommandCreate(appID, "", musicCommandDefinition()); err != nil {
		return fmt.Errorf("bot: registering /music: %w", err)
	}
	log.Println("[INFO] Registered /music command")
	return nil
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, e *discordgo.InteractionCreate) {
	if e.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := e.ApplicationCommandData()
	if data.Name != "music" || len(data.Options) == 0 {
		return
	}
	if e.GuildID == "" || e.Member == nil {
		b.respondText(e, "This command only works inside a guild.")
		return
	}

	sub := data.Options[0]
	switch sub.Name {
	case "play":
		b.runPlay(e, sub)
	case "skip":
		b.runSkip(e)
	case "pause":
		b.runPause(e)
	case "stop":
		b.runStop(e)
	case "queue":
		b.runQueue(e)
	case "shuffle":
		b.runShuffle(e)
	case "equalizer":
		b.runEqualizer(e)
	case "settings":
		b.runSettings(e, sub)
	default:
		b.respondText(e, fmt.Sprintf("Unknown subcommand: %s", sub.Name))
	}
}

func (b *Bot) runPlay(e *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) {
	var input string
	var playNext bool
	for _, opt := range sub.Options {
		switch opt.Name {
		case "input":
			input = opt.StringValue()
		case "next":
			playNext = opt.BoolValue()
		}
	}

	channelID, err := b.findUserVoiceState(e.GuildID, e.Member.User.ID)
	if err != nil {
		b.respondText(e, "Join a voice channel first.")
		return
	}

	if err := b.deferResponse(e); err != nil {
		log.Printf("[ERR] Deferring /music play: %v", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(b.ctx, 2*time.Minute)
		defer cancel()

		songs, err := b.resolver.Resolve(ctx, input)
		if err != nil || len(songs) == 0 {
			b.followupText(e, fmt.Sprintf("❌ Could not resolve %q.", input))
			return
		}

		if b.boolSetting(e.GuildID, storage.SettingAutoShuffle) && len(songs) > 1 {
			rand.Shuffle(len(songs), func(i, j int) { songs[i], songs[j] = songs[j], songs[i] })
		}

		p := b.players.GetOrCreate(b.ctx, e.GuildID, e.ChannelID)
		if playNext && len(songs) == 1 {
			p.Queue().AddNext(songs[0])
		} else {
			p.Queue().Add(songs...)
		}

		if err := p.Join(channelID); err != nil {
			b.followupText(e, "❌ Could not join your voice channel.")
			return
		}
		if p.Queue().Current() == nil {
			if err := p.PlayNext(ctx); err != nil {
				b.followupText(e, "❌ Playback failed to start.")
				return
			}
		}
		p.UpdateNowPlaying()

		if len(songs) == 1 {
			b.followupText(e, fmt.Sprintf("🎶 Queued **%s**.", songs[0].Title))
		} else {
			b.followupText(e, fmt.Sprintf("🎶 Queued **%d** tracks.", len(songs)))
		}
	}()
}

func (b *Bot) runSkip(e *discordgo.InteractionCreate) {
	if !b.requireDJ(e) {
		return
	}
	p, ok := b.players.Get(e.GuildID)
	if !ok {
		b.respondText(e, "Nothing is playing.")
		return
	}
	if err := p.Skip(); err != nil {
		b.respondText(e, "Nothing is playing.")
		return
	}
	b.respondText(e, "⏭ Skipped.")
}

func (b *Bot) runPause(e *discordgo.InteractionCreate) {
	if !b.requireDJ(e) {
		return
	}
	p, ok := b.players.Get(e.GuildID)
	if !ok {
		b.respondText(e, "Nothing is playing.")
		return
	}
	if err := p.TogglePause(); err != nil {
		b.respondText(e, "❌ Could not toggle pause.")
		return
	}
	if p.Paused() {
		b.respondText(e, "⏸ Paused.")
	} else {
		b.respondText(e, "▶️ Resumed.")
	}
}

func (b *Bot) runStop(e *discordgo.InteractionCreate) {
	if !b.requireDJ(e) {
		return
	}
	p, ok := b.players.Get(e.GuildID)
	if !ok {
		b.respondText(e, "Nothing is playing.")
		return
	}
	if err := p.Stop(); err != nil {
		b.respondText(e, "❌ Could not stop playback.")
		return
	}
	b.respondText(e, "⏹ Playback stopped, queue cleared.")
}

func (b *Bot) runQueue(e *discordgo.InteractionCreate) {
	p, ok := b.players.Get(e.GuildID)
	if !ok || (p.Queue().Len() == 0 && p.Queue().Current() == nil) {
		b.respondText(e, "The queue is empty.")
		return
	}
	b.respondText(e, "📜 Queue posted below.")

	builder := menu.NewBuilder(b.gw, b.registry).
		Paginator().
		WithOwner(e.Member.User.ID).
		WithTimeout(5 * time.Minute)

	entries := p.Queue().Entries()
	current := p.Queue().Current()
	pages := (len(entries) + queuePageSize - 1) / queuePageSize
	if pages == 0 {
		pages = 1
	}
	for i := 0; i < pages; i++ {
		start := i * queuePageSize
		end := start + queuePageSize
		if end > len(entries) {
			end = len(entries)
		}
		builder.AddStaticPage(&gateway.Payload{
			Embed: queuePageEmbed(current, entries[start:end], start, i+1, pages),
		})
	}

	if _, err := builder.Build(e.ChannelID); err != nil {
		log.Printf("[ERR] Building queue menu: %v", err)
	}
}

func queuePageEmbed(current *resolver.Song, entries []resolver.Song, offset, page, pages int) *discordgo.MessageEmbed {
	var sb strings.Builder
	if current != nil {
		fmt.Fprintf(&sb, "▶️ **%s** by %s\n\n", current.Title, current.Author)
	}
	if len(entries) == 0 {
		sb.WriteString("Nothing queued.")
	}
	for i, s := range entries {
		fmt.Fprintf(&sb, "`%2d.` [%s](%s)\n", offset+i+1, s.Title, s.URL)
	}
	return &discordgo.MessageEmbed{
		Title:       "🎵 Queue",
		Description: sb.String(),
		Footer:      &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Page %d/%d", page, pages)},
	}
}

func (b *Bot) runShuffle(e *discordgo.InteractionCreate) {
	if !b.requireDJ(e) {
		return
	}
	p, ok := b.players.Get(e.GuildID)
	if !ok || p.Queue().Len() == 0 {
		b.respondText(e, "The queue is empty.")
		return
	}
	p.Queue().Shuffle()
	b.respondText(e, "🔀 Queue shuffled.")
}

func (b *Bot) runEqualizer(e *discordgo.InteractionCreate) {
	if !b.requireDJ(e) {
		return
	}
	p, ok := b.players.Get(e.GuildID)
	if !ok {
		b.respondText(e, "Nothing is playing.")
		return
	}
	b.respondText(e, "🎚 Equalizer posted below.")
	if _, err := p.OpenEqualizer(e.ChannelID); err != nil {
		log.Printf("[ERR] Opening equalizer: %v", err)
	}
}

func (b *Bot) runSettings(e *discordgo.InteractionCreate, sub *discordgo.ApplicationCommandInteractionDataOption) {
	var key, value string
	hasValue := false
	for _, opt := range sub.Options {
		switch opt.Name {
		case "key":
			key = opt.StringValue()
		case "value":
			value = opt.StringValue()
			hasValue = true
		}
	}

	ctx, cancel := context.WithTimeout(b.ctx, 5*time.Second)
	defer cancel()

	if !hasValue {
		current, err := b.store.GuildSetting(ctx, e.GuildID, key)
		if err != nil {
			b.respondText(e, "❌ Could not read the setting.")
			return
		}
		if current == "" {
			current = "(unset)"
		}
		b.respondText(e, fmt.Sprintf("`%s` = `%s`", key, current))
		return
	}

	if err := b.store.SetGuildSetting(ctx, e.GuildID, key, value); err != nil {
		b.respondText(e, "❌ Could not store the setting.")
		return
	}
	b.respondText(e, fmt.Sprintf("✅ `%s` set to `%s`.", key, value))
}

// requireDJ responds with a refusal and returns false when the invoking user
// fails the guild's DJ role check.
func (b *Bot) requireDJ(e *discordgo.InteractionCreate) bool {
	if b.djCheck(e.GuildID, e.Member.User.ID) {
		return true
	}
	b.respondText(e, "🚫 You need the DJ role to do that.")
	return false
}

func (b *Bot) boolSetting(guildID, key string) bool {
	ctx, cancel := context.WithTimeout(b.ctx, 5*time.Second)
	defer cancel()
	v, err := b.store.GuildSetting(ctx, guildID, key)
	if err != nil {
		log.Printf("[WARN] Reading setting %s for guild %s: %v", key, guildID, err)
		return false
	}
	return storage.BoolSetting(v)
}

func (b *Bot) deferResponse(e *discordgo.InteractionCreate) error {
	return b.dg.InteractionRespond(e.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
}

func (b *Bot) respondText(e *discordgo.InteractionCreate, text string) {
	err := b.dg.InteractionRespond(e.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: text},
	})
	if err != nil {
		log.Printf("[ERR] Responding to interaction: %v", err)
		return
	}
	b.scheduleReplyDelete(e)
}

func (b *Bot) followupText(e *discordgo.InteractionCreate, text string) {
	msg, err := b.dg.FollowupMessageCreate(e.Interaction, true, &discordgo.WebhookParams{Content: text})
	if err != nil {
		log.Printf("[ERR] Sending interaction followup: %v", err)
		return
	}
	if b.boolSetting(e.GuildID, storage.SettingAutoDelete) {
		b.scheduleMessageDelete(message.Handle{ChannelID: msg.ChannelID, MessageID: msg.ID})
	}
}

// scheduleReplyDelete fetches the interaction's response message and, when
// the guild has autodelete on, schedules its removal.
func (b *Bot) scheduleReplyDelete(e *discordgo.InteractionCreate) {
	if !b.boolSetting(e.GuildID, storage.SettingAutoDelete) {
		return
	}
	msg, err := b.dg.InteractionResponse(e.Interaction)
	if err != nil {
		return
	}
	b.scheduleMessageDelete(message.Handle{ChannelID: msg.ChannelID, MessageID: msg.ID})
}

func (b *Bot) scheduleMessageDelete(h message.Handle) {
	ctx, cancel := context.WithTimeout(b.ctx, 5*time.Second)
	defer cancel()
	if err := b.eph.ScheduleDelete(ctx, h, commandReplyTimeout); err != nil {
		log.Printf("[WARN] Scheduling reply delete: %v", err)
	}
}
