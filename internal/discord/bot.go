package discord

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/Trivernis/2b-rs-sub000/internal/audio"
	"github.com/Trivernis/2b-rs-sub000/internal/config"
	"github.com/Trivernis/2b-rs-sub000/internal/ephemeral"
	"github.com/Trivernis/2b-rs-sub000/internal/message"
	"github.com/Trivernis/2b-rs-sub000/internal/music"
	"github.com/Trivernis/2b-rs-sub000/internal/resolver"
	"github.com/Trivernis/2b-rs-sub000/internal/storage"
)

// Bot wires the Discord session to the message registry, the ephemeral
// scheduler and the per-guild music players.
type Bot struct {
	dg       *discordgo.Session
	cfg      *config.Config
	store    storage.Store
	gw       *SessionGateway
	registry *message.Registry
	eph      *ephemeral.Scheduler
	players  *music.Manager
	resolver resolver.Resolver

	ctx       context.Context
	readyOnce sync.Once
}

// StartBot runs the Discord bot until ctx is cancelled. A failing session
// open aborts startup; there is no partial operation.
func StartBot(ctx context.Context, cfg *config.Config, store storage.Store) error {
	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("bot: creating session: %w", err)
	}

	b := &Bot{
		dg:       dg,
		cfg:      cfg,
		store:    store,
		registry: message.NewRegistry(),
		resolver: resolver.NewYTDLP(cfg.YTDLPPath),
		ctx:      ctx,
	}

	b.gw = NewSessionGateway(dg)
	b.eph = ephemeral.NewScheduler(b.gw, store)
	b.players = music.NewManager(music.PlayerDeps{
		Gateway:   b.gw,
		Backend:   audio.NewDiscordBackend(dg),
		Resolver:  b.resolver,
		Registry:  b.registry,
		Ephemeral: b.eph,
		DJCheck:   b.djCheck,
	}, cfg.AutoLeaveInterval)

	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsGuildVoiceStates

	dg.AddHandler(b.onReady)
	dg.AddHandler(b.onResumed)
	dg.AddHandler(b.onMessageReactionAdd)
	dg.AddHandler(b.onMessageReactionRemove)
	dg.AddHandler(b.onMessageDelete)
	dg.AddHandler(b.onMessageDeleteBulk)
	dg.AddHandler(b.onInteractionCreate)

	if err := dg.Open(); err != nil {
		return fmt.Errorf("bot: opening session: %w", err)
	}
	defer dg.Close()

	go b.registry.Run(ctx, cfg.TickPeriod)

	<-ctx.Done()
	b.eph.Stop()
	log.Println("[INFO] Shutdown signal received, cleaning up...")
	return nil
}

// onReady restores persisted ephemeral deletes and registers the slash
// commands once per process.
func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.readyOnce.Do(func() {
		if err := b.eph.Restore(b.ctx); err != nil {
			log.Printf("[ERR] Restoring ephemeral messages: %v", err)
		}
		if err := b.registerCommands(); err != nil {
			log.Printf("[ERR] Registering slash commands: %v", err)
		}
	})
	log.Printf("[INFO] ✅ Bot is running as %s across %d guild(s)", s.State.User.Username, len(r.Guilds))
}

func (b *Bot) onResumed(_ *discordgo.Session, _ *discordgo.Resumed) {
	log.Println("[INFO] Gateway session resumed")
}

func (b *Bot) onMessageReactionAdd(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
	b.registry.DispatchReactionAdd(message.Reaction{
		Handle:  message.Handle{ChannelID: r.ChannelID, MessageID: r.MessageID},
		GuildID: r.GuildID,
		UserID:  r.UserID,
		Emoji:   r.Emoji.Name,
	})
}

func (b *Bot) onMessageReactionRemove(_ *discordgo.Session, r *discordgo.MessageReactionRemove) {
	b.registry.DispatchReactionRemove(message.Reaction{
		Handle:  message.Handle{ChannelID: r.ChannelID, MessageID: r.MessageID},
		GuildID: r.GuildID,
		UserID:  r.UserID,
		Emoji:   r.Emoji.Name,
	})
}

func (b *Bot) onMessageDelete(_ *discordgo.Session, m *discordgo.MessageDelete) {
	b.registry.DispatchMessageDelete(message.Handle{ChannelID: m.ChannelID, MessageID: m.ID})
}

func (b *Bot) onMessageDeleteBulk(_ *discordgo.Session, m *discordgo.MessageDeleteBulk) {
	handles := make([]message.Handle, 0, len(m.Messages))
	for _, id := range m.Messages {
		handles = append(handles, message.Handle{ChannelID: m.ChannelID, MessageID: id})
	}
	b.registry.DispatchMessageDeleteBulk(handles)
}

// findUserVoiceState returns the voice channel the user currently sits in.
func (b *Bot) findUserVoiceState(guildID, userID string) (string, error) {
	guild, err := b.dg.State.Guild(guildID)
	if err != nil {
		return "", fmt.Errorf("bot: retrieving guild: %w", err)
	}
	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID {
			return vs.ChannelID, nil
		}
	}
	return "", fmt.Errorf("bot: user is not in a voice channel")
}
