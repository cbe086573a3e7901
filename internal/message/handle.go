package message

// Handle identifies a single message on the platform. Both fields take part
// in equality, so a Handle can be used directly as a map key.
type Handle struct {
	ChannelID string
	MessageID string
}

// Reaction is one emoji added to or removed from a message by a user.
type Reaction struct {
	Handle  Handle
	GuildID string
	UserID  string
	Emoji   string
}
