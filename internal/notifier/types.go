package notifier

import "context"

// Message is one outbound notification, already assembled by the guild
// tree. Rendering (embeds, locale-aware dates, mention markup) is the
// sink's business; the engine only decides content and destination.
type Message struct {
	GuildID   int64
	ChannelID int64

	// TeamRoleID is the team to mention; 0 means no mention (announcements).
	TeamRoleID int64

	Title string
	Body  string
	Tags  []string
}

// Sink delivers a message to a destination channel. Implementations live
// in the chat-platform layer outside this repo's core.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// Config controls send pacing and the in-memory history ring.
type Config struct {
	RatePerSec  int
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	return c
}
