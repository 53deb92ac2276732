// Package discord delivers matches to the messaging target and
// correlates inbound replies back to them.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/sethvargo/go-retry"

	"reddit_watcher/internal/model"
	"reddit_watcher/internal/storage"
)

type discordAPI interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Bot is the direct-post notifier: it posts matches through an
// authenticated session, records the resulting message id for reply
// correlation, and observes reply events on the same session.
type Bot struct {
	session *discordgo.Session
	api     discordAPI
	store   storage.Storage

	channelID string
	selfID    string
	log       *slog.Logger
}

// NewBot creates a Bot for the given token and target channel. Call
// Open before delivering.
func NewBot(token, channelID string, store storage.Storage, log *slog.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	b := &Bot{
		session:   session,
		api:       session,
		store:     store,
		channelID: channelID,
		log:       log,
	}
	session.AddHandler(b.onMessageCreate)
	return b, nil
}

// Open connects the gateway session. Reply events start flowing as soon
// as this returns.
func (b *Bot) Open() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	if b.session.State != nil && b.session.State.User != nil {
		b.selfID = b.session.State.User.ID
	}
	return nil
}

// Close shuts down the gateway session.
func (b *Bot) Close() error {
	return b.session.Close()
}

// Deliver posts the match to the configured channel and records the
// delivery. Transient target failures are marked retryable; permission
// and configuration failures are returned as-is and must not be retried.
func (b *Bot) Deliver(ctx context.Context, m *model.Match) error {
	msg, err := b.api.ChannelMessageSend(b.channelID, FormatMatch(m))
	if err != nil {
		return classify(fmt.Errorf("send message: %w", err))
	}

	d := model.Delivery{
		MatchID:   m.ID,
		MessageID: msg.ID,
		ChannelID: msg.ChannelID,
		GuildID:   msg.GuildID,
	}
	if err := b.store.CreateDelivery(ctx, &d); err != nil {
		// The message is out; losing the record only costs reply
		// correlation for this match.
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

func (b *Bot) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	b.recordReply(context.Background(), m.Message)
}

// recordReply links a reply event to the match whose delivery it
// references. Replies to unknown messages are ignored.
func (b *Bot) recordReply(ctx context.Context, msg *discordgo.Message) {
	if msg.Author == nil || msg.Author.ID == b.selfID {
		return
	}
	ref := msg.MessageReference
	if ref == nil || ref.MessageID == "" {
		return
	}

	matchID, err := b.store.MatchIDByMessageID(ctx, ref.MessageID)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		b.log.Error("lookup delivery", "message_id", ref.MessageID, "error", err)
		return
	}

	reply := model.Reply{
		MatchID:    matchID,
		MessageID:  msg.ID,
		AuthorID:   msg.Author.ID,
		AuthorName: msg.Author.Username,
		Content:    msg.Content,
		URL:        jumpURL(msg),
	}
	if err := b.store.CreateReply(ctx, &reply); err != nil {
		b.log.Error("record reply", "match_id", matchID, "error", err)
		return
	}
	b.log.Info("recorded reply", "match_id", matchID, "author", reply.AuthorName)
}

func jumpURL(msg *discordgo.Message) string {
	guild := msg.GuildID
	if guild == "" {
		guild = "@me"
	}
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guild, msg.ChannelID, msg.ID)
}

// classify marks transient target failures as retryable. Anything that
// would fail identically on retry (permissions, bad channel) passes
// through unmarked.
func classify(err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		code := restErr.Response.StatusCode
		if code == http.StatusTooManyRequests || code >= 500 {
			return retry.RetryableError(err)
		}
		return err
	}
	// Network-level failure.
	return retry.RetryableError(err)
}
