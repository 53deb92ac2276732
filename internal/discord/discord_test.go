package discord

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"reddit_watcher/internal/backoff"
	"reddit_watcher/internal/model"
	"reddit_watcher/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFormatMatch(t *testing.T) {
	tests := []struct {
		name string
		m    model.Match
		want string
	}{
		{
			name: "post with keywords",
			m: model.Match{
				Kind: model.KindPost, Subreddit: "learnpython",
				Title: "Python question", URL: "https://www.reddit.com/r/learnpython/x",
				Keywords: []string{"python", "mlops"},
			},
			want: "**[POST] r/learnpython | python, mlops**\nPython question\nhttps://www.reddit.com/r/learnpython/x",
		},
		{
			name: "comment uses body",
			m: model.Match{
				Kind: model.KindComment, Subreddit: "golang",
				Body: "try channels", URL: "https://www.reddit.com/r/golang/y",
				Keywords: []string{"golang"},
			},
			want: "**[COMMENT] r/golang | golang**\ntry channels\nhttps://www.reddit.com/r/golang/y",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatMatch(&tt.m); got != tt.want {
				t.Errorf("FormatMatch = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatMatchTruncatesLongBody(t *testing.T) {
	m := model.Match{
		Kind: model.KindComment, Subreddit: "x",
		Body: strings.Repeat("a", 500), URL: "u", Keywords: []string{"k"},
	}
	got := FormatMatch(&m)
	if !strings.Contains(got, strings.Repeat("a", 200)+"...") {
		t.Error("expected truncated snippet with ellipsis")
	}
	if strings.Contains(got, strings.Repeat("a", 201)) {
		t.Error("snippet exceeds limit")
	}
}

type mockAPI struct {
	messages []string
	reply    *discordgo.Message
	err      error
}

func (m *mockAPI) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.messages = append(m.messages, content)
	if m.reply != nil {
		return m.reply, nil
	}
	return &discordgo.Message{ID: "msg-1", ChannelID: channelID, GuildID: "guild-1"}, nil
}

func TestBotDeliverRecordsDelivery(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	api := &mockAPI{}

	b := &Bot{api: api, store: store, channelID: "chan-1", log: discardLogger()}

	m := model.Match{ID: 1, ExternalID: "abc", Kind: model.KindPost,
		Subreddit: "x", Title: "hello", URL: "u", Keywords: []string{"k"}}
	if err := b.Deliver(ctx, &m); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if len(api.messages) != 1 {
		t.Fatalf("expected 1 message sent, got %d", len(api.messages))
	}

	matchID, err := store.MatchIDByMessageID(ctx, "msg-1")
	if err != nil {
		t.Fatalf("expected delivery record: %v", err)
	}
	if matchID != m.ID {
		t.Errorf("delivery references match %d, want %d", matchID, m.ID)
	}
}

func TestRecordReply(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// A delivered match to correlate against.
	match := model.Match{ExternalID: "abc", URL: "u", Subreddit: "x", Kind: model.KindPost}
	if err := store.CreateMatch(ctx, &match); err != nil {
		t.Fatalf("create match: %v", err)
	}
	delivery := model.Delivery{MatchID: match.ID, MessageID: "msg-1", ChannelID: "chan-1"}
	if err := store.CreateDelivery(ctx, &delivery); err != nil {
		t.Fatalf("create delivery: %v", err)
	}

	b := &Bot{store: store, channelID: "chan-1", selfID: "bot-id", log: discardLogger()}

	tests := []struct {
		name        string
		msg         *discordgo.Message
		wantReplies int
	}{
		{
			name: "reply to delivered message",
			msg: &discordgo.Message{
				ID: "r1", ChannelID: "chan-1", GuildID: "guild-1",
				Author:           &discordgo.User{ID: "user-1", Username: "alice"},
				Content:          "interesting find",
				MessageReference: &discordgo.MessageReference{MessageID: "msg-1"},
			},
			wantReplies: 1,
		},
		{
			name: "own message ignored",
			msg: &discordgo.Message{
				ID: "r2", Author: &discordgo.User{ID: "bot-id"},
				MessageReference: &discordgo.MessageReference{MessageID: "msg-1"},
			},
			wantReplies: 1,
		},
		{
			name: "non-reply ignored",
			msg: &discordgo.Message{
				ID: "r3", Author: &discordgo.User{ID: "user-1"},
				Content: "random chatter",
			},
			wantReplies: 1,
		},
		{
			name: "reply to unknown message discarded",
			msg: &discordgo.Message{
				ID: "r4", Author: &discordgo.User{ID: "user-1"},
				MessageReference: &discordgo.MessageReference{MessageID: "other-msg"},
			},
			wantReplies: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b.recordReply(ctx, tt.msg)
			replies, err := store.ListRepliesByMatch(ctx, match.ID)
			if err != nil {
				t.Fatalf("list replies: %v", err)
			}
			if len(replies) != tt.wantReplies {
				t.Errorf("expected %d replies, got %d", tt.wantReplies, len(replies))
			}
		})
	}

	replies, _ := store.ListRepliesByMatch(ctx, match.ID)
	if replies[0].AuthorName != "alice" || replies[0].Content != "interesting find" {
		t.Errorf("unexpected reply record: %+v", replies[0])
	}
}

type webhookTransport struct {
	status int
	err    error
	calls  int
}

func (w *webhookTransport) Do(_ *http.Request) (*http.Response, error) {
	w.calls++
	if w.err != nil {
		return nil, w.err
	}
	return &http.Response{
		StatusCode: w.status,
		Body:       io.NopCloser(bytes.NewBufferString("")),
	}, nil
}

func TestWebhookDeliver(t *testing.T) {
	policy := backoff.Policy{Base: 1, Cap: 2, MaxAttempts: 2}
	m := model.Match{Kind: model.KindPost, Subreddit: "x", Title: "t", URL: "u"}

	tests := []struct {
		name      string
		transport *webhookTransport
		wantErr   bool
		wantCalls int
	}{
		{
			name:      "success",
			transport: &webhookTransport{status: 204},
			wantCalls: 1,
		},
		{
			name:      "rate limit retried",
			transport: &webhookTransport{status: 429},
			wantErr:   true,
			wantCalls: 3,
		},
		{
			name:      "server error retried",
			transport: &webhookTransport{status: 502},
			wantErr:   true,
			wantCalls: 3,
		},
		{
			name:      "client error not retried",
			transport: &webhookTransport{status: 404},
			wantErr:   true,
			wantCalls: 1,
		},
		{
			name:      "network error retried",
			transport: &webhookTransport{err: io.ErrUnexpectedEOF},
			wantErr:   true,
			wantCalls: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWebhook(tt.transport, "https://discord.com/api/webhooks/x/y", discardLogger())
			err := policy.Retry(context.Background(), func(ctx context.Context) error {
				return w.Deliver(ctx, &m)
			})
			if tt.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.transport.calls != tt.wantCalls {
				t.Errorf("expected %d calls, got %d", tt.wantCalls, tt.transport.calls)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	mk := func(status int) error {
		return &discordgo.RESTError{Response: &http.Response{StatusCode: status}}
	}

	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "rate limit", err: mk(429), retryable: true},
		{name: "server error", err: mk(503), retryable: true},
		{name: "missing permissions", err: mk(403), retryable: false},
		{name: "bad channel", err: mk(404), retryable: false},
		{name: "network failure", err: io.ErrUnexpectedEOF, retryable: true},
	}

	policy := backoff.Policy{Base: 1, Cap: 2, MaxAttempts: 1}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			_ = policy.Retry(context.Background(), func(_ context.Context) error {
				calls++
				return classify(tt.err)
			})
			wantCalls := 1
			if tt.retryable {
				wantCalls = 2
			}
			if calls != wantCalls {
				t.Errorf("expected %d calls, got %d", wantCalls, calls)
			}
		})
	}
}
