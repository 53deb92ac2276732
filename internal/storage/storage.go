// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"reddit_watcher/internal/model"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// MatchFilter narrows match queries. Zero values mean "no constraint".
type MatchFilter struct {
	KeywordID int64
	Keyword   string
	Subreddit string
	Kind      model.ItemKind
	From      time.Time
	To        time.Time
	Page      int
	Size      int
}

// ReplyFilter narrows reply queries. Zero values mean "no constraint".
type ReplyFilter struct {
	KeywordID int64
	Keyword   string
	Subreddit string
	Kind      model.ItemKind
	From      time.Time
	To        time.Time
	Page      int
	Size      int
}

// ReplyDetail joins a reply with the match it belongs to.
type ReplyDetail struct {
	Reply model.Reply
	Match model.Match
}

// KeywordStat aggregates per-keyword counters for the dashboard.
type KeywordStat struct {
	Keyword  model.Keyword
	Matches  int
	Posts    int
	Comments int
	Replies  int
}

// ActivityEntry is a recent match annotated with reply activity.
type ActivityEntry struct {
	Match       model.Match
	ReplyCount  int
	LastReplyAt time.Time
}

// Storage is the interface for all persistence operations.
type Storage interface {
	GetOrCreateKeyword(ctx context.Context, text string) (*model.Keyword, error)
	DeleteKeyword(ctx context.Context, id int64) error
	ListKeywords(ctx context.Context, query string) ([]model.Keyword, error)

	RecordIfNew(ctx context.Context, externalID string, kind model.ItemKind) (bool, error)

	CreateMatch(ctx context.Context, m *model.Match) error
	ListMatches(ctx context.Context, f MatchFilter) ([]model.Match, error)

	CreateDelivery(ctx context.Context, d *model.Delivery) error
	MatchIDByMessageID(ctx context.Context, messageID string) (int64, error)
	CreateReply(ctx context.Context, r *model.Reply) error
	ListRepliesByMatch(ctx context.Context, matchID int64) ([]model.Reply, error)
	ListReplies(ctx context.Context, f ReplyFilter) ([]ReplyDetail, error)

	KeywordStats(ctx context.Context) ([]KeywordStat, error)
	RecentActivity(ctx context.Context, limit int) ([]ActivityEntry, error)

	Close() error
}
