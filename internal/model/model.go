// Package model defines the domain types used across the application.
package model

import "time"

// Keyword is a single matching rule, unique on its normalized
// (lowercased, trimmed) text.
type Keyword struct {
	ID        int64
	Text      string
	CreatedAt time.Time
}

// ItemKind distinguishes posts from comments in the upstream stream.
type ItemKind string

// Supported item kinds.
const (
	KindPost    ItemKind = "post"
	KindComment ItemKind = "comment"
)

// Item is one unit of content emitted by the upstream source. Items are
// ephemeral; only a derived Match is ever persisted.
type Item struct {
	ExternalID string
	Kind       ItemKind
	Subreddit  string
	Title      string
	Body       string
	URL        string
	NSFW       bool
	CreatedAt  time.Time
}

// Text returns the combined text the matcher inspects.
func (i Item) Text() string {
	if i.Title == "" {
		return i.Body
	}
	return i.Title + "\n" + i.Body
}

// Match records an item that satisfied the filtering rules. At most one
// Match exists per external id.
type Match struct {
	ID         int64
	ExternalID string
	URL        string
	Subreddit  string
	Kind       ItemKind
	Title      string
	Body       string
	CreatedAt  time.Time
	KeywordIDs []int64
	Keywords   []string
}

// Delivery records a successful direct-post to the messaging target,
// keyed by the target's message id for reply correlation.
type Delivery struct {
	ID          int64
	MatchID     int64
	MessageID   string
	ChannelID   string
	GuildID     string
	DeliveredAt time.Time
}

// Reply is an inbound reply on the messaging target linked back to the
// match whose delivery it references.
type Reply struct {
	ID         int64
	MatchID    int64
	MessageID  string
	AuthorID   string
	AuthorName string
	Content    string
	URL        string
	CreatedAt  time.Time
}
