// Package rules implements the matching rule set: an immutable snapshot
// of keywords and subreddit policy, and the pure matcher over it.
package rules

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"reddit_watcher/internal/model"
	"reddit_watcher/internal/storage"
)

// compiledKeyword is a keyword prepared for matching. Single-word
// keywords match at word boundaries via a precompiled pattern; phrases
// (containing whitespace) match by case-insensitive containment.
type compiledKeyword struct {
	id      int64
	text    string
	pattern *regexp.Regexp
}

// Snapshot is a point-in-time copy of the matching rules. It is never
// mutated after construction; the pipeline replaces it wholesale on
// refresh.
type Snapshot struct {
	keywords    []compiledKeyword
	texts       map[int64]string
	includeSubs map[string]bool
	excludeSubs map[string]bool
	allowNSFW   bool
}

// NewSnapshot builds an immutable snapshot from keywords and subreddit
// policy. Keywords are matched in id order.
func NewSnapshot(keywords []model.Keyword, includeSubs, excludeSubs []string, allowNSFW bool) *Snapshot {
	s := &Snapshot{
		texts:       make(map[int64]string, len(keywords)),
		includeSubs: lowerSet(includeSubs),
		excludeSubs: lowerSet(excludeSubs),
		allowNSFW:   allowNSFW,
	}

	sorted := make([]model.Keyword, len(keywords))
	copy(sorted, keywords)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, k := range sorted {
		text := strings.TrimSpace(k.Text)
		if text == "" {
			continue
		}
		ck := compiledKeyword{id: k.ID, text: strings.ToLower(text)}
		if !strings.ContainsAny(text, " \t") {
			ck.pattern = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(text) + `\b`)
		}
		s.keywords = append(s.keywords, ck)
		s.texts[k.ID] = ck.text
	}
	return s
}

// KeywordTexts resolves keyword ids to their normalized texts, keeping
// order.
func (s *Snapshot) KeywordTexts(ids []int64) []string {
	texts := make([]string, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.texts[id]; ok {
			texts = append(texts, t)
		}
	}
	return texts
}

// KeywordCount returns the number of active keywords.
func (s *Snapshot) KeywordCount() int {
	return len(s.keywords)
}

// Match returns the ids of all keywords the item matches, in id order.
// An empty result means the item is discarded.
func (s *Snapshot) Match(item model.Item) []int64 {
	sub := strings.ToLower(item.Subreddit)
	if s.excludeSubs[sub] {
		return nil
	}
	if len(s.includeSubs) > 0 && !s.includeSubs[sub] {
		return nil
	}
	if item.NSFW && !s.allowNSFW {
		return nil
	}

	text := item.Text()
	lower := strings.ToLower(text)

	var ids []int64
	for _, k := range s.keywords {
		if k.pattern != nil {
			if k.pattern.MatchString(text) {
				ids = append(ids, k.id)
			}
		} else if strings.Contains(lower, k.text) {
			ids = append(ids, k.id)
		}
	}
	return ids
}

// Store builds snapshots from durable keywords merged with the
// environment-seeded bootstrap rules.
type Store struct {
	storage     storage.Storage
	bootstrap   []string
	includeSubs []string
	excludeSubs []string
	allowNSFW   bool
}

// NewStore creates a rule store. bootstrap keywords are upserted into
// storage on every snapshot build, so they reappear even after being
// deleted through the management API; removing one for good means
// changing the environment and restarting.
func NewStore(st storage.Storage, bootstrap, includeSubs, excludeSubs []string, allowNSFW bool) *Store {
	return &Store{
		storage:     st,
		bootstrap:   bootstrap,
		includeSubs: includeSubs,
		excludeSubs: excludeSubs,
		allowNSFW:   allowNSFW,
	}
}

// Snapshot reads the current rule set into a new immutable snapshot.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	for _, text := range s.bootstrap {
		if _, err := s.storage.GetOrCreateKeyword(ctx, text); err != nil {
			return nil, fmt.Errorf("seed keyword %q: %w", text, err)
		}
	}

	keywords, err := s.storage.ListKeywords(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}

	return NewSnapshot(keywords, s.includeSubs, s.excludeSubs, s.allowNSFW), nil
}

func lowerSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = true
		}
	}
	return set
}
