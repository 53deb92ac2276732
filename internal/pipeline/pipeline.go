// Package pipeline implements the coordinating loop: it consumes the
// item stream in arrival order, enforces at-most-once processing via
// the dedup ledger, matches items against the current rule snapshot,
// persists matches and hands them to the notifier.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"reddit_watcher/internal/backoff"
	"reddit_watcher/internal/model"
	"reddit_watcher/internal/rules"
	"reddit_watcher/internal/storage"
)

// Notifier delivers a persisted match to the messaging target.
type Notifier interface {
	Deliver(ctx context.Context, m *model.Match) error
}

// Pipeline is the single-consumer coordinator. One Run per process.
type Pipeline struct {
	store    storage.Storage
	rules    *rules.Store
	notifier Notifier
	log      *slog.Logger

	refreshEvery time.Duration
	policy       backoff.Policy
	refresh      chan struct{}
}

// New creates a Pipeline with the default refresh interval and delivery
// retry policy.
func New(store storage.Storage, ruleStore *rules.Store, notifier Notifier, log *slog.Logger) *Pipeline {
	return &Pipeline{
		store:        store,
		rules:        ruleStore,
		notifier:     notifier,
		log:          log,
		refreshEvery: time.Minute,
		policy:       backoff.Notify(),
		refresh:      make(chan struct{}, 1),
	}
}

// SetRefreshInterval overrides the periodic snapshot refresh interval.
func (p *Pipeline) SetRefreshInterval(d time.Duration) {
	p.refreshEvery = d
}

// SetDeliveryPolicy overrides the notification retry policy.
func (p *Pipeline) SetDeliveryPolicy(policy backoff.Policy) {
	p.policy = policy
}

// Refresh requests an immediate rule snapshot reload. Triggers coalesce:
// repeated calls while one is pending fold into a single reload, and the
// new snapshot is in place before the next item is processed.
func (p *Pipeline) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Run consumes items until the channel closes or ctx is cancelled. An
// in-flight item is always carried through persist and notify before
// returning.
func (p *Pipeline) Run(ctx context.Context, items <-chan model.Item) error {
	snap, err := p.rules.Snapshot(ctx)
	if err != nil {
		return err
	}
	p.log.Info("pipeline streaming", "keywords", snap.KeywordCount())

	ticker := time.NewTicker(p.refreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap = p.reload(ctx, snap)
		case <-p.refresh:
			snap = p.reload(ctx, snap)
		case item, ok := <-items:
			if !ok {
				return nil
			}
			// A trigger that completed before this item arrived must be
			// visible to it, regardless of select ordering.
			select {
			case <-p.refresh:
				snap = p.reload(ctx, snap)
			default:
			}
			p.process(ctx, item, snap)
		}
	}
}

// reload swaps in a fresh snapshot, keeping the old one if the build
// fails.
func (p *Pipeline) reload(ctx context.Context, old *rules.Snapshot) *rules.Snapshot {
	snap, err := p.rules.Snapshot(ctx)
	if err != nil {
		p.log.Error("refresh rules", "error", err)
		return old
	}
	p.log.Debug("rules refreshed", "keywords", snap.KeywordCount())
	return snap
}

func (p *Pipeline) process(ctx context.Context, item model.Item, snap *rules.Snapshot) {
	first, err := p.store.RecordIfNew(ctx, item.ExternalID, item.Kind)
	if err != nil {
		p.log.Error("dedup check", "external_id", item.ExternalID, "error", err)
		return
	}
	if !first {
		return
	}

	ids := snap.Match(item)
	if len(ids) == 0 {
		return
	}

	match := model.Match{
		ExternalID: item.ExternalID,
		URL:        item.URL,
		Subreddit:  item.Subreddit,
		Kind:       item.Kind,
		Title:      item.Title,
		Body:       item.Body,
		KeywordIDs: ids,
		Keywords:   snap.KeywordTexts(ids),
	}
	if err := p.store.CreateMatch(ctx, &match); err != nil {
		p.log.Error("persist match", "external_id", item.ExternalID, "error", err)
		return
	}
	p.log.Info("match", "external_id", match.ExternalID, "kind", match.Kind,
		"subreddit", match.Subreddit, "keywords", match.Keywords)

	attempts := 0
	err = p.policy.Retry(ctx, func(ctx context.Context) error {
		attempts++
		if err := p.notifier.Deliver(ctx, &match); err != nil {
			p.log.Warn("deliver match", "match_id", match.ID, "attempt", attempts, "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		// Accepted partial failure: the match stays persisted without a
		// delivery.
		p.log.Error("match recorded but undelivered", "match_id", match.ID,
			"attempts", attempts, "error", err)
	}
}
