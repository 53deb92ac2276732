package reddit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"reddit_watcher/internal/backoff"
	"reddit_watcher/internal/model"
)

const defaultPollInterval = 5 * time.Second

// Reader turns the polling client into an unbounded stream of new
// items. Backlog present at connection time is skipped; transient
// failures reconnect with backoff; auth failures end the stream.
type Reader struct {
	client *Client
	target string
	poll   time.Duration
	policy backoff.Policy
	log    *slog.Logger

	mu       sync.Mutex
	fatalErr error
}

// NewReader creates a Reader watching the given include list.
func NewReader(client *Client, includeSubs []string, log *slog.Logger) *Reader {
	return &Reader{
		client: client,
		target: Target(includeSubs),
		poll:   defaultPollInterval,
		policy: backoff.Stream(),
		log:    log,
	}
}

// SetPollInterval overrides the listing poll interval.
func (r *Reader) SetPollInterval(d time.Duration) {
	r.poll = d
}

// SetPolicy overrides the reconnect backoff policy.
func (r *Reader) SetPolicy(p backoff.Policy) {
	r.policy = p
}

// Stream starts polling and returns the item channel. The channel is
// closed when ctx is cancelled or a fatal error occurs; Err reports the
// latter.
func (r *Reader) Stream(ctx context.Context) <-chan model.Item {
	items := make(chan model.Item)

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	paths := []string{
		"/r/" + r.target + "/new",
		"/r/" + r.target + "/comments",
	}
	for _, path := range paths {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			r.pollListing(ctx, path, items, cancel)
		}(path)
	}

	go func() {
		wg.Wait()
		cancel()
		close(items)
	}()

	return items
}

// Err returns the fatal error that ended the stream, if any.
func (r *Reader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatalErr
}

func (r *Reader) setFatal(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatalErr == nil {
		r.fatalErr = err
	}
}

// pollListing polls one listing path forever. The first successful page
// only primes the seen-set so the consumer gets new activity from "now".
func (r *Reader) pollListing(ctx context.Context, path string, items chan<- model.Item, cancel context.CancelFunc) {
	seen := newRingSet(1000)
	primed := false
	b := r.policy.New()

	for {
		if ctx.Err() != nil {
			return
		}

		page, err := r.client.Listing(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrAuth) {
				r.log.Error("stream fatal error", "path", path, "error", err)
				r.setFatal(err)
				cancel()
				return
			}
			delay, stop := b.Next()
			if stop {
				// Unbounded policy; only reachable with a test policy.
				r.setFatal(err)
				cancel()
				return
			}
			r.log.Warn("stream error, backing off", "path", path, "delay", delay, "error", err)
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		// Success resets the backoff schedule.
		b = r.policy.New()

		// Listings are newest first; emit in arrival order.
		for i := len(page) - 1; i >= 0; i-- {
			item := page[i]
			if seen.Has(item.ExternalID) {
				continue
			}
			seen.Add(item.ExternalID)
			if !primed {
				continue
			}
			select {
			case items <- item:
			case <-ctx.Done():
				return
			}
		}
		primed = true

		if !sleep(ctx, r.poll) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ringSet is a fixed-capacity set that evicts its oldest entries,
// enough to recognize ids across overlapping listing pages.
type ringSet struct {
	cap   int
	order []string
	set   map[string]bool
}

func newRingSet(capacity int) *ringSet {
	return &ringSet{cap: capacity, set: make(map[string]bool, capacity)}
}

func (r *ringSet) Has(id string) bool {
	return r.set[id]
}

func (r *ringSet) Add(id string) {
	if r.set[id] {
		return
	}
	if len(r.order) >= r.cap {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.set, oldest)
	}
	r.order = append(r.order, id)
	r.set[id] = true
}
