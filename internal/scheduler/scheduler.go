// Package scheduler runs the relay cycle: read the feed, skip posts already
// handled, check each remaining post's page and publish the visible ones.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"rss_relay/internal/fetcher"
	"rss_relay/internal/model"
	"rss_relay/internal/scraper"
	"rss_relay/internal/storage"
)

// ErrBusy is returned by RunOnce while another run is in progress.
var ErrBusy = errors.New("run already in progress")

// Publisher is the interface for delivering a post to the chat.
type Publisher interface {
	Publish(ctx context.Context, post model.Post, images []string) error
}

// Options configure a Scheduler.
type Options struct {
	FeedURL       string
	Schedule      string
	MaxPushPerRun int
	SendDelay     time.Duration
}

// Summary describes the outcome of one run.
type Summary struct {
	StartedAt  time.Time
	FinishedAt time.Time
	FeedError  string
	New        int
	Filtered   int
	Sent       int
	Held       int
	Dropped    int
	Failed     int
	Deferred   int
}

// Scheduler periodically relays new forum posts.
type Scheduler struct {
	store     storage.Storage
	fetcher   *fetcher.Fetcher
	scraper   *scraper.Scraper
	publisher Publisher
	opts      Options
	log       *slog.Logger

	running sync.Mutex

	mu   sync.Mutex
	last *Summary
}

type candidate struct {
	post    model.Post
	pending bool
}

// New creates a Scheduler.
func New(store storage.Storage, f *fetcher.Fetcher, sc *scraper.Scraper, pub Publisher, opts Options, log *slog.Logger) *Scheduler {
	if opts.MaxPushPerRun < 1 {
		opts.MaxPushPerRun = 1
	}
	return &Scheduler{
		store:     store,
		fetcher:   f,
		scraper:   sc,
		publisher: pub,
		opts:      opts,
		log:       log,
	}
}

// Run performs a run immediately and then on the configured cron schedule,
// blocking until ctx is cancelled. Scheduled runs are skipped while a
// previous run is still going.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.opts.Schedule, func() { s.runLogged(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", s.opts.Schedule, err)
	}

	s.runLogged(ctx)

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// RunOnce performs a single run and records its summary.
func (s *Scheduler) RunOnce(ctx context.Context) (Summary, error) {
	if !s.running.TryLock() {
		return Summary{}, ErrBusy
	}
	defer s.running.Unlock()

	sum, err := s.cycle(ctx)

	s.mu.Lock()
	s.last = &sum
	s.mu.Unlock()

	return sum, err
}

// LastRun returns the summary of the most recent run, if any.
func (s *Scheduler) LastRun() (Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Summary{}, false
	}
	return *s.last, true
}

func (s *Scheduler) runLogged(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, err := s.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrBusy):
		s.log.Warn("run skipped", "reason", err)
	case err != nil:
		s.log.Error("run failed", "error", err)
	}
}

func (s *Scheduler) cycle(ctx context.Context) (Summary, error) {
	sum := Summary{StartedAt: time.Now().UTC()}

	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return sum, fmt.Errorf("list pending: %w", err)
	}

	candidates := make([]candidate, 0, len(pending))
	pendingTIDs := make(map[int64]bool, len(pending))
	for _, p := range pending {
		candidates = append(candidates, candidate{post: p.Post, pending: true})
		pendingTIDs[p.TID] = true
	}

	fresh, err := s.newPosts(ctx, pendingTIDs, &sum)
	if err != nil {
		return sum, err
	}
	candidates = append(candidates, fresh...)

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].post.TID < candidates[j].post.TID
	})

	deliveries := 0
loop:
	for i, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		if deliveries >= s.opts.MaxPushPerRun {
			sum.Deferred = len(candidates) - i
			break
		}

		page, err := s.scraper.Scrape(ctx, c.post.Link)
		if err != nil {
			s.log.Error("scrape post", "tid", c.post.TID, "url", c.post.Link, "error", err)
			sum.Failed++
			continue
		}

		switch page.Status {
		case scraper.StatusNotFound:
			s.drop(ctx, c, &sum)
		case scraper.StatusModerated:
			s.hold(ctx, c, &sum)
		case scraper.StatusOK:
			if deliveries > 0 {
				if err := sleep(ctx, s.opts.SendDelay); err != nil {
					break loop
				}
			}
			deliveries++
			s.deliver(ctx, c, page.Images, &sum)
		}
	}

	sum.FinishedAt = time.Now().UTC()
	s.log.Info("run finished",
		"new", sum.New,
		"sent", sum.Sent,
		"held", sum.Held,
		"dropped", sum.Dropped,
		"failed", sum.Failed,
		"filtered", sum.Filtered,
		"deferred", sum.Deferred,
		"duration", sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond),
	)
	return sum, nil
}

// newPosts returns feed posts that are neither sent nor pending and pass the
// filters. A feed failure is recorded in sum and yields no posts so pending
// posts are still re-checked.
func (s *Scheduler) newPosts(ctx context.Context, pendingTIDs map[int64]bool, sum *Summary) ([]candidate, error) {
	feed, err := s.fetcher.Fetch(ctx, s.opts.FeedURL)
	if err != nil {
		s.log.Error("fetch feed", "url", s.opts.FeedURL, "error", err)
		sum.FeedError = err.Error()
		return nil, nil
	}

	posts, skipped := fetcher.Posts(feed.Items)
	for _, link := range skipped {
		s.log.Warn("no tid in link", "url", link)
	}

	var unseen []model.Post
	for _, p := range posts {
		if pendingTIDs[p.TID] {
			continue
		}
		sent, err := s.store.IsSent(ctx, p.TID)
		if err != nil {
			return nil, fmt.Errorf("check sent %d: %w", p.TID, err)
		}
		if !sent {
			unseen = append(unseen, p)
		}
	}

	filters, err := s.store.ListFilters(ctx)
	if err != nil {
		return nil, fmt.Errorf("list filters: %w", err)
	}
	matched := fetcher.FilterPosts(unseen, filters)
	sum.Filtered = len(unseen) - len(matched)
	sum.New = len(matched)

	out := make([]candidate, 0, len(matched))
	for _, p := range matched {
		s.log.Debug("new post", "tid", p.TID, "title", p.Title)
		out = append(out, candidate{post: p})
	}
	return out, nil
}

func (s *Scheduler) drop(ctx context.Context, c candidate, sum *Summary) {
	sum.Dropped++
	if !c.pending {
		s.log.Warn("post page not found", "tid", c.post.TID, "url", c.post.Link)
		return
	}
	if err := s.store.DeletePending(ctx, c.post.TID); err != nil {
		s.log.Error("delete pending", "tid", c.post.TID, "error", err)
		return
	}
	s.log.Info("pending post removed from forum", "tid", c.post.TID)
}

func (s *Scheduler) hold(ctx context.Context, c candidate, sum *Summary) {
	sum.Held++
	if c.pending {
		if err := s.store.TouchPending(ctx, c.post.TID); err != nil {
			s.log.Error("touch pending", "tid", c.post.TID, "error", err)
		}
		s.log.Debug("post still under moderation", "tid", c.post.TID)
		return
	}
	if _, err := s.store.SavePending(ctx, c.post); err != nil {
		s.log.Error("save pending", "tid", c.post.TID, "error", err)
		return
	}
	s.log.Info("post under moderation", "tid", c.post.TID, "title", c.post.Title)
}

func (s *Scheduler) deliver(ctx context.Context, c candidate, images []string, sum *Summary) {
	if err := s.publisher.Publish(ctx, c.post, images); err != nil {
		s.log.Error("publish post", "tid", c.post.TID, "error", err)
		sum.Failed++
		return
	}
	sum.Sent++

	// The record must land even if shutdown began while the message was in flight.
	rctx := context.WithoutCancel(ctx)
	var err error
	if c.pending {
		err = s.store.PromotePending(rctx, c.post.TID)
	} else {
		err = s.store.MarkSent(rctx, c.post.TID)
	}
	if err != nil {
		// The message went out; without the record it will be sent again next run.
		s.log.Error("record sent post", "tid", c.post.TID, "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// cronLogger routes cron's logging through slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
