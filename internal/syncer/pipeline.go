// internal/syncer/pipeline.go
package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github-star-sync/internal/database"
	custom_errors "github-star-sync/internal/errors"
	"github-star-sync/internal/lock"
	"github-star-sync/internal/metrics"
	"github-star-sync/internal/model"
)

// Options tunes a Pipeline. Zero values are rejected by NewPipeline.
type Options struct {
	PerPage       int
	ProbePages    int
	Concurrency   int
	MaxPages      int
	BatchSize     int
	BatchWindow   time.Duration
	CachePageSize int
	StaleWindow   time.Duration
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		PerPage:       100,
		ProbePages:    2,
		Concurrency:   20,
		MaxPages:      400,
		BatchSize:     50,
		BatchWindow:   time.Second,
		CachePageSize: 500,
		StaleWindow:   time.Minute,
	}
}

func (o Options) validate() error {
	switch {
	case o.PerPage < 1 || o.PerPage > 100:
		return &custom_errors.ErrInvalidConfig{Field: "PerPage", Reason: "must be between 1 and 100"}
	case o.ProbePages < 1:
		return &custom_errors.ErrInvalidConfig{Field: "ProbePages", Reason: "must be at least 1"}
	case o.Concurrency < o.ProbePages:
		return &custom_errors.ErrInvalidConfig{Field: "Concurrency", Reason: "must not be lower than ProbePages"}
	case o.MaxPages < 1:
		return &custom_errors.ErrInvalidConfig{Field: "MaxPages", Reason: "must be at least 1"}
	case o.BatchSize < 1:
		return &custom_errors.ErrInvalidConfig{Field: "BatchSize", Reason: "must be at least 1"}
	case o.BatchWindow <= 0:
		return &custom_errors.ErrInvalidConfig{Field: "BatchWindow", Reason: "must be positive"}
	case o.CachePageSize < 1:
		return &custom_errors.ErrInvalidConfig{Field: "CachePageSize", Reason: "must be at least 1"}
	case o.StaleWindow < 0:
		return &custom_errors.ErrInvalidConfig{Field: "StaleWindow", Reason: "must not be negative"}
	}
	return nil
}

// Request identifies whose stars to stream.
type Request struct {
	UserID      string
	AccessToken string
	// StartPage resumes the live phase from a given upstream page.
	StartPage int
	// LiveOnly skips the cache phase. Used by background refreshes.
	LiveOnly bool
}

// Pipeline merges stored stars with freshly fetched ones into one event stream
// and keeps storage in step with what it emits.
type Pipeline struct {
	store     database.Store
	discovery *Discovery
	locker    lock.Locker
	metrics   *metrics.Metrics
	logger    *slog.Logger
	opts      Options
	now       func() time.Time
}

// NewPipeline wires a Pipeline. A nil locker disables per-user serialisation.
func NewPipeline(store database.Store, fetcher PageFetcher, locker lock.Locker, m *metrics.Metrics, logger *slog.Logger, opts Options) (*Pipeline, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if locker == nil {
		locker = lock.NopLocker{}
	}
	discovery := NewDiscovery(fetcher, DiscoveryOptions{
		PerPage:     opts.PerPage,
		ProbePages:  opts.ProbePages,
		Concurrency: opts.Concurrency,
		MaxPages:    opts.MaxPages,
	}, logger, m)

	return &Pipeline{
		store:     store,
		discovery: discovery,
		locker:    locker,
		metrics:   m,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
	}, nil
}

// liveItem is a fetched star travelling through the live stages.
type liveItem struct {
	star  model.StarredRepo
	page  int
	total int
}

type emitFunc func(model.Event) bool

// Stream starts a sync for req and returns its events. The channel is closed
// after a complete or error event, or as soon as ctx is canceled, in which
// case no terminal event is sent.
func (p *Pipeline) Stream(ctx context.Context, req Request) <-chan model.Event {
	out := make(chan model.Event, 16)
	go func() {
		defer close(out)
		p.run(ctx, req, out)
	}()
	return out
}

// Sync drains a stream and reports how many records it carried.
func (p *Pipeline) Sync(ctx context.Context, req Request) (int, error) {
	var (
		count int
		err   error
	)
	for ev := range p.Stream(ctx, req) {
		switch ev.Type {
		case model.EventComplete:
			count = ev.Complete.Count
		case model.EventError:
			err = ev.Err
		}
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return count, err
}

func (p *Pipeline) run(ctx context.Context, req Request, out chan<- model.Event) {
	syncID := uuid.NewString()
	logger := p.logger.With("user_id", req.UserID, "sync_id", syncID)
	started := p.now()

	p.metrics.StreamOpened()
	defer p.metrics.StreamClosed()

	emit := func(ev model.Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	logger.Info("Starting star sync", "start_page", req.StartPage, "live_only", req.LiveOnly)
	count, err := p.execute(ctx, req, syncID, logger, emit)

	switch {
	case err == nil:
		logger.Info("Star sync complete", "records", count, "duration", p.now().Sub(started).String())
		p.metrics.SyncFinished("complete", p.now().Sub(started))
		emit(model.CompleteEvent(count, p.now()))
	case ctx.Err() != nil:
		logger.Info("Star sync canceled", "records", count, "reason", ctx.Err())
		p.metrics.SyncFinished(string(custom_errors.KindCanceled), p.now().Sub(started))
	default:
		classified := custom_errors.Classify(err)
		logger.Error("Star sync failed", "records", count, "kind", classified.Kind, "error", err)
		p.metrics.SyncFinished(string(classified.Kind), p.now().Sub(started))
		emit(model.ErrorEvent(err))
	}
}

func (p *Pipeline) execute(ctx context.Context, req Request, syncID string, logger *slog.Logger, emit emitFunc) (int, error) {
	if !emit(model.ConnectedEvent(req.UserID, syncID, p.now())) {
		return 0, ctx.Err()
	}

	unlock, err := p.locker.Lock(ctx, req.UserID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	cursor, err := LoadCursor(ctx, p.store, req.UserID, p.opts.StaleWindow)
	if err != nil {
		return 0, err
	}

	sent := 0
	if !req.LiveOnly {
		if sent, err = p.streamCache(ctx, req.UserID, emit); err != nil {
			return sent, err
		}
	}

	if !cursor.Stale {
		logger.Info("Stars are fresh, serving from storage only")
		return sent, nil
	}
	if cursor.Since != nil {
		logger = logger.With("since", cursor.Since.Format(time.RFC3339))
	}
	logger.Info("Stars are stale, fetching from GitHub")

	live, err := p.streamLive(ctx, req, cursor, logger, emit)
	sent += live
	if err != nil {
		return sent, err
	}

	if err := p.store.MarkUserStarsChecked(ctx, req.UserID, p.now()); err != nil {
		return sent, custom_errors.Storage("mark_user_stars_checked", err)
	}
	return sent, nil
}

// streamCache emits the stored count followed by every stored star, newest first.
func (p *Pipeline) streamCache(ctx context.Context, userID string, emit emitFunc) (int, error) {
	total, err := p.store.GetUserStarsCount(ctx, userID)
	if err != nil {
		return 0, custom_errors.Storage("get_user_stars_count", err)
	}
	if !emit(model.TotalEvent(total)) {
		return 0, ctx.Err()
	}

	sent := 0
	for offset := 0; ; offset += p.opts.CachePageSize {
		rows, err := p.store.GetUserStars(ctx, userID, p.opts.CachePageSize, offset)
		if err != nil {
			return sent, custom_errors.Storage("get_user_stars", err)
		}
		for _, r := range rows {
			if !emit(model.RecordEvent(r, model.SourceCache)) {
				return sent, ctx.Err()
			}
			p.metrics.RecordSent(string(model.SourceCache))
			sent++
		}
		if len(rows) < p.opts.CachePageSize {
			return sent, nil
		}
	}
}

// streamLive runs discovery -> flatten -> window -> upsert -> emit, each stage
// in its own goroutine joined by bounded channels.
func (p *Pipeline) streamLive(ctx context.Context, req Request, cursor Cursor, logger *slog.Logger, emit emitFunc) (int, error) {
	g, gctx := errgroup.WithContext(ctx)

	pages := make(chan Page, 1)
	g.Go(func() error {
		return p.discovery.Run(gctx, Query{
			AccessToken: req.AccessToken,
			Since:       cursor.Since,
			StartPage:   req.StartPage,
		}, pages)
	})

	items := make(chan liveItem, p.opts.BatchSize)
	g.Go(func() error {
		defer close(items)
		for page := range pages {
			logger.Debug("Page received", "page", page.Number, "items", len(page.Stars), "total", page.Total)
			for _, s := range page.Stars {
				select {
				case items <- liveItem{star: s, page: page.Number, total: page.Total}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		}
		return nil
	})

	batches := make(chan []liveItem, 1)
	g.Go(func() error {
		defer close(batches)
		return window(gctx, items, batches, p.opts.BatchSize, p.opts.BatchWindow)
	})

	committed := make(chan []liveItem, 1)
	g.Go(func() error {
		defer close(committed)
		for batch := range batches {
			if err := p.commit(gctx, req.UserID, batch); err != nil {
				return err
			}
			select {
			case committed <- batch:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	sent := 0
	g.Go(func() error {
		lastTotal := 0
		for batch := range committed {
			for _, it := range batch {
				if it.total > lastTotal {
					lastTotal = it.total
					if !emit(model.TotalEvent(it.total)) {
						return ctx.Err()
					}
				}
				if !emit(model.RecordEvent(it.star, model.SourceLive)) {
					return ctx.Err()
				}
				p.metrics.RecordSent(string(model.SourceLive))
				sent++
			}
			if !emit(model.ProgressEvent(sent, batch[len(batch)-1].page)) {
				return ctx.Err()
			}
		}
		return nil
	})

	err := g.Wait()
	return sent, err
}

// commit upserts one window in a single transaction. Items are stamped with
// the fetch time so the emitted records match what was stored.
func (p *Pipeline) commit(ctx context.Context, userID string, batch []liveItem) error {
	now := p.now()
	repos := make([]model.Repository, len(batch))
	stars := make([]model.UserStar, len(batch))
	for i := range batch {
		batch[i].star.LastFetchedAt = now
		repos[i] = batch[i].star.Repository
		stars[i] = model.UserStar{
			UserID:        userID,
			RepoID:        batch[i].star.ID,
			StarredAt:     batch[i].star.StarredAt,
			LastCheckedAt: now,
		}
	}

	err := p.store.InTx(ctx, func(q database.Querier) error {
		if err := q.BatchUpsertRepos(ctx, repos); err != nil {
			return err
		}
		return q.BatchUpsertUserStars(ctx, stars)
	})
	if err != nil {
		return custom_errors.Storage("batch_upsert", err)
	}
	p.metrics.RecordsStored(len(batch))
	return nil
}
