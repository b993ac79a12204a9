// internal/syncer/discovery.go
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	custom_errors "github-star-sync/internal/errors"
	"github-star-sync/internal/github"
	"github-star-sync/internal/metrics"
	"github-star-sync/internal/model"
)

// PageFetcher is the upstream dependency of Discovery. *github.Client implements it.
type PageFetcher interface {
	FetchPage(ctx context.Context, accessToken string, page, perPage int) (*github.PageResult, error)
}

// Query selects what a discovery run fetches.
type Query struct {
	AccessToken string
	// Since enables cursor mode: only items starred strictly after it are kept.
	Since *time.Time
	// StartPage is the first page to request. Values below 1 mean 1.
	StartPage int
}

// Page is one fetched page annotated for the pipeline.
type Page struct {
	Number int
	// Stars holds the items that passed the cursor filter, in upstream order.
	Stars []model.StarredRepo
	// Total is the estimated number of upstream stars, zero while unknown.
	Total         int
	HasMorePages  bool
	IsEmpty       bool
	FilteredEmpty bool
}

// DiscoveryOptions bounds how discovery talks to GitHub.
type DiscoveryOptions struct {
	PerPage     int
	ProbePages  int
	Concurrency int
	MaxPages    int
}

// Discovery walks the paginated starred list, fetching pages concurrently once
// the number of pages is known and delivering them strictly in page order.
type Discovery struct {
	fetcher PageFetcher
	opts    DiscoveryOptions
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewDiscovery(fetcher PageFetcher, opts DiscoveryOptions, logger *slog.Logger, m *metrics.Metrics) *Discovery {
	return &Discovery{fetcher: fetcher, opts: opts, logger: logger, metrics: m}
}

// maxPageCell holds the highest "last" page hint seen by any worker. It only grows.
type maxPageCell struct {
	v atomic.Int64
}

func (c *maxPageCell) raise(n int) {
	for {
		cur := c.v.Load()
		if int64(n) <= cur || c.v.CompareAndSwap(cur, int64(n)) {
			return
		}
	}
}

func (c *maxPageCell) load() int {
	return int(c.v.Load())
}

type pendingPage struct {
	number int
	done   chan struct{}
	result *github.PageResult
	err    error
}

// Run fetches pages for q and sends them to out in page order, closing out
// when it returns. Delivery stops before the first empty or filtered-empty
// page and after the first page without more pages behind it. A fetch error
// cancels every in-flight request and is returned; pages already sent stay sent.
func (d *Discovery) Run(ctx context.Context, q Query, out chan<- Page) error {
	defer close(out)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	start := q.StartPage
	if start < 1 {
		start = 1
	}
	probe, window := d.opts.ProbePages, d.opts.Concurrency
	if q.Since != nil {
		// Cursor mode is sequential so nothing past the short-circuit page is requested.
		probe, window = 1, 1
	}

	var maxPage maxPageCell
	var queue []*pendingPage
	next := start

	launch := func() {
		p := &pendingPage{number: next, done: make(chan struct{})}
		next++
		queue = append(queue, p)
		g.Go(func() error {
			defer close(p.done)
			p.result, p.err = d.fetch(gctx, q.AccessToken, p.number)
			if p.err != nil {
				return p.err
			}
			if p.result.LastPage > 0 {
				maxPage.raise(p.result.LastPage)
			}
			return nil
		})
	}
	canLaunch := func(limit int) bool {
		if next > d.opts.MaxPages || len(queue) >= limit {
			return false
		}
		m := maxPage.load()
		return m == 0 || next <= m
	}

	for canLaunch(probe) {
		launch()
	}

	stop := func() error {
		cancel()
		_ = g.Wait()
		return nil
	}

	for len(queue) > 0 {
		head := queue[0]
		<-head.done
		queue = queue[1:]

		if head.err != nil {
			cancel()
			err := g.Wait()
			// A sibling may record its cancellation before the head's own error.
			if errors.Is(head.err, context.Canceled) && err != nil {
				return err
			}
			return head.err
		}

		page := d.annotate(head.number, head.result, q.Since, maxPage.load())
		if page.IsEmpty || page.FilteredEmpty {
			d.logger.Debug("Discovery reached the end of new stars", "page", page.Number,
				"empty", page.IsEmpty, "filtered_empty", page.FilteredEmpty)
			return stop()
		}

		select {
		case out <- page:
		case <-ctx.Done():
			cancel()
			_ = g.Wait()
			return ctx.Err()
		}

		if !page.HasMorePages {
			return stop()
		}

		limit := 1
		if maxPage.load() > 0 {
			limit = window
		}
		for canLaunch(limit) {
			launch()
		}
	}

	return stop()
}

func (d *Discovery) fetch(ctx context.Context, token string, page int) (*github.PageResult, error) {
	res, err := d.fetcher.FetchPage(ctx, token, page, d.opts.PerPage)
	if err != nil {
		if ctx.Err() == nil {
			d.metrics.PageFetched(string(custom_errors.Classify(err).Kind))
		}
		return nil, err
	}
	d.metrics.PageFetched("ok")
	return res, nil
}

func (d *Discovery) annotate(number int, res *github.PageResult, since *time.Time, maxPage int) Page {
	raw := len(res.Items)
	stars := res.Items
	if since != nil {
		stars = make([]model.StarredRepo, 0, raw)
		for _, s := range res.Items {
			if s.StarredAt.After(*since) {
				stars = append(stars, s)
			}
		}
	}

	total := 0
	if maxPage > 0 {
		total = maxPage * d.opts.PerPage
	}

	return Page{
		Number:        number,
		Stars:         stars,
		Total:         total,
		HasMorePages:  raw == d.opts.PerPage && number < d.opts.MaxPages && (maxPage == 0 || number < maxPage),
		IsEmpty:       raw == 0,
		FilteredEmpty: raw > 0 && len(stars) == 0,
	}
}
