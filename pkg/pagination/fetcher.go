package pagination

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultPageSize is the number of records requested per call.
	DefaultPageSize = 50

	// DefaultLimit caps the total number of records per fetch.
	DefaultLimit = 1500
)

// Termination reasons reported in logs and metrics.
const (
	ReasonEmptyPage    = "empty_page"
	ReasonShortPage    = "short_page"
	ReasonLimitReached = "limit_reached"
	ReasonError        = "error"
)

// Prometheus metrics for paginated fetches.
var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pagination_fetches_total",
		Help: "Total paginated fetches by termination reason",
	}, []string{"reason"})

	pagesPerFetch = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pagination_pages_per_fetch",
		Help:    "Number of page requests issued per fetch",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 50},
	})

	itemsPerFetch = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pagination_items_per_fetch",
		Help:    "Number of items returned per successful fetch",
		Buckets: []float64{0, 10, 50, 100, 250, 500, 1000, 1500},
	})
)

// Config holds fetcher configuration.
type Config struct {
	// PageSize is the number of items requested per page.
	PageSize int

	// Limit is the default cap on items per fetch.
	Limit int
}

// DefaultConfig returns the Bitrix24 list defaults (50 per page, 1500 total).
func DefaultConfig() Config {
	return Config{
		PageSize: DefaultPageSize,
		Limit:    DefaultLimit,
	}
}

// PageFetcher fetches a single page of at most size items starting at offset start.
type PageFetcher[T any] interface {
	FetchPage(ctx context.Context, start, size int) ([]T, error)
}

// PageFetcherFunc adapts a function to PageFetcher.
type PageFetcherFunc[T any] func(ctx context.Context, start, size int) ([]T, error)

// FetchPage calls f.
func (f PageFetcherFunc[T]) FetchPage(ctx context.Context, start, size int) ([]T, error) {
	return f(ctx, start, size)
}

// Fetcher collects items page by page until the source is exhausted or the limit is reached.
type Fetcher[T any] struct {
	source PageFetcher[T]
	config Config
}

// NewFetcher creates a new fetcher. Non-positive config values fall back to defaults.
func NewFetcher[T any](source PageFetcher[T], config Config) *Fetcher[T] {
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}
	if config.Limit <= 0 {
		config.Limit = DefaultLimit
	}

	return &Fetcher[T]{
		source: source,
		config: config,
	}
}

// Config returns the effective configuration.
func (f *Fetcher[T]) Config() Config {
	return f.config
}

// FetchAll fetches up to limit items (limit <= 0 uses the configured limit).
// Pages are requested sequentially; the first failing page aborts the fetch
// and no items are returned.
func (f *Fetcher[T]) FetchAll(ctx context.Context, limit int) ([]T, error) {
	if limit <= 0 {
		limit = f.config.Limit
	}
	pageSize := f.config.PageSize

	start := time.Now()
	collected := make([]T, 0)
	cursor := 0
	pages := 0
	reason := ""

	for reason == "" {
		page, err := f.source.FetchPage(ctx, cursor, pageSize)
		pages++
		if err != nil {
			fetchesTotal.WithLabelValues(ReasonError).Inc()
			pagesPerFetch.Observe(float64(pages))
			log.Warn().
				Err(err).
				Int("cursor", cursor).
				Int("pages", pages).
				Msg("Page fetch failed - aborting")
			return nil, errors.Wrapf(err, "fetch page at offset %d", cursor)
		}

		log.Debug().
			Int("cursor", cursor).
			Int("page_items", len(page)).
			Msg("Fetched page")

		switch {
		case len(page) == 0:
			reason = ReasonEmptyPage
		case len(page) < pageSize:
			collected = append(collected, page...)
			reason = ReasonShortPage
		default:
			collected = append(collected, page...)
			cursor += len(page)
			if cursor >= limit {
				reason = ReasonLimitReached
			}
		}
	}

	if len(collected) > limit {
		collected = collected[:limit]
	}

	fetchesTotal.WithLabelValues(reason).Inc()
	pagesPerFetch.Observe(float64(pages))
	itemsPerFetch.Observe(float64(len(collected)))

	log.Info().
		Int("pages", pages).
		Int("items", len(collected)).
		Int("limit", limit).
		Str("reason", reason).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return collected, nil
}
