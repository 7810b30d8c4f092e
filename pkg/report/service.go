package report

import (
	"context"
	"encoding/json"

	"github.com/Sternrassler/bitrix-report/pkg/bitrix"
	"github.com/Sternrassler/bitrix-report/pkg/logging"
	"github.com/Sternrassler/bitrix-report/pkg/pagination"
	"github.com/rs/zerolog"
)

// ItemLister fetches one page of smart process items. *bitrix.Client implements it.
type ItemLister interface {
	ListItems(ctx context.Context, filter bitrix.Filter, start, limit int) ([]json.RawMessage, error)
}

// Result is the report payload returned to the endpoint.
type Result struct {
	Items []json.RawMessage `json:"items"`
	Count int               `json:"count"`
}

// Service fetches report data.
type Service struct {
	lister     ItemLister
	pagination pagination.Config
	logger     zerolog.Logger
}

// NewService creates a report service. A zero pagination config uses the defaults.
func NewService(lister ItemLister, cfg pagination.Config) *Service {
	return &Service{
		lister:     lister,
		pagination: cfg,
		logger:     logging.NewLogger("report-service"),
	}
}

// FetchItems collects up to limit items matching filter (limit <= 0 uses the
// configured limit). Fails as a whole if any page fails.
func (s *Service) FetchItems(ctx context.Context, filter bitrix.Filter, limit int) ([]json.RawMessage, error) {
	src := pagination.PageFetcherFunc[json.RawMessage](func(ctx context.Context, start, size int) ([]json.RawMessage, error) {
		return s.lister.ListItems(ctx, filter, start, size)
	})

	items, err := pagination.NewFetcher[json.RawMessage](src, s.pagination).FetchAll(ctx, limit)
	if err != nil {
		filterJSON, _ := filter.MarshalJSON()
		s.logger.Error().
			Err(err).
			Str("method", bitrix.MethodItemList).
			RawJSON("filter", filterJSON).
			Msg("Smart process fetch failed")
		return nil, err
	}

	return items, nil
}

// GetReportData translates q and fetches the matching items with the default limit.
func (s *Service) GetReportData(ctx context.Context, q Query) (Result, error) {
	filter := BuildFilter(q)

	s.logger.Debug().
		Int("filter_entries", filter.Len()).
		Msg("Fetching report data")

	items, err := s.FetchItems(ctx, filter, 0)
	if err != nil {
		return Result{}, err
	}

	return Result{Items: items, Count: len(items)}, nil
}
