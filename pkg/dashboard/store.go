package dashboard

import (
	"context"
	"sync"

	"github.com/Sternrassler/bitrix-report/pkg/logging"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// DefaultErrorMessage is shown when a failed fetch carries no message.
const DefaultErrorMessage = "Failed to fetch reports"

// ErrSuperseded is returned by FetchReports when a newer fetch started before
// this one finished. The store keeps the newer fetch's state.
var ErrSuperseded = errors.New("report fetch superseded by a newer request")

// Source provides report data. *Client implements it.
type Source interface {
	FetchReportData(ctx context.Context, filter ReportFilter) (*ReportResponse, error)
}

// Snapshot is a point-in-time copy of the store state.
type Snapshot struct {
	Items         []ReportItem
	IsLoading     bool
	Error         string
	CurrentFilter ReportFilter
	TotalItems    int
}

// Store holds the latest report result for the dashboard. It is safe for
// concurrent use; only the most recently started fetch may change the result.
type Store struct {
	source Source
	logger zerolog.Logger

	mu         sync.Mutex
	generation uint64
	items      []ReportItem
	loading    bool
	errMsg     string
	filter     ReportFilter
}

// NewStore creates an empty store backed by source.
func NewStore(source Source) *Store {
	return &Store{
		source: source,
		items:  []ReportItem{},
		logger: logging.NewLogger("dashboard-store"),
	}
}

// FetchReports loads the report for filter and replaces the held items on success.
// On failure the previous items are kept and Error is set.
func (s *Store) FetchReports(ctx context.Context, filter ReportFilter) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.loading = true
	s.errMsg = ""
	s.filter = filter
	s.mu.Unlock()

	resp, err := s.source.FetchReportData(ctx, filter)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		s.logger.Debug().Uint64("generation", gen).Uint64("current", s.generation).Msg("Discarding superseded fetch")
		return ErrSuperseded
	}

	s.loading = false

	if err != nil {
		s.errMsg = errorMessage(err)
		s.logger.Error().Err(err).Msg("Error fetching reports")
		return err
	}

	items := []ReportItem{}
	if resp != nil && resp.Items != nil {
		items = resp.Items
	}
	s.items = items
	return nil
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]ReportItem, len(s.items))
	copy(items, s.items)

	return Snapshot{
		Items:         items,
		IsLoading:     s.loading,
		Error:         s.errMsg,
		CurrentFilter: s.filter,
		TotalItems:    len(s.items),
	}
}

func errorMessage(err error) string {
	var endpointErr *EndpointError
	if errors.As(err, &endpointErr) {
		if endpointErr.Message != "" {
			return endpointErr.Message
		}
		return DefaultErrorMessage
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return DefaultErrorMessage
}
