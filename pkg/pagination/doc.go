// Package pagination collects items from offset-paginated list endpoints.
//
// Bitrix24 list methods return at most 50 records per call and accept a "start"
// offset. The Fetcher requests pages one after another and stops when
//   - a page comes back empty,
//   - a page is shorter than the page size (end of remote data), or
//   - the offset reaches the caller's limit.
//
// The result is truncated to the limit. Any page error aborts the whole fetch:
// no partial result is returned and nothing is retried.
//
// Example usage:
//
//	src := pagination.PageFetcherFunc[json.RawMessage](func(ctx context.Context, start, size int) ([]json.RawMessage, error) {
//		return bitrixClient.ListItems(ctx, filter, start, size)
//	})
//	fetcher := pagination.NewFetcher(src, pagination.DefaultConfig())
//	items, err := fetcher.FetchAll(ctx, 0) // 0 = configured limit (1500)
//
// A dataset whose size is an exact multiple of the page size costs one extra,
// empty page request. Avoiding it would need a total-count call.
package pagination
