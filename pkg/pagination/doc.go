// Package pagination walks the TMDb discover listing one date window at a time
// and yields the raw detail payload of every movie it finds.
//
// For each window the fetcher requests page 1, reads total_pages from the
// first response and continues until one of the stop conditions holds:
//   - a page returns zero results
//   - the next page would exceed total_pages or Config.MaxPages
//   - total_pages is zero
//   - the listing request fails
//
// A failed listing request ends that window only. A failed detail request
// skips that movie only. Neither surfaces as an error to the caller.
//
// Example usage:
//
//	f := pagination.New(tmdbClient, pagination.DefaultConfig(), logger)
//	for p := range f.Range(ctx, window.Monthly(start, end)) {
//		rec, err := normalizer.Normalize(p.Body)
//		...
//	}
//
// Details are fetched one at a time in listing order by default. Setting
// Config.MaxConcurrency above one fetches a page's details with a bounded
// worker pool; they are still yielded in listing order.
package pagination
