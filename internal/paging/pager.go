// Package paging holds the page window of a search: the requested start and
// page size, the materialised issues of the current page, the total hit
// count, and the list of nearby page links shown under the results.
package paging

import "math"

// Unlimited is the page size of a pager that returns every hit.
const Unlimited = math.MaxInt32

// PagerFilter is the requested page: a zero-based start offset and a page
// size.
type PagerFilter struct {
	Start int
	Max   int
}

// NewPagerFilter returns a pager for the given offset and size. A negative
// start is treated as zero.
func NewPagerFilter(start, max int) PagerFilter {
	if start < 0 {
		start = 0
	}
	return PagerFilter{Start: start, Max: max}
}

// UnlimitedFilter returns a pager covering every hit.
func UnlimitedFilter() PagerFilter {
	return PagerFilter{Max: Unlimited}
}

// End returns the exclusive end offset of the page.
func (p PagerFilter) End() int {
	if p.Max >= Unlimited-p.Start {
		return Unlimited
	}
	return p.Start + p.Max
}

// CurrentPage slices the page out of a complete hit list.
func CurrentPage[T any](p PagerFilter, all []T) []T {
	if p.Start >= len(all) {
		return nil
	}
	end := p.End()
	if end > len(all) {
		end = len(all)
	}
	return all[p.Start:end]
}
