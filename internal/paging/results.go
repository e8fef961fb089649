package paging

import (
	"errors"

	"github.com/alfredjeanlab/issuesearch/internal/model"
)

// PagesToList is the number of page links shown on either side of the
// current page.
const PagesToList = 5

// ErrInvalidPageSize is returned when page links are requested for a page
// size below one.
var ErrInvalidPageSize = errors.New("paging: page size must be at least 1")

// Page is one page link.
type Page struct {
	Start   int  `json:"start"`
	Number  int  `json:"number"`
	Current bool `json:"current"`
}

// SearchResults is one window of search hits.
type SearchResults struct {
	start  int
	max    int
	total  int
	issues []*model.Issue
}

// NewFromList builds results from the complete hit list, slicing out the
// page the pager asks for. A start past the end resets to the first page.
func NewFromList(all []*model.Issue, pager PagerFilter) *SearchResults {
	total := len(all)
	if pager.Start > total {
		pager.Start = 0
	}
	return &SearchResults{
		start:  pager.Start,
		max:    pager.Max,
		total:  total,
		issues: CurrentPage(pager, all),
	}
}

// NewPaged builds results from an already paged slice of hits and the total
// hit count. A start past the total resets to the first page.
func NewPaged(page []*model.Issue, total int, pager PagerFilter) *SearchResults {
	start := pager.Start
	if start > total {
		start = 0
	}
	return &SearchResults{
		start:  start,
		max:    pager.Max,
		total:  total,
		issues: page,
	}
}

// Issues returns the hits on the current page. Callers must not modify
// the returned issues.
func (r *SearchResults) Issues() []*model.Issue { return r.issues }

func (r *SearchResults) Start() int { return r.start }
func (r *SearchResults) Max() int   { return r.max }
func (r *SearchResults) Total() int { return r.total }

// End returns min(start+max, total).
func (r *SearchResults) End() int {
	if r.max >= r.total-r.start {
		return r.total
	}
	return r.start + r.max
}

func (r *SearchResults) NextStart() int { return r.start + r.max }

func (r *SearchResults) PreviousStart() int {
	if r.start < r.max {
		return 0
	}
	return r.start - r.max
}

// NiceStart is the one-based index of the first hit on the page, or 0 when
// the page is empty.
func (r *SearchResults) NiceStart() int {
	if len(r.issues) == 0 {
		return 0
	}
	return r.start + 1
}

// HasNext reports whether hits remain after this page.
func (r *SearchResults) HasNext() bool { return r.End() < r.total }

// Pages returns the page links around the current page: at most
// 2*PagesToList-1 of them, always including the current one.
func (r *SearchResults) Pages() ([]Page, error) {
	all, err := r.allPages()
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return r.restrict(all), nil
}

func (r *SearchResults) allPages() ([]Page, error) {
	if r.total == 0 {
		return nil, nil
	}
	if r.max < 1 {
		return nil, ErrInvalidPageSize
	}
	var pages []Page
	number := 1
	for index := 0; index < r.total; index += r.max {
		current := r.start >= index && r.start < index+r.max
		pages = append(pages, Page{Start: index, Number: number, Current: current})
		number++
	}
	return pages, nil
}

func (r *SearchResults) restrict(pages []Page) []Page {
	maxPage := (r.total + r.max - 1) / r.max
	firstPage := 1
	lastPage := firstPage + 2*PagesToList - 2
	if lastPage < maxPage {
		ourPage := r.start/r.max + 1
		if ourPage-firstPage > PagesToList-1 {
			lastPage = ourPage + PagesToList - 1
			if lastPage > maxPage {
				lastPage = maxPage
			}
			firstPage = lastPage - 2*PagesToList + 2
		}
	}
	minStart := (firstPage - 1) * r.max
	maxStart := (lastPage - 1) * r.max

	out := make([]Page, 0, 2*PagesToList)
	for _, p := range pages {
		if p.Start <= r.total && p.Start >= minStart && p.Start <= maxStart {
			out = append(out, p)
		}
	}
	return out
}
