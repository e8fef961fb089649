package paging

import (
	"errors"
	"testing"

	"github.com/alfredjeanlab/issuesearch/internal/model"
)

func issues(n int) []*model.Issue {
	out := make([]*model.Issue, n)
	for i := range out {
		out[i] = &model.Issue{ID: int64(i)}
	}
	return out
}

func TestNewFromList_StartBeyondTotalResets(t *testing.T) {
	r := NewFromList(issues(23), NewPagerFilter(25, 10))
	if r.Start() != 0 {
		t.Errorf("Start() = %d, want 0", r.Start())
	}
	got := r.Issues()
	if len(got) != 10 || got[0].ID != 0 || got[9].ID != 9 {
		t.Errorf("Issues() = %d issues starting at %v, want [0,10)", len(got), got)
	}
	if r.Total() != 23 {
		t.Errorf("Total() = %d, want 23", r.Total())
	}
}

func TestNewFromList_LastPage(t *testing.T) {
	r := NewFromList(issues(23), NewPagerFilter(20, 10))
	if len(r.Issues()) != 3 || r.Issues()[0].ID != 20 {
		t.Errorf("Issues() = %v, want [20,23)", r.Issues())
	}
	if r.HasNext() {
		t.Error("HasNext() on last page")
	}
}

func TestNewPaged_DoesNotSlice(t *testing.T) {
	page := issues(5)
	r := NewPaged(page, 100, NewPagerFilter(40, 5))
	if r.Start() != 40 || len(r.Issues()) != 5 || r.Total() != 100 {
		t.Errorf("got start=%d len=%d total=%d", r.Start(), len(r.Issues()), r.Total())
	}
	r = NewPaged(nil, 10, NewPagerFilter(11, 5))
	if r.Start() != 0 {
		t.Errorf("Start() = %d, want reset to 0", r.Start())
	}
}

func TestSearchResults_Accessors(t *testing.T) {
	for _, tc := range []struct {
		start, max, total          int
		end, next, prev, niceStart int
	}{
		{10, 10, 23, 20, 20, 0, 11},
		{20, 10, 23, 23, 30, 10, 21},
		{0, 10, 23, 10, 10, 0, 1},
		{0, 10, 0, 0, 10, 0, 0},
		{5, 10, 23, 15, 15, 0, 6},
	} {
		r := NewFromList(issues(tc.total), NewPagerFilter(tc.start, tc.max))
		if got := r.End(); got != tc.end {
			t.Errorf("start=%d max=%d total=%d: End() = %d, want %d", tc.start, tc.max, tc.total, got, tc.end)
		}
		if got := r.NextStart(); got != tc.next {
			t.Errorf("start=%d: NextStart() = %d, want %d", tc.start, got, tc.next)
		}
		if got := r.PreviousStart(); got != tc.prev {
			t.Errorf("start=%d: PreviousStart() = %d, want %d", tc.start, got, tc.prev)
		}
		if got := r.NiceStart(); got != tc.niceStart {
			t.Errorf("start=%d total=%d: NiceStart() = %d, want %d", tc.start, tc.total, got, tc.niceStart)
		}
	}
}

func TestSearchResults_UnlimitedPager(t *testing.T) {
	r := NewFromList(issues(7), UnlimitedFilter())
	if len(r.Issues()) != 7 || r.End() != 7 {
		t.Errorf("len=%d End()=%d, want 7", len(r.Issues()), r.End())
	}
}

func TestPages_EmptyTotal(t *testing.T) {
	for _, max := range []int{-1, 0, 10} {
		pages, err := NewPaged(nil, 0, NewPagerFilter(0, max)).Pages()
		if err != nil || len(pages) != 0 {
			t.Errorf("max=%d: Pages() = (%v, %v), want empty", max, pages, err)
		}
		pages, err = NewPaged(nil, 0, PagerFilter{Start: 0, Max: max}).Pages()
		if err != nil || len(pages) != 0 {
			t.Errorf("raw pager max=%d: Pages() = (%v, %v), want empty", max, pages, err)
		}
	}
}

func TestPages_InvalidPageSize(t *testing.T) {
	for _, max := range []int{0, -5} {
		_, err := NewPaged(nil, 10, NewPagerFilter(0, max)).Pages()
		if !errors.Is(err, ErrInvalidPageSize) {
			t.Errorf("max=%d: err = %v, want ErrInvalidPageSize", max, err)
		}
	}
}

func pageNumbers(pages []Page) (numbers []int, current int) {
	for _, p := range pages {
		numbers = append(numbers, p.Number)
		if p.Current {
			current = p.Number
		}
	}
	return numbers, current
}

func TestPages_Window(t *testing.T) {
	for _, tc := range []struct {
		name         string
		start, total int
		first, last  int
		current      int
	}{
		{"few pages", 10, 23, 1, 3, 2},
		{"first page of many", 0, 1000, 1, 9, 1},
		{"fifth page keeps default window", 40, 1000, 1, 9, 5},
		{"sixth page recentres", 50, 1000, 2, 10, 6},
		{"middle", 500, 1000, 47, 55, 51},
		{"near end clips to last page", 970, 1000, 92, 100, 98},
		{"last page", 990, 1000, 92, 100, 100},
		{"exactly nine pages", 80, 90, 1, 9, 9},
		{"ten pages on the last", 95, 100, 2, 10, 10},
		{"partial last page", 100, 101, 3, 11, 11},
	} {
		t.Run(tc.name, func(t *testing.T) {
			pages, err := NewPaged(nil, tc.total, NewPagerFilter(tc.start, 10)).Pages()
			if err != nil {
				t.Fatalf("Pages: %v", err)
			}
			numbers, current := pageNumbers(pages)
			if len(numbers) == 0 || numbers[0] != tc.first || numbers[len(numbers)-1] != tc.last {
				t.Errorf("pages = %v, want %d..%d", numbers, tc.first, tc.last)
			}
			if current != tc.current {
				t.Errorf("current page = %d, want %d", current, tc.current)
			}
			for i := 1; i < len(pages); i++ {
				if pages[i].Start-pages[i-1].Start != 10 {
					t.Errorf("pages not contiguous: %v", numbers)
				}
			}
		})
	}
}

func TestPages_WindowBoundedAndContainsCurrent(t *testing.T) {
	for start := 0; start < 1000; start += 10 {
		pages, err := NewPaged(nil, 1000, NewPagerFilter(start, 10)).Pages()
		if err != nil {
			t.Fatalf("Pages: %v", err)
		}
		if len(pages) > 2*PagesToList-1 {
			t.Fatalf("start=%d: %d pages, want <= %d", start, len(pages), 2*PagesToList-1)
		}
		if _, current := pageNumbers(pages); current != start/10+1 {
			t.Fatalf("start=%d: current page %d missing from window", start, start/10+1)
		}
	}
}
