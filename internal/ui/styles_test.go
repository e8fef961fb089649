package ui

import (
	"testing"

	"github.com/alfredjeanlab/issuesearch/internal/paging"
)

func TestStyler(t *testing.T) {
	plain := Styler{}
	if got := plain.Accent("ABC-1"); got != "ABC-1" {
		t.Errorf("plain Accent = %q", got)
	}
	color := Styler{Color: true}
	if got := color.Accent("ABC-1"); got != "\x1b[38;5;74mABC-1\x1b[0m" {
		t.Errorf("Accent = %q", got)
	}
	if got := color.Status("open"); got != "\x1b[38;5;114mopen\x1b[0m" {
		t.Errorf("Status(open) = %q", got)
	}
	if got := color.Status("Triage"); got != "Triage" {
		t.Errorf("unknown status styled: %q", got)
	}
	if got := color.Muted(""); got != "" {
		t.Errorf("empty text styled: %q", got)
	}
}

func TestTruncate(t *testing.T) {
	for _, tc := range []struct {
		in    string
		width int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"too long here", 8, "too lon…"},
		{"ünïcödé", 4, "ünï…"},
		{"x", 0, ""},
		{"xy", 1, "…"},
	} {
		if got := Truncate(tc.in, tc.width); got != tc.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tc.in, tc.width, got, tc.want)
		}
	}
}

func TestPageLinks(t *testing.T) {
	s := Styler{}
	for _, tc := range []struct {
		name  string
		start int
		max   int
		total int
		want  string
	}{
		{"single page", 0, 10, 5, ""},
		{"first of three", 0, 10, 25, "[1] 2 3 ›"},
		{"middle", 10, 10, 25, "‹ 1 [2] 3 ›"},
		{"last", 20, 10, 25, "‹ 1 2 [3]"},
		{"windowed", 100, 10, 200, "‹ 7 8 9 10 [11] 12 13 14 15 ›"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := paging.NewPaged(nil, tc.total, paging.NewPagerFilter(tc.start, tc.max))
			got, err := s.PageLinks(r)
			if err != nil {
				t.Fatalf("PageLinks: %v", err)
			}
			if got != tc.want {
				t.Errorf("PageLinks = %q, want %q", got, tc.want)
			}
		})
	}

	if _, err := s.PageLinks(paging.NewPaged(nil, 5, paging.NewPagerFilter(0, 0))); err == nil {
		t.Error("expected error for zero page size")
	}
}
