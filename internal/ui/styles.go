package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/issuesearch/internal/model"
	"github.com/alfredjeanlab/issuesearch/internal/paging"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorMuted  = 245 // medium gray
	colorOpen   = 114 // green
	colorActive = 179 // amber
	colorDone   = 245
	colorError  = 203 // red
)

// Styler renders styled text. The zero value renders plain text.
type Styler struct {
	Color bool
}

func (s Styler) paint(code int, text string) string {
	if !s.Color || text == "" {
		return text
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, text)
}

// Accent renders s in the accent (blue) color. Used for issue keys and
// saved-search names.
func (s Styler) Accent(text string) string { return s.paint(colorAccent, text) }
func (s Styler) Muted(text string) string  { return s.paint(colorMuted, text) }
func (s Styler) Error(text string) string  { return s.paint(colorError, text) }

// Status colours a status name by its category.
func (s Styler) Status(status string) string {
	switch {
	case strings.EqualFold(status, model.StatusOpen):
		return s.paint(colorOpen, status)
	case strings.EqualFold(status, model.StatusInProgress):
		return s.paint(colorActive, status)
	case strings.EqualFold(status, model.StatusResolved), strings.EqualFold(status, model.StatusClosed):
		return s.paint(colorDone, status)
	}
	return status
}

// Truncate shortens text to at most width runes, marking the cut with "…".
func Truncate(text string, width int) string {
	if width <= 0 {
		return ""
	}
	r := []rune(text)
	if len(r) <= width {
		return text
	}
	if width == 1 {
		return "…"
	}
	return string(r[:width-1]) + "…"
}

// PageLinks renders page links as "‹ 1 2 [3] 4 5 ›". The arrows appear
// when hits exist before or after the current page.
func (s Styler) PageLinks(r *paging.SearchResults) (string, error) {
	pages, err := r.Pages()
	if err != nil || len(pages) < 2 {
		return "", err
	}
	var parts []string
	if r.Start() > 0 {
		parts = append(parts, s.Muted("‹"))
	}
	for _, p := range pages {
		n := strconv.Itoa(p.Number)
		if p.Current {
			parts = append(parts, s.Accent("["+n+"]"))
		} else {
			parts = append(parts, n)
		}
	}
	if r.HasNext() {
		parts = append(parts, s.Muted("›"))
	}
	return strings.Join(parts, " "), nil
}
