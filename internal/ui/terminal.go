// Package ui styles CLI output: colour detection, ANSI styles and the
// page-link line under search results.
package ui

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// defaultWidth is used when the output is not a terminal.
const defaultWidth = 120

// ShouldUseColor reports whether ANSI colors should be used on f. It
// respects NO_COLOR, CLICOLOR_FORCE, CLICOLOR and TTY detection.
func ShouldUseColor(f *os.File) bool {
	// https://no-color.org: any non-empty value disables color.
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR_FORCE")) == "1" {
		return true
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR")) == "0" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Width returns the column count of the terminal on f, or a default when f
// is not a terminal.
func Width(f *os.File) int {
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}
