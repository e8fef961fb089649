// Package idgen generates the short correlation ids attached to search
// executions and saved-search exports.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes of the generated ids.
const (
	SearchPrefix = "srch-"
	ExportPrefix = "exp-"
)

const (
	alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	length   = 12
)

// New returns a random id with the given prefix.
func New(prefix string) (string, error) {
	id, err := nanoid.Generate(alphabet, length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// SearchID returns an id for one search execution. Ids only correlate log
// lines, so a generator failure yields a fixed placeholder.
func SearchID() string {
	id, err := New(SearchPrefix)
	if err != nil {
		return SearchPrefix + "unknown"
	}
	return id
}
