package jql

import "strings"

// ValidationError lists the problems found when checking a parsed query
// against the registered fields and functions. The messages are meant for
// the person who wrote the query.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "invalid query: " + strings.Join(e.Messages, "; ")
}

// Add appends a message.
func (e *ValidationError) Add(msg string) {
	e.Messages = append(e.Messages, msg)
}

// HasErrors reports whether any message was added.
func (e *ValidationError) HasErrors() bool { return len(e.Messages) > 0 }
