package model

import (
	"strconv"
	"time"
)

// Well-known status names.
const (
	StatusOpen       = "Open"
	StatusInProgress = "In Progress"
	StatusResolved   = "Resolved"
	StatusClosed     = "Closed"
)

// Issue is the record that searches index and return.
type Issue struct {
	ID           int64      `json:"id"`
	Key          string     `json:"key"`
	ProjectID    int64      `json:"project_id"`
	IssueTypeID  string     `json:"issue_type_id"`
	Summary      string     `json:"summary"`
	Description  string     `json:"description,omitempty"`
	Status       string     `json:"status"`
	Priority     string     `json:"priority,omitempty"`
	PriorityRank int        `json:"priority_rank,omitempty"` // lower is more urgent
	Assignee     string     `json:"assignee,omitempty"`
	Reporter     string     `json:"reporter,omitempty"`
	Labels       []string   `json:"labels,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DueAt        *time.Time `json:"due_at,omitempty"`

	// CustomFields maps a custom field id to its raw value.
	CustomFields map[int64]string `json:"custom_fields,omitempty"`

	// Relational data, populated by queries and indexed into the comments
	// and changes indexes.
	Comments []*Comment    `json:"comments,omitempty"`
	Changes  []*ChangeItem `json:"changes,omitempty"`
}

// DocID returns the index document id of the issue.
func (i *Issue) DocID() string {
	return strconv.FormatInt(i.ID, 10)
}

// Number returns the numeric part of the issue key ("ABC-12" -> 12), or 0
// when the key has no numeric suffix.
func (i *Issue) Number() int64 {
	_, n, ok := SplitKey(i.Key)
	if !ok {
		return 0
	}
	return n
}

// SplitKey splits an issue key into its project key and number.
func SplitKey(key string) (string, int64, bool) {
	for j := len(key) - 1; j > 0; j-- {
		if key[j] == '-' {
			n, err := strconv.ParseInt(key[j+1:], 10, 64)
			if err != nil || n < 0 {
				return "", 0, false
			}
			return key[:j], n, true
		}
	}
	return "", 0, false
}
