package model

import "time"

// ChangeItem records one field transition in an issue's history.
type ChangeItem struct {
	ID        int64     `json:"id"`
	IssueID   int64     `json:"issue_id"`
	Field     string    `json:"field"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Author    string    `json:"author,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
