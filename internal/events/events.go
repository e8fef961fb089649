// Package events carries saved-search and issue change notifications over
// NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alfredjeanlab/issuesearch/internal/model"
)

// Subject prefix shared by every topic.
const Prefix = "issuesearch."

// Saved-search topics.
const (
	TopicFilterCreated      = "issuesearch.filter.created"
	TopicFilterUpdated      = "issuesearch.filter.updated"
	TopicFilterDeleted      = "issuesearch.filter.deleted"
	TopicFilterFavourited   = "issuesearch.filter.favourited"
	TopicFilterUnfavourited = "issuesearch.filter.unfavourited"

	// TopicFilters matches every saved-search topic.
	TopicFilters = "issuesearch.filter.>"
)

// Issue topics, consumed by the index pipeline.
const (
	TopicIssueUpserted = "issuesearch.issue.upserted"
	TopicIssueDeleted  = "issuesearch.issue.deleted"

	// TopicIssues matches every issue topic.
	TopicIssues = "issuesearch.issue.>"
)

type FilterCreated struct {
	Filter model.SearchRequestRecord `json:"filter"`
}

type FilterUpdated struct {
	Filter model.SearchRequestRecord `json:"filter"`
}

type FilterDeleted struct {
	FilterID int64  `json:"filter_id"`
	OwnerKey string `json:"owner_key"`
}

// FilterFavourite is published on both favourite topics.
type FilterFavourite struct {
	FilterID       int64  `json:"filter_id"`
	UserKey        string `json:"user_key"`
	FavouriteCount int64  `json:"favourite_count"`
}

// IssueChanged announces that an issue was written or removed. Consumers
// reload the issue from the store.
type IssueChanged struct {
	IssueID int64  `json:"issue_id"`
	Key     string `json:"key,omitempty"`
}

// Envelope pairs a raw payload with its subject.
type Envelope struct {
	Topic string
	Data  []byte
}

// Decode unmarshals the payload of env into a T.
func Decode[T any](env Envelope) (T, error) {
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return v, fmt.Errorf("decoding %s event: %w", env.Topic, err)
	}
	return v, nil
}

// Publisher publishes domain events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// NoopPublisher is a Publisher that does nothing (used when NATS is not configured).
type NoopPublisher struct{}

func (n *NoopPublisher) Publish(ctx context.Context, topic string, event any) error { return nil }
func (n *NoopPublisher) Close() error                                               { return nil }
