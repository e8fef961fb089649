// Package indexer keeps the search indexes in step with the store. It
// consumes issue events from the bus and can rebuild every index from
// scratch.
package indexer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/alfredjeanlab/issuesearch/internal/events"
	"github.com/alfredjeanlab/issuesearch/internal/model"
)

// DefaultBatchSize is the number of issues read per store page in Rebuild.
const DefaultBatchSize = 200

// Source is the store access the pipeline needs.
type Source interface {
	GetIssue(ctx context.Context, id int64) (*model.Issue, error)
	ListIssues(ctx context.Context, afterID int64, limit int) ([]*model.Issue, error)
}

// Sink receives index updates. *index.Manager implements it.
type Sink interface {
	IndexIssues(ctx context.Context, issues []*model.Issue) error
	DeleteIssue(ctx context.Context, id int64) error
}

// Stats counts processed events.
type Stats struct {
	Indexed int64
	Deleted int64
	Failed  int64
}

// Pipeline applies issue changes to the indexes.
type Pipeline struct {
	source    Source
	sink      Sink
	logger    *slog.Logger
	batchSize int

	indexed atomic.Int64
	deleted atomic.Int64
	failed  atomic.Int64
}

// New returns a pipeline reading from source and writing to sink. A
// batchSize below 1 uses DefaultBatchSize.
func New(source Source, sink Sink, batchSize int, logger *slog.Logger) *Pipeline {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{source: source, sink: sink, logger: logger, batchSize: batchSize}
}

// Stats returns the counters since the pipeline was created.
func (p *Pipeline) Stats() Stats {
	return Stats{Indexed: p.indexed.Load(), Deleted: p.deleted.Load(), Failed: p.failed.Load()}
}

// Reindex reloads one issue from the store and indexes it. An issue that
// no longer exists is removed from the indexes.
func (p *Pipeline) Reindex(ctx context.Context, id int64) error {
	issue, err := p.source.GetIssue(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return p.remove(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("load issue %d: %w", id, err)
	}
	if err := p.sink.IndexIssues(ctx, []*model.Issue{issue}); err != nil {
		return fmt.Errorf("index issue %d: %w", id, err)
	}
	p.indexed.Add(1)
	return nil
}

func (p *Pipeline) remove(ctx context.Context, id int64) error {
	if err := p.sink.DeleteIssue(ctx, id); err != nil {
		return fmt.Errorf("unindex issue %d: %w", id, err)
	}
	p.deleted.Add(1)
	return nil
}

// Handle applies one bus event.
func (p *Pipeline) Handle(ctx context.Context, env events.Envelope) error {
	ev, err := events.Decode[events.IssueChanged](env)
	if err != nil {
		return err
	}
	switch env.Topic {
	case events.TopicIssueUpserted:
		return p.Reindex(ctx, ev.IssueID)
	case events.TopicIssueDeleted:
		return p.remove(ctx, ev.IssueID)
	}
	return fmt.Errorf("indexer: unexpected topic %s", env.Topic)
}

// Run consumes issue events until ctx is cancelled or the subscription
// closes. Failed events are logged and counted; they do not stop the loop.
func (p *Pipeline) Run(ctx context.Context, sub events.Subscriber) error {
	ch, cancel, err := sub.Subscribe(events.TopicIssues)
	if err != nil {
		return fmt.Errorf("indexer: subscribe: %w", err)
	}
	defer cancel()

	p.logger.Info("indexer: subscriber started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("indexer: subscriber stopping")
			return nil
		case env, ok := <-ch:
			if !ok {
				p.logger.Info("indexer: subscription channel closed")
				return nil
			}
			if err := p.Handle(ctx, env); err != nil {
				p.failed.Add(1)
				p.logger.Warn("indexer: event failed", "topic", env.Topic, "err", err)
			}
		}
	}
}

// Rebuild indexes every issue in the store, in id order, and returns the
// number indexed. It does not remove documents for issues that are gone;
// open a fresh index for a clean rebuild.
func (p *Pipeline) Rebuild(ctx context.Context) (int, error) {
	var (
		after int64
		total int
	)
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		batch, err := p.source.ListIssues(ctx, after, p.batchSize)
		if err != nil {
			return total, fmt.Errorf("list issues after %d: %w", after, err)
		}
		if len(batch) == 0 {
			break
		}
		if err := p.sink.IndexIssues(ctx, batch); err != nil {
			return total, fmt.Errorf("index issues after %d: %w", after, err)
		}
		total += len(batch)
		p.indexed.Add(int64(len(batch)))
		after = batch[len(batch)-1].ID
		p.logger.Debug("indexer: rebuild batch", "issues", len(batch), "total", total)
		if len(batch) < p.batchSize {
			break
		}
	}
	p.logger.Info("indexer: rebuild complete", "issues", total)
	return total, nil
}
