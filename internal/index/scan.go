package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/alfredjeanlab/issuesearch/internal/model"
)

const scanBatch = 500

// Scan runs q in batches of size hits, calling fn once per hit. sortBy
// must end in a unique key (normally "_id") so that batches can resume
// after the last hit. Memory use is bounded by the batch size.
func Scan(ctx context.Context, s Searcher, q query.Query, sortBy, fields []string, size int, fn func(*search.DocumentMatch) error) error {
	if size <= 0 {
		size = scanBatch
	}
	var after []string
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		req := bleve.NewSearchRequestOptions(q, size, 0, false)
		req.Fields = fields
		req.SortBy(sortBy)
		if after != nil {
			req.SearchAfter = after
		}
		res, err := s.SearchInContext(ctx, req)
		if err != nil {
			return err
		}
		for _, hit := range res.Hits {
			if err := fn(hit); err != nil {
				return err
			}
		}
		if len(res.Hits) < size {
			return nil
		}
		after = res.Hits[len(res.Hits)-1].Sort
	}
}

// CollectIssueIDs returns the ids of the issues owning the comment or
// change documents matched by q.
func CollectIssueIDs(ctx context.Context, s Searcher, q query.Query) (*roaring64.Bitmap, error) {
	ids := roaring64.New()
	err := Scan(ctx, s, q, []string{"_id"}, []string{FieldIssue}, scanBatch, func(hit *search.DocumentMatch) error {
		raw, _ := hit.Fields[FieldIssue].(string)
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("document %s: bad issue id %q", hit.ID, raw)
		}
		ids.Add(uint64(id))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DocIDs converts a set of issue ids into an issue document id query.
func DocIDs(ids *roaring64.Bitmap) query.Query {
	if ids == nil || ids.IsEmpty() {
		return bleve.NewMatchNoneQuery()
	}
	docIDs := make([]string, 0, ids.GetCardinality())
	it := ids.Iterator()
	for it.HasNext() {
		docIDs = append(docIDs, strconv.FormatUint(it.Next(), 10))
	}
	return bleve.NewDocIDQuery(docIDs)
}

var errNoSource = errors.New("index: hit has no stored source")

// DecodeIssue rebuilds the issue stored with a hit. The hit must have been
// requested with FieldSource in its fields.
func DecodeIssue(hit *search.DocumentMatch) (*model.Issue, error) {
	raw, ok := hit.Fields[FieldSource].(string)
	if !ok {
		return nil, fmt.Errorf("document %s: %w", hit.ID, errNoSource)
	}
	var issue model.Issue
	if err := json.Unmarshal([]byte(raw), &issue); err != nil {
		return nil, fmt.Errorf("document %s: decode source: %w", hit.ID, err)
	}
	return &issue, nil
}
