// Package search executes parsed queries against the issue index.
//
// Provider is the security-enforcing entry point: every query is ANDed with
// the permission filter of the searching user. Unrestricted, reachable only
// through Provider.Unrestricted, runs the same operations without that
// filter for administrative bulk work, and logs each call.
package search

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/blevesearch/bleve/v2"
	bsearch "github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/alfredjeanlab/issuesearch/internal/handler"
	"github.com/alfredjeanlab/issuesearch/internal/idgen"
	"github.com/alfredjeanlab/issuesearch/internal/index"
	"github.com/alfredjeanlab/issuesearch/internal/jql"
	"github.com/alfredjeanlab/issuesearch/internal/model"
	"github.com/alfredjeanlab/issuesearch/internal/paging"
	"github.com/alfredjeanlab/issuesearch/internal/permission"
	"github.com/alfredjeanlab/issuesearch/internal/searchctx"
)

// Defaults for Options.
const (
	DefaultMaxClauses  = 1024
	DefaultStreamBatch = 100
)

// RawFilter restricts a search to a set of issue ids.
type RawFilter = *roaring64.Bitmap

// DefaultSort orders hits that have no ORDER BY: newest first.
var DefaultSort = []string{"-" + index.FieldCreated}

// Options tune a Provider. Zero values select the defaults.
type Options struct {
	MaxClauses  int
	StreamBatch int
	Now         func() time.Time
	Logger      *slog.Logger
	// Contexts derives the projects a query is limited to. The permission
	// filter only lists browsable projects inside that context. Nil treats
	// every query as global.
	Contexts *searchctx.Factory
}

// Provider runs queries on behalf of users. It is safe for concurrent use.
type Provider struct {
	indexes  handler.IndexSource
	registry *handler.Registry
	oracle   permission.Oracle
	opts     Options
	logger   *slog.Logger
}

// NewProvider returns a provider searching indexes with the clause
// handlers of registry.
func NewProvider(indexes handler.IndexSource, registry *handler.Registry, oracle permission.Oracle, opts Options) *Provider {
	if opts.MaxClauses <= 0 {
		opts.MaxClauses = DefaultMaxClauses
	}
	if opts.StreamBatch <= 0 {
		opts.StreamBatch = DefaultStreamBatch
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{indexes: indexes, registry: registry, oracle: oracle, opts: opts, logger: logger}
}

// Search returns the page of hits pager asks for. The issues are read-only
// copies of the indexed documents.
func (p *Provider) Search(ctx context.Context, q *jql.Query, user *model.User, pager paging.PagerFilter) (*paging.SearchResults, error) {
	return p.page(ctx, p.plan(q, user, nil, false), pager)
}

// SearchWithFilter is Search restricted to the issues in filter.
func (p *Provider) SearchWithFilter(ctx context.Context, q *jql.Query, user *model.User, pager paging.PagerFilter, filter RawFilter) (*paging.SearchResults, error) {
	return p.page(ctx, p.plan(q, user, filter, false), pager)
}

// SearchCount returns the number of hits without loading any of them.
func (p *Provider) SearchCount(ctx context.Context, q *jql.Query, user *model.User) (int64, error) {
	return p.count(ctx, p.plan(q, user, nil, false))
}

// Collect streams every hit to c in no particular order. Memory use does
// not grow with the number of hits.
func (p *Provider) Collect(ctx context.Context, q *jql.Query, user *model.User, c Collector) error {
	return p.stream(ctx, p.plan(q, user, nil, false), c, nil)
}

// CollectWithFilter is Collect restricted to the issues in filter.
func (p *Provider) CollectWithFilter(ctx context.Context, q *jql.Query, user *model.User, c Collector, filter RawFilter) error {
	return p.stream(ctx, p.plan(q, user, filter, false), c, nil)
}

// SearchAndSort streams the hits of the page pager asks for to c, in the
// query's order. It is much slower than Collect.
func (p *Provider) SearchAndSort(ctx context.Context, q *jql.Query, user *model.User, c Collector, pager paging.PagerFilter) error {
	return p.stream(ctx, p.plan(q, user, nil, false), c, &pager)
}

// Unrestricted returns the variant that ignores browse permissions. The
// reason is logged with every search it runs.
func (p *Provider) Unrestricted(reason string) *Unrestricted {
	return &Unrestricted{p: p, reason: reason}
}

// Unrestricted runs searches without the permission filter. Use it only
// for administrative bulk operations, never for user-facing search.
type Unrestricted struct {
	p      *Provider
	reason string
}

func (u *Unrestricted) audit(op string, user *model.User) {
	u.p.logger.Warn("search without permission filter", "op", op, "reason", u.reason, "user", model.UserKey(user))
}

func (u *Unrestricted) Search(ctx context.Context, q *jql.Query, user *model.User, pager paging.PagerFilter) (*paging.SearchResults, error) {
	u.audit("search", user)
	return u.p.page(ctx, u.p.plan(q, user, nil, true), pager)
}

func (u *Unrestricted) SearchWithFilter(ctx context.Context, q *jql.Query, user *model.User, pager paging.PagerFilter, filter RawFilter) (*paging.SearchResults, error) {
	u.audit("search", user)
	return u.p.page(ctx, u.p.plan(q, user, filter, true), pager)
}

func (u *Unrestricted) SearchCount(ctx context.Context, q *jql.Query, user *model.User) (int64, error) {
	u.audit("count", user)
	return u.p.count(ctx, u.p.plan(q, user, nil, true))
}

func (u *Unrestricted) Collect(ctx context.Context, q *jql.Query, user *model.User, c Collector) error {
	u.audit("collect", user)
	return u.p.stream(ctx, u.p.plan(q, user, nil, true), c, nil)
}

func (u *Unrestricted) CollectWithFilter(ctx context.Context, q *jql.Query, user *model.User, c Collector, filter RawFilter) error {
	u.audit("collect", user)
	return u.p.stream(ctx, u.p.plan(q, user, filter, true), c, nil)
}

func (u *Unrestricted) SearchAndSort(ctx context.Context, q *jql.Query, user *model.User, c Collector, pager paging.PagerFilter) error {
	u.audit("sort", user)
	return u.p.stream(ctx, u.p.plan(q, user, nil, true), c, &pager)
}

// execution is one search: the query as asked and how to run it.
type execution struct {
	id       string
	q        *jql.Query
	user     *model.User
	filter   RawFilter
	override bool
	scope    *searchctx.SearchContext
}

func (p *Provider) plan(q *jql.Query, user *model.User, filter RawFilter, override bool) *execution {
	if q == nil {
		q = &jql.Query{}
	}
	return &execution{id: idgen.SearchID(), q: q, user: user, filter: filter, override: override}
}

// build validates and compiles the query and returns the index query and
// sort order. The sort always ends in the document id so that it is total.
func (p *Provider) build(ctx context.Context, e *execution) (query.Query, []string, error) {
	qc := handler.NewQueryContext(e.user, p.opts.Now(), p.registry.Functions(), p.indexes)
	qc.OverrideSecurity = e.override
	if err := p.registry.Validate(ctx, qc, e.q); err != nil {
		return nil, nil, err
	}

	c := &compiler{registry: p.registry, qc: qc, maxClauses: p.opts.MaxClauses}
	where, err := c.compile(ctx, e.q.Where)
	if err != nil {
		var tooComplex *ClauseTooComplexError
		if errors.As(err, &tooComplex) {
			return nil, nil, tooComplex
		}
		return nil, nil, &SearchError{Query: e.q.String(), Err: err}
	}

	parts := []query.Query{where}
	if !e.override {
		scope, err := p.QueryContext(ctx, e.q)
		if err != nil {
			return nil, nil, &SearchError{Query: e.q.String(), Err: err}
		}
		e.scope = scope
		filter, err := permission.FilterWithin(ctx, p.oracle, e.user, scope.ProjectIDs())
		if err != nil {
			return nil, nil, &SearchError{Query: e.q.String(), Err: err}
		}
		parts = append(parts, filter)
	}
	if e.filter != nil {
		parts = append(parts, index.DocIDs(e.filter))
	}

	var sortBy []string
	for _, s := range e.q.OrderBy {
		fields, err := p.registry.SortFields(s)
		if err != nil {
			return nil, nil, err
		}
		sortBy = append(sortBy, fields...)
	}
	if len(sortBy) == 0 {
		sortBy = append(sortBy, DefaultSort...)
	}
	sortBy = append(sortBy, "_id")

	if len(parts) == 1 {
		return parts[0], sortBy, nil
	}
	return bleve.NewConjunctionQuery(parts...), sortBy, nil
}

// QueryContext returns the projects and issue types q is limited to, with
// ids that no longer exist removed.
func (p *Provider) QueryContext(ctx context.Context, q *jql.Query) (*searchctx.SearchContext, error) {
	f := p.opts.Contexts
	if f == nil || q == nil {
		return &searchctx.SearchContext{}, nil
	}
	sc, err := f.FromQuery(ctx, q, handler.ProjectNames, handler.IssueTypeNames)
	if err != nil {
		return nil, err
	}
	if err := f.Verify(ctx, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// NarrowContext returns the context of base narrowed by that of candidate,
// for a saved search run with extra clauses. A nil candidate leaves the
// context of base.
func (p *Provider) NarrowContext(ctx context.Context, base, candidate *jql.Query) (*searchctx.SearchContext, error) {
	sc, err := p.QueryContext(ctx, base)
	if err != nil || candidate == nil || p.opts.Contexts == nil {
		return sc, err
	}
	possible, err := p.QueryContext(ctx, candidate)
	if err != nil {
		return nil, err
	}
	return p.opts.Contexts.Combine(sc, possible), nil
}

func (p *Provider) issues() (index.Searcher, error) {
	return p.indexes.Searcher(index.Issues)
}

func (p *Provider) page(ctx context.Context, e *execution, pager paging.PagerFilter) (*paging.SearchResults, error) {
	start := time.Now()
	q, sortBy, err := p.build(ctx, e)
	if err != nil {
		return nil, err
	}
	s, err := p.issues()
	if err != nil {
		return nil, &SearchError{Query: e.q.String(), Err: err}
	}

	res, err := p.fetch(ctx, s, q, sortBy, pager)
	if err != nil {
		return nil, &SearchError{Query: e.q.String(), Err: err}
	}
	total := int(res.Total)
	if pager.Start > total && total > 0 {
		pager.Start = 0
		if res, err = p.fetch(ctx, s, q, sortBy, pager); err != nil {
			return nil, &SearchError{Query: e.q.String(), Err: err}
		}
	}

	issues := make([]*model.Issue, 0, len(res.Hits))
	for _, hit := range res.Hits {
		issue, err := index.DecodeIssue(hit)
		if err != nil {
			return nil, &SearchError{Query: e.q.String(), Err: err}
		}
		issues = append(issues, issue)
	}
	p.logger.Debug("search executed", "search_id", e.id, "query", e.q.String(),
		"user", model.UserKey(e.user), "context", e.scope, "total", total, "returned", len(issues), "took", time.Since(start))
	return paging.NewPaged(issues, total, pager), nil
}

func (p *Provider) fetch(ctx context.Context, s index.Searcher, q query.Query, sortBy []string, pager paging.PagerFilter) (*bleve.SearchResult, error) {
	size := pager.Max
	if size < 0 {
		size = 0
	}
	req := bleve.NewSearchRequestOptions(q, size, pager.Start, false)
	req.Fields = []string{index.FieldSource}
	req.SortBy(sortBy)
	return s.SearchInContext(ctx, req)
}

func (p *Provider) count(ctx context.Context, e *execution) (int64, error) {
	q, _, err := p.build(ctx, e)
	if err != nil {
		return 0, err
	}
	s, err := p.issues()
	if err != nil {
		return 0, &SearchError{Query: e.q.String(), Err: err}
	}
	res, err := s.SearchInContext(ctx, bleve.NewSearchRequestOptions(q, 0, 0, false))
	if err != nil {
		return 0, &SearchError{Query: e.q.String(), Err: err}
	}
	p.logger.Debug("count executed", "search_id", e.id, "query", e.q.String(), "total", res.Total)
	return int64(res.Total), nil
}

// stream feeds hits to c in batches. Without a pager hits arrive in
// document id order; with one they arrive in the query's order and only
// the hits of the page are delivered.
func (p *Provider) stream(ctx context.Context, e *execution, c Collector, pager *paging.PagerFilter) error {
	q, sortBy, err := p.build(ctx, e)
	if err != nil {
		return err
	}
	if pager == nil {
		sortBy = []string{"_id"}
	}
	s, err := p.issues()
	if err != nil {
		return &SearchError{Query: e.q.String(), Err: err}
	}

	var seen, delivered int
	var collectErr error
	err = index.Scan(ctx, s, q, sortBy, []string{index.FieldSource}, p.opts.StreamBatch, func(hit *bsearch.DocumentMatch) error {
		if pager != nil {
			seen++
			if seen <= pager.Start {
				return nil
			}
			if delivered >= pager.Max {
				return ErrStop
			}
		}
		issue, err := index.DecodeIssue(hit)
		if err != nil {
			return err
		}
		delivered++
		if err := c.Collect(issue); err != nil {
			collectErr = err
			return err
		}
		return nil
	})
	if errors.Is(err, ErrStop) {
		err = nil
	}
	if err != nil {
		if collectErr != nil && !errors.Is(collectErr, ErrStop) {
			return collectErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &SearchError{Query: e.q.String(), Err: err}
	}
	p.logger.Debug("stream executed", "search_id", e.id, "query", e.q.String(), "delivered", delivered)
	return nil
}
