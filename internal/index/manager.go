package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/alfredjeanlab/issuesearch/internal/model"
)

// ErrNotOpen is returned by a Manager before Open or after Close.
var ErrNotOpen = errors.New("index: not open")

// Searcher is read access to one index. Implementations are safe for
// concurrent use.
type Searcher interface {
	SearchInContext(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error)
	DocCount() (uint64, error)
}

// Manager owns the issue, comment and change indexes. Reads may run
// concurrently with each other and with index updates.
type Manager struct {
	mu       sync.RWMutex
	indexes  map[Name]bleve.Index
	indexers []FieldIndexer
	logger   *slog.Logger
}

// NewManager returns a closed manager. The field indexers that define the
// issue mapping are supplied to Open, once they have been registered.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// Open opens or creates the indexes under dir. An empty dir keeps the
// indexes in memory.
func (m *Manager) Open(dir string, indexers []FieldIndexer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexes != nil {
		return errors.New("index: already open")
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create index dir: %w", err)
		}
	}

	opened := make(map[Name]bleve.Index, len(Names))
	for _, name := range Names {
		idx, err := openIndex(dir, name, indexers)
		if err != nil {
			for _, o := range opened {
				o.Close()
			}
			return fmt.Errorf("open %s index: %w", name, err)
		}
		opened[name] = idx
	}
	m.indexes = opened
	m.indexers = indexers
	m.logger.Info("indexes opened", "dir", dir, "field_indexers", len(indexers))
	return nil
}

func openIndex(dir string, name Name, indexers []FieldIndexer) (bleve.Index, error) {
	im, err := buildMapping(name, indexers)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return bleve.NewMemOnly(im)
	}
	path := filepath.Join(dir, string(name)+".bleve")
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		return bleve.New(path, im)
	}
	return idx, err
}

// Close closes every index.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, idx := range m.indexes {
		if err := idx.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.indexes = nil
	return errors.Join(errs...)
}

func (m *Manager) get(name Name) (bleve.Index, error) {
	if m.indexes == nil {
		return nil, ErrNotOpen
	}
	idx, ok := m.indexes[name]
	if !ok {
		return nil, fmt.Errorf("index: unknown index %q", name)
	}
	return idx, nil
}

// Searcher returns read access to the named index.
func (m *Manager) Searcher(name Name) (Searcher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.get(name)
}

// DocumentCount returns the number of documents in the named index.
func (m *Manager) DocumentCount(name Name) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, err := m.get(name)
	if err != nil {
		return 0, err
	}
	return idx.DocCount()
}

// IndexIssues adds or replaces issues, together with their comments and
// change history.
func (m *Manager) IndexIssues(ctx context.Context, issues []*model.Issue) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.indexes == nil {
		return ErrNotOpen
	}

	issueIdx := m.indexes[Issues]
	batch := issueIdx.NewBatch()
	for _, issue := range issues {
		doc, err := m.buildDocument(issue)
		if err != nil {
			return err
		}
		if err := batch.Index(issue.DocID(), doc); err != nil {
			return fmt.Errorf("index issue %s: %w", issue.Key, err)
		}
	}
	if err := issueIdx.Batch(batch); err != nil {
		return fmt.Errorf("index issues: %w", err)
	}

	for _, issue := range issues {
		if err := m.replaceRelated(ctx, issue); err != nil {
			return err
		}
	}
	m.logger.Debug("issues indexed", "count", len(issues))
	return nil
}

func (m *Manager) buildDocument(issue *model.Issue) (map[string]any, error) {
	doc := NewDocument()
	for _, fi := range m.indexers {
		fi.AddIndex(doc, issue)
	}
	src := *issue
	src.Comments, src.Changes = nil, nil
	data, err := json.Marshal(&src)
	if err != nil {
		return nil, fmt.Errorf("encode issue %s: %w", issue.Key, err)
	}
	out := doc.Map()
	out[FieldSource] = string(data)
	return out, nil
}

func (m *Manager) replaceRelated(ctx context.Context, issue *model.Issue) error {
	commentIdx, changeIdx := m.indexes[Comments], m.indexes[Changes]
	if err := deleteByIssue(ctx, commentIdx, issue.ID); err != nil {
		return fmt.Errorf("clear comments of %s: %w", issue.Key, err)
	}
	if err := deleteByIssue(ctx, changeIdx, issue.ID); err != nil {
		return fmt.Errorf("clear history of %s: %w", issue.Key, err)
	}

	issueID := issue.DocID()
	if len(issue.Comments) > 0 {
		batch := commentIdx.NewBatch()
		for _, c := range issue.Comments {
			doc := NewDocument()
			doc.AddString(FieldIssue, issueID)
			doc.AddString(FieldBody, c.Body)
			doc.AddString(FieldAuthor, c.Author)
			doc.AddTime(FieldCreated, c.CreatedAt)
			if err := batch.Index(strconv.FormatInt(c.ID, 10), doc.Map()); err != nil {
				return err
			}
		}
		if err := commentIdx.Batch(batch); err != nil {
			return fmt.Errorf("index comments of %s: %w", issue.Key, err)
		}
	}
	if len(issue.Changes) > 0 {
		batch := changeIdx.NewBatch()
		for _, ch := range issue.Changes {
			doc := NewDocument()
			doc.AddString(FieldIssue, issueID)
			doc.AddString(FieldChanged, ch.Field)
			doc.AddString(FieldFrom, ch.From)
			doc.AddString(FieldTo, ch.To)
			doc.AddString(FieldAuthor, ch.Author)
			doc.AddTime(FieldCreated, ch.CreatedAt)
			if err := batch.Index(strconv.FormatInt(ch.ID, 10), doc.Map()); err != nil {
				return err
			}
		}
		if err := changeIdx.Batch(batch); err != nil {
			return fmt.Errorf("index history of %s: %w", issue.Key, err)
		}
	}
	return nil
}

// DeleteIssue removes an issue and its comments and history.
func (m *Manager) DeleteIssue(ctx context.Context, id int64) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.indexes == nil {
		return ErrNotOpen
	}
	if err := m.indexes[Issues].Delete(strconv.FormatInt(id, 10)); err != nil {
		return fmt.Errorf("delete issue %d: %w", id, err)
	}
	for _, name := range []Name{Comments, Changes} {
		if err := deleteByIssue(ctx, m.indexes[name], id); err != nil {
			return fmt.Errorf("delete %s of issue %d: %w", name, id, err)
		}
	}
	return nil
}

func deleteByIssue(ctx context.Context, idx bleve.Index, issueID int64) error {
	var ids []string
	err := Scan(ctx, idx, IssueTerm(issueID), []string{"_id"}, nil, scanBatch, func(hit *search.DocumentMatch) error {
		ids = append(ids, hit.ID)
		return nil
	})
	if err != nil || len(ids) == 0 {
		return err
	}
	batch := idx.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	return idx.Batch(batch)
}

// IssueTerm matches comment or change documents belonging to an issue.
func IssueTerm(issueID int64) query.Query {
	q := bleve.NewTermQuery(strconv.FormatInt(issueID, 10))
	q.SetField(FieldIssue)
	return q
}
