// Package memory is an in-process implementation of store.Store. It backs
// tests and the CLI's "memory://" database URL; nothing is persisted.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/alfredjeanlab/issuesearch/internal/model"
	"github.com/alfredjeanlab/issuesearch/internal/paging"
	"github.com/alfredjeanlab/issuesearch/internal/store"
)

type favKey struct {
	user string
	id   int64
}

type state struct {
	issues     map[int64]*model.Issue
	categories map[int64]*model.ProjectCategory
	projects   map[int64]*model.Project
	types      map[string]*model.IssueType
	fields     map[int64]*model.CustomField
	users      map[string]*model.User
	grants     []model.BrowseGrant
	searches   map[int64]*model.SearchRequestRecord
	favourites map[favKey]bool
	nextID     int64
}

func newState() *state {
	return &state{
		issues:     make(map[int64]*model.Issue),
		categories: make(map[int64]*model.ProjectCategory),
		projects:   make(map[int64]*model.Project),
		types:      make(map[string]*model.IssueType),
		fields:     make(map[int64]*model.CustomField),
		users:      make(map[string]*model.User),
		searches:   make(map[int64]*model.SearchRequestRecord),
		favourites: make(map[favKey]bool),
	}
}

// clone copies the maps. Values are replaced, never mutated, so they can
// be shared.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.issues {
		c.issues[k] = v
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.projects {
		c.projects[k] = v
	}
	for k, v := range s.types {
		c.types[k] = v
	}
	for k, v := range s.fields {
		c.fields[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	c.grants = append(c.grants, s.grants...)
	for k, v := range s.searches {
		c.searches[k] = v
	}
	for k, v := range s.favourites {
		c.favourites[k] = v
	}
	c.nextID = s.nextID
	return c
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// Store is a mutex-guarded in-memory store.
type Store struct {
	mu sync.Mutex
	st *state
	// tx is set on the store handed to a RunInTransaction callback. Its
	// methods run under the parent's lock.
	tx bool
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{st: newState()}
}

func (m *Store) lock() func() {
	if m.tx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func copyIssue(i *model.Issue) *model.Issue {
	c := *i
	c.Labels = append([]string(nil), i.Labels...)
	if i.CustomFields != nil {
		c.CustomFields = make(map[int64]string, len(i.CustomFields))
		for k, v := range i.CustomFields {
			c.CustomFields[k] = v
		}
	}
	c.Comments = append([]*model.Comment(nil), i.Comments...)
	c.Changes = append([]*model.ChangeItem(nil), i.Changes...)
	return &c
}

func copyRecord(r *model.SearchRequestRecord) *model.SearchRequestRecord {
	c := *r
	c.Permissions = append(model.SharePermissions(nil), r.Permissions...)
	return &c
}

func (m *Store) UpsertIssue(_ context.Context, issue *model.Issue) error {
	defer m.lock()()
	c := copyIssue(issue)
	if old, ok := m.st.issues[issue.ID]; ok {
		// Comments and history are owned by AddComment and RecordChange.
		c.Comments, c.Changes = old.Comments, old.Changes
	} else {
		c.Comments, c.Changes = nil, nil
	}
	m.st.issues[issue.ID] = c
	return nil
}

func (m *Store) GetIssue(_ context.Context, id int64) (*model.Issue, error) {
	defer m.lock()()
	i, ok := m.st.issues[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return copyIssue(i), nil
}

func (m *Store) ListIssues(_ context.Context, afterID int64, limit int) ([]*model.Issue, error) {
	defer m.lock()()
	ids := make([]int64, 0, len(m.st.issues))
	for id := range m.st.issues {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*model.Issue, len(ids))
	for n, id := range ids {
		out[n] = copyIssue(m.st.issues[id])
	}
	return out, nil
}

func (m *Store) DeleteIssue(_ context.Context, id int64) error {
	defer m.lock()()
	if _, ok := m.st.issues[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.st.issues, id)
	return nil
}

func (m *Store) AddComment(_ context.Context, comment *model.Comment) error {
	defer m.lock()()
	i, ok := m.st.issues[comment.IssueID]
	if !ok {
		return fmt.Errorf("add comment: issue %d: %w", comment.IssueID, sql.ErrNoRows)
	}
	comment.ID = m.st.id()
	c := copyIssue(i)
	cc := *comment
	c.Comments = append(c.Comments, &cc)
	m.st.issues[i.ID] = c
	return nil
}

func (m *Store) RecordChange(_ context.Context, change *model.ChangeItem) error {
	defer m.lock()()
	i, ok := m.st.issues[change.IssueID]
	if !ok {
		return fmt.Errorf("record change: issue %d: %w", change.IssueID, sql.ErrNoRows)
	}
	change.ID = m.st.id()
	c := copyIssue(i)
	cc := *change
	c.Changes = append(c.Changes, &cc)
	m.st.issues[i.ID] = c
	return nil
}

func (m *Store) CreateProjectCategory(_ context.Context, c *model.ProjectCategory) error {
	defer m.lock()()
	c.ID = m.st.id()
	cc := *c
	m.st.categories[c.ID] = &cc
	return nil
}

func (m *Store) ListProjectCategories(_ context.Context) ([]*model.ProjectCategory, error) {
	defer m.lock()()
	out := make([]*model.ProjectCategory, 0, len(m.st.categories))
	for _, c := range m.st.categories {
		cc := *c
		out = append(out, &cc)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out, nil
}

// CreateProject stores p. A zero ID is assigned from the store's sequence.
func (m *Store) CreateProject(_ context.Context, p *model.Project) error {
	defer m.lock()()
	if p.ID == 0 {
		p.ID = m.st.id()
	}
	for _, existing := range m.st.projects {
		if existing.ID != p.ID && strings.EqualFold(existing.Key, p.Key) {
			return fmt.Errorf("create project: key %q already exists", p.Key)
		}
	}
	if _, ok := m.st.projects[p.ID]; ok {
		return fmt.Errorf("create project: id %d already exists", p.ID)
	}
	pp := *p
	m.st.projects[p.ID] = &pp
	return nil
}

func (m *Store) listProjects(keep func(*model.Project) bool) []*model.Project {
	var out []*model.Project
	for _, p := range m.st.projects {
		if keep(p) {
			pp := *p
			out = append(out, &pp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Key < out[b].Key })
	return out
}

func (m *Store) ListProjects(_ context.Context) ([]*model.Project, error) {
	defer m.lock()()
	return m.listProjects(func(*model.Project) bool { return true }), nil
}

func (m *Store) ListProjectsInCategory(_ context.Context, categoryID int64) ([]*model.Project, error) {
	defer m.lock()()
	return m.listProjects(func(p *model.Project) bool {
		return p.CategoryID != nil && *p.CategoryID == categoryID
	}), nil
}

func (m *Store) CreateIssueType(_ context.Context, t *model.IssueType) error {
	defer m.lock()()
	if _, ok := m.st.types[t.ID]; ok {
		return fmt.Errorf("create issue type: id %q already exists", t.ID)
	}
	tt := *t
	m.st.types[t.ID] = &tt
	return nil
}

func (m *Store) ListIssueTypes(_ context.Context) ([]*model.IssueType, error) {
	defer m.lock()()
	out := make([]*model.IssueType, 0, len(m.st.types))
	for _, t := range m.st.types {
		tt := *t
		out = append(out, &tt)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out, nil
}

// customFieldBase matches the sequence start of the custom_fields table.
const customFieldBase = 10000

func (m *Store) CreateCustomField(_ context.Context, cf *model.CustomField) error {
	defer m.lock()()
	cf.ID = customFieldBase + int64(len(m.st.fields))
	c := *cf
	m.st.fields[cf.ID] = &c
	return nil
}

func (m *Store) ListCustomFields(_ context.Context) ([]*model.CustomField, error) {
	defer m.lock()()
	out := make([]*model.CustomField, 0, len(m.st.fields))
	for _, f := range m.st.fields {
		ff := *f
		out = append(out, &ff)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (m *Store) CreateUser(_ context.Context, u *model.User) error {
	defer m.lock()()
	uu := *u
	uu.Groups = append([]string(nil), u.Groups...)
	m.st.users[u.Key] = &uu
	return nil
}

func (m *Store) GetUser(_ context.Context, key string) (*model.User, error) {
	defer m.lock()()
	u, ok := m.st.users[key]
	if !ok {
		return nil, sql.ErrNoRows
	}
	uu := *u
	uu.Groups = append([]string(nil), u.Groups...)
	return &uu, nil
}

func (m *Store) GrantBrowse(_ context.Context, grant model.BrowseGrant) error {
	defer m.lock()()
	for _, g := range m.st.grants {
		if g == grant {
			return nil
		}
	}
	m.st.grants = append(m.st.grants, grant)
	return nil
}

// ListBrowsableProjects applies the same grant rules as the SQL store:
// anyone grants, the user's own grants and grants to any of its groups.
func (m *Store) ListBrowsableProjects(_ context.Context, user *model.User) ([]int64, error) {
	defer m.lock()()
	seen := make(map[int64]bool)
	var out []int64
	for _, g := range m.st.grants {
		ok := false
		switch g.Type {
		case model.GrantAnyone:
			ok = true
		case model.GrantUser:
			ok = user != nil && user.Key != "" && g.Param == user.Key
		case model.GrantGroup:
			ok = user.InGroup(g.Param)
		}
		if ok && !seen[g.ProjectID] {
			seen[g.ProjectID] = true
			out = append(out, g.ProjectID)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out, nil
}

func (m *Store) nameTaken(ownerKey, name string, except int64) bool {
	for _, r := range m.st.searches {
		if r.ID != except && r.OwnerKey == ownerKey && r.Name == name {
			return true
		}
	}
	return false
}

func (m *Store) CreateSearchRequest(_ context.Context, rec *model.SearchRequestRecord) error {
	defer m.lock()()
	if m.nameTaken(rec.OwnerKey, rec.Name, 0) {
		return fmt.Errorf("create search request %q: duplicate name for owner %s", rec.Name, rec.OwnerKey)
	}
	rec.ID = m.st.id()
	m.st.searches[rec.ID] = copyRecord(rec)
	return nil
}

func (m *Store) GetSearchRequest(_ context.Context, id int64) (*model.SearchRequestRecord, error) {
	defer m.lock()()
	r, ok := m.st.searches[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return copyRecord(r), nil
}

func (m *Store) GetSearchRequestByName(_ context.Context, ownerKey, name string) (*model.SearchRequestRecord, error) {
	defer m.lock()()
	for _, r := range m.st.searches {
		if r.OwnerKey == ownerKey && r.Name == name {
			return copyRecord(r), nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *Store) UpdateSearchRequest(_ context.Context, rec *model.SearchRequestRecord) error {
	defer m.lock()()
	if _, ok := m.st.searches[rec.ID]; !ok {
		return sql.ErrNoRows
	}
	if m.nameTaken(rec.OwnerKey, rec.Name, rec.ID) {
		return fmt.Errorf("update search request %d: duplicate name for owner %s", rec.ID, rec.OwnerKey)
	}
	m.st.searches[rec.ID] = copyRecord(rec)
	return nil
}

func (m *Store) DeleteSearchRequest(_ context.Context, id int64) error {
	defer m.lock()()
	if _, ok := m.st.searches[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.st.searches, id)
	for k := range m.st.favourites {
		if k.id == id {
			delete(m.st.favourites, k)
		}
	}
	return nil
}

func (m *Store) listSearches(keep func(*model.SearchRequestRecord) bool) []*model.SearchRequestRecord {
	var out []*model.SearchRequestRecord
	for _, r := range m.st.searches {
		if keep(r) {
			out = append(out, copyRecord(r))
		}
	}
	return out
}

func (m *Store) ListSearchRequestsByOwner(_ context.Context, ownerKey string) ([]*model.SearchRequestRecord, error) {
	defer m.lock()()
	out := m.listSearches(func(r *model.SearchRequestRecord) bool { return r.OwnerKey == ownerKey })
	sortSearches(out, model.SortByName, false)
	return out, nil
}

func (m *Store) ListAllSearchRequests(_ context.Context) ([]*model.SearchRequestRecord, error) {
	defer m.lock()()
	out := m.listSearches(func(*model.SearchRequestRecord) bool { return true })
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func visibleTo(r *model.SearchRequestRecord, v store.Viewer) bool {
	if v.UserKey != "" && r.OwnerKey == v.UserKey {
		return true
	}
	for _, p := range r.Permissions {
		switch p.Type {
		case model.ShareGlobal:
			return true
		case model.ShareUser:
			if v.UserKey != "" && p.Param == v.UserKey {
				return true
			}
		case model.ShareGroup:
			for _, g := range v.Groups {
				if p.Param == g {
					return true
				}
			}
		case model.ShareProject:
			for _, id := range v.ProjectIDs {
				if p.Param == strconv.FormatInt(id, 10) {
					return true
				}
			}
		}
	}
	return false
}

func sortSearches(recs []*model.SearchRequestRecord, by model.SearchSortField, desc bool) {
	sort.SliceStable(recs, func(a, b int) bool {
		x, y := recs[a], recs[b]
		switch by {
		case model.SortByOwner:
			if x.OwnerKey != y.OwnerKey {
				return (x.OwnerKey < y.OwnerKey) != desc
			}
		case model.SortByFavourites:
			if x.FavouriteCount != y.FavouriteCount {
				return (x.FavouriteCount < y.FavouriteCount) != desc
			}
		default:
			xn, yn := strings.ToLower(x.Name), strings.ToLower(y.Name)
			if xn != yn {
				return (xn < yn) != desc
			}
			return x.ID < y.ID
		}
		xn, yn := strings.ToLower(x.Name), strings.ToLower(y.Name)
		if xn != yn {
			return xn < yn
		}
		return x.ID < y.ID
	})
}

func (m *Store) SearchSearchRequests(_ context.Context, params model.SharedSearchParams, viewer store.Viewer, pager paging.PagerFilter) ([]*model.SearchRequestRecord, int, error) {
	defer m.lock()()
	text := strings.ToLower(params.Text)
	all := m.listSearches(func(r *model.SearchRequestRecord) bool {
		if !visibleTo(r, viewer) {
			return false
		}
		if text != "" && !strings.Contains(strings.ToLower(r.Name), text) &&
			!strings.Contains(strings.ToLower(r.Description), text) {
			return false
		}
		if params.OwnerKey != "" && r.OwnerKey != params.OwnerKey {
			return false
		}
		if params.Share != nil && !r.Permissions.Contains(*params.Share) {
			return false
		}
		return true
	})
	sortSearches(all, params.SortBy, params.Descending)
	return paging.CurrentPage(pager, all), len(all), nil
}

func (m *Store) adjustFavourites(id int64, delta int64) {
	r := copyRecord(m.st.searches[id])
	r.FavouriteCount += delta
	if r.FavouriteCount < 0 {
		r.FavouriteCount = 0
	}
	m.st.searches[id] = r
}

func (m *Store) AddFavourite(_ context.Context, userKey string, searchRequestID int64) (bool, error) {
	defer m.lock()()
	if _, ok := m.st.searches[searchRequestID]; !ok {
		return false, sql.ErrNoRows
	}
	k := favKey{userKey, searchRequestID}
	if m.st.favourites[k] {
		return false, nil
	}
	m.st.favourites[k] = true
	m.adjustFavourites(searchRequestID, 1)
	return true, nil
}

func (m *Store) RemoveFavourite(_ context.Context, userKey string, searchRequestID int64) (bool, error) {
	defer m.lock()()
	k := favKey{userKey, searchRequestID}
	if !m.st.favourites[k] {
		return false, nil
	}
	delete(m.st.favourites, k)
	m.adjustFavourites(searchRequestID, -1)
	return true, nil
}

func (m *Store) IsFavourite(_ context.Context, userKey string, searchRequestID int64) (bool, error) {
	defer m.lock()()
	return m.st.favourites[favKey{userKey, searchRequestID}], nil
}

// RunInTransaction runs fn against a copy of the data and installs the
// copy only if fn succeeds.
func (m *Store) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	if m.tx {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &Store{st: m.st.clone(), tx: true}
	if err := fn(tx); err != nil {
		return err
	}
	m.st = tx.st
	return nil
}

func (m *Store) Close() error { return nil }
