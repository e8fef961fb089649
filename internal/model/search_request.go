package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/alfredjeanlab/issuesearch/internal/jql"
)

// Identity is the persistence state of a saved search: transient until the
// store assigns an id.
type Identity struct {
	id        int64
	persisted bool
}

// Transient is the identity of a search that has never been stored.
func Transient() Identity { return Identity{} }

// Persisted is the identity of a stored search.
func Persisted(id int64) Identity { return Identity{id: id, persisted: true} }

// ID returns the stored id, and false for a transient identity.
func (i Identity) ID() (int64, bool) { return i.id, i.persisted }

// IsPersisted reports whether the identity carries a stored id.
func (i Identity) IsPersisted() bool { return i.persisted }

func (i Identity) String() string {
	if !i.persisted {
		return "transient"
	}
	return fmt.Sprintf("persisted(%d)", i.id)
}

// UserResolver looks users up by key.
type UserResolver interface {
	GetUser(ctx context.Context, key string) (*User, error)
}

// SearchRequest is a saved search (filter): a named, owned, shareable query.
//
// Every setter marks the request modified; only SetModified clears the flag.
type SearchRequest struct {
	identity       Identity
	name           string
	description    string
	ownerKey       string
	query          *jql.Query
	favouriteCount int64
	permissions    SharePermissions
	useColumns     bool
	modified       bool

	resolver  UserResolver
	ownerOnce sync.Once
	owner     *User
	ownerErr  error
}

// NewSearchRequest returns a transient search request. A nil query is
// replaced by the empty query.
func NewSearchRequest(query *jql.Query, ownerKey, name, description string) *SearchRequest {
	if query == nil {
		query = &jql.Query{}
	}
	return &SearchRequest{
		identity:    Transient(),
		query:       query,
		ownerKey:    ownerKey,
		name:        name,
		description: description,
	}
}

// Identity returns the persistence state.
func (r *SearchRequest) Identity() Identity { return r.identity }

// ID returns the stored id, and false when the request is transient.
func (r *SearchRequest) ID() (int64, bool) { return r.identity.ID() }

// IsLoaded reports whether the request has been persisted.
func (r *SearchRequest) IsLoaded() bool { return r.identity.IsPersisted() }

// MarkPersisted records the id assigned by the store. It does not touch
// the modified flag.
func (r *SearchRequest) MarkPersisted(id int64) { r.identity = Persisted(id) }

// MarkTransient drops the stored identity, e.g. after a delete.
func (r *SearchRequest) MarkTransient() { r.identity = Transient() }

func (r *SearchRequest) Name() string                  { return r.name }
func (r *SearchRequest) Description() string           { return r.description }
func (r *SearchRequest) OwnerKey() string              { return r.ownerKey }
func (r *SearchRequest) Query() *jql.Query             { return r.query }
func (r *SearchRequest) FavouriteCount() int64         { return r.favouriteCount }
func (r *SearchRequest) Permissions() SharePermissions { return r.permissions }
func (r *SearchRequest) UseColumns() bool              { return r.useColumns }
func (r *SearchRequest) IsModified() bool              { return r.modified }

// SetModified sets the dirty flag explicitly.
func (r *SearchRequest) SetModified(modified bool) { r.modified = modified }

func (r *SearchRequest) SetName(name string) {
	r.name = name
	r.modified = true
}

func (r *SearchRequest) SetDescription(description string) {
	r.description = description
	r.modified = true
}

// SetQuery replaces the query. A nil query becomes the empty query.
func (r *SearchRequest) SetQuery(query *jql.Query) {
	if query == nil {
		query = &jql.Query{}
	}
	r.query = query
	r.modified = true
}

// SetOwnerKey changes the owner and drops any resolved owner.
func (r *SearchRequest) SetOwnerKey(key string) {
	r.ownerKey = key
	r.ownerOnce = sync.Once{}
	r.owner, r.ownerErr = nil, nil
	r.modified = true
}

func (r *SearchRequest) SetFavouriteCount(n int64) {
	r.favouriteCount = n
	r.modified = true
}

func (r *SearchRequest) SetPermissions(p SharePermissions) {
	r.permissions = append(SharePermissions(nil), p...)
	r.modified = true
}

func (r *SearchRequest) SetUseColumns(use bool) {
	r.useColumns = use
	r.modified = true
}

// SetUserResolver installs the lookup used by Owner.
func (r *SearchRequest) SetUserResolver(res UserResolver) { r.resolver = res }

// Owner resolves the owner key to a user on first use. It returns nil
// without error when no resolver is installed or the request has no owner.
func (r *SearchRequest) Owner(ctx context.Context) (*User, error) {
	if r.resolver == nil || r.ownerKey == "" {
		return nil, nil
	}
	r.ownerOnce.Do(func() {
		r.owner, r.ownerErr = r.resolver.GetUser(ctx, r.ownerKey)
	})
	return r.owner, r.ownerErr
}

// Equal compares identity, name, description, owner and query.
func (r *SearchRequest) Equal(other *SearchRequest) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.identity == other.identity &&
		r.name == other.name &&
		r.description == other.description &&
		r.ownerKey == other.ownerKey &&
		r.query.Equal(other.query)
}

// SearchRequestRecord is the serialised form of a SearchRequest used by the
// store, events and exports. The query is its canonical text.
type SearchRequestRecord struct {
	ID             int64            `json:"id,omitempty"`
	Name           string           `json:"name"`
	Description    string           `json:"description,omitempty"`
	OwnerKey       string           `json:"owner_key"`
	Query          string           `json:"query"`
	FavouriteCount int64            `json:"favourite_count"`
	Permissions    SharePermissions `json:"permissions,omitempty"`
	UseColumns     bool             `json:"use_columns,omitempty"`
}

// Record returns the serialised form of r. ID is zero for transient requests.
func (r *SearchRequest) Record() SearchRequestRecord {
	id, _ := r.identity.ID()
	return SearchRequestRecord{
		ID:             id,
		Name:           r.name,
		Description:    r.description,
		OwnerKey:       r.ownerKey,
		Query:          r.query.String(),
		FavouriteCount: r.favouriteCount,
		Permissions:    r.permissions,
		UseColumns:     r.useColumns,
	}
}

// Restore rebuilds a persisted, unmodified SearchRequest from a stored
// record.
func (rec SearchRequestRecord) Restore() (*SearchRequest, error) {
	q, err := jql.Parse(rec.Query)
	if err != nil {
		return nil, fmt.Errorf("saved search %d: %w", rec.ID, err)
	}
	return &SearchRequest{
		identity:       Persisted(rec.ID),
		name:           rec.Name,
		description:    rec.Description,
		ownerKey:       rec.OwnerKey,
		query:          q,
		favouriteCount: rec.FavouriteCount,
		permissions:    rec.Permissions,
		useColumns:     rec.UseColumns,
	}, nil
}
