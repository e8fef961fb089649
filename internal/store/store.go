package store

import (
	"context"

	"github.com/alfredjeanlab/issuesearch/internal/model"
	"github.com/alfredjeanlab/issuesearch/internal/paging"
)

// Viewer is the audience a saved-search listing is evaluated for. A
// search is visible when the viewer owns it, or it is shared globally, with
// one of the viewer's groups, with the viewer, or with one of the projects
// the viewer can browse.
type Viewer struct {
	UserKey    string
	Groups     []string
	ProjectIDs []int64
}

// Store defines the persistence interface for issues, their lookups and
// saved searches. Lookups of a single record return sql.ErrNoRows when it
// does not exist.
type Store interface {
	// Issues
	UpsertIssue(ctx context.Context, issue *model.Issue) error
	GetIssue(ctx context.Context, id int64) (*model.Issue, error)
	ListIssues(ctx context.Context, afterID int64, limit int) ([]*model.Issue, error) // ordered by id, relational data included
	DeleteIssue(ctx context.Context, id int64) error
	AddComment(ctx context.Context, comment *model.Comment) error
	RecordChange(ctx context.Context, change *model.ChangeItem) error

	// Projects, categories and issue types
	CreateProjectCategory(ctx context.Context, c *model.ProjectCategory) error
	ListProjectCategories(ctx context.Context) ([]*model.ProjectCategory, error)
	CreateProject(ctx context.Context, p *model.Project) error
	ListProjects(ctx context.Context) ([]*model.Project, error)
	ListProjectsInCategory(ctx context.Context, categoryID int64) ([]*model.Project, error)
	CreateIssueType(ctx context.Context, t *model.IssueType) error
	ListIssueTypes(ctx context.Context) ([]*model.IssueType, error)

	// Custom fields
	CreateCustomField(ctx context.Context, cf *model.CustomField) error
	ListCustomFields(ctx context.Context) ([]*model.CustomField, error)

	// Users and browse permissions
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, key string) (*model.User, error)
	GrantBrowse(ctx context.Context, grant model.BrowseGrant) error
	ListBrowsableProjects(ctx context.Context, user *model.User) ([]int64, error) // nil user is anonymous

	// Saved searches
	CreateSearchRequest(ctx context.Context, rec *model.SearchRequestRecord) error // assigns rec.ID
	GetSearchRequest(ctx context.Context, id int64) (*model.SearchRequestRecord, error)
	GetSearchRequestByName(ctx context.Context, ownerKey, name string) (*model.SearchRequestRecord, error)
	UpdateSearchRequest(ctx context.Context, rec *model.SearchRequestRecord) error
	DeleteSearchRequest(ctx context.Context, id int64) error
	ListSearchRequestsByOwner(ctx context.Context, ownerKey string) ([]*model.SearchRequestRecord, error)
	ListAllSearchRequests(ctx context.Context) ([]*model.SearchRequestRecord, error)
	SearchSearchRequests(ctx context.Context, params model.SharedSearchParams, viewer Viewer, pager paging.PagerFilter) ([]*model.SearchRequestRecord, int, error) // returns page, total count, error

	// Favourites. Add and Remove report whether anything changed and keep
	// the search's favourite count in step.
	AddFavourite(ctx context.Context, userKey string, searchRequestID int64) (bool, error)
	RemoveFavourite(ctx context.Context, userKey string, searchRequestID int64) (bool, error)
	IsFavourite(ctx context.Context, userKey string, searchRequestID int64) (bool, error)

	// Transaction support
	RunInTransaction(ctx context.Context, fn func(tx Store) error) error

	// Lifecycle
	Close() error
}
