// Package permission decides which issues a user may see and turns that
// decision into an index query.
package permission

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/alfredjeanlab/issuesearch/internal/index"
	"github.com/alfredjeanlab/issuesearch/internal/model"
)

// Oracle answers which projects a user can browse. A nil user is the
// anonymous user.
type Oracle interface {
	BrowsableProjects(ctx context.Context, user *model.User) ([]int64, error)
}

// ProjectLister is the store method StoreOracle reads grants through.
type ProjectLister interface {
	ListBrowsableProjects(ctx context.Context, user *model.User) ([]int64, error)
}

// StoreOracle reads browse grants from the store on every call.
type StoreOracle struct {
	lister ProjectLister
}

func NewStoreOracle(lister ProjectLister) *StoreOracle {
	return &StoreOracle{lister: lister}
}

func (o *StoreOracle) BrowsableProjects(ctx context.Context, user *model.User) ([]int64, error) {
	ids, err := o.lister.ListBrowsableProjects(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("browsable projects for %q: %w", model.UserKey(user), err)
	}
	return ids, nil
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, user *model.User) ([]int64, error)

func (f OracleFunc) BrowsableProjects(ctx context.Context, user *model.User) ([]int64, error) {
	return f(ctx, user)
}

// Filter returns the index query matching the issues user can see: the
// issues of every browsable project. A user who can browse nothing gets a
// query that matches nothing.
func Filter(ctx context.Context, o Oracle, user *model.User) (query.Query, error) {
	return FilterWithin(ctx, o, user, nil)
}

// FilterWithin is Filter limited to the given projects; nil means any
// project.
func FilterWithin(ctx context.Context, o Oracle, user *model.User, within []int64) (query.Query, error) {
	ids, err := o.BrowsableProjects(ctx, user)
	if err != nil {
		return nil, err
	}
	if within != nil {
		ids = slices.DeleteFunc(slices.Clone(ids), func(id int64) bool { return !slices.Contains(within, id) })
	}
	if len(ids) == 0 {
		return bleve.NewMatchNoneQuery(), nil
	}
	qs := make([]query.Query, len(ids))
	for i, id := range ids {
		t := bleve.NewTermQuery(strconv.FormatInt(id, 10))
		t.SetField(index.FieldProject)
		qs[i] = t
	}
	if len(qs) == 1 {
		return qs[0], nil
	}
	return bleve.NewDisjunctionQuery(qs...), nil
}

// CanBrowse reports whether user can see issues of the project.
func CanBrowse(ctx context.Context, o Oracle, user *model.User, projectID int64) (bool, error) {
	ids, err := o.BrowsableProjects(ctx, user)
	if err != nil {
		return false, err
	}
	return slices.Contains(ids, projectID), nil
}
