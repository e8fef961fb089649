// Package filter manages saved searches on behalf of users: ownership,
// sharing, favourites and the events that announce changes.
package filter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/alfredjeanlab/issuesearch/internal/events"
	"github.com/alfredjeanlab/issuesearch/internal/model"
	"github.com/alfredjeanlab/issuesearch/internal/paging"
	"github.com/alfredjeanlab/issuesearch/internal/permission"
	"github.com/alfredjeanlab/issuesearch/internal/store"
)

var (
	// ErrNotFound is returned for searches that do not exist or that the
	// caller cannot see.
	ErrNotFound = errors.New("filter: saved search not found")
	// ErrPermissionDenied is returned when the caller may see a search but
	// not change it, or shares it with an audience it does not belong to.
	ErrPermissionDenied = errors.New("filter: permission denied")
	ErrDuplicateName    = errors.New("filter: owner already has a saved search with this name")
	ErrAlreadyPersisted = errors.New("filter: saved search is already persisted")
	ErrTransient        = errors.New("filter: saved search has not been persisted")
)

// Service is the saved-search API used by the CLI.
type Service struct {
	store     store.Store
	oracle    permission.Oracle
	publisher events.Publisher
	logger    *slog.Logger
}

// NewService returns a service over st. A nil publisher disables events and
// a nil logger uses slog.Default.
func NewService(st store.Store, oracle permission.Oracle, publisher events.Publisher, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = &events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, oracle: oracle, publisher: publisher, logger: logger}
}

// publish sends an event. Failures are logged; the change is already
// committed.
func (s *Service) publish(ctx context.Context, topic string, event any) {
	if err := s.publisher.Publish(ctx, topic, event); err != nil {
		s.logger.Warn("failed to publish event", "topic", topic, "err", err)
	}
}

func (s *Service) restore(rec *model.SearchRequestRecord) (*model.SearchRequest, error) {
	r, err := rec.Restore()
	if err != nil {
		return nil, err
	}
	r.SetUserResolver(s.store)
	return r, nil
}

// Create persists a transient search owned by user. An empty owner is
// filled in with the user.
func (s *Service) Create(ctx context.Context, user *model.User, r *model.SearchRequest) error {
	if user == nil {
		return fmt.Errorf("%w: anonymous users cannot save searches", ErrPermissionDenied)
	}
	if r.IsLoaded() {
		return ErrAlreadyPersisted
	}
	if r.OwnerKey() == "" {
		r.SetOwnerKey(user.Key)
	}
	if r.OwnerKey() != user.Key {
		return fmt.Errorf("%w: cannot save a search for %s", ErrPermissionDenied, r.OwnerKey())
	}
	if err := model.ValidateSearchRequest(r); err != nil {
		return err
	}
	if err := s.checkShares(ctx, user, r.Permissions()); err != nil {
		return err
	}

	rec := r.Record()
	err := s.store.RunInTransaction(ctx, func(tx store.Store) error {
		if err := checkNameFree(ctx, tx, rec.OwnerKey, rec.Name, 0); err != nil {
			return err
		}
		return tx.CreateSearchRequest(ctx, &rec)
	})
	if err != nil {
		return err
	}

	r.MarkPersisted(rec.ID)
	r.SetModified(false)
	r.SetUserResolver(s.store)
	s.logger.Info("saved search created", "filter_id", rec.ID, "owner", rec.OwnerKey, "name", rec.Name)
	s.publish(ctx, events.TopicFilterCreated, events.FilterCreated{Filter: rec})
	return nil
}

func checkNameFree(ctx context.Context, st store.Store, ownerKey, name string, self int64) error {
	existing, err := st.GetSearchRequestByName(ctx, ownerKey, name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("check saved search name: %w", err)
	case existing.ID != self:
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	return nil
}

// Get returns the search with the given id if user can see it.
func (s *Service) Get(ctx context.Context, user *model.User, id int64) (*model.SearchRequest, error) {
	rec, err := s.load(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.CanSee(ctx, user, rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return s.restore(rec)
}

func (s *Service) load(ctx context.Context, st store.Store, id int64) (*model.SearchRequestRecord, error) {
	rec, err := st.GetSearchRequest(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get saved search %d: %w", id, err)
	}
	return rec, nil
}

// Update writes a modified persisted search. Only the stored owner may
// update it and the owner cannot change. An unmodified search is left
// alone.
func (s *Service) Update(ctx context.Context, user *model.User, r *model.SearchRequest) error {
	id, ok := r.ID()
	if !ok {
		return ErrTransient
	}
	if !r.IsModified() {
		return nil
	}
	if err := model.ValidateSearchRequest(r); err != nil {
		return err
	}
	if err := s.requireVisible(ctx, user, id); err != nil {
		return err
	}
	if err := s.checkShares(ctx, user, r.Permissions()); err != nil {
		return err
	}

	rec := r.Record()
	err := s.store.RunInTransaction(ctx, func(tx store.Store) error {
		stored, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := requireOwner(user, stored); err != nil {
			return err
		}
		if rec.OwnerKey != stored.OwnerKey {
			return fmt.Errorf("%w: saved search %d cannot change owner", ErrPermissionDenied, id)
		}
		if err := checkNameFree(ctx, tx, rec.OwnerKey, rec.Name, id); err != nil {
			return err
		}
		// The count is maintained by the favourites table.
		rec.FavouriteCount = stored.FavouriteCount
		return tx.UpdateSearchRequest(ctx, &rec)
	})
	if err != nil {
		return err
	}

	r.SetFavouriteCount(rec.FavouriteCount)
	r.SetModified(false)
	s.publish(ctx, events.TopicFilterUpdated, events.FilterUpdated{Filter: rec})
	return nil
}

// requireVisible hides searches user cannot see behind ErrNotFound, so
// that writes do not reveal which ids exist.
func (s *Service) requireVisible(ctx context.Context, user *model.User, id int64) error {
	_, err := s.Get(ctx, user, id)
	return err
}

func requireOwner(user *model.User, rec *model.SearchRequestRecord) error {
	if user == nil || user.Key != rec.OwnerKey {
		return fmt.Errorf("%w: saved search %d belongs to %s", ErrPermissionDenied, rec.ID, rec.OwnerKey)
	}
	return nil
}

// Delete removes a search. Only the owner may delete it.
func (s *Service) Delete(ctx context.Context, user *model.User, id int64) error {
	if err := s.requireVisible(ctx, user, id); err != nil {
		return err
	}
	var owner string
	err := s.store.RunInTransaction(ctx, func(tx store.Store) error {
		rec, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := requireOwner(user, rec); err != nil {
			return err
		}
		owner = rec.OwnerKey
		return tx.DeleteSearchRequest(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info("saved search deleted", "filter_id", id, "owner", owner)
	s.publish(ctx, events.TopicFilterDeleted, events.FilterDeleted{FilterID: id, OwnerKey: owner})
	return nil
}

// Favourite adds the search to user's favourites and returns it with the
// updated count.
func (s *Service) Favourite(ctx context.Context, user *model.User, id int64) (*model.SearchRequest, error) {
	return s.setFavourite(ctx, user, id, true)
}

// Unfavourite removes the search from user's favourites.
func (s *Service) Unfavourite(ctx context.Context, user *model.User, id int64) (*model.SearchRequest, error) {
	return s.setFavourite(ctx, user, id, false)
}

func (s *Service) setFavourite(ctx context.Context, user *model.User, id int64, add bool) (*model.SearchRequest, error) {
	if user == nil {
		return nil, fmt.Errorf("%w: anonymous users have no favourites", ErrPermissionDenied)
	}
	if _, err := s.Get(ctx, user, id); err != nil {
		return nil, err
	}
	var (
		changed bool
		rec     *model.SearchRequestRecord
	)
	err := s.store.RunInTransaction(ctx, func(tx store.Store) error {
		var err error
		if add {
			changed, err = tx.AddFavourite(ctx, user.Key, id)
		} else {
			changed, err = tx.RemoveFavourite(ctx, user.Key, id)
		}
		if err != nil {
			return fmt.Errorf("favourite %d: %w", id, err)
		}
		rec, err = s.load(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		topic := events.TopicFilterUnfavourited
		if add {
			topic = events.TopicFilterFavourited
		}
		s.publish(ctx, topic, events.FilterFavourite{FilterID: id, UserKey: user.Key, FavouriteCount: rec.FavouriteCount})
	}
	return s.restore(rec)
}

// IsFavourite reports whether id is one of user's favourites.
func (s *Service) IsFavourite(ctx context.Context, user *model.User, id int64) (bool, error) {
	if user == nil {
		return false, nil
	}
	return s.store.IsFavourite(ctx, user.Key, id)
}

// ListOwned returns user's searches ordered by name.
func (s *Service) ListOwned(ctx context.Context, user *model.User) ([]*model.SearchRequest, error) {
	if user == nil {
		return nil, nil
	}
	recs, err := s.store.ListSearchRequestsByOwner(ctx, user.Key)
	if err != nil {
		return nil, fmt.Errorf("list saved searches of %s: %w", user.Key, err)
	}
	return s.restoreAll(recs)
}

func (s *Service) restoreAll(recs []*model.SearchRequestRecord) ([]*model.SearchRequest, error) {
	out := make([]*model.SearchRequest, 0, len(recs))
	for _, rec := range recs {
		r, err := s.restore(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Viewer returns the audience user belongs to for saved-search visibility.
func (s *Service) Viewer(ctx context.Context, user *model.User) (store.Viewer, error) {
	projects, err := s.oracle.BrowsableProjects(ctx, user)
	if err != nil {
		return store.Viewer{}, err
	}
	v := store.Viewer{UserKey: model.UserKey(user), ProjectIDs: projects}
	if user != nil {
		v.Groups = user.Groups
	}
	return v, nil
}

// Search returns one page of the searches user can see that match params,
// and the total number of matches.
func (s *Service) Search(ctx context.Context, user *model.User, params model.SharedSearchParams, pager paging.PagerFilter) ([]*model.SearchRequest, int, error) {
	v, err := s.Viewer(ctx, user)
	if err != nil {
		return nil, 0, err
	}
	recs, total, err := s.store.SearchSearchRequests(ctx, params, v, pager)
	if err != nil {
		return nil, 0, fmt.Errorf("search saved searches: %w", err)
	}
	out, err := s.restoreAll(recs)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// CanSee reports whether user may see rec: the owner always can, others
// through one of its shares.
func (s *Service) CanSee(ctx context.Context, user *model.User, rec *model.SearchRequestRecord) (bool, error) {
	if user != nil && user.Key == rec.OwnerKey {
		return true, nil
	}
	var projects []int64
	loaded := false
	for _, p := range rec.Permissions {
		switch p.Type {
		case model.ShareGlobal:
			return true, nil
		case model.ShareUser:
			if user != nil && p.Param == user.Key {
				return true, nil
			}
		case model.ShareGroup:
			if user.InGroup(p.Param) {
				return true, nil
			}
		case model.ShareProject:
			if !loaded {
				var err error
				if projects, err = s.oracle.BrowsableProjects(ctx, user); err != nil {
					return false, err
				}
				loaded = true
			}
			id, err := strconv.ParseInt(p.Param, 10, 64)
			if err == nil && slices.Contains(projects, id) {
				return true, nil
			}
		}
	}
	return false, nil
}

// checkShares rejects shares with groups the user is not in and projects
// the user cannot browse.
func (s *Service) checkShares(ctx context.Context, user *model.User, shares model.SharePermissions) error {
	var projects []int64
	loaded := false
	for _, p := range shares {
		switch p.Type {
		case model.ShareGroup:
			if !user.InGroup(p.Param) {
				return fmt.Errorf("%w: not a member of group %s", ErrPermissionDenied, p.Param)
			}
		case model.ShareProject:
			if !loaded {
				var err error
				if projects, err = s.oracle.BrowsableProjects(ctx, user); err != nil {
					return err
				}
				loaded = true
			}
			id, _ := strconv.ParseInt(p.Param, 10, 64)
			if !slices.Contains(projects, id) {
				return fmt.Errorf("%w: cannot browse project %s", ErrPermissionDenied, p.Param)
			}
		}
	}
	return nil
}
