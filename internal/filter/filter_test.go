package filter

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/alfredjeanlab/issuesearch/internal/events"
	"github.com/alfredjeanlab/issuesearch/internal/jql"
	"github.com/alfredjeanlab/issuesearch/internal/model"
	"github.com/alfredjeanlab/issuesearch/internal/paging"
	"github.com/alfredjeanlab/issuesearch/internal/permission"
	"github.com/alfredjeanlab/issuesearch/internal/store/memory"
)

// recordingPublisher keeps published events in order.
type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []any
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

var (
	alice = &model.User{Key: "alice", Groups: []string{"devs"}}
	bob   = &model.User{Key: "bob", Groups: []string{"ops"}}
	carol = &model.User{Key: "carol", Groups: []string{"devs"}}
)

// browse: alice and carol see project 10, everyone sees 30.
var testOracle = permission.OracleFunc(func(_ context.Context, u *model.User) ([]int64, error) {
	switch model.UserKey(u) {
	case "alice", "carol":
		return []int64{10, 30}, nil
	}
	return []int64{30}, nil
})

func newTestService(t *testing.T) (*Service, *memory.Store, *recordingPublisher) {
	t.Helper()
	st := memory.New()
	for _, u := range []*model.User{alice, bob, carol} {
		if err := st.CreateUser(context.Background(), u); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
	pub := &recordingPublisher{}
	return NewService(st, testOracle, pub, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))), st, pub
}

func mustParse(t *testing.T, s string) *jql.Query {
	t.Helper()
	q, err := jql.Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return q
}

func createFilter(t *testing.T, svc *Service, user *model.User, name string, shares ...model.SharePermission) *model.SearchRequest {
	t.Helper()
	r := model.NewSearchRequest(mustParse(t, "status = Open"), "", name, "")
	if len(shares) > 0 {
		r.SetPermissions(shares)
	}
	if err := svc.Create(context.Background(), user, r); err != nil {
		t.Fatalf("Create(%q): %v", name, err)
	}
	return r
}

func TestCreate(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()

	r := model.NewSearchRequest(mustParse(t, "project = ABC ORDER BY created DESC"), "", "Recent ABC", "newest first")
	if err := svc.Create(ctx, alice, r); err != nil {
		t.Fatalf("Create: %v", err)
	}

	id, ok := r.ID()
	if !ok || id == 0 {
		t.Fatalf("ID() = %d, %v; want persisted", id, ok)
	}
	if r.IsModified() {
		t.Error("IsModified() = true after Create")
	}
	if r.OwnerKey() != "alice" {
		t.Errorf("OwnerKey() = %q, want alice", r.OwnerKey())
	}
	owner, err := r.Owner(ctx)
	if err != nil || owner == nil || owner.Key != "alice" {
		t.Errorf("Owner() = %v, %v", owner, err)
	}

	if len(pub.topics) != 1 || pub.topics[0] != events.TopicFilterCreated {
		t.Fatalf("published %v", pub.topics)
	}
	ev := pub.events[0].(events.FilterCreated)
	if ev.Filter.ID != id || ev.Filter.Query != "project = ABC ORDER BY created DESC" {
		t.Errorf("event filter = %+v", ev.Filter)
	}

	got, err := svc.Get(ctx, alice, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Equal(r) {
		t.Errorf("Get() = %v, want %v", got.Record(), r.Record())
	}
}

func TestCreate_Errors(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	createFilter(t, svc, alice, "taken")

	tests := []struct {
		name    string
		user    *model.User
		request func() *model.SearchRequest
		wantErr error
		wantVE  bool
	}{
		{
			name:    "anonymous",
			user:    nil,
			request: func() *model.SearchRequest { return model.NewSearchRequest(nil, "", "x", "") },
			wantErr: ErrPermissionDenied,
		},
		{
			name:    "someone else's owner",
			user:    alice,
			request: func() *model.SearchRequest { return model.NewSearchRequest(nil, "bob", "x", "") },
			wantErr: ErrPermissionDenied,
		},
		{
			name:    "blank name",
			user:    alice,
			request: func() *model.SearchRequest { return model.NewSearchRequest(nil, "", "  ", "") },
			wantVE:  true,
		},
		{
			name:    "duplicate name",
			user:    alice,
			request: func() *model.SearchRequest { return model.NewSearchRequest(nil, "", "taken", "") },
			wantErr: ErrDuplicateName,
		},
		{
			name: "already persisted",
			user: alice,
			request: func() *model.SearchRequest {
				r := model.NewSearchRequest(nil, "", "y", "")
				r.MarkPersisted(42)
				return r
			},
			wantErr: ErrAlreadyPersisted,
		},
		{
			name: "share with foreign group",
			user: alice,
			request: func() *model.SearchRequest {
				r := model.NewSearchRequest(nil, "", "z", "")
				r.SetPermissions(model.SharePermissions{{Type: model.ShareGroup, Param: "ops"}})
				return r
			},
			wantErr: ErrPermissionDenied,
		},
		{
			name: "share with unbrowsable project",
			user: bob,
			request: func() *model.SearchRequest {
				r := model.NewSearchRequest(nil, "", "z", "")
				r.SetPermissions(model.SharePermissions{{Type: model.ShareProject, Param: "10"}})
				return r
			},
			wantErr: ErrPermissionDenied,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Create(ctx, tt.user, tt.request())
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantVE {
				var ve *model.ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("err = %v, want *model.ValidationError", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGet_Visibility(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	private := createFilter(t, svc, alice, "private")
	global := createFilter(t, svc, alice, "global", model.SharePermission{Type: model.ShareGlobal})
	group := createFilter(t, svc, alice, "group", model.SharePermission{Type: model.ShareGroup, Param: "devs"})
	project := createFilter(t, svc, alice, "project", model.SharePermission{Type: model.ShareProject, Param: "10"})
	user := createFilter(t, svc, alice, "user", model.SharePermission{Type: model.ShareUser, Param: "bob"})

	tests := []struct {
		name    string
		request *model.SearchRequest
		user    *model.User
		visible bool
	}{
		{"owner sees private", private, alice, true},
		{"other does not see private", private, bob, false},
		{"anonymous sees global", global, nil, true},
		{"group member", group, carol, true},
		{"not group member", group, bob, false},
		{"project browser", project, carol, true},
		{"not project browser", project, bob, false},
		{"shared user", user, bob, true},
		{"unshared user", user, carol, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, _ := tt.request.ID()
			_, err := svc.Get(ctx, tt.user, id)
			if tt.visible && err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !tt.visible && !errors.Is(err, ErrNotFound) {
				t.Fatalf("err = %v, want ErrNotFound", err)
			}
		})
	}

	if _, err := svc.Get(ctx, alice, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing id: err = %v, want ErrNotFound", err)
	}
}

func TestUpdate(t *testing.T) {
	svc, st, pub := newTestService(t)
	ctx := context.Background()
	r := createFilter(t, svc, alice, "mine", model.SharePermission{Type: model.ShareGlobal})
	id, _ := r.ID()

	// Unmodified: nothing written.
	if err := svc.Update(ctx, alice, r); err != nil {
		t.Fatalf("Update unmodified: %v", err)
	}
	if len(pub.topics) != 1 {
		t.Fatalf("published %v, want only the create event", pub.topics)
	}

	if _, err := svc.Favourite(ctx, bob, id); err != nil {
		t.Fatalf("Favourite: %v", err)
	}

	r.SetName("renamed")
	r.SetQuery(mustParse(t, "assignee = currentUser()"))
	if err := svc.Update(ctx, alice, r); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if r.IsModified() {
		t.Error("IsModified() = true after Update")
	}
	if r.FavouriteCount() != 1 {
		t.Errorf("FavouriteCount() = %d, want 1 from the store", r.FavouriteCount())
	}
	stored, err := st.GetSearchRequest(ctx, id)
	if err != nil {
		t.Fatalf("GetSearchRequest: %v", err)
	}
	if stored.Name != "renamed" || stored.Query != "assignee = currentUser()" || stored.FavouriteCount != 1 {
		t.Errorf("stored = %+v", stored)
	}
	if last := pub.topics[len(pub.topics)-1]; last != events.TopicFilterUpdated {
		t.Errorf("last event = %s, want %s", last, events.TopicFilterUpdated)
	}

	// Bob can see it but not change it.
	theirs, err := svc.Get(ctx, bob, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	theirs.SetDescription("hijacked")
	if err := svc.Update(ctx, bob, theirs); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("Update by non-owner: err = %v, want ErrPermissionDenied", err)
	}

	transient := model.NewSearchRequest(nil, "alice", "t", "")
	if err := svc.Update(ctx, alice, transient); !errors.Is(err, ErrTransient) {
		t.Errorf("Update transient: err = %v, want ErrTransient", err)
	}

	other := createFilter(t, svc, alice, "other")
	other.SetName("renamed")
	if err := svc.Update(ctx, alice, other); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("Update to taken name: err = %v, want ErrDuplicateName", err)
	}
}

func TestDelete(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()
	r := createFilter(t, svc, alice, "doomed", model.SharePermission{Type: model.ShareGlobal})
	id, _ := r.ID()

	if err := svc.Delete(ctx, bob, id); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Delete by non-owner: err = %v", err)
	}
	if err := svc.Delete(ctx, alice, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, alice, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete: err = %v", err)
	}
	if err := svc.Delete(ctx, alice, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete: err = %v", err)
	}
	ev, ok := pub.events[len(pub.events)-1].(events.FilterDeleted)
	if !ok || ev.FilterID != id || ev.OwnerKey != "alice" {
		t.Errorf("last event = %#v", pub.events[len(pub.events)-1])
	}
}

func TestWrites_HidePrivateSearches(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	r := createFilter(t, svc, alice, "private")
	id, _ := r.ID()

	if err := svc.Delete(ctx, bob, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete of a private search by non-owner: err = %v, want ErrNotFound", err)
	}
	if err := svc.Delete(ctx, bob, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete of a missing search: err = %v, want ErrNotFound", err)
	}

	r.SetDescription("seen by bob")
	if err := svc.Update(ctx, bob, r); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update of a private search by non-owner: err = %v, want ErrNotFound", err)
	}
	if _, err := st.GetSearchRequest(ctx, id); err != nil {
		t.Errorf("search gone after rejected writes: %v", err)
	}
}

func TestUpdate_OwnerCannotChange(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	r := createFilter(t, svc, alice, "mine")
	id, _ := r.ID()

	r.SetOwnerKey("bob")
	if err := svc.Update(ctx, alice, r); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Update moving the owner: err = %v, want ErrPermissionDenied", err)
	}
	stored, err := st.GetSearchRequest(ctx, id)
	if err != nil {
		t.Fatalf("GetSearchRequest: %v", err)
	}
	if stored.OwnerKey != "alice" {
		t.Errorf("stored owner = %q, want alice", stored.OwnerKey)
	}
}

func TestFavourites(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()
	r := createFilter(t, svc, alice, "popular", model.SharePermission{Type: model.ShareGroup, Param: "devs"})
	id, _ := r.ID()

	got, err := svc.Favourite(ctx, carol, id)
	if err != nil {
		t.Fatalf("Favourite: %v", err)
	}
	if got.FavouriteCount() != 1 || got.IsModified() {
		t.Errorf("FavouriteCount() = %d, IsModified() = %v", got.FavouriteCount(), got.IsModified())
	}
	if fav, _ := svc.IsFavourite(ctx, carol, id); !fav {
		t.Error("IsFavourite = false after Favourite")
	}

	n := len(pub.topics)
	if _, err := svc.Favourite(ctx, carol, id); err != nil {
		t.Fatalf("repeat Favourite: %v", err)
	}
	if len(pub.topics) != n {
		t.Error("repeat Favourite published an event")
	}

	if _, err := svc.Favourite(ctx, bob, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Favourite of invisible search: err = %v, want ErrNotFound", err)
	}
	if _, err := svc.Favourite(ctx, nil, id); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("anonymous Favourite: err = %v", err)
	}

	got, err = svc.Unfavourite(ctx, carol, id)
	if err != nil {
		t.Fatalf("Unfavourite: %v", err)
	}
	if got.FavouriteCount() != 0 {
		t.Errorf("FavouriteCount() = %d after Unfavourite", got.FavouriteCount())
	}
	if last := pub.topics[len(pub.topics)-1]; last != events.TopicFilterUnfavourited {
		t.Errorf("last event = %s", last)
	}
}

func TestListOwnedAndSearch(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	createFilter(t, svc, alice, "b-private")
	createFilter(t, svc, alice, "a-devs", model.SharePermission{Type: model.ShareGroup, Param: "devs"})
	createFilter(t, svc, bob, "c-global", model.SharePermission{Type: model.ShareGlobal})
	createFilter(t, svc, carol, "d-project", model.SharePermission{Type: model.ShareProject, Param: "10"})

	owned, err := svc.ListOwned(ctx, alice)
	if err != nil {
		t.Fatalf("ListOwned: %v", err)
	}
	if len(owned) != 2 || owned[0].Name() != "a-devs" || owned[1].Name() != "b-private" {
		t.Errorf("ListOwned = %v", owned)
	}

	tests := []struct {
		name  string
		user  *model.User
		pager paging.PagerFilter
		want  []string
		total int
	}{
		{"anonymous", nil, paging.UnlimitedFilter(), []string{"c-global"}, 1},
		{"bob", bob, paging.UnlimitedFilter(), []string{"c-global"}, 1},
		{"carol", carol, paging.UnlimitedFilter(), []string{"a-devs", "c-global", "d-project"}, 3},
		{"alice first page", alice, paging.NewPagerFilter(0, 2), []string{"a-devs", "b-private"}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := svc.Search(ctx, tt.user, model.SharedSearchParams{}, tt.pager)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if total != tt.total {
				t.Errorf("total = %d, want %d", total, tt.total)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d searches, want %v", len(got), tt.want)
			}
			for i, r := range got {
				if r.Name() != tt.want[i] {
					t.Errorf("got[%d] = %q, want %q", i, r.Name(), tt.want[i])
				}
				if !r.IsLoaded() || r.IsModified() {
					t.Errorf("%q: IsLoaded=%v IsModified=%v", r.Name(), r.IsLoaded(), r.IsModified())
				}
			}
		})
	}
}

func TestPublishFailureDoesNotFail(t *testing.T) {
	svc, _, pub := newTestService(t)
	pub.err = errors.New("nats down")
	r := model.NewSearchRequest(nil, "", "still saved", "")
	if err := svc.Create(context.Background(), alice, r); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !r.IsLoaded() {
		t.Error("search not persisted")
	}
}
