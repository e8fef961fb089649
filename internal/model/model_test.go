package model

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alfredjeanlab/issuesearch/internal/jql"
)

func TestSplitKey(t *testing.T) {
	for _, tc := range []struct {
		key     string
		project string
		num     int64
		ok      bool
	}{
		{"ABC-12", "ABC", 12, true},
		{"MY-PROJ-7", "MY-PROJ", 7, true},
		{"ABC", "", 0, false},
		{"ABC-", "", 0, false},
		{"-12", "", 0, false},
		{"ABC-x1", "", 0, false},
	} {
		project, num, ok := SplitKey(tc.key)
		if project != tc.project || num != tc.num || ok != tc.ok {
			t.Errorf("SplitKey(%q) = (%q, %d, %v), want (%q, %d, %v)",
				tc.key, project, num, ok, tc.project, tc.num, tc.ok)
		}
	}
}

func TestIssue_Number(t *testing.T) {
	if got := (&Issue{Key: "ABC-42"}).Number(); got != 42 {
		t.Errorf("Number() = %d, want 42", got)
	}
	if got := (&Issue{Key: "broken"}).Number(); got != 0 {
		t.Errorf("Number() = %d, want 0", got)
	}
}

func TestUser_InGroup(t *testing.T) {
	u := &User{Key: "alice", Groups: []string{"developers"}}
	if !u.InGroup("developers") || u.InGroup("admins") {
		t.Error("InGroup mismatch")
	}
	var anon *User
	if anon.InGroup("developers") {
		t.Error("anonymous user should not be in any group")
	}
	if UserKey(anon) != "" || UserKey(u) != "alice" {
		t.Error("UserKey mismatch")
	}
}

func TestSharePermissions(t *testing.T) {
	var private SharePermissions
	if !private.IsPrivate() || private.IsGlobal() {
		t.Error("empty permissions should be private")
	}
	s := SharePermissions{{Type: ShareGroup, Param: "devs"}, {Type: ShareGlobal}}
	if s.IsPrivate() || !s.IsGlobal() {
		t.Error("expected global, non-private permissions")
	}
	reordered := SharePermissions{{Type: ShareGlobal}, {Type: ShareGroup, Param: "devs"}}
	if !s.Equal(reordered) {
		t.Error("Equal should ignore order")
	}
	if s.Equal(SharePermissions{{Type: ShareGlobal}}) {
		t.Error("Equal should compare sizes")
	}
}

func TestSearchRequest_Lifecycle(t *testing.T) {
	sr := NewSearchRequest(jql.MustParse("project = ABC"), "alice", "mine", "")

	if sr.IsLoaded() {
		t.Error("new request should not be loaded")
	}
	if _, ok := sr.ID(); ok {
		t.Error("new request should have no id")
	}
	if sr.IsModified() {
		t.Error("new request should not be modified")
	}
	if !sr.Permissions().IsPrivate() {
		t.Error("new request should be private")
	}

	sr.MarkPersisted(7)
	if !sr.IsLoaded() {
		t.Error("persisted request should be loaded")
	}
	if id, ok := sr.ID(); !ok || id != 7 {
		t.Errorf("ID() = (%d, %v), want (7, true)", id, ok)
	}
	if sr.IsModified() {
		t.Error("MarkPersisted should not set modified")
	}

	sr.MarkTransient()
	if sr.IsLoaded() {
		t.Error("MarkTransient should clear the identity")
	}
}

func TestSearchRequest_SettersMarkModified(t *testing.T) {
	for _, tc := range []struct {
		name string
		set  func(*SearchRequest)
	}{
		{"name", func(r *SearchRequest) { r.SetName("x") }},
		{"same name", func(r *SearchRequest) { r.SetName(r.Name()) }},
		{"description", func(r *SearchRequest) { r.SetDescription("d") }},
		{"query", func(r *SearchRequest) { r.SetQuery(jql.MustParse("status = Open")) }},
		{"owner", func(r *SearchRequest) { r.SetOwnerKey("bob") }},
		{"favourites", func(r *SearchRequest) { r.SetFavouriteCount(3) }},
		{"permissions", func(r *SearchRequest) { r.SetPermissions(SharePermissions{{Type: ShareGlobal}}) }},
		{"columns", func(r *SearchRequest) { r.SetUseColumns(true) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sr := NewSearchRequest(nil, "alice", "mine", "")
			tc.set(sr)
			if !sr.IsModified() {
				t.Fatal("setter did not mark request modified")
			}
			sr.SetName("again")
			if !sr.IsModified() {
				t.Fatal("modified flag reset by a setter")
			}
			sr.SetModified(false)
			if sr.IsModified() {
				t.Error("SetModified(false) did not clear flag")
			}
		})
	}
}

func TestSearchRequest_NilQueryIsEmpty(t *testing.T) {
	sr := NewSearchRequest(nil, "alice", "all", "")
	if sr.Query() == nil || sr.Query().String() != "" {
		t.Errorf("Query() = %v, want empty query", sr.Query())
	}
	sr.SetQuery(nil)
	if sr.Query() == nil {
		t.Error("SetQuery(nil) left a nil query")
	}
}

func TestSearchRequest_Equal(t *testing.T) {
	a := NewSearchRequest(jql.MustParse("project = ABC"), "alice", "n", "d")
	b := NewSearchRequest(jql.MustParse("project=ABC"), "alice", "n", "d")
	if !a.Equal(b) {
		t.Error("requests with equal fields should be Equal")
	}
	b.SetFavouriteCount(10)
	if !a.Equal(b) {
		t.Error("favourite count should not affect equality")
	}
	b.MarkPersisted(1)
	if a.Equal(b) {
		t.Error("transient and persisted requests should differ")
	}
	a.MarkPersisted(1)
	if !a.Equal(b) {
		t.Error("same identity should be Equal")
	}
	a.SetQuery(jql.MustParse("project = XYZ"))
	if a.Equal(b) {
		t.Error("different queries should differ")
	}
}

type fakeResolver struct {
	calls int
	users map[string]*User
}

func (f *fakeResolver) GetUser(_ context.Context, key string) (*User, error) {
	f.calls++
	u, ok := f.users[key]
	if !ok {
		return nil, errors.New("no such user")
	}
	return u, nil
}

func TestSearchRequest_OwnerResolvedLazily(t *testing.T) {
	res := &fakeResolver{users: map[string]*User{"alice": {Key: "alice"}, "bob": {Key: "bob"}}}
	sr := NewSearchRequest(nil, "alice", "n", "")
	sr.SetUserResolver(res)
	if res.calls != 0 {
		t.Fatal("resolver called before Owner")
	}
	for i := 0; i < 2; i++ {
		u, err := sr.Owner(context.Background())
		if err != nil || u.Key != "alice" {
			t.Fatalf("Owner() = (%v, %v)", u, err)
		}
	}
	if res.calls != 1 {
		t.Errorf("resolver calls = %d, want 1", res.calls)
	}
	sr.SetOwnerKey("bob")
	if u, _ := sr.Owner(context.Background()); u.Key != "bob" {
		t.Errorf("Owner() after SetOwnerKey = %v, want bob", u)
	}
}

func TestSearchRequestRecord_Restore(t *testing.T) {
	sr := NewSearchRequest(jql.MustParse("status in (Open, Closed) ORDER BY created DESC"), "alice", "n", "d")
	sr.SetPermissions(SharePermissions{{Type: ShareGroup, Param: "devs"}})
	sr.MarkPersisted(9)

	got, err := sr.Record().Restore()
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !got.Equal(sr) {
		t.Errorf("restored %+v, want %+v", got.Record(), sr.Record())
	}
	if got.IsModified() {
		t.Error("restored request should not be modified")
	}
	if !got.Permissions().Equal(sr.Permissions()) {
		t.Error("permissions lost in round trip")
	}

	if _, err := (SearchRequestRecord{ID: 1, Query: "project ="}).Restore(); err == nil {
		t.Error("Restore with invalid query should fail")
	}
}

func TestValidateSearchRequest(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(*SearchRequest)
		fields []string
	}{
		{"valid", func(*SearchRequest) {}, nil},
		{"blank name", func(r *SearchRequest) { r.SetName("  ") }, []string{"name"}},
		{"long name", func(r *SearchRequest) { r.SetName(strings.Repeat("x", 256)) }, []string{"name"}},
		{"no owner", func(r *SearchRequest) { r.SetOwnerKey("") }, []string{"owner"}},
		{"bad share type", func(r *SearchRequest) {
			r.SetPermissions(SharePermissions{{Type: "role", Param: "x"}})
		}, []string{"permissions"}},
		{"group without param", func(r *SearchRequest) {
			r.SetPermissions(SharePermissions{{Type: ShareGroup}})
		}, []string{"permissions"}},
		{"global with param", func(r *SearchRequest) {
			r.SetPermissions(SharePermissions{{Type: ShareGlobal, Param: "x"}})
		}, []string{"permissions"}},
		{"project share not numeric", func(r *SearchRequest) {
			r.SetPermissions(SharePermissions{{Type: ShareProject, Param: "ABC"}})
		}, []string{"permissions"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sr := NewSearchRequest(nil, "alice", "mine", "")
			tc.modify(sr)
			err := ValidateSearchRequest(sr)
			if len(tc.fields) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("error = %v, want *ValidationError", err)
			}
			for i, f := range tc.fields {
				if ve.Errors[i].Field != f {
					t.Errorf("Errors[%d].Field = %q, want %q", i, ve.Errors[i].Field, f)
				}
			}
		})
	}
}

func TestValidateIssue(t *testing.T) {
	ok := &Issue{ID: 1, Key: "ABC-1", ProjectID: 10, Summary: "s"}
	if err := ValidateIssue(ok); err != nil {
		t.Fatalf("ValidateIssue: %v", err)
	}
	err := ValidateIssue(&Issue{Key: "nokey"})
	var ve *ValidationError
	if !errors.As(err, &ve) || len(ve.Errors) != 4 {
		t.Fatalf("ValidateIssue(empty) = %v, want 4 field errors", err)
	}
	if !strings.Contains(err.Error(), "summary: is required") {
		t.Errorf("Error() = %q", err.Error())
	}
}
