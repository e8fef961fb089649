package postgres

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/alfredjeanlab/issuesearch/internal/model"
	"github.com/alfredjeanlab/issuesearch/internal/paging"
	"github.com/alfredjeanlab/issuesearch/internal/store"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

// issueRowColumns is the column list for scanIssue results.
var issueRowColumns = []string{
	"id", "key", "project_id", "issue_type_id", "summary", "description",
	"status", "priority", "priority_rank", "assignee", "reporter", "created_at", "updated_at",
	"due_at", "custom_fields",
}

var searchRequestRowColumns = []string{"id", "name", "description", "owner_key", "query", "favourite_count", "use_columns"}

// relatedExpectations sets up the label, comment and history queries that
// follow an issue query.
func relatedExpectations(mock sqlmock.Sqlmock, labels, comments, changes *sqlmock.Rows) {
	mock.ExpectQuery("SELECT issue_id, label FROM issue_labels WHERE issue_id = ANY\\(\\$1\\)").
		WithArgs(sqlmock.AnyArg()).WillReturnRows(labels)
	mock.ExpectQuery("SELECT .+ FROM comments WHERE issue_id = ANY\\(\\$1\\)").
		WithArgs(sqlmock.AnyArg()).WillReturnRows(comments)
	mock.ExpectQuery("SELECT .+ FROM change_items WHERE issue_id = ANY\\(\\$1\\)").
		WithArgs(sqlmock.AnyArg()).WillReturnRows(changes)
}

func emptyLabels() *sqlmock.Rows { return sqlmock.NewRows([]string{"issue_id", "label"}) }
func emptyComments() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "issue_id", "author", "body", "created_at"})
}
func emptyChanges() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "issue_id", "field", "from_value", "to_value", "author", "created_at"})
}

func TestSearchSortClause(t *testing.T) {
	for _, tc := range []struct {
		by   model.SearchSortField
		desc bool
		want string
	}{
		{"", false, "lower(sr.name) ASC, sr.id ASC"},
		{model.SortByName, true, "lower(sr.name) DESC, sr.id ASC"},
		{model.SortByOwner, false, "sr.owner_key ASC, lower(sr.name) ASC, sr.id ASC"},
		{model.SortByFavourites, true, "sr.favourite_count DESC, lower(sr.name) ASC, sr.id ASC"},
		{"evil_column", false, "lower(sr.name) ASC, sr.id ASC"},
	} {
		if got := searchSortClause(tc.by, tc.desc); got != tc.want {
			t.Errorf("searchSortClause(%q, %v) = %q, want %q", tc.by, tc.desc, got, tc.want)
		}
	}
}

func TestScanHelpers(t *testing.T) {
	if nullTimePtr(nil).Valid {
		t.Error("nullTimePtr(nil) should be invalid")
	}
	now := time.Now()
	if nt := nullTimePtr(&now); !nt.Valid || !nt.Time.Equal(now) {
		t.Errorf("nullTimePtr(now) = %v", nt)
	}

	if nullString("").Valid {
		t.Error("nullString(\"\") should be invalid")
	}
	if ns := nullString("hello"); !ns.Valid || ns.String != "hello" {
		t.Errorf("nullString(\"hello\") = %v", ns)
	}

	if nullInt64Ptr(nil).Valid {
		t.Error("nullInt64Ptr(nil) should be invalid")
	}
	seven := int64(7)
	if ni := nullInt64Ptr(&seven); !ni.Valid || ni.Int64 != 7 {
		t.Errorf("nullInt64Ptr(7) = %v", ni)
	}

	if b, err := customFieldsJSON(nil); err != nil || b != nil {
		t.Errorf("customFieldsJSON(nil) = %s, %v", b, err)
	}
	b, err := customFieldsJSON(map[int64]string{10001: "3"})
	if err != nil || string(b) != `{"10001":"3"}` {
		t.Errorf("customFieldsJSON = %s, %v", b, err)
	}
}

func TestQueryUpsertIssue(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	issue := &model.Issue{
		ID: 1, Key: "ABC-1", ProjectID: 10, IssueTypeID: "1", Summary: "Login fails",
		Status: "Open", Labels: []string{"frontend"}, CreatedAt: now, UpdatedAt: now,
		CustomFields: map[int64]string{10001: "3"},
	}
	mock.ExpectExec("INSERT INTO issues .+ ON CONFLICT \\(id\\) DO UPDATE").
		WithArgs(
			int64(1), "ABC-1", int64(10), sqlmock.AnyArg(), "Login fails", sqlmock.AnyArg(),
			"Open", sqlmock.AnyArg(), 0, sqlmock.AnyArg(), sqlmock.AnyArg(), now, now,
			sqlmock.AnyArg(), []byte(`{"10001":"3"}`),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM issue_labels WHERE issue_id = \\$1").WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO issue_labels").WithArgs(int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := queryUpsertIssue(context.Background(), db, issue); err != nil {
		t.Fatalf("queryUpsertIssue: %v", err)
	}
}

func TestQueryUpsertIssue_NoLabels(t *testing.T) {
	db, mock := newMockDB(t)
	issue := &model.Issue{ID: 2, Key: "ABC-2", ProjectID: 10, Summary: "x", Status: "Open"}
	mock.ExpectExec("INSERT INTO issues").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM issue_labels").WithArgs(int64(2)).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := queryUpsertIssue(context.Background(), db, issue); err != nil {
		t.Fatalf("queryUpsertIssue: %v", err)
	}
}

func TestQueryGetIssue(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM issues WHERE id = \\$1").WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(issueRowColumns).AddRow(
			1, "ABC-1", 10, "1", "Login fails", nil,
			"Open", "High", 2, "alice", nil, now, now,
			now, []byte(`{"10001":"3"}`),
		))
	relatedExpectations(mock,
		emptyLabels().AddRow(1, "backend").AddRow(1, "frontend"),
		emptyComments().AddRow(5, 1, "bob", "Reproduced", now),
		emptyChanges().AddRow(9, 1, "status", "Closed", nil, nil, now),
	)

	issue, err := queryGetIssue(context.Background(), db, 1)
	if err != nil {
		t.Fatalf("queryGetIssue: %v", err)
	}
	if issue.Key != "ABC-1" || issue.Priority != "High" || issue.Reporter != "" || issue.DueAt == nil {
		t.Errorf("issue = %+v", issue)
	}
	if got := issue.CustomFields[10001]; got != "3" {
		t.Errorf("custom field 10001 = %q, want 3", got)
	}
	if !slices.Equal(issue.Labels, []string{"backend", "frontend"}) {
		t.Errorf("labels = %v", issue.Labels)
	}
	if len(issue.Comments) != 1 || issue.Comments[0].Body != "Reproduced" {
		t.Errorf("comments = %+v", issue.Comments)
	}
	if len(issue.Changes) != 1 || issue.Changes[0].From != "Closed" || issue.Changes[0].To != "" {
		t.Errorf("changes = %+v", issue.Changes)
	}
}

func TestQueryGetIssue_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM issues WHERE id = \\$1").WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows(issueRowColumns))

	_, err := queryGetIssue(context.Background(), db, 99)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("error = %v, want sql.ErrNoRows", err)
	}
}

func TestQueryListIssues(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM issues WHERE id > \\$1 ORDER BY id LIMIT \\$2").WithArgs(int64(0), 2).
		WillReturnRows(sqlmock.NewRows(issueRowColumns).
			AddRow(1, "ABC-1", 10, nil, "One", nil, "Open", nil, 0, nil, nil, now, now, nil, nil).
			AddRow(2, "ABC-2", 10, nil, "Two", nil, "Open", nil, 0, nil, nil, now, now, nil, nil))
	relatedExpectations(mock, emptyLabels().AddRow(2, "x"), emptyComments(), emptyChanges())

	issues, err := queryListIssues(context.Background(), db, 0, 2)
	if err != nil {
		t.Fatalf("queryListIssues: %v", err)
	}
	if len(issues) != 2 || issues[1].Labels[0] != "x" || issues[0].Labels != nil {
		t.Errorf("issues = %+v", issues)
	}
}

func TestQueryDeleteIssue_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("DELETE FROM issues WHERE id = \\$1").WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := queryDeleteIssue(context.Background(), db, 9); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("error = %v, want sql.ErrNoRows", err)
	}
}

func TestQueryAddComment(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now().UTC()
	c := &model.Comment{IssueID: 1, Author: "bob", Body: "hi", CreatedAt: now}
	mock.ExpectQuery("INSERT INTO comments .+ RETURNING id").WithArgs(int64(1), "bob", "hi", now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	if err := queryAddComment(context.Background(), db, c); err != nil {
		t.Fatalf("queryAddComment: %v", err)
	}
	if c.ID != 42 {
		t.Errorf("comment id = %d, want 42", c.ID)
	}
}

func TestQueryListBrowsableProjects(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT DISTINCT project_id FROM browse_grants").
		WithArgs("alice", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"project_id"}).AddRow(10).AddRow(20))
	mock.ExpectQuery("SELECT DISTINCT project_id FROM browse_grants").
		WithArgs("", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"project_id"}).AddRow(10))

	ids, err := queryListBrowsableProjects(context.Background(), db, &model.User{Key: "alice", Groups: []string{"dev"}})
	if err != nil {
		t.Fatalf("queryListBrowsableProjects: %v", err)
	}
	if !slices.Equal(ids, []int64{10, 20}) {
		t.Errorf("alice projects = %v", ids)
	}
	ids, err = queryListBrowsableProjects(context.Background(), db, nil)
	if err != nil {
		t.Fatalf("queryListBrowsableProjects(anonymous): %v", err)
	}
	if !slices.Equal(ids, []int64{10}) {
		t.Errorf("anonymous projects = %v", ids)
	}
}

func TestQueryGetUser(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT key, name, display_name FROM users WHERE key = \\$1").WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"key", "name", "display_name"}).AddRow("alice", "alice", "Alice A."))
	mock.ExpectQuery("SELECT group_name FROM user_groups").WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"group_name"}).AddRow("admins").AddRow("dev"))

	u, err := queryGetUser(context.Background(), db, "alice")
	if err != nil {
		t.Fatalf("queryGetUser: %v", err)
	}
	if u.DisplayName != "Alice A." || !u.InGroup("dev") || !u.InGroup("admins") {
		t.Errorf("user = %+v", u)
	}
}

func TestQueryCreateSearchRequest(t *testing.T) {
	db, mock := newMockDB(t)
	rec := &model.SearchRequestRecord{
		Name: "Mine", OwnerKey: "alice", Query: "assignee = currentUser()",
		Permissions: model.SharePermissions{{Type: model.ShareGroup, Param: "dev"}},
	}
	mock.ExpectQuery("INSERT INTO search_requests .+ RETURNING id").
		WithArgs("Mine", "", "alice", "assignee = currentUser()", int64(0), false).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectExec("DELETE FROM search_request_shares WHERE search_request_id = \\$1").WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO search_request_shares").WithArgs(int64(7), "group", "dev").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := queryCreateSearchRequest(context.Background(), db, rec); err != nil {
		t.Fatalf("queryCreateSearchRequest: %v", err)
	}
	if rec.ID != 7 {
		t.Errorf("id = %d, want 7", rec.ID)
	}
}

func TestQueryGetSearchRequest(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT .+ FROM search_requests sr WHERE sr.id = \\$1").WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(searchRequestRowColumns).AddRow(7, "Mine", "", "alice", "status = Open", 2, false))
	mock.ExpectQuery("SELECT search_request_id, share_type, param FROM search_request_shares").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"search_request_id", "share_type", "param"}).
			AddRow(7, "global", "").AddRow(7, "user", "bob"))

	rec, err := queryGetSearchRequest(context.Background(), db, 7)
	if err != nil {
		t.Fatalf("queryGetSearchRequest: %v", err)
	}
	want := model.SharePermissions{{Type: model.ShareGlobal}, {Type: model.ShareUser, Param: "bob"}}
	if rec.Name != "Mine" || rec.FavouriteCount != 2 || !rec.Permissions.Equal(want) {
		t.Errorf("record = %+v", rec)
	}
}

func TestQueryUpdateSearchRequest_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("UPDATE search_requests SET").WillReturnResult(sqlmock.NewResult(0, 0))

	err := queryUpdateSearchRequest(context.Background(), db, &model.SearchRequestRecord{ID: 3, Name: "x", OwnerKey: "a"})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("error = %v, want sql.ErrNoRows", err)
	}
}

func TestQuerySearchSearchRequests(t *testing.T) {
	db, mock := newMockDB(t)
	viewer := store.Viewer{UserKey: "bob", Groups: []string{"dev"}, ProjectIDs: []int64{10}}
	params := model.SharedSearchParams{Text: "bug", SortBy: model.SortByFavourites, Descending: true}

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) OVER\\(\\) AS total_count, .+ ORDER BY sr.favourite_count DESC.+ LIMIT \\$5 OFFSET \\$6").
		WithArgs("bob", sqlmock.AnyArg(), sqlmock.AnyArg(), "bug", 2, 2).
		WillReturnRows(sqlmock.NewRows(append([]string{"total_count"}, searchRequestRowColumns...)).
			AddRow(5, 3, "Bugs", "", "alice", "type = Bug", 4, false))
	mock.ExpectQuery("FROM search_request_shares").WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"search_request_id", "share_type", "param"}).AddRow(3, "group", "dev"))

	recs, total, err := querySearchSearchRequests(context.Background(), db, params, viewer, paging.NewPagerFilter(2, 2))
	if err != nil {
		t.Fatalf("querySearchSearchRequests: %v", err)
	}
	if total != 5 || len(recs) != 1 || recs[0].Name != "Bugs" || len(recs[0].Permissions) != 1 {
		t.Errorf("total=%d recs=%+v", total, recs)
	}
}

func TestQuerySearchSearchRequests_ShareAndOwner(t *testing.T) {
	db, mock := newMockDB(t)
	params := model.SharedSearchParams{
		OwnerKey: "alice",
		Share:    &model.SharePermission{Type: model.ShareProject, Param: "10"},
	}
	mock.ExpectQuery("sr.owner_key = \\$4 AND EXISTS .+ s.share_type = \\$5 AND s.param = \\$6").
		WithArgs("", sqlmock.AnyArg(), sqlmock.AnyArg(), "alice", "project", "10").
		WillReturnRows(sqlmock.NewRows(append([]string{"total_count"}, searchRequestRowColumns...)))

	recs, total, err := querySearchSearchRequests(context.Background(), db, params, store.Viewer{}, paging.UnlimitedFilter())
	if err != nil {
		t.Fatalf("querySearchSearchRequests: %v", err)
	}
	if total != 0 || len(recs) != 0 {
		t.Errorf("total=%d recs=%v, want none", total, recs)
	}
}

func TestQueryFavourites(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectExec("INSERT INTO favourites").WithArgs("bob", int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE search_requests SET favourite_count = favourite_count \\+ 1").WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO favourites").WithArgs("bob", int64(7)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM favourites").WithArgs("bob", int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE search_requests SET favourite_count = GREATEST").WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	if added, err := queryAddFavourite(ctx, db, "bob", 7); err != nil || !added {
		t.Errorf("first add = %v, %v", added, err)
	}
	if added, err := queryAddFavourite(ctx, db, "bob", 7); err != nil || added {
		t.Errorf("second add = %v, %v", added, err)
	}
	if removed, err := queryRemoveFavourite(ctx, db, "bob", 7); err != nil || !removed {
		t.Errorf("remove = %v, %v", removed, err)
	}
}

func TestRunInTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewWithDB(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM search_requests WHERE id = \\$1").WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		return tx.DeleteSearchRequest(ctx, 7)
	})
	if err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()
	err = s.RunInTransaction(ctx, func(tx store.Store) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want boom", err)
	}
}
