package handler

import (
	"context"
	"testing"
	"time"

	"github.com/alfredjeanlab/issuesearch/internal/index"
	"github.com/alfredjeanlab/issuesearch/internal/model"
)

type fakeLookups struct {
	projects   []*model.Project
	categories []*model.ProjectCategory
	types      []*model.IssueType
}

func (f *fakeLookups) ListProjects(context.Context) ([]*model.Project, error) {
	return f.projects, nil
}

func (f *fakeLookups) ListProjectCategories(context.Context) ([]*model.ProjectCategory, error) {
	return f.categories, nil
}

func (f *fakeLookups) ListProjectsInCategory(_ context.Context, id int64) ([]*model.Project, error) {
	var out []*model.Project
	for _, p := range f.projects {
		if p.CategoryID != nil && *p.CategoryID == id {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeLookups) ListIssueTypes(context.Context) ([]*model.IssueType, error) {
	return f.types, nil
}

func newFakeLookups() *fakeLookups {
	platform := int64(1)
	return &fakeLookups{
		projects: []*model.Project{
			{ID: 10, Key: "ABC", Name: "Alphabet", CategoryID: &platform},
			{ID: 20, Key: "XYZ", Name: "Zulu"},
		},
		categories: []*model.ProjectCategory{{ID: 1, Name: "Platform"}, {ID: 2, Name: "Empty"}},
		types:      []*model.IssueType{{ID: "1", Name: "Bug"}, {ID: "2", Name: "Task"}},
	}
}

// fixtureNow is the clock of every fixture query: Wednesday 2026-03-18 12:00 UTC.
var fixtureNow = time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)

var storyPoints = model.CustomField{ID: 10001, Name: "Story Points", Type: model.CustomFieldNumber}
var team = model.CustomField{ID: 10002, Name: "Team", Type: model.CustomFieldSelect}

func fixtureIssues() []*model.Issue {
	day := func(d int) time.Time { return time.Date(2026, 3, d, 9, 0, 0, 0, time.UTC) }
	due := day(20)
	return []*model.Issue{
		{
			ID: 1, Key: "ABC-1", ProjectID: 10, IssueTypeID: "1", Summary: "Login fails on Safari",
			Description: "Users cannot sign in", Status: "Open", Priority: "High", PriorityRank: 2,
			Assignee: "alice", Reporter: "bob", Labels: []string{"Frontend"},
			CreatedAt: day(1), UpdatedAt: day(17), DueAt: &due,
			CustomFields: map[int64]string{storyPoints.ID: "3", team.ID: "Web"},
			Comments:     []*model.Comment{{ID: 1, IssueID: 1, Author: "bob", Body: "Reproduced with a stack trace", CreatedAt: day(2)}},
			Changes:      []*model.ChangeItem{{ID: 1, IssueID: 1, Field: "status", From: "Closed", To: "Open", CreatedAt: day(3)}},
		},
		{
			ID: 2, Key: "ABC-2", ProjectID: 10, IssueTypeID: "2", Summary: "Logout button misaligned",
			Status: "In Progress", Priority: "Low", PriorityRank: 4, Assignee: "bob", Reporter: "alice",
			CreatedAt: day(10), UpdatedAt: day(18),
			CustomFields: map[int64]string{storyPoints.ID: "8"},
		},
		{
			ID: 3, Key: "XYZ-1", ProjectID: 20, IssueTypeID: "1", Summary: "Crash on start",
			Status: "Closed", Priority: "High", PriorityRank: 2, Reporter: "carol",
			Labels:    []string{"backend", "Crash"},
			CreatedAt: day(18), UpdatedAt: day(18),
			Changes: []*model.ChangeItem{
				{ID: 2, IssueID: 3, Field: "status", From: "Open", To: "Closed", CreatedAt: day(18)},
				{ID: 3, IssueID: 3, Field: "assignee", From: "alice", CreatedAt: day(18)},
			},
		},
	}
}

type fixture struct {
	registry *Registry
	manager  *index.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := NewRegistry(nil, SystemHandlers(newFakeLookups())...)
	for _, cf := range []model.CustomField{storyPoints, team} {
		h, err := NewCustomFieldHandler(cf, reg.IsReserved)
		if err != nil {
			t.Fatalf("NewCustomFieldHandler: %v", err)
		}
		reg.Register(h)
	}
	m := index.NewManager(nil)
	if err := m.Open("", reg.FieldIndexers()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	if err := m.IndexIssues(context.Background(), fixtureIssues()); err != nil {
		t.Fatalf("IndexIssues: %v", err)
	}
	return &fixture{registry: reg, manager: m}
}

func (f *fixture) queryContext(user *model.User) *QueryContext {
	return NewQueryContext(user, fixtureNow, f.registry.Functions(), f.manager)
}
