package handler

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/issuesearch/internal/index"
	"github.com/alfredjeanlab/issuesearch/internal/jql"
	"github.com/alfredjeanlab/issuesearch/internal/model"
)

// Lookups resolves the project, category and issue type names used in
// queries.
type Lookups interface {
	ListProjects(ctx context.Context) ([]*model.Project, error)
	ListProjectCategories(ctx context.Context) ([]*model.ProjectCategory, error)
	ListProjectsInCategory(ctx context.Context, categoryID int64) ([]*model.Project, error)
	ListIssueTypes(ctx context.Context) ([]*model.IssueType, error)
}

// System clause names.
var (
	ProjectNames     = jql.MustClauseNames("project")
	CategoryNames    = jql.MustClauseNames("category")
	IssueTypeNames   = jql.MustClauseNames("issuetype", "type")
	StatusNames      = jql.MustClauseNames("status")
	PriorityNames    = jql.MustClauseNames("priority")
	AssigneeNames    = jql.MustClauseNames("assignee")
	ReporterNames    = jql.MustClauseNames("reporter")
	SummaryNames     = jql.MustClauseNames("summary")
	DescriptionNames = jql.MustClauseNames("description")
	CommentNames     = jql.MustClauseNames("comment")
	TextNames        = jql.MustClauseNames("text")
	LabelsNames      = jql.MustClauseNames("labels")
	CreatedNames     = jql.MustClauseNames("created", "createdDate")
	UpdatedNames     = jql.MustClauseNames("updated", "updatedDate")
	DueNames         = jql.MustClauseNames("due", "duedate")
	KeyNames         = jql.MustClauseNames("issuekey", "key", "id")
)

func projectResolver(lookups Lookups) Resolver {
	return func(ctx context.Context, value string) ([]string, error) {
		projects, err := lookups.ListProjects(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range projects {
			if strings.EqualFold(p.Key, value) || strings.EqualFold(p.Name, value) || strconv.FormatInt(p.ID, 10) == value {
				return []string{strconv.FormatInt(p.ID, 10)}, nil
			}
		}
		return nil, nil
	}
}

func categoryResolver(lookups Lookups) Resolver {
	return func(ctx context.Context, value string) ([]string, error) {
		categories, err := lookups.ListProjectCategories(ctx)
		if err != nil {
			return nil, err
		}
		for _, c := range categories {
			if !strings.EqualFold(c.Name, value) && strconv.FormatInt(c.ID, 10) != value {
				continue
			}
			projects, err := lookups.ListProjectsInCategory(ctx, c.ID)
			if err != nil {
				return nil, err
			}
			ids := make([]string, len(projects))
			for i, p := range projects {
				ids[i] = strconv.FormatInt(p.ID, 10)
			}
			// A known category without projects matches nothing but is
			// still a valid value.
			if len(ids) == 0 {
				ids = []string{"-1"}
			}
			return ids, nil
		}
		return nil, nil
	}
}

func issueTypeResolver(lookups Lookups) Resolver {
	return func(ctx context.Context, value string) ([]string, error) {
		types, err := lookups.ListIssueTypes(ctx)
		if err != nil {
			return nil, err
		}
		for _, t := range types {
			if strings.EqualFold(t.Name, value) || t.ID == value {
				return []string{t.ID}, nil
			}
		}
		return nil, nil
	}
}

func searcherFor(id string, handlers ...ClauseHandler) *SearcherRegistration {
	regs := make([]ClauseRegistration, len(handlers))
	for i, h := range handlers {
		regs[i] = ClauseRegistration{Handler: h}
	}
	return &SearcherRegistration{Searcher: NewSearcher(id), Clauses: regs}
}

func keyword(id, field string, kind index.FieldKind, get func(*model.Issue) []string) []index.FieldIndexer {
	return []index.FieldIndexer{&stringIndexer{id: id, field: field, kind: kind, get: get}}
}

func dated(id, field string, get func(*model.Issue) time.Time) []index.FieldIndexer {
	return []index.FieldIndexer{&timeIndexer{id: id, field: field, get: get}}
}

// SystemHandlers returns the registrations of the built-in fields.
func SystemHandlers(lookups Lookups) []*SearchHandler {
	project := NewKeywordHandler(ProjectNames, index.FieldProject,
		WithResolver(projectResolver(lookups)), SortBy(index.FieldKeyProject))
	category := NewKeywordHandler(CategoryNames, index.FieldProject,
		WithResolver(categoryResolver(lookups)), SortBy())
	issueType := NewKeywordHandler(IssueTypeNames, index.FieldIssueType,
		WithResolver(issueTypeResolver(lookups)))
	status := WithHistory(NewKeywordHandler(StatusNames, index.FieldStatus), "status")
	priority := WithHistory(NewKeywordHandler(PriorityNames, index.FieldPriority, SortBy(index.FieldPrioritySeq)), "priority")
	assignee := WithHistory(NewKeywordHandler(AssigneeNames, index.FieldAssignee), "assignee")
	reporter := NewKeywordHandler(ReporterNames, index.FieldReporter)
	summary := NewTextHandler(SummaryNames, index.FieldSummary)
	description := NewTextHandler(DescriptionNames, index.FieldDescription)
	comment := NewCommentHandler(CommentNames)
	text := NewAllTextHandler(TextNames, index.FieldSummary, index.FieldDescription)
	labels := NewKeywordHandler(LabelsNames, index.FieldLabels, CaseSensitive())
	created := NewDateHandler(CreatedNames, index.FieldCreated)
	updated := NewDateHandler(UpdatedNames, index.FieldUpdated)
	due := NewDateHandler(DueNames, index.FieldDue)
	key := NewKeyHandler(KeyNames)

	projectID := func(i *model.Issue) string { return strconv.FormatInt(i.ProjectID, 10) }

	return []*SearchHandler{
		MustSearchHandler(keyword("project", index.FieldProject, index.Keyword, one(projectID)),
			searcherFor("project", project)),
		MustSearchHandler(nil, nil, ClauseRegistration{Handler: category}),
		MustSearchHandler(keyword("issuetype", index.FieldIssueType, index.Keyword, one(func(i *model.Issue) string { return i.IssueTypeID })),
			searcherFor("issuetype", issueType)),
		MustSearchHandler(keyword("status", index.FieldStatus, index.Keyword, one(func(i *model.Issue) string { return i.Status })),
			searcherFor("status", status)),
		MustSearchHandler([]index.FieldIndexer{priorityIndexer{}},
			searcherFor("priority", priority)),
		MustSearchHandler(keyword("assignee", index.FieldAssignee, index.Keyword, one(func(i *model.Issue) string { return i.Assignee })),
			searcherFor("assignee", assignee)),
		MustSearchHandler(keyword("reporter", index.FieldReporter, index.Keyword, one(func(i *model.Issue) string { return i.Reporter })),
			searcherFor("reporter", reporter)),
		MustSearchHandler(keyword("summary", index.FieldSummary, index.Text, one(func(i *model.Issue) string { return i.Summary })),
			searcherFor("summary", summary)),
		MustSearchHandler(keyword("description", index.FieldDescription, index.Text, one(func(i *model.Issue) string { return i.Description })),
			searcherFor("description", description)),
		MustSearchHandler(nil, searcherFor("comment", comment)),
		MustSearchHandler(nil, nil, ClauseRegistration{Handler: text}),
		MustSearchHandler(keyword("labels", index.FieldLabels, index.ExactKeyword, func(i *model.Issue) []string { return i.Labels }),
			searcherFor("labels", labels)),
		MustSearchHandler(dated("created", index.FieldCreated, func(i *model.Issue) time.Time { return i.CreatedAt }),
			searcherFor("created", created)),
		MustSearchHandler(dated("updated", index.FieldUpdated, func(i *model.Issue) time.Time { return i.UpdatedAt }),
			searcherFor("updated", updated)),
		MustSearchHandler(dated("due", index.FieldDue, func(i *model.Issue) time.Time {
			if i.DueAt == nil {
				return time.Time{}
			}
			return *i.DueAt
		}), searcherFor("due", due)),
		MustSearchHandler([]index.FieldIndexer{keyIndexer{}}, nil, ClauseRegistration{Handler: key}),
	}
}
