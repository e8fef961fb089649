package handler

import (
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/issuesearch/internal/index"
	"github.com/alfredjeanlab/issuesearch/internal/model"
)

// stringIndexer writes string values of an issue to one field.
type stringIndexer struct {
	id    string
	field string
	kind  index.FieldKind
	get   func(*model.Issue) []string
}

func (s *stringIndexer) ID() string { return s.id }

func (s *stringIndexer) Fields() []index.FieldSpec {
	return []index.FieldSpec{{Name: s.field, Kind: s.kind}}
}

func (s *stringIndexer) AddIndex(doc *index.Document, issue *model.Issue) {
	doc.AddString(s.field, s.get(issue)...)
}

func one(f func(*model.Issue) string) func(*model.Issue) []string {
	return func(i *model.Issue) []string { return []string{f(i)} }
}

type timeIndexer struct {
	id    string
	field string
	get   func(*model.Issue) time.Time
}

func (t *timeIndexer) ID() string { return t.id }

func (t *timeIndexer) Fields() []index.FieldSpec {
	return []index.FieldSpec{{Name: t.field, Kind: index.Date}}
}

func (t *timeIndexer) AddIndex(doc *index.Document, issue *model.Issue) {
	doc.AddTime(t.field, t.get(issue))
}

// keyIndexer writes the key, its project and number parts, and the id.
type keyIndexer struct{}

func (keyIndexer) ID() string { return "issuekey" }

func (keyIndexer) Fields() []index.FieldSpec {
	return []index.FieldSpec{
		{Name: index.FieldID, Kind: index.Number},
		{Name: index.FieldKey, Kind: index.Keyword},
		{Name: index.FieldKeyProject, Kind: index.Keyword},
		{Name: index.FieldKeyNumber, Kind: index.Number},
	}
}

func (keyIndexer) AddIndex(doc *index.Document, issue *model.Issue) {
	doc.AddNumber(index.FieldID, float64(issue.ID))
	doc.AddString(index.FieldKey, issue.Key)
	if project, num, ok := model.SplitKey(issue.Key); ok {
		doc.AddString(index.FieldKeyProject, project)
		doc.AddNumber(index.FieldKeyNumber, float64(num))
	}
}

// priorityIndexer writes the priority name and its rank.
type priorityIndexer struct{}

func (priorityIndexer) ID() string { return "priority" }

func (priorityIndexer) Fields() []index.FieldSpec {
	return []index.FieldSpec{
		{Name: index.FieldPriority, Kind: index.Keyword},
		{Name: index.FieldPrioritySeq, Kind: index.Number},
	}
}

func (priorityIndexer) AddIndex(doc *index.Document, issue *model.Issue) {
	if issue.Priority == "" {
		return
	}
	doc.AddString(index.FieldPriority, issue.Priority)
	doc.AddNumber(index.FieldPrioritySeq, float64(issue.PriorityRank))
}

// customFieldIndexer writes a custom field value according to its type.
// Values that do not parse for the type are not indexed.
type customFieldIndexer struct {
	cf model.CustomField
}

func (c *customFieldIndexer) ID() string { return "customfield_" + strconv.FormatInt(c.cf.ID, 10) }

func (c *customFieldIndexer) kind() index.FieldKind {
	switch c.cf.Type {
	case model.CustomFieldNumber:
		return index.Number
	case model.CustomFieldDate:
		return index.Date
	case model.CustomFieldSelect:
		return index.Keyword
	}
	return index.Text
}

func (c *customFieldIndexer) Fields() []index.FieldSpec {
	return []index.FieldSpec{{Name: index.CustomField(c.cf.ID), Kind: c.kind()}}
}

func (c *customFieldIndexer) AddIndex(doc *index.Document, issue *model.Issue) {
	raw := strings.TrimSpace(issue.CustomFields[c.cf.ID])
	if raw == "" {
		return
	}
	field := index.CustomField(c.cf.ID)
	switch c.kind() {
	case index.Number:
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			doc.AddNumber(field, n)
		}
	case index.Date:
		if isRelative(raw) {
			return
		}
		// Stored dates are absolute and read as UTC.
		if d, err := parseDate(raw, time.Time{}); err == nil {
			doc.AddTime(field, d.Time)
		}
	default:
		doc.AddString(field, raw)
	}
}

func isRelative(s string) bool {
	_, err := ParseRelative(s)
	return err == nil
}
