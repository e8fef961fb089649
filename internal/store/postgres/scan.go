package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alfredjeanlab/issuesearch/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanIssue scans a single row into a model.Issue.
// The row must contain columns in the order defined by issueColumns.
func scanIssue(row scannable) (*model.Issue, error) {
	var i model.Issue
	var (
		issueType   sql.NullString
		description sql.NullString
		priority    sql.NullString
		assignee    sql.NullString
		reporter    sql.NullString
		dueAt       sql.NullTime
		fields      []byte
	)

	err := row.Scan(
		&i.ID,
		&i.Key,
		&i.ProjectID,
		&issueType,
		&i.Summary,
		&description,
		&i.Status,
		&priority,
		&i.PriorityRank,
		&assignee,
		&reporter,
		&i.CreatedAt,
		&i.UpdatedAt,
		&dueAt,
		&fields,
	)
	if err != nil {
		return nil, err
	}

	i.IssueTypeID = issueType.String
	i.Description = description.String
	i.Priority = priority.String
	i.Assignee = assignee.String
	i.Reporter = reporter.String

	if dueAt.Valid {
		t := dueAt.Time
		i.DueAt = &t
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &i.CustomFields); err != nil {
			return nil, fmt.Errorf("decode custom fields of %s: %w", i.Key, err)
		}
	}

	return &i, nil
}

// scanIssues scans multiple rows into a slice of model.Issue pointers.
func scanIssues(rows *sql.Rows) ([]*model.Issue, error) {
	var issues []*model.Issue
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return issues, nil
}

// scanComment scans a single row into a model.Comment.
func scanComment(row scannable) (*model.Comment, error) {
	var c model.Comment
	err := row.Scan(&c.ID, &c.IssueID, &c.Author, &c.Body, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// scanChange scans a single row into a model.ChangeItem.
func scanChange(row scannable) (*model.ChangeItem, error) {
	var c model.ChangeItem
	var from, to, author sql.NullString
	err := row.Scan(&c.ID, &c.IssueID, &c.Field, &from, &to, &author, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.From = from.String
	c.To = to.String
	c.Author = author.String
	return &c, nil
}

// scanProject scans a single row into a model.Project.
func scanProject(row scannable) (*model.Project, error) {
	var p model.Project
	var category sql.NullInt64
	if err := row.Scan(&p.ID, &p.Key, &p.Name, &category); err != nil {
		return nil, err
	}
	if category.Valid {
		id := category.Int64
		p.CategoryID = &id
	}
	return &p, nil
}

// scanAll scans every row with scan.
func scanAll[T any](rows *sql.Rows, scan func(scannable) (*T, error)) ([]*T, error) {
	var out []*T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// scanSearchRequest scans a single row into a record. The row must contain
// columns in the order defined by searchRequestColumns; shares are loaded
// separately.
func scanSearchRequest(row scannable) (*model.SearchRequestRecord, error) {
	var r model.SearchRequestRecord
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.OwnerKey, &r.Query, &r.FavouriteCount, &r.UseColumns)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// scanSearchRequestWithTotal scans a row that has a leading total_count
// column followed by the search request columns.
func scanSearchRequestWithTotal(row scannable) (*model.SearchRequestRecord, int, error) {
	var total int
	var r model.SearchRequestRecord
	err := row.Scan(&total, &r.ID, &r.Name, &r.Description, &r.OwnerKey, &r.Query, &r.FavouriteCount, &r.UseColumns)
	if err != nil {
		return nil, 0, err
	}
	return &r, total, nil
}

// nullTimePtr converts a *time.Time to a sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullString converts a string to sql.NullString; empty string is null.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullInt64Ptr converts a *int64 to a sql.NullInt64.
func nullInt64Ptr(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// customFieldsJSON encodes custom field values for the JSONB column; no
// values is null.
func customFieldsJSON(fields map[int64]string) ([]byte, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	return json.Marshal(fields)
}
