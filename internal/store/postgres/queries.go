package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/issuesearch/internal/model"
)

// issueColumns is the column list used for SELECT statements on the issues table.
const issueColumns = `id, key, project_id, issue_type_id, summary, description,
	status, priority, priority_rank, assignee, reporter, created_at, updated_at,
	due_at, custom_fields`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queryUpsertIssue inserts the issue or replaces every column of an
// existing one, then replaces its labels.
func queryUpsertIssue(ctx context.Context, db executor, i *model.Issue) error {
	fields, err := customFieldsJSON(i.CustomFields)
	if err != nil {
		return fmt.Errorf("encode custom fields: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO issues (
			id, key, project_id, issue_type_id, summary, description,
			status, priority, priority_rank, assignee, reporter, created_at, updated_at,
			due_at, custom_fields
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12, $13,
			$14, $15
		)
		ON CONFLICT (id) DO UPDATE SET
			key = EXCLUDED.key,
			project_id = EXCLUDED.project_id,
			issue_type_id = EXCLUDED.issue_type_id,
			summary = EXCLUDED.summary,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			priority = EXCLUDED.priority,
			priority_rank = EXCLUDED.priority_rank,
			assignee = EXCLUDED.assignee,
			reporter = EXCLUDED.reporter,
			updated_at = EXCLUDED.updated_at,
			due_at = EXCLUDED.due_at,
			custom_fields = EXCLUDED.custom_fields`,
		i.ID,
		i.Key,
		i.ProjectID,
		nullString(i.IssueTypeID),
		i.Summary,
		nullString(i.Description),
		i.Status,
		nullString(i.Priority),
		i.PriorityRank,
		nullString(i.Assignee),
		nullString(i.Reporter),
		i.CreatedAt,
		i.UpdatedAt,
		nullTimePtr(i.DueAt),
		fields,
	)
	if err != nil {
		return fmt.Errorf("upsert issue %s: %w", i.Key, err)
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM issue_labels WHERE issue_id = $1`, i.ID); err != nil {
		return fmt.Errorf("clear labels of %s: %w", i.Key, err)
	}
	if len(i.Labels) > 0 {
		_, err := db.ExecContext(ctx, `
			INSERT INTO issue_labels (issue_id, label)
			SELECT $1, unnest($2::text[])
			ON CONFLICT DO NOTHING`,
			i.ID, pq.Array(i.Labels),
		)
		if err != nil {
			return fmt.Errorf("set labels of %s: %w", i.Key, err)
		}
	}
	return nil
}

func queryGetIssue(ctx context.Context, db executor, id int64) (*model.Issue, error) {
	row := db.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = $1`, id)
	i, err := scanIssue(row)
	if err != nil {
		return nil, err
	}
	if err := loadRelated(ctx, db, []*model.Issue{i}); err != nil {
		return nil, err
	}
	return i, nil
}

// queryListIssues returns up to limit issues with an id above afterID,
// in id order, with their labels, comments and history.
func queryListIssues(ctx context.Context, db executor, afterID int64, limit int) ([]*model.Issue, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE id > $1 ORDER BY id LIMIT $2`,
		afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close()

	issues, err := scanIssues(rows)
	if err != nil {
		return nil, fmt.Errorf("scan issues: %w", err)
	}
	if err := loadRelated(ctx, db, issues); err != nil {
		return nil, err
	}
	return issues, nil
}

// loadRelated fills labels, comments and change history with one query
// per table.
func loadRelated(ctx context.Context, db executor, issues []*model.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	ids := make([]int64, len(issues))
	byID := make(map[int64]*model.Issue, len(issues))
	for n, i := range issues {
		ids[n] = i.ID
		byID[i.ID] = i
	}

	rows, err := db.QueryContext(ctx,
		`SELECT issue_id, label FROM issue_labels WHERE issue_id = ANY($1) ORDER BY issue_id, label`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load labels: %w", err)
	}
	for rows.Next() {
		var id int64
		var label string
		if err := rows.Scan(&id, &label); err != nil {
			rows.Close()
			return fmt.Errorf("scan label: %w", err)
		}
		byID[id].Labels = append(byID[id].Labels, label)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load labels: %w", err)
	}

	rows, err = db.QueryContext(ctx,
		`SELECT id, issue_id, author, body, created_at FROM comments WHERE issue_id = ANY($1) ORDER BY created_at, id`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load comments: %w", err)
	}
	comments, err := scanAll(rows, scanComment)
	rows.Close()
	if err != nil {
		return fmt.Errorf("scan comments: %w", err)
	}
	for _, c := range comments {
		byID[c.IssueID].Comments = append(byID[c.IssueID].Comments, c)
	}

	rows, err = db.QueryContext(ctx,
		`SELECT id, issue_id, field, from_value, to_value, author, created_at FROM change_items WHERE issue_id = ANY($1) ORDER BY created_at, id`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	changes, err := scanAll(rows, scanChange)
	rows.Close()
	if err != nil {
		return fmt.Errorf("scan history: %w", err)
	}
	for _, c := range changes {
		byID[c.IssueID].Changes = append(byID[c.IssueID].Changes, c)
	}
	return nil
}

func queryDeleteIssue(ctx context.Context, db executor, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM issues WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func queryAddComment(ctx context.Context, db executor, c *model.Comment) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO comments (issue_id, author, body, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		c.IssueID,
		c.Author,
		c.Body,
		c.CreatedAt,
	).Scan(&c.ID)
}

func queryRecordChange(ctx context.Context, db executor, c *model.ChangeItem) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO change_items (issue_id, field, from_value, to_value, author, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		c.IssueID,
		c.Field,
		nullString(c.From),
		nullString(c.To),
		nullString(c.Author),
		c.CreatedAt,
	).Scan(&c.ID)
}
