package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/issuesearch/internal/model"
)

func queryCreateProjectCategory(ctx context.Context, db executor, c *model.ProjectCategory) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO project_categories (name, description)
		VALUES ($1, $2)
		RETURNING id`,
		c.Name, c.Description,
	).Scan(&c.ID)
}

func queryListProjectCategories(ctx context.Context, db executor) ([]*model.ProjectCategory, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, description FROM project_categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list project categories: %w", err)
	}
	defer rows.Close()
	return scanAll(rows, func(row scannable) (*model.ProjectCategory, error) {
		var c model.ProjectCategory
		if err := row.Scan(&c.ID, &c.Name, &c.Description); err != nil {
			return nil, err
		}
		return &c, nil
	})
}

// queryCreateProject inserts p. A zero ID lets the database assign one.
func queryCreateProject(ctx context.Context, db executor, p *model.Project) error {
	if p.ID == 0 {
		return db.QueryRowContext(ctx, `
			INSERT INTO projects (key, name, category_id)
			VALUES ($1, $2, $3)
			RETURNING id`,
			p.Key, p.Name, nullInt64Ptr(p.CategoryID),
		).Scan(&p.ID)
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO projects (id, key, name, category_id)
		VALUES ($1, $2, $3, $4)`,
		p.ID, p.Key, p.Name, nullInt64Ptr(p.CategoryID),
	)
	return err
}

func queryListProjects(ctx context.Context, db executor) ([]*model.Project, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, key, name, category_id FROM projects ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	return scanAll(rows, scanProject)
}

func queryListProjectsInCategory(ctx context.Context, db executor, categoryID int64) ([]*model.Project, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, key, name, category_id FROM projects WHERE category_id = $1 ORDER BY key`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("list projects in category %d: %w", categoryID, err)
	}
	defer rows.Close()
	return scanAll(rows, scanProject)
}

func queryCreateIssueType(ctx context.Context, db executor, t *model.IssueType) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO issue_types (id, name, subtask)
		VALUES ($1, $2, $3)`,
		t.ID, t.Name, t.Subtask,
	)
	return err
}

func queryListIssueTypes(ctx context.Context, db executor) ([]*model.IssueType, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, subtask FROM issue_types ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list issue types: %w", err)
	}
	defer rows.Close()
	return scanAll(rows, func(row scannable) (*model.IssueType, error) {
		var t model.IssueType
		if err := row.Scan(&t.ID, &t.Name, &t.Subtask); err != nil {
			return nil, err
		}
		return &t, nil
	})
}

func queryCreateCustomField(ctx context.Context, db executor, cf *model.CustomField) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO custom_fields (name, type)
		VALUES ($1, $2)
		RETURNING id`,
		cf.Name, string(cf.Type),
	).Scan(&cf.ID)
}

func queryListCustomFields(ctx context.Context, db executor) ([]*model.CustomField, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, type FROM custom_fields ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list custom fields: %w", err)
	}
	defer rows.Close()
	return scanAll(rows, func(row scannable) (*model.CustomField, error) {
		var cf model.CustomField
		if err := row.Scan(&cf.ID, &cf.Name, &cf.Type); err != nil {
			return nil, err
		}
		return &cf, nil
	})
}

func queryCreateUser(ctx context.Context, db executor, u *model.User) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (key, name, display_name)
		VALUES ($1, $2, $3)`,
		u.Key, u.Name, u.DisplayName,
	)
	if err != nil {
		return err
	}
	if len(u.Groups) == 0 {
		return nil
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO user_groups (user_key, group_name)
		SELECT $1, unnest($2::text[])
		ON CONFLICT DO NOTHING`,
		u.Key, pq.Array(u.Groups),
	)
	return err
}

func queryGetUser(ctx context.Context, db executor, key string) (*model.User, error) {
	var u model.User
	err := db.QueryRowContext(ctx,
		`SELECT key, name, display_name FROM users WHERE key = $1`, key,
	).Scan(&u.Key, &u.Name, &u.DisplayName)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT group_name FROM user_groups WHERE user_key = $1 ORDER BY group_name`, key)
	if err != nil {
		return nil, fmt.Errorf("load groups of %s: %w", key, err)
	}
	defer rows.Close()
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		u.Groups = append(u.Groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &u, nil
}

func queryGrantBrowse(ctx context.Context, db executor, g model.BrowseGrant) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO browse_grants (project_id, grant_type, param)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`,
		g.ProjectID, string(g.Type), g.Param,
	)
	return err
}

// queryListBrowsableProjects returns the projects granted to anyone, to
// the user or to one of the user's groups. The anonymous user only gets
// the grants to anyone.
func queryListBrowsableProjects(ctx context.Context, db executor, user *model.User) ([]int64, error) {
	var groups []string
	if user != nil {
		groups = user.Groups
	}
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT project_id
		FROM browse_grants
		WHERE grant_type = 'anyone'
		   OR (grant_type = 'user' AND param = $1 AND $1 <> '')
		   OR (grant_type = 'group' AND param = ANY($2))
		ORDER BY project_id`,
		model.UserKey(user), pq.Array(groups),
	)
	if err != nil {
		return nil, fmt.Errorf("list browsable projects: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
