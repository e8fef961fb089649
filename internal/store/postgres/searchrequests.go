package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/issuesearch/internal/model"
	"github.com/alfredjeanlab/issuesearch/internal/paging"
	"github.com/alfredjeanlab/issuesearch/internal/store"
)

// searchRequestColumns is the column list used for SELECT statements on the
// search_requests table.
const searchRequestColumns = `sr.id, sr.name, sr.description, sr.owner_key, sr.query,
	sr.favourite_count, sr.use_columns`

func queryCreateSearchRequest(ctx context.Context, db executor, r *model.SearchRequestRecord) error {
	err := db.QueryRowContext(ctx, `
		INSERT INTO search_requests (name, description, owner_key, query, favourite_count, use_columns)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		r.Name,
		r.Description,
		r.OwnerKey,
		r.Query,
		r.FavouriteCount,
		r.UseColumns,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("create search request %q: %w", r.Name, err)
	}
	return replaceShares(ctx, db, r.ID, r.Permissions)
}

func queryGetSearchRequest(ctx context.Context, db executor, id int64) (*model.SearchRequestRecord, error) {
	row := db.QueryRowContext(ctx, `SELECT `+searchRequestColumns+` FROM search_requests sr WHERE sr.id = $1`, id)
	r, err := scanSearchRequest(row)
	if err != nil {
		return nil, err
	}
	if err := loadShares(ctx, db, []*model.SearchRequestRecord{r}); err != nil {
		return nil, err
	}
	return r, nil
}

func queryGetSearchRequestByName(ctx context.Context, db executor, ownerKey, name string) (*model.SearchRequestRecord, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+searchRequestColumns+` FROM search_requests sr WHERE sr.owner_key = $1 AND sr.name = $2`,
		ownerKey, name)
	r, err := scanSearchRequest(row)
	if err != nil {
		return nil, err
	}
	if err := loadShares(ctx, db, []*model.SearchRequestRecord{r}); err != nil {
		return nil, err
	}
	return r, nil
}

func queryUpdateSearchRequest(ctx context.Context, db executor, r *model.SearchRequestRecord) error {
	res, err := db.ExecContext(ctx, `
		UPDATE search_requests SET
			name = $2,
			description = $3,
			owner_key = $4,
			query = $5,
			favourite_count = $6,
			use_columns = $7,
			updated_at = NOW()
		WHERE id = $1`,
		r.ID,
		r.Name,
		r.Description,
		r.OwnerKey,
		r.Query,
		r.FavouriteCount,
		r.UseColumns,
	)
	if err != nil {
		return fmt.Errorf("update search request %d: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return replaceShares(ctx, db, r.ID, r.Permissions)
}

func queryDeleteSearchRequest(ctx context.Context, db executor, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM search_requests WHERE id = $1`, id)
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

func queryListSearchRequestsByOwner(ctx context.Context, db executor, ownerKey string) ([]*model.SearchRequestRecord, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+searchRequestColumns+` FROM search_requests sr WHERE sr.owner_key = $1 ORDER BY lower(sr.name), sr.id`,
		ownerKey)
	if err != nil {
		return nil, fmt.Errorf("list search requests of %s: %w", ownerKey, err)
	}
	defer rows.Close()
	recs, err := scanAll(rows, scanSearchRequest)
	if err != nil {
		return nil, fmt.Errorf("scan search requests: %w", err)
	}
	return recs, loadShares(ctx, db, recs)
}

func queryListAllSearchRequests(ctx context.Context, db executor) ([]*model.SearchRequestRecord, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+searchRequestColumns+` FROM search_requests sr ORDER BY sr.id`)
	if err != nil {
		return nil, fmt.Errorf("list search requests: %w", err)
	}
	defer rows.Close()
	recs, err := scanAll(rows, scanSearchRequest)
	if err != nil {
		return nil, fmt.Errorf("scan search requests: %w", err)
	}
	return recs, loadShares(ctx, db, recs)
}

// querySearchSearchRequests returns one page of the saved searches viewer
// can see that match params, with the total match count.
func querySearchSearchRequests(ctx context.Context, db executor, params model.SharedSearchParams, viewer store.Viewer, pager paging.PagerFilter) ([]*model.SearchRequestRecord, int, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)

	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	projects := make([]string, len(viewer.ProjectIDs))
	for i, id := range viewer.ProjectIDs {
		projects[i] = strconv.FormatInt(id, 10)
	}
	owner, groups, projectParams := nextArg(), nextArg(), nextArg()
	args = append(args, viewer.UserKey, pq.Array(viewer.Groups), pq.Array(projects))
	whereClauses = append(whereClauses, fmt.Sprintf(`(sr.owner_key = %[1]s OR EXISTS (
		SELECT 1 FROM search_request_shares s WHERE s.search_request_id = sr.id AND (
			s.share_type = 'global'
			OR (s.share_type = 'user' AND s.param = %[1]s)
			OR (s.share_type = 'group' AND s.param = ANY(%[2]s))
			OR (s.share_type = 'project' AND s.param = ANY(%[3]s)))))`, owner, groups, projectParams))

	if params.Text != "" {
		p := nextArg()
		whereClauses = append(whereClauses,
			fmt.Sprintf("(sr.name ILIKE '%%' || %s || '%%' OR sr.description ILIKE '%%' || %s || '%%')", p, p))
		args = append(args, params.Text)
	}

	if params.OwnerKey != "" {
		whereClauses = append(whereClauses, "sr.owner_key = "+nextArg())
		args = append(args, params.OwnerKey)
	}

	if params.Share != nil {
		tp, pp := nextArg(), nextArg()
		whereClauses = append(whereClauses, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM search_request_shares s WHERE s.search_request_id = sr.id AND s.share_type = %s AND s.param = %s)", tp, pp))
		args = append(args, string(params.Share.Type), params.Share.Param)
	}

	// Single query with COUNT(*) OVER() to get total and rows atomically.
	dataQuery := "SELECT COUNT(*) OVER() AS total_count, " + searchRequestColumns +
		" FROM search_requests sr WHERE " + strings.Join(whereClauses, " AND ") +
		" ORDER BY " + searchSortClause(params.SortBy, params.Descending)

	if pager.Max > 0 && pager.Max < paging.Unlimited {
		dataQuery += " LIMIT " + nextArg()
		args = append(args, pager.Max)
	}
	if pager.Start > 0 {
		dataQuery += " OFFSET " + nextArg()
		args = append(args, pager.Start)
	}

	rows, err := db.QueryContext(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search search requests: %w", err)
	}
	defer rows.Close()

	var recs []*model.SearchRequestRecord
	var total int
	for rows.Next() {
		r, t, err := scanSearchRequestWithTotal(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan search requests: %w", err)
		}
		total = t
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan search requests: %w", err)
	}
	if err := loadShares(ctx, db, recs); err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}

// searchSortClause maps a listing order to SQL. The id breaks ties so that
// pages do not overlap.
func searchSortClause(by model.SearchSortField, desc bool) string {
	dir := " ASC"
	if desc {
		dir = " DESC"
	}
	switch by {
	case model.SortByOwner:
		return "sr.owner_key" + dir + ", lower(sr.name) ASC, sr.id ASC"
	case model.SortByFavourites:
		return "sr.favourite_count" + dir + ", lower(sr.name) ASC, sr.id ASC"
	}
	return "lower(sr.name)" + dir + ", sr.id ASC"
}

func replaceShares(ctx context.Context, db executor, id int64, shares model.SharePermissions) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM search_request_shares WHERE search_request_id = $1`, id); err != nil {
		return fmt.Errorf("clear shares of %d: %w", id, err)
	}
	for _, s := range shares {
		_, err := db.ExecContext(ctx, `
			INSERT INTO search_request_shares (search_request_id, share_type, param)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`,
			id, string(s.Type), s.Param,
		)
		if err != nil {
			return fmt.Errorf("share %d with %s: %w", id, s, err)
		}
	}
	return nil
}

func loadShares(ctx context.Context, db executor, recs []*model.SearchRequestRecord) error {
	if len(recs) == 0 {
		return nil
	}
	ids := make([]int64, len(recs))
	byID := make(map[int64]*model.SearchRequestRecord, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
		byID[r.ID] = r
	}
	rows, err := db.QueryContext(ctx, `
		SELECT search_request_id, share_type, param
		FROM search_request_shares
		WHERE search_request_id = ANY($1)
		ORDER BY search_request_id, share_type, param`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("load shares: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var p model.SharePermission
		if err := rows.Scan(&id, &p.Type, &p.Param); err != nil {
			return fmt.Errorf("scan share: %w", err)
		}
		byID[id].Permissions = append(byID[id].Permissions, p)
	}
	return rows.Err()
}

// queryAddFavourite records the favourite and bumps the count. It reports
// false if the user already had it.
func queryAddFavourite(ctx context.Context, db executor, userKey string, id int64) (bool, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO favourites (user_key, search_request_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		userKey, id,
	)
	if err != nil {
		return false, fmt.Errorf("add favourite: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	_, err = db.ExecContext(ctx,
		`UPDATE search_requests SET favourite_count = favourite_count + 1 WHERE id = $1`, id)
	return err == nil, err
}

// queryRemoveFavourite drops the favourite and lowers the count. It
// reports false if the user did not have it.
func queryRemoveFavourite(ctx context.Context, db executor, userKey string, id int64) (bool, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM favourites WHERE user_key = $1 AND search_request_id = $2`, userKey, id)
	if err != nil {
		return false, fmt.Errorf("remove favourite: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	_, err = db.ExecContext(ctx,
		`UPDATE search_requests SET favourite_count = GREATEST(favourite_count - 1, 0) WHERE id = $1`, id)
	return err == nil, err
}

func queryIsFavourite(ctx context.Context, db executor, userKey string, id int64) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM favourites WHERE user_key = $1 AND search_request_id = $2)`,
		userKey, id,
	).Scan(&exists)
	return exists, err
}
