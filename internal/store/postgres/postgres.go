// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/issuesearch/internal/model"
	"github.com/alfredjeanlab/issuesearch/internal/paging"
	"github.com/alfredjeanlab/issuesearch/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewWithDB wraps an open database without running migrations.
func NewWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) UpsertIssue(ctx context.Context, issue *model.Issue) error {
	return queryUpsertIssue(ctx, s.db, issue)
}

func (s *PostgresStore) GetIssue(ctx context.Context, id int64) (*model.Issue, error) {
	return queryGetIssue(ctx, s.db, id)
}

func (s *PostgresStore) ListIssues(ctx context.Context, afterID int64, limit int) ([]*model.Issue, error) {
	return queryListIssues(ctx, s.db, afterID, limit)
}

func (s *PostgresStore) DeleteIssue(ctx context.Context, id int64) error {
	return queryDeleteIssue(ctx, s.db, id)
}

func (s *PostgresStore) AddComment(ctx context.Context, comment *model.Comment) error {
	return queryAddComment(ctx, s.db, comment)
}

func (s *PostgresStore) RecordChange(ctx context.Context, change *model.ChangeItem) error {
	return queryRecordChange(ctx, s.db, change)
}

func (s *PostgresStore) CreateProjectCategory(ctx context.Context, c *model.ProjectCategory) error {
	return queryCreateProjectCategory(ctx, s.db, c)
}

func (s *PostgresStore) ListProjectCategories(ctx context.Context) ([]*model.ProjectCategory, error) {
	return queryListProjectCategories(ctx, s.db)
}

func (s *PostgresStore) CreateProject(ctx context.Context, p *model.Project) error {
	return queryCreateProject(ctx, s.db, p)
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]*model.Project, error) {
	return queryListProjects(ctx, s.db)
}

func (s *PostgresStore) ListProjectsInCategory(ctx context.Context, categoryID int64) ([]*model.Project, error) {
	return queryListProjectsInCategory(ctx, s.db, categoryID)
}

func (s *PostgresStore) CreateIssueType(ctx context.Context, t *model.IssueType) error {
	return queryCreateIssueType(ctx, s.db, t)
}

func (s *PostgresStore) ListIssueTypes(ctx context.Context) ([]*model.IssueType, error) {
	return queryListIssueTypes(ctx, s.db)
}

func (s *PostgresStore) CreateCustomField(ctx context.Context, cf *model.CustomField) error {
	return queryCreateCustomField(ctx, s.db, cf)
}

func (s *PostgresStore) ListCustomFields(ctx context.Context) ([]*model.CustomField, error) {
	return queryListCustomFields(ctx, s.db)
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	return queryCreateUser(ctx, s.db, u)
}

func (s *PostgresStore) GetUser(ctx context.Context, key string) (*model.User, error) {
	return queryGetUser(ctx, s.db, key)
}

func (s *PostgresStore) GrantBrowse(ctx context.Context, grant model.BrowseGrant) error {
	return queryGrantBrowse(ctx, s.db, grant)
}

func (s *PostgresStore) ListBrowsableProjects(ctx context.Context, user *model.User) ([]int64, error) {
	return queryListBrowsableProjects(ctx, s.db, user)
}

func (s *PostgresStore) CreateSearchRequest(ctx context.Context, rec *model.SearchRequestRecord) error {
	return queryCreateSearchRequest(ctx, s.db, rec)
}

func (s *PostgresStore) GetSearchRequest(ctx context.Context, id int64) (*model.SearchRequestRecord, error) {
	return queryGetSearchRequest(ctx, s.db, id)
}

func (s *PostgresStore) GetSearchRequestByName(ctx context.Context, ownerKey, name string) (*model.SearchRequestRecord, error) {
	return queryGetSearchRequestByName(ctx, s.db, ownerKey, name)
}

func (s *PostgresStore) UpdateSearchRequest(ctx context.Context, rec *model.SearchRequestRecord) error {
	return queryUpdateSearchRequest(ctx, s.db, rec)
}

func (s *PostgresStore) DeleteSearchRequest(ctx context.Context, id int64) error {
	return queryDeleteSearchRequest(ctx, s.db, id)
}

func (s *PostgresStore) ListSearchRequestsByOwner(ctx context.Context, ownerKey string) ([]*model.SearchRequestRecord, error) {
	return queryListSearchRequestsByOwner(ctx, s.db, ownerKey)
}

func (s *PostgresStore) ListAllSearchRequests(ctx context.Context) ([]*model.SearchRequestRecord, error) {
	return queryListAllSearchRequests(ctx, s.db)
}

func (s *PostgresStore) SearchSearchRequests(ctx context.Context, params model.SharedSearchParams, viewer store.Viewer, pager paging.PagerFilter) ([]*model.SearchRequestRecord, int, error) {
	return querySearchSearchRequests(ctx, s.db, params, viewer, pager)
}

func (s *PostgresStore) AddFavourite(ctx context.Context, userKey string, searchRequestID int64) (bool, error) {
	return queryAddFavourite(ctx, s.db, userKey, searchRequestID)
}

func (s *PostgresStore) RemoveFavourite(ctx context.Context, userKey string, searchRequestID int64) (bool, error) {
	return queryRemoveFavourite(ctx, s.db, userKey, searchRequestID)
}

func (s *PostgresStore) IsFavourite(ctx context.Context, userKey string, searchRequestID int64) (bool, error) {
	return queryIsFavourite(ctx, s.db, userKey, searchRequestID)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) UpsertIssue(ctx context.Context, issue *model.Issue) error {
	return queryUpsertIssue(ctx, s.tx, issue)
}

func (s *txStore) GetIssue(ctx context.Context, id int64) (*model.Issue, error) {
	return queryGetIssue(ctx, s.tx, id)
}

func (s *txStore) ListIssues(ctx context.Context, afterID int64, limit int) ([]*model.Issue, error) {
	return queryListIssues(ctx, s.tx, afterID, limit)
}

func (s *txStore) DeleteIssue(ctx context.Context, id int64) error {
	return queryDeleteIssue(ctx, s.tx, id)
}

func (s *txStore) AddComment(ctx context.Context, comment *model.Comment) error {
	return queryAddComment(ctx, s.tx, comment)
}

func (s *txStore) RecordChange(ctx context.Context, change *model.ChangeItem) error {
	return queryRecordChange(ctx, s.tx, change)
}

func (s *txStore) CreateProjectCategory(ctx context.Context, c *model.ProjectCategory) error {
	return queryCreateProjectCategory(ctx, s.tx, c)
}

func (s *txStore) ListProjectCategories(ctx context.Context) ([]*model.ProjectCategory, error) {
	return queryListProjectCategories(ctx, s.tx)
}

func (s *txStore) CreateProject(ctx context.Context, p *model.Project) error {
	return queryCreateProject(ctx, s.tx, p)
}

func (s *txStore) ListProjects(ctx context.Context) ([]*model.Project, error) {
	return queryListProjects(ctx, s.tx)
}

func (s *txStore) ListProjectsInCategory(ctx context.Context, categoryID int64) ([]*model.Project, error) {
	return queryListProjectsInCategory(ctx, s.tx, categoryID)
}

func (s *txStore) CreateIssueType(ctx context.Context, t *model.IssueType) error {
	return queryCreateIssueType(ctx, s.tx, t)
}

func (s *txStore) ListIssueTypes(ctx context.Context) ([]*model.IssueType, error) {
	return queryListIssueTypes(ctx, s.tx)
}

func (s *txStore) CreateCustomField(ctx context.Context, cf *model.CustomField) error {
	return queryCreateCustomField(ctx, s.tx, cf)
}

func (s *txStore) ListCustomFields(ctx context.Context) ([]*model.CustomField, error) {
	return queryListCustomFields(ctx, s.tx)
}

func (s *txStore) CreateUser(ctx context.Context, u *model.User) error {
	return queryCreateUser(ctx, s.tx, u)
}

func (s *txStore) GetUser(ctx context.Context, key string) (*model.User, error) {
	return queryGetUser(ctx, s.tx, key)
}

func (s *txStore) GrantBrowse(ctx context.Context, grant model.BrowseGrant) error {
	return queryGrantBrowse(ctx, s.tx, grant)
}

func (s *txStore) ListBrowsableProjects(ctx context.Context, user *model.User) ([]int64, error) {
	return queryListBrowsableProjects(ctx, s.tx, user)
}

func (s *txStore) CreateSearchRequest(ctx context.Context, rec *model.SearchRequestRecord) error {
	return queryCreateSearchRequest(ctx, s.tx, rec)
}

func (s *txStore) GetSearchRequest(ctx context.Context, id int64) (*model.SearchRequestRecord, error) {
	return queryGetSearchRequest(ctx, s.tx, id)
}

func (s *txStore) GetSearchRequestByName(ctx context.Context, ownerKey, name string) (*model.SearchRequestRecord, error) {
	return queryGetSearchRequestByName(ctx, s.tx, ownerKey, name)
}

func (s *txStore) UpdateSearchRequest(ctx context.Context, rec *model.SearchRequestRecord) error {
	return queryUpdateSearchRequest(ctx, s.tx, rec)
}

func (s *txStore) DeleteSearchRequest(ctx context.Context, id int64) error {
	return queryDeleteSearchRequest(ctx, s.tx, id)
}

func (s *txStore) ListSearchRequestsByOwner(ctx context.Context, ownerKey string) ([]*model.SearchRequestRecord, error) {
	return queryListSearchRequestsByOwner(ctx, s.tx, ownerKey)
}

func (s *txStore) ListAllSearchRequests(ctx context.Context) ([]*model.SearchRequestRecord, error) {
	return queryListAllSearchRequests(ctx, s.tx)
}

func (s *txStore) SearchSearchRequests(ctx context.Context, params model.SharedSearchParams, viewer store.Viewer, pager paging.PagerFilter) ([]*model.SearchRequestRecord, int, error) {
	return querySearchSearchRequests(ctx, s.tx, params, viewer, pager)
}

func (s *txStore) AddFavourite(ctx context.Context, userKey string, searchRequestID int64) (bool, error) {
	return queryAddFavourite(ctx, s.tx, userKey, searchRequestID)
}

func (s *txStore) RemoveFavourite(ctx context.Context, userKey string, searchRequestID int64) (bool, error) {
	return queryRemoveFavourite(ctx, s.tx, userKey, searchRequestID)
}

func (s *txStore) IsFavourite(ctx context.Context, userKey string, searchRequestID int64) (bool, error) {
	return queryIsFavourite(ctx, s.tx, userKey, searchRequestID)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
